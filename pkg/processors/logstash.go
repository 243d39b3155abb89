package processors

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"github.com/kyoushi/dataset/pkg/config"
	"github.com/kyoushi/dataset/pkg/datastore"
)

// LogstashSetupProcessor writes the full parser configuration: the main
// settings, the pipeline definition, input and output configs and the index
// templates the output stage installs. Unless a static parser configuration
// is shipped with the dataset this processor must run during pre-processing.
type LogstashSetupProcessor struct {
	Base `yaml:",inline"`

	InputConfigName  string `yaml:"input_config_name"`
	InputTemplate    string `yaml:"input_template"`
	OutputConfigName string `yaml:"output_config_name"`
	OutputTemplate   string `yaml:"output_template"`

	// PreProcessName is prefixed with 0000_ so its filters run first.
	PreProcessName     string `yaml:"pre_process_name"`
	PreProcessTemplate string `yaml:"pre_process_template"`

	LogstashTemplate  string `yaml:"logstash_template"`
	PipelinesTemplate string `yaml:"pipelines_template"`

	IndexTemplateTemplate string `yaml:"index_template_template"`

	// Servers maps server names to their log source configurations.
	Servers map[string]interface{} `yaml:"servers"`
}

func parseLogstashSetup(raw map[string]interface{}) (Processor, error) {
	p := LogstashSetupProcessor{
		InputConfigName:       "input.conf",
		InputTemplate:         "input.conf.tmpl",
		OutputConfigName:      "output.conf",
		OutputTemplate:        "output.conf.tmpl",
		PreProcessName:        "0000_pre_process.conf",
		PreProcessTemplate:    "pre_process.conf.tmpl",
		LogstashTemplate:      "logstash.yml.tmpl",
		PipelinesTemplate:     "pipelines.yml.tmpl",
		IndexTemplateTemplate: "ecs-template.json.tmpl",
	}
	if err := decodeProcessor(raw, &p); err != nil {
		return nil, err
	}
	if len(p.Servers) == 0 {
		return nil, fmt.Errorf("logstash setup needs a servers configuration")
	}
	if err := p.validateServers(); err != nil {
		return nil, err
	}
	return &p, nil
}

// validateServers checks every server has a parseable logs list and fills
// the default timezone.
func (p *LogstashSetupProcessor) validateServers() error {
	for name, raw := range p.Servers {
		server, ok := datastore.NormalizeMap(raw)
		if !ok {
			return fmt.Errorf("server %s must be an object", name)
		}
		logsRaw, ok := server["logs"]
		if !ok {
			return fmt.Errorf("server %s must have a logs configuration", name)
		}
		data, err := yaml.Marshal(logsRaw)
		if err != nil {
			return err
		}
		var logs []config.LogstashLog
		if err := yaml.Unmarshal(data, &logs); err != nil {
			return fmt.Errorf("server %s: %w", name, err)
		}
		if _, ok := server["timezone"]; !ok {
			server["timezone"] = "UTC"
		}
		p.Servers[name] = server
	}
	return nil
}

func (p *LogstashSetupProcessor) Execute(ctx context.Context, params *Params) error {
	vars, err := p.Context.Load()
	if err != nil {
		return err
	}
	merged := make(map[string]interface{}, len(vars)+len(params.Vars)+4)
	for k, v := range params.Vars {
		merged[k] = v
	}
	for k, v := range vars {
		merged[k] = v
	}
	merged["DATASET_DIR"] = params.DatasetDir
	merged["DATASET"] = params.Dataset
	merged["PARSER"] = params.Parser
	merged["servers"] = p.Servers

	parser := params.Parser
	for _, dir := range []string{
		parser.SettingsDir,
		parser.ConfDir,
		parser.DataDir,
		parser.LogDir,
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	outputs := []struct {
		template string
		dest     string
	}{
		{p.LogstashTemplate, filepath.Join(parser.SettingsDir, "logstash.yml")},
		{p.PipelinesTemplate, filepath.Join(parser.SettingsDir, "pipelines.yml")},
		{p.IndexTemplateTemplate, filepath.Join(parser.SettingsDir, params.Dataset.Name+"-index-template.json")},
		{p.InputTemplate, filepath.Join(parser.ConfDir, p.InputConfigName)},
		{p.OutputTemplate, filepath.Join(parser.ConfDir, p.OutputConfigName)},
		{p.PreProcessTemplate, filepath.Join(parser.ConfDir, p.PreProcessName)},
	}
	for _, out := range outputs {
		if err := renderTemplateFile(out.template, out.dest, merged); err != nil {
			return err
		}
	}
	return nil
}
