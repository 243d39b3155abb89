// Package processors implements the pre and post processing pipeline. A
// processing step is a declarative config block identified by a type string,
// rendered against a variable context and executed against the dataset
// directory, the parser configuration and the document store.
package processors

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/kyoushi/dataset/pkg/config"
	"github.com/kyoushi/dataset/pkg/datastore"
	"github.com/kyoushi/dataset/pkg/templates"
)

// Params carries the shared execution state every processor needs.
type Params struct {
	// DatasetDir is the dataset base directory
	DatasetDir string
	// Dataset is the dataset configuration
	Dataset config.Dataset
	// Parser is the log parser configuration
	Parser config.LogstashParser
	// Store is the document store
	Store datastore.Store
	// Vars are extra template variables available to every processor,
	// e.g. the store connection settings
	Vars map[string]interface{}
}

// Processor is a single executable processing step.
type Processor interface {
	Name() string
	Type() string
	Execute(ctx context.Context, p *Params) error
}

// Container is a processor that expands into further processor definitions
// instead of executing itself.
type Container interface {
	Processor
	Processors() ([]map[string]interface{}, error)
}

// Base holds the fields shared by all processor types.
type Base struct {
	ProcessorName string         `yaml:"name"`
	ProcessorType string         `yaml:"type"`
	Context       config.Context `yaml:"context"`
}

func (b *Base) Name() string { return b.ProcessorName }
func (b *Base) Type() string { return b.ProcessorType }

// ParseFunc decodes a rendered processor definition into an executable
// Processor.
type ParseFunc func(raw map[string]interface{}) (Processor, error)

var processorTypes = map[string]ParseFunc{
	"print":                            parsePrint,
	"mkdir":                            parseMkdir,
	"template":                         parseTemplate,
	"foreach":                          parseForEach,
	"gzip":                             parseGzip,
	"logstash.setup":                   parseLogstashSetup,
	"elasticsearch.template":           parseIndexTemplate,
	"elasticsearch.component_template": parseComponentTemplate,
	"elasticsearch.ingest":             parseIngest,
	"dataset.trim":                     parseTrim,
}

// RegisterProcessorType adds a custom processor type, overriding any builtin
// of the same name.
func RegisterProcessorType(typ string, fn ParseFunc) {
	processorTypes[typ] = fn
}

// renderExclude lists config keys that must not be template rendered per
// processor type. Container bodies are rendered later, per expanded item.
var renderExclude = map[string][]string{
	"foreach": {"processor"},
}

func decodeProcessor(raw map[string]interface{}, dest interface{}) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, dest)
}

// Pipeline parses and executes an ordered list of processor definitions.
type Pipeline struct{}

// render resolves all template strings of a processor definition against its
// variable context plus the pipeline-wide variables.
func (pl Pipeline) render(raw map[string]interface{}, p *Params) (map[string]interface{}, error) {
	var pctx config.Context
	if ctxRaw, ok := raw["context"]; ok && ctxRaw != nil {
		data, err := yaml.Marshal(ctxRaw)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &pctx); err != nil {
			return nil, err
		}
	}
	vars, err := pctx.Load()
	if err != nil {
		return nil, err
	}
	merged := make(map[string]interface{}, len(vars)+len(p.Vars)+3)
	for k, v := range p.Vars {
		merged[k] = v
	}
	for k, v := range vars {
		merged[k] = v
	}
	merged["DATASET_DIR"] = p.DatasetDir
	merged["DATASET"] = p.Dataset
	merged["PARSER"] = p.Parser

	typ, _ := raw["type"].(string)
	exclude := make(map[string]bool)
	for _, key := range renderExclude[typ] {
		exclude[key] = true
	}

	rendered := make(map[string]interface{}, len(raw))
	for key, val := range raw {
		if exclude[key] {
			rendered[key] = val
			continue
		}
		out, err := templates.RenderAny(val, merged)
		if err != nil {
			return nil, err
		}
		rendered[key] = out
	}
	return rendered, nil
}

func (pl Pipeline) parse(raw map[string]interface{}, p *Params) (Processor, error) {
	name, _ := raw["name"].(string)
	typ, _ := raw["type"].(string)
	if name == "" || typ == "" {
		return nil, fmt.Errorf("processors need both a name and a type, got name=%q type=%q", name, typ)
	}
	parse, ok := processorTypes[typ]
	if !ok {
		return nil, fmt.Errorf("unknown processor type %q", typ)
	}
	rendered, err := pl.render(raw, p)
	if err != nil {
		return nil, fmt.Errorf("processor %q: %w", name, err)
	}
	proc, err := parse(rendered)
	if err != nil {
		return nil, fmt.Errorf("processor %q: %w", name, err)
	}
	return proc, nil
}

// Execute runs all processor definitions in order, expanding containers
// recursively. The first failing processor aborts the pipeline.
func (pl Pipeline) Execute(ctx context.Context, defs []map[string]interface{}, p *Params) error {
	for _, raw := range defs {
		proc, err := pl.parse(raw, p)
		if err != nil {
			return err
		}
		if container, ok := proc.(Container); ok {
			logrus.WithField("processor", proc.Name()).Info("Expanding processor container ...")
			expanded, err := container.Processors()
			if err != nil {
				return fmt.Errorf("processor %q: %w", proc.Name(), err)
			}
			if err := pl.Execute(ctx, expanded, p); err != nil {
				return err
			}
			continue
		}
		logrus.WithField("processor", proc.Name()).Info("Executing ...")
		if err := proc.Execute(ctx, p); err != nil {
			return fmt.Errorf("processor %q: %w", proc.Name(), err)
		}
	}
	return nil
}
