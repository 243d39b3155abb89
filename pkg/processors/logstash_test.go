package processors

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kyoushi/dataset/pkg/config"
	"github.com/kyoushi/dataset/pkg/datastore"
)

func logstashSetupDef(templateDir string) map[string]interface{} {
	return map[string]interface{}{
		"name":                    "setup logstash",
		"type":                    "logstash.setup",
		"input_template":          filepath.Join(templateDir, "input.conf.tmpl"),
		"output_template":         filepath.Join(templateDir, "output.conf.tmpl"),
		"pre_process_template":    filepath.Join(templateDir, "pre_process.conf.tmpl"),
		"logstash_template":       filepath.Join(templateDir, "logstash.yml.tmpl"),
		"pipelines_template":      filepath.Join(templateDir, "pipelines.yml.tmpl"),
		"index_template_template": filepath.Join(templateDir, "ecs-template.json.tmpl"),
		"servers": map[string]interface{}{
			"intranet": map[string]interface{}{
				"logs": []interface{}{
					map[string]interface{}{
						"name": "auth",
						"path": []interface{}{"gather/intranet/logs/auth.log"},
					},
				},
			},
		},
	}
}

func TestLogstashSetupValidatesServers(t *testing.T) {
	raw := logstashSetupDef(t.TempDir())
	raw["servers"] = map[string]interface{}{
		"intranet": map[string]interface{}{"timezone": "UTC"},
	}
	if _, err := parseLogstashSetup(raw); err == nil {
		t.Fatalf("server without logs should be rejected")
	}

	raw["servers"] = map[string]interface{}{}
	if _, err := parseLogstashSetup(raw); err == nil {
		t.Fatalf("empty servers should be rejected")
	}
}

func TestLogstashSetupDefaultTimezone(t *testing.T) {
	proc, err := parseLogstashSetup(logstashSetupDef(t.TempDir()))
	if err != nil {
		t.Fatalf("parse failed: %s", err)
	}
	setup := proc.(*LogstashSetupProcessor)
	server, _ := setup.Servers["intranet"].(datastore.Map)
	if server["timezone"] != "UTC" {
		t.Fatalf("timezone should default to UTC, got %v", server["timezone"])
	}
}

func TestLogstashSetupExecute(t *testing.T) {
	templateDir := t.TempDir()
	files := map[string]string{
		"logstash.yml.tmpl":      "path.data: {{ .PARSER.DataDir }}\n",
		"pipelines.yml.tmpl":     "- pipeline.id: {{ .DATASET.Name }}\n",
		"ecs-template.json.tmpl": `{"index_patterns": ["{{ .DATASET.Name }}-*"]}`,
		"input.conf.tmpl":        "input {\n{{ range $name, $srv := .servers }}  # {{ $name }} ({{ $srv.timezone }})\n{{ end }}}\n",
		"output.conf.tmpl":       "output { elasticsearch {} }\n",
		"pre_process.conf.tmpl":  "filter {}\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(templateDir, name), []byte(content), 0644); err != nil {
			t.Fatalf("writing template: %s", err)
		}
	}

	proc, err := parseLogstashSetup(logstashSetupDef(templateDir))
	if err != nil {
		t.Fatalf("parse failed: %s", err)
	}

	params := testParamsFor(t)
	parser := config.LogstashParser{
		SettingsDir: filepath.Join(params.DatasetDir, "processing", "logstash"),
	}
	parser.ApplyDefaults()
	parser.ConfDir = filepath.Join(parser.SettingsDir, "conf.d")
	parser.LogDir = filepath.Join(parser.SettingsDir, "log")
	parser.DataDir = filepath.Join(parser.SettingsDir, "data")
	params.Parser = parser

	if err := proc.Execute(context.Background(), params); err != nil {
		t.Fatalf("execute failed: %s", err)
	}

	read := func(path string) string {
		t.Helper()
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("expected config file: %s", err)
		}
		return string(data)
	}

	if got := read(filepath.Join(parser.SettingsDir, "logstash.yml")); !strings.Contains(got, parser.DataDir) {
		t.Fatalf("logstash.yml not rendered: %s", got)
	}
	if got := read(filepath.Join(parser.SettingsDir, "pipelines.yml")); !strings.Contains(got, "pipeline.id: ds") {
		t.Fatalf("pipelines.yml not rendered: %s", got)
	}
	if got := read(filepath.Join(parser.SettingsDir, "ds-index-template.json")); !strings.Contains(got, `"ds-*"`) {
		t.Fatalf("index template not rendered: %s", got)
	}
	input := read(filepath.Join(parser.ConfDir, "input.conf"))
	if !strings.Contains(input, "intranet") || !strings.Contains(input, "UTC") {
		t.Fatalf("input.conf missing server config: %s", input)
	}
	if got := read(filepath.Join(parser.ConfDir, "output.conf")); !strings.Contains(got, "elasticsearch") {
		t.Fatalf("output.conf not written: %s", got)
	}
	if _, err := os.Stat(filepath.Join(parser.ConfDir, "0000_pre_process.conf")); err != nil {
		t.Fatalf("pre process config not written: %s", err)
	}
}
