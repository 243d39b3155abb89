package processors

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/kyoushi/dataset/pkg/datastore"
)

type putCall struct {
	Name   string
	Body   datastore.Map
	Create bool
}

type templateStore struct {
	datastore.Unimplemented

	indexTemplates     []putCall
	componentTemplates []putCall
	pipelines          []putCall
}

func (s *templateStore) PutIndexTemplate(ctx context.Context, name string, body datastore.Map, create bool) error {
	s.indexTemplates = append(s.indexTemplates, putCall{Name: name, Body: body, Create: create})
	return nil
}

func (s *templateStore) PutComponentTemplate(ctx context.Context, name string, body datastore.Map, create bool) error {
	s.componentTemplates = append(s.componentTemplates, putCall{Name: name, Body: body, Create: create})
	return nil
}

func (s *templateStore) PutIngestPipeline(ctx context.Context, id string, body datastore.Map) error {
	s.pipelines = append(s.pipelines, putCall{Name: id, Body: body})
	return nil
}

func writeTemplateFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing template file: %s", err)
	}
	return path
}

func TestIndexTemplateProcessor(t *testing.T) {
	path := writeTemplateFile(t, "template.json", `{"template": {"mappings": {"properties": {}}}}`)
	proc, err := parseIndexTemplate(map[string]interface{}{
		"name":           "install logs template",
		"type":           "elasticsearch.template",
		"template":       path,
		"template_name":  "logs",
		"index_patterns": []interface{}{"auth-*", "dns-*"},
		"composed_of":    []interface{}{"base-settings"},
		"create_only":    true,
	})
	if err != nil {
		t.Fatalf("parse failed: %s", err)
	}

	store := &templateStore{}
	params := testParamsFor(t)
	params.Store = store
	if err := proc.Execute(context.Background(), params); err != nil {
		t.Fatalf("execute failed: %s", err)
	}
	if len(store.indexTemplates) != 1 {
		t.Fatalf("expected one index template, got %d", len(store.indexTemplates))
	}
	call := store.indexTemplates[0]
	if call.Name != "logs" || !call.Create {
		t.Fatalf("unexpected call: %+v", call)
	}
	patterns, _ := call.Body["index_patterns"].([]interface{})
	if !reflect.DeepEqual(patterns, []interface{}{"ds-auth-*", "ds-dns-*"}) {
		t.Fatalf("patterns not prefixed with dataset name: %v", patterns)
	}
	if call.Body["priority"] != 100 {
		t.Fatalf("default priority not set: %v", call.Body["priority"])
	}
	if !reflect.DeepEqual(call.Body["composed_of"], []interface{}{"base-settings"}) {
		t.Fatalf("composed_of not set: %v", call.Body["composed_of"])
	}
	if _, ok := call.Body["template"]; !ok {
		t.Fatalf("template file body lost: %v", call.Body)
	}
}

func TestIndexTemplateProcessorNoPrefix(t *testing.T) {
	path := writeTemplateFile(t, "template.yml", "template:\n  settings: {}\n")
	proc, err := parseIndexTemplate(map[string]interface{}{
		"name":                   "install raw template",
		"type":                   "elasticsearch.template",
		"template":               path,
		"template_name":          "raw",
		"index_patterns":         []interface{}{"auth-*"},
		"indices_prefix_dataset": false,
		"priority":               250,
	})
	if err != nil {
		t.Fatalf("parse failed: %s", err)
	}

	store := &templateStore{}
	params := testParamsFor(t)
	params.Store = store
	if err := proc.Execute(context.Background(), params); err != nil {
		t.Fatalf("execute failed: %s", err)
	}
	call := store.indexTemplates[0]
	patterns, _ := call.Body["index_patterns"].([]interface{})
	if !reflect.DeepEqual(patterns, []interface{}{"auth-*"}) {
		t.Fatalf("patterns should stay unprefixed: %v", patterns)
	}
	if call.Body["priority"] != 250 {
		t.Fatalf("priority override lost: %v", call.Body["priority"])
	}
	if call.Create {
		t.Fatalf("create_only should default to false")
	}
}

func TestIndexTemplateProcessorParse(t *testing.T) {
	cases := []map[string]interface{}{
		{"name": "no template", "type": "elasticsearch.template", "template_name": "logs"},
		{"name": "no name", "type": "elasticsearch.template", "template": "t.json"},
	}
	for i, raw := range cases {
		if _, err := parseIndexTemplate(raw); err == nil {
			t.Fatalf("case %d: expected parse error", i)
		}
	}
}

func TestComponentTemplateProcessor(t *testing.T) {
	path := writeTemplateFile(t, "component.yml", "template:\n  mappings:\n    properties: {}\n")
	proc, err := parseComponentTemplate(map[string]interface{}{
		"name":          "install mappings component",
		"type":          "elasticsearch.component_template",
		"template":      path,
		"template_name": "base-mappings",
	})
	if err != nil {
		t.Fatalf("parse failed: %s", err)
	}

	store := &templateStore{}
	params := testParamsFor(t)
	params.Store = store
	if err := proc.Execute(context.Background(), params); err != nil {
		t.Fatalf("execute failed: %s", err)
	}
	if len(store.componentTemplates) != 1 {
		t.Fatalf("expected one component template, got %d", len(store.componentTemplates))
	}
	call := store.componentTemplates[0]
	if call.Name != "base-mappings" || call.Create {
		t.Fatalf("unexpected call: %+v", call)
	}
	if _, ok := call.Body["template"]; !ok {
		t.Fatalf("template body lost: %v", call.Body)
	}
}

func TestIngestProcessor(t *testing.T) {
	path := writeTemplateFile(t, "pipeline.json", `{"description": "drop empty lines", "processors": []}`)
	proc, err := parseIngest(map[string]interface{}{
		"name":               "install ingest pipeline",
		"type":               "elasticsearch.ingest",
		"ingest_pipeline":    path,
		"ingest_pipeline_id": "ds-pre-process",
	})
	if err != nil {
		t.Fatalf("parse failed: %s", err)
	}

	store := &templateStore{}
	params := testParamsFor(t)
	params.Store = store
	if err := proc.Execute(context.Background(), params); err != nil {
		t.Fatalf("execute failed: %s", err)
	}
	if len(store.pipelines) != 1 {
		t.Fatalf("expected one pipeline, got %d", len(store.pipelines))
	}
	call := store.pipelines[0]
	if call.Name != "ds-pre-process" {
		t.Fatalf("unexpected pipeline id: %s", call.Name)
	}
	if call.Body["description"] != "drop empty lines" {
		t.Fatalf("pipeline body lost: %v", call.Body)
	}
}
