package processors

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kyoushi/dataset/pkg/config"
)

func testParamsFor(t *testing.T) *Params {
	t.Helper()
	start, _ := config.ParseTimestamp("2022-01-20T00:00:00Z")
	end, _ := config.ParseTimestamp("2022-01-25T00:00:00Z")
	return &Params{
		DatasetDir: t.TempDir(),
		Dataset:    config.Dataset{ID: "1", Name: "ds", Start: start, End: end},
		Vars:       map[string]interface{}{"ELASTICSEARCH_URL": "http://127.0.0.1:9200"},
	}
}

func TestPipelineRender(t *testing.T) {
	p := testParamsFor(t)
	raw := map[string]interface{}{
		"name": "make {{ .WHAT }} dir",
		"type": "mkdir",
		"path": "{{ .DATASET_DIR }}/{{ .DATASET.Name }}",
		"context": map[string]interface{}{
			"vars": map[string]interface{}{"WHAT": "gather"},
		},
	}
	rendered, err := Pipeline{}.render(raw, p)
	if err != nil {
		t.Fatalf("render failed: %s", err)
	}
	if rendered["name"] != "make gather dir" {
		t.Fatalf("context vars not rendered: %v", rendered["name"])
	}
	want := p.DatasetDir + "/ds"
	if rendered["path"] != want {
		t.Fatalf("builtin vars not rendered: %v, want %s", rendered["path"], want)
	}
}

func TestPipelineRenderSkipsContainerBody(t *testing.T) {
	p := testParamsFor(t)
	raw := map[string]interface{}{
		"name":  "loop",
		"type":  "foreach",
		"items": []interface{}{"a"},
		"processor": map[string]interface{}{
			"name": "print {{ .item }}",
			"type": "print",
			"msg":  "{{ .item }}",
		},
	}
	rendered, err := Pipeline{}.render(raw, p)
	if err != nil {
		t.Fatalf("render failed, the container body must stay untouched: %s", err)
	}
	body := rendered["processor"].(map[string]interface{})
	if body["msg"] != "{{ .item }}" {
		t.Fatalf("container body was rendered early: %v", body["msg"])
	}
}

func TestPipelineParseErrors(t *testing.T) {
	p := testParamsFor(t)
	if _, err := (Pipeline{}).parse(map[string]interface{}{"type": "print"}, p); err == nil {
		t.Fatal("processors without a name must be rejected")
	}
	if _, err := (Pipeline{}).parse(map[string]interface{}{"name": "x", "type": "frobnicate"}, p); err == nil {
		t.Fatal("unknown processor types must be rejected")
	}
}

func TestForEachExpansion(t *testing.T) {
	raw := map[string]interface{}{
		"name":     "create host dirs",
		"type":     "foreach",
		"items":    []interface{}{"pc", "gateway"},
		"loop_var": "host",
		"processor": map[string]interface{}{
			"name": "mkdir {{ .host }}",
			"type": "mkdir",
			"path": "gather/{{ .host }}",
		},
	}
	proc, err := parseForEach(raw)
	if err != nil {
		t.Fatalf("foreach parse failed: %s", err)
	}
	container, ok := proc.(Container)
	if !ok {
		t.Fatal("foreach must expand, not execute")
	}
	if err := proc.Execute(context.Background(), &Params{}); err == nil {
		t.Fatal("directly executing a container must fail")
	}

	defs, err := container.Processors()
	if err != nil {
		t.Fatalf("expansion failed: %s", err)
	}
	if len(defs) != 2 {
		t.Fatalf("expected 2 expanded definitions, got %d", len(defs))
	}
	for i, want := range []string{"pc", "gateway"} {
		ctx := defs[i]["context"].(map[string]interface{})
		vars := ctx["vars"].(map[string]interface{})
		if vars["host"] != want {
			t.Fatalf("definition %d: loop var = %v, want %s", i, vars["host"], want)
		}
	}
	// the expanded copies must not share state
	defs[0]["name"] = "changed"
	if defs[1]["name"] == "changed" {
		t.Fatal("expanded definitions share the template map")
	}
}

func TestForEachPipelineExecute(t *testing.T) {
	p := testParamsFor(t)
	defs := []map[string]interface{}{{
		"name":  "create host dirs",
		"type":  "foreach",
		"items": []interface{}{"pc", "gateway"},
		"processor": map[string]interface{}{
			"name": "mkdir {{ .item }}",
			"type": "mkdir",
			"path": filepath.Join(p.DatasetDir, "gather", "{{ .item }}"),
		},
	}}
	if err := (Pipeline{}).Execute(context.Background(), defs, p); err != nil {
		t.Fatalf("pipeline failed: %s", err)
	}
	for _, host := range []string{"pc", "gateway"} {
		if _, err := os.Stat(filepath.Join(p.DatasetDir, "gather", host)); err != nil {
			t.Fatalf("expanded mkdir did not run for %s: %s", host, err)
		}
	}
}

func TestTemplateProcessor(t *testing.T) {
	p := testParamsFor(t)
	src := filepath.Join(p.DatasetDir, "greeting.tmpl")
	dest := filepath.Join(p.DatasetDir, "out", "greeting.txt")
	if err := os.WriteFile(src, []byte("dataset {{ .DATASET.Name }} at {{ .ELASTICSEARCH_URL }}"), 0o644); err != nil {
		t.Fatal(err)
	}

	proc, err := parseTemplate(map[string]interface{}{
		"name": "render greeting",
		"type": "template",
		"src":  src,
		"dest": dest,
	})
	if err != nil {
		t.Fatalf("template parse failed: %s", err)
	}
	if err := proc.Execute(context.Background(), p); err != nil {
		t.Fatalf("template execute failed: %s", err)
	}
	out, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "dataset ds at http://127.0.0.1:9200" {
		t.Fatalf("unexpected rendered file: %q", out)
	}
}

func TestMkdirNonRecursive(t *testing.T) {
	dir := t.TempDir()
	recursive := false
	p := &MkdirProcessor{Path: filepath.Join(dir, "sub"), Recursive: &recursive}
	if err := p.Execute(context.Background(), &Params{}); err != nil {
		t.Fatalf("mkdir failed: %s", err)
	}
	// existing dirs are fine
	if err := p.Execute(context.Background(), &Params{}); err != nil {
		t.Fatalf("mkdir on existing dir failed: %s", err)
	}
	deep := &MkdirProcessor{Path: filepath.Join(dir, "a", "b", "c"), Recursive: &recursive}
	if err := deep.Execute(context.Background(), &Params{}); err == nil {
		t.Fatal("non recursive mkdir must fail on missing parents")
	}
}

func TestGzipFiles(t *testing.T) {
	dir := t.TempDir()
	mustWrite := func(rel string) {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	mustWrite("pc/auth.log.gz")
	mustWrite("pc/auth.log")
	mustWrite("gateway/dns.log.gz")

	p := &GzipProcessor{Path: dir, Glob: "*.gz"}
	files, err := p.files()
	if err != nil {
		t.Fatalf("glob walk failed: %s", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 compressed files, got %v", files)
	}
	for _, f := range files {
		if !strings.HasSuffix(f, ".gz") {
			t.Fatalf("plain file matched the glob: %s", f)
		}
	}
}
