package labels

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kyoushi/dataset/pkg/config"
	"github.com/kyoushi/dataset/pkg/datastore"
)

func labeledHit(line int64, rules []interface{}, list map[string]interface{}) datastore.Hit {
	return datastore.Hit{
		Index: "ds-pc",
		ID:    "x",
		Source: datastore.Map{
			"log": map[string]interface{}{
				"file": map[string]interface{}{
					"path": "/gather/pc/auth.log",
					"line": line,
				},
			},
			DefaultLabelObject: map[string]interface{}{
				"rules": rules,
				"list":  list,
				"flat":  map[string]interface{}{},
			},
		},
	}
}

func TestHitLine(t *testing.T) {
	l := NewLabeler()
	hit := labeledHit(17,
		[]interface{}{"first_rule", "second_rule"},
		map[string]interface{}{
			"first_rule":  []interface{}{"attacker", "foothold"},
			"second_rule": []interface{}{"attacker", "escalate"},
		},
	)
	line, err := l.hitLine(hit)
	if err != nil {
		t.Fatalf("hit line failed: %s", err)
	}
	if line.Line != 17 {
		t.Fatalf("unexpected line number %d", line.Line)
	}
	// label order follows rule application order, first applier first
	want := []string{"attacker", "foothold", "escalate"}
	if len(line.Labels) != len(want) {
		t.Fatalf("unexpected labels %v", line.Labels)
	}
	for i := range want {
		if line.Labels[i] != want[i] {
			t.Fatalf("unexpected label order %v, want %v", line.Labels, want)
		}
	}
	if got := line.Rules["attacker"]; len(got) != 2 || got[0] != "first_rule" || got[1] != "second_rule" {
		t.Fatalf("unexpected rule attribution %v", line.Rules)
	}
	if got := line.Rules["escalate"]; len(got) != 1 || got[0] != "second_rule" {
		t.Fatalf("unexpected rule attribution %v", line.Rules)
	}
	if line.Multiline != nil {
		t.Fatalf("multiline must stay empty: %v", line.Multiline)
	}
}

func TestHitLineNoState(t *testing.T) {
	l := NewLabeler()
	hit := datastore.Hit{Index: "ds-pc", ID: "1", Source: datastore.Map{}}
	if _, err := l.hitLine(hit); err == nil {
		t.Fatal("records without label state must be rejected")
	}
}

func TestWriteFile(t *testing.T) {
	l := NewLabeler()
	store := &fakeStore{
		scrollHits: [][]datastore.Hit{{
			labeledHit(1, []interface{}{"r1"}, map[string]interface{}{"r1": []interface{}{"attacker"}}),
			labeledHit(2, []interface{}{"r1"}, map[string]interface{}{"r1": []interface{}{"attacker"}}),
		}},
	}

	dir := t.TempDir()
	labelPath := filepath.Join(dir, "pc", "auth.log")
	err := l.writeFile(context.Background(), store, config.Dataset{Name: "ds"}, "/gather/pc/auth.log", labelPath)
	if err != nil {
		t.Fatalf("write file failed: %s", err)
	}

	f, err := os.Open(labelPath)
	if err != nil {
		t.Fatalf("label file missing: %s", err)
	}
	defer f.Close()

	var lines []labelLine
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var line labelLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			t.Fatalf("label file line is not valid json: %s", err)
		}
		lines = append(lines, line)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 label lines, got %d", len(lines))
	}
	if lines[0].Line != 1 || lines[1].Line != 2 {
		t.Fatalf("lines out of order: %+v", lines)
	}
	if len(lines[0].Labels) != 1 || lines[0].Labels[0] != "attacker" {
		t.Fatalf("unexpected labels: %+v", lines[0])
	}
	if got := lines[0].Rules["attacker"]; len(got) != 1 || got[0] != "r1" {
		t.Fatalf("unexpected rules: %+v", lines[0])
	}
}

func TestLabeledFilesSkip(t *testing.T) {
	l := NewLabeler()
	store := &aggFakeStore{
		buckets: []datastore.Bucket{
			{Key: datastore.Map{"path": "/gather/pc/auth.log"}},
			{Key: datastore.Map{"path": "/gather/gateway/dns.log"}},
			{Key: datastore.Map{"path": "/gather/pc/tmp.log"}},
		},
	}
	files, err := l.labeledFiles(context.Background(), store, []string{"ds-*"}, []string{"*/tmp.log"})
	if err != nil {
		t.Fatalf("labeled files failed: %s", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files after skip, got %v", files)
	}
	for _, f := range files {
		if f == "/gather/pc/tmp.log" {
			t.Fatal("skip pattern was not applied")
		}
	}
}

type aggFakeStore struct {
	datastore.Unimplemented
	buckets []datastore.Bucket
}

func (s *aggFakeStore) Aggregate(ctx context.Context, index []string, body datastore.Map, name string) (datastore.AggPage, error) {
	return datastore.AggPage{Buckets: s.buckets}, nil
}

// writeFakeStore serves both the labeled file aggregation and the per file
// line scroll.
type writeFakeStore struct {
	*fakeStore
	buckets []datastore.Bucket
}

func (s *writeFakeStore) Aggregate(ctx context.Context, index []string, body datastore.Map, name string) (datastore.AggPage, error) {
	return datastore.AggPage{Buckets: s.buckets}, nil
}

func TestWriteRelativeDatasetDir(t *testing.T) {
	oldWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd failed: %s", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir failed: %s", err)
	}
	defer os.Chdir(oldWd)
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd failed: %s", err)
	}

	// the parser stores absolute file paths under the dataset's gather dir
	sourcePath := filepath.Join(wd, "gather", "pc", "auth.log")
	store := &writeFakeStore{
		fakeStore: &fakeStore{
			scrollHits: [][]datastore.Hit{{
				labeledHit(1, []interface{}{"r1"}, map[string]interface{}{"r1": []interface{}{"attacker"}}),
			}},
		},
		buckets: []datastore.Bucket{
			{Key: datastore.Map{"path": sourcePath}},
		},
	}

	l := NewLabeler()
	if err := l.Write(context.Background(), "./", config.Dataset{Name: "ds"}, store, []string{"ds-*"}, nil); err != nil {
		t.Fatalf("write with relative dataset dir failed: %s", err)
	}

	labelPath := filepath.Join(wd, "labels", "pc", "auth.log")
	if _, err := os.Stat(labelPath); err != nil {
		t.Fatalf("label file not written next to the gather tree: %s", err)
	}
}
