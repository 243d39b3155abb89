package labels

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
	"github.com/ryanuber/go-glob"
	"github.com/sirupsen/logrus"

	"github.com/kyoushi/dataset/pkg/config"
	"github.com/kyoushi/dataset/pkg/datastore"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// labelLine is one line of a label file, mirroring a labeled log line.
type labelLine struct {
	// Line is the log line number within the source file
	Line int64 `json:"line"`
	// Labels lists all labels attached to the line
	Labels []string `json:"labels"`
	// Rules maps each label to the rules that applied it
	Rules map[string][]string `json:"rules"`
	// Multiline carries the multiline group marker when the source line
	// is part of one
	Multiline interface{} `json:"multiline,omitempty"`
}

// labeledFiles returns every source file containing at least one labeled
// record, minus files matching a skip pattern.
func (l *Labeler) labeledFiles(ctx context.Context, store datastore.Store, index []string, skipFiles []string) ([]string, error) {
	body := datastore.Map{
		"size": 0,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []interface{}{
					map[string]interface{}{
						"exists": map[string]interface{}{"field": l.LabelObject + ".rules"},
					},
				},
			},
		},
		"aggs": map[string]interface{}{
			"files": map[string]interface{}{
				"composite": map[string]interface{}{
					"sources": []interface{}{
						map[string]interface{}{
							"path": map[string]interface{}{
								"terms": map[string]interface{}{"field": "log.file.path"},
							},
						},
					},
				},
			},
		},
	}
	buckets, err := datastore.ScanComposite(ctx, store, index, body, "files")
	if err != nil {
		return nil, err
	}

	files := make([]string, 0, len(buckets))
	for _, bucket := range buckets {
		path, _ := bucket.Key["path"].(string)
		if path == "" {
			continue
		}
		if matchesAny(path, skipFiles) {
			continue
		}
		files = append(files, path)
	}
	return files, nil
}

func matchesAny(path string, patterns []string) bool {
	for _, pattern := range patterns {
		if glob.Glob(pattern, path) {
			return true
		}
	}
	return false
}

// Write mirrors the label state from the store to the file system. For each
// labeled source file under gather/ a label file with the same relative path
// is written under labels/, one JSON line per labeled log line in ascending
// line order.
func (l *Labeler) Write(ctx context.Context, datasetDir string, cfg config.Dataset, store datastore.Store, index []string, skipFiles []string) error {
	files, err := l.labeledFiles(ctx, store, index, skipFiles)
	if err != nil {
		return err
	}

	// the parser stores absolute file paths, so a relative dataset dir must
	// be resolved before computing the label file locations
	datasetDir, err = filepath.Abs(datasetDir)
	if err != nil {
		return err
	}
	gatherDir := filepath.Join(datasetDir, config.GatherDir)
	labelsDir := filepath.Join(datasetDir, config.LabelsDir)

	for _, current := range files {
		rel, err := filepath.Rel(gatherDir, current)
		if err != nil {
			return fmt.Errorf("labeled file %s is outside the gather directory: %w", current, err)
		}
		logrus.WithField("file", current).Info("Start writing label file")
		if err := l.writeFile(ctx, store, cfg, current, filepath.Join(labelsDir, rel)); err != nil {
			return err
		}
	}
	return nil
}

// writeFile streams the labeled lines of one source file in line order and
// writes them as JSON lines.
func (l *Labeler) writeFile(ctx context.Context, store datastore.Store, cfg config.Dataset, sourcePath, labelPath string) error {
	body := datastore.Map{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []interface{}{
					map[string]interface{}{
						"exists": map[string]interface{}{"field": l.LabelObject + ".rules"},
					},
					map[string]interface{}{
						"term": map[string]interface{}{"log.file.path": sourcePath},
					},
				},
			},
		},
		"sort": []interface{}{
			map[string]interface{}{"log.file.line": "asc"},
		},
	}
	cursor, err := store.Scroll(ctx, []string{cfg.Name + "-*"}, body, driverScrollKeepAlive)
	if err != nil {
		return err
	}
	defer cursor.Close()

	if err := os.MkdirAll(filepath.Dir(labelPath), 0755); err != nil {
		return err
	}
	out, err := os.Create(labelPath)
	if err != nil {
		return err
	}
	defer out.Close()

	w := bufio.NewWriter(out)
	for cursor.Next(ctx) {
		line, err := l.hitLine(cursor.Hit())
		if err != nil {
			return err
		}
		data, err := json.Marshal(line)
		if err != nil {
			return err
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			return err
		}
	}
	if err := cursor.Err(); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return out.Close()
}

// hitLine converts a labeled record into its label file representation.
// Label order follows rule application order, first applier first.
func (l *Labeler) hitLine(hit datastore.Hit) (*labelLine, error) {
	state, ok := hit.Field(l.LabelObject)
	if !ok {
		return nil, fmt.Errorf("record %s/%s carries no label state", hit.Index, hit.ID)
	}
	stateMap, ok := datastore.NormalizeMap(state)
	if !ok {
		return nil, fmt.Errorf("record %s/%s has a malformed label state", hit.Index, hit.ID)
	}

	ruleIDs := toStringList(stateMap["rules"])
	list, _ := datastore.NormalizeMap(stateMap["list"])

	labels := make([]string, 0)
	rules := make(map[string][]string)
	for _, ruleID := range ruleIDs {
		for _, label := range toStringList(list[ruleID]) {
			if _, seen := rules[label]; !seen {
				labels = append(labels, label)
			}
			rules[label] = append(rules[label], ruleID)
		}
	}

	lineNo, ok := hit.Field("log.file.line")
	if !ok {
		return nil, fmt.Errorf("record %s/%s carries no line number", hit.Index, hit.ID)
	}
	line, err := toInt64(lineNo)
	if err != nil {
		return nil, fmt.Errorf("record %s/%s: %w", hit.Index, hit.ID, err)
	}

	out := &labelLine{
		Line:   line,
		Labels: labels,
		Rules:  rules,
	}
	if multiline, ok := hit.Field("log.file.multiline"); ok {
		out.Multiline = multiline
	}
	return out, nil
}

func toStringList(v interface{}) []string {
	switch val := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return val
	case string:
		return []string{val}
	default:
		return nil
	}
}

func toInt64(v interface{}) (int64, error) {
	switch val := v.(type) {
	case int64:
		return val, nil
	case int:
		return int64(val), nil
	case float64:
		return int64(val), nil
	default:
		return 0, fmt.Errorf("expected a numeric line number, got %T", v)
	}
}
