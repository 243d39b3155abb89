package processors

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kyoushi/dataset/pkg/config"
	"github.com/kyoushi/dataset/pkg/datastore"
	"github.com/kyoushi/dataset/pkg/query"
)

// lineShiftScriptSource renumbers log lines after leading lines were
// trimmed. The shift per file is passed through the params map keyed by
// file path.
const lineShiftScriptSource = `ctx._source.log.file.line -= params[ctx._source.log.file.path]`

// TrimProcessor deletes all log records outside the dataset observation
// window from the store and trims the raw files on disk to match, shifting
// the stored line numbers so files and records stay aligned.
type TrimProcessor struct {
	Base `yaml:",inline"`

	// Start and End override the dataset observation bounds
	Start *config.Timestamp `yaml:"start"`
	End   *config.Timestamp `yaml:"end"`

	Indices              []string `yaml:"indices"`
	Exclude              []string `yaml:"exclude"`
	IndicesPrefixDataset *bool    `yaml:"indices_prefix_dataset"`
}

func parseTrim(raw map[string]interface{}) (Processor, error) {
	var p TrimProcessor
	if err := decodeProcessor(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// lineStats returns per file minimum and maximum line numbers plus document
// counts.
func (p *TrimProcessor) lineStats(ctx context.Context, store datastore.Store, index []string) ([]datastore.Bucket, error) {
	body := datastore.Map{
		"size": 0,
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
				"aggs": map[string]interface{}{
					"min_line": map[string]interface{}{
						"min": map[string]interface{}{"field": "log.file.line"},
					},
					"max_line": map[string]interface{}{
						"max": map[string]interface{}{"field": "log.file.line"},
					},
				},
			},
		},
	}
	return datastore.ScanComposite(ctx, store, index, body, "files")
}

// bucketMetric extracts a numeric sub-aggregation value from a bucket.
func bucketMetric(bucket datastore.Bucket, name string) (int64, bool) {
	raw, ok := bucket.Values[name]
	if !ok {
		return 0, false
	}
	metric, ok := datastore.NormalizeMap(raw)
	if !ok {
		return 0, false
	}
	switch v := metric["value"].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

func (p *TrimProcessor) Execute(ctx context.Context, params *Params) error {
	prefix := p.IndicesPrefixDataset == nil || *p.IndicesPrefixDataset
	var index []string
	if p.Indices == nil {
		index = []string{params.Dataset.Name + "-*"}
	} else {
		index = query.ResolveIndices(params.Dataset.Name, prefix, p.Indices)
	}
	// excludes must come after the indices for negative patterns to apply
	index = append(index, query.ExcludeIndices(params.Dataset.Name, prefix, p.Exclude)...)

	start := params.Dataset.Start.Time
	if p.Start != nil {
		start = p.Start.Time
	}
	end := params.Dataset.End.Time
	if p.End != nil {
		end = p.End.Time
	}

	docsBefore := make(map[string]int64)
	before, err := p.lineStats(ctx, params.Store, index)
	if err != nil {
		return err
	}
	for _, bucket := range before {
		if path, ok := bucket.Key["path"].(string); ok {
			docsBefore[path] = bucket.DocCount
		}
	}

	// drop everything outside [start, end)
	deleteBody := datastore.Map{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must_not": []interface{}{
					map[string]interface{}{
						"range": map[string]interface{}{
							"@timestamp": map[string]interface{}{
								"gte": start.Format(time.RFC3339),
								"lt":  end.Format(time.RFC3339),
							},
						},
					},
				},
			},
		},
	}
	deleted, err := params.Store.DeleteByQuery(ctx, index, deleteBody)
	if err != nil {
		return err
	}
	logrus.WithField("deleted", deleted).Info("Removed log records outside the observation window")

	after, err := p.lineStats(ctx, params.Store, index)
	if err != nil {
		return err
	}

	// per file shift of the new first line back to one
	adjust := make(map[string]interface{})
	for _, bucket := range after {
		path, _ := bucket.Key["path"].(string)
		if path == "" {
			continue
		}
		firstLine, ok := bucketMetric(bucket, "min_line")
		if !ok {
			return fmt.Errorf("missing min_line stat for %s", path)
		}
		lastLine, ok := bucketMetric(bucket, "max_line")
		if !ok {
			return fmt.Errorf("missing max_line stat for %s", path)
		}

		truncate := true
		if docsBefore[path]-(firstLine-1) == lastLine {
			// the tail is already correct, skip reading up to it
			truncate = false
		}
		if err := trimFile(path, firstLine, lastLine, truncate); err != nil {
			return err
		}
		delete(docsBefore, path)

		if firstLine > 1 {
			adjust[path] = firstLine - 1
		}
	}

	// files with no remaining records hold no observed lines at all
	for path := range docsBefore {
		logrus.WithField("file", path).Info("Removing file without log lines inside the observation window")
		if err := os.Remove(path); err != nil {
			return err
		}
	}

	if len(adjust) == 0 {
		return nil
	}

	if err := params.Store.PutScript(ctx, lineShiftScriptID(params.Dataset.Name), datastore.Script{
		Language: "painless",
		Source:   lineShiftScriptSource,
		Context:  "update",
	}); err != nil {
		return err
	}

	paths := make([]interface{}, 0, len(adjust))
	for path := range adjust {
		paths = append(paths, path)
	}
	updateBody := datastore.Map{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"filter": []interface{}{
					map[string]interface{}{
						"terms": map[string]interface{}{"log.file.path": paths},
					},
				},
			},
		},
	}
	taskID, err := params.Store.UpdateByQuery(ctx, index, updateBody, datastore.UpdateOptions{
		ScriptID: lineShiftScriptID(params.Dataset.Name),
		Params:   adjust,
		Refresh:  true,
	})
	if err != nil {
		return err
	}
	poller := datastore.DefaultPoller()
	if _, err := poller.WaitForTask(ctx, params.Store, taskID); err != nil {
		return err
	}
	if err := params.Store.DeleteTask(ctx, taskID); err != nil {
		logrus.WithFields(logrus.Fields{"task": taskID, "err": err}).
			Warn("could not delete finished update task")
	}
	return nil
}

func lineShiftScriptID(dataset string) string { return dataset + "_kyoushi_line_shift" }

// trimFile cuts a file down to the given line range, one-based and
// inclusive. The tail is truncated first so the head removal does not shift
// the end position.
func trimFile(path string, firstLine, lastLine int64, truncate bool) error {
	if truncate {
		if err := truncateFile(path, lastLine); err != nil {
			return err
		}
	}
	if firstLine > 1 {
		logrus.WithFields(logrus.Fields{
			"file":  path,
			"first": firstLine,
			"last":  lastLine,
		}).Info("Trimming file")
		if err := removeFirstLines(path, firstLine-1); err != nil {
			return err
		}
	}
	return nil
}

// truncateFile cuts a file after its lastLine-th line.
func truncateFile(path string, lastLine int64) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	var offset int64
	for i := int64(0); i < lastLine; i++ {
		line, err := reader.ReadBytes('\n')
		offset += int64(len(line))
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	if err := f.Truncate(offset); err != nil {
		return err
	}
	return f.Close()
}

// removeFirstLines drops the first n lines of a file by rewriting it
// through a temporary sibling.
func removeFirstLines(path string, n int64) error {
	if n <= 0 {
		return nil
	}
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(path), ".trim-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	reader := bufio.NewReader(in)
	for i := int64(0); i < n; i++ {
		if _, err := reader.ReadBytes('\n'); err != nil {
			if err == io.EOF {
				break
			}
			tmp.Close()
			return err
		}
	}
	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
