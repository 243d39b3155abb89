// Package sample draws random labeled or unlabeled log lines from a
// processed dataset for manual review.
package sample

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kyoushi/dataset/pkg/datastore"
	"github.com/kyoushi/dataset/pkg/labels"
)

// Options controls what a sample is drawn from.
type Options struct {
	// Labels restricts the sample to lines carrying all given labels.
	// Empty means explicitly unlabeled lines only.
	Labels []string
	// Files restricts the sample to the given source files
	Files []string
	// Index are the store indices to sample from
	Index []string
	// LabelObject is the document field label state lives under
	LabelObject string
	// FilterScriptID is the stored label filter script to match labels with
	FilterScriptID string
	// Size is the number of lines to sample
	Size int
	// Seed fixes the sample randomization, nil means non-reproducible
	Seed *int64
	// SeedField is the document field the random order is derived from
	SeedField string
	// Start and Stop bound the sampled time range, either may be empty
	Start string
	Stop  string
}

// Get draws a random sample of log lines. Randomization is done store-side
// through a random scoring function so the sample is uniform over the
// matching lines.
func Get(ctx context.Context, store datastore.Store, opts Options) ([]datastore.Hit, error) {
	if opts.LabelObject == "" {
		opts.LabelObject = labels.DefaultLabelObject
	}
	if opts.Size <= 0 {
		opts.Size = 10
	}
	if opts.SeedField == "" {
		opts.SeedField = "_seq_no"
	}

	randomScore := map[string]interface{}{}
	if opts.Seed != nil {
		randomScore["seed"] = *opts.Seed
		randomScore["field"] = opts.SeedField
	}

	filter := make([]interface{}, 0, 3)
	var mustNot []interface{}

	if len(opts.Labels) == 0 {
		// no labels requested means only rows without any label
		mustNot = append(mustNot, map[string]interface{}{
			"exists": map[string]interface{}{"field": opts.LabelObject + ".rules"},
		})
	} else {
		labelParams := make([]interface{}, len(opts.Labels))
		for i, l := range opts.Labels {
			labelParams[i] = l
		}
		filter = append(filter, map[string]interface{}{
			"script": map[string]interface{}{
				"script": map[string]interface{}{
					"id":     opts.FilterScriptID,
					"params": map[string]interface{}{"labels": labelParams},
				},
			},
		})
	}

	timeRange := map[string]interface{}{}
	if opts.Start != "" {
		timeRange["gte"] = opts.Start
	}
	if opts.Stop != "" {
		timeRange["lte"] = opts.Stop
	}
	if len(timeRange) > 0 {
		filter = append(filter, map[string]interface{}{
			"range": map[string]interface{}{"@timestamp": timeRange},
		})
	}

	if len(opts.Files) > 0 {
		should := make([]interface{}, len(opts.Files))
		for i, f := range opts.Files {
			should[i] = map[string]interface{}{
				"match": map[string]interface{}{"log.file.path": f},
			}
		}
		filter = append(filter, map[string]interface{}{
			"bool": map[string]interface{}{"should": should, "minimum_should_match": 1},
		})
	}

	boolQuery := map[string]interface{}{
		"must": []interface{}{
			map[string]interface{}{
				"function_score": map[string]interface{}{
					"random_score": randomScore,
				},
			},
		},
	}
	if len(filter) > 0 {
		boolQuery["filter"] = filter
	}
	if len(mustNot) > 0 {
		boolQuery["must_not"] = mustNot
	}

	body := datastore.Map{
		"query": map[string]interface{}{"bool": boolQuery},
		"sort":  []interface{}{"_score"},
		"_source": []interface{}{
			"@timestamp",
			"log",
			opts.LabelObject + ".list",
			opts.LabelObject + ".rules",
			"type",
		},
	}

	hits, _, err := store.Search(ctx, opts.Index, body, opts.Size)
	return hits, err
}

// Closest returns the log line in the related indices whose timestamp is
// nearest to the given one, or nil when nothing scores within the scale.
func Closest(ctx context.Context, store datastore.Store, related []string, timestamp interface{}, scale string) (*datastore.Hit, error) {
	if scale == "" {
		scale = "5d"
	}
	body := datastore.Map{
		"query": map[string]interface{}{
			"function_score": map[string]interface{}{
				"functions": []interface{}{
					map[string]interface{}{
						"linear": map[string]interface{}{
							"@timestamp": map[string]interface{}{
								"origin": timestamp,
								"scale":  scale,
							},
						},
					},
				},
				"score_mode": "multiply",
				"boost_mode": "multiply",
			},
		},
		"sort": []interface{}{
			map[string]interface{}{"_score": "desc"},
			map[string]interface{}{"log.file.line": "asc"},
		},
	}
	hits, _, err := store.Search(ctx, related, body, 1)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}
	return &hits[0], nil
}

// RelatedLine points at a log line close in time to a sample.
type RelatedLine struct {
	Path      string      `json:"path"`
	LineNo    int64       `json:"line_no"`
	Timestamp interface{} `json:"timestamp"`
}

// LogContext is a sampled log line together with its file surroundings and
// related lines from other sources.
type LogContext struct {
	Label   string        `json:"label"`
	Rules   []string      `json:"rules"`
	Path    string        `json:"path"`
	LineNo  int64         `json:"line_no"`
	Before  []string      `json:"before"`
	Line    string        `json:"line"`
	After   []string      `json:"after"`
	Related []RelatedLine `json:"related"`
}

// Log reads the sampled line plus the requested surrounding lines from the
// source file and looks up time neighbors in the related indices.
func Log(ctx context.Context, store datastore.Store, sampled datastore.Hit, label, gatherDir, labelObject string, before, after int, related []string) (*LogContext, error) {
	pathVal, ok := sampled.Field("log.file.path")
	if !ok {
		return nil, fmt.Errorf("sample %s/%s carries no file path", sampled.Index, sampled.ID)
	}
	path, _ := pathVal.(string)

	lineVal, ok := sampled.Field("log.file.line")
	if !ok {
		return nil, fmt.Errorf("sample %s/%s carries no line number", sampled.Index, sampled.ID)
	}
	lineNo, err := toInt64(lineVal)
	if err != nil {
		return nil, err
	}

	beforeLines, line, afterLines, err := readContext(path, lineNo, before, after)
	if err != nil {
		return nil, err
	}

	relPath, err := filepath.Rel(gatherDir, path)
	if err != nil {
		relPath = path
	}

	var ruleIDs []string
	if rules, ok := sampled.Field(labelObject + ".rules"); ok {
		ruleIDs = toStringList(rules)
	}

	out := &LogContext{
		Label:  label,
		Rules:  ruleIDs,
		Path:   relPath,
		LineNo: lineNo,
		Before: beforeLines,
		Line:   line,
		After:  afterLines,
	}

	timestamp, _ := sampled.Field("@timestamp")
	for _, rel := range related {
		closest, err := Closest(ctx, store, []string{rel}, timestamp, "")
		if err != nil {
			return nil, err
		}
		if closest == nil {
			continue
		}
		closestPath, _ := closest.Field("log.file.path")
		cp, _ := closestPath.(string)
		if cp == "" || cp == path {
			continue
		}
		closestLine, _ := closest.Field("log.file.line")
		cl, _ := toInt64(closestLine)
		cpRel, err := filepath.Rel(gatherDir, cp)
		if err != nil {
			cpRel = cp
		}
		ts, _ := closest.Field("@timestamp")
		out.Related = append(out.Related, RelatedLine{
			Path:      cpRel,
			LineNo:    cl,
			Timestamp: ts,
		})
	}
	return out, nil
}

// readContext reads the target line and up to before/after surrounding
// lines from a log file. Line numbers are one-based.
func readContext(path string, lineNo int64, before, after int) ([]string, string, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", nil, err
	}
	defer f.Close()

	start := lineNo - int64(before)
	if start < 1 {
		start = 1
	}
	end := lineNo + int64(after)

	var beforeLines, afterLines []string
	var line string

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var i int64
	for scanner.Scan() {
		i++
		switch {
		case i >= start && i < lineNo:
			beforeLines = append(beforeLines, scanner.Text())
		case i == lineNo:
			line = scanner.Text()
		case i > lineNo && i <= end:
			afterLines = append(afterLines, scanner.Text())
		case i > end:
			return beforeLines, line, afterLines, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, "", nil, err
	}
	return beforeLines, line, afterLines, nil
}

func toStringList(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		if s, ok := v.(string); ok {
			return []string{s}
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
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
