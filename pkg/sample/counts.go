package sample

import (
	"context"

	"github.com/kyoushi/dataset/pkg/datastore"
	"github.com/kyoushi/dataset/pkg/labels"
)

// LabelCounts aggregates how many lines carry each label, broken down by
// source file. Labels are computed through a runtime field so no stored
// mapping for them is needed.
func LabelCounts(ctx context.Context, store datastore.Store, index []string, labelObject string) ([]datastore.Bucket, error) {
	if labelObject == "" {
		labelObject = labels.DefaultLabelObject
	}
	body := datastore.Map{
		"size": 0,
		"runtime_mappings": map[string]interface{}{
			"labels": map[string]interface{}{
				"type": "keyword",
				"script": map[string]interface{}{
					"source": labels.AggregatesFieldScript(labelObject),
				},
			},
		},
		"aggs": map[string]interface{}{
			"labels": map[string]interface{}{
				"composite": map[string]interface{}{
					"sources": []interface{}{
						map[string]interface{}{
							"label": map[string]interface{}{
								"terms": map[string]interface{}{"field": "labels"},
							},
						},
					},
				},
				"aggs": map[string]interface{}{
					"file": map[string]interface{}{
						"terms": map[string]interface{}{"field": "log.file.path"},
					},
				},
			},
		},
	}
	return datastore.ScanComposite(ctx, store, index, body, "labels")
}
