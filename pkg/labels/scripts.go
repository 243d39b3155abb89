package labels

import (
	"context"
	"strings"

	"github.com/kyoushi/dataset/pkg/datastore"
)

const (
	// DefaultLabelObject is the document field label state is stored under.
	DefaultLabelObject = "kyoushi_labels"

	// DefaultUpdateScriptID is the base name of the label update script.
	// Installed scripts are prefixed with the dataset name so multiple
	// datasets can coexist on one store.
	DefaultUpdateScriptID = "kyoushi_label_update"
)

// updateScriptSource applies a rule's labels to a document. The flat
// fingerprint comparison makes the script idempotent, re-running a rule
// whose labels did not change results in a noop.
const updateScriptSource = `
boolean updated = false;
String labels_flat = params.labels.join(";");
// this should only happen once when we first encounter a line
if (
    ctx._source.{{ label_object }} == null ||
    ctx._source.{{ label_object }}.list == null ||
    ctx._source.{{ label_object }}.flat == null ||
    ctx._source.{{ label_object }}.rules == null
) {
    ctx._source.{{ label_object }} = [:];
    ctx._source.{{ label_object }}.list = [:];
    ctx._source.{{ label_object }}.flat = [:];
    ctx._source.{{ label_object }}.rules = [];
}
if (ctx._source.{{ label_object }}.flat[params.rule] != labels_flat) {
    ctx._source.{{ label_object }}.list[params.rule] = params.labels;
    ctx._source.{{ label_object }}.flat[params.rule] = labels_flat;
    if (!ctx._source.{{ label_object }}.rules.contains(params.rule)) {
        ctx._source.{{ label_object }}.rules.add(params.rule)
    }
    updated = true;
}
if (!updated) {
    ctx.op = "noop";
}
`

// filterScriptSource matches documents that carry every label in
// params.labels, regardless of which rule applied them.
const filterScriptSource = `
boolean found;
for (label in params.labels) {
    // rows that are not labeled do not have the key
    found = false;
    for (rule in doc["{{ label_object }}.rules"]) {
        found = doc["{{ label_object }}.list."+rule].contains(label);
        if (found) {
            break;
        }
    }
    // if found is false here then we did not find the current label
    if (!found) {
        return false;
    }
}
return true;
`

// fieldScriptSource computes the distinct sorted label set of a document.
const fieldScriptSource = `
doc["{{ label_object }}.rules"].stream()
    .flatMap(l -> doc["{{ label_object }}.list."+l].stream())
    .distinct()
    .sorted()
    .collect(Collectors.toList());
`

// aggregatesFieldScriptSource is a runtime field emitting each distinct
// label of a document once, used by label count aggregations.
const aggregatesFieldScriptSource = `
// ensure we only emit each label once
List labels = doc["{{ label_object }}.rules"]
    .stream()
    .flatMap(
        l -> doc["{{ label_object }}.list."+l].stream()
    ).distinct()
    .collect(Collectors.toList());
for (label in labels) {
     emit(label);
}
`

func renderScript(source, labelObject string) string {
	return strings.ReplaceAll(source, "{{ label_object }}", labelObject)
}

// UpdateScriptID returns the stored script id of the label update script
// for a dataset.
func UpdateScriptID(dataset string) string { return dataset + "_" + DefaultUpdateScriptID }

// FilterScriptID returns the stored script id of the label filter script
// for a dataset.
func FilterScriptID(dataset string) string { return dataset + "_kyoushi_label_filter" }

// FieldScriptID returns the stored script id of the label field script
// for a dataset.
func FieldScriptID(dataset string) string { return dataset + "_kyoushi_label_field" }

// AggregatesFieldScript returns the runtime field script source used to
// aggregate label counts.
func AggregatesFieldScript(labelObject string) string {
	return renderScript(aggregatesFieldScriptSource, labelObject)
}

// InstallScripts stores the label update, filter and field scripts for the
// given dataset. Script ids are prefixed with the dataset name so several
// datasets can keep their own script versions on the same store.
func InstallScripts(ctx context.Context, store datastore.Store, dataset, labelObject string) error {
	scripts := []struct {
		id     string
		script datastore.Script
	}{
		{
			id: UpdateScriptID(dataset),
			script: datastore.Script{
				Language:    "painless",
				Source:      renderScript(updateScriptSource, labelObject),
				Context:     "update",
				Description: "Kyoushi Dataset - Update by Query label script",
			},
		},
		{
			id: FilterScriptID(dataset),
			script: datastore.Script{
				Language: "painless",
				Source:   renderScript(filterScriptSource, labelObject),
				Context:  "filter",
			},
		},
		{
			id: FieldScriptID(dataset),
			script: datastore.Script{
				Language: "painless",
				Source:   renderScript(fieldScriptSource, labelObject),
				Context:  "field",
			},
		},
	}
	for _, s := range scripts {
		if err := store.PutScript(ctx, s.id, s.script); err != nil {
			return err
		}
	}
	return nil
}
