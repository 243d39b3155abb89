package labels

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kyoushi/dataset/pkg/datastore"
	"github.com/kyoushi/dataset/pkg/query"
)

// QueryRule applies labels to every record matching a declarative query.
type QueryRule struct {
	Base       `yaml:",inline"`
	query.Spec `yaml:",inline"`
}

func parseQueryRule(raw map[string]interface{}) (Rule, error) {
	var r QueryRule
	if err := decodeRule(raw, &r); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *QueryRule) Validate() error {
	if err := r.validate(); err != nil {
		return err
	}
	if len(r.Spec.Query) == 0 {
		return fmt.Errorf("query rules must define at least one query clause")
	}
	return r.Spec.Validate()
}

// Apply runs the query as a scripted update and waits for it to finish.
func (r *QueryRule) Apply(ctx context.Context, p *ApplyParams) (int64, error) {
	index := query.ResolveIndices(p.Dataset.Name, r.Spec.PrefixDataset(), r.Spec.Index)

	b := query.NewBuilder()
	// skip rows that already carry the exact label set
	b.ExcludeTerm(fingerprintField(p.LabelObject, r.RuleID), r.Fingerprint())
	if err := r.Spec.Apply(b); err != nil {
		return 0, err
	}

	return applyLabelsByQuery(ctx, p, index, b.Body(), r.UpdateParams())
}

func fingerprintField(labelObject, ruleID string) string {
	return fmt.Sprintf("%s.flat.%s", labelObject, ruleID)
}

// applyLabelsByQuery starts a scripted update-by-query, waits for the async
// task to complete and returns the number of updated records. The update
// runs with refresh enabled so every following rule observes a consistent
// label state.
func applyLabelsByQuery(ctx context.Context, p *ApplyParams, index []string, body datastore.Map, params map[string]interface{}) (int64, error) {
	taskID, err := p.Store.UpdateByQuery(ctx, index, body, datastore.UpdateOptions{
		ScriptID: p.UpdateScriptID,
		Params:   params,
		Refresh:  true,
	})
	if err != nil {
		return 0, err
	}

	status, err := p.Poller.WaitForTask(ctx, p.Store, taskID)
	if err != nil {
		return 0, err
	}

	// task bookkeeping records are clutter once the task finished, but
	// failing to remove one must not fail the rule
	if err := p.Store.DeleteTask(ctx, taskID); err != nil {
		logrus.WithFields(logrus.Fields{
			"task": taskID,
			"err":  err,
		}).Warn("could not delete finished update task")
	}
	return status.Updated, nil
}

// applyLabelsByIDs labels fixed record id sets, chunked per index so no
// single update exceeds the store's result window.
func applyLabelsByIDs(ctx context.Context, p *ApplyParams, indexIDs map[string][]string, window int, params map[string]interface{}) (int64, error) {
	var updated int64
	for index, ids := range indexIDs {
		for start := 0; start < len(ids); start += window {
			end := start + window
			if end > len(ids) {
				end = len(ids)
			}
			chunk := make([]interface{}, 0, end-start)
			for _, id := range ids[start:end] {
				chunk = append(chunk, id)
			}
			body := datastore.Map{
				"query": map[string]interface{}{
					"ids": map[string]interface{}{"values": chunk},
				},
			}
			n, err := applyLabelsByQuery(ctx, p, []string{index}, body, params)
			if err != nil {
				return updated, err
			}
			updated += n
		}
	}
	return updated, nil
}
