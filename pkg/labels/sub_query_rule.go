package labels

import (
	"context"
	"fmt"
	"time"

	"github.com/kyoushi/dataset/pkg/query"
	"github.com/kyoushi/dataset/pkg/templates"
)

// driverScrollKeepAlive bounds how long a driver query cursor stays open
// while its per-hit child queries execute.
const driverScrollKeepAlive = 30 * time.Minute

// SubQueryRule labels the results of dynamically generated child queries.
// A driver query retrieves context records; for each of them a templated
// child query is rendered and applied like a plain query rule. The child
// query templates can reference the driver record through the HIT variable.
type SubQueryRule struct {
	Base       `yaml:",inline"`
	query.Spec `yaml:",inline"`

	// SubQuery is the templated child query, executed once per driver hit.
	SubQuery *query.Spec `yaml:"sub_query"`
}

func parseSubQueryRule(raw map[string]interface{}) (Rule, error) {
	var r SubQueryRule
	if err := decodeRule(raw, &r); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *SubQueryRule) Validate() error {
	if err := r.validate(); err != nil {
		return err
	}
	if len(r.Spec.Query) == 0 {
		return fmt.Errorf("sub query rules must define at least one driver query clause")
	}
	if r.SubQuery == nil || len(r.SubQuery.Query) == 0 {
		return fmt.Errorf("sub query rules must define a sub_query with at least one query clause")
	}
	return r.Spec.Validate()
}

// Apply scrolls the driver query and labels the results of each rendered
// child query.
func (r *SubQueryRule) Apply(ctx context.Context, p *ApplyParams) (int64, error) {
	index := query.ResolveIndices(p.Dataset.Name, r.Spec.PrefixDataset(), r.Spec.Index)

	b := query.NewBuilder()
	b.ExcludeTerm(fingerprintField(p.LabelObject, r.RuleID), r.Fingerprint())
	if err := r.Spec.Apply(b); err != nil {
		return 0, err
	}

	cursor, err := p.Store.Scroll(ctx, index, b.Body(), driverScrollKeepAlive)
	if err != nil {
		return 0, err
	}
	defer cursor.Close()

	var updated int64
	for cursor.Next(ctx) {
		rendered, err := templates.RenderQuerySpec(cursor.Hit(), r.SubQuery)
		if err != nil {
			return updated, err
		}

		child := &QueryRule{
			Base: Base{
				RuleID:      r.RuleID,
				RuleType:    TypeQuery,
				RuleLabels:  r.RuleLabels,
				Description: r.Description,
			},
			Spec: *rendered,
		}
		n, err := child.Apply(ctx, p)
		if err != nil {
			return updated, err
		}
		updated += n
	}
	return updated, cursor.Err()
}
