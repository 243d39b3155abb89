package labels

import (
	"context"
	"fmt"

	"github.com/kyoushi/dataset/pkg/query"
	"github.com/kyoushi/dataset/pkg/templates"
)

// ParentQueryRule labels driver query results conditionally: each driver hit
// is kept only when a templated parent query returns at least MinMatch
// records for it. Matching hits are then labeled in id batches.
type ParentQueryRule struct {
	Base       `yaml:",inline"`
	query.Spec `yaml:",inline"`

	// ParentQuery is the templated correlation query, executed once per
	// driver hit.
	ParentQuery *query.Spec `yaml:"parent_query"`

	// MinMatch is the minimum number of parent results required for a
	// driver hit to be labeled.
	MinMatch int `yaml:"min_match"`

	// MaxResultWindow caps the size of a single id batch update.
	MaxResultWindow int `yaml:"max_result_window"`
}

func parseParentQueryRule(raw map[string]interface{}) (Rule, error) {
	r := ParentQueryRule{
		MinMatch:        1,
		MaxResultWindow: 10000,
	}
	if err := decodeRule(raw, &r); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *ParentQueryRule) Validate() error {
	if err := r.validate(); err != nil {
		return err
	}
	if len(r.Spec.Query) == 0 {
		return fmt.Errorf("parent query rules must define at least one driver query clause")
	}
	if r.ParentQuery == nil || len(r.ParentQuery.Query) == 0 {
		return fmt.Errorf("parent query rules must define a parent_query with at least one query clause")
	}
	if r.MinMatch < 1 {
		return fmt.Errorf("min_match must be at least 1, got %d", r.MinMatch)
	}
	if r.MaxResultWindow < 1 {
		return fmt.Errorf("max_result_window must be positive, got %d", r.MaxResultWindow)
	}
	return r.Spec.Validate()
}

// checkParent renders nothing itself, the caller passes an already rendered
// parent spec. It reports whether the parent query matches enough records.
func (r *ParentQueryRule) checkParent(ctx context.Context, p *ApplyParams, parent *query.Spec) (bool, error) {
	index := query.ResolveIndices(p.Dataset.Name, parent.PrefixDataset(), parent.Index)

	b := query.NewBuilder()
	if err := parent.Apply(b); err != nil {
		return false, err
	}
	total, err := p.Store.Count(ctx, index, b.Body())
	if err != nil {
		return false, err
	}
	return total >= int64(r.MinMatch), nil
}

// Apply scrolls the driver query, checks the parent correlation for every
// hit and labels the hits that pass, batched per index.
func (r *ParentQueryRule) Apply(ctx context.Context, p *ApplyParams) (int64, error) {
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

	// record ids are only unique per index, so batches are grouped by the
	// index each hit came from
	indexIDs := make(map[string][]string)
	for cursor.Next(ctx) {
		hit := cursor.Hit()
		parent, err := templates.RenderQuerySpec(hit, r.ParentQuery)
		if err != nil {
			return 0, err
		}
		ok, err := r.checkParent(ctx, p, parent)
		if err != nil {
			return 0, err
		}
		if ok {
			indexIDs[hit.Index] = append(indexIDs[hit.Index], hit.ID)
		}
	}
	if err := cursor.Err(); err != nil {
		return 0, err
	}

	return applyLabelsByIDs(ctx, p, indexIDs, r.MaxResultWindow, r.UpdateParams())
}
