package labels

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kyoushi/dataset/pkg/datastore"
	"github.com/kyoushi/dataset/pkg/query"
)

// SequenceRule labels every event that is part of a matched event sequence.
// The sequence is expressed in the store's event query language and searched
// repeatedly: each pass labels the matched events, which drops them out of
// the unlabeled filter, until a pass returns no sequences at all.
type SequenceRule struct {
	Base `yaml:",inline"`

	Index query.Strings `yaml:"index"`

	// By lists optional global join fields shared by all sequence steps.
	By query.Strings `yaml:"by"`

	// MaxSpan is the optional maximum time window of a valid sequence.
	MaxSpan string `yaml:"max_span"`

	// Until is an optional terminating event. It bounds sequences but is
	// not labeled itself.
	Until string `yaml:"until"`

	// Sequences are the ordered event steps, at least two.
	Sequences []string `yaml:"sequences"`

	Filter query.Clauses `yaml:"filter"`

	EventCategoryField string `yaml:"event_category_field"`
	TimestampField     string `yaml:"timestamp_field"`
	TiebreakerField    string `yaml:"tiebreaker_field"`

	// BatchSize is the number of sequences fetched per pass.
	BatchSize int `yaml:"batch_size"`

	// MaxResultWindow caps the size of a single id batch update.
	MaxResultWindow int `yaml:"max_result_window"`

	IndicesPrefixDataset *bool `yaml:"indices_prefix_dataset"`
}

func parseSequenceRule(raw map[string]interface{}) (Rule, error) {
	r := SequenceRule{
		EventCategoryField: "event.category",
		TimestampField:     "@timestamp",
		BatchSize:          1000,
		MaxResultWindow:    10000,
	}
	if err := decodeRule(raw, &r); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *SequenceRule) Validate() error {
	if err := r.validate(); err != nil {
		return err
	}
	if len(r.Sequences) < 2 {
		return fmt.Errorf("need at least 2 sequence steps, use %s for single events", TypeQuery)
	}
	if r.BatchSize < 1 || r.BatchSize > r.MaxResultWindow {
		return fmt.Errorf("batch_size must be between 1 and max_result_window, got %d", r.BatchSize)
	}
	for i, clause := range r.Filter {
		if err := clause.Validate(); err != nil {
			return query.ClauseError{Section: "filter", Pos: i, Err: err}
		}
	}
	return nil
}

func (r *SequenceRule) prefixDataset() bool {
	return r.IndicesPrefixDataset == nil || *r.IndicesPrefixDataset
}

// queryString renders the sequence definition into event query syntax.
func (r *SequenceRule) queryString() string {
	var sb strings.Builder
	sb.WriteString("sequence")

	if len(r.By) > 0 {
		sb.WriteString(" by ")
		sb.WriteString(strings.Join(r.By, ", "))
	}
	if r.MaxSpan != "" {
		sb.WriteString(" with maxspan=")
		sb.WriteString(r.MaxSpan)
	}
	for _, step := range r.Sequences {
		sb.WriteString("\n  ")
		sb.WriteString(step)
	}
	if r.Until != "" {
		sb.WriteString("\nuntil ")
		sb.WriteString(r.Until)
	}
	return sb.String()
}

// makeBody builds the sequence search request. The filter always contains
// the fingerprint exclusion so already labeled sequences stop matching,
// which is what terminates the search loop.
func (r *SequenceRule) makeBody(labelObject string) (datastore.Map, error) {
	b := query.NewBuilder()
	b.ExcludeTerm(fingerprintField(labelObject, r.RuleID), r.Fingerprint())
	for _, clause := range r.Filter {
		if err := b.Query(clause); err != nil {
			return nil, err
		}
	}

	fetchSize := r.BatchSize + r.BatchSize/2
	if fetchSize > r.MaxResultWindow {
		fetchSize = r.MaxResultWindow
	}

	body := datastore.Map{
		"query": r.queryString(),
		"size":  r.MaxResultWindow / len(r.Sequences),
		// fetch ahead of size, but never past the result window
		"fetch_size":           fetchSize,
		"event_category_field": r.EventCategoryField,
		"timestamp_field":      r.TimestampField,
		"filter":               b.Bool(),
	}
	if r.TiebreakerField != "" {
		body["tiebreaker_field"] = r.TiebreakerField
	}
	return body, nil
}

// Apply searches sequences in passes and labels their events until no
// unlabeled sequence remains. The store offers no cursor over sequence
// results, so convergence through the fingerprint exclusion replaces
// pagination.
func (r *SequenceRule) Apply(ctx context.Context, p *ApplyParams) (int64, error) {
	index := query.ResolveIndices(p.Dataset.Name, r.prefixDataset(), r.Index)

	body, err := r.makeBody(p.LabelObject)
	if err != nil {
		return 0, err
	}

	var updated int64
	for pass := 1; ; pass++ {
		hits, err := p.Poller.SearchSequence(ctx, p.Store, index, body)
		if err != nil {
			return updated, err
		}
		if hits.Total == 0 || len(hits.Sequences) == 0 {
			return updated, nil
		}

		// ids are only unique per index
		indexIDs := make(map[string][]string)
		for _, seq := range hits.Sequences {
			for _, event := range seq.Events {
				indexIDs[event.Index] = append(indexIDs[event.Index], event.ID)
			}
		}
		n, err := applyLabelsByIDs(ctx, p, indexIDs, r.MaxResultWindow, r.UpdateParams())
		if err != nil {
			return updated, err
		}
		updated += n

		logrus.WithFields(logrus.Fields{
			"rule":      r.RuleID,
			"pass":      pass,
			"sequences": len(hits.Sequences),
			"updated":   n,
		}).Debug("labeled sequence batch")
	}
}
