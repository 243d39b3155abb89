// Package query translates declarative YAML/JSON query specifications into
// the document store's native query representation. Specs are validated
// eagerly at configuration load time so malformed clauses never reach the
// store.
package query

import (
	"fmt"

	"github.com/kyoushi/dataset/pkg/datastore"
)

// Strings decodes a YAML/JSON value that may be a single string or a list.
type Strings []string

// UnmarshalYAML implements yaml.Unmarshaler
func (s *Strings) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var single string
	if err := unmarshal(&single); err == nil {
		*s = Strings{single}
		return nil
	}
	var many []string
	if err := unmarshal(&many); err != nil {
		return err
	}
	*s = Strings(many)
	return nil
}

// Clauses decodes a YAML/JSON value that may be a single clause object or a
// list of clause objects. Either way the internal form is always a list.
type Clauses []Clause

// UnmarshalYAML implements yaml.Unmarshaler
func (c *Clauses) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	if raw == nil {
		*c = nil
		return nil
	}
	switch val := datastore.Normalize(raw).(type) {
	case map[string]interface{}:
		*c = Clauses{Clause(val)}
	case []interface{}:
		out := make(Clauses, 0, len(val))
		for i, item := range val {
			m, ok := item.(map[string]interface{})
			if !ok {
				return fmt.Errorf("clause %d must be an object, got %T", i, item)
			}
			out = append(out, Clause(m))
		}
		*c = out
	default:
		return fmt.Errorf("clauses must be an object or a list of objects, got %T", val)
	}
	return nil
}

// Clone deep-copies every clause.
func (c Clauses) Clone() Clauses {
	if c == nil {
		return nil
	}
	out := make(Clauses, len(c))
	for i, clause := range c {
		out[i] = clause.Clone()
	}
	return out
}

// Spec is a declarative predicate bundle: must-match query clauses, optional
// non-scoring filter clauses and optional must-not exclude clauses, bound to
// a target index set.
type Spec struct {
	Index Strings `yaml:"index" json:"index"`

	Query   Clauses `yaml:"query" json:"query"`
	Filter  Clauses `yaml:"filter" json:"filter"`
	Exclude Clauses `yaml:"exclude" json:"exclude"`

	// IndicesPrefixDataset controls whether the dataset name is prepended
	// to every index pattern. Defaults to true since all dataset indices
	// carry that prefix.
	IndicesPrefixDataset *bool `yaml:"indices_prefix_dataset" json:"indices_prefix_dataset"`
}

// PrefixDataset reports whether index patterns get the dataset name prefix.
func (s *Spec) PrefixDataset() bool {
	return s.IndicesPrefixDataset == nil || *s.IndicesPrefixDataset
}

// Validate feeds every clause through a throwaway builder and reports all
// broken clauses together with their section and position.
func (s *Spec) Validate() error {
	errs := make([]ClauseError, 0)
	collect := func(section string, clauses Clauses) {
		for i, clause := range clauses {
			if err := clause.Validate(); err != nil {
				errs = append(errs, ClauseError{Section: section, Pos: i, Err: err})
			}
		}
	}
	collect("query", s.Query)
	collect("filter", s.Filter)
	collect("exclude", s.Exclude)
	if len(errs) > 0 {
		return ErrInvalidSpec{Errs: errs}
	}
	return nil
}

// Clone deep-copies the spec so per-hit template rendering never mutates the
// parsed original.
func (s *Spec) Clone() *Spec {
	if s == nil {
		return nil
	}
	out := &Spec{
		Query:   s.Query.Clone(),
		Filter:  s.Filter.Clone(),
		Exclude: s.Exclude.Clone(),
	}
	if s.Index != nil {
		out.Index = append(Strings{}, s.Index...)
	}
	if s.IndicesPrefixDataset != nil {
		prefix := *s.IndicesPrefixDataset
		out.IndicesPrefixDataset = &prefix
	}
	return out
}

// Apply adds the spec's clause chain to a builder.
func (s *Spec) Apply(b *Builder) error {
	for _, clause := range s.Query {
		if err := b.Query(clause); err != nil {
			return err
		}
	}
	for _, clause := range s.Filter {
		if err := b.Filter(clause); err != nil {
			return err
		}
	}
	for _, clause := range s.Exclude {
		if err := b.Exclude(clause); err != nil {
			return err
		}
	}
	return nil
}

// Builder assembles validated clauses into a native bool query body.
type Builder struct {
	must    []Clause
	filter  []Clause
	mustNot []Clause
}

// NewBuilder returns an empty query builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Query appends a must-match scoring clause.
func (b *Builder) Query(c Clause) error {
	if err := c.Validate(); err != nil {
		return err
	}
	b.must = append(b.must, c)
	return nil
}

// Filter appends a must-match non-scoring clause.
func (b *Builder) Filter(c Clause) error {
	if err := c.Validate(); err != nil {
		return err
	}
	b.filter = append(b.filter, c)
	return nil
}

// Exclude appends a must-not clause.
func (b *Builder) Exclude(c Clause) error {
	if err := c.Validate(); err != nil {
		return err
	}
	b.mustNot = append(b.mustNot, c)
	return nil
}

// ExcludeTerm appends a must-not term clause for a single field. Used for
// the fingerprint idempotence guard, which is machine built and needs no
// validation pass.
func (b *Builder) ExcludeTerm(field string, value interface{}) *Builder {
	b.mustNot = append(b.mustNot, Clause{
		"term": map[string]interface{}{field: value},
	})
	return b
}

// Empty reports whether no clause has been added.
func (b *Builder) Empty() bool {
	return len(b.must) == 0 && len(b.filter) == 0 && len(b.mustNot) == 0
}

// Bool returns the assembled bool clause without the outer query wrapper,
// the form sequence query filters expect.
func (b *Builder) Bool() map[string]interface{} {
	bool_ := make(map[string]interface{})
	if len(b.must) > 0 {
		bool_["must"] = clauseList(b.must)
	}
	if len(b.filter) > 0 {
		bool_["filter"] = clauseList(b.filter)
	}
	if len(b.mustNot) > 0 {
		bool_["must_not"] = clauseList(b.mustNot)
	}
	return map[string]interface{}{"bool": bool_}
}

// Body returns the full search/update request body.
func (b *Builder) Body() datastore.Map {
	return datastore.Map{"query": b.Bool()}
}

func clauseList(clauses []Clause) []interface{} {
	out := make([]interface{}, len(clauses))
	for i, c := range clauses {
		out[i] = map[string]interface{}(c)
	}
	return out
}
