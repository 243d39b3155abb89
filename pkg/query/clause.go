package query

import (
	"fmt"

	"github.com/kyoushi/dataset/pkg/datastore"
)

// Clause is a single query clause keyed by its kind, in the store's native
// JSON form, e.g. {"term": {"source.ip": "192.42.0.255"}}.
type Clause map[string]interface{}

// ClauseValidator checks the body of a clause kind for structural validity.
type ClauseValidator func(body interface{}) error

// clauseValidators is the closed set of supported clause kinds. Extended via
// RegisterClause. Populated in init to avoid an initialization cycle through
// validateBool, which validates sub-clauses recursively.
var clauseValidators map[string]ClauseValidator

func init() {
	clauseValidators = map[string]ClauseValidator{
		"term":           validateFieldMap,
		"terms":          validateMapBody,
		"match":          validateFieldMap,
		"match_phrase":   validateFieldMap,
		"prefix":         validateFieldMap,
		"wildcard":       validateFieldMap,
		"range":          validateRange,
		"exists":         validateExists,
		"ids":            validateIDs,
		"bool":           validateBool,
		"script":         validateScript,
		"query_string":   validateMapBody,
		"function_score": validateMapBody,
		"match_all":      validateMapBody,
	}
}

// RegisterClause adds a clause kind to the validator registry, replacing any
// previous validator for that kind.
func RegisterClause(kind string, validator ClauseValidator) {
	clauseValidators[kind] = validator
}

// Validate checks that the clause names exactly one known kind and that its
// body has the shape the store would accept. Catching this at configuration
// load time keeps broken clauses from surfacing mid-execution.
func (c Clause) Validate() error {
	if len(c) != 1 {
		return ErrMalformedClause{
			Msg: fmt.Sprintf("a clause must contain exactly one query type, got %d keys", len(c)),
		}
	}
	for kind, body := range c {
		validator, ok := clauseValidators[kind]
		if !ok {
			return ErrUnknownClause{Kind: kind}
		}
		if err := validator(body); err != nil {
			return err
		}
	}
	return nil
}

// Clone deep-copies the clause so templated variants never contaminate the
// parsed original.
func (c Clause) Clone() Clause {
	return Clause(datastore.DeepCopyMap(c))
}

func asMap(body interface{}) (map[string]interface{}, bool) {
	m, ok := body.(map[string]interface{})
	return m, ok
}

func validateMapBody(body interface{}) error {
	if _, ok := asMap(body); !ok {
		return ErrMalformedClause{Msg: fmt.Sprintf("clause body must be an object, got %T", body)}
	}
	return nil
}

// validateFieldMap covers the single field-to-value clause kinds
func validateFieldMap(body interface{}) error {
	m, ok := asMap(body)
	if !ok {
		return ErrMalformedClause{Msg: fmt.Sprintf("clause body must be an object, got %T", body)}
	}
	if len(m) == 0 {
		return ErrMalformedClause{Msg: "clause body must name a field"}
	}
	for field, value := range m {
		switch value.(type) {
		case map[string]interface{}, []interface{}:
			// parameterized form, e.g. {"value": ..., "boost": ...}
		case nil:
			return ErrMalformedClause{Msg: fmt.Sprintf("field %q has no value", field)}
		}
	}
	return nil
}

var rangeOperators = map[string]bool{
	"gte": true, "gt": true, "lte": true, "lt": true,
	"format": true, "relation": true, "time_zone": true, "boost": true,
}

func validateRange(body interface{}) error {
	m, ok := asMap(body)
	if !ok {
		return ErrMalformedClause{Kind: "range", Msg: fmt.Sprintf("body must be an object, got %T", body)}
	}
	for field, bounds := range m {
		b, ok := asMap(bounds)
		if !ok {
			return ErrMalformedClause{Kind: "range", Msg: fmt.Sprintf("field %q bounds must be an object", field)}
		}
		var found bool
		for op := range b {
			if !rangeOperators[op] {
				return ErrMalformedClause{Kind: "range", Msg: fmt.Sprintf("unknown operator %q on field %q", op, field)}
			}
			switch op {
			case "gte", "gt", "lte", "lt":
				found = true
			}
		}
		if !found {
			return ErrMalformedClause{Kind: "range", Msg: fmt.Sprintf("field %q needs at least one bound", field)}
		}
	}
	return nil
}

func validateExists(body interface{}) error {
	m, ok := asMap(body)
	if !ok {
		return ErrMalformedClause{Kind: "exists", Msg: fmt.Sprintf("body must be an object, got %T", body)}
	}
	if _, ok := m["field"].(string); !ok {
		return ErrMalformedClause{Kind: "exists", Msg: "body must contain a string field key"}
	}
	return nil
}

func validateIDs(body interface{}) error {
	m, ok := asMap(body)
	if !ok {
		return ErrMalformedClause{Kind: "ids", Msg: fmt.Sprintf("body must be an object, got %T", body)}
	}
	if _, ok := m["values"].([]interface{}); !ok {
		if _, ok := m["values"].([]string); !ok {
			return ErrMalformedClause{Kind: "ids", Msg: "body must contain a values list"}
		}
	}
	return nil
}

func validateScript(body interface{}) error {
	m, ok := asMap(body)
	if !ok {
		return ErrMalformedClause{Kind: "script", Msg: fmt.Sprintf("body must be an object, got %T", body)}
	}
	if _, ok := m["script"]; !ok {
		return ErrMalformedClause{Kind: "script", Msg: "body must contain a script key"}
	}
	return nil
}

var boolSections = map[string]bool{
	"must": true, "filter": true, "should": true, "must_not": true,
	"minimum_should_match": true, "boost": true,
}

func validateBool(body interface{}) error {
	m, ok := asMap(body)
	if !ok {
		return ErrMalformedClause{Kind: "bool", Msg: fmt.Sprintf("body must be an object, got %T", body)}
	}
	for section, value := range m {
		if !boolSections[section] {
			return ErrMalformedClause{Kind: "bool", Msg: fmt.Sprintf("unknown section %q", section)}
		}
		switch section {
		case "minimum_should_match", "boost":
			continue
		}
		for _, sub := range subClauses(value) {
			if err := sub.Validate(); err != nil {
				return ErrMalformedClause{Kind: "bool", Msg: fmt.Sprintf("%s: %s", section, err)}
			}
		}
	}
	return nil
}

func subClauses(value interface{}) []Clause {
	switch v := value.(type) {
	case []interface{}:
		out := make([]Clause, 0, len(v))
		for _, item := range v {
			if m, ok := asMap(item); ok {
				out = append(out, Clause(m))
			}
		}
		return out
	case map[string]interface{}:
		return []Clause{Clause(v)}
	default:
		return nil
	}
}
