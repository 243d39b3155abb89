package query

import (
	"fmt"
	"strings"
)

// ErrUnknownClause indicates a query clause kind the builder has no
// validator for.
type ErrUnknownClause struct {
	Kind string
}

func (e ErrUnknownClause) Error() string {
	return fmt.Sprintf("unknown query clause type %q", e.Kind)
}

// ErrMalformedClause contextualizes a structurally broken clause presented
// by the rule writer.
type ErrMalformedClause struct {
	Kind string
	Msg  string
}

func (e ErrMalformedClause) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("malformed clause: %s", e.Msg)
	}
	return fmt.Sprintf("malformed %s clause: %s", e.Kind, e.Msg)
}

// ClauseError ties a clause validation failure to its position within the
// query, filter or exclude list it came from.
type ClauseError struct {
	Section string
	Pos     int
	Err     error
}

func (e ClauseError) Error() string {
	return fmt.Sprintf("%s[%d]: %s", e.Section, e.Pos, e.Err)
}

// ErrInvalidSpec is a bulk error collecting every broken clause of a query
// spec. All positions are reported together so the rule writer can fix the
// whole definition in one pass.
type ErrInvalidSpec struct {
	Errs []ClauseError
}

func (e ErrInvalidSpec) Error() string {
	parts := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		parts = append(parts, err.Error())
	}
	return fmt.Sprintf("invalid query spec: %s", strings.Join(parts, "; "))
}
