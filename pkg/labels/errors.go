package labels

import (
	"fmt"
	"strings"
)

// ErrInvalidLabel indicates a label that would break the semicolon-joined
// fingerprint encoding.
type ErrInvalidLabel struct {
	Rule  string
	Label string
}

func (e ErrInvalidLabel) Error() string {
	return fmt.Sprintf("rule %s: labels must not contain semicolons, but got %q", e.Rule, e.Label)
}

// ErrUnknownRuleType indicates a rule type string with no registered parser.
type ErrUnknownRuleType struct {
	Type string
}

func (e ErrUnknownRuleType) Error() string {
	return fmt.Sprintf("unknown labeling rule type %q", e.Type)
}

// ErrDuplicateRuleIDs reports every duplicated rule id found in a rule list.
type ErrDuplicateRuleIDs struct {
	IDs []string
}

func (e ErrDuplicateRuleIDs) Error() string {
	return fmt.Sprintf("rule ids must be unique, but got duplicates: %s", strings.Join(e.IDs, ", "))
}

// RuleError ties a validation failure to the rule definition it came from.
type RuleError struct {
	ID  string
	Err error
}

func (e RuleError) Error() string {
	return fmt.Sprintf("rule %s: %s", e.ID, e.Err)
}

func (e RuleError) Unwrap() error { return e.Err }

// ErrBulkValidation is a bulk error collecting every invalid rule in a rule
// list. Execution never starts while any rule is unvalidated, so all
// failures are gathered before returning.
type ErrBulkValidation struct {
	Errs []RuleError
}

func (e ErrBulkValidation) Error() string {
	parts := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		parts = append(parts, err.Error())
	}
	return fmt.Sprintf("got %d invalid labeling rules: %s", len(e.Errs), strings.Join(parts, "; "))
}

// ErrRuleExec wraps a store failure during a specific rule's application.
// It aborts the remaining rule sequence.
type ErrRuleExec struct {
	ID  string
	Err error
}

func (e ErrRuleExec) Error() string {
	return fmt.Sprintf("error executing rule %q: %s", e.ID, e.Err)
}

func (e ErrRuleExec) Unwrap() error { return e.Err }
