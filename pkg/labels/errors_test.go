package labels

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, `rule attacker.vpn: labels must not contain semicolons, but got "a;b"`,
		ErrInvalidLabel{Rule: "attacker.vpn", Label: "a;b"}.Error())
	assert.Equal(t, `unknown labeling rule type "regex"`,
		ErrUnknownRuleType{Type: "regex"}.Error())
	assert.Equal(t, "rule ids must be unique, but got duplicates: a, b",
		ErrDuplicateRuleIDs{IDs: []string{"a", "b"}}.Error())
	assert.Equal(t, "rule attacker.vpn: query is required",
		RuleError{ID: "attacker.vpn", Err: fmt.Errorf("query is required")}.Error())
}

func TestBulkValidationAggregates(t *testing.T) {
	err := ErrBulkValidation{Errs: []RuleError{
		{ID: "a", Err: ErrUnknownRuleType{Type: "regex"}},
		{ID: "b", Err: ErrInvalidLabel{Rule: "b", Label: "x;y"}},
	}}
	assert.Contains(t, err.Error(), "got 2 invalid labeling rules")
	assert.Contains(t, err.Error(), `rule a: unknown labeling rule type "regex"`)
}

func TestRuleExecUnwraps(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := ErrRuleExec{ID: "attacker.vpn", Err: cause}
	assert.Equal(t, `error executing rule "attacker.vpn": connection refused`, err.Error())
	assert.True(t, errors.Is(err, cause))
}
