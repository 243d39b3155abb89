// Package labels implements the dataset labeling engine. Declarative rules
// select log records on the document store and attach labels to them via a
// stored update script, then the accumulated label state is written back to
// the file system next to the raw logs.
package labels

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/kyoushi/dataset/pkg/config"
	"github.com/kyoushi/dataset/pkg/datastore"
)

// ApplyParams carries the shared execution state every rule application
// needs.
type ApplyParams struct {
	// DatasetDir is the dataset base directory
	DatasetDir string
	// Dataset is the dataset configuration
	Dataset config.Dataset
	// Store is the document store holding the parsed log records
	Store datastore.Store
	// UpdateScriptID is the stored label update script to invoke
	UpdateScriptID string
	// LabelObject is the document field label state lives under
	LabelObject string
	// Poller drives waiting on async store tasks
	Poller datastore.Poller
}

// Rule is a single labeling rule. Apply assigns the rule's labels to every
// matching record and returns how many records were updated.
type Rule interface {
	ID() string
	Type() string
	Labels() []string
	Apply(ctx context.Context, p *ApplyParams) (int64, error)
}

// Base holds the fields shared by all rule types.
type Base struct {
	RuleID      string   `yaml:"id"`
	RuleType    string   `yaml:"type"`
	RuleLabels  []string `yaml:"labels"`
	Description string   `yaml:"description"`
}

func (b Base) ID() string       { return b.RuleID }
func (b Base) Type() string     { return b.RuleType }
func (b Base) Labels() []string { return b.RuleLabels }

// Fingerprint is the semicolon-joined label list. The update script stores
// it per rule so unchanged re-applications turn into noops.
func (b Base) Fingerprint() string {
	return strings.Join(b.RuleLabels, ";")
}

// UpdateParams returns the update script parameters for this rule.
func (b Base) UpdateParams() map[string]interface{} {
	labels := make([]interface{}, len(b.RuleLabels))
	for i, l := range b.RuleLabels {
		labels[i] = l
	}
	return map[string]interface{}{
		"rule":   b.RuleID,
		"labels": labels,
	}
}

func (b Base) validate() error {
	if b.RuleID == "" {
		return fmt.Errorf("missing rule id")
	}
	if len(b.RuleLabels) == 0 {
		return fmt.Errorf("rules must define at least one label")
	}
	for _, label := range b.RuleLabels {
		if strings.Contains(label, ";") {
			return ErrInvalidLabel{Rule: b.RuleID, Label: label}
		}
	}
	return nil
}

// ParseFunc decodes a raw rule definition into a validated Rule.
type ParseFunc func(raw map[string]interface{}) (Rule, error)

var ruleTypes = map[string]ParseFunc{
	TypeNoop:        parseNoopRule,
	TypeQuery:       parseQueryRule,
	TypeSubQuery:    parseSubQueryRule,
	TypeParentQuery: parseParentQueryRule,
	TypeSequence:    parseSequenceRule,
}

// RegisterRuleType adds a custom rule type, overriding any builtin of the
// same name.
func RegisterRuleType(typ string, fn ParseFunc) {
	ruleTypes[typ] = fn
}

// decodeRule re-encodes a raw definition and unmarshals it into a typed rule
// struct.
func decodeRule(raw map[string]interface{}, dest interface{}) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, dest)
}

// ParseRules decodes and validates a list of raw rule definitions. All
// validation errors are collected before returning so a rule file can be
// fixed in one pass. No rule is applied unless every rule parses.
func ParseRules(raw []map[string]interface{}) ([]Rule, error) {
	seen := make(map[string]bool, len(raw))
	duplicates := make([]string, 0)
	dupSeen := make(map[string]bool)
	for _, r := range raw {
		id, _ := r["id"].(string)
		if id == "" {
			continue
		}
		if seen[id] && !dupSeen[id] {
			duplicates = append(duplicates, id)
			dupSeen[id] = true
		}
		seen[id] = true
	}
	if len(duplicates) > 0 {
		return nil, ErrDuplicateRuleIDs{IDs: duplicates}
	}

	rules := make([]Rule, 0, len(raw))
	errs := make([]RuleError, 0)
	for i, r := range raw {
		id, _ := r["id"].(string)
		if id == "" {
			id = fmt.Sprintf("rule[%d]", i)
		}
		typ, _ := r["type"].(string)
		parse, ok := ruleTypes[typ]
		if !ok {
			errs = append(errs, RuleError{ID: id, Err: ErrUnknownRuleType{Type: typ}})
			continue
		}
		rule, err := parse(r)
		if err != nil {
			errs = append(errs, RuleError{ID: id, Err: err})
			continue
		}
		rules = append(rules, rule)
	}
	if len(errs) > 0 {
		return nil, ErrBulkValidation{Errs: errs}
	}
	return rules, nil
}

// Rule type names as used in rule definition files.
const (
	TypeNoop        = "noop"
	TypeQuery       = "elasticsearch.query"
	TypeSubQuery    = "elasticsearch.sub_query"
	TypeParentQuery = "elasticsearch.parent_query"
	TypeSequence    = "elasticsearch.sequence"
)

// NoopRule matches nothing and labels nothing.
type NoopRule struct {
	Base `yaml:",inline"`
}

func parseNoopRule(raw map[string]interface{}) (Rule, error) {
	var r NoopRule
	if err := decodeRule(raw, &r); err != nil {
		return nil, err
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Apply does nothing and always reports zero updated records.
func (r *NoopRule) Apply(ctx context.Context, p *ApplyParams) (int64, error) {
	return 0, nil
}
