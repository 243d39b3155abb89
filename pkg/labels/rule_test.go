package labels

import (
	"context"
	"strings"
	"testing"
)

func queryRuleDef(id string, labels ...interface{}) map[string]interface{} {
	return map[string]interface{}{
		"id":     id,
		"type":   TypeQuery,
		"labels": labels,
		"query": map[string]interface{}{
			"term": map[string]interface{}{"source.ip": "192.42.0.255"},
		},
	}
}

func TestParseRules(t *testing.T) {
	raw := []map[string]interface{}{
		queryRuleDef("attacker_vpn", "attacker", "foothold"),
		{"id": "placeholder", "type": TypeNoop, "labels": []interface{}{"none"}},
	}
	rules, err := ParseRules(raw)
	if err != nil {
		t.Fatalf("parse rules failed: %s", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
	if rules[0].ID() != "attacker_vpn" || rules[0].Type() != TypeQuery {
		t.Fatalf("unexpected first rule: %s (%s)", rules[0].ID(), rules[0].Type())
	}
	if got := rules[0].Labels(); len(got) != 2 || got[0] != "attacker" {
		t.Fatalf("unexpected labels: %v", got)
	}
}

func TestParseRulesDuplicateIDs(t *testing.T) {
	raw := []map[string]interface{}{
		queryRuleDef("dup", "a"),
		queryRuleDef("dup", "b"),
		queryRuleDef("other", "c"),
		queryRuleDef("other", "d"),
	}
	_, err := ParseRules(raw)
	if err == nil {
		t.Fatal("duplicate ids must be rejected")
	}
	dups, ok := err.(ErrDuplicateRuleIDs)
	if !ok {
		t.Fatalf("expected ErrDuplicateRuleIDs, got %T", err)
	}
	if len(dups.IDs) != 2 || dups.IDs[0] != "dup" || dups.IDs[1] != "other" {
		t.Fatalf("unexpected duplicate list: %v", dups.IDs)
	}
}

func TestParseRulesCollectsAllErrors(t *testing.T) {
	raw := []map[string]interface{}{
		// unknown type
		{"id": "bad_type", "type": "elasticsearch.frobnicate", "labels": []interface{}{"x"}},
		// semicolons would break the fingerprint encoding
		{
			"id": "bad_label", "type": TypeQuery, "labels": []interface{}{"a;b"},
			"query": map[string]interface{}{"match_all": map[string]interface{}{}},
		},
		// no query clause at all
		{"id": "no_query", "type": TypeQuery, "labels": []interface{}{"x"}},
		// missing id gets a positional placeholder
		{"type": TypeNoop, "labels": []interface{}{}},
		queryRuleDef("fine", "ok"),
	}
	_, err := ParseRules(raw)
	if err == nil {
		t.Fatal("invalid rules must be rejected")
	}
	bulk, ok := err.(ErrBulkValidation)
	if !ok {
		t.Fatalf("expected ErrBulkValidation, got %T", err)
	}
	if len(bulk.Errs) != 4 {
		t.Fatalf("expected 4 rule errors, got %d: %s", len(bulk.Errs), err)
	}
	byID := make(map[string]error, len(bulk.Errs))
	for _, re := range bulk.Errs {
		byID[re.ID] = re.Err
	}
	if _, ok := byID["bad_type"].(ErrUnknownRuleType); !ok {
		t.Fatalf("bad_type: expected ErrUnknownRuleType, got %T", byID["bad_type"])
	}
	if _, ok := byID["bad_label"].(ErrInvalidLabel); !ok {
		t.Fatalf("bad_label: expected ErrInvalidLabel, got %T", byID["bad_label"])
	}
	if _, ok := byID["rule[3]"]; !ok {
		t.Fatalf("missing-id rule not reported positionally: %v", byID)
	}
}

func TestFingerprint(t *testing.T) {
	b := Base{RuleID: "r", RuleLabels: []string{"attacker", "foothold"}}
	if got := b.Fingerprint(); got != "attacker;foothold" {
		t.Fatalf("unexpected fingerprint %q", got)
	}
}

func TestNoopRuleApply(t *testing.T) {
	rules, err := ParseRules([]map[string]interface{}{
		{"id": "nop", "type": TypeNoop, "labels": []interface{}{"none"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	n, err := rules[0].Apply(context.Background(), &ApplyParams{})
	if err != nil || n != 0 {
		t.Fatalf("noop must label nothing, got %d, %v", n, err)
	}
}

func TestInstallScripts(t *testing.T) {
	store := &fakeStore{}
	if err := InstallScripts(context.Background(), store, "ds", "my_labels"); err != nil {
		t.Fatalf("install scripts failed: %s", err)
	}
	if len(store.scripts) != 3 {
		t.Fatalf("expected 3 scripts, got %d", len(store.scripts))
	}
	wantIDs := map[string]string{
		"ds_kyoushi_label_update": "update",
		"ds_kyoushi_label_filter": "filter",
		"ds_kyoushi_label_field":  "field",
	}
	for _, s := range store.scripts {
		wantCtx, ok := wantIDs[s.ID]
		if !ok {
			t.Fatalf("unexpected script id %q", s.ID)
		}
		if s.Script.Context != wantCtx {
			t.Fatalf("script %s has context %q, want %q", s.ID, s.Script.Context, wantCtx)
		}
		if s.Script.Language != "painless" {
			t.Fatalf("script %s has language %q", s.ID, s.Script.Language)
		}
		if strings.Contains(s.Script.Source, "{{") {
			t.Fatalf("script %s still contains placeholders", s.ID)
		}
		if !strings.Contains(s.Script.Source, "my_labels") {
			t.Fatalf("script %s was not rendered for the label object", s.ID)
		}
	}
}
