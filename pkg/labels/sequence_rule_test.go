package labels

import (
	"testing"
)

func TestSequenceRuleValidate(t *testing.T) {
	if _, err := ParseRules([]map[string]interface{}{{
		"id": "short", "type": TypeSequence, "labels": []interface{}{"x"},
		"sequences": []interface{}{"[ process where true ]"},
	}}); err == nil {
		t.Fatal("single step sequences must be rejected")
	}

	if _, err := ParseRules([]map[string]interface{}{{
		"id": "oversized", "type": TypeSequence, "labels": []interface{}{"x"},
		"sequences":  []interface{}{"[ a where true ]", "[ b where true ]"},
		"batch_size": 20000,
	}}); err == nil {
		t.Fatal("batch sizes beyond the result window must be rejected")
	}

	if _, err := ParseRules([]map[string]interface{}{{
		"id": "bad_filter", "type": TypeSequence, "labels": []interface{}{"x"},
		"sequences": []interface{}{"[ a where true ]", "[ b where true ]"},
		"filter": map[string]interface{}{
			"frobnicate": map[string]interface{}{},
		},
	}}); err == nil {
		t.Fatal("invalid filter clauses must be rejected")
	}
}

func TestSequenceRuleQueryString(t *testing.T) {
	rule := mustParse(t, map[string]interface{}{
		"id": "chain", "type": TypeSequence, "labels": []interface{}{"attack_chain"},
		"by":       []interface{}{"host.name", "user.id"},
		"max_span": "30s",
		"until":    `[ process where process.name == "exit" ]`,
		"sequences": []interface{}{
			`[ process where process.name == "whoami" ]`,
			`[ network where true ]`,
		},
	}).(*SequenceRule)

	want := "sequence by host.name, user.id with maxspan=30s\n" +
		"  [ process where process.name == \"whoami\" ]\n" +
		"  [ network where true ]\n" +
		"until [ process where process.name == \"exit\" ]"
	if got := rule.queryString(); got != want {
		t.Fatalf("unexpected query string:\n%s\nwant:\n%s", got, want)
	}
}

func TestSequenceRuleBody(t *testing.T) {
	rule := mustParse(t, map[string]interface{}{
		"id": "chain", "type": TypeSequence, "labels": []interface{}{"x"},
		"sequences": []interface{}{
			"[ a where true ]", "[ b where true ]", "[ c where true ]",
		},
		"batch_size":        600,
		"max_result_window": 1200,
	}).(*SequenceRule)

	body, err := rule.makeBody(DefaultLabelObject)
	if err != nil {
		t.Fatalf("make body failed: %s", err)
	}
	// one third of the window per three-step sequence
	if body["size"] != 400 {
		t.Fatalf("unexpected size %v", body["size"])
	}
	// batch_size * 1.5 stays below the window here
	if body["fetch_size"] != 900 {
		t.Fatalf("unexpected fetch_size %v", body["fetch_size"])
	}
	if body["event_category_field"] != "event.category" || body["timestamp_field"] != "@timestamp" {
		t.Fatalf("field defaults not applied: %#v", body)
	}
	if _, ok := body["tiebreaker_field"]; ok {
		t.Fatal("tiebreaker_field must be omitted when unset")
	}
	mustNot, ok := body.Field("filter.bool.must_not")
	if !ok {
		t.Fatalf("fingerprint filter missing: %#v", body)
	}
	term := mustNot.([]interface{})[0].(map[string]interface{})["term"].(map[string]interface{})
	if term["kyoushi_labels.flat.chain"] != "x" {
		t.Fatalf("unexpected fingerprint guard: %#v", term)
	}
}

func TestSequenceRuleBodyCapsFetchSize(t *testing.T) {
	rule := mustParse(t, map[string]interface{}{
		"id": "chain", "type": TypeSequence, "labels": []interface{}{"x"},
		"sequences":         []interface{}{"[ a where true ]", "[ b where true ]"},
		"batch_size":        900,
		"max_result_window": 1000,
	}).(*SequenceRule)

	body, err := rule.makeBody(DefaultLabelObject)
	if err != nil {
		t.Fatalf("make body failed: %s", err)
	}
	if body["fetch_size"] != 1000 {
		t.Fatalf("fetch_size must be capped at the result window, got %v", body["fetch_size"])
	}
}
