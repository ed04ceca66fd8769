package textrule

import "testing"

func TestParseStringSingleCondition(t *testing.T) {
	doc, err := ParseString("relay_state dev-1 0 1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if doc.RuleID != immediateRuleID {
		t.Errorf("RuleID = %q, want %q", doc.RuleID, immediateRuleID)
	}
	if len(doc.Conditions) != 1 {
		t.Fatalf("len(Conditions) = %d, want 1", len(doc.Conditions))
	}
	c := doc.Conditions[0]
	if c.Operation() != "relay_state" {
		t.Errorf("operation = %q, want relay_state", c.Operation())
	}
	if c["device_id"] != "dev-1" {
		t.Errorf("device_id = %v, want dev-1", c["device_id"])
	}
	if c["relay_index"] != 0 {
		t.Errorf("relay_index = %v (%T), want int 0", c["relay_index"], c["relay_index"])
	}
	if c["state"] != 1 {
		t.Errorf("state = %v (%T), want int 1", c["state"], c["state"])
	}
}

func TestParseStringWithLogicalOperators(t *testing.T) {
	script := "relay_state dev-1 0 1\nand\ndw_state dev-2 open"
	doc, err := ParseString(script)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(doc.Conditions) != 3 {
		t.Fatalf("len(Conditions) = %d, want 3", len(doc.Conditions))
	}
	if doc.Conditions[1].Operation() != "logical_and" {
		t.Errorf("middle condition operation = %q, want logical_and", doc.Conditions[1].Operation())
	}
	dw := doc.Conditions[2]
	if dw["state"] != "open" {
		t.Errorf("dw_state's state field = %v, want string open (not coerced to int)", dw["state"])
	}
}

func TestParseStringBlankLinesIgnored(t *testing.T) {
	script := "\n  \nrelay_state dev-1 0 1\n\n"
	doc, err := ParseString(script)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(doc.Conditions) != 1 {
		t.Fatalf("len(Conditions) = %d, want 1", len(doc.Conditions))
	}
}

func TestParseStringUnrecognizedLine(t *testing.T) {
	_, err := ParseString("not_a_real_opcode dev-1")
	if err == nil {
		t.Fatal("expected an error for an unrecognized instruction line")
	}
}

func TestParseStringEnergyMeterCapturesVariable(t *testing.T) {
	doc, err := ParseString("energy_meter dev-1 voltage gt 110.5")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	c := doc.Conditions[0]
	if c["variable"] != "voltage" {
		t.Errorf("variable = %v, want voltage (original_source left this field uncaptured; this is the fix)", c["variable"])
	}
	if c["comparison_op"] != "gt" {
		t.Errorf("comparison_op = %v, want gt", c["comparison_op"])
	}
	if v, ok := c["value"].(float64); !ok || v != 110.5 {
		t.Errorf("value = %v (%T), want float64 110.5", c["value"], c["value"])
	}
}

func TestParseStringAtTimeWithOccurrence(t *testing.T) {
	doc, err := ParseString("at_time_with_occurrence 08:30:00 3")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	c := doc.Conditions[0]
	if c["time"] != "08:30:00" {
		t.Errorf("time = %v, want 08:30:00", c["time"])
	}
	if c["occurrence"] != 3 {
		t.Errorf("occurrence = %v (%T), want int 3", c["occurrence"], c["occurrence"])
	}
}

func TestParseJSON(t *testing.T) {
	doc, err := ParseJSON([]byte(`[{"operation":"relay_state","device_id":"dev-1","relay_index":0,"state":1}]`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(doc.Conditions) != 1 {
		t.Fatalf("len(Conditions) = %d, want 1", len(doc.Conditions))
	}
	if doc.RuleID != immediateRuleID {
		t.Errorf("RuleID = %q, want %q", doc.RuleID, immediateRuleID)
	}
}

func TestParseJSONInvalid(t *testing.T) {
	if _, err := ParseJSON([]byte(`not json`)); err == nil {
		t.Fatal("expected an error for invalid JSON")
	}
}

func TestParseDictWrapsImmediateRule(t *testing.T) {
	doc := ParseDict(nil)
	if doc.RuleID != immediateRuleID {
		t.Errorf("RuleID = %q, want %q", doc.RuleID, immediateRuleID)
	}
	if !doc.Enabled {
		t.Error("expected the immediate rule document to be enabled")
	}
	if doc.PeriodicExecution {
		t.Error("expected the immediate rule document to be non-periodic")
	}
}
