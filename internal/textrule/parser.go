// Package textrule parses the supplemented immediate/one-shot rule formats
// from original_source/vm.py: a line-oriented script, raw condition JSON,
// or an already-decoded condition list — each wrapped into the reserved
// "immediate" rule document (rule.ImmediateRuleID), compiled and run once,
// never persisted. Grounded on vm.py's parse_from_string/parse_from_json/
// parse_from_dict; the original's `parse` pattern-matching library has no
// counterpart in the example pack, so line matching uses stdlib regexp
// named groups instead (see DESIGN.md).
package textrule

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/podnet/rulevm/internal/store"
)

const (
	immediateRuleID   = "immediate"
	immediateRuleName = "One shot Rule"
	immediateRuleDesc = "This is a rule created using the VM APIs"
)

type linePattern struct {
	operation string
	re        *regexp.Regexp
}

var linePatterns = []linePattern{
	{"at_time_with_occurrence", regexp.MustCompile(`^at_time_with_occurrence\s+(?P<time>\S+)\s+(?P<occurrence>\d+)$`)},
	{"at_time", regexp.MustCompile(`^at_time\s+(?P<time>\S+)$`)},
	{"dw_state_for", regexp.MustCompile(`^dw_state_for\s+(?P<device_id>\S+)\s+(?P<state>\S+)\s+(?P<for>\d+)$`)},
	{"dw_state", regexp.MustCompile(`^dw_state\s+(?P<device_id>\S+)\s+(?P<state>\S+)$`)},
	{"occupancy_for", regexp.MustCompile(`^occupancy_state_for\s+(?P<device_id>\S+)\s+(?P<state>\S+)\s+(?P<for>\d+)$`)},
	{"occupancy", regexp.MustCompile(`^occupancy_state\s+(?P<device_id>\S+)\s+(?P<state>\S+)$`)},
	{"relay_state_for", regexp.MustCompile(`^relay_state_for\s+(?P<device_id>\S+)\s+(?P<relay_index>\d+)\s+(?P<state>\d+)\s+(?P<for>\d+)$`)},
	{"relay_state", regexp.MustCompile(`^relay_state\s+(?P<device_id>\S+)\s+(?P<relay_index>\d+)\s+(?P<state>\d+)$`)},
	{"temperature_for", regexp.MustCompile(`^temperature_for\s+(?P<device_id>\S+)\s+(?P<comparison_op>\S+)\s+(?P<value>[-0-9.]+)\s+(?P<for>\d+)$`)},
	{"temperature", regexp.MustCompile(`^temperature\s+(?P<device_id>\S+)\s+(?P<comparison_op>\S+)\s+(?P<value>[-0-9.]+)$`)},
	{"energy_meter", regexp.MustCompile(`^energy_meter\s+(?P<device_id>\S+)\s+(?P<variable>voltage|current|real_power|apparent_power|power_factor|frequency|energy)\s+(?P<comparison_op>\S+)\s+(?P<value>[-0-9.]+)$`)},
}

// ParseString parses a line-oriented rule script: one instruction per line,
// "and"/"or" lines for the logical operators, everything else matched
// against the closed opcode line grammar.
func ParseString(script string) (store.RuleDocument, error) {
	var conditions []store.ConditionEntry

	for i, rawLine := range strings.Split(script, "\n") {
		line := strings.ToLower(strings.TrimSpace(rawLine))
		if line == "" {
			continue
		}

		switch {
		case line == "and":
			conditions = append(conditions, store.ConditionEntry{"operation": "logical_and"})
			continue
		case line == "or":
			conditions = append(conditions, store.ConditionEntry{"operation": "logical_or"})
			continue
		}

		entry, matched := matchLine(line)
		if !matched {
			return store.RuleDocument{}, fmt.Errorf("textrule: line %d: unrecognized instruction %q", i+1, rawLine)
		}
		conditions = append(conditions, entry)
	}

	return ParseDict(conditions), nil
}

func matchLine(line string) (store.ConditionEntry, bool) {
	for _, p := range linePatterns {
		m := p.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		entry := store.ConditionEntry{"operation": p.operation}
		for i, name := range p.re.SubexpNames() {
			if i == 0 || name == "" {
				continue
			}
			entry[name] = coerceField(name, m[i])
		}
		return entry, true
	}
	return nil, false
}

func coerceField(name, raw string) interface{} {
	switch name {
	case "occurrence", "for", "relay_index", "state":
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	case "value":
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	}
	return raw
}

// ParseJSON parses a raw JSON condition-entry array.
func ParseJSON(data []byte) (store.RuleDocument, error) {
	var conditions []store.ConditionEntry
	if err := json.Unmarshal(data, &conditions); err != nil {
		return store.RuleDocument{}, fmt.Errorf("textrule: decode JSON conditions: %w", err)
	}
	return ParseDict(conditions), nil
}

// ParseDict wraps an already-decoded condition list into the reserved
// immediate rule document: no actions, enabled, non-periodic, never
// persisted by the caller.
func ParseDict(conditions []store.ConditionEntry) store.RuleDocument {
	return store.RuleDocument{
		RuleID:      immediateRuleID,
		Name:        immediateRuleName,
		Description: immediateRuleDesc,
		Enabled:     true,
		Conditions:  conditions,
	}
}
