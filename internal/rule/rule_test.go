package rule

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/podnet/rulevm/internal/store"
)

func relayCondition(deviceID string, state int) store.ConditionEntry {
	return store.ConditionEntry{"operation": "RELAY_STATE", "device_id": deviceID, "relay_index": 0, "state": state}
}

func TestCompileSingleCondition(t *testing.T) {
	doc := store.RuleDocument{
		RuleID:     "r1",
		Enabled:    true,
		Conditions: []store.ConditionEntry{relayCondition("dev-1", 1)},
	}
	r, err := Compile(doc)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if r.InstanceID != r.RuleID {
		t.Error("a freshly compiled registry rule should have InstanceID == RuleID")
	}
	if len(r.Postfix) != 1 {
		t.Fatalf("len(Postfix) = %d, want 1", len(r.Postfix))
	}
	if !r.DependentDevices["dev-1"] {
		t.Error("expected dev-1 in DependentDevices")
	}
}

func TestCompileDependentDevicesAcrossConditions(t *testing.T) {
	doc := store.RuleDocument{
		RuleID:  "r1",
		Enabled: true,
		Conditions: []store.ConditionEntry{
			relayCondition("dev-1", 1),
			{"operation": "LOGICAL_AND"},
			relayCondition("dev-2", 0),
		},
	}
	r, err := Compile(doc)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(r.DependentDevices) != 2 || !r.DependentDevices["dev-1"] || !r.DependentDevices["dev-2"] {
		t.Errorf("DependentDevices = %v, want {dev-1, dev-2}", r.DependentDevices)
	}
	// postfix of [a, AND, b] with the single-slot algorithm is [a, b, AND]
	if len(r.Postfix) != 3 {
		t.Fatalf("len(Postfix) = %d, want 3", len(r.Postfix))
	}
	if !r.Postfix[2].IsOperator() {
		t.Error("expected the operator to be last in postfix order")
	}
}

func TestCompileUnknownOpcodeFails(t *testing.T) {
	doc := store.RuleDocument{
		RuleID:     "r1",
		Conditions: []store.ConditionEntry{{"operation": "NOT_A_REAL_OPCODE"}},
	}
	if _, err := Compile(doc); err == nil {
		t.Fatal("expected Compile to fail for an unknown opcode")
	}
}

func TestCloneProducesIndependentInstanceID(t *testing.T) {
	doc := store.RuleDocument{
		RuleID:     "r1",
		Enabled:    true,
		Conditions: []store.ConditionEntry{relayCondition("dev-1", 1)},
	}
	r, err := Compile(doc)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	clone, err := r.Clone("instance-2")
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if clone.RuleID != r.RuleID {
		t.Errorf("clone.RuleID = %q, want %q", clone.RuleID, r.RuleID)
	}
	if clone.InstanceID != "instance-2" {
		t.Errorf("clone.InstanceID = %q, want instance-2", clone.InstanceID)
	}
	if clone.InstanceID == r.InstanceID {
		t.Error("expected the clone to carry a distinct instance id")
	}
	if len(clone.Postfix) != 1 {
		t.Errorf("clone should independently recompile its postfix, got %d entries", len(clone.Postfix))
	}
}

func TestIsImmediate(t *testing.T) {
	r := &Rule{RuleID: ImmediateRuleID}
	if !r.IsImmediate() {
		t.Error("expected the reserved immediate rule id to report IsImmediate() == true")
	}
	r2 := &Rule{RuleID: "normal-rule"}
	if r2.IsImmediate() {
		t.Error("expected a normal rule id to report IsImmediate() == false")
	}
}

type fakeVMHandle struct {
	parkedDelay      time.Duration
	parkedRule       *Rule
	committedRuleID  string
	committedCond    int
	committedValue   int
}

func (f *fakeVMHandle) ParkForFuture(_ context.Context, r *Rule, delay time.Duration) error {
	f.parkedRule = r
	f.parkedDelay = delay
	return nil
}

func (f *fakeVMHandle) CommitOccurrence(_ context.Context, ruleID string, conditionIndex, newValue int) error {
	f.committedRuleID = ruleID
	f.committedCond = conditionIndex
	f.committedValue = newValue
	return nil
}

func TestRuleContextParkForFutureDelegatesToVMHandle(t *testing.T) {
	r := &Rule{RuleID: "r1"}
	handle := &fakeVMHandle{}
	rc := r.Context(handle)

	if err := rc.ParkForFuture(context.Background(), 5*time.Second); err != nil {
		t.Fatalf("ParkForFuture: %v", err)
	}
	if handle.parkedRule != r {
		t.Error("expected the owning rule to be passed through to the VM handle")
	}
	if handle.parkedDelay != 5*time.Second {
		t.Errorf("parkedDelay = %v, want 5s", handle.parkedDelay)
	}
}

func TestRuleContextCommitOccurrenceWritesConditionAndDelegates(t *testing.T) {
	r := &Rule{
		RuleID:     "r1",
		Conditions: []store.ConditionEntry{{"operation": "AT_TIME_WITH_OCCURRENCE", "occurrence": 3}},
	}
	handle := &fakeVMHandle{}
	rc := r.Context(handle)

	if err := rc.CommitOccurrence(context.Background(), 0, 2); err != nil {
		t.Fatalf("CommitOccurrence: %v", err)
	}
	if r.Conditions[0]["occurrence"] != 2 {
		t.Errorf("Conditions[0].occurrence = %v, want 2", r.Conditions[0]["occurrence"])
	}
	if handle.committedRuleID != "r1" || handle.committedValue != 2 {
		t.Errorf("expected the VM handle to be notified of the commit, got %+v", handle)
	}
}

func TestRuleContextCommitOccurrenceSkipsStoreForImmediateRule(t *testing.T) {
	r := &Rule{
		RuleID:     ImmediateRuleID,
		Conditions: []store.ConditionEntry{{"operation": "AT_TIME_WITH_OCCURRENCE", "occurrence": 3}},
	}
	handle := &fakeVMHandle{}
	rc := r.Context(handle)

	if err := rc.CommitOccurrence(context.Background(), 0, 1); err != nil {
		t.Fatalf("CommitOccurrence: %v", err)
	}
	if handle.committedRuleID != "" {
		t.Error("expected an immediate rule's occurrence commit to never reach the store-backed VM handle")
	}
}

func TestRegistryApplyChangeAddedModifiedRemoved(t *testing.T) {
	reg := NewRegistry(logr.Discard())
	doc := store.RuleDocument{RuleID: "r1", Enabled: true, Conditions: []store.ConditionEntry{relayCondition("dev-1", 1)}}

	if _, err := reg.ApplyChange(context.Background(), store.RuleChange{Kind: store.ChangeAdded, Doc: doc}); err != nil {
		t.Fatalf("ApplyChange(ADDED): %v", err)
	}
	if _, ok := reg.Get("r1"); !ok {
		t.Fatal("expected r1 to be present after ADDED")
	}

	doc.Conditions = append(doc.Conditions, relayCondition("dev-2", 0))
	if _, err := reg.ApplyChange(context.Background(), store.RuleChange{Kind: store.ChangeModified, Doc: doc}); err != nil {
		t.Fatalf("ApplyChange(MODIFIED): %v", err)
	}
	updated, _ := reg.Get("r1")
	if len(updated.DependentDevices) != 2 {
		t.Errorf("expected the modified rule to depend on 2 devices, got %d", len(updated.DependentDevices))
	}

	r, err := reg.ApplyChange(context.Background(), store.RuleChange{Kind: store.ChangeRemoved, Doc: store.RuleDocument{RuleID: "r1"}})
	if err != nil {
		t.Fatalf("ApplyChange(REMOVED): %v", err)
	}
	if r != nil {
		t.Error("expected ApplyChange(REMOVED) to return a nil rule")
	}
	if _, ok := reg.Get("r1"); ok {
		t.Error("expected r1 to be absent after REMOVED")
	}
}

func TestRegistryDependentOnOnlyEnabled(t *testing.T) {
	reg := NewRegistry(logr.Discard())
	reg.AddRule(store.RuleDocument{RuleID: "enabled", Enabled: true, Conditions: []store.ConditionEntry{relayCondition("dev-1", 1)}})
	reg.AddRule(store.RuleDocument{RuleID: "disabled", Enabled: false, Conditions: []store.ConditionEntry{relayCondition("dev-1", 1)}})

	deps := reg.DependentOn("dev-1")
	if len(deps) != 1 || deps[0].RuleID != "enabled" {
		t.Errorf("expected only the enabled rule to be dependent, got %+v", deps)
	}
}
