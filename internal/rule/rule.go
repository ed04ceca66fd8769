// Package rule implements rule compilation and lifecycle: parsing a rule
// document into a postfix instruction stream, computing dependent devices,
// and cloning a rule so a deferred re-evaluation gets its own instance
// identity and its own instruction state. Grounded on
// original_source/rule.py's Rule class.
package rule

import (
	"context"
	"fmt"
	"time"

	"github.com/podnet/rulevm/internal/action"
	"github.com/podnet/rulevm/internal/instruction"
	"github.com/podnet/rulevm/internal/store"
)

// ImmediateRuleID is the reserved identity for an ad-hoc, one-shot rule
// parsed from a script. It never persists execution metadata back.
const ImmediateRuleID = "immediate"

// VMHandle is the scheduler-side capability a rule instance's instructions
// reach through instruction.RuleContext: parking a clone in the
// future-queue, and persisting an occurrence decrement. Implemented by
// package vm's VM so that package rule never imports it — the instruction
// ↔ rule ↔ vm back-reference chain stays a one-way import graph, per the
// design note "resolve as a non-owning handle... never form an owning
// cycle."
type VMHandle interface {
	ParkForFuture(ctx context.Context, r *Rule, delay time.Duration) error
	CommitOccurrence(ctx context.Context, ruleID string, conditionIndex, newValue int) error
}

// Rule is a compiled rule: either the registry-resident canonical
// definition (InstanceID == RuleID) or a scheduled evaluation's instance
// (fresh InstanceID, independent instruction state, same RuleID).
type Rule struct {
	RuleID     string
	InstanceID string

	Name              string
	Description       string
	Enabled           bool
	PeriodicExecution bool

	// Conditions/ActionsRaw are the source-of-truth operand data; Clone
	// recompiles Postfix/ActionStream from these so each instance gets
	// independent instruction state (e.g. AT_TIME_WITH_OCCURRENCE's
	// counter) rather than aliasing the parent's.
	Conditions []store.ConditionEntry
	ActionsRaw []store.ActionEntry

	Postfix          []instruction.Instruction
	ActionStream     []action.Action
	DependentDevices map[string]bool

	LastExecution  time.Time
	ExecutionCount int
}

// Compile parses a rule document into its registry-resident form:
// instruction construction (schema-validating), infix-to-postfix, and
// dependent-device extraction. A schema/unknown-opcode failure anywhere in
// conditions or actions aborts compilation of the whole rule (§3 invariant).
func Compile(doc store.RuleDocument) (*Rule, error) {
	postfix, dependentDevices, err := compilePostfix(doc.Conditions)
	if err != nil {
		return nil, fmt.Errorf("compile rule %q: %w", doc.RuleID, err)
	}
	actionStream, err := compileActions(doc.Actions)
	if err != nil {
		return nil, fmt.Errorf("compile rule %q: %w", doc.RuleID, err)
	}

	r := &Rule{
		RuleID:            doc.RuleID,
		InstanceID:        doc.RuleID,
		Name:              doc.Name,
		Description:       doc.Description,
		Enabled:           doc.Enabled,
		PeriodicExecution: doc.PeriodicExecution,
		Conditions:        doc.Conditions,
		ActionsRaw:        doc.Actions,
		Postfix:           postfix,
		ActionStream:      actionStream,
		DependentDevices:  dependentDevices,
		ExecutionCount:    doc.ExecutionCount,
	}
	if doc.LastExecuted != nil {
		r.LastExecution = *doc.LastExecuted
	}
	return r, nil
}

// Clone produces a deferred-evaluation instance of r: a fresh InstanceID
// and freshly recompiled instructions/actions (so occurrence counters and
// any other per-evaluation instruction state are independent of r's).
// Cloning is mandatory per §4.3/§9 — it is what lets the parent's
// post-evaluation cleanup remove itself from the awaiting-completion list
// without evicting the child.
func (r *Rule) Clone(instanceID string) (*Rule, error) {
	postfix, dependentDevices, err := compilePostfix(r.Conditions)
	if err != nil {
		return nil, fmt.Errorf("clone rule %q: %w", r.RuleID, err)
	}
	actionStream, err := compileActions(r.ActionsRaw)
	if err != nil {
		return nil, fmt.Errorf("clone rule %q: %w", r.RuleID, err)
	}

	return &Rule{
		RuleID:            r.RuleID,
		InstanceID:        instanceID,
		Name:              r.Name,
		Description:       r.Description,
		Enabled:           r.Enabled,
		PeriodicExecution: r.PeriodicExecution,
		Conditions:        r.Conditions,
		ActionsRaw:        r.ActionsRaw,
		Postfix:           postfix,
		ActionStream:      actionStream,
		DependentDevices:  dependentDevices,
		LastExecution:     r.LastExecution,
		ExecutionCount:    r.ExecutionCount,
	}, nil
}

// IsImmediate reports whether r is the ad-hoc, non-persisting rule.
func (r *Rule) IsImmediate() bool { return r.RuleID == ImmediateRuleID }

// Context returns the instruction.RuleContext this rule's instructions
// evaluate through, bound to vm for park/commit callbacks.
func (r *Rule) Context(vm VMHandle) instruction.RuleContext {
	return &ruleContext{rule: r, vm: vm}
}

type ruleContext struct {
	rule *Rule
	vm   VMHandle
}

func (c *ruleContext) RuleID() string { return c.rule.RuleID }
func (c *ruleContext) Periodic() bool { return c.rule.PeriodicExecution }

func (c *ruleContext) ParkForFuture(ctx context.Context, delay time.Duration) error {
	return c.vm.ParkForFuture(ctx, c.rule, delay)
}

func (c *ruleContext) CommitOccurrence(ctx context.Context, conditionIndex, newValue int) error {
	if conditionIndex >= 0 && conditionIndex < len(c.rule.Conditions) {
		c.rule.Conditions[conditionIndex]["occurrence"] = newValue
	}
	if c.rule.IsImmediate() {
		return nil
	}
	return c.vm.CommitOccurrence(ctx, c.rule.RuleID, conditionIndex, newValue)
}
