// Package instruction implements the closed, tagged-variant instruction set
// the rule compiler produces and the evaluator consumes: one Go type per
// opcode, each validating its operand fields at construction time and
// exposing a uniform Evaluate contract. Grounded on
// original_source/instructions/*.py (one class per InstructionConstant,
// jsonschema-validated at __init__) and on the teacher's tagged-dispatch
// idiom in internal/engine (step-numbered, typed decisions rather than open
// polymorphism).
package instruction

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/podnet/rulevm/internal/config"
	"github.com/podnet/rulevm/internal/store"
	"github.com/podnet/rulevm/internal/vmerrors"
)

// Kind identifies one opcode in the closed instruction set. Matching against
// a rule document's "operation"/"type" string is case-insensitive; callers
// normalize to Kind via Lookup.
type Kind string

const (
	KindLogicalAnd           Kind = "LOGICAL_AND"
	KindLogicalOr            Kind = "LOGICAL_OR"
	KindAtTime               Kind = "AT_TIME"
	KindAtTimeWithOccurrence Kind = "AT_TIME_WITH_OCCURRENCE"
	KindRelayState           Kind = "RELAY_STATE"
	KindRelayStateFor        Kind = "RELAY_STATE_FOR"
	KindDWState              Kind = "DW_STATE"
	KindDWStateFor           Kind = "DW_STATE_FOR"
	KindOccupancy            Kind = "OCCUPANCY"
	KindOccupancyFor         Kind = "OCCUPANCY_FOR"
	KindEnergyMeter          Kind = "ENERGY_METER"
	KindTemperature          Kind = "TEMPERATURE"
	KindTemperatureFor       Kind = "TEMPERATURE_FOR"
)

// RuleContext is the non-owning handle an instruction uses to reach back
// into its owning rule, per the design note "resolve as a non-owning
// handle (index into the rule registry, or a borrowed pointer whose
// lifetime is the rule's lifetime); never form an owning cycle." Package
// rule implements this for *rule.Rule; package instruction never imports
// package rule.
type RuleContext interface {
	// RuleID is the owning rule's stable identity.
	RuleID() string

	// Periodic reports the owning rule's periodic_execution flag.
	Periodic() bool

	// ParkForFuture asks the VM to clone the owning rule and park the
	// clone in the future-queue for the given delay.
	ParkForFuture(ctx context.Context, delay time.Duration) error

	// CommitOccurrence persists a decremented occurrence count for the
	// condition entry at conditionIndex. Failures are logged by the
	// caller and swallowed (§7: store write during occurrence decrement).
	CommitOccurrence(ctx context.Context, conditionIndex, newValue int) error
}

// Env carries the read-only collaborators an instruction's Evaluate needs:
// the device store, a clock (for deterministic tests), per-opcode
// heartbeat intervals, and a logger.
type Env struct {
	Devices    store.DeviceStore
	Now        func() time.Time
	Heartbeats config.Heartbeats
	Log        logr.Logger
}

func (e *Env) now() time.Time {
	return e.Clock()
}

// Clock returns the current time via Now if set, else the wall clock.
// Exported so collaborators outside this package (the VM's action
// dispatcher, the scheduler's future-queue timers) share the same
// deterministic-clock override used in tests.
func (e *Env) Clock() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

// Instruction is the uniform contract every opcode's Go type satisfies.
type Instruction interface {
	Kind() Kind

	// IsOperator reports whether this instruction is LOGICAL_AND/OR (the
	// evaluator's stack machine treats operators and operands differently).
	IsOperator() bool

	// DeviceID returns the operand's device_id field, if it has one. Used
	// by the compiler to build dependent_devices.
	DeviceID() (string, bool)

	// ConditionIndex is this instruction's position in the rule's raw
	// conditions list, used for occurrence writeback.
	ConditionIndex() int

	// Evaluate runs the instruction's truth test. rc is nil for
	// LOGICAL_AND/LOGICAL_OR, which never call it.
	Evaluate(ctx context.Context, env *Env, rc RuleContext) (bool, error)
}

// Fields is a condition entry's raw operand map, reused from store so
// instruction constructors can validate without importing the compiler.
type Fields = store.ConditionEntry

func requireString(opcode string, f Fields, key string) (string, error) {
	v, ok := f[key]
	if !ok {
		return "", vmerrors.NewValidationError(opcode, "missing required field: "+key)
	}
	s, ok := v.(string)
	if !ok {
		return "", vmerrors.NewValidationError(opcode, "field "+key+" must be a string")
	}
	return s, nil
}

func requireInt(opcode string, f Fields, key string) (int, error) {
	v, ok := f[key]
	if !ok {
		return 0, vmerrors.NewValidationError(opcode, "missing required field: "+key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, vmerrors.NewValidationError(opcode, "field "+key+" must be an integer")
	}
}

func requireFloat(opcode string, f Fields, key string) (float64, error) {
	v, ok := f[key]
	if !ok {
		return 0, vmerrors.NewValidationError(opcode, "missing required field: "+key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, vmerrors.NewValidationError(opcode, "field "+key+" must be a number")
	}
}

func optionalInt(f Fields, key string, def int) int {
	v, ok := f[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}

func requireEnum(opcode string, f Fields, key string, allowed ...string) (string, error) {
	s, err := requireString(opcode, f, key)
	if err != nil {
		return "", err
	}
	for _, a := range allowed {
		if s == a {
			return s, nil
		}
	}
	return "", vmerrors.NewValidationError(opcode, "field "+key+" has invalid value "+s)
}
