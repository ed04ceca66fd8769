// Package vmerrors defines the typed error kinds the rule VM distinguishes
// between, per the error handling contract: schema/validation errors drop a
// single rule, store errors fail a single task, snapshot errors are
// swallowed and retried next tick.
package vmerrors

import "errors"

var (
	// ErrSchemaValidation marks a condition or action that failed operand
	// validation at compile time. The owning rule is dropped, others are
	// unaffected.
	ErrSchemaValidation = errors.New("rulevm: schema validation failed")

	// ErrBusDecode marks a bus envelope whose JSON payload could not be
	// parsed. The event is skipped; no rule dispatch occurs for it.
	ErrBusDecode = errors.New("rulevm: bus envelope decode failed")

	// ErrStoreRead marks a failed device/rule/generated-data read during
	// evaluation. The evaluator task terminates without firing actions.
	ErrStoreRead = errors.New("rulevm: store read failed")

	// ErrStoreWrite marks a failed writeback (execution info, occurrence
	// decrement, relay command). Logged and swallowed; not rolled back.
	ErrStoreWrite = errors.New("rulevm: store write failed")

	// ErrSnapshotWrite marks a failed snapshot persist. Logged and
	// swallowed; the next tick retries.
	ErrSnapshotWrite = errors.New("rulevm: snapshot write failed")

	// ErrUnknownOpcode marks a condition or action entry whose "operation"/
	// "type" field does not match any entry in the opcode table.
	ErrUnknownOpcode = errors.New("rulevm: unknown opcode")
)

// ValidationError wraps ErrSchemaValidation with the offending opcode and a
// human-readable reason, mirroring the original jsonschema.ValidationError.
type ValidationError struct {
	Opcode string
	Reason string
}

func (e *ValidationError) Error() string {
	return "rulevm: " + e.Opcode + ": " + e.Reason
}

func (e *ValidationError) Unwrap() error { return ErrSchemaValidation }

// NewValidationError constructs a *ValidationError.
func NewValidationError(opcode, reason string) *ValidationError {
	return &ValidationError{Opcode: opcode, Reason: reason}
}
