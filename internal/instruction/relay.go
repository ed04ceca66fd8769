package instruction

import (
	"context"
	"fmt"

	"github.com/podnet/rulevm/internal/store"
	"github.com/podnet/rulevm/internal/vmerrors"
)

// RelayState is RELAY_STATE: true iff the device document's
// relayStatus[relay_index] equals the target state. Grounded on
// original_source/instructions/relay.py's IsRelayState.
type RelayState struct {
	idx         int
	deviceID    string
	relayIndex  int
	targetState int
}

// NewRelayState parses and validates a RELAY_STATE condition entry.
func NewRelayState(conditionIndex int, f Fields) (*RelayState, error) {
	deviceID, err := requireString("RELAY_STATE", f, "device_id")
	if err != nil {
		return nil, err
	}
	relayIndex, err := requireInt("RELAY_STATE", f, "relay_index")
	if err != nil {
		return nil, err
	}
	if relayIndex < 0 || relayIndex > 64 {
		return nil, vmerrors.NewValidationError("RELAY_STATE", "relay_index out of range [0,64]")
	}
	state, err := requireInt("RELAY_STATE", f, "state")
	if err != nil {
		return nil, err
	}
	if state != 0 && state != 1 {
		return nil, vmerrors.NewValidationError("RELAY_STATE", "state must be 0 or 1")
	}
	return &RelayState{idx: conditionIndex, deviceID: deviceID, relayIndex: relayIndex, targetState: state}, nil
}

func (i *RelayState) Kind() Kind                    { return KindRelayState }
func (i *RelayState) IsOperator() bool              { return false }
func (i *RelayState) DeviceID() (string, bool)      { return i.deviceID, true }
func (i *RelayState) ConditionIndex() int           { return i.idx }

func (i *RelayState) Evaluate(ctx context.Context, env *Env, _ RuleContext) (bool, error) {
	doc, err := env.Devices.GetDevice(ctx, i.deviceID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", vmerrors.ErrStoreRead, err)
	}
	if i.relayIndex < 0 || i.relayIndex >= len(doc.RelayStatus) {
		return false, nil
	}
	current := doc.RelayStatus[i.relayIndex]
	env.Log.V(1).Info("evaluated RELAY_STATE", "device", i.deviceID, "current", current, "target", i.targetState)
	return current == i.targetState, nil
}

// RelayStateFor is RELAY_STATE_FOR: true iff the relay has held its target
// state continuously for at least for_minutes. Grounded on
// original_source/instructions/relay.py's IsRelayStateFor.
type RelayStateFor struct {
	idx          int
	deviceID     string
	relayIndex   int
	targetState  int
	forMinutes   float64
}

// NewRelayStateFor parses and validates a RELAY_STATE_FOR condition entry.
func NewRelayStateFor(conditionIndex int, f Fields) (*RelayStateFor, error) {
	deviceID, err := requireString("RELAY_STATE_FOR", f, "device_id")
	if err != nil {
		return nil, err
	}
	relayIndex, err := requireInt("RELAY_STATE_FOR", f, "relay_index")
	if err != nil {
		return nil, err
	}
	if relayIndex < 0 || relayIndex > 64 {
		return nil, vmerrors.NewValidationError("RELAY_STATE_FOR", "relay_index out of range [0,64]")
	}
	state, err := requireInt("RELAY_STATE_FOR", f, "state")
	if err != nil {
		return nil, err
	}
	if state != 0 && state != 1 {
		return nil, vmerrors.NewValidationError("RELAY_STATE_FOR", "state must be 0 or 1")
	}
	forMinutes, err := requireFloat("RELAY_STATE_FOR", f, "for")
	if err != nil {
		return nil, err
	}
	if forMinutes <= 0 {
		return nil, vmerrors.NewValidationError("RELAY_STATE_FOR", "for must be > 0")
	}
	return &RelayStateFor{idx: conditionIndex, deviceID: deviceID, relayIndex: relayIndex, targetState: state, forMinutes: forMinutes}, nil
}

func (i *RelayStateFor) Kind() Kind               { return KindRelayStateFor }
func (i *RelayStateFor) IsOperator() bool         { return false }
func (i *RelayStateFor) DeviceID() (string, bool) { return i.deviceID, true }
func (i *RelayStateFor) ConditionIndex() int      { return i.idx }

func (i *RelayStateFor) Evaluate(ctx context.Context, env *Env, rc RuleContext) (bool, error) {
	matches := func(rec store.GeneratedDataRecord) bool {
		v, ok := rec.RelayState(i.relayIndex)
		return ok && v == i.targetState
	}
	result, err := matchExtendDuration(ctx, env, i.deviceID, i.forMinutes, env.Heartbeats.SwitchState, matches)
	if err != nil {
		return false, err
	}
	if result.Held {
		return true, nil
	}
	parkIfShort(ctx, env, rc, i.forMinutes, result.Measured)
	return false, nil
}
