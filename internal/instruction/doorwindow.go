package instruction

import (
	"context"
	"fmt"
	"strings"

	"github.com/podnet/rulevm/internal/store"
	"github.com/podnet/rulevm/internal/vmerrors"
)

// DWState is DW_STATE: true iff the most recent generatedData.status
// equals the target state. Grounded on
// original_source/instructions/door_window.py's DoorWindowState.
type DWState struct {
	idx         int
	deviceID    string
	targetState string
}

// NewDWState parses and validates a DW_STATE condition entry.
func NewDWState(conditionIndex int, f Fields) (*DWState, error) {
	deviceID, err := requireString("DW_STATE", f, "device_id")
	if err != nil {
		return nil, err
	}
	state, err := requireEnum("DW_STATE", f, "state", "open", "close")
	if err != nil {
		return nil, err
	}
	return &DWState{idx: conditionIndex, deviceID: deviceID, targetState: state}, nil
}

func (i *DWState) Kind() Kind               { return KindDWState }
func (i *DWState) IsOperator() bool         { return false }
func (i *DWState) DeviceID() (string, bool) { return i.deviceID, true }
func (i *DWState) ConditionIndex() int      { return i.idx }

func (i *DWState) Evaluate(ctx context.Context, env *Env, _ RuleContext) (bool, error) {
	recs, err := env.Devices.GetGeneratedData(ctx, i.deviceID, 1)
	if err != nil {
		return false, fmt.Errorf("%w: %v", vmerrors.ErrStoreRead, err)
	}
	if len(recs) == 0 {
		return false, nil
	}
	return strings.EqualFold(recs[0].Status, i.targetState), nil
}

// DWStateFor is DW_STATE_FOR: the door/window has held its target state for
// at least for_minutes, measured the same way RELAY_STATE_FOR is: via
// matchExtendDuration's lookback over preceding generated-data records.
// Grounded on original_source/instructions/door_window.py's
// DoorWindowStateFor.
type DWStateFor struct {
	idx         int
	deviceID    string
	targetState string
	forMinutes  float64
}

// NewDWStateFor parses and validates a DW_STATE_FOR condition entry.
func NewDWStateFor(conditionIndex int, f Fields) (*DWStateFor, error) {
	deviceID, err := requireString("DW_STATE_FOR", f, "device_id")
	if err != nil {
		return nil, err
	}
	state, err := requireEnum("DW_STATE_FOR", f, "state", "open", "close")
	if err != nil {
		return nil, err
	}
	forMinutes, err := requireFloat("DW_STATE_FOR", f, "for")
	if err != nil {
		return nil, err
	}
	if forMinutes <= 0 {
		return nil, vmerrors.NewValidationError("DW_STATE_FOR", "for must be > 0")
	}
	return &DWStateFor{idx: conditionIndex, deviceID: deviceID, targetState: state, forMinutes: forMinutes}, nil
}

func (i *DWStateFor) Kind() Kind               { return KindDWStateFor }
func (i *DWStateFor) IsOperator() bool         { return false }
func (i *DWStateFor) DeviceID() (string, bool) { return i.deviceID, true }
func (i *DWStateFor) ConditionIndex() int      { return i.idx }

func (i *DWStateFor) Evaluate(ctx context.Context, env *Env, rc RuleContext) (bool, error) {
	matches := func(rec store.GeneratedDataRecord) bool {
		return strings.EqualFold(rec.Status, i.targetState)
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
