package action

import (
	"context"
	"fmt"
	"strings"

	"github.com/podnet/rulevm/internal/vmerrors"
)

// ChangeRelayState is the CHANGE_RELAY_STATE action: {type, device_id,
// relay_index, state}. Grounded on
// original_source/actions/relay.py's ChangeRelayState.perform, which
// branches on device_id.startswith("SW2-") to choose between the scalar
// relay_state field and the relayStatus array, writing
// {relay_state, insertedBy: "dashboard"} back either way.
type ChangeRelayState struct {
	DeviceID   string
	RelayIndex int
	State      int
}

// NewChangeRelayState parses and validates a CHANGE_RELAY_STATE action entry.
func NewChangeRelayState(f Fields) (*ChangeRelayState, error) {
	deviceID, err := requireString("CHANGE_RELAY_STATE", f, "device_id")
	if err != nil {
		return nil, err
	}
	relayIndex, err := requireInt("CHANGE_RELAY_STATE", f, "relay_index")
	if err != nil {
		return nil, err
	}
	state, err := requireInt("CHANGE_RELAY_STATE", f, "state")
	if err != nil {
		return nil, err
	}
	if state != 0 && state != 1 {
		return nil, vmerrors.NewValidationError("CHANGE_RELAY_STATE", "state must be 0 or 1")
	}
	return &ChangeRelayState{DeviceID: deviceID, RelayIndex: relayIndex, State: state}, nil
}

func (a *ChangeRelayState) Type() Type { return TypeChangeRelayState }

// scalarFamily reports whether this device exposes a single relay_state
// scalar field instead of the relayStatus array, per the "SW2-" device
// family prefix the original source hardcodes.
func (a *ChangeRelayState) scalarFamily() bool {
	return strings.HasPrefix(a.DeviceID, "SW2-")
}

func (a *ChangeRelayState) Perform(ctx context.Context, env *Env) error {
	if err := env.Devices.WriteRelayState(ctx, a.DeviceID, a.RelayIndex, a.State, a.scalarFamily()); err != nil {
		return fmt.Errorf("%w: change relay state: %v", vmerrors.ErrStoreWrite, err)
	}
	env.Log.Info("relay state changed", "device", a.DeviceID, "relay_index", a.RelayIndex, "state", a.State)
	return nil
}
