package instruction

import (
	"context"
	"fmt"

	"github.com/podnet/rulevm/internal/vmerrors"
)

var energyVariables = []string{
	"voltage", "current", "real_power", "apparent_power", "power_factor", "frequency", "energy",
}

func compare(op string, current, target float64) bool {
	switch op {
	case "=":
		return current == target
	case "<":
		return current < target
	case ">":
		return current > target
	default:
		return false
	}
}

// EnergyMeter is ENERGY_METER: compares a named meter variable on the
// device document against a value. Grounded on
// original_source/instructions/energy.py's EnergyMeter.
type EnergyMeter struct {
	idx      int
	deviceID string
	variable string
	op       string
	value    float64
}

// NewEnergyMeter parses and validates an ENERGY_METER condition entry.
func NewEnergyMeter(conditionIndex int, f Fields) (*EnergyMeter, error) {
	deviceID, err := requireString("ENERGY_METER", f, "device_id")
	if err != nil {
		return nil, err
	}
	variable, err := requireEnum("ENERGY_METER", f, "variable", energyVariables...)
	if err != nil {
		return nil, err
	}
	op, err := requireEnum("ENERGY_METER", f, "comparison_op", "=", "<", ">")
	if err != nil {
		return nil, err
	}
	value, err := requireFloat("ENERGY_METER", f, "value")
	if err != nil {
		return nil, err
	}
	return &EnergyMeter{idx: conditionIndex, deviceID: deviceID, variable: variable, op: op, value: value}, nil
}

func (i *EnergyMeter) Kind() Kind               { return KindEnergyMeter }
func (i *EnergyMeter) IsOperator() bool         { return false }
func (i *EnergyMeter) DeviceID() (string, bool) { return i.deviceID, true }
func (i *EnergyMeter) ConditionIndex() int      { return i.idx }

func (i *EnergyMeter) Evaluate(ctx context.Context, env *Env, _ RuleContext) (bool, error) {
	doc, err := env.Devices.GetDevice(ctx, i.deviceID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", vmerrors.ErrStoreRead, err)
	}
	current, ok := doc.EnergyVariable(i.variable)
	if !ok {
		return false, nil
	}
	return compare(i.op, current, i.value), nil
}
