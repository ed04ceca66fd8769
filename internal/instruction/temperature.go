package instruction

import (
	"context"
	"fmt"

	"github.com/podnet/rulevm/internal/store"
	"github.com/podnet/rulevm/internal/vmerrors"
)

// Temperature is TEMPERATURE: reserved per spec, given the same shape as
// ENERGY_METER (device id, comparison op, value) against the device
// document's temperature field, since the original source left this opcode
// as a schema-less stub (original_source/instructions/temperature.py).
type Temperature struct {
	idx      int
	deviceID string
	op       string
	value    float64
}

// NewTemperature parses and validates a TEMPERATURE condition entry.
func NewTemperature(conditionIndex int, f Fields) (*Temperature, error) {
	deviceID, err := requireString("TEMPERATURE", f, "device_id")
	if err != nil {
		return nil, err
	}
	op, err := requireEnum("TEMPERATURE", f, "comparison_op", "=", "<", ">")
	if err != nil {
		return nil, err
	}
	value, err := requireFloat("TEMPERATURE", f, "value")
	if err != nil {
		return nil, err
	}
	return &Temperature{idx: conditionIndex, deviceID: deviceID, op: op, value: value}, nil
}

func (i *Temperature) Kind() Kind               { return KindTemperature }
func (i *Temperature) IsOperator() bool         { return false }
func (i *Temperature) DeviceID() (string, bool) { return i.deviceID, true }
func (i *Temperature) ConditionIndex() int      { return i.idx }

func (i *Temperature) Evaluate(ctx context.Context, env *Env, _ RuleContext) (bool, error) {
	doc, err := env.Devices.GetDevice(ctx, i.deviceID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", vmerrors.ErrStoreRead, err)
	}
	return compare(i.op, doc.Temperature, i.value), nil
}

// TemperatureFor is TEMPERATURE_FOR: the comparison has held for at least
// for_minutes, measured the same way RELAY_STATE_FOR is.
type TemperatureFor struct {
	idx        int
	deviceID   string
	op         string
	value      float64
	forMinutes float64
}

// NewTemperatureFor parses and validates a TEMPERATURE_FOR condition entry.
func NewTemperatureFor(conditionIndex int, f Fields) (*TemperatureFor, error) {
	deviceID, err := requireString("TEMPERATURE_FOR", f, "device_id")
	if err != nil {
		return nil, err
	}
	op, err := requireEnum("TEMPERATURE_FOR", f, "comparison_op", "=", "<", ">")
	if err != nil {
		return nil, err
	}
	value, err := requireFloat("TEMPERATURE_FOR", f, "value")
	if err != nil {
		return nil, err
	}
	forMinutes, err := requireFloat("TEMPERATURE_FOR", f, "for")
	if err != nil {
		return nil, err
	}
	if forMinutes <= 0 {
		return nil, vmerrors.NewValidationError("TEMPERATURE_FOR", "for must be > 0")
	}
	return &TemperatureFor{idx: conditionIndex, deviceID: deviceID, op: op, value: value, forMinutes: forMinutes}, nil
}

func (i *TemperatureFor) Kind() Kind               { return KindTemperatureFor }
func (i *TemperatureFor) IsOperator() bool         { return false }
func (i *TemperatureFor) DeviceID() (string, bool) { return i.deviceID, true }
func (i *TemperatureFor) ConditionIndex() int      { return i.idx }

func (i *TemperatureFor) Evaluate(ctx context.Context, env *Env, rc RuleContext) (bool, error) {
	matches := func(rec store.GeneratedDataRecord) bool {
		return compare(i.op, rec.Temperature, i.value)
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
