package instruction

import (
	"strings"

	"github.com/podnet/rulevm/internal/vmerrors"
)

// Lookup normalizes a raw operation string to its Kind, matching
// case-insensitively per §6. Grounded on
// original_source/instructions/lut.py's INSTRUCTION_LUT.
func Lookup(operation string) (Kind, bool) {
	switch strings.ToUpper(operation) {
	case string(KindLogicalAnd):
		return KindLogicalAnd, true
	case string(KindLogicalOr):
		return KindLogicalOr, true
	case string(KindAtTime):
		return KindAtTime, true
	case string(KindAtTimeWithOccurrence):
		return KindAtTimeWithOccurrence, true
	case string(KindRelayState):
		return KindRelayState, true
	case string(KindRelayStateFor):
		return KindRelayStateFor, true
	case string(KindDWState):
		return KindDWState, true
	case string(KindDWStateFor):
		return KindDWStateFor, true
	case string(KindOccupancy):
		return KindOccupancy, true
	case string(KindOccupancyFor):
		return KindOccupancyFor, true
	case string(KindEnergyMeter):
		return KindEnergyMeter, true
	case string(KindTemperature):
		return KindTemperature, true
	case string(KindTemperatureFor):
		return KindTemperatureFor, true
	default:
		return "", false
	}
}

// Build constructs the Instruction for a condition entry at the given
// index. The entry's "operation" field is resolved via Lookup; an unknown
// opcode returns vmerrors.ErrUnknownOpcode.
func Build(conditionIndex int, entry Fields) (Instruction, error) {
	kind, ok := Lookup(entry.Operation())
	if !ok {
		return nil, vmerrors.ErrUnknownOpcode
	}
	switch kind {
	case KindLogicalAnd:
		return NewLogicalAnd(conditionIndex), nil
	case KindLogicalOr:
		return NewLogicalOr(conditionIndex), nil
	case KindAtTime:
		return NewAtTime(conditionIndex, entry)
	case KindAtTimeWithOccurrence:
		return NewAtTimeWithOccurrence(conditionIndex, entry)
	case KindRelayState:
		return NewRelayState(conditionIndex, entry)
	case KindRelayStateFor:
		return NewRelayStateFor(conditionIndex, entry)
	case KindDWState:
		return NewDWState(conditionIndex, entry)
	case KindDWStateFor:
		return NewDWStateFor(conditionIndex, entry)
	case KindOccupancy:
		return NewOccupancy(conditionIndex, entry)
	case KindOccupancyFor:
		return NewOccupancyFor(conditionIndex, entry)
	case KindEnergyMeter:
		return NewEnergyMeter(conditionIndex, entry)
	case KindTemperature:
		return NewTemperature(conditionIndex, entry)
	case KindTemperatureFor:
		return NewTemperatureFor(conditionIndex, entry)
	default:
		return nil, vmerrors.ErrUnknownOpcode
	}
}
