package action

import (
	"strings"

	"github.com/podnet/rulevm/internal/vmerrors"
)

// Lookup normalizes a raw action type string to its Type, matching
// case-insensitively. Grounded on original_source/actions/lut.py's
// ACTION_LUT.
func Lookup(raw string) (Type, bool) {
	switch strings.ToUpper(raw) {
	case string(TypeSendEmail):
		return TypeSendEmail, true
	case string(TypeChangeRelayState):
		return TypeChangeRelayState, true
	default:
		return "", false
	}
}

// Build constructs the Action for an action entry.
func Build(entry Fields) (Action, error) {
	t, ok := Lookup(entry.Type())
	if !ok {
		return nil, vmerrors.ErrUnknownOpcode
	}
	switch t {
	case TypeSendEmail:
		return NewSendEmail(entry)
	case TypeChangeRelayState:
		return NewChangeRelayState(entry)
	default:
		return nil, vmerrors.ErrUnknownOpcode
	}
}
