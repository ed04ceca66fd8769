// Package action implements the closed SEND_EMAIL / CHANGE_RELAY_STATE
// action set a passing rule dispatches. Grounded on
// original_source/actions/*.py (one class per ActionConstant, validated at
// construction) and on the teacher's internal/notify.Channel (SMTP
// transport via net/smtp, not a third-party mail API).
package action

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/podnet/rulevm/internal/config"
	"github.com/podnet/rulevm/internal/store"
	"github.com/podnet/rulevm/internal/vmerrors"
)

// Type identifies one action in the closed set.
type Type string

const (
	TypeSendEmail        Type = "SEND_EMAIL"
	TypeChangeRelayState Type = "CHANGE_RELAY_STATE"
)

// Env carries the collaborators an action's Perform needs: the device
// store (for CHANGE_RELAY_STATE) and the SMTP transport settings (for
// SEND_EMAIL).
type Env struct {
	Devices store.DeviceStore
	SMTP    config.SMTPConfig
	Log     logr.Logger
}

// Action is the uniform contract every action type satisfies.
type Action interface {
	Type() Type

	// Perform executes the action. Failures are logged by the caller and
	// swallowed per §7 — the VM never rolls back evaluation on an action
	// failure.
	Perform(ctx context.Context, env *Env) error
}

// Fields is an action entry's raw payload map.
type Fields = store.ActionEntry

func requireString(kind string, f Fields, key string) (string, error) {
	v, ok := f[key]
	if !ok {
		return "", vmerrors.NewValidationError(kind, "missing required field: "+key)
	}
	s, ok := v.(string)
	if !ok {
		return "", vmerrors.NewValidationError(kind, "field "+key+" must be a string")
	}
	return s, nil
}

func requireInt(kind string, f Fields, key string) (int, error) {
	v, ok := f[key]
	if !ok {
		return 0, vmerrors.NewValidationError(kind, "missing required field: "+key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, vmerrors.NewValidationError(kind, "field "+key+" must be an integer")
	}
}

func requireStringSlice(kind string, f Fields, key string) ([]string, error) {
	v, ok := f[key]
	if !ok {
		return nil, vmerrors.NewValidationError(kind, "missing required field: "+key)
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil, vmerrors.NewValidationError(kind, "field "+key+" must be a list of strings")
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, vmerrors.NewValidationError(kind, "field "+key+" must be a list of strings")
		}
		out = append(out, s)
	}
	return out, nil
}
