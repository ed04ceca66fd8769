package instruction

import (
	"context"
	"time"

	"github.com/podnet/rulevm/internal/vmerrors"
)

const timeOfDayLayout = "15:04:05Z07:00"

// AtTime is the AT_TIME opcode: true iff wall-clock now (in the operand's
// timezone) is at or past today's target instant. Grounded on
// original_source/instructions/time.py's AtTime, adapted per the resolved
// open question (a): a non-periodic rule reports its instant truth value
// once and is never rescheduled — an actual blocking sleep inside one
// evaluator-stack operand would stall the whole task, which the suspension-
// point model (§5) forbids. A periodic rule always computes its next
// occurrence (today's target if still ahead, otherwise +1 day) and asks the
// VM to park a clone there, whether or not this evaluation was true.
type AtTime struct {
	idx            int
	hour, min, sec int
	loc            *time.Location
}

// NewAtTime parses and validates an AT_TIME condition entry.
func NewAtTime(conditionIndex int, f Fields) (*AtTime, error) {
	raw, err := requireString("AT_TIME", f, "time")
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(timeOfDayLayout, raw)
	if err != nil {
		return nil, vmerrors.NewValidationError("AT_TIME", "field time must be HH:MM:SS±HH:MM, got "+raw)
	}
	return &AtTime{idx: conditionIndex, hour: t.Hour(), min: t.Minute(), sec: t.Second(), loc: t.Location()}, nil
}

func (i *AtTime) Kind() Kind               { return KindAtTime }
func (i *AtTime) IsOperator() bool         { return false }
func (i *AtTime) DeviceID() (string, bool) { return "", false }
func (i *AtTime) ConditionIndex() int      { return i.idx }

func (i *AtTime) target(now time.Time) time.Time {
	local := now.In(i.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), i.hour, i.min, i.sec, 0, i.loc)
}

func (i *AtTime) Evaluate(ctx context.Context, env *Env, rc RuleContext) (bool, error) {
	now := env.now().In(i.loc)
	target := i.target(now)
	result := !now.Before(target)

	if rc.Periodic() {
		next := target
		if !next.After(now) {
			next = next.Add(24 * time.Hour)
		}
		if err := rc.ParkForFuture(ctx, next.Sub(now)); err != nil {
			env.Log.Error(err, "park AT_TIME for next occurrence failed", "rule", rc.RuleID())
		}
	}

	return result, nil
}

// AtTimeWithOccurrence is AT_TIME_WITH_OCCURRENCE: like AtTime but
// decrements a persistent occurrence counter on each true evaluation, and
// only ever fires while occurrence > 0.
type AtTimeWithOccurrence struct {
	idx            int
	hour, min, sec int
	loc            *time.Location
	occurrence     int
}

// NewAtTimeWithOccurrence parses and validates an AT_TIME_WITH_OCCURRENCE
// condition entry.
func NewAtTimeWithOccurrence(conditionIndex int, f Fields) (*AtTimeWithOccurrence, error) {
	raw, err := requireString("AT_TIME_WITH_OCCURRENCE", f, "time")
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(timeOfDayLayout, raw)
	if err != nil {
		return nil, vmerrors.NewValidationError("AT_TIME_WITH_OCCURRENCE", "field time must be HH:MM:SS±HH:MM, got "+raw)
	}
	occurrence, err := requireInt("AT_TIME_WITH_OCCURRENCE", f, "occurrence")
	if err != nil {
		return nil, err
	}
	return &AtTimeWithOccurrence{
		idx: conditionIndex, hour: t.Hour(), min: t.Minute(), sec: t.Second(), loc: t.Location(),
		occurrence: occurrence,
	}, nil
}

func (i *AtTimeWithOccurrence) Kind() Kind               { return KindAtTimeWithOccurrence }
func (i *AtTimeWithOccurrence) IsOperator() bool         { return false }
func (i *AtTimeWithOccurrence) DeviceID() (string, bool) { return "", false }
func (i *AtTimeWithOccurrence) ConditionIndex() int      { return i.idx }

// Occurrence returns the instruction's current cached occurrence count, for
// tests and for determinism checks on recompilation.
func (i *AtTimeWithOccurrence) Occurrence() int { return i.occurrence }

func (i *AtTimeWithOccurrence) target(now time.Time) time.Time {
	local := now.In(i.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), i.hour, i.min, i.sec, 0, i.loc)
}

func (i *AtTimeWithOccurrence) Evaluate(ctx context.Context, env *Env, rc RuleContext) (bool, error) {
	if i.occurrence <= 0 {
		return false, nil
	}

	now := env.now().In(i.loc)
	target := i.target(now)
	if now.Before(target) {
		return false, nil
	}

	i.occurrence--
	remaining := i.occurrence
	if err := rc.CommitOccurrence(ctx, i.idx, remaining); err != nil {
		env.Log.Error(err, "commit occurrence decrement failed", "rule", rc.RuleID())
	}

	if remaining > 0 {
		next := target
		if !next.After(now) {
			next = next.Add(24 * time.Hour)
		}
		if err := rc.ParkForFuture(ctx, next.Sub(now)); err != nil {
			env.Log.Error(err, "park AT_TIME_WITH_OCCURRENCE for next occurrence failed", "rule", rc.RuleID())
		}
	}

	return true, nil
}
