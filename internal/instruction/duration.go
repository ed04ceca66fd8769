package instruction

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/podnet/rulevm/internal/store"
	"github.com/podnet/rulevm/internal/vmerrors"
)

// durationResult is the outcome of the shared duration sub-protocol (§4.2):
// whether the target has been held long enough, and the measured duration
// (used to compute the future-park delay when it has not).
type durationResult struct {
	Held     bool
	Measured time.Duration
}

// matchExtendDuration implements the duration sub-protocol for opcodes
// whose generated-data records carry the field being tested directly
// (RELAY_STATE_FOR's relayN, DW_STATE_FOR's status): fetch the latest
// record, and if it matches, walk back through up to
// ceil(targetMinutes/heartbeat)+1 preceding records extending the earliest
// matching timestamp, stopping at the first non-matching record. Grounded
// on original_source/instructions/relay.py's get_current_state_for.
func matchExtendDuration(ctx context.Context, env *Env, deviceID string, targetMinutes float64, heartbeat time.Duration, matches func(store.GeneratedDataRecord) bool) (durationResult, error) {
	latest, err := env.Devices.GetGeneratedData(ctx, deviceID, 1)
	if err != nil {
		return durationResult{}, fmt.Errorf("%w: %v", vmerrors.ErrStoreRead, err)
	}
	if len(latest) == 0 || !matches(latest[0]) {
		return durationResult{Held: false}, nil
	}

	now := env.now()
	target := time.Duration(targetMinutes * float64(time.Minute))
	earliest := latest[0].CreationTimestamp
	measured := now.Sub(earliest)
	if measured >= target {
		return durationResult{Held: true, Measured: measured}, nil
	}

	maxDocs := int(math.Ceil(targetMinutes/heartbeat.Minutes())) + 1
	preceding, err := env.Devices.GetGeneratedData(ctx, deviceID, maxDocs)
	if err != nil {
		return durationResult{}, fmt.Errorf("%w: %v", vmerrors.ErrStoreRead, err)
	}

	for _, rec := range preceding {
		if !matches(rec) {
			break
		}
		earliest = rec.CreationTimestamp
		measured = now.Sub(earliest)
		if measured >= target {
			break
		}
	}

	return durationResult{Held: measured >= target, Measured: measured}, nil
}

// gapExtendDuration implements the duration sub-protocol for OCCUPANCY_FOR,
// whose generated-data records carry no explicit state field: occupancy is
// inferred from record recency, so the lookback extends the earliest
// timestamp only while each adjacent gap stays within the heartbeat.
func gapExtendDuration(ctx context.Context, env *Env, deviceID string, targetMinutes float64, heartbeat time.Duration) (durationResult, error) {
	latest, err := env.Devices.GetGeneratedData(ctx, deviceID, 1)
	if err != nil {
		return durationResult{}, fmt.Errorf("%w: %v", vmerrors.ErrStoreRead, err)
	}
	if len(latest) == 0 {
		return durationResult{Held: false}, nil
	}

	now := env.now()
	lastSeen := latest[0].CreationTimestamp
	if now.Sub(lastSeen) >= heartbeat {
		// Not currently occupied; nothing to measure.
		return durationResult{Held: false}, nil
	}

	target := time.Duration(targetMinutes * float64(time.Minute))
	earliest := lastSeen
	measured := now.Sub(earliest)
	if measured >= target {
		return durationResult{Held: true, Measured: measured}, nil
	}

	maxDocs := int(math.Ceil(targetMinutes/heartbeat.Minutes())) + 1
	preceding, err := env.Devices.GetGeneratedData(ctx, deviceID, maxDocs)
	if err != nil {
		return durationResult{}, fmt.Errorf("%w: %v", vmerrors.ErrStoreRead, err)
	}

	prev := lastSeen
	for _, rec := range preceding {
		gap := prev.Sub(rec.CreationTimestamp)
		if gap < 0 {
			gap = -gap
		}
		if gap > heartbeat {
			break
		}
		earliest = rec.CreationTimestamp
		prev = rec.CreationTimestamp
		measured = now.Sub(earliest)
		if measured >= target {
			break
		}
	}

	return durationResult{Held: measured >= target, Measured: measured}, nil
}

// parkIfShort asks the VM to re-evaluate the parent rule once the target
// could first plausibly be met, per §4.1: "enqueues its parent for future
// re-evaluation at (target − measured) × 60 s", and only when the rule is
// periodic.
func parkIfShort(ctx context.Context, env *Env, rc RuleContext, targetMinutes float64, measured time.Duration) {
	if !rc.Periodic() {
		return
	}
	remaining := time.Duration(targetMinutes*float64(time.Minute)) - measured
	if remaining <= 0 {
		return
	}
	if err := rc.ParkForFuture(ctx, remaining); err != nil {
		env.Log.Error(err, "park duration-short rule for future exec failed", "rule", rc.RuleID())
	}
}
