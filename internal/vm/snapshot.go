package vm

import (
	"context"
	"errors"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/robfig/cron/v3"

	"github.com/podnet/rulevm/internal/telemetry"
)

// snapshotDoc is the CBOR-encoded future-task-list snapshot: the
// awaiting-completion list's rule ids at the moment of the last tick.
// Best-effort only — a missing, truncated, or otherwise unreadable snapshot
// is skipped rather than treated as a startup failure (Open Question (b)
// in SPEC_FULL.md §7).
type snapshotDoc struct {
	RuleIDs []string `cbor:"rule_ids"`
}

// runSnapshotLoop is Task B: every cfg.SnapshotEvery, if the
// awaiting-completion list changed since the previous tick, rewrite the
// snapshot file in place.
func (vm *VM) runSnapshotLoop(ctx context.Context) {
	defer vm.wg.Done()

	c := cron.New(cron.WithSeconds())
	spec := "@every " + vm.cfg.SnapshotEvery.String()
	if _, err := c.AddFunc(spec, func() { vm.writeSnapshotIfChanged() }); err != nil {
		vm.log.Error(err, "snapshot loop: invalid schedule, loop disabled", "spec", spec)
		<-ctx.Done()
		return
	}
	c.Start()
	<-ctx.Done()
	c.Stop()
}

func (vm *VM) writeSnapshotIfChanged() {
	vm.snapshotMu.Lock()
	changed := vm.snapshotChanged
	vm.snapshotChanged = false
	vm.snapshotMu.Unlock()
	if !changed {
		return
	}

	ruleIDs := vm.AwaitingRuleIDs()
	_, span := telemetry.StartSnapshotSpan(vm.runCtx, len(ruleIDs))
	var err error
	defer func() { telemetry.EndSnapshotSpan(span, err) }()

	doc := snapshotDoc{RuleIDs: ruleIDs}
	data, encErr := cbor.Marshal(doc)
	if encErr != nil {
		err = encErr
		vm.log.Error(err, "snapshot: encode failed")
		return
	}
	if writeErr := os.WriteFile(vm.cfg.SnapshotPath, data, 0640); writeErr != nil {
		err = writeErr
		vm.log.Error(err, "snapshot: write failed", "path", vm.cfg.SnapshotPath)
	}
}

// restoreSnapshot best-effort-restores the awaiting-completion list at
// startup: each surviving rule id still present in the registry is
// re-enqueued for evaluation. A missing file, a decode error, or a rule id
// no longer in the registry is silently skipped rather than failing
// startup.
func (vm *VM) restoreSnapshot(ctx context.Context) {
	if vm.cfg.SnapshotPath == "" {
		return
	}
	data, err := os.ReadFile(vm.cfg.SnapshotPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			vm.log.Error(err, "snapshot: read failed, starting with an empty future-queue", "path", vm.cfg.SnapshotPath)
		}
		return
	}

	var doc snapshotDoc
	if err := cbor.Unmarshal(data, &doc); err != nil {
		vm.log.Error(err, "snapshot: decode failed, starting with an empty future-queue", "path", vm.cfg.SnapshotPath)
		return
	}

	for _, ruleID := range doc.RuleIDs {
		r, ok := vm.registry.Get(ruleID)
		if !ok {
			continue
		}
		vm.setAwaiting(ruleID)
		if err := vm.ExecuteRule(ctx, r); err != nil {
			vm.log.Error(err, "snapshot: restore re-enqueue failed", "rule_id", ruleID)
			vm.clearAwaiting(ruleID)
		}
	}
}
