// Package vm implements the scheduler / VM core: the rule registry, the
// bounded ready-queue and future-queue, the running-task counter, the
// rule-store change dispatcher, and the three cooperative loops (Task A
// dispatcher, Task B snapshotter, Task C observability publisher).
// Grounded on original_source/vm.py's VM class, restructured around Go
// goroutines and channels in place of trio tasks and a queue.Queue — the
// two bounded channels carry all work between goroutines (§5), while the
// counters, the awaiting-completion map and the snapshot dirty flag are
// guarded by their own mutexes. The long-lived loop shape (spawn, select on
// ctx.Done() plus work channels, graceful drain) follows
// internal/scheduler.Scheduler.Start in the teacher repo.
package vm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/podnet/rulevm/internal/action"
	"github.com/podnet/rulevm/internal/config"
	"github.com/podnet/rulevm/internal/evaluator"
	"github.com/podnet/rulevm/internal/instruction"
	"github.com/podnet/rulevm/internal/metrics"
	"github.com/podnet/rulevm/internal/rule"
	"github.com/podnet/rulevm/internal/store"
	"github.com/podnet/rulevm/internal/telemetry"
)

// futureEntry is a (rule_instance, fire_at) pair parked in the
// future-queue.
type futureEntry struct {
	rule   *rule.Rule
	fireAt time.Time
}

// VM is the scheduler aggregate: LIST_OF_RULES, FUTURE_TASKS_AWAITING_
// COMPLETION, TASKS_RUNNING, and FUTURE_TASK_COUNT are fields of this
// single struct, never process globals, per the design note in §9.
type VM struct {
	cfg config.Config
	log logr.Logger

	registry    *rule.Registry
	ruleStore   store.RuleStore
	deviceStore store.DeviceStore

	actionEnv *action.Env
	instrEnv  *instruction.Env
	metrics   *metrics.Metrics

	readyQueue  chan *rule.Rule
	futureQueue chan futureEntry

	tasksRunning    int64
	futureTaskCount int64
	countersMu      sync.Mutex

	awaitingMu sync.Mutex
	awaiting   map[string]bool

	snapshotMu      sync.Mutex
	snapshotChanged bool

	instanceSeq uint64
	seqMu       sync.Mutex

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a VM. Start must be called to run its loops.
func New(cfg config.Config, log logr.Logger, registry *rule.Registry, ruleStore store.RuleStore, deviceStore store.DeviceStore, actionEnv *action.Env, instrEnv *instruction.Env, m *metrics.Metrics) *VM {
	runCtx, cancel := context.WithCancel(context.Background())
	return &VM{
		cfg:         cfg,
		log:         log,
		registry:    registry,
		ruleStore:   ruleStore,
		deviceStore: deviceStore,
		actionEnv:   actionEnv,
		instrEnv:    instrEnv,
		metrics:     m,
		readyQueue:  make(chan *rule.Rule, cfg.Queues.ReadyCapacity),
		futureQueue: make(chan futureEntry, cfg.Queues.FutureCapacity),
		awaiting:    make(map[string]bool),
		runCtx:      runCtx,
		cancel:      cancel,
	}
}

// Start runs the dispatcher, snapshot, and observability loops until ctx is
// canceled or Stop/WaitedStop is called. It blocks until shutdown completes
// and in-flight evaluator tasks have returned.
func (vm *VM) Start(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			vm.cancel()
		case <-vm.runCtx.Done():
		}
	}()

	vm.wg.Add(3)
	go vm.runDispatcher(vm.runCtx)
	go vm.runSnapshotLoop(vm.runCtx)
	go vm.runObservabilityLoop(vm.runCtx)

	// Restored rules re-enqueue via ExecuteRule, which blocks on the bounded
	// ready-queue: the dispatcher must already be draining it, or a
	// snapshot with more awaiting rules than Queues.ReadyCapacity would
	// deadlock Start before the dispatcher ever gets a chance to run.
	vm.restoreSnapshot(vm.runCtx)

	<-vm.runCtx.Done()
	vm.wg.Wait()
	return nil
}

// Stop sets the shutdown flag immediately; in-flight evaluator tasks are
// allowed to finish but no new dispatch occurs.
func (vm *VM) Stop() { vm.cancel() }

// WaitedStop polls tasks_running and only stops once it reaches zero, or
// ctx is canceled first.
func (vm *VM) WaitedStop(ctx context.Context) error {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		if vm.TasksRunning() == 0 {
			vm.cancel()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// TasksRunning returns the current running-evaluator-task count.
func (vm *VM) TasksRunning() int64 {
	vm.countersMu.Lock()
	defer vm.countersMu.Unlock()
	return vm.tasksRunning
}

// FutureTaskCount returns the current future-queue parked-task count.
func (vm *VM) FutureTaskCount() int64 {
	vm.countersMu.Lock()
	defer vm.countersMu.Unlock()
	return vm.futureTaskCount
}

func (vm *VM) addTasksRunning(delta int64) {
	vm.countersMu.Lock()
	vm.tasksRunning += delta
	vm.countersMu.Unlock()
}

func (vm *VM) addFutureTaskCount(delta int64) {
	vm.countersMu.Lock()
	vm.futureTaskCount += delta
	vm.countersMu.Unlock()
}

func (vm *VM) nextInstanceID() string {
	return uuid.NewString()
}

// --- Awaiting-completion list ---

func (vm *VM) isAwaiting(ruleID string) bool {
	vm.awaitingMu.Lock()
	defer vm.awaitingMu.Unlock()
	return vm.awaiting[ruleID]
}

func (vm *VM) setAwaiting(ruleID string) {
	vm.awaitingMu.Lock()
	vm.awaiting[ruleID] = true
	vm.awaitingMu.Unlock()
	vm.markSnapshotChanged()
}

func (vm *VM) clearAwaiting(ruleID string) {
	vm.awaitingMu.Lock()
	delete(vm.awaiting, ruleID)
	vm.awaitingMu.Unlock()
	vm.markSnapshotChanged()
}

// AwaitingRuleIDs returns a snapshot of the awaiting-completion list's rule
// ids, for the observability sink and the snapshotter.
func (vm *VM) AwaitingRuleIDs() []string {
	vm.awaitingMu.Lock()
	defer vm.awaitingMu.Unlock()
	out := make([]string, 0, len(vm.awaiting))
	for id := range vm.awaiting {
		out = append(out, id)
	}
	return out
}

func (vm *VM) markSnapshotChanged() {
	vm.snapshotMu.Lock()
	vm.snapshotChanged = true
	vm.snapshotMu.Unlock()
}

// --- Entry points (thread-safe, enqueue-only; §4.3) ---

// ExecuteRule pushes a rule instance to the ready-queue, blocking if full.
func (vm *VM) ExecuteRule(ctx context.Context, r *rule.Rule) error {
	select {
	case vm.readyQueue <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ParkForFuture clones r for a fresh instance id, marks it
// awaiting-completion, and pushes (clone, delay) to the future-queue. It
// implements rule.VMHandle for instruction.RuleContext's ParkForFuture.
func (vm *VM) ParkForFuture(ctx context.Context, r *rule.Rule, delay time.Duration) error {
	markParked(ctx)

	clone, err := r.Clone(vm.nextInstanceID())
	if err != nil {
		return fmt.Errorf("vm: park for future: %w", err)
	}
	vm.setAwaiting(r.RuleID)
	vm.addFutureTaskCount(1)

	fireAt := vm.instrEnv.Clock().Add(delay)
	select {
	case vm.futureQueue <- futureEntry{rule: clone, fireAt: fireAt}:
		return nil
	case <-ctx.Done():
		vm.addFutureTaskCount(-1)
		return ctx.Err()
	}
}

// CommitOccurrence persists a decremented occurrence count. It implements
// rule.VMHandle for instruction.RuleContext's CommitOccurrence.
func (vm *VM) CommitOccurrence(ctx context.Context, ruleID string, conditionIndex, newValue int) error {
	return vm.ruleStore.DecrementOccurrence(ctx, ruleID, conditionIndex, newValue)
}

// ExecuteAllDependentRules triggers every rule dependent on deviceID, per
// device telemetry arriving over the bus. A rule already in the
// awaiting-completion list is skipped (dedup).
func (vm *VM) ExecuteAllDependentRules(ctx context.Context, deviceID string) error {
	for _, r := range vm.registry.DependentOn(deviceID) {
		if vm.isAwaiting(r.RuleID) {
			vm.log.V(1).Info("dropping duplicate trigger for awaiting rule", "rule_id", r.RuleID, "device_id", deviceID)
			continue
		}
		vm.setAwaiting(r.RuleID)
		if err := vm.ExecuteRule(ctx, r); err != nil {
			vm.clearAwaiting(r.RuleID)
			return err
		}
	}
	return nil
}

// RuleChangedCallback translates a store.RuleChange into the corresponding
// registry mutation and immediately enqueues newly added/updated rules for
// evaluation.
func (vm *VM) RuleChangedCallback(ctx context.Context, change store.RuleChange) error {
	r, err := vm.registry.ApplyChange(ctx, change)
	if err != nil {
		return err
	}
	if r == nil {
		return nil
	}
	vm.setAwaiting(r.RuleID)
	if err := vm.ExecuteRule(ctx, r); err != nil {
		vm.clearAwaiting(r.RuleID)
		return err
	}
	return nil
}

// --- Task A: dispatcher loop ---

func (vm *VM) runDispatcher(ctx context.Context) {
	defer vm.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-vm.readyQueue:
			if !ok {
				return
			}
			if !r.Enabled {
				vm.clearAwaiting(r.RuleID)
				continue
			}
			vm.addTasksRunning(1)
			vm.wg.Add(1)
			go vm.runEvaluatorTask(ctx, r)
		case f, ok := <-vm.futureQueue:
			if !ok {
				return
			}
			vm.wg.Add(1)
			go vm.runTimerTask(ctx, f)
		}
	}
}

func (vm *VM) runTimerTask(ctx context.Context, f futureEntry) {
	defer vm.wg.Done()
	delay := time.Until(f.fireAt) + vm.cfg.Queues.FireSlack
	if delay < 0 {
		delay = 0
	}
	_, span := telemetry.StartParkSpan(ctx, f.rule.RuleID, delay.Seconds())
	defer span.End()

	select {
	case <-ctx.Done():
		vm.addFutureTaskCount(-1)
		return
	case <-time.After(delay):
	}
	vm.addFutureTaskCount(-1)
	select {
	case vm.readyQueue <- f.rule:
	case <-ctx.Done():
	}
}

type parkedFlagKey struct{}

func withParkTracker(ctx context.Context) (context.Context, *bool) {
	flag := new(bool)
	return context.WithValue(ctx, parkedFlagKey{}, flag), flag
}

func markParked(ctx context.Context) {
	if flag, ok := ctx.Value(parkedFlagKey{}).(*bool); ok {
		*flag = true
	}
}

func (vm *VM) runEvaluatorTask(ctx context.Context, r *rule.Rule) {
	defer vm.wg.Done()
	defer vm.addTasksRunning(-1)

	evalCtx, parked := withParkTracker(ctx)
	rc := r.Context(vm)

	// A panicking operand (a nil collaborator, a store driver panic) must
	// not take the whole dispatcher down with it — per §7, one bad rule
	// task is caught and logged here, not let to unwind past this goroutine.
	defer func() {
		if rec := recover(); rec != nil {
			vm.log.Error(fmt.Errorf("%v", rec), "rule evaluation panicked", "rule_id", r.RuleID, "instance_id", r.InstanceID)
			if !*parked {
				vm.clearAwaiting(r.RuleID)
			}
		}
	}()

	spanCtx, span := telemetry.StartEvaluateSpan(evalCtx, r.RuleID, r.InstanceID)
	result, err := evaluator.Evaluate(spanCtx, vm.instrEnv, rc, r.Postfix)
	telemetry.EndEvaluateSpan(span, result, err)
	if err != nil {
		vm.log.Error(err, "rule evaluation failed", "rule_id", r.RuleID, "instance_id", r.InstanceID)
		if !*parked {
			vm.clearAwaiting(r.RuleID)
		}
		return
	}

	if result {
		vm.dispatchActions(ctx, r)
	}
	if !*parked {
		vm.clearAwaiting(r.RuleID)
	}
}

// --- Action dispatcher (§4.4) ---

func (vm *VM) dispatchActions(ctx context.Context, r *rule.Rule) {
	now := vm.instrEnv.Clock()
	newCount := r.ExecutionCount + 1

	if !r.IsImmediate() {
		if err := vm.ruleStore.UpdateExecutionInfo(ctx, r.RuleID, now, newCount); err != nil {
			vm.log.Error(err, "update execution info failed", "rule_id", r.RuleID)
		}
		vm.registry.MarkExecuted(r.RuleID, now, newCount)
	}

	for _, act := range r.ActionStream {
		vm.wg.Add(1)
		go func(act action.Action) {
			defer vm.wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					vm.log.Error(fmt.Errorf("%v", rec), "action panicked", "rule_id", r.RuleID, "type", string(act.Type()))
				}
			}()
			spanCtx, span := telemetry.StartActionSpan(vm.runCtx, r.RuleID, string(act.Type()))
			err := act.Perform(spanCtx, vm.actionEnv)
			telemetry.EndActionSpan(span, err)
			if err != nil {
				vm.log.Error(err, "action failed", "rule_id", r.RuleID, "type", string(act.Type()))
			}
		}(act)
	}
}

// RuleCount returns the live rule count, for observability.
func (vm *VM) RuleCount() int { return vm.registry.Len() }
