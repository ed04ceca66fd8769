package vm

import (
	"context"

	"github.com/robfig/cron/v3"
)

// runObservabilityLoop is Task C: every cfg.ObservabilityEvery, publish the
// four-gauge snapshot (§4.5) — live rule count, awaiting-completion count,
// running-evaluator-task count, and parked future-task count.
func (vm *VM) runObservabilityLoop(ctx context.Context) {
	defer vm.wg.Done()
	if vm.metrics == nil {
		<-ctx.Done()
		return
	}

	c := cron.New(cron.WithSeconds())
	spec := "@every " + vm.cfg.ObservabilityEvery.String()
	if _, err := c.AddFunc(spec, func() { vm.publishObservability() }); err != nil {
		vm.log.Error(err, "observability loop: invalid schedule, loop disabled", "spec", spec)
		<-ctx.Done()
		return
	}
	c.Start()
	<-ctx.Done()
	c.Stop()
}

func (vm *VM) publishObservability() {
	vm.metrics.Refresh(
		vm.RuleCount(),
		len(vm.AwaitingRuleIDs()),
		vm.TasksRunning(),
		vm.FutureTaskCount(),
	)
}
