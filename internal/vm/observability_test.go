package vm

import (
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/podnet/rulevm/internal/store/memstore"
)

func gaugeValue(t *testing.T, g interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestPublishObservabilityReflectsLiveState(t *testing.T) {
	s := memstore.New()
	m := newTestVM(t, s, testConfig())
	m.registry.AddRule(relayRuleDoc("r1", "dev-1", 1))
	m.registry.AddRule(relayRuleDoc("r2", "dev-1", 0))
	m.setAwaiting("r1")
	m.addTasksRunning(2)
	m.addFutureTaskCount(3)

	m.publishObservability()

	if got := gaugeValue(t, m.metrics.ListOfRules); got != 2 {
		t.Errorf("ListOfRules = %f, want 2", got)
	}
	if got := gaugeValue(t, m.metrics.FutureTaskAwaiting); got != 1 {
		t.Errorf("FutureTaskAwaiting = %f, want 1", got)
	}
	if got := gaugeValue(t, m.metrics.RunningTasks); got != 2 {
		t.Errorf("RunningTasks = %f, want 2", got)
	}
	if got := gaugeValue(t, m.metrics.FutureTasksCount); got != 3 {
		t.Errorf("FutureTasksCount = %f, want 3", got)
	}
}
