package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func getGaugeValue(t *testing.T, g interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestRefreshSetsAllFourGauges(t *testing.T) {
	m := New()

	m.Refresh(3, 1, 2, 4)

	if got := getGaugeValue(t, m.ListOfRules); got != 3 {
		t.Errorf("ListOfRules = %f, want 3", got)
	}
	if got := getGaugeValue(t, m.FutureTaskAwaiting); got != 1 {
		t.Errorf("FutureTaskAwaiting = %f, want 1", got)
	}
	if got := getGaugeValue(t, m.RunningTasks); got != 2 {
		t.Errorf("RunningTasks = %f, want 2", got)
	}
	if got := getGaugeValue(t, m.FutureTasksCount); got != 4 {
		t.Errorf("FutureTasksCount = %f, want 4", got)
	}
}

func TestRefreshOverwritesPreviousValues(t *testing.T) {
	m := New()

	m.Refresh(10, 10, 10, 10)
	m.Refresh(0, 0, 0, 0)

	if got := getGaugeValue(t, m.ListOfRules); got != 0 {
		t.Errorf("ListOfRules after second refresh = %f, want 0", got)
	}
	if got := getGaugeValue(t, m.FutureTasksCount); got != 0 {
		t.Errorf("FutureTasksCount after second refresh = %f, want 0", got)
	}
}

func TestNewRegistersIndependentRegistry(t *testing.T) {
	a := New()
	b := New()

	a.Refresh(5, 0, 0, 0)
	b.Refresh(9, 0, 0, 0)

	if got := getGaugeValue(t, a.ListOfRules); got != 5 {
		t.Errorf("a.ListOfRules = %f, want 5 (independent of b)", got)
	}
	if got := getGaugeValue(t, b.ListOfRules); got != 9 {
		t.Errorf("b.ListOfRules = %f, want 9 (independent of a)", got)
	}
}
