// Package metrics defines the rule VM's observability sink: the four gauges
// Task C refreshes once a second (§4.5) — live rule count, awaiting-
// completion count, running-evaluator-task count, and parked future-task
// count. Grounded on the teacher's internal/metrics package (Prometheus
// gauges registered up front, one setter function per metric) but built on
// a standalone prometheus.Registry rather than the teacher's
// controller-runtime registry, since this module carries no Kubernetes
// stack (see DESIGN.md).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the observability sink's four gauges, each registered with
// its own Registry so a process embedding the VM controls what else shares
// that registry.
type Metrics struct {
	ListOfRules         prometheus.Gauge
	FutureTaskAwaiting  prometheus.Gauge
	RunningTasks        prometheus.Gauge
	FutureTasksCount    prometheus.Gauge

	registry *prometheus.Registry
}

// New constructs the sink and registers its gauges with a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		ListOfRules: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rulevm_list_of_rules",
			Help: "Number of rules currently held in the registry.",
		}),
		FutureTaskAwaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rulevm_future_task_awaiting",
			Help: "Number of distinct rule ids currently in the awaiting-completion list.",
		}),
		RunningTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rulevm_running_tasks",
			Help: "Number of evaluator tasks currently running.",
		}),
		FutureTasksCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rulevm_future_tasks_count",
			Help: "Number of rule instances currently parked in the future-queue.",
		}),
		registry: reg,
	}

	reg.MustRegister(m.ListOfRules, m.FutureTaskAwaiting, m.RunningTasks, m.FutureTasksCount)
	return m
}

// Registry returns the registry the sink's gauges are registered with, for
// wiring an HTTP /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Refresh sets all four gauges from a single observed snapshot.
func (m *Metrics) Refresh(ruleCount, awaitingCount int, runningTasks, futureTasksCount int64) {
	m.ListOfRules.Set(float64(ruleCount))
	m.FutureTaskAwaiting.Set(float64(awaitingCount))
	m.RunningTasks.Set(float64(runningTasks))
	m.FutureTasksCount.Set(float64(futureTasksCount))
}
