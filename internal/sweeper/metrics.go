package sweeper

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type taskMetrics struct {
	runs      *prometheus.CounterVec
	items     *prometheus.CounterVec
	failures  *prometheus.CounterVec
	durations *prometheus.HistogramVec
}

var (
	taskMetricsOnce sync.Once
	taskMetricsInst *taskMetrics
)

func globalTaskMetrics() *taskMetrics {
	taskMetricsOnce.Do(func() {
		taskMetricsInst = newTaskMetrics()
	})
	return taskMetricsInst
}

func newTaskMetrics() *taskMetrics {
	return &taskMetrics{
		runs: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omnichat",
			Subsystem: "sweeper",
			Name:      "runs_total",
			Help:      "Total sweep executions, labeled by task",
		}, []string{"task"}),
		items: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omnichat",
			Subsystem: "sweeper",
			Name:      "items_total",
			Help:      "Items acted on by sweeps (enqueued, transferred, expired), labeled by task",
		}, []string{"task"}),
		failures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "omnichat",
			Subsystem: "sweeper",
			Name:      "failures_total",
			Help:      "Sweep executions that returned an error, labeled by task",
		}, []string{"task"}),
		durations: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "omnichat",
			Subsystem: "sweeper",
			Name:      "duration_seconds",
			Help:      "Duration of sweep executions",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task"}),
	}
}

func (m *taskMetrics) recordRun(task string) func(items int, err error) {
	if m == nil {
		return func(int, error) {}
	}
	m.runs.WithLabelValues(task).Inc()
	timer := prometheus.NewTimer(m.durations.WithLabelValues(task))
	return func(items int, err error) {
		timer.ObserveDuration()
		if err != nil {
			m.failures.WithLabelValues(task).Inc()
		}
		if items > 0 {
			m.items.WithLabelValues(task).Add(float64(items))
		}
	}
}
