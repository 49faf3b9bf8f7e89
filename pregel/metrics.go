package pregel

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes Prometheus instrumentation for a step loop, all
// namespaced "pregel_":
//
//   - tasks_inflight (gauge): tasks currently executing in the step
//   - queue_depth (gauge): tasks prepared but not yet dispatched
//   - step_latency_ms (histogram): superstep duration, by status
//   - retries_total (counter): whole-superstep retries, by reason
//   - apply_conflicts_total (counter): ApplyWrites rejections, by kind
//   - backpressure_events_total (counter): checkpointer write stalls
type Metrics struct {
	tasksInflight prometheus.Gauge
	queueDepth    prometheus.Gauge
	stepLatency   *prometheus.HistogramVec
	retries       *prometheus.CounterVec
	applyConflicts *prometheus.CounterVec
	backpressure  *prometheus.CounterVec
}

// NewMetrics registers pregel's metrics with registry. If registry is
// nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		tasksInflight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pregel",
			Name:      "tasks_inflight",
			Help:      "Number of tasks currently executing in the current superstep",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pregel",
			Name:      "queue_depth",
			Help:      "Number of tasks prepared by prepare_next_tasks but not yet dispatched",
		}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pregel",
			Name:      "step_latency_ms",
			Help:      "Superstep duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"thread_id", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pregel",
			Name:      "retries_total",
			Help:      "Whole-superstep retries",
		}, []string{"thread_id", "reason"}),
		applyConflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pregel",
			Name:      "apply_conflicts_total",
			Help:      "ApplyWrites rejections, e.g. double writes to a LastValue channel",
		}, []string{"thread_id", "kind"}),
		backpressure: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pregel",
			Name:      "backpressure_events_total",
			Help:      "Checkpointer write stalls observed while persisting a checkpoint",
		}, []string{"thread_id", "reason"}),
	}
}

func (m *Metrics) RecordStepLatency(threadID string, latency time.Duration, status string) {
	if m == nil {
		return
	}
	m.stepLatency.WithLabelValues(threadID, status).Observe(float64(latency.Milliseconds()))
}

func (m *Metrics) SetTasksInflight(n int) {
	if m == nil {
		return
	}
	m.tasksInflight.Set(float64(n))
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) IncrementRetries(threadID, reason string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(threadID, reason).Inc()
}

func (m *Metrics) IncrementApplyConflicts(threadID, kind string) {
	if m == nil {
		return
	}
	m.applyConflicts.WithLabelValues(threadID, kind).Inc()
}

func (m *Metrics) IncrementBackpressure(threadID, reason string) {
	if m == nil {
		return
	}
	m.backpressure.WithLabelValues(threadID, reason).Inc()
}
