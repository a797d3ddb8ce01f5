// Package metrics exposes the Prometheus instruments shared by the gateway,
// the worker pool and the status API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every instrument the service records. A nil *Metrics is
// valid and records nothing, which keeps tests free of registry setup.
type Metrics struct {
	tasksSubmitted  *prometheus.CounterVec
	tasksFinished   *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	deliveries      *prometheus.CounterVec
	attempts        *prometheus.CounterVec
	attemptDuration *prometheus.HistogramVec
	workersBusy     prometheus.Gauge
	sweeps          *prometheus.CounterVec
}

// New registers all instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// tasksSubmitted counts accepted submissions by task type.
		tasksSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scry_tasks_submitted_total",
			Help: "Total number of tasks accepted for processing by type",
		}, []string{"task_type"}),

		// tasksFinished counts terminal outcomes.
		tasksFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scry_tasks_finished_total",
			Help: "Total number of tasks reaching a terminal status",
		}, []string{"task_type", "status", "error_code"}),

		taskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scry_task_processing_duration_seconds",
			Help:    "Time from claim to terminal write",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"task_type", "status"}),

		// deliveries counts how each queue delivery was settled.
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scry_queue_deliveries_total",
			Help: "Total number of queue deliveries by outcome",
		}, []string{"outcome"}), // outcome: ack, nack, noop

		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scry_gateway_attempts_total",
			Help: "Total number of backend generation attempts",
		}, []string{"backend", "model", "result"}),

		attemptDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scry_gateway_attempt_duration_seconds",
			Help:    "Latency of a single backend generation attempt",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{"backend"}),

		workersBusy: f.NewGauge(prometheus.GaugeOpts{
			Name: "scry_workers_busy",
			Help: "Number of workers currently processing a delivery",
		}),

		sweeps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scry_sweeper_republished_total",
			Help: "Total number of stale tasks republished by status",
		}, []string{"status"}),
	}
}

// TaskSubmitted records an accepted submission.
func (m *Metrics) TaskSubmitted(taskType string) {
	if m == nil {
		return
	}
	m.tasksSubmitted.WithLabelValues(taskType).Inc()
}

// TaskFinished records a terminal write and how long processing took.
func (m *Metrics) TaskFinished(taskType, status, errorCode string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.tasksFinished.WithLabelValues(taskType, status, errorCode).Inc()
	m.taskDuration.WithLabelValues(taskType, status).Observe(elapsed.Seconds())
}

// Delivery records how a queue delivery was settled.
func (m *Metrics) Delivery(outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(outcome).Inc()
}

// Attempt records one backend call.
func (m *Metrics) Attempt(backend, model, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(backend, model, result).Inc()
	m.attemptDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
}

// WorkerBusy moves the busy-worker gauge by delta.
func (m *Metrics) WorkerBusy(delta float64) {
	if m == nil {
		return
	}
	m.workersBusy.Add(delta)
}

// Republished records tasks the sweeper put back on the queue.
func (m *Metrics) Republished(status string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.sweeps.WithLabelValues(status).Add(float64(n))
}
