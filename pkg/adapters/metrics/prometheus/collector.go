package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements ports.MetricsCollector using Prometheus.
type Collector struct {
	runsSubmitted     *prometheus.CounterVec
	runsCompleted     *prometheus.CounterVec
	runDuration       prometheus.Histogram
	stagesExecuted    *prometheus.CounterVec
	stageDuration     *prometheus.HistogramVec
	backendPolls      *prometheus.CounterVec
	backendRetries    *prometheus.CounterVec
	artifactBytes     prometheus.Counter
	artifactsStored   prometheus.Counter
	workerPoolIdle    prometheus.Gauge
	workerPoolBusy    prometheus.Gauge
	workerPoolStopped prometheus.Gauge
}

// NewCollector creates a new Prometheus metrics collector.
func NewCollector() *Collector {
	return &Collector{
		runsSubmitted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convey_runs_submitted_total",
				Help: "Total number of pipeline runs submitted",
			},
			[]string{"status"},
		),
		runsCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convey_runs_completed_total",
				Help: "Total number of pipeline runs completed",
			},
			[]string{"status"},
		),
		runDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "convey_run_duration_seconds",
				Help:    "Pipeline run duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
			},
		),
		stagesExecuted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convey_stages_executed_total",
				Help: "Total number of stages executed",
			},
			[]string{"backend", "status"},
		),
		stageDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "convey_stage_duration_seconds",
				Help:    "Stage execution duration in seconds",
				Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"backend"},
		),
		backendPolls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convey_backend_polls_total",
				Help: "Total number of backend status polls",
			},
			[]string{"backend", "status"},
		),
		backendRetries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "convey_backend_retries_total",
				Help: "Total number of transient backend errors retried",
			},
			[]string{"backend"},
		),
		artifactsStored: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "convey_artifacts_stored_total",
				Help: "Total number of artifacts stored",
			},
		),
		artifactBytes: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "convey_artifact_bytes_total",
				Help: "Total artifact bytes stored",
			},
		),
		workerPoolIdle: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "convey_worker_pool_idle",
				Help: "Number of idle workers",
			},
		),
		workerPoolBusy: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "convey_worker_pool_busy",
				Help: "Number of busy workers",
			},
		),
		workerPoolStopped: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "convey_worker_pool_stopped",
				Help: "Number of stopped workers",
			},
		),
	}
}

// RecordRunSubmitted records a run submission.
func (c *Collector) RecordRunSubmitted(status string) {
	c.runsSubmitted.WithLabelValues(status).Inc()
}

// RecordRunCompleted records a run reaching a terminal status.
func (c *Collector) RecordRunCompleted(status string, duration time.Duration) {
	c.runsCompleted.WithLabelValues(status).Inc()
	c.runDuration.Observe(duration.Seconds())
}

// RecordStageExecuted records a stage execution.
func (c *Collector) RecordStageExecuted(backend, status string, duration time.Duration) {
	c.stagesExecuted.WithLabelValues(backend, status).Inc()
	c.stageDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordBackendPoll records one backend status poll.
func (c *Collector) RecordBackendPoll(backend, status string) {
	c.backendPolls.WithLabelValues(backend, status).Inc()
}

// RecordBackendRetry records a retried transient backend error.
func (c *Collector) RecordBackendRetry(backend string) {
	c.backendRetries.WithLabelValues(backend).Inc()
}

// RecordArtifactStored records a stored artifact and its size.
func (c *Collector) RecordArtifactStored(size int64) {
	c.artifactsStored.Inc()
	c.artifactBytes.Add(float64(size))
}

// RecordWorkerPoolStatus records worker pool occupancy.
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolStopped.Set(float64(stopped))
}
