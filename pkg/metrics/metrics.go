// Package metrics provides Prometheus instrumentation for the upload
// pipeline.
//
// The pipeline depends only on the PipelineMetrics interface; passing a
// nil implementation disables instrumentation with zero overhead, so
// tests and metric-less deployments pay nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics records pipeline activity.
type PipelineMetrics interface {
	// ObserveJob records a finished stage execution with its outcome.
	// stage is "compress" or "upload"; outcome is "success" or "failure".
	ObserveJob(stage, outcome string, d time.Duration)

	// AddBytes accumulates byte counts. kind is "source", "compressed"
	// or "uploaded".
	AddBytes(kind string, n int64)

	// SetReservedBytes tracks the arena allocator's reserved memory.
	SetReservedBytes(n int64)

	// SetQueueDepth tracks the pending job count of a stage queue.
	SetQueueDepth(stage string, n int)
}

// ObserveJob is a nil-safe helper.
func ObserveJob(m PipelineMetrics, stage, outcome string, d time.Duration) {
	if m != nil {
		m.ObserveJob(stage, outcome, d)
	}
}

// AddBytes is a nil-safe helper.
func AddBytes(m PipelineMetrics, kind string, n int64) {
	if m != nil {
		m.AddBytes(kind, n)
	}
}

// SetReservedBytes is a nil-safe helper.
func SetReservedBytes(m PipelineMetrics, n int64) {
	if m != nil {
		m.SetReservedBytes(n)
	}
}

// SetQueueDepth is a nil-safe helper.
func SetQueueDepth(m PipelineMetrics, stage string, n int) {
	if m != nil {
		m.SetQueueDepth(stage, n)
	}
}

// prometheusMetrics implements PipelineMetrics on a Prometheus registry.
type prometheusMetrics struct {
	jobs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	bytes    *prometheus.CounterVec
	reserved prometheus.Gauge
	depth    *prometheus.GaugeVec
}

// New registers pipeline metrics on reg and returns the collector.
func New(reg prometheus.Registerer) PipelineMetrics {
	m := &prometheusMetrics{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "driftfs",
			Subsystem: "spool",
			Name:      "jobs_total",
			Help:      "Finished stage executions by stage and outcome.",
		}, []string{"stage", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "driftfs",
			Subsystem: "spool",
			Name:      "stage_duration_seconds",
			Help:      "Stage execution latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"stage"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "driftfs",
			Subsystem: "spool",
			Name:      "bytes_total",
			Help:      "Bytes processed by kind (source, compressed, uploaded).",
		}, []string{"kind"}),
		reserved: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "driftfs",
			Subsystem: "arena",
			Name:      "reserved_bytes",
			Help:      "Bytes currently reserved by the arena allocator.",
		}),
		depth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "driftfs",
			Subsystem: "spool",
			Name:      "queue_depth",
			Help:      "Pending jobs per stage queue.",
		}, []string{"stage"}),
	}
	reg.MustRegister(m.jobs, m.duration, m.bytes, m.reserved, m.depth)
	return m
}

func (m *prometheusMetrics) ObserveJob(stage, outcome string, d time.Duration) {
	m.jobs.WithLabelValues(stage, outcome).Inc()
	m.duration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *prometheusMetrics) AddBytes(kind string, n int64) {
	m.bytes.WithLabelValues(kind).Add(float64(n))
}

func (m *prometheusMetrics) SetReservedBytes(n int64) {
	m.reserved.Set(float64(n))
}

func (m *prometheusMetrics) SetQueueDepth(stage string, n int) {
	m.depth.WithLabelValues(stage).Set(float64(n))
}
