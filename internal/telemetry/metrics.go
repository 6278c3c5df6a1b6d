// Package telemetry provides structured logging and Prometheus metrics
// for the session engine.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects engine-level counters, durations, and gauges on a
// dedicated Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	savesTotal          *prometheus.CounterVec
	loadsTotal          *prometheus.CounterVec
	conflictsTotal      prometheus.Counter
	retriesTotal        prometheus.Counter
	checkpointsTotal    *prometheus.CounterVec
	summarizationsTotal prometheus.Counter
	opDuration          *prometheus.HistogramVec
	liveSessions        prometheus.Gauge
}

// NewMetrics creates a collector with its own registry so tests and
// multiple engines never collide on the global one.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		savesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_saves_total",
			Help: "Completed session saves by backend and status.",
		}, []string{"backend", "status"}),
		loadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_loads_total",
			Help: "Completed session loads by backend and status.",
		}, []string{"backend", "status"}),
		conflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "session_save_conflicts_total",
			Help: "Saves rejected because the stored record changed underneath.",
		}),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "session_storage_retries_total",
			Help: "Storage operations retried after a transient backend failure.",
		}),
		checkpointsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "session_checkpoints_total",
			Help: "Checkpoint operations by kind (create, restore, purge).",
		}, []string{"kind"}),
		summarizationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "session_summarizations_total",
			Help: "Summarization passes run by the context window compactor.",
		}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "session_operation_duration_seconds",
			Help:    "Latency of engine operations.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"operation"}),
		liveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "session_live_total",
			Help: "Sessions currently held open by the engine.",
		}),
	}
	m.registry.MustRegister(
		m.savesTotal, m.loadsTotal, m.conflictsTotal, m.retriesTotal,
		m.checkpointsTotal, m.summarizationsTotal, m.opDuration, m.liveSessions,
	)
	return m
}

// RecordSave counts a save attempt against a backend.
func (m *Metrics) RecordSave(backend, status string) {
	m.savesTotal.WithLabelValues(backend, status).Inc()
}

// RecordLoad counts a load attempt against a backend.
func (m *Metrics) RecordLoad(backend, status string) {
	m.loadsTotal.WithLabelValues(backend, status).Inc()
}

// RecordConflict counts an optimistic-concurrency rejection.
func (m *Metrics) RecordConflict() { m.conflictsTotal.Inc() }

// RecordRetry counts a retried storage operation.
func (m *Metrics) RecordRetry() { m.retriesTotal.Inc() }

// RecordCheckpoint counts a checkpoint operation.
func (m *Metrics) RecordCheckpoint(kind string) {
	m.checkpointsTotal.WithLabelValues(kind).Inc()
}

// RecordSummarization counts one compaction pass.
func (m *Metrics) RecordSummarization() { m.summarizationsTotal.Inc() }

// ObserveOperation records the latency of one engine operation.
func (m *Metrics) ObserveOperation(operation string, d time.Duration) {
	m.opDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// SessionOpened increments the live-session gauge.
func (m *Metrics) SessionOpened() { m.liveSessions.Inc() }

// SessionClosed decrements the live-session gauge.
func (m *Metrics) SessionClosed() { m.liveSessions.Dec() }

// Handler serves the collector's registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
