package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the reading pipeline
type Metrics struct {
	readings        *prometheus.CounterVec
	backendAttempts *prometheus.CounterVec
	backendLatency  *prometheus.HistogramVec
	gateDecisions   *prometheus.CounterVec
	reservations    *prometheus.CounterVec
	duration        prometheus.Histogram
	sinkFailures    *prometheus.CounterVec
}

// NewMetrics registers collectors on reg. Tests pass a fresh registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		readings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "arcana_readings_total",
			Help: "Readings by final disposition status and reason",
		}, []string{"status", "reason"}),
		backendAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "arcana_backend_attempts_total",
			Help: "Generation backend attempts by backend and result",
		}, []string{"backend", "result"}),
		backendLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arcana_backend_latency_seconds",
			Help:    "Generation backend call latency",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 45},
		}, []string{"backend"}),
		gateDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "arcana_gate_decisions_total",
			Help: "Evaluation gate decisions by source and reason",
		}, []string{"source", "reason"}),
		reservations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "arcana_quota_reservations_total",
			Help: "Quota reservation transitions",
		}, []string{"state"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "arcana_reading_duration_seconds",
			Help:    "End-to-end reading pipeline duration",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 9),
		}),
		sinkFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "arcana_telemetry_sink_failures_total",
			Help: "Telemetry records a sink failed to persist",
		}, []string{"sink"}),
	}
}

func (m *Metrics) ObserveReading(status, reason string, d time.Duration) {
	if m == nil {
		return
	}
	m.readings.WithLabelValues(status, reason).Inc()
	m.duration.Observe(d.Seconds())
}

func (m *Metrics) ObserveBackend(backend, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.backendAttempts.WithLabelValues(backend, result).Inc()
	m.backendLatency.WithLabelValues(backend).Observe(d.Seconds())
}

func (m *Metrics) ObserveGate(source, reason string) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(source, reason).Inc()
}

func (m *Metrics) ObserveReservation(state string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(state).Inc()
}

func (m *Metrics) ObserveSinkFailure(sink string) {
	if m == nil {
		return
	}
	m.sinkFailures.WithLabelValues(sink).Inc()
}
