package secrets

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for secret lookups.
type Metrics struct {
	lookupTotal    *prometheus.CounterVec
	lookupDuration *prometheus.HistogramVec
	registry       *prometheus.Registry
}

// NewMetrics creates a new Metrics instance with its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "qrmi"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.lookupTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "secrets",
			Name:      "lookups_total",
			Help:      "Total number of secret lookups per source",
		},
		[]string{"source", "result"},
	)

	m.lookupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "secrets",
			Name:      "lookup_duration_seconds",
			Help:      "Secret lookup duration in seconds",
			Buckets:   []float64{.0001, .001, .01, .05, .1, .5, 1, 5},
		},
		[]string{"source"},
	)

	m.registry.MustRegister(m.Collectors()...)
	return m
}

// RecordLookup records one source lookup; result is hit, miss or error.
func (m *Metrics) RecordLookup(source, result string, duration time.Duration) {
	m.lookupTotal.WithLabelValues(source, result).Inc()
	m.lookupDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Collectors returns every collector for registration elsewhere.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.lookupTotal, m.lookupDuration}
}

// NopMetrics returns a metrics instance for tests.
func NopMetrics() *Metrics {
	return NewMetrics("test")
}
