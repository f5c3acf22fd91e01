package credential

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for credential refreshes.
type Metrics struct {
	refreshTotal    *prometheus.CounterVec
	refreshDuration *prometheus.HistogramVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	tokenExpiry     *prometheus.GaugeVec
	registry        *prometheus.Registry
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "qrmi"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credential",
			Name:      "refresh_total",
			Help:      "Total number of credential refresh operations",
		},
		[]string{"resource", "kind", "status"},
	)

	m.refreshDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "credential",
			Name:      "refresh_duration_seconds",
			Help:      "Credential refresh duration in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"resource", "kind"},
	)

	m.cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credential",
			Name:      "cache_hits_total",
			Help:      "Total number of shared token cache hits",
		},
		[]string{"resource"},
	)

	m.cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "credential",
			Name:      "cache_misses_total",
			Help:      "Total number of shared token cache misses",
		},
		[]string{"resource"},
	)

	m.tokenExpiry = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "credential",
			Name:      "token_expiry_seconds",
			Help:      "Token expiry timestamp in seconds since epoch",
		},
		[]string{"resource", "kind"},
	)

	m.registry.MustRegister(m.Collectors()...)

	return m
}

// RecordRefresh records a refresh attempt.
func (m *Metrics) RecordRefresh(resource, kind string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.refreshTotal.WithLabelValues(resource, kind, status).Inc()
	m.refreshDuration.WithLabelValues(resource, kind).Observe(duration.Seconds())
}

// RecordCacheHit records a shared cache hit.
func (m *Metrics) RecordCacheHit(resource string) {
	m.cacheHits.WithLabelValues(resource).Inc()
}

// RecordCacheMiss records a shared cache miss.
func (m *Metrics) RecordCacheMiss(resource string) {
	m.cacheMisses.WithLabelValues(resource).Inc()
}

// SetTokenExpiry publishes the expiry of the current credential.
func (m *Metrics) SetTokenExpiry(resource, kind string, expiry time.Time) {
	if expiry.IsZero() {
		return
	}
	m.tokenExpiry.WithLabelValues(resource, kind).Set(float64(expiry.Unix()))
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Collectors returns the credential collectors for registration in a
// process-level registry.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.refreshTotal,
		m.refreshDuration,
		m.cacheHits,
		m.cacheMisses,
		m.tokenExpiry,
	}
}

// NopMetrics returns a metrics instance for tests.
func NopMetrics() *Metrics {
	return NewMetrics("test")
}
