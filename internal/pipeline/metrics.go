package pipeline

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for provider requests.
type Metrics struct {
	requestsTotal         *prometheus.CounterVec
	requestDuration       *prometheus.HistogramVec
	transientRetries      *prometheus.CounterVec
	authRetries           *prometheus.CounterVec
	circuitTransitions    *prometheus.CounterVec
	rateLimitWaitDuration *prometheus.HistogramVec
	registry              *prometheus.Registry
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "qrmi"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "requests_total",
			Help:      "Total number of provider HTTP requests",
		},
		[]string{"resource", "method", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "request_duration_seconds",
			Help:      "Provider HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"resource", "method"},
	)

	m.transientRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "transient_retries_total",
			Help:      "Total number of requests resent after a transient failure",
		},
		[]string{"resource"},
	)

	m.authRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "auth_retries_total",
			Help:      "Total number of requests resent after a credential renewal",
		},
		[]string{"resource", "result"},
	)

	m.circuitTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "circuit_breaker_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"resource", "from", "to"},
	)

	m.rateLimitWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting for the client-side rate limiter",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"resource"},
	)

	m.registry.MustRegister(m.Collectors()...)

	return m
}

// RecordRequest records one HTTP round trip. statusCode is 0 for transport
// failures.
func (m *Metrics) RecordRequest(resource, method string, statusCode int, duration time.Duration) {
	status := "error"
	if statusCode > 0 {
		status = strconv.Itoa(statusCode)
	}
	m.requestsTotal.WithLabelValues(resource, method, status).Inc()
	m.requestDuration.WithLabelValues(resource, method).Observe(duration.Seconds())
}

// RecordTransientRetry records a transient resend.
func (m *Metrics) RecordTransientRetry(resource string) {
	m.transientRetries.WithLabelValues(resource).Inc()
}

// RecordAuthRetry records an auth resend and whether it succeeded.
func (m *Metrics) RecordAuthRetry(resource string, success bool) {
	result := "success"
	if !success {
		result = "rejected"
	}
	m.authRetries.WithLabelValues(resource, result).Inc()
}

// RecordCircuitTransition records a circuit breaker state change.
func (m *Metrics) RecordCircuitTransition(resource, from, to string) {
	m.circuitTransitions.WithLabelValues(resource, from, to).Inc()
}

// RecordRateLimitWait records time spent in the limiter.
func (m *Metrics) RecordRateLimitWait(resource string, d time.Duration) {
	m.rateLimitWaitDuration.WithLabelValues(resource).Observe(d.Seconds())
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Collectors returns the pipeline collectors for registration in a
// process-level registry.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.requestsTotal,
		m.requestDuration,
		m.transientRetries,
		m.authRetries,
		m.circuitTransitions,
		m.rateLimitWaitDuration,
	}
}

// NopMetrics returns a metrics instance for tests.
func NopMetrics() *Metrics {
	return NewMetrics("test")
}
