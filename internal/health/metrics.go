package health

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for readiness checks and accessibility
// evaluations.
type Metrics struct {
	checksTotal        *prometheus.CounterVec
	checkStatus        *prometheus.GaugeVec
	evaluationTotal    *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	registry           *prometheus.Registry
}

// NewMetrics creates a new Metrics instance with its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "qrmi"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.checksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "checks_total",
			Help:      "Total number of readiness checks performed",
		},
		[]string{"check", "result"},
	)

	m.checkStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "check_status",
			Help: "Current readiness check " +
				"status (1=healthy, 0=unhealthy)",
		},
		[]string{"check"},
	)

	m.evaluationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "accessibility_evaluations_total",
			Help:      "Total number of accessibility expression evaluations",
		},
		[]string{"resource", "result"},
	)

	m.evaluationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "accessibility_evaluation_duration_seconds",
			Help:      "Accessibility expression evaluation duration in seconds",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
		},
		[]string{"resource"},
	)

	m.registry.MustRegister(m.Collectors()...)
	return m
}

// RecordCheck records a readiness check outcome.
func (m *Metrics) RecordCheck(check string, healthy bool, _ time.Duration) {
	result, value := "healthy", 1.0
	if !healthy {
		result, value = "unhealthy", 0
	}
	m.checksTotal.WithLabelValues(check, result).Inc()
	m.checkStatus.WithLabelValues(check).Set(value)
}

// RecordEvaluation records an accessibility evaluation.
func (m *Metrics) RecordEvaluation(resource, result string, duration time.Duration) {
	m.evaluationTotal.WithLabelValues(resource, result).Inc()
	m.evaluationDuration.WithLabelValues(resource).Observe(duration.Seconds())
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Collectors returns every collector for registration elsewhere.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.checksTotal,
		m.checkStatus,
		m.evaluationTotal,
		m.evaluationDuration,
	}
}

// NopMetrics returns a metrics instance for tests.
func NopMetrics() *Metrics {
	return NewMetrics("test")
}
