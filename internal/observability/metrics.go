package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace is the Prometheus namespace used by every QRMI metric.
const DefaultNamespace = "qrmi"

// Metrics holds the process-level Prometheus registry and the metrics
// recorded for canonical resource operations.
type Metrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	taskStatus        *prometheus.CounterVec
	buildInfo         *prometheus.GaugeVec
	registry          *prometheus.Registry
}

// NewMetrics creates a new Metrics instance with its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resource",
			Name:      "operations_total",
			Help:      "Total number of resource operations",
		},
		[]string{"resource", "kind", "operation", "result"},
	)

	m.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "resource",
			Name:      "operation_duration_seconds",
			Help:      "Resource operation duration in seconds",
			Buckets: []float64{
				.005, .01, .025, .05, .1,
				.25, .5, 1, 2.5, 5, 10, 30,
			},
		},
		[]string{"resource", "kind", "operation"},
	)

	m.taskStatus = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "status_observations_total",
			Help:      "Canonical task statuses observed by polling",
		},
		[]string{"resource", "status"},
	)

	m.buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit"},
	)

	m.registry.MustRegister(
		m.operationsTotal,
		m.operationDuration,
		m.taskStatus,
		m.buildInfo,
	)

	return m
}

// RegisterRuntimeCollectors adds Go runtime and process collectors.
func (m *Metrics) RegisterRuntimeCollectors() {
	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(
		collectors.NewProcessCollector(
			collectors.ProcessCollectorOpts{},
		),
	)
}

// RecordOperation records a resource operation outcome.
func (m *Metrics) RecordOperation(resource, kind, operation string, err error, duration time.Duration) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.operationsTotal.WithLabelValues(resource, kind, operation, result).Inc()
	m.operationDuration.WithLabelValues(resource, kind, operation).Observe(duration.Seconds())
}

// RecordTaskStatus records one observed canonical task status.
func (m *Metrics) RecordTaskStatus(resource, status string) {
	m.taskStatus.WithLabelValues(resource, status).Inc()
}

// SetBuildInfo publishes build information.
func (m *Metrics) SetBuildInfo(version, commit string) {
	m.buildInfo.WithLabelValues(version, commit).Set(1)
}

// Handler returns an HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(
		m.registry,
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	)
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MustRegister registers additional collectors, typically the credential
// and pipeline metric sets.
func (m *Metrics) MustRegister(cs ...prometheus.Collector) {
	m.registry.MustRegister(cs...)
}

// NopMetrics returns a metrics instance for tests.
func NopMetrics() *Metrics {
	return NewMetrics("test")
}
