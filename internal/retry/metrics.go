package retry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RetryAttemptsTotal counts total retry attempts.
	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qrmi",
			Name:      "retry_attempts_total",
			Help:      "Total number of retry attempts",
		},
		[]string{"operation", "attempt"},
	)

	// RetryExhaustedTotal counts operations that failed after all attempts.
	RetryExhaustedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "qrmi",
			Name:      "retry_exhausted_total",
			Help:      "Total number of operations that failed after all retry attempts",
		},
		[]string{"operation"},
	)

	// RetryBackoffDuration measures backoff wait times.
	RetryBackoffDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "qrmi",
			Name:      "retry_backoff_duration_seconds",
			Help:      "Duration of backoff waits in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 10},
		},
		[]string{"operation"},
	)
)

// Collectors returns the retry metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		RetryAttemptsTotal,
		RetryExhaustedTotal,
		RetryBackoffDuration,
	}
}

// RecordRetryAttempt records a retry attempt.
func RecordRetryAttempt(operation string, attempt int) {
	RetryAttemptsTotal.WithLabelValues(operation, strconv.Itoa(attempt)).Inc()
}

// RecordRetryExhausted records an operation that ran out of attempts.
func RecordRetryExhausted(operation string) {
	RetryExhaustedTotal.WithLabelValues(operation).Inc()
}

// RecordBackoffDuration records a backoff wait duration.
func RecordBackoffDuration(operation string, durationSeconds float64) {
	RetryBackoffDuration.WithLabelValues(operation).Observe(durationSeconds)
}
