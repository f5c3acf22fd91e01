package pipeline

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/qiskit-community/qrmi/internal/observability"
)

// Circuit breaker defaults.
const (
	// DefaultBreakerMaxFailures is the number of requests in a window
	// before the failure ratio is evaluated.
	DefaultBreakerMaxFailures = 5

	// DefaultBreakerTimeout is how long the breaker stays open.
	DefaultBreakerTimeout = 30 * time.Second
)

// newBreaker builds a gobreaker circuit breaker that trips once at least
// maxFailures requests were seen and half of them failed.
func newBreaker(p *Pipeline, maxFailures int, timeout time.Duration) *gobreaker.CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = DefaultBreakerMaxFailures
	}
	if timeout <= 0 {
		timeout = DefaultBreakerTimeout
	}
	threshold := safeIntToUint32(maxFailures)

	settings := gobreaker.Settings{
		Name:        p.name,
		MaxRequests: 1,
		Interval:    timeout,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= threshold && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			p.logger.Warn("circuit breaker state change",
				observability.String("resource", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
			if p.metrics != nil {
				p.metrics.RecordCircuitTransition(name, from.String(), to.String())
			}

			_, span := p.tracer.StartSpan(context.Background(), "circuitbreaker.state_change",
				trace.WithSpanKind(trace.SpanKindInternal),
			)
			span.AddEvent("state_change", trace.WithAttributes(
				attribute.String("circuitbreaker.name", name),
				attribute.String("circuitbreaker.from", from.String()),
				attribute.String("circuitbreaker.to", to.String()),
			))
			span.End()
		},
	}

	return gobreaker.NewCircuitBreaker(settings)
}

// safeIntToUint32 safely converts int to uint32.
func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n) //nolint:gosec // bounds checked above
}
