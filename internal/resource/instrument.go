package resource

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/qiskit-community/qrmi/internal/observability"
	"github.com/qiskit-community/qrmi/internal/status"
)

// Instrumented wraps a Resource with a span, a metric sample and a log
// line per operation.
type Instrumented struct {
	next    Resource
	name    string
	kind    Kind
	logger  observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// InstrumentOption configures Instrumented.
type InstrumentOption func(*Instrumented)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) InstrumentOption {
	return func(i *Instrumented) {
		i.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(metrics *observability.Metrics) InstrumentOption {
	return func(i *Instrumented) {
		i.metrics = metrics
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer *observability.Tracer) InstrumentOption {
	return func(i *Instrumented) {
		if tracer != nil {
			i.tracer = tracer
		}
	}
}

// Instrument wraps next.
func Instrument(next Resource, name string, kind Kind, opts ...InstrumentOption) *Instrumented {
	i := &Instrumented{
		next:   next,
		name:   name,
		kind:   kind,
		logger: observability.NopLogger(),
		tracer: observability.NopTracer(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Unwrap returns the wrapped resource.
func (i *Instrumented) Unwrap() Resource {
	return i.next
}

func (i *Instrumented) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error, ...observability.Field)) {
	attrs = append(attrs,
		attribute.String("qrmi.resource", i.name),
		attribute.String("qrmi.kind", i.kind.String()),
	)
	ctx, span := i.tracer.StartSpan(ctx, "qrmi."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	start := time.Now()

	return ctx, func(err error, fields ...observability.Field) {
		duration := time.Since(start)
		if i.metrics != nil {
			i.metrics.RecordOperation(i.name, i.kind.String(), op, err, duration)
		}

		fields = append(fields,
			observability.String("resource", i.name),
			observability.String("kind", i.kind.String()),
			observability.String("operation", op),
			observability.Duration("duration", duration),
		)
		logger := i.logger.WithContext(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Warn("resource operation failed", append(fields, observability.Error(err))...)
		} else {
			logger.Debug("resource operation", fields...)
		}
		span.End()
	}
}

// IsAccessible implements Resource.
func (i *Instrumented) IsAccessible(ctx context.Context) (bool, error) {
	ctx, done := i.start(ctx, "is_accessible")
	ok, err := i.next.IsAccessible(ctx)
	done(err, observability.Bool("accessible", ok))
	return ok, err
}

// Acquire implements Resource.
func (i *Instrumented) Acquire(ctx context.Context) (string, error) {
	ctx, done := i.start(ctx, "acquire")
	id, err := i.next.Acquire(ctx)
	done(err)
	return id, err
}

// Release implements Resource.
func (i *Instrumented) Release(ctx context.Context, sessionID string) error {
	ctx, done := i.start(ctx, "release")
	err := i.next.Release(ctx, sessionID)
	done(err)
	return err
}

// TaskStart implements Resource.
func (i *Instrumented) TaskStart(ctx context.Context, payload Payload) (string, error) {
	ctx, done := i.start(ctx, "task_start")
	id, err := i.next.TaskStart(ctx, payload)
	done(err, observability.String("task_id", id))
	return id, err
}

// TaskStop implements Resource.
func (i *Instrumented) TaskStop(ctx context.Context, taskID string) error {
	ctx, done := i.start(ctx, "task_stop", attribute.String("qrmi.task_id", taskID))
	err := i.next.TaskStop(ctx, taskID)
	done(err, observability.String("task_id", taskID))
	return err
}

// TaskStatus implements Resource.
func (i *Instrumented) TaskStatus(ctx context.Context, taskID string) (status.TaskStatus, error) {
	ctx, done := i.start(ctx, "task_status", attribute.String("qrmi.task_id", taskID))
	st, err := i.next.TaskStatus(ctx, taskID)
	if err == nil && i.metrics != nil {
		i.metrics.RecordTaskStatus(i.name, st.String())
	}
	done(err, observability.String("task_id", taskID), observability.String("status", st.String()))
	return st, err
}

// TaskResult implements Resource.
func (i *Instrumented) TaskResult(ctx context.Context, taskID string) (TaskResult, error) {
	ctx, done := i.start(ctx, "task_result", attribute.String("qrmi.task_id", taskID))
	res, err := i.next.TaskResult(ctx, taskID)
	done(err, observability.String("task_id", taskID))
	return res, err
}

// TaskLogs implements Resource.
func (i *Instrumented) TaskLogs(ctx context.Context, taskID string) (string, error) {
	ctx, done := i.start(ctx, "task_logs", attribute.String("qrmi.task_id", taskID))
	logs, err := i.next.TaskLogs(ctx, taskID)
	done(err, observability.String("task_id", taskID))
	return logs, err
}

// Target implements Resource.
func (i *Instrumented) Target(ctx context.Context) (Target, error) {
	ctx, done := i.start(ctx, "target")
	t, err := i.next.Target(ctx)
	done(err)
	return t, err
}

// Metadata implements Resource.
func (i *Instrumented) Metadata(ctx context.Context) map[string]string {
	ctx, done := i.start(ctx, "metadata")
	md := i.next.Metadata(ctx)
	done(nil)
	return md
}
