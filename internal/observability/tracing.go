package observability

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// OTLP exporter retry configuration defaults.
const (
	// DefaultOTLPRetryInitialInterval is the initial backoff interval for OTLP exporter retries.
	DefaultOTLPRetryInitialInterval = 1 * time.Second

	// DefaultOTLPRetryMaxInterval is the maximum backoff interval for OTLP exporter retries.
	DefaultOTLPRetryMaxInterval = 30 * time.Second

	// DefaultOTLPRetryMaxElapsedTime is the maximum total time for OTLP exporter retries.
	DefaultOTLPRetryMaxElapsedTime = 1 * time.Minute

	// DefaultOTLPTimeout is the default timeout for OTLP exporter operations.
	DefaultOTLPTimeout = 10 * time.Second

	// DefaultOTLPReconnectionPeriod is the default reconnection period for OTLP gRPC connection.
	DefaultOTLPReconnectionPeriod = 10 * time.Second
)

// DefaultServiceName is the service name reported on spans.
const DefaultServiceName = "qrmi"

// TracerConfig contains tracing configuration.
type TracerConfig struct {
	ServiceName  string
	OTLPEndpoint string
	SamplingRate float64
	Enabled      bool

	// Retry configuration for OTLP exporter.
	// If nil, defaults will be used.
	RetryConfig *OTLPRetryConfig
}

// OTLPRetryConfig contains retry configuration for OTLP exporter.
type OTLPRetryConfig struct {
	// Enabled indicates whether retry is enabled.
	Enabled bool

	// InitialInterval is the initial backoff interval.
	InitialInterval time.Duration

	// MaxInterval is the maximum backoff interval.
	MaxInterval time.Duration

	// MaxElapsedTime is the maximum total time for retries.
	MaxElapsedTime time.Duration
}

// Tracer wraps OpenTelemetry tracing functionality.
type Tracer struct {
	provider   *sdktrace.TracerProvider
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	config     TracerConfig
}

func defaultPropagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

// NopTracer returns a tracer that records nothing.
func NopTracer() *Tracer {
	return &Tracer{
		tracer:     noop.NewTracerProvider().Tracer("qrmi"),
		propagator: defaultPropagator(),
	}
}

// NewTracerWithProvider wraps an existing SDK provider without touching the
// process-wide OpenTelemetry state.
func NewTracerWithProvider(provider *sdktrace.TracerProvider, serviceName string) *Tracer {
	return &Tracer{
		provider:   provider,
		tracer:     provider.Tracer(serviceName),
		propagator: defaultPropagator(),
		config:     TracerConfig{ServiceName: serviceName, Enabled: true},
	}
}

// NewTracer creates a new tracer.
func NewTracer(cfg TracerConfig) (*Tracer, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}

	if !cfg.Enabled {
		return &Tracer{
			config:     cfg,
			tracer:     otel.Tracer(cfg.ServiceName),
			propagator: defaultPropagator(),
		}, nil
	}

	ctx := context.Background()

	var exporter *otlptrace.Exporter
	var err error

	if cfg.OTLPEndpoint != "" {
		// Build OTLP exporter options with retry configuration
		opts := buildOTLPExporterOptions(cfg)

		exporter, err = otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, err
		}
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, err
	}

	sampler := createSampler(cfg.SamplingRate)

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	}

	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	provider := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(defaultPropagator())

	return &Tracer{
		provider:   provider,
		tracer:     provider.Tracer(cfg.ServiceName),
		propagator: defaultPropagator(),
		config:     cfg,
	}, nil
}

// createSampler creates a sampler based on the sampling rate.
func createSampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// buildOTLPExporterOptions builds OTLP gRPC exporter options with retry configuration.
func buildOTLPExporterOptions(cfg TracerConfig) []otlptracegrpc.Option {
	// Preallocate with capacity for all options (4 base + 1 retry)
	opts := make([]otlptracegrpc.Option, 0, 5)
	opts = append(opts,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithTimeout(DefaultOTLPTimeout),
		otlptracegrpc.WithReconnectionPeriod(DefaultOTLPReconnectionPeriod),
	)

	// Configure retry with exponential backoff
	retryConfig := buildRetryConfig(cfg.RetryConfig)
	opts = append(opts, otlptracegrpc.WithRetry(retryConfig))

	return opts
}

// buildRetryConfig builds the retry configuration for OTLP exporter.
func buildRetryConfig(cfg *OTLPRetryConfig) otlptracegrpc.RetryConfig {
	// Use defaults if no custom config provided
	if cfg == nil {
		return otlptracegrpc.RetryConfig{
			Enabled:         true,
			InitialInterval: DefaultOTLPRetryInitialInterval,
			MaxInterval:     DefaultOTLPRetryMaxInterval,
			MaxElapsedTime:  DefaultOTLPRetryMaxElapsedTime,
		}
	}

	// Build config from provided values, using defaults for zero values
	retryConfig := otlptracegrpc.RetryConfig{
		Enabled: cfg.Enabled,
	}

	if cfg.InitialInterval > 0 {
		retryConfig.InitialInterval = cfg.InitialInterval
	} else {
		retryConfig.InitialInterval = DefaultOTLPRetryInitialInterval
	}

	if cfg.MaxInterval > 0 {
		retryConfig.MaxInterval = cfg.MaxInterval
	} else {
		retryConfig.MaxInterval = DefaultOTLPRetryMaxInterval
	}

	if cfg.MaxElapsedTime > 0 {
		retryConfig.MaxElapsedTime = cfg.MaxElapsedTime
	} else {
		retryConfig.MaxElapsedTime = DefaultOTLPRetryMaxElapsedTime
	}

	return retryConfig
}

// Shutdown shuts down the tracer.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider != nil {
		return t.provider.Shutdown(ctx)
	}
	return nil
}

// StartSpan starts a new span.
func (t *Tracer) StartSpan(
	ctx context.Context,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// SpanFromContext returns the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// StartClientSpan starts a client span for an outbound provider request and
// returns the context carrying it.
func (t *Tracer) StartClientSpan(ctx context.Context, r *http.Request, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("http.request.method", r.Method),
		attribute.String("server.address", r.URL.Host),
		attribute.String("url.path", r.URL.Path),
	)
	ctx, span := t.StartSpan(ctx, r.Method+" "+r.URL.Path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	return addTraceContextToContext(ctx, span), span
}

// EndClientSpan records the response status on the span and ends it.
func EndClientSpan(span trace.Span, statusCode int, err error) {
	if statusCode > 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", statusCode))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if statusCode >= 400 {
		span.SetStatus(codes.Error, http.StatusText(statusCode))
	}
	span.End()
}

// addTraceContextToContext adds trace and span IDs to context for logging.
func addTraceContextToContext(ctx context.Context, span trace.Span) context.Context {
	if span.SpanContext().HasTraceID() {
		ctx = ContextWithTraceID(ctx, span.SpanContext().TraceID().String())
	}
	if span.SpanContext().HasSpanID() {
		ctx = ContextWithSpanID(ctx, span.SpanContext().SpanID().String())
	}
	return ctx
}

// InjectTraceContext injects trace context into outgoing request headers.
func (t *Tracer) InjectTraceContext(ctx context.Context, r *http.Request) {
	t.propagator.Inject(ctx, propagation.HeaderCarrier(r.Header))
}
