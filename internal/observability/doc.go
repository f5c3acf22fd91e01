// Package observability provides logging, metrics, and tracing
// functionality for QRMI resources.
//
// # Logging
//
// The Logger interface provides structured logging backed by zap. The
// process entry point builds one logger and passes it down through
// constructor options:
//
//	logger, err := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info("task submitted",
//	    observability.String("resource", "qpu.aria-1"),
//	    observability.String("task_id", id),
//	)
//
// Credential values are never passed to the logger.
//
// # Metrics
//
// Metrics owns the Prometheus registry served on /metrics. Package level
// metric sets (credential, pipeline) register into it:
//
//	metrics := observability.NewMetrics("qrmi")
//	metrics.MustRegister(credentialMetrics.Collectors()...)
//	http.Handle("/metrics", metrics.Handler())
//
// # Tracing
//
// Tracer wraps OpenTelemetry with an OTLP gRPC exporter. The request
// pipeline opens one client span per provider call and injects W3C trace
// context into the outgoing headers.
package observability
