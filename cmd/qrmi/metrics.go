package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/qiskit-community/qrmi/internal/health"
	"github.com/qiskit-community/qrmi/internal/observability"
)

// createMetricsServer creates the metrics and health HTTP server.
func createMetricsServer(
	addr string,
	metrics *observability.Metrics,
	healthChecker *health.Checker,
	logger observability.Logger,
) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	healthChecker.Mount(mux)

	logger.Info("starting metrics server",
		observability.String("address", addr),
	)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// runMetricsServer runs the metrics HTTP server.
func runMetricsServer(server *http.Server, logger observability.Logger) {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server error", observability.Error(err))
	}
}

// startMetricsServer serves metrics on addr until the application shuts
// down.
func startMetricsServer(app *application, addr string, logger observability.Logger) {
	app.metricsServer = createMetricsServer(addr, app.metrics, app.healthChecker, logger)
	go runMetricsServer(app.metricsServer, logger)
}
