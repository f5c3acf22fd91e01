package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/qiskit-community/qrmi/internal/observability"
)

// Status represents the health status.
type Status string

const (
	// StatusHealthy indicates every check passed.
	StatusHealthy Status = "healthy"
	// StatusUnhealthy indicates a critical check failed.
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded indicates a non-critical check failed.
	StatusDegraded Status = "degraded"
)

// DefaultCheckTimeout bounds a single check.
const DefaultCheckTimeout = 10 * time.Second

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    Status    `json:"status"`
	Version   string    `json:"version,omitempty"`
	Uptime    string    `json:"uptime,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadinessResponse represents the readiness check response.
type ReadinessResponse struct {
	Status    Status           `json:"status"`
	Checks    map[string]Check `json:"checks,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Check represents an individual check result.
type Check struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// CheckFunc probes one dependency.
type CheckFunc func(ctx context.Context) error

type registeredCheck struct {
	fn       CheckFunc
	critical bool
}

// Checker aggregates readiness checks, typically one accessibility probe
// per configured resource plus the shared token cache.
type Checker struct {
	version   string
	startTime time.Time
	timeout   time.Duration
	logger    observability.Logger
	metrics   *Metrics

	mu     sync.RWMutex
	checks map[string]registeredCheck
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithCheckTimeout bounds each check.
func WithCheckTimeout(timeout time.Duration) CheckerOption {
	return func(c *Checker) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithCheckerMetrics sets the metrics.
func WithCheckerMetrics(metrics *Metrics) CheckerOption {
	return func(c *Checker) {
		c.metrics = metrics
	}
}

// NewChecker creates a new health checker.
func NewChecker(version string, logger observability.Logger, opts ...CheckerOption) *Checker {
	if logger == nil {
		logger = observability.NopLogger()
	}
	c := &Checker{
		version:   version,
		startTime: time.Now(),
		timeout:   DefaultCheckTimeout,
		logger:    logger,
		checks:    make(map[string]registeredCheck),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a critical check.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.register(name, fn, true)
}

// RegisterOptional adds a check whose failure only degrades readiness.
func (c *Checker) RegisterOptional(name string, fn CheckFunc) {
	c.register(name, fn, false)
}

func (c *Checker) register(name string, fn CheckFunc, critical bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = registeredCheck{fn: fn, critical: critical}
}

// Unregister removes a check.
func (c *Checker) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// Names returns the registered check names in order.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Health returns the liveness status.
func (c *Checker) Health() HealthResponse {
	return HealthResponse{
		Status:    StatusHealthy,
		Version:   c.version,
		Uptime:    time.Since(c.startTime).Round(time.Second).String(),
		Timestamp: time.Now(),
	}
}

// Readiness runs every check concurrently and aggregates the results.
func (c *Checker) Readiness(ctx context.Context) ReadinessResponse {
	c.mu.RLock()
	checks := make(map[string]registeredCheck, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	response := ReadinessResponse{
		Status:    StatusHealthy,
		Checks:    make(map[string]Check, len(checks)),
		Timestamp: time.Now(),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check registeredCheck) {
			defer wg.Done()
			result := c.run(ctx, name, check)

			mu.Lock()
			defer mu.Unlock()
			response.Checks[name] = result
			switch {
			case result.Status == StatusUnhealthy:
				response.Status = StatusUnhealthy
			case result.Status == StatusDegraded && response.Status != StatusUnhealthy:
				response.Status = StatusDegraded
			}
		}(name, check)
	}
	wg.Wait()

	return response
}

func (c *Checker) run(ctx context.Context, name string, check registeredCheck) Check {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := check.fn(ctx)
	duration := time.Since(start)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && err != nil {
		err = fmt.Errorf("check timed out after %v: %w", c.timeout, err)
	}
	if c.metrics != nil {
		c.metrics.RecordCheck(name, err == nil, duration)
	}

	result := Check{Status: StatusHealthy, Duration: duration.Round(time.Millisecond).String()}
	if err != nil {
		result.Message = err.Error()
		result.Status = StatusDegraded
		if check.critical {
			result.Status = StatusUnhealthy
		}
		c.logger.Warn("readiness check failed",
			observability.String("check", name),
			observability.Error(err),
		)
	}
	return result
}

// HealthHandler returns an HTTP handler for the liveness endpoint.
func (c *Checker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, c.Health())
	}
}

// ReadinessHandler returns an HTTP handler for the readiness endpoint.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := c.Readiness(r.Context())
		statusCode := http.StatusOK
		if response.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		writeJSON(w, statusCode, response)
	}
}

// Mount registers /healthz and /readyz on mux.
func (c *Checker) Mount(mux *http.ServeMux) {
	mux.Handle("/healthz", c.HealthHandler())
	mux.Handle("/readyz", c.ReadinessHandler())
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// Prober is the accessibility probe of a resource.
type Prober interface {
	IsAccessible(ctx context.Context) (bool, error)
}

// ResourceCheck reports a resource that is unreachable or not accessible.
func ResourceCheck(p Prober) CheckFunc {
	return func(ctx context.Context) error {
		ok, err := p.IsAccessible(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("resource is not accessible")
		}
		return nil
	}
}

// RedisCheck pings the shared token cache.
func RedisCheck(client redis.UniversalClient) CheckFunc {
	return func(ctx context.Context) error {
		if client == nil {
			return errors.New("redis client is nil")
		}
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		return nil
	}
}
