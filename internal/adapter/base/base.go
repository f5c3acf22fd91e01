// Package base holds what every provider adapter shares: the dependency
// set handed down from the entry point and the helpers that turn a
// config.ResourceConfig into a request pipeline, a credential store and
// an accessibility predicate.
package base

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/qiskit-community/qrmi/internal/config"
	"github.com/qiskit-community/qrmi/internal/credential"
	"github.com/qiskit-community/qrmi/internal/health"
	"github.com/qiskit-community/qrmi/internal/munge"
	"github.com/qiskit-community/qrmi/internal/observability"
	"github.com/qiskit-community/qrmi/internal/pipeline"
	"github.com/qiskit-community/qrmi/internal/resource"
	"github.com/qiskit-community/qrmi/internal/retry"
	"github.com/qiskit-community/qrmi/internal/secrets"
	"github.com/qiskit-community/qrmi/internal/status"
	"github.com/qiskit-community/qrmi/internal/util"
)

// Deps is the dependency set passed to adapter constructors. Zero fields
// get working defaults from WithDefaults.
type Deps struct {
	Logger observability.Logger
	Tracer *observability.Tracer

	Metrics           *observability.Metrics
	PipelineMetrics   *pipeline.Metrics
	CredentialMetrics *credential.Metrics
	HealthMetrics     *health.Metrics

	// Secrets resolves provider secrets. Defaults to the process
	// environment.
	Secrets *secrets.Resolver
	// TokenCache shares refreshed credentials between processes.
	TokenCache credential.TokenCache
	// HTTPClient is the transport of every pipeline.
	HTTPClient pipeline.HTTPDoer
	// Sleep replaces backoff waits in tests.
	Sleep retry.SleepFunc
	// Clock drives local task progression and timestamps.
	Clock resource.Clock
	// Signer signs Pasqal Local requests.
	Signer munge.Signer
}

// WithDefaults returns d with nil fields replaced by defaults.
func (d Deps) WithDefaults() Deps {
	if d.Logger == nil {
		d.Logger = observability.NopLogger()
	}
	if d.Tracer == nil {
		d.Tracer = observability.NopTracer()
	}
	if d.Secrets == nil {
		d.Secrets = secrets.NewResolver([]secrets.Source{secrets.NewEnvSource()}, secrets.WithLogger(d.Logger))
	}
	if d.Clock == nil {
		d.Clock = resource.SystemClock{}
	}
	if d.Signer == nil {
		d.Signer = &munge.CommandSigner{}
	}
	return d
}

// NewPipeline builds the request pipeline of cfg against baseURL, applying
// the retry, breaker and rate limit settings of cfg before opts.
func NewPipeline(cfg *config.ResourceConfig, baseURL string, d Deps, opts ...pipeline.Option) *pipeline.Pipeline {
	all := []pipeline.Option{
		pipeline.WithRetryConfig(cfg.Retry.RetryPolicy()),
		pipeline.WithTracer(d.Tracer),
		pipeline.WithLogger(d.Logger.With(observability.String("resource", cfg.Name))),
	}
	if d.HTTPClient != nil {
		all = append(all, pipeline.WithHTTPClient(d.HTTPClient))
	} else if timeout := cfg.Timeout.Duration(); timeout > 0 {
		all = append(all, pipeline.WithHTTPClient(&http.Client{Timeout: timeout}))
	}
	if d.PipelineMetrics != nil {
		all = append(all, pipeline.WithMetrics(d.PipelineMetrics))
	}
	if d.Sleep != nil {
		all = append(all, pipeline.WithSleep(d.Sleep))
	}
	if cb := cfg.CircuitBreaker; cb != nil && cb.Enabled {
		all = append(all, pipeline.WithCircuitBreaker(cb.MaxFailures, cb.Timeout.Duration()))
	}
	if rl := cfg.RateLimit; rl != nil {
		all = append(all, pipeline.WithRateLimit(rl.RPS, rl.Burst))
	}
	return pipeline.New(cfg.Name, baseURL, append(all, opts...)...)
}

// NewStore builds the credential store of the resource named name. The
// shared cache key includes kind so two providers never share a token.
func NewStore(name string, kind resource.Kind, refresher credential.Refresher, d Deps, opts ...credential.StoreOption) *credential.Store {
	all := []credential.StoreOption{
		credential.WithLogger(d.Logger),
		credential.WithClock(d.Clock.Now),
	}
	if d.CredentialMetrics != nil {
		all = append(all, credential.WithMetrics(d.CredentialMetrics))
	}
	if d.TokenCache != nil {
		all = append(all, credential.WithCache(d.TokenCache, string(kind)+":"+name))
	}
	return credential.NewStore(name, refresher, append(all, opts...)...)
}

// Evaluator compiles the accessible_when expression of cfg, falling back
// to def.
func Evaluator(cfg *config.ResourceConfig, def string, d Deps) (*health.Evaluator, error) {
	expr := cfg.AccessibleWhen
	if strings.TrimSpace(expr) == "" {
		expr = def
	}
	opts := []health.EvaluatorOption{
		health.WithEvaluatorLogger(d.Logger),
		health.WithEvaluatorClock(d.Clock.Now),
	}
	if d.HealthMetrics != nil {
		opts = append(opts, health.WithEvaluatorMetrics(d.HealthMetrics))
	}
	return health.NewEvaluator(expr, opts...)
}

// Endpoint returns the configured endpoint of cfg, or def, validated.
func Endpoint(cfg *config.ResourceConfig, def string) (string, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = def
	}
	if err := util.ValidateURL(endpoint); err != nil {
		return "", util.NewConfigErrorWithCause(cfg.Name+".endpoint", "invalid endpoint", err)
	}
	return endpoint, nil
}

// Backend returns the configured backend of cfg, or its name.
func Backend(cfg *config.ResourceConfig) string {
	if b := strings.TrimSpace(cfg.Backend); b != "" {
		return b
	}
	return cfg.Name
}

// BackendField returns the job field that carries the backend name.
func BackendField(cfg *config.ResourceConfig) string {
	if f := strings.TrimSpace(cfg.JobBackendField); f != "" {
		return f
	}
	return config.DefaultJobBackendField
}

// OneOf fails with a ConfigError when value is not in allowed.
func OneOf(field, value string, allowed []string) error {
	for _, a := range allowed {
		if a == value {
			return nil
		}
	}
	return util.NewConfigError(field, fmt.Sprintf("%q is not one of %s", value, strings.Join(allowed, ", ")))
}

// TaskError maps a provider 404 on a task path to util.ErrTaskNotFound.
func TaskError(err error, taskID string) error {
	if err == nil {
		return nil
	}
	if util.StatusCodeOf(err) == http.StatusNotFound {
		return fmt.Errorf("%w: %s: %w", util.ErrTaskNotFound, taskID, err)
	}
	return err
}

// SettleStop resolves a rejected cancel request. Providers refuse to
// cancel a task they already finished; when a fresh status read shows the
// task terminal the stop succeeds. Any other outcome returns stopErr.
func SettleStop(
	ctx context.Context,
	taskID string,
	stopErr error,
	taskStatus func(context.Context, string) (status.TaskStatus, error),
) error {
	code := util.StatusCodeOf(stopErr)
	if code < http.StatusBadRequest || code >= http.StatusInternalServerError ||
		code == http.StatusUnauthorized ||
		util.IsRetryable(stopErr) || errors.Is(stopErr, util.ErrAuthenticationFailed) {
		return stopErr
	}
	st, err := taskStatus(ctx, taskID)
	if err != nil || !st.IsTerminal() {
		return stopErr
	}
	return nil
}

// Unavailable marks a provider rejection as util.ErrResourceUnavailable.
// Transport and auth failures keep their own kind.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, util.ErrTransientNetwork) || errors.Is(err, util.ErrAuthenticationFailed) {
		return err
	}
	if util.StatusCodeOf(err) == 0 {
		return err
	}
	return fmt.Errorf("%w: %w", util.ErrResourceUnavailable, err)
}

// NotReady returns util.ErrNotReady unless st is Completed.
func NotReady(taskID string, st status.TaskStatus) error {
	if st == status.Completed {
		return nil
	}
	return fmt.Errorf("%w: task %s is %s", util.ErrNotReady, taskID, st)
}
