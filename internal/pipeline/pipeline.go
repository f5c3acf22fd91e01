package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/qiskit-community/qrmi/internal/observability"
	"github.com/qiskit-community/qrmi/internal/retry"
	"github.com/qiskit-community/qrmi/internal/util"
)

// Default header settings.
const (
	// DefaultAuthHeader carries the credential.
	DefaultAuthHeader = "Authorization"

	// DefaultAuthScheme prefixes the credential in DefaultAuthHeader.
	DefaultAuthScheme = "Bearer"

	// DefaultUserAgent identifies the client to providers.
	DefaultUserAgent = "qrmi-go"

	// maxResponseBytes bounds buffered provider responses.
	maxResponseBytes = 64 << 20
)

// HTTPDoer sends HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Authenticator supplies the credential attached to each request.
// credential.Store implements it.
type Authenticator interface {
	// GetToken returns a usable token, refreshing if needed.
	GetToken(ctx context.Context) (string, error)
	// Renew replaces a token the provider rejected.
	Renew(ctx context.Context, rejected string) (string, error)
}

// Pipeline sends provider requests through two layers: an outer auth
// layer that renews the credential and resends once on 401, and an inner
// transient layer that retries network failures and retryable statuses
// with bounded exponential backoff.
//
// State-mutating requests are retried like reads; providers are assumed
// to tolerate a resend of a request whose response was lost.
type Pipeline struct {
	name       string
	baseURL    string
	client     HTTPDoer
	auth       Authenticator
	authHeader string
	authScheme string
	headers    http.Header
	retryCfg   *retry.Config
	condition  retry.RetryCondition
	sleep      retry.SleepFunc
	breaker    *gobreaker.CircuitBreaker
	limiter    *rate.Limiter
	tracer     *observability.Tracer
	logger     observability.Logger
	metrics    *Metrics

	breakerMaxFailures int
	breakerTimeout     time.Duration
	breakerEnabled     bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithHTTPClient sets the underlying transport.
func WithHTTPClient(client HTTPDoer) Option {
	return func(p *Pipeline) {
		if client != nil {
			p.client = client
		}
	}
}

// WithAuthenticator attaches credentials from auth to every request.
func WithAuthenticator(auth Authenticator) Option {
	return func(p *Pipeline) {
		p.auth = auth
	}
}

// WithAuthHeader changes the header and scheme used for the credential.
// An empty scheme sends the bare token.
func WithAuthHeader(header, scheme string) Option {
	return func(p *Pipeline) {
		if header != "" {
			p.authHeader = header
		}
		p.authScheme = scheme
	}
}

// WithHeader adds a static header to every request.
func WithHeader(key, value string) Option {
	return func(p *Pipeline) {
		p.headers.Set(key, value)
	}
}

// WithRetryConfig sets the transient retry policy.
func WithRetryConfig(cfg *retry.Config) Option {
	return func(p *Pipeline) {
		if cfg != nil {
			p.retryCfg = cfg
		}
	}
}

// WithRetryCondition replaces the transient classification.
func WithRetryCondition(cond retry.RetryCondition) Option {
	return func(p *Pipeline) {
		if cond != nil {
			p.condition = cond
		}
	}
}

// WithSleep replaces the backoff wait, typically with a fake clock.
func WithSleep(sleep retry.SleepFunc) Option {
	return func(p *Pipeline) {
		p.sleep = sleep
	}
}

// WithCircuitBreaker enables a circuit breaker around the transport.
func WithCircuitBreaker(maxFailures int, timeout time.Duration) Option {
	return func(p *Pipeline) {
		p.breakerEnabled = true
		p.breakerMaxFailures = maxFailures
		p.breakerTimeout = timeout
	}
}

// WithRateLimit enables a client-side token bucket limiter.
func WithRateLimit(rps float64, burst int) Option {
	return func(p *Pipeline) {
		if rps <= 0 {
			return
		}
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer *observability.Tracer) Option {
	return func(p *Pipeline) {
		if tracer != nil {
			p.tracer = tracer
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = metrics
	}
}

// New creates a Pipeline for the resource name. Relative request paths
// are resolved against baseURL.
func New(name, baseURL string, opts ...Option) *Pipeline {
	p := &Pipeline{
		name:       name,
		baseURL:    baseURL,
		client:     &http.Client{Timeout: 60 * time.Second},
		authHeader: DefaultAuthHeader,
		authScheme: DefaultAuthScheme,
		headers:    http.Header{"User-Agent": []string{DefaultUserAgent}},
		retryCfg:   retry.DefaultConfig(),
		condition:  retry.TransientCondition(),
		tracer:     observability.NopTracer(),
		logger:     observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.breakerEnabled {
		p.breaker = newBreaker(p, p.breakerMaxFailures, p.breakerTimeout)
	}
	return p
}

// Name returns the resource name.
func (p *Pipeline) Name() string {
	return p.name
}

// BaseURL returns the base URL.
func (p *Pipeline) BaseURL() string {
	return p.baseURL
}

// Do sends req and returns the final response. Any status other than a
// second 401 is returned as a Response; callers decide which statuses
// are errors.
func (p *Pipeline) Do(ctx context.Context, req *Request) (*Response, error) {
	if p.auth == nil {
		return p.send(ctx, req, "")
	}

	token, err := p.auth.GetToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := p.send(ctx, req, token)
	switch {
	case err == nil && resp.StatusCode != http.StatusUnauthorized:
		return resp, nil
	case err != nil && (ctx.Err() != nil || !renewable(err)):
		return nil, err
	}

	p.logger.Info("renewing credential after rejected request",
		observability.String("resource", p.name),
		observability.String("method", req.Method),
		observability.String("path", req.Path),
	)

	token, rerr := p.auth.Renew(ctx, token)
	if rerr != nil {
		return nil, rerr
	}

	resp, err = p.send(ctx, req, token)
	if err != nil {
		p.recordAuthRetry(false)
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		p.recordAuthRetry(false)
		return nil, util.NewProviderErrorWithCause(p.name, req.operation(), resp.StatusCode,
			string(resp.Body), util.ErrAuthenticationFailed)
	}
	p.recordAuthRetry(true)
	return resp, nil
}

// renewable reports whether a failed send should trigger a credential
// renewal. Transport failures qualify, including exhausted transient
// retries. Provider statuses, an open breaker and cancellation do not.
func renewable(err error) bool {
	if errors.Is(err, util.ErrResourceUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pe *util.ProviderError
	return !errors.As(err, &pe)
}

func (p *Pipeline) recordAuthRetry(success bool) {
	if p.metrics != nil {
		p.metrics.RecordAuthRetry(p.name, success)
	}
}

// authValue formats token for the auth header.
func (p *Pipeline) authValue(token string) string {
	if p.authScheme == "" {
		return token
	}
	return fmt.Sprintf("%s %s", p.authScheme, token)
}
