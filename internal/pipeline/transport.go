package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"

	"github.com/qiskit-community/qrmi/internal/observability"
	"github.com/qiskit-community/qrmi/internal/retry"
	"github.com/qiskit-community/qrmi/internal/util"
)

// errServerStatus marks a 5xx response as a failure for the circuit
// breaker without turning it into a transport error.
var errServerStatus = errors.New("server error status")

// Request is a provider request. Body is buffered so it can be resent.
type Request struct {
	Method string
	// Path is resolved against the pipeline base URL unless it is an
	// absolute URL.
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
	// Operation names the request in errors; defaults to "METHOD path".
	Operation string
}

func (r *Request) operation() string {
	if r.Operation != "" {
		return r.Operation
	}
	return r.Method + " " + r.Path
}

// Response is a buffered provider response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// retryableStatus carries a response whose status the transient layer
// retries.
type retryableStatus struct {
	resp *Response
}

func (e *retryableStatus) Error() string {
	return fmt.Sprintf("retryable status %d", e.resp.StatusCode)
}

// send is the transient layer: it retries req until it gets a
// non-retryable outcome or runs out of attempts.
func (p *Pipeline) send(ctx context.Context, req *Request, token string) (*Response, error) {
	var resp *Response

	err := retry.Do(ctx, p.retryCfg, func(attempt int) error {
		r, err := p.roundTrip(ctx, req, token, attempt)
		if err != nil {
			return err
		}
		resp = r
		if p.condition.ShouldRetry(nil, r.StatusCode) {
			return &retryableStatus{resp: r}
		}
		return nil
	}, &retry.Options{
		ShouldRetry: p.shouldRetry,
		Sleep:       p.sleep,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			p.logger.Warn("retrying provider request",
				observability.String("resource", p.name),
				observability.String("method", req.Method),
				observability.String("path", req.Path),
				observability.Int("attempt", attempt),
				observability.Duration("backoff", backoff),
				observability.Error(err),
			)
			retry.RecordRetryAttempt(p.name, attempt)
			retry.RecordBackoffDuration(p.name, backoff.Seconds())
			if p.metrics != nil {
				p.metrics.RecordTransientRetry(p.name)
			}
		},
	})
	if err == nil {
		return resp, nil
	}

	var rs *retryableStatus
	switch {
	case errors.As(err, &rs):
		p.exhausted(req)
		return nil, util.NewProviderErrorWithCause(p.name, req.operation(), rs.resp.StatusCode,
			string(rs.resp.Body), util.ErrTransientNetwork)
	case p.shouldRetry(err):
		p.exhausted(req)
		return nil, fmt.Errorf("%s %s: %w: %w", p.name, req.operation(), util.ErrTransientNetwork, err)
	default:
		return nil, err
	}
}

func (p *Pipeline) shouldRetry(err error) bool {
	var rs *retryableStatus
	if errors.As(err, &rs) {
		return true
	}
	if errors.Is(err, util.ErrResourceUnavailable) {
		return false
	}
	return p.condition.ShouldRetry(err, 0)
}

func (p *Pipeline) exhausted(req *Request) {
	retry.RecordRetryExhausted(p.name)
	p.logger.Error("provider request failed after retries",
		observability.String("resource", p.name),
		observability.String("method", req.Method),
		observability.String("path", req.Path),
		observability.Int("attempts", p.retryCfg.MaxAttempts()),
	)
}

// roundTrip performs one HTTP exchange through the limiter, the breaker
// and a client span.
func (p *Pipeline) roundTrip(ctx context.Context, req *Request, token string, attempt int) (*Response, error) {
	if p.limiter != nil {
		waitStart := time.Now()
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		if p.metrics != nil {
			p.metrics.RecordRateLimitWait(p.name, time.Since(waitStart))
		}
	}

	httpReq, err := p.newHTTPRequest(ctx, req, token)
	if err != nil {
		return nil, err
	}

	spanCtx, span := p.tracer.StartClientSpan(ctx, httpReq,
		attribute.String("qrmi.resource", p.name),
		attribute.Int("qrmi.attempt", attempt),
	)
	httpReq = httpReq.WithContext(spanCtx)
	p.tracer.InjectTraceContext(spanCtx, httpReq)

	var resp *Response
	exec := func() (interface{}, error) {
		r, err := p.client.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer func() { _ = r.Body.Close() }()

		body, err := io.ReadAll(io.LimitReader(r.Body, maxResponseBytes))
		if err != nil {
			return nil, err
		}
		resp = &Response{StatusCode: r.StatusCode, Header: r.Header, Body: body}
		if r.StatusCode >= http.StatusInternalServerError {
			return nil, errServerStatus
		}
		return nil, nil
	}

	start := time.Now()
	if p.breaker != nil {
		_, err = p.breaker.Execute(exec)
	} else {
		_, err = exec()
	}
	duration := time.Since(start)

	if errors.Is(err, errServerStatus) {
		err = nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %s circuit breaker: %v", util.ErrResourceUnavailable, p.name, err)
	}

	status := 0
	if resp != nil && err == nil {
		status = resp.StatusCode
	}
	if p.metrics != nil {
		p.metrics.RecordRequest(p.name, req.Method, status, duration)
	}
	observability.EndClientSpan(span, status, err)

	p.logger.WithContext(spanCtx).Debug("provider request",
		observability.String("resource", p.name),
		observability.String("method", req.Method),
		observability.String("path", req.Path),
		observability.Int("status", status),
		observability.Int("attempt", attempt),
		observability.Duration("duration", duration),
	)

	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (p *Pipeline) newHTTPRequest(ctx context.Context, req *Request, token string) (*http.Request, error) {
	target, err := p.resolve(req)
	if err != nil {
		return nil, err
	}

	var body io.Reader = http.NoBody
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", req.operation(), err)
	}

	for key, values := range p.headers {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	for key, values := range req.Header {
		httpReq.Header.Del(key)
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set(p.authHeader, p.authValue(token))
	}
	return httpReq, nil
}

// resolve joins the request path to the base URL and appends the query.
func (p *Pipeline) resolve(req *Request) (string, error) {
	target := req.Path
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = strings.TrimRight(p.baseURL, "/") + "/" + strings.TrimLeft(target, "/")
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid request URL %q: %w", target, err)
	}
	if len(req.Query) > 0 {
		q := u.Query()
		for key, values := range req.Query {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
