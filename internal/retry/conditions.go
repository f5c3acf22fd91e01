package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"syscall"
)

// RetryCondition decides whether an attempt that ended with err and
// statusCode (0 when no response arrived) should be retried.
type RetryCondition interface {
	// ShouldRetry returns true if the request should be retried.
	ShouldRetry(err error, statusCode int) bool
}

// StatusCodeCondition retries on specific HTTP status codes.
type StatusCodeCondition struct {
	codes map[int]bool
}

// RetryOnStatusCodes creates a condition that retries on specific HTTP status codes.
func RetryOnStatusCodes(statusCodes ...int) *StatusCodeCondition {
	codeMap := make(map[int]bool)
	for _, code := range statusCodes {
		codeMap[code] = true
	}
	return &StatusCodeCondition{codes: codeMap}
}

// ShouldRetry implements RetryCondition.
func (c *StatusCodeCondition) ShouldRetry(err error, statusCode int) bool {
	return c.codes[statusCode]
}

// Retry5xxCondition retries on 5xx status codes.
type Retry5xxCondition struct{}

// RetryOn5xx creates a condition that retries on 5xx status codes.
func RetryOn5xx() *Retry5xxCondition {
	return &Retry5xxCondition{}
}

// ShouldRetry implements RetryCondition.
func (c *Retry5xxCondition) ShouldRetry(err error, statusCode int) bool {
	return statusCode >= 500 && statusCode < 600
}

// RetryableStatusCodes returns common retryable HTTP status codes.
func RetryableStatusCodes() *StatusCodeCondition {
	return RetryOnStatusCodes(
		408, // Request Timeout
		429, // Too Many Requests
		500, // Internal Server Error
		502, // Bad Gateway
		503, // Service Unavailable
		504, // Gateway Timeout
	)
}

// NetworkErrorCondition retries on network errors.
type NetworkErrorCondition struct{}

// RetryOnNetworkErrors creates a condition that retries on network errors.
func RetryOnNetworkErrors() *NetworkErrorCondition {
	return &NetworkErrorCondition{}
}

// ShouldRetry implements RetryCondition.
func (c *NetworkErrorCondition) ShouldRetry(err error, statusCode int) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	// Connection level failures surface as *net.OpError, usually wrapped
	// in *url.Error by net/http.
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	// EOF means the connection was closed mid-response.
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// TimeoutCondition retries on timeout errors.
type TimeoutCondition struct{}

// RetryOnTimeout creates a condition that retries on timeout errors.
func RetryOnTimeout() *TimeoutCondition {
	return &TimeoutCondition{}
}

// ShouldRetry implements RetryCondition.
func (c *TimeoutCondition) ShouldRetry(err error, statusCode int) bool {
	if err == nil {
		return false
	}

	// Check for net.Error timeout
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// Check for url.Error timeout
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}

	return false
}

// CompositeCondition combines multiple conditions with OR logic.
type CompositeCondition struct {
	conditions []RetryCondition
}

// RetryOnAny creates a condition that retries if any of the conditions match.
func RetryOnAny(conditions ...RetryCondition) *CompositeCondition {
	return &CompositeCondition{conditions: conditions}
}

// ShouldRetry implements RetryCondition.
func (c *CompositeCondition) ShouldRetry(err error, statusCode int) bool {
	for _, condition := range c.conditions {
		if condition.ShouldRetry(err, statusCode) {
			return true
		}
	}
	return false
}

// TransientCondition returns the classification used by the request
// pipeline: connection errors, timeouts, 408, 429 and 5xx responses.
func TransientCondition() *CompositeCondition {
	return RetryOnAny(
		RetryOnNetworkErrors(),
		RetryOnTimeout(),
		RetryableStatusCodes(),
		RetryOn5xx(),
	)
}
