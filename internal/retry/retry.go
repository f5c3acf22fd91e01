package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Default retry configuration constants.
const (
	// DefaultMaxRetries is the default maximum number of retry attempts.
	DefaultMaxRetries = 5

	// DefaultInitialBackoff is the default initial backoff duration.
	DefaultInitialBackoff = 1 * time.Second

	// DefaultMaxBackoff is the default maximum backoff duration.
	DefaultMaxBackoff = 10 * time.Second

	// DefaultBase is the default multiplicative base.
	DefaultBase = 2.0

	// DefaultJitterFactor is the default jitter factor (25%).
	DefaultJitterFactor = 0.25

	// MaxJitterFactor is the maximum allowed jitter factor.
	MaxJitterFactor = 1.0
)

// Config contains retry configuration parameters. A Config is treated as
// immutable once handed to Do.
type Config struct {
	// MaxRetries is the maximum number of retry attempts after the first
	// one. Default is 5.
	MaxRetries int

	// InitialBackoff is the lower bound of every wait. Default is 1s.
	InitialBackoff time.Duration

	// MaxBackoff is the upper bound of every wait. Default is 10s.
	MaxBackoff time.Duration

	// Base is the multiplicative growth factor. Default is 2.
	Base float64

	// JitterFactor (0.0 to 1.0) bounds the random reduction applied to
	// each wait. Default is 0.25.
	JitterFactor float64
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		Base:           DefaultBase,
		JitterFactor:   DefaultJitterFactor,
	}
}

// GetMaxRetries returns the effective max retries.
func (c *Config) GetMaxRetries() int {
	if c == nil || c.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return c.MaxRetries
}

// MaxAttempts returns the total number of attempts, the first one included.
func (c *Config) MaxAttempts() int {
	return c.GetMaxRetries() + 1
}

// GetInitialBackoff returns the effective initial backoff.
func (c *Config) GetInitialBackoff() time.Duration {
	if c == nil || c.InitialBackoff <= 0 {
		return DefaultInitialBackoff
	}
	return c.InitialBackoff
}

// GetMaxBackoff returns the effective max backoff.
func (c *Config) GetMaxBackoff() time.Duration {
	if c == nil || c.MaxBackoff <= 0 {
		return DefaultMaxBackoff
	}
	if c.MaxBackoff < c.GetInitialBackoff() {
		return c.GetInitialBackoff()
	}
	return c.MaxBackoff
}

// GetBase returns the effective multiplicative base.
func (c *Config) GetBase() float64 {
	if c == nil || c.Base <= 1 {
		return DefaultBase
	}
	return c.Base
}

// GetJitterFactor returns the effective jitter factor.
func (c *Config) GetJitterFactor() float64 {
	if c == nil || c.JitterFactor <= 0 {
		return DefaultJitterFactor
	}
	if c.JitterFactor > MaxJitterFactor {
		return MaxJitterFactor
	}
	return c.JitterFactor
}

// RetryableFunc is a function that can be retried. attempt starts at 1.
type RetryableFunc func(attempt int) error

// ShouldRetryFunc determines if an error should trigger a retry.
type ShouldRetryFunc func(error) bool

// OnRetryFunc is called before each retry attempt.
type OnRetryFunc func(attempt int, err error, backoff time.Duration)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Options contains optional retry behavior configuration.
type Options struct {
	// ShouldRetry determines if an error should trigger a retry.
	// If nil, all errors are retried.
	ShouldRetry ShouldRetryFunc

	// OnRetry is called before each retry attempt.
	OnRetry OnRetryFunc

	// Sleep replaces the timer based wait. Tests use it to avoid real delays.
	Sleep SleepFunc
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do executes a function with retry logic. It returns the last error once
// attempts are exhausted or ShouldRetry rejects the error.
func Do(ctx context.Context, cfg *Config, fn RetryableFunc, opts *Options) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	maxRetries := cfg.GetMaxRetries()
	sleep := Sleep
	if opts != nil && opts.Sleep != nil {
		sleep = opts.Sleep
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		// Check context before each attempt
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(attempt + 1)
		if lastErr == nil {
			return nil
		}

		if opts != nil && opts.ShouldRetry != nil && !opts.ShouldRetry(lastErr) {
			return lastErr
		}

		// Don't sleep after the last attempt
		if attempt < maxRetries {
			backoff := cfg.Backoff(attempt)

			if opts != nil && opts.OnRetry != nil {
				opts.OnRetry(attempt+1, lastErr, backoff)
			}

			if err := sleep(ctx, backoff); err != nil {
				return err
			}
		}
	}

	return lastErr
}

// Backoff returns the wait before retry number attempt+1.
func (c *Config) Backoff(attempt int) time.Duration {
	return CalculateBackoff(attempt, c.GetInitialBackoff(), c.GetMaxBackoff(), c.GetBase(), c.GetJitterFactor())
}

// CalculateBackoff calculates the backoff duration for a given attempt. The
// result always lies in [initialBackoff, maxBackoff].
func CalculateBackoff(attempt int, initialBackoff, maxBackoff time.Duration, base, jitterFactor float64) time.Duration {
	backoff := float64(initialBackoff) * math.Pow(base, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	// Bounded jitter: shave up to jitterFactor off the computed wait.
	//nolint:gosec // G404: jitter for retry timing is not security-sensitive
	backoff -= backoff * jitterFactor * rand.Float64()

	if backoff < float64(initialBackoff) {
		backoff = float64(initialBackoff)
	}

	return time.Duration(backoff)
}
