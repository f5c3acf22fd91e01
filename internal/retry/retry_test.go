package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.InitialBackoff)
	assert.Equal(t, 10*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 2.0, cfg.Base)
	assert.Equal(t, 0.25, cfg.JitterFactor)
	assert.Equal(t, 6, cfg.MaxAttempts())
}

func TestConfig_Getters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		cfg         *Config
		maxRetries  int
		initial     time.Duration
		max         time.Duration
		base        float64
		jitter      float64
		maxAttempts int
	}{
		{"nil config", nil, 5, time.Second, 10 * time.Second, 2, 0.25, 6},
		{"zero values", &Config{}, 5, time.Second, 10 * time.Second, 2, 0.25, 6},
		{
			"custom values",
			&Config{MaxRetries: 2, InitialBackoff: 50 * time.Millisecond, MaxBackoff: time.Second, Base: 3, JitterFactor: 0.5},
			2, 50 * time.Millisecond, time.Second, 3, 0.5, 3,
		},
		{
			"max below initial",
			&Config{InitialBackoff: 2 * time.Second, MaxBackoff: time.Second, JitterFactor: 5},
			5, 2 * time.Second, 2 * time.Second, 2, 1, 6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.maxRetries, tt.cfg.GetMaxRetries())
			assert.Equal(t, tt.initial, tt.cfg.GetInitialBackoff())
			assert.Equal(t, tt.max, tt.cfg.GetMaxBackoff())
			assert.Equal(t, tt.base, tt.cfg.GetBase())
			assert.Equal(t, tt.jitter, tt.cfg.GetJitterFactor())
			assert.Equal(t, tt.maxAttempts, tt.cfg.MaxAttempts())
		})
	}
}

func TestCalculateBackoff_Bounds(t *testing.T) {
	t.Parallel()

	for attempt := 0; attempt < 12; attempt++ {
		for i := 0; i < 50; i++ {
			d := CalculateBackoff(attempt, time.Second, 10*time.Second, 2, 0.25)
			assert.GreaterOrEqual(t, d, time.Second)
			assert.LessOrEqual(t, d, 10*time.Second)
		}
	}
}

func TestCalculateBackoff_Growth(t *testing.T) {
	t.Parallel()

	// With full jitter removed the sequence is deterministic.
	assert.Equal(t, time.Second, CalculateBackoff(0, time.Second, 10*time.Second, 2, 0))
	assert.Equal(t, 2*time.Second, CalculateBackoff(1, time.Second, 10*time.Second, 2, 0))
	assert.Equal(t, 4*time.Second, CalculateBackoff(2, time.Second, 10*time.Second, 2, 0))
	assert.Equal(t, 10*time.Second, CalculateBackoff(5, time.Second, 10*time.Second, 2, 0))
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), DefaultConfig(), func(int) error {
		calls++
		return nil
	}, &Options{Sleep: noSleep})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsExactlyMaxAttempts(t *testing.T) {
	t.Parallel()

	cfg := &Config{MaxRetries: 4}
	transient := errors.New("connection reset")
	var attempts []int
	var waits []time.Duration

	err := Do(context.Background(), cfg, func(attempt int) error {
		attempts = append(attempts, attempt)
		return transient
	}, &Options{
		Sleep: noSleep,
		OnRetry: func(_ int, _ error, backoff time.Duration) {
			waits = append(waits, backoff)
		},
	})

	assert.ErrorIs(t, err, transient)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, attempts)
	assert.Len(t, waits, 4)
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	t.Parallel()

	permanent := errors.New("bad request")
	calls := 0
	err := Do(context.Background(), nil, func(int) error {
		calls++
		return permanent
	}, &Options{
		Sleep:       noSleep,
		ShouldRetry: func(err error) bool { return !errors.Is(err, permanent) },
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDo_RecoversAfterRetries(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), nil, func(attempt int) error {
		calls++
		if attempt < 3 {
			return io.EOF
		}
		return nil
	}, &Options{Sleep: noSleep})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, nil, func(int) error {
		calls++
		return nil
	}, nil)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, calls)
}

func TestDo_CancelDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	cfg := &Config{MaxRetries: 3, InitialBackoff: time.Hour, MaxBackoff: time.Hour}
	err := Do(ctx, cfg, func(int) error {
		return io.EOF
	}, nil)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSleep(t *testing.T) {
	t.Parallel()

	require.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestTransientCondition(t *testing.T) {
	t.Parallel()

	refused := &url.Error{
		Op:  "Get",
		URL: "http://localhost:4207/jobs",
		Err: &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED},
	}

	tests := []struct {
		name       string
		err        error
		statusCode int
		want       bool
	}{
		{"connection refused", refused, 0, true},
		{"connection reset", syscall.ECONNRESET, 0, true},
		{"unexpected eof", io.ErrUnexpectedEOF, 0, true},
		{"timeout", &url.Error{Op: "Get", URL: "x", Err: timeoutErr{}}, 0, true},
		{"context canceled", context.Canceled, 0, false},
		{"plain error", errors.New("decode"), 0, false},
		{"500", nil, 500, true},
		{"502", nil, 502, true},
		{"503", nil, 503, true},
		{"504", nil, 504, true},
		{"408", nil, 408, true},
		{"429", nil, 429, true},
		{"400", nil, 400, false},
		{"401", nil, 401, false},
		{"404", nil, 404, false},
		{"200", nil, 200, false},
	}

	cond := TransientCondition()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, cond.ShouldRetry(tt.err, tt.statusCode))
		})
	}
}

func TestConditions(t *testing.T) {
	t.Parallel()

	assert.True(t, RetryOnStatusCodes(418).ShouldRetry(nil, 418))
	assert.False(t, RetryOnTimeout().ShouldRetry(nil, 0))
	assert.False(t, RetryOnNetworkErrors().ShouldRetry(nil, 0))
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	RecordRetryAttempt("GET /jobs", 2)
	RecordRetryExhausted("GET /jobs")
	RecordBackoffDuration("GET /jobs", 1.5)
	assert.Len(t, Collectors(), 3)
}
