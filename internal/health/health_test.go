package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qiskit-community/qrmi/internal/observability"
	"github.com/qiskit-community/qrmi/internal/util"
)

func TestEvaluator_Accessible(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		expr string
		doc  string
		want bool
	}{
		{
			name: "pasqal active",
			expr: `device.data[0].availability == "ACTIVE"`,
			doc:  `{"data":[{"status":"UP","availability":"ACTIVE"}]}`,
			want: true,
		},
		{
			name: "pasqal inactive",
			expr: `device.data[0].availability == "ACTIVE"`,
			doc:  `{"data":[{"status":"UP","availability":"INACTIVE"}]}`,
			want: false,
		},
		{
			name: "ionq available",
			expr: `device.status == "available"`,
			doc:  `{"backend":"simulator","status":"available"}`,
			want: true,
		},
		{
			name: "direct access online, case folded",
			expr: `device.status.lower() == "online"`,
			doc:  `{"name":"ibm_fez","status":"Online"}`,
			want: true,
		},
		{
			name: "resource variable",
			expr: `resource == "sim" && has(device.status)`,
			doc:  `{"status":"x"}`,
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e, err := NewEvaluator(tt.expr)
			require.NoError(t, err)
			got, err := e.AccessibleJSON(context.Background(), "sim", []byte(tt.doc))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluator_CompileErrors(t *testing.T) {
	t.Parallel()

	for _, expr := range []string{"", "device.status ==", `"not a bool"`} {
		_, err := NewEvaluator(expr)
		assert.ErrorIs(t, err, util.ErrConfigInvalid, expr)
	}
	assert.Panics(t, func() { MustEvaluator("") })
}

func TestEvaluator_EvaluationErrors(t *testing.T) {
	t.Parallel()

	metrics := NopMetrics()
	e, err := NewEvaluator(`device.data[0].availability == "ACTIVE"`, WithEvaluatorMetrics(metrics))
	require.NoError(t, err)

	ok, err := e.AccessibleJSON(context.Background(), "FRESNEL", []byte(`{"data":[]}`))
	assert.Error(t, err)
	assert.False(t, ok)

	_, err = e.AccessibleJSON(context.Background(), "FRESNEL", []byte(`not json`))
	assert.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.evaluationTotal.WithLabelValues("FRESNEL", "error")))
}

func TestEvaluator_Now(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	e, err := NewEvaluator(`now < timestamp(device.maintenance_until)`, WithEvaluatorClock(func() time.Time { return fixed }))
	require.NoError(t, err)

	ok, err := e.Accessible(context.Background(), "r", map[string]any{"maintenance_until": "2026-01-01T00:00:00Z"})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `now < timestamp(device.maintenance_until)`, e.Expression())
}

type probe struct {
	ok  bool
	err error
}

func (p probe) IsAccessible(context.Context) (bool, error) { return p.ok, p.err }

func TestChecker_Readiness(t *testing.T) {
	t.Parallel()

	metrics := NopMetrics()
	checker := NewChecker("1.0.0", observability.NopLogger(), WithCheckerMetrics(metrics))
	checker.Register("ionq", ResourceCheck(probe{ok: true}))
	checker.RegisterOptional("cache", func(context.Context) error { return errors.New("down") })

	resp := checker.Readiness(context.Background())
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Equal(t, StatusHealthy, resp.Checks["ionq"].Status)
	assert.Equal(t, "down", resp.Checks["cache"].Message)

	checker.Register("pasqal", ResourceCheck(probe{ok: false}))
	resp = checker.Readiness(context.Background())
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, []string{"cache", "ionq", "pasqal"}, checker.Names())

	checker.Unregister("pasqal")
	checker.Unregister("cache")
	assert.Equal(t, StatusHealthy, checker.Readiness(context.Background()).Status)

	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.checkStatus.WithLabelValues("cache")))
}

func TestChecker_Timeout(t *testing.T) {
	t.Parallel()

	checker := NewChecker("1.0.0", nil, WithCheckTimeout(10*time.Millisecond))
	checker.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	resp := checker.Readiness(context.Background())
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Contains(t, resp.Checks["slow"].Message, "timed out")
}

func TestChecker_Handlers(t *testing.T) {
	t.Parallel()

	checker := NewChecker("1.2.3", observability.NopLogger())
	mux := http.NewServeMux()
	checker.Mount(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "1.2.3", health.Version)

	checker.Register("ionq", ResourceCheck(probe{err: errors.New("unreachable")}))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestRedisCheck(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	require.NoError(t, RedisCheck(client)(context.Background()))
	assert.Error(t, RedisCheck(nil)(context.Background()))

	mr.Close()
	assert.Error(t, RedisCheck(client)(context.Background()))
}
