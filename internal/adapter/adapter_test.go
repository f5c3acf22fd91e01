package adapter

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qiskit-community/qrmi/internal/adapter/ionq"
	"github.com/qiskit-community/qrmi/internal/adapter/mock"
	"github.com/qiskit-community/qrmi/internal/config"
	"github.com/qiskit-community/qrmi/internal/emulator"
	"github.com/qiskit-community/qrmi/internal/observability"
	"github.com/qiskit-community/qrmi/internal/resource"
	"github.com/qiskit-community/qrmi/internal/secrets"
	"github.com/qiskit-community/qrmi/internal/status"
	"github.com/qiskit-community/qrmi/internal/util"
)

func staticDeps(values map[string]string) Deps {
	return Deps{
		Secrets: secrets.NewResolver([]secrets.Source{secrets.NewStaticSource("test", values)}),
		Sleep:   func(context.Context, time.Duration) error { return nil },
	}
}

func TestNewUnknownKind(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), &config.ResourceConfig{Name: "x", Kind: "qpu-of-the-future"}, Deps{})
	assert.Error(t, err)
}

func TestNewPicksAdapter(t *testing.T) {
	t.Parallel()

	r, err := New(context.Background(), &config.ResourceConfig{
		Name: "simulator",
		Kind: string(resource.KindIonQMock),
	}, Deps{})
	require.NoError(t, err)
	_, ok := r.Unwrap().(*mock.Resource)
	assert.True(t, ok)

	r, err = New(context.Background(), &config.ResourceConfig{
		Name: "simulator",
		Kind: string(resource.KindIonQCloud),
	}, staticDeps(nil))
	require.NoError(t, err)
	_, ok = r.Unwrap().(*ionq.Resource)
	assert.True(t, ok)
}

func TestNewWrapsErrorsWithName(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), &config.ResourceConfig{
		Name: "FRESNEL",
		Kind: string(resource.KindPasqalCloud),
	}, staticDeps(map[string]string{}))
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrCredentialsMissing)
	assert.Contains(t, err.Error(), "resource FRESNEL")
}

func TestNewAll(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Resources: []config.ResourceConfig{
		{Name: "simulator", Kind: string(resource.KindIonQMock)},
		{Name: "qpu.aria-1", Kind: string(resource.KindIonQCloud)},
		{Name: "ibm_torino", Kind: string(resource.KindDirectAccess)},
	}}
	resources, err := NewAll(context.Background(), cfg, staticDeps(nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrCredentialsMissing)
	assert.Len(t, resources, 2)
	assert.Contains(t, resources, "simulator")
	assert.Contains(t, resources, "qpu.aria-1")
}

// TestMockEndToEnd runs the full resource lifecycle through the
// instrumented wrapper.
func TestMockEndToEnd(t *testing.T) {
	t.Parallel()

	clock := resource.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	metrics := observability.NewMetrics("e2e")
	r, err := New(context.Background(), &config.ResourceConfig{
		Name:    "simulator",
		Kind:    string(resource.KindIonQMock),
		Options: map[string]string{mock.OptionQueuedPolls: "2", mock.OptionRunningPolls: "3"},
	}, Deps{Clock: clock, Metrics: metrics})
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := r.IsAccessible(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	sessionID, err := r.Acquire(ctx)
	require.NoError(t, err)

	taskID, err := r.TaskStart(ctx, &resource.IonQCloudPayload{Input: "OPENQASM 2.0;", Shots: 50})
	require.NoError(t, err)

	var observed []status.TaskStatus
	st, err := resource.Poll(ctx, r, taskID, resource.PollOptions{
		Interval: time.Second,
		Timeout:  time.Minute,
		Clock:    clock,
		OnStatus: func(s status.TaskStatus) { observed = append(observed, s) },
	})
	require.NoError(t, err)
	assert.Equal(t, status.Completed, st)
	assert.Equal(t, status.Completed, observed[len(observed)-1])
	assert.Equal(t, 4, clock.Sleeps())

	result, err := r.TaskResult(ctx, taskID)
	require.NoError(t, err)
	assert.Contains(t, result.Value, taskID)

	require.NoError(t, r.Release(ctx, sessionID))
	_, err = r.TaskStart(ctx, &resource.IonQCloudPayload{Input: "OPENQASM 2.0;"})
	assert.ErrorIs(t, err, util.ErrSessionInvalid)

	count, err := testutil.GatherAndCount(metrics.Registry(), "e2e_resource_operations_total")
	require.NoError(t, err)
	assert.Positive(t, count)
}

func TestPollTimeoutStopsTask(t *testing.T) {
	t.Parallel()

	clock := resource.NewFakeClock(time.Unix(0, 0))
	r, err := New(context.Background(), &config.ResourceConfig{
		Name:    "simulator",
		Kind:    string(resource.KindIonQMock),
		Options: map[string]string{mock.OptionQueuedPolls: "1000"},
	}, Deps{Clock: clock})
	require.NoError(t, err)
	ctx := context.Background()

	taskID, err := r.TaskStart(ctx, &resource.IonQCloudPayload{Input: "x"})
	require.NoError(t, err)

	st, err := resource.Poll(ctx, r, taskID, resource.PollOptions{Interval: time.Second, Timeout: 5 * time.Second, Clock: clock})
	assert.ErrorIs(t, err, resource.ErrPollTimeout)
	assert.Equal(t, status.Cancelled, st)
}

func TestIonQCloudAgainstEmulator(t *testing.T) {
	t.Parallel()

	emu := emulator.New(emulator.WithIonQAPIKey("k"))
	srv := httptest.NewServer(emu.Handler())
	t.Cleanup(srv.Close)

	r, err := New(context.Background(), &config.ResourceConfig{
		Name:     "simulator",
		Kind:     string(resource.KindIonQCloud),
		Endpoint: srv.URL + emulator.IonQPrefix,
	}, staticDeps(map[string]string{ionq.KeyAPIKey: "k"}))
	require.NoError(t, err)
	ctx := context.Background()

	sessionID, err := r.Acquire(ctx)
	require.NoError(t, err)

	emu.FailNext(1)
	taskID, err := r.TaskStart(ctx, &resource.IonQCloudPayload{Input: "OPENQASM 2.0;", Shots: 1})
	require.NoError(t, err)

	clock := resource.NewFakeClock(time.Unix(0, 0))
	st, err := resource.Poll(ctx, r, taskID, resource.PollOptions{Clock: clock, Timeout: time.Minute})
	require.NoError(t, err)
	assert.Equal(t, status.Completed, st)

	result, err := r.TaskResult(ctx, taskID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"0":0.5,"3":0.5}`, result.Value)

	require.NoError(t, r.Release(ctx, sessionID))
}
