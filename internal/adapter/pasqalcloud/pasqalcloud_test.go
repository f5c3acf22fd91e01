package pasqalcloud

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qiskit-community/qrmi/internal/adapter/base"
	"github.com/qiskit-community/qrmi/internal/config"
	"github.com/qiskit-community/qrmi/internal/emulator"
	"github.com/qiskit-community/qrmi/internal/resource"
	"github.com/qiskit-community/qrmi/internal/secrets"
	"github.com/qiskit-community/qrmi/internal/status"
	"github.com/qiskit-community/qrmi/internal/util"
)

const sequence = `{"version":"1","name":"pulser-exported"}`

func noSleep(context.Context, time.Duration) error { return nil }

func deps(values map[string]string) base.Deps {
	return base.Deps{
		Secrets: secrets.NewResolver([]secrets.Source{secrets.NewStaticSource("test", values)}),
		Sleep:   noSleep,
	}
}

// jwt builds an unsigned token expiring at exp.
func jwt(exp time.Time) string {
	enc := base64.RawURLEncoding
	header := enc.EncodeToString([]byte(`{"alg":"none"}`))
	payload := enc.EncodeToString([]byte(fmt.Sprintf(`{"sub":"alice","exp":%d}`, exp.Unix())))
	return header + "." + payload + ".sig"
}

func serve(t *testing.T, emu *emulator.Emulator) string {
	t.Helper()
	srv := httptest.NewServer(emu.Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func newResource(t *testing.T, url string, values map[string]string) *Resource {
	t.Helper()
	if _, ok := values[secrets.KeyPasqalProjectID]; !ok {
		values[secrets.KeyPasqalProjectID] = "project-1"
	}
	r, err := New(context.Background(), &config.ResourceConfig{
		Name:         "EMU_FREE",
		Kind:         string(resource.KindPasqalCloud),
		Endpoint:     url,
		AuthEndpoint: url + emulator.PasqalTokenPath,
	}, deps(values))
	require.NoError(t, err)
	return r
}

func TestNewValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, err := New(ctx, &config.ResourceConfig{Name: "EMU_FREE"}, deps(map[string]string{}))
	assert.ErrorIs(t, err, util.ErrCredentialsMissing)

	_, err = New(ctx, &config.ResourceConfig{Name: "EMU_NOPE"}, deps(map[string]string{
		secrets.KeyPasqalProjectID: "p",
	}))
	var cfgErr *util.ConfigError
	assert.ErrorAs(t, err, &cfgErr)

	_, err = New(ctx, &config.ResourceConfig{Name: "FRESNEL"}, deps(map[string]string{
		secrets.KeyPasqalProjectID: "p",
		secrets.KeyPasqalAuthToken: "a.b",
	}))
	assert.ErrorIs(t, err, util.ErrMalformedCredential)
}

func TestLifecycleWithToken(t *testing.T) {
	t.Parallel()

	token := jwt(time.Now().Add(time.Hour))
	url := serve(t, emulator.New(emulator.WithPasqalToken(token)))
	r := newResource(t, url, map[string]string{secrets.KeyPasqalAuthToken: token})
	ctx := context.Background()

	ok, err := r.IsAccessible(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	sessionID, err := r.Acquire(ctx)
	require.NoError(t, err)

	taskID, err := r.TaskStart(ctx, &resource.PasqalCloudPayload{Sequence: sequence, JobRuns: 100})
	require.NoError(t, err)

	st, err := resource.Poll(ctx, r, taskID, resource.PollOptions{Clock: resource.NewFakeClock(time.Unix(0, 0))})
	require.NoError(t, err)
	assert.Equal(t, status.Completed, st)

	result, err := r.TaskResult(ctx, taskID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"counter":{"00":50,"11":50}}`, result.Value)

	logs, err := r.TaskLogs(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, NoLogsMessage, logs)

	target, err := r.Target(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"EMU_FREE","dimensions":2,"max_atom_num":25,"min_atom_distance":5,"max_radial_distance":35}`, target.Value)

	md := r.Metadata(ctx)
	assert.Equal(t, "EMU_FREE", md["backend_name"])
	assert.Equal(t, "project-1", md["project_id"])

	require.NoError(t, r.Release(ctx, sessionID))
	_, err = r.TaskStart(ctx, &resource.PasqalCloudPayload{Sequence: sequence, JobRuns: 1})
	assert.ErrorIs(t, err, util.ErrSessionInvalid)
}

func TestExpiredTokenIsRefreshedWithPassword(t *testing.T) {
	t.Parallel()

	fresh := jwt(time.Now().Add(time.Hour))
	url := serve(t, emulator.New(
		emulator.WithPasqalToken(fresh),
		emulator.WithPasqalUser("alice", "pw"),
	))
	r := newResource(t, url, map[string]string{
		secrets.KeyPasqalAuthToken: jwt(time.Now().Add(-time.Hour)),
		secrets.KeyPasqalUsername:  "alice",
		secrets.KeyPasqalPassword:  "pw",
	})

	ok, err := r.IsAccessible(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWrongPassword(t *testing.T) {
	t.Parallel()

	url := serve(t, emulator.New(
		emulator.WithPasqalToken("tok"),
		emulator.WithPasqalUser("alice", "pw"),
	))
	r := newResource(t, url, map[string]string{
		secrets.KeyPasqalUsername: "alice",
		secrets.KeyPasqalPassword: "nope",
	})

	_, err := r.IsAccessible(context.Background())
	assert.ErrorIs(t, err, util.ErrAuthenticationFailed)
}

func TestDeviceAvailability(t *testing.T) {
	t.Parallel()

	emu := emulator.New()
	r := newResource(t, serve(t, emu), map[string]string{})
	ctx := context.Background()

	emu.SetDeviceAvailability("EMU_FREE", "RETIRED")
	ok, err := r.IsAccessible(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStop(t *testing.T) {
	t.Parallel()

	r := newResource(t, serve(t, emulator.New(emulator.WithStepPolls(10))), map[string]string{})
	ctx := context.Background()

	taskID, err := r.TaskStart(ctx, &resource.PasqalCloudPayload{Sequence: sequence, JobRuns: 3})
	require.NoError(t, err)

	_, err = r.TaskResult(ctx, taskID)
	assert.ErrorIs(t, err, util.ErrNotReady)

	require.NoError(t, r.TaskStop(ctx, taskID))
	st, err := r.TaskStatus(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, status.Cancelled, st)
	require.NoError(t, r.TaskStop(ctx, taskID))

	_, err = r.TaskStatus(ctx, "missing")
	assert.ErrorIs(t, err, util.ErrTaskNotFound)
}

func TestStopBatchFinishedElsewhere(t *testing.T) {
	t.Parallel()

	url := serve(t, emulator.New(emulator.WithStepPolls(1)))
	submitter := newResource(t, url, map[string]string{})
	watcher := newResource(t, url, map[string]string{})
	ctx := context.Background()

	taskID, err := submitter.TaskStart(ctx, &resource.PasqalCloudPayload{Sequence: sequence, JobRuns: 1})
	require.NoError(t, err)

	st := status.Queued
	for range 5 {
		st, err = watcher.TaskStatus(ctx, taskID)
		require.NoError(t, err)
		if st.IsTerminal() {
			break
		}
	}
	require.Equal(t, status.Completed, st)

	require.NoError(t, submitter.TaskStop(ctx, taskID))
	st, err = submitter.TaskStatus(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, status.Completed, st)
}

func TestResultShape(t *testing.T) {
	t.Parallel()

	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch req.URL.Path {
		case batchesV2 + "/b1":
			_, _ = w.Write([]byte(`{"data":{"id":"b1","status":"DONE"}}`))
		case batchesV1 + "/b1/full_results":
			_, _ = w.Write([]byte(body))
		default:
			http.NotFound(w, req)
		}
	}))
	t.Cleanup(srv.Close)
	r := newResource(t, srv.URL, map[string]string{})
	ctx := context.Background()

	body = `{"data":{}}`
	_, err := r.TaskResult(ctx, "b1")
	assert.ErrorIs(t, err, errBatchShape)

	body = `{"data":{"j1":{"counter":{"0":1}},"j2":{"counter":{"1":1}}}}`
	_, err = r.TaskResult(ctx, "b1")
	assert.ErrorIs(t, err, errBatchShape)

	body = `{"data":{"j1":{"counter":{"0":1},"raw":"ignored"}}}`
	result, err := r.TaskResult(ctx, "b1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"counter":{"0":1}}`, result.Value)
}

func TestRejectedBatchIsUnavailable(t *testing.T) {
	t.Parallel()

	r := newResource(t, serve(t, emulator.New()), map[string]string{})
	r.device = "EMU_UNKNOWN"

	_, err := r.TaskStart(context.Background(), &resource.PasqalCloudPayload{Sequence: sequence, JobRuns: 1})
	assert.ErrorIs(t, err, util.ErrResourceUnavailable)
}
