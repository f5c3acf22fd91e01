package pasqallocal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qiskit-community/qrmi/internal/adapter/base"
	"github.com/qiskit-community/qrmi/internal/config"
	"github.com/qiskit-community/qrmi/internal/munge"
	"github.com/qiskit-community/qrmi/internal/resource"
	"github.com/qiskit-community/qrmi/internal/secrets"
	"github.com/qiskit-community/qrmi/internal/status"
	"github.com/qiskit-community/qrmi/internal/util"
)

const credential = "MUNGE:AwQDAAD"

// service fakes the local Pasqal QPU service.
type service struct {
	mu       sync.Mutex
	jobs     []map[string]any
	sessions map[string]bool
	revoked  []string
	users    []string
	headers  []string
}

func newService(t *testing.T) (*service, string) {
	t.Helper()
	s := &service{jobs: []map[string]any{}, sessions: map[string]bool{}}
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return s, srv.URL
}

func (s *service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Header.Get(munge.HeaderName) != credential {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/jobs":
		_ = json.NewEncoder(w).Encode(s.jobs)
	case r.Method == http.MethodPost && r.URL.Path == "/sessions":
		var req struct {
			UserID string `json:"user_id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		s.users = append(s.users, req.UserID)
		s.sessions["7"] = true
		_, _ = w.Write([]byte(`{"id":7}`))
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/sessions/"):
		s.revoked = append(s.revoked, strings.TrimPrefix(r.URL.Path, "/sessions/"))
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodPost && r.URL.Path == "/jobs":
		session := r.Header.Get(SessionHeader)
		s.headers = append(s.headers, session)
		if session == "" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		id := len(s.jobs) + 1
		s.jobs = append(s.jobs, map[string]any{"id": id, "status": "PENDING", "session": session})
		_ = json.NewEncoder(w).Encode(map[string]any{"id": id})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *service) setStatus(i int, st string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st == "" {
		delete(s.jobs[i], "status")
		return
	}
	s.jobs[i]["status"] = st
}

func newResource(t *testing.T, endpoint string, values map[string]string, accessibleWhen string) *Resource {
	t.Helper()
	r, err := New(&config.ResourceConfig{
		Name:           "qpu",
		Kind:           string(resource.KindPasqalLocal),
		Endpoint:       endpoint,
		AccessibleWhen: accessibleWhen,
	}, base.Deps{
		Secrets: secrets.NewResolver([]secrets.Source{secrets.NewStaticSource("test", values)}),
		Signer:  munge.StaticSigner{Credential: credential},
		Sleep:   func(context.Context, time.Duration) error { return nil },
	})
	require.NoError(t, err)
	return r
}

func TestIsAccessible(t *testing.T) {
	t.Parallel()

	_, url := newService(t)
	ctx := context.Background()

	ok, err := newResource(t, url, nil, "").IsAccessible(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = newResource(t, url, nil, "size(device) < 100").IsAccessible(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = newResource(t, url, nil, "size(device) > 0").IsAccessible(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)
	ok, err = newResource(t, srv.URL, nil, "").IsAccessible(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLifecycle(t *testing.T) {
	t.Parallel()

	svc, url := newService(t)
	r := newResource(t, url, map[string]string{KeyJobUID: "1001"}, "")
	ctx := context.Background()

	sessionID, err := r.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, "7", sessionID)
	assert.Equal(t, []string{"1001"}, svc.users)

	taskID, err := r.TaskStart(ctx, &resource.PasqalCloudPayload{Sequence: "{}", JobRuns: 10})
	require.NoError(t, err)
	assert.Equal(t, "1", taskID)
	assert.Equal(t, []string{"7"}, svc.headers)

	st, err := r.TaskStatus(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, status.Queued, st)

	_, err = r.TaskResult(ctx, taskID)
	assert.ErrorIs(t, err, util.ErrNotReady)

	svc.setStatus(0, "RUNNING")
	st, err = r.TaskStatus(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, status.Running, st)

	svc.setStatus(0, "")
	st, err = r.TaskStatus(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, status.Completed, st)

	result, err := r.TaskResult(ctx, taskID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"session":"7"}`, result.Value)

	require.NoError(t, r.TaskStop(ctx, taskID))
	logs, err := r.TaskLogs(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, NoLogsMessage, logs)

	target, err := r.Target(ctx)
	require.NoError(t, err)
	assert.Contains(t, target.Value, `"type":"local"`)
	assert.Equal(t, "7", r.Metadata(ctx)["session_id"])

	require.NoError(t, r.Release(ctx, sessionID))
	require.NoError(t, r.Release(ctx, sessionID))
	assert.Equal(t, []string{"7"}, svc.revoked)

	_, err = r.TaskStart(ctx, &resource.PasqalCloudPayload{Sequence: "{}", JobRuns: 1})
	assert.ErrorIs(t, err, util.ErrSessionInvalid)

	_, err = r.TaskStatus(ctx, "99")
	assert.ErrorIs(t, err, util.ErrTaskNotFound)
}

func TestAcquisitionToken(t *testing.T) {
	t.Parallel()

	svc, url := newService(t)
	r := newResource(t, url, map[string]string{KeyAcquisitionToken: "slurm-session"}, "")
	ctx := context.Background()

	_, err := r.TaskStart(ctx, &resource.PasqalCloudPayload{Sequence: "{}", JobRuns: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"slurm-session"}, svc.headers)

	require.NoError(t, r.Release(ctx, ""))
	assert.Equal(t, []string{"slurm-session"}, svc.revoked)
}

func TestNoSession(t *testing.T) {
	t.Parallel()

	_, url := newService(t)
	r := newResource(t, url, map[string]string{}, "")
	ctx := context.Background()

	_, err := r.TaskStart(ctx, &resource.PasqalCloudPayload{Sequence: "{}", JobRuns: 1})
	assert.ErrorIs(t, err, util.ErrSessionInvalid)

	_, err = r.Acquire(ctx)
	assert.ErrorIs(t, err, util.ErrCredentialsMissing)

	r = newResource(t, url, map[string]string{KeyJobUID: "alice"}, "")
	_, err = r.Acquire(ctx)
	var cfgErr *util.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestSignerFailure(t *testing.T) {
	t.Parallel()

	_, url := newService(t)
	r, err := New(&config.ResourceConfig{Name: "qpu", Endpoint: url}, base.Deps{
		Signer: munge.StaticSigner{Credential: "MUNGE:wrong"},
		Sleep:  func(context.Context, time.Duration) error { return nil },
	})
	require.NoError(t, err)

	_, err = r.IsAccessible(context.Background())
	assert.ErrorIs(t, err, util.ErrAuthenticationFailed)
}

func TestIDString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "12", idString(json.RawMessage(`12`)))
	assert.Equal(t, "abc", idString(json.RawMessage(`"abc"`)))
	assert.Equal(t, "", idString(nil))
}
