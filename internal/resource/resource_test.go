package resource

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/qiskit-community/qrmi/internal/observability"
	"github.com/qiskit-community/qrmi/internal/status"
	"github.com/qiskit-community/qrmi/internal/util"
)

// scriptedResource replays a status sequence and records stops.
type scriptedResource struct {
	mu       sync.Mutex
	statuses []status.TaskStatus
	errs     []error
	reads    int
	stops    int
	stopped  bool
}

func (r *scriptedResource) IsAccessible(context.Context) (bool, error) { return true, nil }
func (r *scriptedResource) Acquire(context.Context) (string, error)    { return "session", nil }
func (r *scriptedResource) Release(context.Context, string) error      { return nil }
func (r *scriptedResource) TaskStart(context.Context, Payload) (string, error) {
	return "task", nil
}

func (r *scriptedResource) TaskStop(context.Context, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	r.stopped = true
	return nil
}

func (r *scriptedResource) TaskStatus(context.Context, string) (status.TaskStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return status.Cancelled, nil
	}
	i := r.reads
	r.reads++
	if i < len(r.errs) && r.errs[i] != nil {
		return "", r.errs[i]
	}
	if i >= len(r.statuses) {
		return r.statuses[len(r.statuses)-1], nil
	}
	return r.statuses[i], nil
}

func (r *scriptedResource) TaskResult(context.Context, string) (TaskResult, error) {
	return TaskResult{Value: `{"ok":true}`}, nil
}

func (r *scriptedResource) TaskLogs(context.Context, string) (string, error) { return "", nil }
func (r *scriptedResource) Target(context.Context) (Target, error)          { return Target{}, nil }
func (r *scriptedResource) Metadata(context.Context) map[string]string {
	return map[string]string{"backend_name": "scripted"}
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	for _, k := range Kinds {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	_, err := ParseKind("qpu")
	assert.ErrorIs(t, err, util.ErrConfigInvalid)
}

func TestExpect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload Payload
		kind    Kind
		wantErr bool
	}{
		{"ionq on ionq", &IonQCloudPayload{Input: "OPENQASM 2.0;", Shots: 100}, KindIonQCloud, false},
		{"ionq on mock", &IonQCloudPayload{Input: "OPENQASM 3.0;", Format: FormatQASM3}, KindIonQMock, false},
		{"ionq on pasqal", &IonQCloudPayload{Input: "x"}, KindPasqalCloud, true},
		{"pasqal on local", &PasqalCloudPayload{Sequence: "{}", JobRuns: 10}, KindPasqalLocal, false},
		{"pasqal without runs", &PasqalCloudPayload{Sequence: "{}"}, KindPasqalCloud, true},
		{"primitive on direct access", &QiskitPrimitivePayload{Input: `{"pubs":[]}`, ProgramID: "sampler"}, KindDirectAccess, false},
		{"primitive with bad program", &QiskitPrimitivePayload{Input: `{}`, ProgramID: "qaoa"}, KindDirectAccess, true},
		{"ionq json input not json", &IonQCloudPayload{Input: "{", Format: FormatIonQ}, KindIonQCloud, true},
		{"nil payload", nil, KindIonQCloud, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var err error
			switch tt.payload.(type) {
			case *PasqalCloudPayload:
				_, err = Expect[*PasqalCloudPayload](tt.payload, tt.kind)
			case *QiskitPrimitivePayload:
				_, err = Expect[*QiskitPrimitivePayload](tt.payload, tt.kind)
			default:
				_, err = Expect[*IonQCloudPayload](tt.payload, tt.kind)
			}
			if tt.wantErr {
				assert.ErrorIs(t, err, util.ErrTypeMismatch)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestExpect_WrongVariant(t *testing.T) {
	t.Parallel()

	_, err := Expect[*IonQCloudPayload](&PasqalCloudPayload{Sequence: "{}", JobRuns: 1}, KindIonQCloud)
	assert.ErrorIs(t, err, util.ErrTypeMismatch)
}

func TestSession(t *testing.T) {
	t.Parallel()

	var s Session
	id, err := s.Check()
	require.NoError(t, err)
	assert.Empty(t, id)

	s.Open("abc")
	id, err = s.Check()
	require.NoError(t, err)
	assert.Equal(t, "abc", id)
	assert.Equal(t, "abc", s.ID())

	assert.ErrorIs(t, s.Close("other"), util.ErrSessionInvalid)
	require.NoError(t, s.Close("abc"))
	assert.True(t, s.Released())
	assert.Empty(t, s.ID())

	_, err = s.Check()
	assert.ErrorIs(t, err, util.ErrSessionInvalid)
	require.NoError(t, s.Close("abc"))

	s.Open("def")
	_, err = s.Check()
	assert.NoError(t, err)
}

func TestSession_ReleaseWithoutAcquire(t *testing.T) {
	t.Parallel()

	var s Session
	require.NoError(t, s.Close(""))
	_, err := s.Check()
	assert.ErrorIs(t, err, util.ErrSessionInvalid)
}

func TestTracker_TerminalIsSticky(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.Start("t1")
	got, ok := tr.Get("t1")
	require.True(t, ok)
	assert.Equal(t, status.Queued, got)

	assert.Equal(t, status.Running, tr.Observe("t1", status.Running))
	assert.Equal(t, status.Completed, tr.Observe("t1", status.Completed))
	assert.Equal(t, status.Completed, tr.Observe("t1", status.Running))
	assert.False(t, tr.Cancel("t1"))

	st, ok := tr.Terminal("t1")
	assert.True(t, ok)
	assert.Equal(t, status.Completed, st)

	tr.Start("t2")
	assert.True(t, tr.Cancel("t2"))
	assert.Equal(t, status.Cancelled, tr.Observe("t2", status.Running))
	assert.Equal(t, 2, tr.Len())
}

func TestTaskResult_Decode(t *testing.T) {
	t.Parallel()

	res, err := NewTaskResult(map[string]int{"00": 3})
	require.NoError(t, err)
	var counts map[string]int
	require.NoError(t, res.Decode(&counts))
	assert.Equal(t, 3, counts["00"])

	target, err := NewTarget(`{"name":"sim"}`)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"sim"}`, target.Value)
	assert.Error(t, Target{Value: "nope"}.Decode(&counts))
}

func TestPoll_UntilTerminal(t *testing.T) {
	t.Parallel()

	clock := NewFakeClock(time.Unix(1700000000, 0))
	r := &scriptedResource{statuses: []status.TaskStatus{status.Queued, status.Running, status.Completed}}

	var seen []status.TaskStatus
	st, err := Poll(context.Background(), r, "task", PollOptions{
		Interval: 5 * time.Second,
		Clock:    clock,
		OnStatus: func(s status.TaskStatus) { seen = append(seen, s) },
	})
	require.NoError(t, err)
	assert.Equal(t, status.Completed, st)
	assert.Equal(t, []status.TaskStatus{status.Queued, status.Running, status.Completed}, seen)
	assert.Equal(t, 2, clock.Sleeps())
	assert.Equal(t, 0, r.stops)
}

func TestPoll_DeadlineStopsTask(t *testing.T) {
	t.Parallel()

	clock := NewFakeClock(time.Unix(1700000000, 0))
	r := &scriptedResource{statuses: []status.TaskStatus{status.Running}}

	st, err := Poll(context.Background(), r, "task", PollOptions{
		Interval: time.Second,
		Timeout:  10 * time.Second,
		Clock:    clock,
	})
	assert.ErrorIs(t, err, ErrPollTimeout)
	assert.Equal(t, status.Cancelled, st)
	assert.Equal(t, 1, r.stops)
	assert.Equal(t, 10, clock.Sleeps())
}

func TestPoll_TransientReadContinues(t *testing.T) {
	t.Parallel()

	clock := NewFakeClock(time.Unix(1700000000, 0))
	r := &scriptedResource{
		statuses: []status.TaskStatus{status.Running, status.Running, status.Failed},
		errs:     []error{nil, util.ErrTransientNetwork},
	}

	st, err := Poll(context.Background(), r, "task", PollOptions{Clock: clock})
	require.NoError(t, err)
	assert.Equal(t, status.Failed, st)
}

func TestPoll_PermanentErrorReturns(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	r := &scriptedResource{statuses: []status.TaskStatus{status.Running}, errs: []error{boom}}

	_, err := Poll(context.Background(), r, "task", PollOptions{Clock: NewFakeClock(time.Now())})
	assert.ErrorIs(t, err, boom)
}

func TestPoll_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &scriptedResource{statuses: []status.TaskStatus{status.Running}}

	st, err := Poll(ctx, r, "task", PollOptions{Clock: NewFakeClock(time.Now())})
	assert.ErrorIs(t, err, ErrPollTimeout)
	assert.Equal(t, status.Cancelled, st)
	assert.Equal(t, 1, r.stops)
}

func TestSystemClock_SleepHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SystemClock{}.Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, SystemClock{}.Sleep(context.Background(), time.Millisecond))
}

func TestInstrumented(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	metrics := observability.NopMetrics()

	r := Instrument(&scriptedResource{statuses: []status.TaskStatus{status.Running}}, "sim", KindIonQMock,
		WithMetrics(metrics),
		WithTracer(observability.NewTracerWithProvider(provider, "qrmi-test")),
	)

	ctx := context.Background()
	id, err := r.TaskStart(ctx, &IonQCloudPayload{Input: "x"})
	require.NoError(t, err)
	st, err := r.TaskStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, status.Running, st)
	assert.Equal(t, "scripted", r.Metadata(ctx)["backend_name"])

	spans := recorder.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "qrmi.task_start", spans[0].Name())
	assert.Equal(t, "qrmi.task_status", spans[1].Name())

	count, err := testutil.GatherAndCount(metrics.Registry(), "test_task_status_observations_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.NotNil(t, r.Unwrap())
}
