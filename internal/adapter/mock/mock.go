// Package mock implements an in-memory IonQ backend. Jobs never leave
// the process; they move Queued → Running → Completed as their status is
// read, which makes end-to-end flows testable without a provider.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/qiskit-community/qrmi/internal/adapter/base"
	"github.com/qiskit-community/qrmi/internal/config"
	"github.com/qiskit-community/qrmi/internal/observability"
	"github.com/qiskit-community/qrmi/internal/resource"
	"github.com/qiskit-community/qrmi/internal/status"
	"github.com/qiskit-community/qrmi/internal/util"
)

const (
	// JobIDPrefix starts every mock job id.
	JobIDPrefix = "IONQ_MOCK_"

	// NumQubits is the qubit count reported by Target.
	NumQubits = 29

	// Options read from the resource config.
	OptionOnline       = "online"
	OptionQueuedPolls  = "queued_polls"
	OptionRunningPolls = "running_polls"
	OptionOutcome      = "outcome"

	previewChars = 128
)

type job struct {
	polls   int
	status  status.TaskStatus
	result  string
	logs    []string
	summary string
}

// Resource is the mock backend.
type Resource struct {
	name    string
	backend string
	clock   resource.Clock
	logger  observability.Logger

	queuedPolls  int
	runningPolls int
	outcome      status.TaskStatus

	session resource.Session

	mu     sync.Mutex
	online bool
	jobs   map[string]*job
}

// New creates the mock described by cfg.
func New(cfg *config.ResourceConfig, d base.Deps) (*Resource, error) {
	d = d.WithDefaults()

	online, err := boolOption(cfg, OptionOnline, true)
	if err != nil {
		return nil, err
	}
	queued, err := countOption(cfg, OptionQueuedPolls, 1)
	if err != nil {
		return nil, err
	}
	running, err := countOption(cfg, OptionRunningPolls, 1)
	if err != nil {
		return nil, err
	}
	outcome := status.Completed
	switch raw := cfg.Option(OptionOutcome, ""); strings.ToLower(raw) {
	case "", "completed":
	case "failed":
		outcome = status.Failed
	default:
		return nil, util.NewConfigError(cfg.Name+".options."+OptionOutcome, fmt.Sprintf("%q is not completed or failed", raw))
	}

	return &Resource{
		name:         cfg.Name,
		backend:      base.Backend(cfg),
		clock:        d.Clock,
		logger:       d.Logger.With(observability.String("resource", cfg.Name)),
		queuedPolls:  queued,
		runningPolls: running,
		outcome:      outcome,
		online:       online,
		jobs:         make(map[string]*job),
	}, nil
}

func boolOption(cfg *config.ResourceConfig, key string, def bool) (bool, error) {
	raw := cfg.Option(key, "")
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, util.NewConfigErrorWithCause(cfg.Name+".options."+key, "not a boolean", err)
	}
	return v, nil
}

func countOption(cfg *config.ResourceConfig, key string, def int) (int, error) {
	raw := cfg.Option(key, "")
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, util.NewConfigError(cfg.Name+".options."+key, fmt.Sprintf("%q is not a non-negative integer", raw))
	}
	return v, nil
}

// SetOnline toggles the accessibility of the mock.
func (r *Resource) SetOnline(online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.online = online
}

func (r *Resource) isOnline() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online
}

func (r *Resource) unavailable() error {
	return fmt.Errorf("%w: mock backend %s is offline", util.ErrResourceUnavailable, r.backend)
}

// IsAccessible implements resource.Resource.
func (r *Resource) IsAccessible(context.Context) (bool, error) {
	return r.isOnline(), nil
}

// Acquire implements resource.Resource.
func (r *Resource) Acquire(context.Context) (string, error) {
	if !r.isOnline() {
		return "", r.unavailable()
	}
	id := uuid.NewString()
	r.session.Open(id)
	return id, nil
}

// Release implements resource.Resource.
func (r *Resource) Release(_ context.Context, sessionID string) error {
	return r.session.Close(sessionID)
}

// TaskStart implements resource.Resource.
func (r *Resource) TaskStart(_ context.Context, payload resource.Payload) (string, error) {
	p, err := resource.Expect[*resource.IonQCloudPayload](payload, resource.KindIonQMock)
	if err != nil {
		return "", err
	}
	if _, err := r.session.Check(); err != nil {
		return "", err
	}
	if !r.isOnline() {
		return "", r.unavailable()
	}

	target := p.Target
	if target == "" {
		target = r.backend
	}
	id := JobIDPrefix + uuid.NewString()
	preview := p.Input
	if runes := []rune(preview); len(runes) > previewChars {
		preview = string(runes[:previewChars])
	}

	result, err := json.Marshal(map[string]any{
		"backend":       r.backend,
		"job_id":        id,
		"mock":          true,
		"provider":      "ionq",
		"target":        target,
		"shots":         p.Shots,
		"input_preview": preview,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode mock result: %w", err)
	}

	j := &job{
		status:  status.Queued,
		result:  string(result),
		summary: fmt.Sprintf("IonQ mock job on target=%q, shots=%d, input_preview=%q", target, p.Shots, preview),
	}
	r.mu.Lock()
	j.logs = append(j.logs, r.line("job %s started on mock backend %q", id, r.backend))
	r.advance(j)
	r.jobs[id] = j
	r.mu.Unlock()

	r.logger.Debug("mock job submitted", observability.String("task_id", id))
	return id, nil
}

func (r *Resource) line(format string, args ...any) string {
	return r.clock.Now().UTC().Format("2006-01-02T15:04:05Z") + " " + fmt.Sprintf(format, args...)
}

// advance moves j to the status matching its poll count. Callers hold mu.
func (r *Resource) advance(j *job) {
	if j.status.IsTerminal() {
		return
	}
	next := status.Queued
	switch {
	case j.polls >= r.queuedPolls+r.runningPolls:
		next = r.outcome
	case j.polls >= r.queuedPolls:
		next = status.Running
	}
	if next != j.status {
		j.logs = append(j.logs, r.line("status changed to %s", next))
		j.status = next
	}
}

func (r *Resource) lookup(taskID string) (*job, error) {
	j, ok := r.jobs[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown mock job %q", util.ErrTaskNotFound, taskID)
	}
	return j, nil
}

// TaskStop implements resource.Resource. Stopping a terminal job is a
// no-op.
func (r *Resource) TaskStop(_ context.Context, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, err := r.lookup(taskID)
	if err != nil {
		return err
	}
	if j.status.IsTerminal() {
		return nil
	}
	j.status = status.Cancelled
	j.logs = append(j.logs, r.line("job marked as cancelled by client request"))
	return nil
}

// TaskStatus implements resource.Resource. Every read counts as one poll.
func (r *Resource) TaskStatus(_ context.Context, taskID string) (status.TaskStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, err := r.lookup(taskID)
	if err != nil {
		return "", err
	}
	j.polls++
	r.advance(j)
	return status.Mock(string(j.status)), nil
}

// TaskResult implements resource.Resource.
func (r *Resource) TaskResult(_ context.Context, taskID string) (resource.TaskResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, err := r.lookup(taskID)
	if err != nil {
		return resource.TaskResult{}, err
	}
	if err := base.NotReady(taskID, j.status); err != nil {
		return resource.TaskResult{}, err
	}
	return resource.TaskResult{Value: j.result}, nil
}

// TaskLogs implements resource.Resource.
func (r *Resource) TaskLogs(_ context.Context, taskID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, err := r.lookup(taskID)
	if err != nil {
		return "", err
	}
	logs := append(append([]string(nil), j.logs...), "payload_summary: "+j.summary)
	return strings.Join(logs, "\n"), nil
}

// Target implements resource.Resource.
func (r *Resource) Target(context.Context) (resource.Target, error) {
	return resource.NewTarget(map[string]any{
		"name":       r.backend,
		"provider":   "ionq",
		"type":       "mock",
		"num_qubits": NumQubits,
		"mock":       true,
	})
}

// Metadata implements resource.Resource.
func (r *Resource) Metadata(context.Context) map[string]string {
	md := map[string]string{
		"backend_name": r.backend,
		"provider":     "ionq",
		"kind":         "mock",
	}
	if id := r.session.ID(); id != "" {
		md["session_id"] = id
	}
	return md
}

var _ resource.Resource = (*Resource)(nil)
