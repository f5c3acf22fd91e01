package resource

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/qiskit-community/qrmi/internal/status"
	"github.com/qiskit-community/qrmi/internal/util"
)

// Kind identifies a resource adapter.
type Kind string

// Supported resource kinds.
const (
	KindIonQCloud    Kind = "ionq-cloud"
	KindIonQMock     Kind = "ionq-mock"
	KindPasqalCloud  Kind = "pasqal-cloud"
	KindPasqalLocal  Kind = "pasqal-local"
	KindDirectAccess Kind = "direct-access"
)

// Kinds lists every supported kind.
var Kinds = []Kind{KindIonQCloud, KindIonQMock, KindPasqalCloud, KindPasqalLocal, KindDirectAccess}

// String returns the kind name.
func (k Kind) String() string {
	return string(k)
}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", util.NewConfigError("kind", fmt.Sprintf("unknown resource kind %q", s))
}

// Resource is the contract every backend adapter implements.
//
// A resource starts unacquired. Acquire opens a session, TaskStart submits
// work under it and Release closes it; after Release, TaskStart fails with
// util.ErrSessionInvalid. TaskStatus may be called concurrently with
// TaskStop. Completed, Failed and Cancelled are sticky.
type Resource interface {
	// IsAccessible probes the backend without a session.
	IsAccessible(ctx context.Context) (bool, error)

	// Acquire opens a session and returns its id.
	Acquire(ctx context.Context) (string, error)

	// Release closes the session. Releasing without work is allowed.
	Release(ctx context.Context, sessionID string) error

	// TaskStart submits payload and returns the task id.
	TaskStart(ctx context.Context, payload Payload) (string, error)

	// TaskStop cancels a task. Stopping a terminal task succeeds.
	TaskStop(ctx context.Context, taskID string) error

	// TaskStatus returns the canonical status of a task.
	TaskStatus(ctx context.Context, taskID string) (status.TaskStatus, error)

	// TaskResult returns the result of a completed task, or
	// util.ErrNotReady.
	TaskResult(ctx context.Context, taskID string) (TaskResult, error)

	// TaskLogs returns provider logs for a task.
	TaskLogs(ctx context.Context, taskID string) (string, error)

	// Target describes the device.
	Target(ctx context.Context) (Target, error)

	// Metadata returns descriptive key/value pairs. It never fails.
	Metadata(ctx context.Context) map[string]string
}

// TaskResult is the provider result of a task as JSON text.
type TaskResult struct {
	Value string `json:"value"`
}

// Decode unmarshals the result into out.
func (r TaskResult) Decode(out any) error {
	if err := json.Unmarshal([]byte(r.Value), out); err != nil {
		return fmt.Errorf("failed to decode task result: %w", err)
	}
	return nil
}

// Target is a provider description of the device as JSON text.
type Target struct {
	Value string `json:"value"`
}

// Decode unmarshals the target into out.
func (t Target) Decode(out any) error {
	if err := json.Unmarshal([]byte(t.Value), out); err != nil {
		return fmt.Errorf("failed to decode target: %w", err)
	}
	return nil
}

// NewTaskResult marshals v into a TaskResult. Raw JSON is kept as is.
func NewTaskResult(v any) (TaskResult, error) {
	text, err := marshalValue(v)
	return TaskResult{Value: text}, err
}

// NewTarget marshals v into a Target. Raw JSON is kept as is.
func NewTarget(v any) (Target, error) {
	text, err := marshalValue(v)
	return Target{Value: text}, err
}

func marshalValue(v any) (string, error) {
	switch val := v.(type) {
	case json.RawMessage:
		return string(val), nil
	case []byte:
		return string(val), nil
	case string:
		return val, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode value: %w", err)
	}
	return string(data), nil
}
