package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/qiskit-community/qrmi/internal/observability"
	"github.com/qiskit-community/qrmi/internal/resource"
	"github.com/qiskit-community/qrmi/internal/status"
)

// taskOptions configures runTask.
type taskOptions struct {
	name     string
	interval time.Duration
	timeout  time.Duration
	clock    resource.Clock
	logger   observability.Logger
}

// report is what the command prints once the task is over.
type report struct {
	Resource   string            `json:"resource"`
	Accessible bool              `json:"accessible"`
	SessionID  string            `json:"session_id,omitempty"`
	TaskID     string            `json:"task_id,omitempty"`
	Status     string            `json:"status,omitempty"`
	Target     json.RawMessage   `json:"target,omitempty"`
	Result     json.RawMessage   `json:"result,omitempty"`
	Logs       string            `json:"logs,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (r *report) write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// rawJSON keeps valid JSON documents as they are and quotes anything else.
func rawJSON(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	quoted, _ := json.Marshal(s)
	return quoted
}

// runTask drives one task through the resource lifecycle. Target, result
// and logs are best effort: their failures are logged and leave the field
// empty. The session is released even when the task fails.
func runTask(ctx context.Context, r resource.Resource, payload resource.Payload, opts taskOptions) (rep *report, err error) {
	logger := opts.logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	rep = &report{Resource: opts.name, Metadata: r.Metadata(ctx)}

	accessible, err := r.IsAccessible(ctx)
	if err != nil {
		return rep, fmt.Errorf("accessibility probe failed: %w", err)
	}
	rep.Accessible = accessible
	logger.Info("accessibility probed", observability.Bool("accessible", accessible))
	if !accessible {
		logger.Warn("resource reports not accessible, continuing anyway")
	}

	sessionID, err := r.Acquire(ctx)
	if err != nil {
		return rep, fmt.Errorf("acquire failed: %w", err)
	}
	rep.SessionID = sessionID
	logger.Info("session acquired", observability.String("session_id", sessionID))
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if relErr := r.Release(releaseCtx, sessionID); relErr != nil {
			logger.Error("failed to release session", observability.Error(relErr))
			err = errors.Join(err, fmt.Errorf("release failed: %w", relErr))
			return
		}
		logger.Info("session released", observability.String("session_id", sessionID))
	}()

	if target, terr := r.Target(ctx); terr != nil {
		logger.Warn("target unavailable", observability.Error(terr))
	} else {
		rep.Target = rawJSON(target.Value)
	}

	taskID, err := r.TaskStart(ctx, payload)
	if err != nil {
		return rep, fmt.Errorf("task start failed: %w", err)
	}
	rep.TaskID = taskID
	logger.Info("task started", observability.String("task_id", taskID))

	final, pollErr := resource.Poll(ctx, r, taskID, resource.PollOptions{
		Interval: opts.interval,
		Timeout:  opts.timeout,
		Clock:    opts.clock,
		Logger:   logger,
		OnStatus: func(st status.TaskStatus) {
			logger.Debug("task status", observability.String("status", st.String()))
		},
	})
	rep.Status = final.String()
	logger.Info("task finished",
		observability.String("task_id", taskID),
		observability.String("status", rep.Status),
	)

	if final == status.Completed {
		if result, rerr := r.TaskResult(ctx, taskID); rerr != nil {
			logger.Warn("task result unavailable", observability.Error(rerr))
		} else {
			rep.Result = rawJSON(result.Value)
		}
	}
	if logs, lerr := r.TaskLogs(ctx, taskID); lerr != nil {
		logger.Warn("task logs unavailable", observability.Error(lerr))
	} else {
		rep.Logs = logs
	}

	switch {
	case pollErr != nil:
		return rep, pollErr
	case final != status.Completed:
		return rep, fmt.Errorf("task %s ended %s", taskID, final)
	}
	return rep, nil
}
