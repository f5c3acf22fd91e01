package resource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/qiskit-community/qrmi/internal/observability"
	"github.com/qiskit-community/qrmi/internal/status"
	"github.com/qiskit-community/qrmi/internal/util"
)

// Default polling settings.
const (
	DefaultPollInterval = time.Second
	stopTimeout         = 10 * time.Second
)

// ErrPollTimeout is returned when a task is not terminal by the deadline.
var ErrPollTimeout = errors.New("task polling deadline exceeded")

// PollOptions configures Poll.
type PollOptions struct {
	// Interval between status reads. Default is DefaultPollInterval.
	Interval time.Duration
	// Timeout bounds the whole poll. Zero means no deadline besides ctx.
	Timeout time.Duration
	// Clock defaults to SystemClock.
	Clock  Clock
	Logger observability.Logger
	// OnStatus is called with every observed status.
	OnStatus func(status.TaskStatus)
}

// Poll reads the status of taskID until it is terminal. When the deadline
// passes or ctx ends first, the task is stopped on a best-effort basis and
// the last observable status is returned together with ErrPollTimeout.
// Transient failures of a single read are logged and polling continues.
func Poll(ctx context.Context, r Resource, taskID string, opts PollOptions) (status.TaskStatus, error) {
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	var deadline time.Time
	if opts.Timeout > 0 {
		deadline = clock.Now().Add(opts.Timeout)
	}

	last := status.Queued
	for {
		st, err := r.TaskStatus(ctx, taskID)
		switch {
		case err == nil:
			last = st
			if opts.OnStatus != nil {
				opts.OnStatus(st)
			}
			if st.IsTerminal() {
				return st, nil
			}
		case util.IsRetryable(err):
			logger.Warn("task status read failed, polling continues",
				observability.String("task_id", taskID),
				observability.Error(err),
			)
		case ctx.Err() != nil:
			return giveUp(ctx, r, taskID, last, logger)
		default:
			return last, err
		}

		if !deadline.IsZero() && !clock.Now().Before(deadline) {
			return giveUp(ctx, r, taskID, last, logger)
		}
		if err := clock.Sleep(ctx, interval); err != nil {
			return giveUp(ctx, r, taskID, last, logger)
		}
	}
}

// giveUp stops the task and reads its status once more, without hanging on
// an ended ctx.
func giveUp(ctx context.Context, r Resource, taskID string, last status.TaskStatus, logger observability.Logger) (status.TaskStatus, error) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()

	logger.Warn("task polling deadline exceeded, stopping task",
		observability.String("task_id", taskID),
		observability.String("status", last.String()),
	)
	if err := r.TaskStop(stopCtx, taskID); err != nil {
		logger.Warn("best-effort task stop failed",
			observability.String("task_id", taskID),
			observability.Error(err),
		)
	}
	if st, err := r.TaskStatus(stopCtx, taskID); err == nil {
		last = st
	}
	return last, fmt.Errorf("task %s: %w", taskID, ErrPollTimeout)
}
