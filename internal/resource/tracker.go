package resource

import (
	"sync"

	"github.com/qiskit-community/qrmi/internal/status"
)

// Tracker keeps the last observed status of each task so terminal states
// stay sticky across polls.
type Tracker struct {
	mu    sync.Mutex
	tasks map[string]status.TaskStatus
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{tasks: make(map[string]status.TaskStatus)}
}

// Start registers a new task as Queued.
func (t *Tracker) Start(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.tasks[id]; !ok {
		t.tasks[id] = status.Queued
	}
}

// Observe records a polled status and returns the status to report. A
// task already in a terminal state keeps it.
func (t *Tracker) Observe(id string, observed status.TaskStatus) status.TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.tasks[id]; ok && prev.IsTerminal() {
		return prev
	}
	t.tasks[id] = observed
	return observed
}

// Cancel records a successful stop. It returns false when the task was
// already terminal and keeps that state.
func (t *Tracker) Cancel(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.tasks[id]; ok && prev.IsTerminal() {
		return false
	}
	t.tasks[id] = status.Cancelled
	return true
}

// Terminal returns the terminal status of a task, if one was observed.
func (t *Tracker) Terminal(id string) (status.TaskStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.tasks[id]
	if !ok || !st.IsTerminal() {
		return "", false
	}
	return st, true
}

// Get returns the last recorded status.
func (t *Tracker) Get(id string) (status.TaskStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.tasks[id]
	return st, ok
}

// Len returns the number of tracked tasks.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tasks)
}
