package resource

import (
	"fmt"
	"sync"

	"github.com/qiskit-community/qrmi/internal/util"
)

// sessionState is the lifecycle position of a resource.
type sessionState int

const (
	stateUnacquired sessionState = iota
	stateAcquired
	stateReleased
)

// Session tracks the session lifecycle of one resource. Tasks may start
// before Acquire on providers that run sessionless; once the session is
// released every start fails with util.ErrSessionInvalid until the next
// Acquire.
type Session struct {
	mu    sync.RWMutex
	state sessionState
	id    string
}

// Open records an acquired session.
func (s *Session) Open(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateAcquired
	s.id = id
}

// ID returns the open session id, or "".
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != stateAcquired {
		return ""
	}
	return s.id
}

// Check returns the session id usable for a new task, or
// util.ErrSessionInvalid after release.
func (s *Session) Check() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch s.state {
	case stateReleased:
		return "", fmt.Errorf("%w: session %q was released", util.ErrSessionInvalid, s.id)
	case stateAcquired:
		return s.id, nil
	default:
		return "", nil
	}
}

// Close marks the session released. An empty id or the open id is
// accepted; any other id fails with util.ErrSessionInvalid. Closing an
// already released session succeeds.
func (s *Session) Close(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateAcquired && id != "" && id != s.id {
		return fmt.Errorf("%w: unknown session %q", util.ErrSessionInvalid, id)
	}
	if id != "" && s.id == "" {
		s.id = id
	}
	s.state = stateReleased
	return nil
}

// Released reports whether the session was released.
func (s *Session) Released() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == stateReleased
}
