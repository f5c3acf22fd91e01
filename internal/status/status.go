package status

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// TaskStatus is the canonical status of a task.
type TaskStatus string

// Canonical task statuses.
const (
	Queued    TaskStatus = "Queued"
	Running   TaskStatus = "Running"
	Completed TaskStatus = "Completed"
	Failed    TaskStatus = "Failed"
	Cancelled TaskStatus = "Cancelled"
)

// All lists the canonical statuses in lifecycle order.
var All = []TaskStatus{Queued, Running, Completed, Failed, Cancelled}

// String implements fmt.Stringer.
func (s TaskStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition can happen.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case Completed, Failed, Cancelled:
		return true
	default:
		return false
	}
}

// Parse reads a canonical status name, ignoring case.
func Parse(s string) (TaskStatus, error) {
	folded := fold(s)
	for _, st := range All {
		if fold(string(st)) == folded {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown task status %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (s TaskStatus) MarshalText() ([]byte, error) {
	return []byte(s), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *TaskStatus) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// fold normalizes a provider literal for table lookup. Separators are
// unified so "TIMED_OUT", "timed-out" and "Timed Out" compare equal.
func fold(s string) string {
	s = cases.Fold().String(strings.TrimSpace(s))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}
