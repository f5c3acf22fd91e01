// Package resource defines the contract shared by quantum resource
// adapters.
//
// A Resource is probed with IsAccessible, opened with Acquire, runs tasks
// with TaskStart, TaskStatus, TaskStop and TaskResult, and is closed with
// Release. Payload is a closed union of the provider payloads; Expect
// narrows it and reports util.ErrTypeMismatch for the wrong kind.
//
// Session, Tracker and Poll are the building blocks adapters and callers
// use to honor the lifecycle: a released session rejects new tasks,
// terminal task states are sticky, and polling respects a deadline after
// which the task is stopped on a best-effort basis.
package resource
