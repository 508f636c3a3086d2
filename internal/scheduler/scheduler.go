package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/gridfan/internal/task"
)

// Handle identifies one submitted task within the execution framework.
type Handle string

// ErrPending is returned by Poll while the task has not reached a terminal
// state yet.
var ErrPending = errors.New("task still pending")

// Result is the terminal report for one submission. Exactly one Result is
// produced per submitted Spec; retries of the same unit are new submissions.
type Result struct {
	Handle  Handle
	Unit    string
	Attempt string

	ExitCode  int
	OutputDir string
}

// Scheduler is the submit/poll contract consumed from the execution
// framework.
type Scheduler interface {
	// Submit hands a task description to the framework and returns a handle
	// for polling. The framework owns the spec until a terminal result is
	// returned.
	Submit(ctx context.Context, spec *task.Spec) (Handle, error)

	// Poll reports the terminal result for a handle, or ErrPending while the
	// task is still queued or running.
	Poll(ctx context.Context, handle Handle) (*Result, error)
}

// ExternalSchedulerError wraps an opaque failure surfaced by the execution
// framework. It is reported with unit and phase context and never retried by
// the engine.
type ExternalSchedulerError struct {
	Unit string
	Op   string
	Err  error
}

func (e *ExternalSchedulerError) Error() string {
	return fmt.Sprintf("scheduler %s failed for unit %q: %v", e.Op, e.Unit, e.Err)
}

func (e *ExternalSchedulerError) Unwrap() error { return e.Err }
