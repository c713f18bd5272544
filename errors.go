package fileq

import (
	"errors"

	"github.com/UniQw/fileq/internal/registry"
)

// ErrDuplicateTask is returned when Enqueue is called with a key that is still active.
var ErrDuplicateTask = registry.ErrDuplicate

// ErrTaskNotFound is returned when no active task has the specified key.
var ErrTaskNotFound = registry.ErrNotFound

// ErrIllegalTransition is returned when a control action does not apply to the task's current status.
var ErrIllegalTransition = registry.ErrIllegalTransition

// ErrPaused is returned by Checkpoint when the running task was paused.
var ErrPaused = registry.ErrPaused

// ErrCanceled is returned by Checkpoint when the running task was canceled.
var ErrCanceled = registry.ErrCanceled

// ErrStopped is returned by Checkpoint when the engine was stopped.
var ErrStopped = registry.ErrStopped

// ErrPrecondition is returned when an operation is not allowed in the engine's current run state.
var ErrPrecondition = errors.New("fileq: operation not allowed while running")

// ErrUnknownPriority is returned when an invalid priority label is parsed.
var ErrUnknownPriority = errors.New("fileq: unknown priority")

// ErrUnknownStatus is returned when an invalid status is parsed.
var ErrUnknownStatus = errors.New("fileq: unknown status")

// ErrUnknownAction is returned when an invalid control action is used.
var ErrUnknownAction = errors.New("fileq: unknown action")

// ErrNoHandler is returned when the mux has no handler for a task.
var ErrNoHandler = errors.New("fileq: no handler")

// ErrClosed is returned by operations on an engine after Close.
var ErrClosed = errors.New("fileq: engine closed")
