package fileq

import "github.com/UniQw/fileq/internal/registry"

// Status is the lifecycle state of a task.
// Use the exported constants instead of raw strings to avoid typos.
type Status string

const (
	// StatusQueued tasks wait in the priority queue.
	StatusQueued Status = Status(registry.Queued)
	// StatusProcessing tasks are running on the executor.
	StatusProcessing Status = Status(registry.Processing)
	// StatusPaused tasks are held out of the queue until resumed or restarted.
	StatusPaused Status = Status(registry.Paused)
	// StatusCancelling tasks are marked canceled and wait for their grace period.
	StatusCancelling Status = Status(registry.Cancelling)
	// StatusCompleted is terminal: the body finished its work.
	StatusCompleted Status = Status(registry.Completed)
	// StatusFailed is terminal: the body returned an error or panicked.
	StatusFailed Status = Status(registry.Failed)
	// StatusCanceled is terminal: the task was canceled before it finished.
	StatusCanceled Status = Status(registry.Canceled)
)

// AllStatuses lists every status in a stable order.
var AllStatuses = []Status{
	StatusQueued, StatusProcessing, StatusPaused, StatusCancelling,
	StatusCompleted, StatusFailed, StatusCanceled,
}

// String returns the raw string value of the status.
func (s Status) String() string { return string(s) }

// IsTerminal reports whether s only appears in history records.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// ParseStatus converts a string into a Status, returning an error for unknown values.
func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", ErrUnknownStatus
}

// Priority is the scheduling class of a task.
type Priority string

const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

// AllPriorities lists the priorities from most to least urgent.
var AllPriorities = []Priority{PriorityHigh, PriorityMedium, PriorityLow}

func (p Priority) String() string { return string(p) }

// Rank maps a priority to its queue rank; lower ranks are dispatched first.
// Unknown priorities rank as Medium.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// PriorityOf returns the priority for label, falling back to Medium.
func PriorityOf(label string) Priority {
	p, err := ParsePriority(label)
	if err != nil {
		return PriorityMedium
	}
	return p
}

// ParsePriority converts a label into a Priority, returning an error for unknown values.
func ParsePriority(label string) (Priority, error) {
	switch label {
	case string(PriorityHigh):
		return PriorityHigh, nil
	case string(PriorityMedium):
		return PriorityMedium, nil
	case string(PriorityLow):
		return PriorityLow, nil
	default:
		return "", ErrUnknownPriority
	}
}

// PriorityFromRank is the inverse of Rank. Unknown ranks map to Medium.
func PriorityFromRank(rank int) Priority {
	switch rank {
	case 1:
		return PriorityHigh
	case 3:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// Action is a runtime control request for a single task.
type Action string

const (
	ActionPause  Action = "Pause"
	ActionResume Action = "Resume"
	ActionCancel Action = "Cancel"
)

// ParseAction converts a string into an Action, returning an error for unknown values.
func ParseAction(s string) (Action, error) {
	switch s {
	case string(ActionPause):
		return ActionPause, nil
	case string(ActionResume):
		return ActionResume, nil
	case string(ActionCancel):
		return ActionCancel, nil
	default:
		return "", ErrUnknownAction
	}
}
