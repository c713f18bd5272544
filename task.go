package fileq

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Task is a read-only snapshot of an active task.
type Task struct {
	// ID is assigned at enqueue time and breaks ties within a priority class.
	ID uint64 `json:"id"`
	// Key is the unique identity of the task, usually a file path.
	Key string `json:"key"`
	// Priority is the scheduling class the task was enqueued with.
	Priority Priority `json:"priority"`
	// Status is the current lifecycle state.
	Status Status `json:"status"`
	// Progress is the completion percentage of the current attempt (0..100).
	Progress int `json:"progress"`
	// Size is the file size in bytes; 0 when the file could not be stat'ed.
	Size int64 `json:"size"`
	// ModTime is the file modification time; zero when unknown.
	ModTime time.Time `json:"mod_time,omitempty"`
	// EnqueuedAt is when the task entered the engine.
	EnqueuedAt time.Time `json:"enqueued_at"`
	// StartedAt is when the latest attempt began processing; zero before that.
	StartedAt time.Time `json:"started_at,omitempty"`
	// RunID identifies the latest attempt; empty before processing.
	RunID string `json:"run_id,omitempty"`
}

// FileName returns the last element of the task key.
func (t Task) FileName() string { return filepath.Base(t.Key) }

// SizeHuman formats Size using binary units with one decimal, e.g. "1.5 KB".
func (t Task) SizeHuman() string { return HumanSize(t.Size) }

// HistoryRecord is the immutable outcome of a finished task.
type HistoryRecord struct {
	ID          uint64        `json:"id"`
	Key         string        `json:"key"`
	Priority    Priority      `json:"priority"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
	Status      Status        `json:"status"`
}

// FileName returns the last element of the record key.
func (r HistoryRecord) FileName() string { return filepath.Base(r.Key) }

// DurationSeconds returns the duration in seconds rounded to two decimals.
func (r HistoryRecord) DurationSeconds() float64 {
	return float64(r.Duration.Round(10*time.Millisecond)) / float64(time.Second)
}

// Stats counts active tasks per status and finished tasks.
type Stats struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Paused     int `json:"paused"`
	Cancelling int `json:"cancelling"`
	Finished   int `json:"finished"`
}

// Active returns the number of tasks that have not reached a terminal status.
func (s Stats) Active() int { return s.Queued + s.Processing + s.Paused + s.Cancelling }

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB"}

// HumanSize formats a byte count using 1024-based units with one decimal.
func HumanSize(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	v := float64(n)
	i := 0
	for v >= 1024 && i < len(sizeUnits)-1 {
		v /= 1024
		i++
	}
	return groupThousands(fmt.Sprintf("%.1f", v)) + " " + sizeUnits[i]
}

func groupThousands(s string) string {
	intPart, frac, _ := strings.Cut(s, ".")
	if len(intPart) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(intPart) % 3
	if lead > 0 {
		b.WriteString(intPart[:lead])
	}
	for i := lead; i < len(intPart); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(intPart[i : i+3])
	}
	return b.String() + "." + frac
}
