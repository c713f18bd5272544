package fileq

import "time"

// Clock abstracts time so tests can control enqueue and completion timestamps.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
