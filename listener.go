package fileq

// Listener receives engine notifications. All methods are called from a single
// goroutine, in the order the changes were applied, and never while an engine
// lock is held, so implementations may call back into the Engine.
type Listener interface {
	StatusChanged(key string, status Status)
	ProgressChanged(key string, progress int)
	TaskFinished(key string, rec HistoryRecord)
	// TaskRemoved reports a task discarded by ClearQueue. No history record
	// is created for it.
	TaskRemoved(key string)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	OnStatus   func(key string, status Status)
	OnProgress func(key string, progress int)
	OnFinished func(key string, rec HistoryRecord)
	OnRemoved  func(key string)
}

func (f ListenerFuncs) StatusChanged(key string, status Status) {
	if f.OnStatus != nil {
		f.OnStatus(key, status)
	}
}

func (f ListenerFuncs) ProgressChanged(key string, progress int) {
	if f.OnProgress != nil {
		f.OnProgress(key, progress)
	}
}

func (f ListenerFuncs) TaskFinished(key string, rec HistoryRecord) {
	if f.OnFinished != nil {
		f.OnFinished(key, rec)
	}
}

func (f ListenerFuncs) TaskRemoved(key string) {
	if f.OnRemoved != nil {
		f.OnRemoved(key)
	}
}
