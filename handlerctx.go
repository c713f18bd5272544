package fileq

import (
	"context"

	"github.com/UniQw/fileq/internal/hctx"
)

// SetProgress allows a handler to report progress (0..100) for the current attempt.
// Values are clamped. It returns false once the attempt was paused, canceled or
// stopped; the handler should then call Checkpoint and return.
// It is a no-op returning true if the context is not provided by the engine.
func SetProgress(ctx context.Context, p int) bool {
	st, ok := hctx.From(ctx)
	if !ok || st == nil {
		return true
	}
	if p < 0 {
		p = 0
	} else if p > 100 {
		p = 100
	}
	return st.Report(p)
}

// Checkpoint returns ErrPaused, ErrCanceled or ErrStopped when the current
// attempt must stop, and nil otherwise. Handlers call it between units of work.
func Checkpoint(ctx context.Context) error {
	st, ok := hctx.From(ctx)
	if !ok || st == nil {
		return ctx.Err()
	}
	return st.Check()
}

// RunID returns the identifier of the current attempt, or "" outside the engine.
func RunID(ctx context.Context) string {
	st, ok := hctx.From(ctx)
	if !ok || st == nil {
		return ""
	}
	return st.RunID
}
