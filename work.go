package fileq

import (
	"context"
	"time"
)

const (
	defaultSteps        = 100
	defaultStepInterval = 20 * time.Millisecond
)

// SimulatedWork returns a handler that performs steps units of work, each
// taking interval. It checks for pause, cancel and stop before every step, so
// a control request takes effect within one interval. Non-positive arguments
// fall back to 100 steps of 20ms.
func SimulatedWork(steps int, interval time.Duration) HandlerFunc {
	if steps <= 0 {
		steps = defaultSteps
	}
	if interval <= 0 {
		interval = defaultStepInterval
	}
	return func(ctx context.Context, _ Task) error {
		t := time.NewTimer(interval)
		defer t.Stop()
		for i := 1; i <= steps; i++ {
			if err := Checkpoint(ctx); err != nil {
				return err
			}
			if i > 1 {
				t.Reset(interval)
			}
			select {
			case <-ctx.Done():
				if err := Checkpoint(ctx); err != nil {
					return err
				}
				return ctx.Err()
			case <-t.C:
			}
			if !SetProgress(ctx, i*100/steps) {
				return Checkpoint(ctx)
			}
		}
		return nil
	}
}
