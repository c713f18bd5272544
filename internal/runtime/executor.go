package runtime

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/UniQw/fileq/internal/notify"
	"golang.org/x/sync/semaphore"
)

type job struct {
	ctx context.Context
	fn  func(context.Context)
}

// Executor runs task bodies with bounded concurrency. Submit never blocks;
// bodies acquire a slot in submission order.
type Executor struct {
	sem      *semaphore.Weighted
	admit    *notify.Mailbox[job]
	wg       sync.WaitGroup
	inflight atomic.Int64
}

func NewExecutor(size int) *Executor {
	if size <= 0 {
		size = 1
	}
	x := &Executor{sem: semaphore.NewWeighted(int64(size))}
	x.admit = notify.New(x.start)
	return x
}

// Submit schedules fn. If ctx is canceled before a slot frees up, fn is not run.
func (x *Executor) Submit(ctx context.Context, fn func(context.Context)) {
	x.wg.Add(1)
	x.inflight.Add(1)
	x.admit.Push(job{ctx: ctx, fn: fn})
}

// start runs on the mailbox goroutine; blocking here holds back later jobs only.
func (x *Executor) start(j job) {
	if err := x.sem.Acquire(j.ctx, 1); err != nil {
		x.done()
		return
	}
	go func() {
		defer x.done()
		defer x.sem.Release(1)
		j.fn(j.ctx)
	}()
}

func (x *Executor) done() {
	x.inflight.Add(-1)
	x.wg.Done()
}

// InFlight returns the number of submitted bodies that have not returned.
func (x *Executor) InFlight() int { return int(x.inflight.Load()) }

// Wait blocks until every submitted body returned or ctx is done.
func (x *Executor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		x.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops admitting work. Jobs still waiting for a slot are dropped once
// their context is canceled.
func (x *Executor) Close() { x.admit.Close() }
