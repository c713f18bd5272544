package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/UniQw/fileq/internal/pq"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) on(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) statuses(key string) []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Status
	for _, ev := range r.events {
		if ev.Kind == StatusChanged && ev.Key == key {
			out = append(out, ev.Status)
		}
	}
	return out
}

func (r *recorder) progress(key string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, ev := range r.events {
		if ev.Kind == ProgressChanged && ev.Key == key {
			out = append(out, ev.Progress)
		}
	}
	return out
}

func newTestRegistry(t *testing.T) (*Registry, *pq.Queue, *fakeClock, *recorder) {
	t.Helper()
	q := pq.New()
	clk := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	rec := &recorder{}
	r := New(q, Config{Now: clk.Now, OnEvent: rec.on})
	r.Open()
	return r, q, clk, rec
}

// dispatch dequeues the next key and starts it, as a dispatcher and executor would.
func dispatch(t *testing.T, r *Registry, q *pq.Queue) Attempt {
	t.Helper()
	key, err := q.Get(context.Background(), 0)
	require.NoError(t, err)
	ticket, ok := r.Claim(key)
	require.True(t, ok, "claim %s", key)
	att, ok := r.Begin(context.Background(), key, ticket)
	require.True(t, ok, "begin %s", key)
	return att
}

func TestRegistry_AddRejectsDuplicates(t *testing.T) {
	r, q, _, _ := newTestRegistry(t)

	e, err := r.Add("/x", 1, "High", 10, time.Time{})
	require.NoError(t, err)
	require.Equal(t, uint64(1), e.ID)

	_, err = r.Add("/x", 1, "High", 10, time.Time{})
	require.ErrorIs(t, err, ErrDuplicate)
	require.Len(t, r.Active(), 1)
	require.Equal(t, 1, q.Len())
}

func TestRegistry_CompleteMovesToHistoryAtomically(t *testing.T) {
	r, q, clk, rec := newTestRegistry(t)
	_, err := r.Add("/a", 2, "Medium", 0, time.Time{})
	require.NoError(t, err)

	att := dispatch(t, r, q)
	clk.Advance(1500 * time.Millisecond)
	require.True(t, r.Progress("/a", att.Ticket, 50))

	got, ok := r.Complete("/a", att.Ticket, nil)
	require.True(t, ok)
	require.Equal(t, Completed, got.Status)
	require.Equal(t, 1500*time.Millisecond, got.Duration)

	_, active := r.Get("/a")
	require.False(t, active)
	require.Len(t, r.History(), 1)
	require.Equal(t, []Status{Queued, Processing, Completed}, rec.statuses("/a"))
	require.Equal(t, []int{0, 50, 100}, rec.progress("/a"))
	require.ErrorIs(t, att.Ctx.Err(), context.Canceled, "attempt context released on finish")
}

func TestRegistry_ErrorBecomesFailed(t *testing.T) {
	r, q, _, _ := newTestRegistry(t)
	_, _ = r.Add("/f", 2, "Medium", 0, time.Time{})
	att := dispatch(t, r, q)

	got, ok := r.Complete("/f", att.Ticket, errors.New("boom"))
	require.True(t, ok)
	require.Equal(t, Failed, got.Status)
}

func TestRegistry_CancelBeforeStart(t *testing.T) {
	r, q, _, rec := newTestRegistry(t)
	_, _ = r.Add("/c", 1, "High", 0, time.Time{})

	id, err := r.Cancel("/c")
	require.NoError(t, err)
	require.False(t, q.Contains("/c"), "canceled entry removed from queue")

	// a dispatcher that already pulled the key must drop it
	_, ok := r.Claim("/c")
	require.False(t, ok)

	got, ok := r.FinalizeCanceled("/c", id)
	require.True(t, ok)
	require.Equal(t, Canceled, got.Status)
	require.NotContains(t, rec.statuses("/c"), Processing)
	require.Len(t, r.History(), 1)

	// finalize is once only
	_, ok = r.FinalizeCanceled("/c", id)
	require.False(t, ok)
}

func TestRegistry_CancelWhileProcessingIgnoresLateOutcome(t *testing.T) {
	r, q, _, _ := newTestRegistry(t)
	_, _ = r.Add("/p", 1, "High", 0, time.Time{})
	att := dispatch(t, r, q)

	id, err := r.Cancel("/p")
	require.NoError(t, err)
	require.ErrorIs(t, att.Ctx.Err(), context.Canceled)
	require.ErrorIs(t, r.Check("/p", att.Ticket), ErrCanceled)
	require.False(t, r.Progress("/p", att.Ticket, 70))

	_, ok := r.Complete("/p", att.Ticket, nil)
	require.False(t, ok, "outcome of a canceled attempt is ignored")

	got, ok := r.FinalizeCanceled("/p", id)
	require.True(t, ok)
	require.Equal(t, Canceled, got.Status)

	_, err = r.Cancel("/p")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_PauseResumeRestartsProgress(t *testing.T) {
	r, q, _, rec := newTestRegistry(t)
	_, _ = r.Add("/r", 2, "Medium", 0, time.Time{})
	att := dispatch(t, r, q)
	require.True(t, r.Progress("/r", att.Ticket, 42))

	require.NoError(t, r.Pause("/r"))
	require.ErrorIs(t, r.Check("/r", att.Ticket), ErrPaused)
	_, ok := r.Complete("/r", att.Ticket, nil)
	require.False(t, ok)

	require.NoError(t, r.Resume("/r"))
	require.True(t, q.Contains("/r"))
	att.Done()
	att2 := dispatch(t, r, q)
	require.NotEqual(t, att.Ticket, att2.Ticket)
	require.Equal(t, 0, att2.Entry.Progress)

	// superseded attempt cannot report
	require.False(t, r.Progress("/r", att.Ticket, 99))
	require.True(t, r.Progress("/r", att2.Ticket, 10))

	require.Equal(t, []int{0, 42, 0, 10}, rec.progress("/r"))
	require.Equal(t, []Status{Queued, Processing, Paused, Queued, Processing}, rec.statuses("/r"))
}

func TestRegistry_ResumeKeepsOriginalOrdering(t *testing.T) {
	r, q, _, _ := newTestRegistry(t)
	_, _ = r.Add("/first", 2, "Medium", 0, time.Time{})
	_, _ = r.Add("/second", 2, "Medium", 0, time.Time{})

	require.NoError(t, r.Pause("/first"))
	require.False(t, q.Contains("/first"))
	require.NoError(t, r.Resume("/first"))

	require.Equal(t, []string{"/first", "/second"}, q.Keys())
}

func TestRegistry_IllegalTransitions(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	require.ErrorIs(t, r.Pause("/missing"), ErrNotFound)
	require.ErrorIs(t, r.Resume("/missing"), ErrNotFound)

	_, _ = r.Add("/i", 2, "Medium", 0, time.Time{})
	require.ErrorIs(t, r.Resume("/i"), ErrIllegalTransition, "resume requires Paused")

	_, err := r.Cancel("/i")
	require.NoError(t, err)
	require.ErrorIs(t, r.Pause("/i"), ErrIllegalTransition, "pause after cancel")
	require.ErrorIs(t, r.Resume("/i"), ErrIllegalTransition, "resume after cancel")
	_, err = r.Cancel("/i")
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestRegistry_ClaimRejectsPausedAndStale(t *testing.T) {
	r, q, _, _ := newTestRegistry(t)
	_, _ = r.Add("/s", 2, "Medium", 0, time.Time{})

	key, err := q.Get(context.Background(), 0)
	require.NoError(t, err)
	ticket, ok := r.Claim(key)
	require.True(t, ok)

	// paused and resumed while waiting for an executor slot
	require.NoError(t, r.Pause("/s"))
	require.NoError(t, r.Resume("/s"))

	_, ok = r.Begin(context.Background(), "/s", ticket)
	require.False(t, ok, "stale ticket must not start")

	att := dispatch(t, r, q)
	require.Equal(t, Processing, att.Entry.Status)
}

func TestRegistry_HaltAndOpen(t *testing.T) {
	r, q, _, _ := newTestRegistry(t)
	for _, k := range []string{"/1", "/2", "/3", "/user"} {
		_, _ = r.Add(k, 2, "Medium", 0, time.Time{})
	}
	require.NoError(t, r.Pause("/user"))
	att := dispatch(t, r, q) // "/1" processing

	require.Equal(t, 3, r.Halt())
	require.ErrorIs(t, att.Ctx.Err(), context.Canceled)
	require.ErrorIs(t, r.Check("/1", att.Ticket), ErrStopped)
	for _, e := range r.Active() {
		require.Equal(t, Paused, e.Status, e.Key)
	}
	require.True(t, q.Empty())

	_, ok := r.Claim("/2")
	require.False(t, ok, "halted registry admits nothing")

	require.Equal(t, 3, r.Open())
	require.Equal(t, []string{"/1", "/2", "/3"}, q.Keys())
	e, _ := r.Get("/user")
	require.Equal(t, Paused, e.Status, "user pause survives restart")
}

func TestRegistry_AddDuringHaltIsPausedOnClaim(t *testing.T) {
	r, q, _, rec := newTestRegistry(t)
	r.Halt()

	// a dispatcher that has not exited yet dequeues a key added after Halt
	_, err := r.Add("/late", 2, "Medium", 0, time.Time{})
	require.NoError(t, err)
	key, err := q.Get(context.Background(), 0)
	require.NoError(t, err)
	_, ok := r.Claim(key)
	require.False(t, ok)

	e, ok := r.Get("/late")
	require.True(t, ok)
	require.Equal(t, Paused, e.Status, "task must stay visible, not vanish from the queue")

	require.Equal(t, 1, r.Open())
	require.True(t, q.Contains("/late"))
	att := dispatch(t, r, q)
	_, ok = r.Complete("/late", att.Ticket, nil)
	require.True(t, ok)
	require.Equal(t, []Status{Queued, Paused, Queued, Processing, Completed}, rec.statuses("/late"))
}

func TestRegistry_BeginWaitsForPreviousBody(t *testing.T) {
	r, q, _, _ := newTestRegistry(t)
	_, _ = r.Add("/b", 2, "Medium", 0, time.Time{})
	first := dispatch(t, r, q)

	require.NoError(t, r.Pause("/b"))
	require.NoError(t, r.Resume("/b"))
	key, err := q.Get(context.Background(), 0)
	require.NoError(t, err)
	ticket, ok := r.Claim(key)
	require.True(t, ok)

	begun := make(chan Attempt, 1)
	go func() {
		if att, ok := r.Begin(context.Background(), key, ticket); ok {
			begun <- att
		}
	}()

	require.Never(t, func() bool { return len(begun) > 0 }, 50*time.Millisecond, 5*time.Millisecond,
		"second body must not start while the first is running")
	e, _ := r.Get("/b")
	require.Equal(t, Queued, e.Status)

	first.Done()
	var second Attempt
	select {
	case second = <-begun:
	case <-time.After(time.Second):
		t.Fatal("second attempt never began")
	}
	require.Equal(t, Processing, second.Entry.Status)
	second.Done()
	first.Done() // idempotent
}

func TestRegistry_BeginGivesUpWhenParentEnds(t *testing.T) {
	r, q, _, _ := newTestRegistry(t)
	_, _ = r.Add("/g", 2, "Medium", 0, time.Time{})
	first := dispatch(t, r, q)
	defer first.Done()

	require.NoError(t, r.Pause("/g"))
	require.NoError(t, r.Resume("/g"))
	key, err := q.Get(context.Background(), 0)
	require.NoError(t, err)
	ticket, ok := r.Claim(key)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok = r.Begin(ctx, key, ticket)
	require.False(t, ok)
}

func TestRegistry_PauseConvertsStopPause(t *testing.T) {
	r, q, _, _ := newTestRegistry(t)
	_, _ = r.Add("/k", 2, "Medium", 0, time.Time{})
	r.Halt()
	require.NoError(t, r.Pause("/k"))
	require.Zero(t, r.Open())
	require.True(t, q.Empty())
}

func TestRegistry_ClearDropsWithoutHistory(t *testing.T) {
	r, q, _, rec := newTestRegistry(t)
	_, _ = r.Add("/q", 2, "Medium", 0, time.Time{})
	_, _ = r.Add("/p", 2, "Medium", 0, time.Time{})
	_, _ = r.Add("/c", 2, "Medium", 0, time.Time{})
	require.NoError(t, r.Pause("/p"))
	_, _ = r.Cancel("/c")
	r.Halt()

	removed := r.Clear()
	require.Equal(t, []string{"/q", "/p"}, removed)
	require.Empty(t, r.History())
	require.True(t, q.Empty())
	require.Len(t, r.Active(), 1, "cancelling task is left to finalize")

	var removedEvents int
	for _, ev := range rec.events {
		if ev.Kind == Removed {
			removedEvents++
		}
	}
	require.Equal(t, 2, removedEvents)
}

func TestRegistry_HistoryLimit(t *testing.T) {
	q := pq.New()
	r := New(q, Config{HistoryLimit: 2})
	r.Open()
	for _, k := range []string{"/1", "/2", "/3"} {
		_, _ = r.Add(k, 2, "Medium", 0, time.Time{})
		att := dispatch(t, r, q)
		_, ok := r.Complete(k, att.Ticket, nil)
		require.True(t, ok)
	}
	h := r.History()
	require.Len(t, h, 2)
	require.Equal(t, "/2", h[0].Key)
	require.Equal(t, "/3", h[1].Key)
}

func TestRegistry_ActiveAndHistoryAreExclusive(t *testing.T) {
	r, q, _, _ := newTestRegistry(t)
	const n = 50
	for i := 0; i < n; i++ {
		_, _ = r.Add(time.Duration(i).String(), i%3+1, "Medium", 0, time.Time{})
	}

	stop := make(chan struct{})
	var violations int
	var vmu sync.Mutex
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			// Active and History are separate snapshots; check per id.
			r.mu.Lock()
			for _, h := range r.history {
				if e, ok := r.active[h.Key]; ok && e.ID == h.ID {
					vmu.Lock()
					violations++
					vmu.Unlock()
				}
			}
			r.mu.Unlock()
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				key, err := q.Get(context.Background(), 10*time.Millisecond)
				if err != nil {
					return
				}
				ticket, ok := r.Claim(key)
				if !ok {
					continue
				}
				if _, ok := r.Begin(context.Background(), key, ticket); ok {
					r.Complete(key, ticket, nil)
				}
			}
		}()
	}
	wg.Wait()
	close(stop)

	require.Zero(t, violations)
	require.Empty(t, r.Active())
	require.Len(t, r.History(), n)
}

func TestRegistry_EventsCarryPreviousStatusAndRunID(t *testing.T) {
	q := pq.New()
	rec := &recorder{}
	n := 0
	r := New(q, Config{OnEvent: rec.on, NewRunID: func() string { n++; return "run-" + string(rune('0'+n)) }})
	r.Open()

	_, err := r.Add("/p", 2, "Medium", 0, time.Time{})
	require.NoError(t, err)
	att := dispatch(t, r, q)
	require.Equal(t, "run-1", att.Entry.RunID)
	_, ok := r.Complete("/p", att.Ticket, nil)
	require.True(t, ok)

	var prevs []Status
	rec.mu.Lock()
	for _, ev := range rec.events {
		if ev.Kind == StatusChanged {
			prevs = append(prevs, ev.Prev)
		}
	}
	rec.mu.Unlock()
	require.Equal(t, []Status{"", Queued, Processing}, prevs)
}
