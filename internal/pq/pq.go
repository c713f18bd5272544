package pq

import (
	"container/heap"
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrEmpty is returned by Get when no entry became available before the timeout.
// It is a normal poll outcome, not a failure.
var ErrEmpty = errors.New("pq: empty")

// ErrNoOutstanding is returned by TaskDone when every dequeued entry was already acknowledged.
var ErrNoOutstanding = errors.New("pq: task done called too many times")

// Item is a queue entry. Items order by Rank ascending, then ID ascending.
type Item struct {
	Rank int
	ID   uint64
	Key  string

	index int
}

func (a *Item) less(b *Item) bool {
	if a.Rank != b.Rank {
		return a.Rank < b.Rank
	}
	return a.ID < b.ID
}

type items []*Item

func (h items) Len() int           { return len(h) }
func (h items) Less(i, j int) bool { return h[i].less(h[j]) }
func (h items) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *items) Push(x any) {
	it := x.(*Item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *items) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Queue is a deduplicated min-priority queue keyed by a unique string.
// A presence index gives O(1) Contains and O(log n) Remove by key.
type Queue struct {
	mu         sync.Mutex
	h          items
	index      map[string]*Item
	unfinished int
	// ready holds at most one wake-up token; waiters re-signal when entries remain.
	ready chan struct{}
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{
		index: make(map[string]*Item),
		ready: make(chan struct{}, 1),
	}
}

// Put inserts key with the given rank and id. It is a no-op returning false
// when key is already present.
func (q *Queue) Put(key string, rank int, id uint64) bool {
	q.mu.Lock()
	if _, ok := q.index[key]; ok {
		q.mu.Unlock()
		return false
	}
	it := &Item{Rank: rank, ID: id, Key: key}
	heap.Push(&q.h, it)
	q.index[key] = it
	q.unfinished++
	q.mu.Unlock()
	q.signal()
	return true
}

// Get blocks up to timeout for the minimum entry and removes it.
// It returns ErrEmpty on timeout and ctx.Err() when ctx ends first.
func (q *Queue) Get(ctx context.Context, timeout time.Duration) (string, error) {
	if it, ok := q.pop(); ok {
		return it.Key, nil
	}
	if timeout <= 0 {
		return "", ErrEmpty
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
			if it, ok := q.pop(); ok {
				return it.Key, nil
			}
			return "", ErrEmpty
		case <-q.ready:
			if it, ok := q.pop(); ok {
				return it.Key, nil
			}
		}
	}
}

func (q *Queue) pop() (*Item, bool) {
	q.mu.Lock()
	if len(q.h) == 0 {
		q.mu.Unlock()
		return nil, false
	}
	it := heap.Pop(&q.h).(*Item)
	delete(q.index, it.Key)
	more := len(q.h) > 0
	q.mu.Unlock()
	if more {
		q.signal()
	}
	return it, true
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Remove deletes key from the queue. It reports whether an entry was removed.
// A removed entry counts as acknowledged for TaskDone bookkeeping.
func (q *Queue) Remove(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.index[key]
	if !ok {
		return false
	}
	heap.Remove(&q.h, it.index)
	delete(q.index, key)
	if q.unfinished > 0 {
		q.unfinished--
	}
	return true
}

// TaskDone acknowledges one dequeued entry.
func (q *Queue) TaskDone() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.unfinished-len(q.h) <= 0 {
		return ErrNoOutstanding
	}
	q.unfinished--
	return nil
}

// Unfinished returns the number of entries put but not yet acknowledged,
// including the ones still queued.
func (q *Queue) Unfinished() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.unfinished
}

func (q *Queue) Contains(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.index[key]
	return ok
}

func (q *Queue) Empty() bool { return q.Len() == 0 }

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

// Keys returns a snapshot of queued keys in dequeue order.
func (q *Queue) Keys() []string {
	q.mu.Lock()
	snap := make([]*Item, len(q.h))
	copy(snap, q.h)
	q.mu.Unlock()
	sort.Slice(snap, func(i, j int) bool { return snap[i].less(snap[j]) })
	out := make([]string, len(snap))
	for i, it := range snap {
		out[i] = it.Key
	}
	return out
}

// Clear drops every queued entry and returns the removed keys in dequeue order.
func (q *Queue) Clear() []string {
	keys := q.Keys()
	for _, k := range keys {
		q.Remove(k)
	}
	return keys
}
