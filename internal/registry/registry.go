package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// Status mirrors the public task status values to avoid an import cycle.
type Status string

const (
	Queued     Status = "Queued"
	Processing Status = "Processing"
	Paused     Status = "Paused"
	Cancelling Status = "Cancelling"
	Completed  Status = "Completed"
	Failed     Status = "Failed"
	Canceled   Status = "Canceled"
)

var (
	ErrDuplicate         = errors.New("fileq: duplicate task key")
	ErrNotFound          = errors.New("fileq: task not found")
	ErrIllegalTransition = errors.New("fileq: illegal transition")
	ErrPaused            = errors.New("fileq: task paused")
	ErrCanceled          = errors.New("fileq: task canceled")
	ErrStopped           = errors.New("fileq: engine stopped")
)

// Queue is the subset of the priority queue the registry drives.
// Calls are made with the registry lock held.
type Queue interface {
	Put(key string, rank int, id uint64) bool
	Remove(key string) bool
}

type pauseCause int

const (
	causeUser pauseCause = iota + 1
	causeStop
)

// Entry is the mutable state of an active task.
type Entry struct {
	ID         uint64
	Key        string
	Rank       int
	Priority   string
	Status     Status
	Progress   int
	Size       int64
	ModTime    time.Time
	EnqueuedAt time.Time
	StartedAt  time.Time
	RunID      string

	ticket uint64
	cancel context.CancelFunc
}

// Record is an immutable terminal outcome.
type Record struct {
	ID          uint64
	Key         string
	Priority    string
	CompletedAt time.Time
	Duration    time.Duration
	Status      Status
}

// EventKind distinguishes the notifications emitted by the registry.
type EventKind int

const (
	StatusChanged EventKind = iota + 1
	ProgressChanged
	Finished
	Removed
)

// Event describes one observable change. Prev is the status before a
// StatusChanged event and is empty for newly added tasks. Record is set for
// Finished only.
type Event struct {
	Kind     EventKind
	Key      string
	Status   Status
	Prev     Status
	Progress int
	Record   Record
}

// Config configures a Registry.
type Config struct {
	// Now returns the current time; defaults to time.Now.
	Now func() time.Time
	// HistoryLimit caps retained history records; 0 keeps everything.
	HistoryLimit int
	// OnEvent is invoked with the registry lock held and must not block.
	OnEvent func(Event)
	// NewRunID labels each attempt; attempts are unlabeled when nil.
	NewRunID func() string
}

// Attempt is one execution of a task body. Done must be called once the body
// has returned.
type Attempt struct {
	Entry  Entry
	Ticket uint64
	Ctx    context.Context
	Done   func()
}

// Registry owns the active task map, the history and both control sets.
// A single mutex guards all of them so that every transition is atomic.
type Registry struct {
	mu       sync.Mutex
	q        Queue
	cfg      Config
	active   map[string]*Entry
	history  []Record
	paused   map[string]pauseCause
	canceled map[string]struct{}
	bodies   map[string]chan struct{}
	nextID   uint64
	tickets  uint64
	halted   bool
}

// New creates a registry that drives q. It starts halted: Claim rejects keys until Open.
func New(q Queue, cfg Config) *Registry {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.OnEvent == nil {
		cfg.OnEvent = func(Event) {}
	}
	return &Registry{
		q:        q,
		cfg:      cfg,
		active:   make(map[string]*Entry),
		paused:   make(map[string]pauseCause),
		canceled: make(map[string]struct{}),
		bodies:   make(map[string]chan struct{}),
		halted:   true,
	}
}

// Add registers a new Queued task and puts it on the queue.
func (r *Registry) Add(key string, rank int, priority string, size int64, modTime time.Time) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[key]; ok {
		return Entry{}, ErrDuplicate
	}
	r.nextID++
	e := &Entry{
		ID:         r.nextID,
		Key:        key,
		Rank:       rank,
		Priority:   priority,
		Status:     Queued,
		Size:       size,
		ModTime:    modTime,
		EnqueuedAt: r.cfg.Now(),
	}
	r.active[key] = e
	r.q.Put(key, rank, e.ID)
	r.cfg.OnEvent(Event{Kind: StatusChanged, Key: key, Status: Queued})
	return *e, nil
}

// Claim is called by a dispatcher for a dequeued key. It returns a ticket that
// must be presented to Begin, or false when the key must be dropped. A Queued
// key dequeued while halted is paused the way Halt pauses it, so Open re-queues it.
func (r *Registry) Claim(key string) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.active[key]
	if !ok || e.Status != Queued {
		return 0, false
	}
	if _, c := r.canceled[key]; c {
		return 0, false
	}
	if _, p := r.paused[key]; p {
		return 0, false
	}
	if r.halted {
		r.paused[key] = causeStop
		r.status(e, Paused)
		return 0, false
	}
	r.tickets++
	e.ticket = r.tickets
	return e.ticket, true
}

// Begin moves a claimed task to Processing. It fails when the task was paused,
// canceled, halted or re-claimed since Claim returned ticket, or when parent
// ends first. While an earlier body for the same key is still running, Begin
// waits for it to return, so at most one body per key runs at a time.
func (r *Registry) Begin(parent context.Context, key string, ticket uint64) (Attempt, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		prev, busy := r.bodies[key]
		if !busy {
			break
		}
		r.mu.Unlock()
		select {
		case <-prev:
		case <-parent.Done():
		}
		r.mu.Lock()
		if parent.Err() != nil {
			return Attempt{}, false
		}
	}
	e, ok := r.active[key]
	if !ok || r.halted || e.ticket != ticket || e.Status != Queued {
		return Attempt{}, false
	}
	if _, c := r.canceled[key]; c {
		return Attempt{}, false
	}
	if _, p := r.paused[key]; p {
		return Attempt{}, false
	}
	ctx, cancel := context.WithCancel(parent)
	e.cancel = cancel
	e.StartedAt = r.cfg.Now()
	e.Progress = 0
	if r.cfg.NewRunID != nil {
		e.RunID = r.cfg.NewRunID()
	}
	body := make(chan struct{})
	r.bodies[key] = body
	r.status(e, Processing)
	r.progress(e, 0)
	return Attempt{Entry: *e, Ticket: ticket, Ctx: ctx, Done: func() { r.release(key, body) }}, true
}

func (r *Registry) release(key string, body chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bodies[key] == body {
		delete(r.bodies, key)
		close(body)
	}
}

// Progress records p for the attempt identified by ticket. It returns false
// when the attempt is no longer current and the body should stop.
func (r *Registry) Progress(key string, ticket uint64, p int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.current(key, ticket)
	if !ok {
		return false
	}
	if p < 0 {
		p = 0
	} else if p > 100 {
		p = 100
	}
	if p != e.Progress {
		e.Progress = p
		r.progress(e, p)
	}
	return true
}

// Check reports whether the attempt may keep running.
func (r *Registry) Check(key string, ticket uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.active[key]
	if !ok {
		return ErrCanceled
	}
	if _, c := r.canceled[key]; c {
		return ErrCanceled
	}
	if cause, p := r.paused[key]; p {
		if cause == causeStop {
			return ErrStopped
		}
		return ErrPaused
	}
	if e.ticket != ticket || e.Status != Processing {
		return ErrPaused
	}
	return nil
}

// Complete applies the outcome of the attempt identified by ticket. Outcomes of
// superseded, paused or canceled attempts are ignored; cancellation is
// finalized by FinalizeCanceled.
func (r *Registry) Complete(key string, ticket uint64, err error) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.current(key, ticket)
	if !ok {
		return Record{}, false
	}
	if err != nil {
		return r.finish(e, Failed), true
	}
	if e.Progress != 100 {
		e.Progress = 100
		r.progress(e, 100)
	}
	return r.finish(e, Completed), true
}

func (r *Registry) current(key string, ticket uint64) (*Entry, bool) {
	e, ok := r.active[key]
	if !ok || e.ticket != ticket || e.Status != Processing {
		return nil, false
	}
	if _, c := r.canceled[key]; c {
		return nil, false
	}
	if _, p := r.paused[key]; p {
		return nil, false
	}
	return e, true
}

// Pause marks a Queued or Processing task paused. A task paused by Halt is
// re-marked as paused by the user so Open leaves it alone.
func (r *Registry) Pause(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.active[key]
	if !ok {
		return ErrNotFound
	}
	if _, c := r.canceled[key]; c {
		return ErrIllegalTransition
	}
	switch e.Status {
	case Queued:
		r.q.Remove(key)
	case Processing:
		e.abort()
	case Paused:
		if r.paused[key] == causeStop {
			r.paused[key] = causeUser
			return nil
		}
		return ErrIllegalTransition
	default:
		return ErrIllegalTransition
	}
	r.paused[key] = causeUser
	r.status(e, Paused)
	return nil
}

// Resume re-queues a paused task with its original rank and id.
// Progress restarts from zero on the next attempt.
func (r *Registry) Resume(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resume(key)
}

func (r *Registry) resume(key string) error {
	e, ok := r.active[key]
	if !ok {
		return ErrNotFound
	}
	if _, c := r.canceled[key]; c {
		return ErrIllegalTransition
	}
	if _, p := r.paused[key]; !p || e.Status != Paused {
		return ErrIllegalTransition
	}
	delete(r.paused, key)
	e.Progress = 0
	e.ticket = 0
	r.q.Put(key, e.Rank, e.ID)
	r.status(e, Queued)
	return nil
}

// Cancel marks a task canceled and moves it to Cancelling. The caller is
// expected to call FinalizeCanceled after a grace delay.
func (r *Registry) Cancel(key string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.active[key]
	if !ok {
		return 0, ErrNotFound
	}
	if _, c := r.canceled[key]; c {
		return 0, ErrIllegalTransition
	}
	switch e.Status {
	case Queued, Processing, Paused:
	default:
		return 0, ErrIllegalTransition
	}
	r.canceled[key] = struct{}{}
	delete(r.paused, key)
	r.q.Remove(key)
	e.abort()
	r.status(e, Cancelling)
	return e.ID, nil
}

// FinalizeCanceled moves a Cancelling task with the given id to history.
func (r *Registry) FinalizeCanceled(key string, id uint64) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.active[key]
	if !ok || e.ID != id {
		return Record{}, false
	}
	if _, c := r.canceled[key]; !c {
		return Record{}, false
	}
	return r.finish(e, Canceled), true
}

// FinalizeAllCanceled finalizes every Cancelling task immediately.
func (r *Registry) FinalizeAllCanceled() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.sortedLocked() {
		if _, c := r.canceled[e.Key]; c {
			r.finish(e, Canceled)
			n++
		}
	}
	return n
}

// Halt stops Claim and Begin from admitting work, pauses every Queued task and
// interrupts every Processing attempt. Tasks paused here are resumed by Open.
func (r *Registry) Halt() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.halted = true
	n := 0
	for _, e := range r.sortedLocked() {
		if _, c := r.canceled[e.Key]; c {
			continue
		}
		if _, p := r.paused[e.Key]; p {
			continue
		}
		switch e.Status {
		case Queued:
			r.q.Remove(e.Key)
		case Processing:
			e.abort()
		default:
			continue
		}
		r.paused[e.Key] = causeStop
		r.status(e, Paused)
		n++
	}
	return n
}

// Open admits work again and re-queues the tasks paused by Halt.
func (r *Registry) Open() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.halted = false
	n := 0
	for _, e := range r.sortedLocked() {
		if r.paused[e.Key] != causeStop {
			continue
		}
		if r.resume(e.Key) == nil {
			n++
		}
	}
	return n
}

// Clear discards every Queued and Paused task without creating history.
func (r *Registry) Clear() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for _, e := range r.sortedLocked() {
		if e.Status != Queued && e.Status != Paused {
			continue
		}
		if _, c := r.canceled[e.Key]; c {
			continue
		}
		r.q.Remove(e.Key)
		e.abort()
		delete(r.active, e.Key)
		delete(r.paused, e.Key)
		removed = append(removed, e.Key)
		r.cfg.OnEvent(Event{Kind: Removed, Key: e.Key, Status: e.Status})
	}
	return removed
}

// Get returns a snapshot of the active task with the given key.
func (r *Registry) Get(key string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.active[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Active returns snapshots of all active tasks ordered by id.
func (r *Registry) Active() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	sorted := r.sortedLocked()
	out := make([]Entry, len(sorted))
	for i, e := range sorted {
		out[i] = *e
	}
	return out
}

// History returns a copy of the history in completion order.
func (r *Registry) History() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.history))
	copy(out, r.history)
	return out
}

// Counts returns the number of active tasks per status and the history length.
func (r *Registry) Counts() (map[Status]int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := make(map[Status]int, 4)
	for _, e := range r.active {
		m[e.Status]++
	}
	return m, len(r.history)
}

// Busy reports the number of tasks that will reach a terminal state without
// further user action: Queued, Processing and Cancelling.
func (r *Registry) Busy() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.active {
		switch e.Status {
		case Queued, Processing, Cancelling:
			n++
		}
	}
	return n
}

func (r *Registry) sortedLocked() []*Entry {
	out := make([]*Entry, 0, len(r.active))
	for _, e := range r.active {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// finish removes e from the active map and appends its history record in one step.
func (r *Registry) finish(e *Entry, st Status) Record {
	now := r.cfg.Now()
	start := e.StartedAt
	if start.IsZero() {
		start = e.EnqueuedAt
	}
	rec := Record{
		ID:          e.ID,
		Key:         e.Key,
		Priority:    e.Priority,
		CompletedAt: now,
		Duration:    now.Sub(start),
		Status:      st,
	}
	e.abort()
	delete(r.active, e.Key)
	delete(r.paused, e.Key)
	delete(r.canceled, e.Key)
	r.history = append(r.history, rec)
	if r.cfg.HistoryLimit > 0 && len(r.history) > r.cfg.HistoryLimit {
		r.history = append(r.history[:0:0], r.history[len(r.history)-r.cfg.HistoryLimit:]...)
	}
	prev := e.Status
	e.Status = st
	r.cfg.OnEvent(Event{Kind: StatusChanged, Key: e.Key, Status: st, Prev: prev})
	r.cfg.OnEvent(Event{Kind: Finished, Key: e.Key, Status: st, Record: rec})
	return rec
}

func (r *Registry) status(e *Entry, st Status) {
	prev := e.Status
	e.Status = st
	r.cfg.OnEvent(Event{Kind: StatusChanged, Key: e.Key, Status: st, Prev: prev})
}

func (r *Registry) progress(e *Entry, p int) {
	r.cfg.OnEvent(Event{Kind: ProgressChanged, Key: e.Key, Status: e.Status, Progress: p})
}

func (e *Entry) abort() {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}
