package fileq

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/UniQw/fileq/internal/hctx"
	"github.com/UniQw/fileq/internal/notify"
	"github.com/UniQw/fileq/internal/pq"
	"github.com/UniQw/fileq/internal/registry"
	rtm "github.com/UniQw/fileq/internal/runtime"
	"github.com/google/uuid"
)

// Engine runs file tasks in priority order on a bounded pool and lets callers
// pause, resume and cancel them while they run.
type Engine struct {
	name    string
	opts    options
	log     Logger
	q       *pq.Queue
	reg     *registry.Registry
	rt      *rtm.Runtime
	events  *notify.Mailbox[registry.Event]
	records *notify.Mailbox[HistoryRecord]

	mu      sync.Mutex
	running bool
	closed  bool

	tmu    sync.Mutex
	timers map[uint64]*time.Timer
}

// New creates a stopped engine. Call Start to begin dispatching.
func New(opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = NewFmtLogger()
	}
	if o.name == "" {
		o.name = uuid.NewString()
	}
	if o.handler == nil {
		o.handler = SimulatedWork(defaultSteps, defaultStepInterval)
	}

	e := &Engine{
		name:   o.name,
		opts:   o,
		log:    o.logger,
		q:      pq.New(),
		timers: make(map[uint64]*time.Timer),
	}
	if o.listener != nil {
		e.events = notify.New(e.notifyListener)
	}
	if o.sink != nil {
		e.records = notify.New(e.writeRecord)
	}
	e.reg = registry.New(e.q, registry.Config{
		Now:          o.clock.Now,
		HistoryLimit: o.historyLimit,
		OnEvent:      e.onEvent,
		NewRunID:     uuid.NewString,
	})
	e.rt = rtm.New(e.q, rtm.Config{
		Workers:      o.workers,
		ExecutorSize: o.executorSize,
		PollInterval: o.pollInterval,
		Logger:       rtLogger{Logger: e.log},
	}, e.claim)
	if o.metrics != nil {
		o.metrics.bindQueue(e.q.Len)
	}
	return e
}

// Name returns the engine name.
func (e *Engine) Name() string { return e.name }

// Enqueue registers key with priority p and returns its task id. Unknown
// priorities are treated as Medium. It returns ErrDuplicateTask while a task
// with the same key is active. File metadata is best effort: a missing file
// is enqueued with size 0 and a zero modification time.
func (e *Engine) Enqueue(key string, p Priority) (uint64, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	p = PriorityOf(string(p))

	var size int64
	var mod time.Time
	if fi, err := os.Stat(key); err == nil {
		size, mod = fi.Size(), fi.ModTime()
	} else {
		e.log.Debugf("enqueue: stat failed key=%s err=%v", key, err)
	}

	ent, err := e.reg.Add(key, p.Rank(), p.String(), size, mod)
	if err != nil {
		if errors.Is(err, ErrDuplicateTask) {
			e.log.Warnf("enqueue: duplicate task ignored key=%s", key)
		}
		return 0, err
	}
	if m := e.opts.metrics; m != nil {
		m.taskEnqueued(p)
	}
	e.log.Debugf("enqueued: id=%d key=%s priority=%s", ent.ID, key, p)
	return ent.ID, nil
}

// EnqueueAll enqueues every key with priority p, skipping duplicates, and
// returns the ids of the added tasks in input order.
func (e *Engine) EnqueueAll(keys []string, p Priority) ([]uint64, error) {
	ids := make([]uint64, 0, len(keys))
	for _, k := range keys {
		id, err := e.Enqueue(k, p)
		if errors.Is(err, ErrDuplicateTask) {
			continue
		}
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Start launches the dispatchers and re-queues the tasks paused by Stop.
// It is idempotent and non-blocking.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		e.log.Warnf("engine closed; ignoring Start()")
		return
	}
	if e.running {
		e.log.Warnf("engine already started; ignoring Start()")
		return
	}
	e.running = true
	resumed := e.reg.Open()
	e.log.Infof("starting engine: name=%s workers=%d executor=%d resumed=%d", e.name, e.rt.CfgWorkers(), e.rt.CfgExecutorSize(), resumed)
	e.rt.Start()
}

// Stop halts dispatching. Queued tasks and running attempts become Paused and
// are picked up again by the next Start; interrupted attempts restart from 0%.
// Stop does not wait for task bodies to return.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		e.log.Warnf("engine not started; ignoring Stop()")
		return
	}
	e.running = false
	paused := e.reg.Halt()
	e.rt.Stop()
	e.log.Infof("engine stopped: name=%s paused=%d", e.name, paused)
}

// Running reports whether the engine is dispatching.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Control applies a pause, resume or cancel request to the task with key.
// Illegal requests are logged and returned; they never affect other tasks.
func (e *Engine) Control(key string, action Action) error {
	var err error
	switch action {
	case ActionPause:
		err = e.reg.Pause(key)
	case ActionResume:
		err = e.reg.Resume(key)
	case ActionCancel:
		var id uint64
		id, err = e.reg.Cancel(key)
		if err == nil {
			e.finalizeLater(key, id)
		}
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if err != nil {
		e.log.Warnf("control ignored: key=%s action=%s err=%v", key, action, err)
		return err
	}
	e.log.Debugf("control applied: key=%s action=%s", key, action)
	return nil
}

// ClearQueue discards every Queued and Paused task without recording history.
// It returns ErrPrecondition while the engine is running.
func (e *Engine) ClearQueue() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		e.log.Warnf("clear queue rejected: engine is running")
		return 0, ErrPrecondition
	}
	removed := e.reg.Clear()
	e.log.Infof("queue cleared: removed=%d", len(removed))
	return len(removed), nil
}

// ExportHistory returns the finished tasks in completion order.
func (e *Engine) ExportHistory() []HistoryRecord {
	recs := e.reg.History()
	out := make([]HistoryRecord, len(recs))
	for i, r := range recs {
		out[i] = toRecord(r)
	}
	return out
}

// Tasks returns snapshots of all active tasks ordered by id.
func (e *Engine) Tasks() []Task {
	ents := e.reg.Active()
	out := make([]Task, len(ents))
	for i, ent := range ents {
		out[i] = toTask(ent)
	}
	return out
}

// Task returns a snapshot of the active task with key.
func (e *Engine) Task(key string) (Task, bool) {
	ent, ok := e.reg.Get(key)
	if !ok {
		return Task{}, false
	}
	return toTask(ent), true
}

// Stats counts active tasks per status and finished tasks.
func (e *Engine) Stats() Stats {
	m, finished := e.reg.Counts()
	return Stats{
		Queued:     m[registry.Queued],
		Processing: m[registry.Processing],
		Paused:     m[registry.Paused],
		Cancelling: m[registry.Cancelling],
		Finished:   finished,
	}
}

// Wait blocks until no task is Queued, Processing or Cancelling and every
// notification has been delivered, or until ctx is done. Paused tasks do not
// keep Wait blocked; Queued tasks do even while the engine is stopped.
func (e *Engine) Wait(ctx context.Context) error {
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for e.reg.Busy() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	e.sync()
	return nil
}

// Close stops the engine, interrupts running attempts, finalizes pending
// cancellations and flushes notifications. It waits for task bodies to return
// until ctx is done. Close is idempotent.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	wasRunning := e.running
	e.running = false
	e.reg.Halt()
	if wasRunning {
		e.rt.Stop()
	}
	e.mu.Unlock()

	err := e.rt.Drain(ctx)
	e.rt.Close()

	e.tmu.Lock()
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
	e.tmu.Unlock()
	if n := e.reg.FinalizeAllCanceled(); n > 0 {
		e.log.Debugf("close: finalized %d canceled tasks", n)
	}

	if e.events != nil {
		e.events.Close()
	}
	if e.records != nil {
		e.records.Close()
	}
	e.log.Infof("engine closed: name=%s", e.name)
	return err
}

func (e *Engine) sync() {
	if e.events != nil {
		e.events.Sync()
	}
	if e.records != nil {
		e.records.Sync()
	}
}

func (e *Engine) finalizeLater(key string, id uint64) {
	if e.opts.cancelGrace <= 0 {
		e.reg.FinalizeCanceled(key, id)
		return
	}
	e.tmu.Lock()
	defer e.tmu.Unlock()
	e.timers[id] = time.AfterFunc(e.opts.cancelGrace, func() {
		e.tmu.Lock()
		delete(e.timers, id)
		e.tmu.Unlock()
		e.reg.FinalizeCanceled(key, id)
	})
}

// claim is called by a dispatcher for every dequeued key.
func (e *Engine) claim(key string) (func(context.Context), bool) {
	ticket, ok := e.reg.Claim(key)
	if !ok {
		return nil, false
	}
	return func(ctx context.Context) { e.execute(ctx, key, ticket) }, true
}

func (e *Engine) execute(ctx context.Context, key string, ticket uint64) {
	att, ok := e.reg.Begin(ctx, key, ticket)
	if !ok {
		e.log.Debugf("attempt not started: key=%s", key)
		return
	}
	defer att.Done()
	task := toTask(att.Entry)
	if m := e.opts.metrics; m != nil {
		m.taskStarted(task.Priority)
	}
	st := hctx.New(task.RunID, key,
		func(p int) bool { return e.reg.Progress(key, att.Ticket, p) },
		func() error { return e.reg.Check(key, att.Ticket) },
	)

	err := e.run(hctx.WithState(att.Ctx, st), task)

	rec, ok := e.reg.Complete(key, att.Ticket, err)
	if !ok {
		e.log.Debugf("attempt superseded: key=%s run=%s err=%v", key, task.RunID, err)
		return
	}
	if err != nil {
		e.log.Warnf("task failed: id=%d key=%s run=%s err=%v", task.ID, key, task.RunID, err)
		return
	}
	e.log.Debugf("processed: id=%d key=%s run=%s duration=%s", task.ID, key, task.RunID, rec.Duration)
}

// run isolates the handler: a panic fails the task, never the pool.
func (e *Engine) run(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fileq: handler panic: %v", r)
		}
	}()
	return e.opts.handler(ctx, t)
}

// onEvent runs with the registry lock held and must not block.
func (e *Engine) onEvent(ev registry.Event) {
	if m := e.opts.metrics; m != nil {
		switch ev.Kind {
		case registry.StatusChanged:
			m.transition(Status(ev.Prev), Status(ev.Status))
		case registry.Removed:
			m.transition(Status(ev.Status), "")
		case registry.Finished:
			m.taskFinished(toRecord(ev.Record))
		}
	}
	if e.events != nil {
		e.events.Push(ev)
	}
	if e.records != nil && ev.Kind == registry.Finished {
		e.records.Push(toRecord(ev.Record))
	}
}

func (e *Engine) notifyListener(ev registry.Event) {
	l := e.opts.listener
	switch ev.Kind {
	case registry.StatusChanged:
		l.StatusChanged(ev.Key, Status(ev.Status))
	case registry.ProgressChanged:
		l.ProgressChanged(ev.Key, ev.Progress)
	case registry.Finished:
		l.TaskFinished(ev.Key, toRecord(ev.Record))
	case registry.Removed:
		l.TaskRemoved(ev.Key)
	}
}

func (e *Engine) writeRecord(rec HistoryRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.opts.sink.Record(ctx, rec); err != nil {
		e.log.Warnf("history sink failed: id=%d key=%s err=%v", rec.ID, rec.Key, err)
	}
}

func toTask(ent registry.Entry) Task {
	return Task{
		ID:         ent.ID,
		Key:        ent.Key,
		Priority:   Priority(ent.Priority),
		Status:     Status(ent.Status),
		Progress:   ent.Progress,
		Size:       ent.Size,
		ModTime:    ent.ModTime,
		EnqueuedAt: ent.EnqueuedAt,
		StartedAt:  ent.StartedAt,
		RunID:      ent.RunID,
	}
}

func toRecord(r registry.Record) HistoryRecord {
	return HistoryRecord{
		ID:          r.ID,
		Key:         r.Key,
		Priority:    Priority(r.Priority),
		CompletedAt: r.CompletedAt,
		Duration:    r.Duration,
		Status:      Status(r.Status),
	}
}
