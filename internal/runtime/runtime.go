package runtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/UniQw/fileq/internal/pq"
)

// Logger is a minimal logging interface used internally by the runtime.
// It mirrors the public logger in the root package to avoid an import cycle.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...any) {}
func (noopLogger) Infof(string, ...any)  {}
func (noopLogger) Warnf(string, ...any)  {}
func (noopLogger) Errorf(string, ...any) {}

type Config struct {
	// Workers is the number of dispatcher goroutines.
	Workers int
	// ExecutorSize bounds the number of task bodies running at once.
	ExecutorSize int
	// PollInterval is how long a dispatcher waits on an empty queue before
	// re-checking for shutdown.
	PollInterval time.Duration
	Logger       Logger
}

// Source is the queue the dispatchers drain.
type Source interface {
	Get(ctx context.Context, timeout time.Duration) (string, error)
	TaskDone() error
}

// Claim resolves a dequeued key into a task body. It returns false when the
// key must be dropped (paused, canceled or gone).
type Claim func(key string) (run func(ctx context.Context), ok bool)

type Runtime struct {
	src     Source
	claim   Claim
	cfg     Config
	exec    *Executor
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	log     Logger
}

// New creates a runtime that dispatches keys from src. Nothing runs until Start.
func New(src Source, cfg Config, claim Claim) *Runtime {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ExecutorSize <= 0 {
		cfg.ExecutorSize = cfg.Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	lg := cfg.Logger
	if lg == nil {
		lg = noopLogger{}
	}
	return &Runtime{
		src:   src,
		claim: claim,
		cfg:   cfg,
		exec:  NewExecutor(cfg.ExecutorSize),
		log:   lg,
	}
}

// Start launches the dispatchers. A runtime may be started again after Stop.
func (rt *Runtime) Start() {
	rt.mu.Lock()
	if rt.started {
		rt.log.Warnf("runtime already started; ignoring Start()")
		rt.mu.Unlock()
		return
	}
	rt.started = true
	rt.ctx, rt.cancel = context.WithCancel(context.Background())
	ctx := rt.ctx
	rt.mu.Unlock()
	rt.log.Infof("runtime starting: workers=%d executor=%d", rt.cfg.Workers, rt.cfg.ExecutorSize)

	for i := 0; i < rt.cfg.Workers; i++ {
		rt.wg.Add(1)
		go func(id int) {
			defer rt.wg.Done()
			rt.dispatchLoop(ctx, id)
		}(i)
	}
}

// Stop cancels the dispatchers and waits for them to exit. Task bodies already
// submitted observe the canceled context but are not waited for; use Drain.
func (rt *Runtime) Stop() {
	rt.mu.Lock()
	if !rt.started {
		rt.log.Warnf("runtime not started; ignoring Stop()")
		rt.mu.Unlock()
		return
	}
	rt.started = false
	cancel := rt.cancel
	rt.mu.Unlock()
	rt.log.Infof("runtime stopping")

	cancel()
	rt.wg.Wait()
}

// Drain waits until every submitted body has returned or ctx is done.
func (rt *Runtime) Drain(ctx context.Context) error {
	return rt.exec.Wait(ctx)
}

// Close releases the executor. The runtime must be stopped first.
func (rt *Runtime) Close() { rt.exec.Close() }

// Running reports whether the dispatchers are active.
func (rt *Runtime) Running() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.started
}

// InFlight returns the number of bodies submitted and not yet returned.
func (rt *Runtime) InFlight() int { return rt.exec.InFlight() }

func (rt *Runtime) dispatchLoop(ctx context.Context, id int) {
	for {
		key, err := rt.src.Get(ctx, rt.cfg.PollInterval)
		if err != nil {
			if errors.Is(err, pq.ErrEmpty) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			rt.log.Errorf("dispatcher %d: get failed err=%v", id, err)
			continue
		}
		rt.dispatch(ctx, id, key)
		if err := rt.src.TaskDone(); err != nil {
			rt.log.Warnf("dispatcher %d: task done failed key=%s err=%v", id, key, err)
		}
	}
}

func (rt *Runtime) dispatch(ctx context.Context, id int, key string) {
	run, ok := rt.claim(key)
	if !ok {
		rt.log.Debugf("dispatcher %d: dropped key=%s", id, key)
		return
	}
	rt.exec.Submit(ctx, run)
	rt.log.Debugf("dispatcher %d: submitted key=%s", id, key)
}

// CfgWorkers exposes configured dispatcher count.
func (rt *Runtime) CfgWorkers() int { return rt.cfg.Workers }

// CfgExecutorSize exposes configured executor capacity.
func (rt *Runtime) CfgExecutorSize() int { return rt.cfg.ExecutorSize }
