package fileq

import "time"

const (
	defaultWorkers      = 4
	defaultExecutorSize = 4
	defaultPollInterval = 100 * time.Millisecond
	defaultCancelGrace  = 500 * time.Millisecond
)

type options struct {
	name         string
	workers      int
	executorSize int
	pollInterval time.Duration
	cancelGrace  time.Duration
	historyLimit int
	logger       Logger
	listener     Listener
	sink         HistorySink
	metrics      *Metrics
	handler      HandlerFunc
	clock        Clock
}

func defaultOptions() options {
	return options{
		workers:      defaultWorkers,
		executorSize: defaultExecutorSize,
		pollInterval: defaultPollInterval,
		cancelGrace:  defaultCancelGrace,
		clock:        realClock{},
	}
}

// Option is a function that configures an Engine in New.
type Option func(*options)

// Name sets the engine name used in logs. If not provided, a random UUID is generated.
func Name(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// Workers sets the number of dispatcher goroutines.
func Workers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// ExecutorSize bounds how many task bodies run at once, independently of Workers.
func ExecutorSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.executorSize = n
		}
	}
}

// PollInterval sets how long an idle dispatcher waits on the queue per poll.
func PollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// CancelGrace sets the delay between the Cancelling and Canceled statuses.
// A zero value finalizes cancellation immediately.
func CancelGrace(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.cancelGrace = d
		}
	}
}

// HistoryLimit caps the in-memory history; the oldest records are dropped first.
// A dropped task is then in neither Tasks nor ExportHistory, so callers that need
// every outcome should use a Listener or a HistorySink. Zero or negative keeps
// every record.
func HistoryLimit(n int) Option {
	return func(o *options) {
		o.historyLimit = n
	}
}

// WithLogger sets the logger. Defaults to FmtLogger.
func WithLogger(l Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithListener receives status, progress and completion notifications.
// Calls are made from a single goroutine in the order the changes happened.
func WithListener(l Listener) Option {
	return func(o *options) {
		o.listener = l
	}
}

// WithHistorySink additionally writes every history record to s.
func WithHistorySink(s HistorySink) Option {
	return func(o *options) {
		o.sink = s
	}
}

// WithMetrics records engine activity into m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithHandler sets the task body. Defaults to SimulatedWork with default settings.
func WithHandler(h HandlerFunc) Option {
	return func(o *options) {
		o.handler = h
	}
}

// WithMux routes task bodies through m.
func WithMux(m *Mux) Option {
	return func(o *options) {
		if m != nil {
			o.handler = m.Dispatch
		}
	}
}

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}
