package fileq

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes engine activity as Prometheus collectors.
type Metrics struct {
	enqueued *prometheus.CounterVec
	started  *prometheus.CounterVec
	finished *prometheus.CounterVec
	duration *prometheus.HistogramVec
	tasks    *prometheus.GaugeVec
	depth    prometheus.GaugeFunc

	depthFn atomic.Pointer[func() int]
}

// NewMetrics creates the collectors under the given namespace ("fileq" when empty).
// Call Register to expose them.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "fileq"
	}
	m := &Metrics{
		enqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_enqueued_total",
				Help:      "Tasks accepted by Enqueue.",
			},
			[]string{"priority"},
		),
		started: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_started_total",
				Help:      "Task attempts moved to Processing.",
			},
			[]string{"priority"},
		),
		finished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_finished_total",
				Help:      "Tasks that reached a terminal status.",
			},
			[]string{"status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Duration of the last attempt of finished tasks.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		tasks: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tasks",
				Help:      "Active tasks by status.",
			},
			[]string{"status"},
		),
	}
	m.depth = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Entries waiting in the priority queue.",
		},
		func() float64 {
			if f := m.depthFn.Load(); f != nil {
				return float64((*f)())
			}
			return 0
		},
	)
	return m
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// MustRegister is like Register but panics on error.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.collectors()...)
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.enqueued, m.started, m.finished, m.duration, m.tasks, m.depth}
}

func (m *Metrics) bindQueue(depth func() int) { m.depthFn.Store(&depth) }

func (m *Metrics) taskEnqueued(p Priority) { m.enqueued.WithLabelValues(p.String()).Inc() }

func (m *Metrics) taskStarted(p Priority) { m.started.WithLabelValues(p.String()).Inc() }

func (m *Metrics) transition(prev, next Status) {
	if prev != "" {
		m.tasks.WithLabelValues(prev.String()).Dec()
	}
	if next != "" && !next.IsTerminal() {
		m.tasks.WithLabelValues(next.String()).Inc()
	}
}

func (m *Metrics) taskFinished(rec HistoryRecord) {
	m.finished.WithLabelValues(rec.Status.String()).Inc()
	m.duration.WithLabelValues(rec.Status.String()).Observe(rec.Duration.Seconds())
}
