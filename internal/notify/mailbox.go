package notify

import "sync"

// Mailbox hands values from any number of producers to a single consumer
// goroutine. Push never blocks; values are delivered in push order.
type Mailbox[T any] struct {
	mu        sync.Mutex
	cond      *sync.Cond
	buf       []T
	pushed    uint64
	delivered uint64
	closed    bool
	finished  bool
	done      chan struct{}
}

// New starts a mailbox whose consumer calls deliver for every value.
func New[T any](deliver func(T)) *Mailbox[T] {
	m := &Mailbox[T]{done: make(chan struct{})}
	m.cond = sync.NewCond(&m.mu)
	go m.run(deliver)
	return m
}

// Push enqueues v. Values pushed after Close are dropped.
func (m *Mailbox[T]) Push(v T) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.buf = append(m.buf, v)
	m.pushed++
	m.mu.Unlock()
	m.cond.Broadcast()
}

// Sync blocks until every value pushed before the call has been delivered.
func (m *Mailbox[T]) Sync() {
	m.mu.Lock()
	target := m.pushed
	for m.delivered < target && !m.finished {
		m.cond.Wait()
	}
	m.mu.Unlock()
}

// Close delivers the remaining values and stops the consumer.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		<-m.done
		return
	}
	m.closed = true
	m.mu.Unlock()
	m.cond.Broadcast()
	<-m.done
}

// Pending returns the number of values waiting for delivery.
func (m *Mailbox[T]) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buf)
}

func (m *Mailbox[T]) run(deliver func(T)) {
	defer close(m.done)
	for {
		m.mu.Lock()
		for len(m.buf) == 0 && !m.closed {
			m.cond.Wait()
		}
		if len(m.buf) == 0 && m.closed {
			m.finished = true
			m.mu.Unlock()
			m.cond.Broadcast()
			return
		}
		batch := m.buf
		m.buf = nil
		m.mu.Unlock()

		for _, v := range batch {
			deliver(v)
		}

		m.mu.Lock()
		m.delivered += uint64(len(batch))
		m.mu.Unlock()
		m.cond.Broadcast()
	}
}
