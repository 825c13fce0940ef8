package agent

import (
	"log/slog"
	"runtime/debug"
	"sync"

	"aibridge/internal/domain"
	"aibridge/internal/metrics"
)

// Queue is a FIFO of inbound messages drained by at most one consumer.
// Push starts the consumer when none is running; the consumer exits once
// the queue is empty.
type Queue struct {
	handle func(domain.InboundMessage)
	logger *slog.Logger

	mu       sync.Mutex
	items    []domain.InboundMessage
	draining bool
	closed   bool
	idle     chan struct{} // closed while no consumer runs
}

func NewQueue(handle func(domain.InboundMessage), logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	idle := make(chan struct{})
	close(idle)
	return &Queue{handle: handle, logger: logger, idle: idle}
}

// Push appends msgs in order and makes sure a consumer is draining them.
func (q *Queue) Push(msgs ...domain.InboundMessage) {
	if len(msgs) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("queue closed, dropping messages", "count", len(msgs))
		return
	}
	q.items = append(q.items, msgs...)
	metrics.QueueDepth.Set(int64(len(q.items)))
	if q.draining {
		return
	}
	q.draining = true
	q.idle = make(chan struct{})
	go q.drain(q.idle)
}

func (q *Queue) drain(idle chan struct{}) {
	for {
		q.mu.Lock()
		if q.closed || len(q.items) == 0 {
			q.draining = false
			close(idle)
			q.mu.Unlock()
			return
		}
		msg := q.items[0]
		q.items = q.items[1:]
		metrics.QueueDepth.Set(int64(len(q.items)))
		q.mu.Unlock()

		q.run(msg)
	}
}

func (q *Queue) run(msg domain.InboundMessage) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("message handler panicked", "message_id", msg.ID, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	q.handle(msg)
}

// Idle returns a channel that is closed when no consumer is running.
func (q *Queue) Idle() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.idle
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the consumer after the message in flight and drops the rest.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	if n := len(q.items); n > 0 {
		q.logger.Warn("dropping queued messages on shutdown", "count", n)
	}
	q.items = nil
	metrics.QueueDepth.Set(0)
}
