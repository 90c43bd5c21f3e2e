package bus

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrQueueClosed = errors.New("queue is closed")
	ErrQueueFull   = errors.New("queue is full")
)

// Queue is the FIFO of messages waiting for the worker. Enqueue and Dequeue
// may be called from different goroutines; the queue owns each message until
// it is dequeued.
type Queue struct {
	maxPending int
	wake       chan struct{}

	mu      sync.Mutex
	pending []InboundMessage
	closed  bool
}

// NewQueue returns an empty queue. maxPending <= 0 means unbounded.
func NewQueue(maxPending int) *Queue {
	return &Queue{
		maxPending: maxPending,
		wake:       make(chan struct{}, 1),
	}
}

// Enqueue appends msg behind every message already queued.
func (q *Queue) Enqueue(msg InboundMessage) error {
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.maxPending > 0 && len(q.pending) >= q.maxPending {
		return ErrQueueFull
	}

	q.pending = append(q.pending, msg)

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue removes and returns the oldest message.
func (q *Queue) Dequeue() (InboundMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return InboundMessage{}, false
	}

	msg := q.pending[0]
	q.pending[0] = InboundMessage{}
	q.pending = q.pending[1:]
	if len(q.pending) == 0 {
		q.pending = nil
	}
	return msg, true
}

// Len reports how many messages are waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.pending)
}

// Wake receives a value after an Enqueue. Signals coalesce; a receiver
// should drain until Dequeue reports empty.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

// Close rejects further enqueues. Messages already queued can still be dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
}
