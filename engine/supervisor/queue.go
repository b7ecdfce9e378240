package supervisor

import (
	"context"
	"errors"

	"github.com/rtkit/periodic/engine/observability"
)

// ErrQueueFull is returned by Enqueue when the queue is at capacity. The
// producer must synthesize the overflow reply itself; it must never block
// waiting for the supervisor.
var ErrQueueFull = errors.New("event queue is full")

// Queue is the bounded MPSC queue between connection readers and the
// supervisor. FIFO across the queue as a whole; per-connection order holds
// because each connection has a single reader enqueuing synchronously.
type Queue struct {
	ch chan Event
}

const MinQueueCapacity = 20

// NewQueue creates a queue with the given capacity (floored at
// MinQueueCapacity).
func NewQueue(capacity int) *Queue {
	if capacity < MinQueueCapacity {
		capacity = MinQueueCapacity
	}
	return &Queue{ch: make(chan Event, capacity)}
}

// Enqueue adds an event without blocking. A full queue returns
// ErrQueueFull immediately.
func (q *Queue) Enqueue(ev Event) error {
	select {
	case q.ch <- ev:
		observability.QueueDepth.Set(float64(len(q.ch)))
		return nil
	default:
		observability.QueueOverflows.Inc()
		return ErrQueueFull
	}
}

// Dequeue blocks until an event is available or ctx is cancelled.
func (q *Queue) Dequeue(ctx context.Context) (Event, bool) {
	select {
	case ev := <-q.ch:
		observability.QueueDepth.Set(float64(len(q.ch)))
		return ev, true
	case <-ctx.Done():
		return Event{}, false
	}
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}
