package event

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// DefaultQueueSize bounds a task's event queue when no size is configured.
const DefaultQueueSize = 100

var (
	// ErrAlreadySubscribed is returned when a second subscriber claims a queue.
	ErrAlreadySubscribed = errors.New("task already has a subscriber")
	// ErrQueueClosed is returned when publishing to a closed queue.
	ErrQueueClosed = errors.New("event queue closed")
)

// Queue is a bounded FIFO event queue for a single task. The executor
// publishes into it and exactly one subscriber drains it. When the queue is
// full, Publish blocks until the subscriber catches up or the context is
// cancelled.
type Queue struct {
	events     chan Event
	done       chan struct{}
	closeOnce  sync.Once
	subscribed atomic.Bool
}

// NewQueue creates a queue with the given capacity.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		events: make(chan Event, size),
		done:   make(chan struct{}),
	}
}

// Claim marks the queue as having a subscriber. A second claim fails with
// ErrAlreadySubscribed.
func (q *Queue) Claim() error {
	if !q.subscribed.CompareAndSwap(false, true) {
		return ErrAlreadySubscribed
	}
	return nil
}

// Publish enqueues an event, blocking while the queue is full. It returns
// ErrQueueClosed if the queue was closed, or the context error if ctx is
// cancelled while waiting.
func (q *Queue) Publish(ctx context.Context, ev Event) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case q.events <- ev:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the receive side of the queue. The channel is never closed;
// subscribers should also select on Done.
func (q *Queue) Events() <-chan Event {
	return q.events
}

// Done returns a channel that closes when the queue is closed.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Close releases the queue. Undrained events are discarded and any blocked
// publisher is unblocked. Close is idempotent.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}

// Len returns the number of undrained events.
func (q *Queue) Len() int {
	return len(q.events)
}
