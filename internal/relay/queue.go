// Package relay forwards telemetry to a remote sink through an in-memory
// queue that is drained, not discarded, on shutdown.
package relay

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrTimeout is returned by Get when no item arrives in time.
	ErrTimeout = errors.New("relay: queue get timed out")
	// ErrStopped is returned when enqueueing into a stopped relay.
	ErrStopped = errors.New("relay: stopped")
	// ErrTaskDoneUnderflow is returned by TaskDone without a matching Get.
	ErrTaskDoneUnderflow = errors.New("relay: task done called too many times")
)

// Queue is an unbounded FIFO with timed gets and a Join that waits until
// every item put has been marked done.
type Queue[T any] struct {
	mu         sync.Mutex
	items      []T
	unfinished int
	// changed is closed and replaced whenever items or unfinished change.
	changed chan struct{}
}

// NewQueue returns an empty queue.
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{changed: make(chan struct{})}
}

func (q *Queue[T]) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Put appends an item.
func (q *Queue[T]) Put(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	q.unfinished++
	q.broadcastLocked()
}

// TryGet pops the head item if one is present.
func (q *Queue[T]) TryGet() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *Queue[T]) popLocked() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

// Get waits up to timeout for an item. It returns ErrTimeout when none
// arrives, or ctx.Err() if ctx ends first.
func (q *Queue[T]) Get(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		q.mu.Lock()
		if item, ok := q.popLocked(); ok {
			q.mu.Unlock()
			return item, nil
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-changed:
		case <-timer.C:
			return zero, ErrTimeout
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// TaskDone marks one previously retrieved item as processed.
func (q *Queue[T]) TaskDone() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.unfinished == 0 {
		return ErrTaskDoneUnderflow
	}
	q.unfinished--
	q.broadcastLocked()
	return nil
}

// Join blocks until every item put has been marked done, or ctx ends.
func (q *Queue[T]) Join(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.unfinished == 0 {
			q.mu.Unlock()
			return nil
		}
		changed := q.changed
		q.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Len returns the number of items waiting.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Unfinished returns the number of items put but not yet marked done.
func (q *Queue[T]) Unfinished() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.unfinished
}
