// Package queue provides the bounded FIFO that decouples the server's accept
// loop from its request worker.
package queue

import (
	"context"
	"sync"
)

// Queue is a fixed-capacity FIFO backed by a ring buffer.
//
// Two counting semaphores, implemented as buffered channels, gate access:
// free counts empty slots (producers acquire, consumers release) and filled
// counts published items (consumers acquire, producers release).
//
// Consumption is two-phase. Next returns a pointer to the oldest item that
// has not been handed out yet, in place in the ring; the slot stays owned by
// the consumer until Release, so a producer can never overwrite an entry that
// is still being processed.
type Queue[T any] struct {
	mu    sync.Mutex
	slots []T
	head  int // oldest unreleased slot
	taken int // slots handed out by Next and not yet released
	count int // slots holding an unreleased item

	free   chan struct{}
	filled chan struct{}
}

// New creates a queue holding at most capacity items. A capacity below one
// is raised to one.
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}

	q := &Queue[T]{
		slots:  make([]T, capacity),
		free:   make(chan struct{}, capacity),
		filled: make(chan struct{}, capacity),
	}
	for range capacity {
		q.free <- struct{}{}
	}
	return q
}

// Enqueue appends item, blocking while the queue is full.
//
// Items are never dropped: the only way Enqueue fails is ctx ending first,
// in which case the queue is unchanged.
func (q *Queue[T]) Enqueue(ctx context.Context, item T) error {
	select {
	case <-q.free:
	case <-ctx.Done():
		return ctx.Err()
	}

	q.mu.Lock()
	q.slots[(q.head+q.count)%len(q.slots)] = item
	q.count++
	q.mu.Unlock()

	q.filled <- struct{}{}
	return nil
}

// Next blocks until an item is available and returns a pointer to it.
//
// The pointer stays valid until the matching Release. Calling Next again
// before Release hands out the following item.
func (q *Queue[T]) Next(ctx context.Context) (*T, error) {
	select {
	case <-q.filled:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	item := &q.slots[(q.head+q.taken)%len(q.slots)]
	q.taken++
	return item, nil
}

// Release frees the oldest slot handed out by Next, making room for a
// blocked producer. It panics if there is no such slot.
func (q *Queue[T]) Release() {
	q.mu.Lock()
	if q.taken == 0 {
		q.mu.Unlock()
		panic("queue: Release without Next")
	}

	var zero T
	q.slots[q.head] = zero
	q.head = (q.head + 1) % len(q.slots)
	q.taken--
	q.count--
	q.mu.Unlock()

	q.free <- struct{}{}
}

// Len returns the number of items enqueued and not yet released.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return len(q.slots)
}
