// Package queue implements a FIFO queue with optional blocking dequeues.
package queue

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
)

// Unbounded indicates the Queue does not have a limit.
const Unbounded int = -1

// Queue implements a multi-producer FIFO queue. TryDequeue never blocks and
// may be called from any number of goroutines. Dequeue blocks until an
// element is available and supports a single consumer at a time.
type Queue[T any] struct {
	sema     *sync.Cond
	elements []T
	closed   bool

	dequeueInUse uint32

	limit int
}

// New creates a new Queue. Once the queue holds limit elements, enqueueing
// another element discards the oldest one.
func New[T any](limit int) *Queue[T] {
	return &Queue[T]{
		sema:  &sync.Cond{L: &sync.Mutex{}},
		limit: limit,
	}
}

// Dequeue blocks until ctx is canceled, the queue is closed, or an element
// can be dequeued. Dequeue will panic if there are multiple concurrent
// callers. io.EOF is returned once the queue is closed.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	if !atomic.CompareAndSwapUint32(&q.dequeueInUse, 0, 1) {
		panic("cannot call dequeue concurrently")
	}
	defer atomic.StoreUint32(&q.dequeueInUse, 0)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Wake ourselves up if the context is canceled so we can exit.
	go func() {
		<-ctx.Done()
		q.sema.L.Lock()
		q.sema.Broadcast()
		q.sema.L.Unlock()
	}()

	q.sema.L.Lock()
	defer q.sema.L.Unlock()

	for ctx.Err() == nil && !q.closed && len(q.elements) == 0 {
		q.sema.Wait()
	}

	var zero T
	switch {
	case ctx.Err() != nil:
		return zero, ctx.Err()
	case q.closed:
		return zero, io.EOF
	}
	return q.pop(), nil
}

// TryDequeue returns the oldest element from q if one exists. It never
// blocks waiting for elements.
func (q *Queue[T]) TryDequeue() (T, bool) {
	q.sema.L.Lock()
	defer q.sema.L.Unlock()

	if q.closed || len(q.elements) == 0 {
		var zero T
		return zero, false
	}
	return q.pop(), true
}

// pop removes the first element. sema.L must be held.
func (q *Queue[T]) pop() T {
	var zero T
	element := q.elements[0]
	q.elements[0] = zero
	q.elements = q.elements[1:]
	return element
}

// Enqueue queues an element. Elements are dequeued in call order. If the
// queue has reached its limit, the oldest element is discarded. Enqueue is a
// no-op after Close.
func (q *Queue[T]) Enqueue(v T) {
	q.sema.L.Lock()
	defer q.sema.L.Unlock()

	if q.closed {
		return
	}

	q.elements = append(q.elements, v)
	if q.limit != Unbounded && len(q.elements) > q.limit {
		q.pop()
	}

	q.sema.Signal()
}

// Len returns the number of queued elements.
func (q *Queue[T]) Len() int {
	q.sema.L.Lock()
	defer q.sema.L.Unlock()
	return len(q.elements)
}

// Close closes the queue. Pending elements are discarded and blocked
// Dequeue calls return io.EOF.
func (q *Queue[T]) Close() error {
	q.sema.L.Lock()
	defer q.sema.L.Unlock()

	q.closed = true
	q.elements = nil
	q.sema.Broadcast()
	return nil
}
