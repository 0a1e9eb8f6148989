package notification

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by receivers once a closed queue is empty.
var ErrClosed = errors.New("notification: feed closed")

// Queue is a thread-safe FIFO ring that doubles its capacity when it
// reaches 70% full, up to a limit. Once at the limit the oldest item is
// overwritten.
type Queue[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int
	tail     int
	count    int
	capacity int
	limit    int
	closed   bool
	ready    chan struct{} // closed and replaced whenever an item lands

	pushed  int64
	popped  int64
	dropped int64
	resizes int
}

// QueueStats contains queue statistics.
type QueueStats struct {
	Count    int
	Capacity int
	Pushed   int64
	Popped   int64
	Dropped  int64
	Resizes  int
}

// NewQueue creates a queue with the given initial capacity. A limit below
// the initial capacity means the queue never grows.
func NewQueue[T any](initialCapacity, limit int) *Queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	if limit < initialCapacity {
		limit = initialCapacity
	}
	return &Queue[T]{
		buf:      make([]T, initialCapacity),
		capacity: initialCapacity,
		limit:    limit,
		ready:    make(chan struct{}),
	}
}

// Push appends an item. Returns false if the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	threshold := (q.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if q.count+1 >= threshold && q.capacity < q.limit {
		q.grow()
	}

	if q.count == q.capacity {
		q.popLocked()
		q.popped--
		q.dropped++
	}

	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % q.capacity
	q.count++
	q.pushed++

	close(q.ready)
	q.ready = make(chan struct{})
	return true
}

// Pop blocks until an item is available, the queue is closed and empty, or
// ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if q.count > 0 {
			item := q.popLocked()
			q.mu.Unlock()
			return item, nil
		}
		if q.closed {
			q.mu.Unlock()
			var zero T
			return zero, ErrClosed
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// TryPop returns the oldest item without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		var zero T
		return zero, false
	}
	return q.popLocked(), true
}

// Drain removes up to max items (all when max <= 0).
func (q *Queue[T]) Drain(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}

	n := q.count
	if max > 0 && max < n {
		n = max
	}

	out := make([]T, n)
	for i := range out {
		out[i] = q.popLocked()
	}
	return out
}

// Close wakes all waiters. Items already queued can still be drained.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.ready)
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Count:    q.count,
		Capacity: q.capacity,
		Pushed:   q.pushed,
		Popped:   q.popped,
		Dropped:  q.dropped,
		Resizes:  q.resizes,
	}
}

// popLocked must be called with the lock held and count > 0.
func (q *Queue[T]) popLocked() T {
	item := q.buf[q.head]
	var zero T
	q.buf[q.head] = zero
	q.head = (q.head + 1) % q.capacity
	q.count--
	q.popped++
	return item
}

// grow doubles the capacity, capped at limit. Must be called with lock held.
func (q *Queue[T]) grow() {
	newCapacity := q.capacity * 2
	if newCapacity > q.limit {
		newCapacity = q.limit
	}
	newBuf := make([]T, newCapacity)

	if q.count > 0 {
		if q.head < q.tail {
			copy(newBuf, q.buf[q.head:q.tail])
		} else {
			n := copy(newBuf, q.buf[q.head:])
			copy(newBuf[n:], q.buf[:q.tail])
		}
	}

	q.buf = newBuf
	q.head = 0
	q.tail = q.count
	q.capacity = newCapacity
	q.resizes++
}
