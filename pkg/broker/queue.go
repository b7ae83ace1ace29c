package broker

import (
	"context"
	"sync"

	"github.com/gammazero/deque"
)

// queue is an unbounded FIFO with a single consumer. Push never blocks, so the
// engine goroutine can feed it without risking a stall on a slow reader.
type queue[T any] struct {
	mu     sync.Mutex
	items  deque.Deque[T]
	notify chan struct{}
	closed bool
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{notify: make(chan struct{}, 1)}
}

// Push appends v. It reports false once the queue is closed.
func (q *queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items.PushBack(v)
	q.mu.Unlock()

	q.wake()
	return true
}

// Pop blocks until an item is available, the queue is closed and drained, or ctx is done.
func (q *queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			v := q.items.PopFront()
			q.mu.Unlock()
			return v, nil
		}
		if q.closed {
			q.mu.Unlock()
			return zero, errQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// TryPop returns immediately.
func (q *queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if q.items.Len() == 0 {
		return zero, false
	}
	return q.items.PopFront(), true
}

func (q *queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Close stops accepting items. Items already queued can still be popped.
func (q *queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *queue[T]) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
