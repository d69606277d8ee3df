package jobs

import (
	"context"
	"sync"
)

// Queue is a FIFO of job ids. Enqueue never blocks; Dequeue waits for work.
type Queue struct {
	mu       sync.Mutex
	items    []string
	maxDepth int
	closed   bool
	ready    chan struct{}
	done     chan struct{}
}

// NewQueue creates a queue. maxDepth <= 0 means unbounded.
func NewQueue(maxDepth int) *Queue {
	return &Queue{
		maxDepth: maxDepth,
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Enqueue appends id.
func (q *Queue) Enqueue(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if q.maxDepth > 0 && len(q.items) >= q.maxDepth {
		return ErrQueueFull
	}
	q.items = append(q.items, id)
	queueDepth.Set(float64(len(q.items)))
	q.signal()
	return nil
}

// Dequeue blocks until an id is available, ctx is done or the queue is closed.
func (q *Queue) Dequeue(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return "", ErrQueueClosed
		}
		if len(q.items) > 0 {
			id := q.items[0]
			q.items[0] = ""
			q.items = q.items[1:]
			queueDepth.Set(float64(len(q.items)))
			if len(q.items) > 0 {
				q.signal()
			}
			q.mu.Unlock()
			return id, nil
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Close stops the queue and wakes every waiter. Ids still queued are returned.
func (q *Queue) Close() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	left := q.items
	q.items = nil
	queueDepth.Set(0)
	return left
}

// Len returns the number of queued ids.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
