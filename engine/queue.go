package engine

import (
	"context"
	"sync"

	"github.com/dentaldesk/dentaldesk/core"
)

// Queue is an unbounded FIFO of inbound work items. Enqueue never blocks, so
// webhook handlers stay fast under burst; Dequeue blocks until an item or
// cancellation. Safe for many producers and one or more consumers.
type Queue struct {
	mu     sync.Mutex
	items  []core.QueueItem
	signal chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{signal: make(chan struct{}, 1)}
}

// Enqueue appends an item to the tail.
func (q *Queue) Enqueue(item core.QueueItem) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Dequeue removes and returns the head item, blocking until one is available
// or ctx is cancelled.
func (q *Queue) Dequeue(ctx context.Context) (core.QueueItem, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			if len(q.items) > 0 {
				// More work remains; keep the signal set for the next caller.
				select {
				case q.signal <- struct{}{}:
				default:
				}
			}
			q.mu.Unlock()
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return core.QueueItem{}, ctx.Err()
		case <-q.signal:
		}
	}
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
