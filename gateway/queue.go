package gateway

import (
	"context"
	"sync"
)

type queueItem struct {
	text     string
	sentinel bool
}

// fragmentQueue is an unbounded single-producer single-consumer queue of
// final-text fragments. The end of the stream is an explicit sentinel item;
// Close appends it exactly once and later pushes are dropped.
type fragmentQueue struct {
	mu     sync.Mutex
	items  []queueItem
	closed bool
	ready  chan struct{}
}

func newFragmentQueue() *fragmentQueue {
	return &fragmentQueue{ready: make(chan struct{}, 1)}
}

// Push enqueues a fragment. Empty fragments are dropped.
func (q *fragmentQueue) Push(text string) {
	if text == "" {
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, queueItem{text: text})
	q.mu.Unlock()
	q.notify()
}

// Close appends the sentinel. Only the first call has an effect.
func (q *fragmentQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.items = append(q.items, queueItem{sentinel: true})
	q.mu.Unlock()
	q.notify()
}

// Pop blocks for the next item. ok is false once the sentinel is reached.
// A cancelled ctx wins over queued items.
func (q *fragmentQueue) Pop(ctx context.Context) (text string, ok bool, err error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = queueItem{}
			q.items = q.items[1:]
			q.mu.Unlock()
			if item.sentinel {
				return "", false, nil
			}
			return item.text, true, nil
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
}

func (q *fragmentQueue) notify() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
