package arbiter

import (
	"sync"

	"github.com/oshokin/flag-arbiter/internal/domain/flag"
)

// queue is an unbounded FIFO of decisions. push never blocks.
type queue struct {
	// mu protects items.
	mu sync.Mutex
	// items are decisions waiting for delivery.
	items []*flag.Decision
	// signal is poked after every push.
	signal chan struct{}
}

func newQueue() *queue {
	return &queue{
		signal: make(chan struct{}, 1),
	}
}

func (q *queue) push(decision *flag.Decision) {
	q.mu.Lock()
	q.items = append(q.items, decision)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *queue) pop() (*flag.Decision, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, false
	}

	decision := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]

	return decision, true
}

func (q *queue) pending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items) > 0
}
