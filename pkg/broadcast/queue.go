package broadcast

import (
	"sync"

	"github.com/piflash/piflash/pkg/metrics"
)

// Queue is a buffered Subscriber. Events that do not fit in the buffer are
// dropped, and delivery after Close is a no-op.
type Queue struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// NewQueue creates a queue holding up to size undelivered events.
func NewQueue(size int) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{ch: make(chan Event, size)}
}

func (q *Queue) Deliver(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	select {
	case q.ch <- ev:
	default:
		metrics.EventsDropped.Inc()
	}
}

// Events returns the receive side. It is closed by Close.
func (q *Queue) Events() <-chan Event {
	return q.ch
}

// Close stops delivery. Buffered events can still be received.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}
