// Package broadcast fans pipeline events out to connected observers.
//
// Delivery is at-most-once and best effort: there is no replay for late
// joiners, no acknowledgement, and a slow observer loses events rather than
// slowing the pipeline down.
package broadcast

import (
	"log/slog"
	"sync"

	"github.com/piflash/piflash/pkg/metrics"
)

// Subscriber receives events. Deliver must not block and must be a no-op
// once the subscriber is closed.
type Subscriber interface {
	Deliver(ev Event)
}

// Hub is the concurrency-safe observer registry.
type Hub struct {
	mu   sync.RWMutex
	subs map[Subscriber]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[Subscriber]struct{})}
}

// Subscribe registers s and returns the function that removes it. The
// returned function is safe to call more than once.
func (h *Hub) Subscribe(s Subscriber) (unsubscribe func()) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	count := len(h.subs)
	h.mu.Unlock()

	metrics.Subscribers.Set(float64(count))
	slog.Debug("observer_subscribed", "subscribers", count)

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, s)
			count := len(h.subs)
			h.mu.Unlock()

			metrics.Subscribers.Set(float64(count))
			slog.Debug("observer_unsubscribed", "subscribers", count)
		})
	}
}

// Publish delivers ev to every observer registered at call time.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subs {
		s.Deliver(ev)
	}
	metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
}

// Count returns the number of registered observers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
