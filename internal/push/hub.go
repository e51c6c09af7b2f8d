// Package push delivers real-time events to a user's live connections.
package push

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is a lightweight, in-memory signal delivered to a user's live
// connections.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
//
// Data should be small and ideally JSON-serializable.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Registry maps online users to their live channels. The in-memory Hub is
// the default backing; multi-instance deployments can substitute a shared
// implementation without touching the dispatcher.
type Registry interface {
	// Publish fans e out to every live connection of the user and reports
	// whether at least one existed. A false return is a no-op, not a failure.
	Publish(userID string, e Event) bool
	Subscribe(userID string, buffer int) (ch <-chan Event, unsubscribe func())
}

// NewHub returns a process-local fanout registry. It owns no background
// goroutines.
func NewHub() *Hub {
	return &Hub{subs: map[string]map[uint64]chan Event{}}
}

var _ Registry = (*Hub)(nil)

type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[uint64]chan Event
	seq  atomic.Uint64
}

func (h *Hub) Publish(userID string, e Event) bool {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	h.mu.RLock()
	chs := make([]chan Event, 0, len(h.subs[userID]))
	for _, ch := range h.subs[userID] {
		chs = append(chs, ch)
	}
	h.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery. If subscriber is slow, we drop.
		// If a subscriber unsubscribes concurrently and the channel closes,
		// recover from a possible panic (send on closed channel).
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
	return len(chs) > 0
}

func (h *Hub) Subscribe(userID string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := h.seq.Add(1)

	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = map[uint64]chan Event{}
	}
	h.subs[userID][id] = ch
	h.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[userID], id)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
			h.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}

// Online reports whether the user has at least one live connection.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID]) > 0
}
