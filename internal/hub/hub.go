// Package hub implements in-process fan-out of telemetry events to live
// subscribers (SSE streams, WebSocket connections, the watch CLI). Delivery
// is best-effort: a subscriber that cannot keep up has events dropped rather
// than stalling the publisher or other subscribers.
package hub

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Envelope is the unit of fan-out. Type is a dotted event name such as
// "session.imported" or "event.appended"; Data is the JSON-serializable
// payload.
type Envelope struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Subscription is a live feed of envelopes. Close it with Unsubscribe; the
// channel is closed exactly once regardless of how many times Unsubscribe
// runs.
type Subscription struct {
	C chan Envelope

	hub  *Hub
	once sync.Once
}

// Unsubscribe removes the subscription and closes C. Safe to call
// concurrently and more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.hub.remove(s)
		close(s.C)
	})
}

// Hub fans envelopes out to all current subscribers.
type Hub struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}

	buffer  int
	logger  *slog.Logger
	dropped atomic.Int64
}

// New creates a hub whose subscriptions buffer up to buffer envelopes.
func New(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers a new subscriber. Events published before Subscribe
// returns are not replayed.
func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{
		C:   make(chan Envelope, h.buffer),
		hub: h,
	}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Publish delivers the envelope to every current subscriber without
// blocking. A subscriber whose buffer is full is considered dead and gets
// unsubscribed; its channel closes after the buffered envelopes drain.
func (h *Hub) Publish(eventType string, data any) {
	env := Envelope{Type: eventType, Timestamp: time.Now().UTC(), Data: data}

	h.mu.Lock()
	var dead []*Subscription
	for s := range h.subs {
		select {
		case s.C <- env:
		default:
			dead = append(dead, s)
		}
	}
	h.mu.Unlock()

	for _, s := range dead {
		h.dropped.Add(1)
		h.logger.Debug("dropping slow subscriber", "type", eventType)
		s.Unsubscribe()
	}
}

// SubscriberCount returns the number of live subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns the total number of envelopes dropped on slow subscribers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}
