// Package stream implements the fire-and-forget fill/lifecycle event
// stream: an in-process pub/sub hub with a websocket fan-out. Broadcast
// never blocks on a slow subscriber; a full subscriber buffer drops the
// event for that subscriber only.
package stream

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/quantex/exchange/internal/domain"
)

// Subscription is one subscriber's buffered event channel.
type Subscription struct {
	ch chan domain.Event
}

// C returns the receive side of the subscription.
func (s *Subscription) C() <-chan domain.Event {
	return s.ch
}

// Hub fans events out to subscribers without blocking the publisher.
type Hub struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a subscriber with the given channel buffer.
func (h *Hub) Subscribe(buffer int) *Subscription {
	sub := &Subscription{ch: make(chan domain.Event, buffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	h.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// Broadcast delivers an event to every subscriber whose buffer has room.
func (h *Hub) Broadcast(e domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.ch <- e:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publisher stamps events with a per-symbol monotonic sequence before
// broadcasting, so consumers can rely on instrument-sequence order.
type Publisher struct {
	hub *Hub
	mu  sync.Mutex
	seq map[string]*atomic.Uint64
}

// NewPublisher creates a publisher over the given hub.
func NewPublisher(hub *Hub) *Publisher {
	return &Publisher{hub: hub, seq: make(map[string]*atomic.Uint64)}
}

// Publish stamps and broadcasts a single event.
func (p *Publisher) Publish(e domain.Event) {
	p.Stamp(&e)
	p.hub.Broadcast(e)
}

// Stamp assigns the event its per-symbol sequence number and timestamp
// without broadcasting. Callers that must fix the sequence at a precise
// point (inside a matching pass, before the book lock is released) stamp
// there and Emit later.
func (p *Publisher) Stamp(e *domain.Event) {
	e.Sequence = p.next(e.Symbol)
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
}

// Emit broadcasts an already-stamped event.
func (p *Publisher) Emit(e domain.Event) {
	p.hub.Broadcast(e)
}

// PublishAll stamps and broadcasts events preserving their given order.
func (p *Publisher) PublishAll(events []domain.Event) {
	for _, e := range events {
		p.Publish(e)
	}
}

func (p *Publisher) next(symbol string) uint64 {
	p.mu.Lock()
	c, ok := p.seq[symbol]
	if !ok {
		c = &atomic.Uint64{}
		p.seq[symbol] = c
	}
	p.mu.Unlock()
	return c.Add(1)
}
