// Package changefeed carries change events between the engines and their
// observers: an in-process Hub for sessions, and a Kafka producer/consumer
// pair so several worker-manager replicas see the same feed.
package changefeed

import (
	"context"
	"sync"

	"companion-workers/internal/common/logger"
	"companion-workers/internal/models"
)

const defaultBuffer = 32

// Filter selects the events a subscription receives. A nil Filter receives
// everything.
type Filter func(ev models.ChangeEvent) bool

// ForUser selects events whose audience includes userID.
func ForUser(userID string) Filter {
	return func(ev models.ChangeEvent) bool { return ev.Concerns(userID) }
}

// ForRelationship selects events about one relationship, including its
// requirement rows.
func ForRelationship(relationshipID string) Filter {
	return func(ev models.ChangeEvent) bool { return ev.RelationshipID == relationshipID }
}

// Any combines filters with OR.
func Any(filters ...Filter) Filter {
	return func(ev models.ChangeEvent) bool {
		for _, f := range filters {
			if f == nil || f(ev) {
				return true
			}
		}
		return false
	}
}

// Subscription is a caller-owned handle. C is closed by Close.
type Subscription struct {
	C <-chan models.ChangeEvent

	ch     chan models.ChangeEvent
	filter Filter
	hub    *Hub
	once   sync.Once
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

// Hub fans change events out to subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the event and is expected to
// re-read state on the next one it receives.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	logger logger.Logger
}

func NewHub(log logger.Logger) *Hub {
	return &Hub{
		subs:   make(map[*Subscription]struct{}),
		logger: logger.ForComponent(log, "change-hub"),
	}
}

// Subscribe registers a subscriber. buffer <= 0 uses a default size.
func (h *Hub) Subscribe(filter Filter, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan models.ChangeEvent, buffer)
	sub := &Subscription{C: ch, ch: ch, filter: filter, hub: h}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
}

// Publish delivers ev to every matching subscriber.
func (h *Hub) Publish(_ context.Context, ev models.ChangeEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs {
		if sub.filter != nil && !sub.filter(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			h.logger.Warn("subscriber buffer full, event dropped", map[string]interface{}{
				"eventId": ev.ID,
				"kind":    string(ev.Kind),
			})
		}
	}
	return nil
}

// Len is the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publisher is implemented by Hub and Producer.
type Publisher interface {
	Publish(ctx context.Context, ev models.ChangeEvent) error
}

// Fanout publishes to several publishers, stopping at the first error.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev models.ChangeEvent) error {
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
