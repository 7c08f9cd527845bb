// Package notify turns the available-listings change feed into
// per-subscriber delta notifications: one "N new items" event per
// increase, never one event per item, and nothing on the first observed
// tick so a fresh subscriber is not greeted with a spurious backlog.
package notify

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nikeshsapkota32/save-more/internal/store"
)

// Event is one computed delta notification. Delivery (push, toast,
// etc.) is the delivery collaborator's problem; the hub's obligation
// ends at producing a correctly de-duplicated event.
type Event struct {
	SubscriberID string    `json:"subscriber_id"`
	NewCount     int       `json:"new_count"`
	Available    int       `json:"available"`
	Message      string    `json:"message"`
	At           time.Time `json:"at"`
}

// Delivery hands a computed event to the delivery backend.
type Delivery interface {
	Deliver(ctx context.Context, ev Event) error
}

// subscriberState tracks one subscriber's view of the feed. primed is
// false until the subscriber has observed its baseline tick.
type subscriberState struct {
	lastCount int
	primed    bool
}

// Hub fans one change feed out to many subscribers.
type Hub struct {
	mu       sync.Mutex
	subs     map[string]*subscriberState
	delivery Delivery
	now      func() time.Time
}

// NewHub creates a hub delivering through d.
func NewHub(d Delivery) *Hub {
	return &Hub{
		subs:     make(map[string]*subscriberState),
		delivery: d,
		now:      time.Now,
	}
}

// Register starts delta tracking for a subscriber. The first feed tick
// after registration establishes the baseline without notifying.
func (h *Hub) Register(subscriberID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[subscriberID]; !ok {
		h.subs[subscriberID] = &subscriberState{}
	}
}

// Unregister stops tracking a subscriber.
func (h *Hub) Unregister(subscriberID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, subscriberID)
}

// Run consumes the feed until it closes or ctx is cancelled. The
// subscription is closed on the way out so the underlying listener is
// unregistered.
func (h *Hub) Run(ctx context.Context, feed *store.Subscription) {
	defer feed.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-feed.Updates():
			if !ok {
				return
			}
			// An empty batch is a real observation: the available set
			// can legitimately empty out, and the baseline must follow
			// it so a later re-population registers as new.
			h.observe(ctx, len(snap))
		}
	}
}

// observe processes one feed tick: a single delta event per subscriber
// whose count increased, silence otherwise.
func (h *Hub) observe(ctx context.Context, count int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, sub := range h.subs {
		if !sub.primed {
			sub.lastCount = count
			sub.primed = true
			continue
		}
		if count > sub.lastCount {
			delta := count - sub.lastCount
			ev := Event{
				SubscriberID: id,
				NewCount:     delta,
				Available:    count,
				Message:      message(delta),
				At:           h.now(),
			}
			if err := h.delivery.Deliver(ctx, ev); err != nil {
				log.Printf("notify: deliver to %s: %v", id, err)
			}
		}
		sub.lastCount = count
	}
}

func message(delta int) string {
	plural := ""
	if delta > 1 {
		plural = "s"
	}
	return fmt.Sprintf("%d new food item%s available for pickup!", delta, plural)
}

// LogDelivery writes events to the process log. Used in development and
// as a fallback when no broker is configured.
type LogDelivery struct{}

func (LogDelivery) Deliver(_ context.Context, ev Event) error {
	log.Printf("notify: %s -> %q (available: %d)", ev.SubscriberID, ev.Message, ev.Available)
	return nil
}
