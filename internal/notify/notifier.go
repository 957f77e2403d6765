package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Event types pushed to clients.
const (
	TypeNotification = "notification"
	TypeFeedUpdate   = "feed_update"
)

// Event is something a user (or everyone) should hear about.
type Event struct {
	Type string
	// UserID targets one user. Zero means broadcast.
	UserID  int64
	Content string
	Link    string

	// ID is the durable notification row, filled in by StoreNotifier.
	ID int64

	// Payload, when set, is pushed as-is instead of the default message shape.
	Payload any
}

// Broadcast reports whether the event has no single target.
func (e *Event) Broadcast() bool { return e.UserID == 0 }

// Message is the default realtime frame for an Event.
type Message struct {
	Type    string `json:"type"`
	ID      int64  `json:"id,omitempty"`
	Content string `json:"content,omitempty"`
	Link    string `json:"link,omitempty"`
}

// Notifier reacts to an event. Notifiers run in order and may enrich the
// event for the ones after them.
type Notifier interface {
	Notify(ctx context.Context, event *Event) error
}

// Hub dispatches events to multiple notifiers.
type Hub struct {
	mu        sync.RWMutex
	notifiers []Notifier
}

// NewHub creates a Hub with the given notifiers.
func NewHub(notifiers ...Notifier) *Hub {
	return &Hub{notifiers: notifiers}
}

// Add appends a notifier.
func (h *Hub) Add(n Notifier) {
	h.mu.Lock()
	h.notifiers = append(h.notifiers, n)
	h.mu.Unlock()
}

// Notify runs every notifier in registration order. Errors are logged and do
// not stop later notifiers. The returned event carries any enrichment.
func (h *Hub) Notify(ctx context.Context, event Event) Event {
	h.mu.RLock()
	notifiers := h.notifiers
	h.mu.RUnlock()

	for _, n := range notifiers {
		if err := n.Notify(ctx, &event); err != nil {
			slog.Warn("notifier failed",
				"type", event.Type,
				"user_id", event.UserID,
				"error", err)
		}
	}
	return event
}
