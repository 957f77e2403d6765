package notify

import (
	"context"
	"fmt"

	"github.com/btouchard/pulse/internal/store"
)

// NotificationWriter persists notification rows.
type NotificationWriter interface {
	CreateNotification(n *store.NotificationRecord) error
}

// StoreNotifier keeps a durable copy of targeted notifications so users who
// were offline can read them later.
type StoreNotifier struct {
	store NotificationWriter
}

// NewStoreNotifier creates a StoreNotifier.
func NewStoreNotifier(s NotificationWriter) *StoreNotifier {
	return &StoreNotifier{store: s}
}

// Notify persists targeted notification events. Broadcasts and other event
// types are ignored.
func (n *StoreNotifier) Notify(_ context.Context, event *Event) error {
	if event.Type != TypeNotification || event.Broadcast() {
		return nil
	}

	rec := &store.NotificationRecord{
		UserID:  event.UserID,
		Content: event.Content,
		Link:    event.Link,
	}
	if err := n.store.CreateNotification(rec); err != nil {
		return fmt.Errorf("persisting notification for user %d: %w", event.UserID, err)
	}
	event.ID = rec.ID
	return nil
}
