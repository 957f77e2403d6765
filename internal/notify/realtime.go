package notify

import "context"

// Dispatcher is the realtime delivery surface.
type Dispatcher interface {
	DeliverToUser(userID int64, payload any) int
	Broadcast(payload any) int
}

// RealtimeNotifier pushes events to connected clients. Offline users simply
// miss the push.
type RealtimeNotifier struct {
	dispatcher Dispatcher
}

// NewRealtimeNotifier creates a RealtimeNotifier.
func NewRealtimeNotifier(d Dispatcher) *RealtimeNotifier {
	return &RealtimeNotifier{dispatcher: d}
}

// Notify never fails: delivery is best-effort.
func (n *RealtimeNotifier) Notify(_ context.Context, event *Event) error {
	payload := event.Payload
	if payload == nil {
		payload = Message{
			Type:    event.Type,
			ID:      event.ID,
			Content: event.Content,
			Link:    event.Link,
		}
	}

	if event.Broadcast() {
		n.dispatcher.Broadcast(payload)
		return nil
	}
	n.dispatcher.DeliverToUser(event.UserID, payload)
	return nil
}
