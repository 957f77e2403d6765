package notify

import (
	"context"
	"sync"
	"time"
)

// MCPSender abstracts the mcp-go server notification method.
// Defined consumer-side per Go convention.
type MCPSender interface {
	SendNotificationToAllClients(method string, params map[string]any)
}

// MCPNotifier mirrors ERP events to connected MCP clients as log messages.
type MCPNotifier struct {
	sender   MCPSender
	debounce time.Duration
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time // event type → last broadcast forwarded
}

// NewMCPNotifier creates an MCPNotifier. Broadcast events of the same type
// closer together than debounce are dropped; targeted notifications are
// always forwarded.
func NewMCPNotifier(sender MCPSender, debounce time.Duration) *MCPNotifier {
	if debounce <= 0 {
		debounce = 3 * time.Second
	}
	return &MCPNotifier{
		sender:   sender,
		debounce: debounce,
		now:      time.Now,
		lastSent: make(map[string]time.Time),
	}
}

// Notify forwards event as a notifications/message.
func (n *MCPNotifier) Notify(_ context.Context, event *Event) error {
	if event.Broadcast() && !n.allow(event.Type) {
		return nil
	}

	data := map[string]any{
		"type":    event.Type,
		"content": event.Content,
	}
	if event.UserID != 0 {
		data["user_id"] = event.UserID
	}
	if event.Link != "" {
		data["link"] = event.Link
	}
	if event.ID != 0 {
		data["notification_id"] = event.ID
	}

	n.sender.SendNotificationToAllClients("notifications/message", map[string]any{
		"level":  "info",
		"logger": "pulse",
		"data":   data,
	})
	return nil
}

func (n *MCPNotifier) allow(eventType string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	if last, ok := n.lastSent[eventType]; ok && now.Sub(last) < n.debounce {
		return false
	}
	n.lastSent[eventType] = now
	return true
}
