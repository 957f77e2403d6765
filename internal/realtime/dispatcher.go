package realtime

import (
	"encoding/json"
	"log/slog"
)

// Observer receives delivery and lifecycle counts.
// Implementations must be safe for concurrent use.
type Observer interface {
	Delivered(kind string, sent, failed int)
	HandshakeRejected()
	// ConnectionsChanged runs under the registry lock after every change.
	ConnectionsChanged(users, conns int)
}

type nopObserver struct{}

func (nopObserver) Delivered(string, int, int)  {}
func (nopObserver) HandshakeRejected()          {}
func (nopObserver) ConnectionsChanged(int, int) {}

// Delivery kinds reported to the Observer.
const (
	KindUser      = "user"
	KindBroadcast = "broadcast"
)

// Dispatcher pushes payloads to registered connections.
// Delivery is best-effort: failed sends are logged and skipped, never retried.
type Dispatcher struct {
	registry *Registry
	observer Observer
}

// NewDispatcher creates a Dispatcher over registry. obs may be nil.
func NewDispatcher(registry *Registry, obs Observer) *Dispatcher {
	if obs == nil {
		obs = nopObserver{}
	}
	return &Dispatcher{registry: registry, observer: obs}
}

// DeliverToUser sends payload to every connection of userID and returns the
// number of successful sends. An offline user gets nothing and is not an error.
func (d *Dispatcher) DeliverToUser(userID int64, payload any) int {
	conns := d.registry.Connections(userID)
	if len(conns) == 0 {
		slog.Debug("user offline, dropping realtime message", "user_id", userID)
		return 0
	}

	data, ok := encode(payload)
	if !ok {
		return 0
	}

	sent, failed := sendAll(conns, data)
	d.observer.Delivered(KindUser, sent, failed)
	return sent
}

// Broadcast sends payload to every registered connection and returns the
// number of successful sends.
func (d *Dispatcher) Broadcast(payload any) int {
	conns := d.registry.All()
	if len(conns) == 0 {
		return 0
	}

	data, ok := encode(payload)
	if !ok {
		return 0
	}

	sent, failed := sendAll(conns, data)
	d.observer.Delivered(KindBroadcast, sent, failed)
	return sent
}

func sendAll(conns []Conn, data []byte) (sent, failed int) {
	for _, c := range conns {
		if err := c.Send(data); err != nil {
			failed++
			slog.Warn("realtime send failed", "conn_id", c.ID(), "error", err)
			continue
		}
		sent++
	}
	return sent, failed
}

func encode(payload any) ([]byte, bool) {
	switch p := payload.(type) {
	case []byte:
		return p, true
	case json.RawMessage:
		return p, true
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("encoding realtime payload", "error", err)
		return nil, false
	}
	return data, true
}
