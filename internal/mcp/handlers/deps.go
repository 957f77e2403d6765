package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/btouchard/pulse/internal/notify"
	"github.com/btouchard/pulse/internal/store"
)

// Presence is the read side of the connection registry.
type Presence interface {
	IsOnline(userID int64) bool
	OnlineUsers() []int64
	Len() (users, conns int)
}

// Notifier fans an event out to storage and connected clients.
type Notifier interface {
	Notify(ctx context.Context, event notify.Event) notify.Event
}

// Directory is the slice of the store the tools read from.
type Directory interface {
	GetUser(id int64) (*store.UserRecord, error)
	ListUnreadNotifications(userID int64, limit int) ([]store.NotificationRecord, error)
}

// userIDArg reads a required positive user_id argument.
func userIDArg(args map[string]any) (int64, error) {
	v, ok := args["user_id"].(float64)
	if !ok {
		return 0, errors.New("user_id is required")
	}
	if v < 1 || v != float64(int64(v)) {
		return 0, fmt.Errorf("user_id must be a positive integer, got %v", v)
	}
	return int64(v), nil
}

func lookupUser(dir Directory, id int64) (*store.UserRecord, error) {
	u, err := dir.GetUser(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("user %d not found", id)
		}
		return nil, fmt.Errorf("loading user %d: %w", id, err)
	}
	return u, nil
}
