// Package api holds the REST producers: login, the activity feed and
// notifications. They decide when a realtime push happens and hand it to the
// notification hub.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/btouchard/pulse/internal/notify"
	"github.com/btouchard/pulse/internal/store"
)

// TokenIssuer signs access tokens.
type TokenIssuer interface {
	Issue(userID int64, email, role string) (string, time.Time, error)
}

// Notifier fans an event out to the configured notifiers.
type Notifier interface {
	Notify(ctx context.Context, event notify.Event) notify.Event
}

// Presence is the read side of the connection registry.
type Presence interface {
	IsOnline(userID int64) bool
	OnlineUsers() []int64
	Len() (users, conns int)
}

// Handler serves the REST endpoints.
type Handler struct {
	store    store.Store
	tokens   TokenIssuer
	notifier Notifier
	presence Presence
	now      func() time.Time
}

// NewHandler creates a Handler.
func NewHandler(s store.Store, tokens TokenIssuer, notifier Notifier, presence Presence) *Handler {
	return &Handler{
		store:    s,
		tokens:   tokens,
		notifier: notifier,
		presence: presence,
		now:      time.Now,
	}
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, errorBody{Error: code, Detail: detail})
}

func internalError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, "internal", msg)
}

func notFoundOr500(w http.ResponseWriter, what string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", what+" not found")
		return
	}
	internalError(w, "loading "+what, err)
}
