package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/btouchard/pulse/internal/auth"
	"github.com/btouchard/pulse/internal/notify"
	"github.com/btouchard/pulse/internal/store"
)

type notificationResponse struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Link      string    `json:"link"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// ListNotifications returns the caller's unread notifications, newest first.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	rows, err := h.store.ListUnreadNotifications(id.UserID, limit)
	if err != nil {
		internalError(w, "listing notifications", err)
		return
	}

	out := make([]notificationResponse, 0, len(rows))
	for _, n := range rows {
		out = append(out, notificationResponse{
			ID:        n.ID,
			Content:   n.Content,
			Link:      n.Link,
			IsRead:    n.Read,
			CreatedAt: n.CreatedAt.UTC(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// MarkNotificationRead marks one of the caller's notifications read.
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	notifID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "notification id must be an integer")
		return
	}

	if err := h.store.MarkNotificationRead(notifID, id.UserID); err != nil {
		notFoundOr500(w, "notification", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type pushRequest struct {
	UserID  int64  `json:"user_id"`
	Content string `json:"content"`
	Link    string `json:"link"`
}

type pushResponse struct {
	ID        int64 `json:"id,omitempty"`
	Broadcast bool  `json:"broadcast"`
	Online    bool  `json:"online"`
}

// PushNotification sends a notification to one user, or to everyone when no
// user_id is given. Targeted notifications are also stored.
func (h *Handler) PushNotification(w http.ResponseWriter, r *http.Request) {
	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "content is required")
		return
	}
	if req.UserID < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id must be positive")
		return
	}

	if req.UserID != 0 {
		if _, err := h.store.GetUser(req.UserID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "not_found", "user not found")
				return
			}
			internalError(w, "loading user", err)
			return
		}
	}

	ev := h.notifier.Notify(r.Context(), notify.Event{
		Type:    notify.TypeNotification,
		UserID:  req.UserID,
		Content: req.Content,
		Link:    req.Link,
	})

	resp := pushResponse{ID: ev.ID, Broadcast: ev.Broadcast()}
	if ev.Broadcast() {
		users, _ := h.presence.Len()
		resp.Online = users > 0
	} else {
		resp.Online = h.presence.IsOnline(req.UserID)
	}
	writeJSON(w, http.StatusAccepted, resp)
}

type onlineResponse struct {
	Users           []int64 `json:"users"`
	UserCount       int     `json:"user_count"`
	ConnectionCount int     `json:"connection_count"`
}

// Online reports who is connected right now. Diagnostics only.
func (h *Handler) Online(w http.ResponseWriter, _ *http.Request) {
	users, conns := h.presence.Len()
	writeJSON(w, http.StatusOK, onlineResponse{
		Users:           h.presence.OnlineUsers(),
		UserCount:       users,
		ConnectionCount: conns,
	})
}
