package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Resolver maps a handshake token to a user id.
type Resolver interface {
	ResolveUser(ctx context.Context, token string) (int64, error)
}

// HandlerConfig tunes the handshake gate and the idle loop.
type HandlerConfig struct {
	// AllowedOrigins lists accepted Origin headers. Empty accepts any origin.
	AllowedOrigins []string
	WriteTimeout   time.Duration
	// HeartbeatInterval > 0 enables server pings; a connection that misses
	// pongs for two intervals is dropped.
	HeartbeatInterval time.Duration
	MaxMessageSize    int64
	// RejectCloseCode is sent when authentication fails. Zero means 4003.
	RejectCloseCode int
}

// Handler upgrades HTTP requests to websockets, authenticates them and keeps
// authenticated connections registered until they close.
type Handler struct {
	registry *Registry
	resolver Resolver
	observer Observer
	cfg      HandlerConfig
	upgrader websocket.Upgrader

	// read consumes one client frame.
	read func(ws *websocket.Conn) error
}

// NewHandler creates a Handler. obs may be nil.
func NewHandler(registry *Registry, resolver Resolver, cfg HandlerConfig, obs Observer) *Handler {
	if obs == nil {
		obs = nopObserver{}
	}
	if cfg.RejectCloseCode == 0 {
		cfg.RejectCloseCode = CloseAuthRejected
	}
	h := &Handler{
		registry: registry,
		resolver: resolver,
		observer: obs,
		cfg:      cfg,
		read:     discardFrame,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.ContainsFunc(h.cfg.AllowedOrigins, func(o string) bool {
		return o == "*" || strings.EqualFold(o, origin)
	})
}

// ServeHTTP runs the handshake and, on success, the connection's idle loop.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn := NewWSConn(ws, h.cfg.WriteTimeout)

	userID, err := h.resolver.ResolveUser(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		h.observer.HandshakeRejected()
		slog.Warn("realtime handshake rejected", "remote", r.RemoteAddr, "error", err)
		_ = conn.Close(h.cfg.RejectCloseCode, "authentication rejected")
		return
	}

	h.serve(conn, ws, userID)
}

func (h *Handler) serve(conn *WSConn, ws *websocket.Conn, userID int64) {
	h.registry.Register(conn, userID)
	slog.Info("realtime connected", "user_id", userID, "conn_id", conn.ID())

	done := make(chan struct{})
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("realtime receive loop panicked", "user_id", userID, "conn_id", conn.ID(), "panic", rec)
		}
		close(done)
		h.registry.Unregister(conn, userID)
		_ = conn.Close(websocket.CloseNormalClosure, "")
		slog.Info("realtime disconnected", "user_id", userID, "conn_id", conn.ID())
	}()

	if h.cfg.MaxMessageSize > 0 {
		ws.SetReadLimit(h.cfg.MaxMessageSize)
	}
	if hb := h.cfg.HeartbeatInterval; hb > 0 {
		_ = ws.SetReadDeadline(time.Now().Add(2 * hb))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(2 * hb))
		})
		go h.heartbeat(conn, done)
	}

	for {
		if err := h.read(ws); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				slog.Debug("realtime read error", "user_id", userID, "conn_id", conn.ID(), "error", err)
			}
			return
		}
	}
}

// discardFrame reads a client frame only to notice disconnects.
func discardFrame(ws *websocket.Conn) error {
	_, _, err := ws.ReadMessage()
	return err
}

func (h *Handler) heartbeat(conn *WSConn, done <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				slog.Debug("realtime ping failed", "conn_id", conn.ID(), "error", err)
				return
			}
		}
	}
}
