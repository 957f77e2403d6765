package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/btouchard/pulse/internal/config"
	"github.com/btouchard/pulse/internal/middleware"
	"github.com/btouchard/pulse/internal/permission"
)

// RouterOptions carries the pieces mounted next to the REST handlers.
// Nil handlers are not mounted.
type RouterOptions struct {
	Authenticator middleware.Authenticator
	RateLimit     config.RateLimitConfig

	Realtime http.Handler
	Metrics  http.Handler
	MCP      http.Handler
}

// NewRouter builds the HTTP routes.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)

	bearer := middleware.BearerAuth(opts.Authenticator)

	// Login and registration (IP rate limited against brute force)
	r.Group(func(r chi.Router) {
		r.Use(middleware.LoginRateLimit(opts.RateLimit))
		r.Post("/auth/login", h.Login)
		r.Post("/auth/register", h.Register)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RateLimit(opts.RateLimit))
		r.Use(bearer)

		r.Get("/me", h.Me)
		r.Get("/feed", h.ListFeed)
		r.Post("/feed", h.CreatePost)
		r.Get("/notifications", h.ListNotifications)
		r.Post("/notifications/{id}/read", h.MarkNotificationRead)

		r.With(middleware.RequireCapability(permission.NotificationBroadcast)).
			Post("/notifications", h.PushNotification)
		r.With(middleware.RequireCapability(permission.RealtimeInspect)).
			Get("/realtime/online", h.Online)
	})

	if opts.Realtime != nil {
		// The handshake authenticates itself via the token query parameter.
		r.With(middleware.RateLimit(opts.RateLimit)).Handle("/ws", opts.Realtime)
	}

	if opts.MCP != nil {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(opts.RateLimit))
			r.Use(bearer)
			r.Use(middleware.RequireCapability(permission.MCPAccess))
			r.Handle("/mcp", opts.MCP)
		})
	}

	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return r
}
