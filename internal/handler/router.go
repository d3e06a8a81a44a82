package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/realtime-messaging/internal/middleware"
	"github.com/capitalize-ai/realtime-messaging/pkg/logger"
)

// RouterConfig collects the handlers and limits the router mounts.
type RouterConfig struct {
	Auth           *middleware.Authenticator
	Health         *HealthHandler
	Conversations  *ConversationHandler
	Messages       *MessageHandler
	Presence       *PresenceHandler
	WS             *WSHandler
	AllowedOrigins []string

	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// NewRouter builds the HTTP routes.
func NewRouter(cfg RouterConfig, log *logger.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Websockets authenticate after the upgrade so refusals carry a close code.
	r.Route("/ws", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		r.Get("/chat/{conversation_id}", cfg.WS.Chat)
		r.Get("/conversations", cfg.WS.Conversations)
	})

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(cfg.Auth.Middleware)
		r.Use(middleware.UserRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", cfg.Conversations.Create)
			r.Get("/", cfg.Conversations.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", cfg.Conversations.Get)
				r.Delete("/", cfg.Conversations.Delete)
				r.Post("/read", cfg.Conversations.MarkRead)

				r.Post("/messages", cfg.Messages.Send)
				r.Post("/messages/read", cfg.Messages.MarkRead)
				r.Patch("/messages/{messageID}", cfg.Messages.Edit)
				r.Delete("/messages/{messageID}", cfg.Messages.Delete)
			})
		})

		r.Get("/notifications/count", cfg.Conversations.UnreadCounts)

		r.Post("/presence/login", cfg.Presence.Login)
		r.Post("/presence/logout", cfg.Presence.Logout)
		r.Get("/users/{id}/presence", cfg.Presence.Get)
	})

	return r
}
