package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-messaging/internal/middleware"
	"github.com/capitalize-ai/realtime-messaging/internal/presence"
	"github.com/capitalize-ai/realtime-messaging/internal/service"
	"github.com/capitalize-ai/realtime-messaging/pkg/logger"
)

// PresenceHandler handles explicit presence endpoints.
type PresenceHandler struct {
	presence presence.Store
	renderer *service.Renderer
	logger   *logger.Logger
}

// NewPresenceHandler creates a new presence handler.
func NewPresenceHandler(ps presence.Store, renderer *service.Renderer, log *logger.Logger) *PresenceHandler {
	return &PresenceHandler{
		presence: ps,
		renderer: renderer,
		logger:   log.Component("http.presence"),
	}
}

// Login handles POST /api/v1/presence/login
func (h *PresenceHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	if err := h.presence.Login(ctx, userID); err != nil {
		writeError(w, r, err)
		return
	}
	h.logger.Debug("user logged in", zap.String("user_id", userID))
	h.respond(w, r, userID)
}

// Logout handles POST /api/v1/presence/logout
func (h *PresenceHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	if err := h.presence.Logout(ctx, userID); err != nil {
		writeError(w, r, err)
		return
	}
	h.logger.Debug("user logged out", zap.String("user_id", userID))
	h.respond(w, r, userID)
}

// Get handles GET /api/v1/users/{id}/presence
func (h *PresenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, chi.URLParam(r, "id"))
}

func (h *PresenceHandler) respond(w http.ResponseWriter, r *http.Request, userID string) {
	view, err := h.renderer.User(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
