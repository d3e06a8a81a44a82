// Package handler provides HTTP and websocket handlers for the API.
package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-messaging/internal/middleware"
	"github.com/capitalize-ai/realtime-messaging/internal/service"
	"github.com/capitalize-ai/realtime-messaging/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	conversations *service.ConversationService
	messages      *service.MessageService
	logger        *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(convs *service.ConversationService, msgs *service.MessageService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		conversations: convs,
		messages:      msgs,
		logger:        log.Component("http.conversations"),
	}
}

// CreateConversationRequest is the body of POST /api/v1/conversations.
type CreateConversationRequest struct {
	ParticipantID string `json:"participant_id"`
}

// Create handles POST /api/v1/conversations
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateConversationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	view, created, err := h.conversations.GetOrCreate(ctx, middleware.GetUserID(ctx), req.ParticipantID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.logger.Info("conversation created",
			zap.String("conversation_id", view.ID),
			zap.String("correlation_id", middleware.GetCorrelationID(ctx)),
		)
	}
	writeJSON(w, status, map[string]any{
		"conversation":        view,
		"is_new_conversation": created,
	})
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	views, err := h.conversations.List(ctx, middleware.GetUserID(ctx))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": views})
}

// Get handles GET /api/v1/conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	id, err := idParam(r, "id", "conversation")
	if err != nil {
		writeError(w, r, err)
		return
	}
	conv, err := h.conversations.Get(ctx, userID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	view, err := h.conversations.View(ctx, conv, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Delete handles DELETE /api/v1/conversations/{id}
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := idParam(r, "id", "conversation")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.conversations.Delete(ctx, middleware.GetUserID(ctx), id); err != nil {
		writeError(w, r, err)
		return
	}
	h.logger.Info("conversation deleted for user",
		zap.String("conversation_id", id),
		zap.String("user_id", middleware.GetUserID(ctx)),
	)
	w.WriteHeader(http.StatusNoContent)
}

// MarkRead handles POST /api/v1/conversations/{id}/read
func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := idParam(r, "id", "conversation")
	if err != nil {
		writeError(w, r, err)
		return
	}
	read, err := h.messages.MarkConversationRead(ctx, middleware.GetUser(ctx), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message_ids":  read,
		"marked_count": len(read),
	})
}

// UnreadCounts handles GET /api/v1/notifications/count
func (h *ConversationHandler) UnreadCounts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts, err := h.conversations.UnreadCounts(ctx, middleware.GetUserID(ctx))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}
