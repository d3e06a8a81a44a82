package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-messaging/internal/middleware"
	"github.com/capitalize-ai/realtime-messaging/internal/service"
	"github.com/capitalize-ai/realtime-messaging/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	messages *service.MessageService
	logger   *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(msgs *service.MessageService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		messages: msgs,
		logger:   log.Component("http.messages"),
	}
}

// EditMessageRequest is the body of PATCH .../messages/{messageID}.
type EditMessageRequest struct {
	Content string `json:"content"`
}

// ReadMessagesRequest is the body of POST .../messages/read.
type ReadMessagesRequest struct {
	MessageIDs []string `json:"message_ids"`
}

// Send handles POST /api/v1/conversations/{id}/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := idParam(r, "id", "conversation")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req service.SendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	view, err := h.messages.Send(ctx, middleware.GetUser(ctx), id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

// Edit handles PATCH /api/v1/conversations/{id}/messages/{messageID}
func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := idParam(r, "id", "conversation")
	if err != nil {
		writeError(w, r, err)
		return
	}
	messageID, err := idParam(r, "messageID", "message")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req EditMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	view, err := h.messages.Edit(ctx, middleware.GetUser(ctx), id, messageID, req.Content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Delete handles DELETE /api/v1/conversations/{id}/messages/{messageID}
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := idParam(r, "id", "conversation")
	if err != nil {
		writeError(w, r, err)
		return
	}
	messageID, err := idParam(r, "messageID", "message")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.messages.Delete(ctx, middleware.GetUser(ctx), id, messageID); err != nil {
		writeError(w, r, err)
		return
	}
	h.logger.Debug("message deleted", zap.String("message_id", messageID))
	w.WriteHeader(http.StatusNoContent)
}

// MarkRead handles POST /api/v1/conversations/{id}/messages/read
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := idParam(r, "id", "conversation")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req ReadMessagesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	read, err := h.messages.MarkRead(ctx, middleware.GetUser(ctx), id, req.MessageIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message_ids":  read,
		"marked_count": len(read),
	})
}
