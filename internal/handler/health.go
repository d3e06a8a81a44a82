package handler

import (
	"context"
	"net/http"
	"time"

	natsclient "github.com/capitalize-ai/realtime-messaging/internal/nats"
	"github.com/capitalize-ai/realtime-messaging/internal/store"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	store      store.Store
	natsClient *natsclient.Client
}

// NewHealthHandler creates a new health handler. natsClient is nil when no
// NATS-backed driver is configured.
func NewHealthHandler(st store.Store, natsClient *natsclient.Client) *HealthHandler {
	return &HealthHandler{
		store:      st,
		natsClient: natsClient,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "store unavailable",
		})
		return
	}

	if h.natsClient != nil && !h.natsClient.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS " + h.natsClient.Status(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
