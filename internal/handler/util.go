package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-messaging/internal/middleware"
	"github.com/capitalize-ai/realtime-messaging/internal/model"
	"github.com/capitalize-ai/realtime-messaging/pkg/apperr"
	"github.com/capitalize-ai/realtime-messaging/pkg/logger"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes err as {error, code} with the status for its kind.
// Internal errors are logged with the request's correlation id and never
// leak their text.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		logger.FromContext(r.Context()).Error("request failed", zap.Error(err))
	}
	writeJSON(w, apperr.HTTPStatus(kind), model.ErrorFrame{
		Error: apperr.Message(err),
		Code:  string(kind),
	})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("invalid request body")
	}
	return nil
}

// idParam reads and validates a uuid path parameter.
func idParam(r *http.Request, name, kind string) (string, error) {
	id := chi.URLParam(r, name)
	if err := middleware.ValidateID(kind, id); err != nil {
		return "", err
	}
	return id, nil
}
