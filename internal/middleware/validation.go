package middleware

import (
	"github.com/google/uuid"

	"github.com/capitalize-ai/realtime-messaging/pkg/apperr"
)

// ValidateID validates a path identifier.
func ValidateID(kind, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperr.Validation("invalid " + kind + " id format")
	}
	return nil
}
