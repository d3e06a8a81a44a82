package apperr_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/capitalize-ai/realtime-messaging/pkg/apperr"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperr.Kind
	}{
		{"validation", apperr.ErrContentRequired, apperr.KindValidation},
		{"wrapped not found", fmt.Errorf("lookup: %w", apperr.ErrMessageNotFound), apperr.KindNotFound},
		{"forbidden", apperr.ErrEditForbidden, apperr.KindPermissionDenied},
		{"plain error", errors.New("boom"), apperr.KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, apperr.KindOf(tt.err))
		})
	}
}

func TestMessageHidesInternalErrors(t *testing.T) {
	assert.Equal(t, "internal error", apperr.Message(errors.New("pq: connection refused")))
	assert.Equal(t, "internal error", apperr.Message(apperr.Internal("db down", errors.New("x"))))
	assert.Equal(t, "Message not found", apperr.Message(fmt.Errorf("edit: %w", apperr.ErrMessageNotFound)))
}

func TestSentinelsMatchThroughWrapping(t *testing.T) {
	err := fmt.Errorf("get message: %w", apperr.ErrMessageNotFound)
	assert.ErrorIs(t, err, apperr.ErrMessageNotFound)
	assert.NotErrorIs(t, err, apperr.ErrConversationNotFound)
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("smtp: 421")
	err := apperr.Wrap(apperr.KindInternal, "send failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "send failed: smtp: 421", err.Error())
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, apperr.HTTPStatus(apperr.KindValidation))
	assert.Equal(t, http.StatusNotFound, apperr.HTTPStatus(apperr.KindNotFound))
	assert.Equal(t, http.StatusForbidden, apperr.HTTPStatus(apperr.KindPermissionDenied))
	assert.Equal(t, http.StatusUnauthorized, apperr.HTTPStatus(apperr.KindUnauthenticated))
	assert.Equal(t, http.StatusTooManyRequests, apperr.HTTPStatus(apperr.KindRateLimited))
	assert.Equal(t, http.StatusInternalServerError, apperr.HTTPStatus(apperr.KindInternal))
}
