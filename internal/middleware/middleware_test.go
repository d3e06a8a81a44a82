package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/realtime-messaging/internal/model"
	"github.com/capitalize-ai/realtime-messaging/internal/store"
	"github.com/capitalize-ai/realtime-messaging/pkg/apperr"
	"github.com/capitalize-ai/realtime-messaging/pkg/logger"
)

const secret = "test-secret"

func newAuth(t *testing.T) (*Authenticator, *model.User) {
	t.Helper()
	users := store.NewMemory()
	alice := &model.User{ID: "u-alice", Username: "alice"}
	require.NoError(t, users.PutUser(context.Background(), alice))
	return NewAuthenticator(secret, users), alice
}

func whoami(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(GetUser(r.Context()).Username))
}

func TestAuthenticatorMiddleware(t *testing.T) {
	auth, alice := newAuth(t)
	valid, err := SignToken(secret, alice, time.Minute)
	require.NoError(t, err)
	expired, err := SignToken(secret, alice, -time.Minute)
	require.NoError(t, err)
	foreign, err := SignToken("other-secret", alice, time.Minute)
	require.NoError(t, err)
	ghost, err := SignToken(secret, &model.User{ID: "u-ghost", Username: "ghost"}, time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + valid, http.StatusOK},
		{"lowercase scheme", "bearer " + valid, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"wrong secret", "Bearer " + foreign, http.StatusUnauthorized},
		{"unknown user", "Bearer " + ghost, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			auth.Middleware(http.HandlerFunc(whoami)).ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "alice", rec.Body.String())
				return
			}
			var frame model.ErrorFrame
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &frame))
			assert.Equal(t, "unauthenticated", frame.Code)
		})
	}
}

func TestAuthenticateAcceptsUserIDClaim(t *testing.T) {
	auth, _ := newAuth(t)

	claims := Claims{UserID: "u-alice"}
	token, err := jwtSign(claims)
	require.NoError(t, err)

	user, err := auth.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)

	_, err = auth.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, apperr.ErrInvalidCredentials)
}

func TestLoggingSetsCorrelationID(t *testing.T) {
	var seen string
	h := Logging(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Correlation-ID"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", seen)
}

func TestUserRateLimit(t *testing.T) {
	h := UserRateLimit(2, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(userID string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithUser(req.Context(), &model.User{ID: userID}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, call("a"))
	assert.Equal(t, http.StatusNoContent, call("a"))
	assert.Equal(t, http.StatusTooManyRequests, call("a"))
	assert.Equal(t, http.StatusNoContent, call("b"))
}

func TestValidation(t *testing.T) {
	assert.NoError(t, ValidateID("conversation", "0190b6a0-7c1e-7000-8000-000000000000"))
	err := ValidateID("conversation", "nope")
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func jwtSign(claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
