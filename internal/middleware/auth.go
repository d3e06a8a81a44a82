// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/capitalize-ai/realtime-messaging/internal/model"
	"github.com/capitalize-ai/realtime-messaging/internal/store"
	"github.com/capitalize-ai/realtime-messaging/pkg/apperr"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// UserKey is the context key for the authenticated *model.User.
	UserKey ContextKey = "user"
)

// Claims represents JWT claims. The subject is the user id; user_id is
// accepted for tokens issued by the legacy auth service.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
}

func (c *Claims) userID() string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.UserID
}

// ParseToken verifies an HMAC-signed token.
func ParseToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// SignToken issues an HS256 token for user. Used by tooling and tests.
func SignToken(secret string, user *model.User, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Username: user.Username,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Authenticator resolves bearer credentials to users.
type Authenticator struct {
	secret string
	users  store.UserStore
}

// NewAuthenticator creates an authenticator.
func NewAuthenticator(secret string, users store.UserStore) *Authenticator {
	return &Authenticator{secret: secret, users: users}
}

// Authenticate returns the user a token belongs to.
func (a *Authenticator) Authenticate(ctx context.Context, tokenString string) (*model.User, error) {
	if tokenString == "" {
		return nil, apperr.ErrInvalidCredentials
	}
	claims, err := ParseToken(a.secret, tokenString)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnauthenticated, "invalid token", err)
	}
	id := claims.userID()
	if id == "" {
		return nil, apperr.ErrInvalidCredentials
	}

	user, err := a.users.GetUser(ctx, id)
	if errors.Is(err, apperr.ErrUserNotFound) {
		return nil, apperr.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Middleware requires a valid bearer token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, apperr.Unauthenticated("missing authorization header"))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			writeError(w, apperr.Unauthenticated("invalid authorization header format"))
			return
		}

		user, err := a.Authenticate(r.Context(), parts[1])
		if err != nil {
			writeError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// WithUser stores the authenticated user in ctx.
func WithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

// GetUser gets the authenticated user from context.
func GetUser(ctx context.Context) *model.User {
	if v, ok := ctx.Value(UserKey).(*model.User); ok {
		return v
	}
	return nil
}

// GetUserID gets the authenticated user id from context.
func GetUserID(ctx context.Context) string {
	if u := GetUser(ctx); u != nil {
		return u.ID
	}
	return ""
}

func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.HTTPStatus(kind))
	_ = json.NewEncoder(w).Encode(model.ErrorFrame{Error: apperr.Message(err), Code: string(kind)})
}
