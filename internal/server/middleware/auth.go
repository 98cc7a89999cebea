// Package middleware resolves the owner of a request from its bearer token.
package middleware

import (
	"context"
	"net/http"
	"strings"
)

// ContextKey is a typed key for context values to avoid collisions.
type ContextKey string

const ownerIDKey ContextKey = "ownerID"

// Anonymous is the owner of requests made without a token.
const Anonymous = "anonymous"

// TokenValidator validates a bearer token and returns its owner id.
type TokenValidator interface {
	ValidateToken(tokenString string) (OwnerIDGetter, error)
}

// OwnerIDGetter extracts the owner id from token claims.
type OwnerIDGetter interface {
	GetOwnerID() string
}

// AuthMiddleware attaches the owner id to the request context. A request
// without an Authorization header is served as Anonymous; a header that is
// present but malformed or invalid is rejected with 401. A nil validator
// disables auth and every request is Anonymous.
func AuthMiddleware(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if validator == nil || authHeader == "" {
				next.ServeHTTP(w, r.WithContext(WithOwnerID(r.Context(), Anonymous)))
				return
			}

			parts := strings.Fields(authHeader)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := validator.ValidateToken(parts[1])
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			owner := claims.GetOwnerID()
			if owner == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOwnerID(r.Context(), owner)))
		})
	}
}

// WithOwnerID returns ctx carrying owner.
func WithOwnerID(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerIDKey, owner)
}

// OwnerID returns the owner attached by AuthMiddleware, or Anonymous.
func OwnerID(r *http.Request) string {
	if owner, ok := r.Context().Value(ownerIDKey).(string); ok && owner != "" {
		return owner
	}
	return Anonymous
}
