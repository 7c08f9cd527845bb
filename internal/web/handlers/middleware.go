package handlers

import (
	"context"
	"net/http"
	"strings"

	"firebase.google.com/go/v4/auth"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// callerContextKey stores the authenticated caller id in request context.
	callerContextKey contextKey = "caller"
)

// TokenVerifier verifies a caller's ID token. *auth.Client satisfies
// it; tests substitute a stub.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// AuthMiddleware requires a Bearer ID token and puts the verified
// caller id in context. The core trusts this id as given; there is no
// further authentication below this layer.
func AuthMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if raw == "" || raw == r.Header.Get("Authorization") {
				jsonError(w, "missing bearer token", http.StatusUnauthorized)
				return
			}

			tok, err := verifier.VerifyIDToken(r.Context(), raw)
			if err != nil {
				jsonError(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), callerContextKey, tok.UID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DevAuthMiddleware trusts an X-User-ID header. Development mode only,
// when no Firebase project is configured.
func DevAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := r.Header.Get("X-User-ID")
		if uid == "" {
			jsonError(w, "missing X-User-ID header", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), callerContextKey, uid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CallerFromContext extracts the authenticated caller id.
func CallerFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(callerContextKey).(string)
	return id, ok
}
