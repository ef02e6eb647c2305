package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// contextKey keeps the owner id out of reach of other packages' context keys.
type contextKey string

const ownerIDKey contextKey = "ownerID"

// CookieName is the cookie the browser session token travels in.
const CookieName = "token"

// RequireAuth rejects requests without a valid owner token with 401 and
// otherwise stores the owner id in the request context.
//
// The token is read from the Authorization header first (CLI and other
// remote cores), then from the HttpOnly cookie (browser).
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ownerID, err := extractOwnerID(r, tokens)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthenticated","message":"valid authentication required"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOwnerID(r.Context(), ownerID)))
		})
	}
}

// OptionalAuth attaches the owner id when a valid token is present and lets
// anonymous requests through unchanged.
func OptionalAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ownerID, err := extractOwnerID(r, tokens); err == nil {
				r = r.WithContext(WithOwnerID(r.Context(), ownerID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithOwnerID returns a copy of ctx carrying ownerID.
func WithOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerIDKey, ownerID)
}

// OwnerIDFromContext returns the authenticated owner id, or ("", false) for
// anonymous requests.
func OwnerIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ownerIDKey).(string)
	return id, ok && id != ""
}

var errNoToken = errors.New("auth: no token presented")

func extractOwnerID(r *http.Request, tokens *TokenService) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		token, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			return "", errNoToken
		}
		return tokens.Validate(strings.TrimSpace(token))
	}

	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return "", errNoToken
	}
	return tokens.Validate(cookie.Value)
}
