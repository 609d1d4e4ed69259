package middleware

import (
	"context"
	"net/http"

	"github.com/mmynk/blueledger/internal/auth"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const requestInfoKey contextKey = "request_info"

// RequestInfo is per-request state shared between the outer middleware and
// the handlers they wrap. Handlers fill it in; the logger reads it after.
type RequestInfo struct {
	UserID string
}

// WithRequestInfo attaches a fresh RequestInfo to ctx.
func WithRequestInfo(ctx context.Context) (context.Context, *RequestInfo) {
	info := &RequestInfo{}
	return context.WithValue(ctx, requestInfoKey, info), info
}

// GetRequestInfo returns the RequestInfo in ctx, or nil.
func GetRequestInfo(ctx context.Context) *RequestInfo {
	info, _ := ctx.Value(requestInfoKey).(*RequestInfo)
	return info
}

// GetUserID extracts the caller's user ID from the context.
// Returns empty string if not known.
func GetUserID(ctx context.Context) string {
	if id := auth.UserID(ctx); id != "" {
		return id
	}
	if info := GetRequestInfo(ctx); info != nil {
		return info.UserID
	}
	return ""
}

// SetUserID records the authenticated user for the outer middleware.
func SetUserID(ctx context.Context, userID string) {
	if info := GetRequestInfo(ctx); info != nil {
		info.UserID = userID
	}
}

// OptionalAuth validates a bearer token if present, but allows requests
// without one. The user ID it finds keys rate limits and logs only; routes
// that need an identity still go through auth.Gate.
func OptionalAuth(jwtManager *auth.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if GetRequestInfo(ctx) == nil {
				ctx, _ = WithRequestInfo(ctx)
				r = r.WithContext(ctx)
			}

			if token, err := auth.BearerToken(r.Header.Get("Authorization")); err == nil {
				// Validate token (ignore errors - optional auth)
				if claims, err := jwtManager.Validate(token); err == nil {
					SetUserID(ctx, claims.UserID)
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
