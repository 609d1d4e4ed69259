package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mmynk/blueledger/internal/apperr"
	"github.com/mmynk/blueledger/internal/storage"
)

// Identity is the authenticated caller, resolved once per request.
type Identity struct {
	UserID        string
	Email         string
	EmailVerified bool
	Bio           string
}

// Gate resolves the caller of a request. It has two outcomes: an Identity,
// or an Unauthorized error.
type Gate struct {
	jwt   *JWTManager
	users storage.UserStore
}

func NewGate(jwtManager *JWTManager, users storage.UserStore) *Gate {
	return &Gate{jwt: jwtManager, users: users}
}

// Authorize validates the bearer token on r and loads the user it names.
// A token for a user that no longer exists is rejected.
func (g *Gate) Authorize(r *http.Request) (*Identity, error) {
	token, err := BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return nil, apperr.Unauthorized("Authentication required", err)
	}

	claims, err := g.jwt.Validate(token)
	if err != nil {
		return nil, apperr.Unauthorized("Invalid or expired session", err)
	}

	user, err := g.users.GetUserByID(r.Context(), claims.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Unauthorized("Invalid or expired session", err)
	}
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("load identity: %w", err))
	}

	return &Identity{
		UserID:        user.ID,
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
		Bio:           user.Bio,
	}, nil
}

// AuthorizeOwnership rejects an identity that does not own the resource.
func AuthorizeOwnership(id *Identity, ownerID string) error {
	if id == nil || id.UserID != ownerID {
		return apperr.Forbidden("You do not have access to this resource")
	}
	return nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", ErrInvalidToken
	}
	return parts[1], nil
}

type contextKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored by WithIdentity, if any.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(*Identity)
	return id, ok && id != nil
}

// UserID returns the authenticated user id in ctx, or "".
func UserID(ctx context.Context) string {
	if id, ok := FromContext(ctx); ok {
		return id.UserID
	}
	return ""
}
