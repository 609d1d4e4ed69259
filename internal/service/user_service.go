package service

import (
	"context"
	"log/slog"

	"github.com/mmynk/blueledger/internal/auth"
	"github.com/mmynk/blueledger/internal/models"
	"github.com/mmynk/blueledger/internal/storage"
)

// UserService reads and edits the caller's own profile.
type UserService struct {
	store  storage.UserStore
	logger *slog.Logger
}

func NewUserService(store storage.UserStore, logger *slog.Logger) *UserService {
	return &UserService{store: store, logger: logger}
}

// Me returns the caller's user record.
func (s *UserService) Me(ctx context.Context, id *auth.Identity) (*models.User, error) {
	user, err := s.store.GetUserByID(ctx, id.UserID)
	if err != nil {
		return nil, storeError(err, "User")
	}
	return user, nil
}

// UpdateProfile changes the caller's display name and bio.
func (s *UserService) UpdateProfile(ctx context.Context, id *auth.Identity, in UpdateProfileInput) (*models.User, error) {
	user, err := s.store.GetUserByID(ctx, id.UserID)
	if err != nil {
		return nil, storeError(err, "User")
	}
	if in.DisplayName != nil {
		user.DisplayName = *in.DisplayName
	}
	if in.Bio != nil {
		user.Bio = *in.Bio
	}

	if err := s.store.UpdateUser(ctx, user); err != nil {
		return nil, storeError(err, "User")
	}
	s.logger.Info("Profile updated", "user_id", user.ID)
	return user, nil
}
