package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mmynk/blueledger/internal/apperr"
	"github.com/mmynk/blueledger/internal/auth"
	"github.com/mmynk/blueledger/internal/mail"
	"github.com/mmynk/blueledger/internal/models"
	"github.com/mmynk/blueledger/internal/storage"
)

// Mailer schedules an email without waiting for it.
type Mailer interface {
	SendMail(ctx context.Context, msg mail.Message)
}

// FriendService manages friend requests and friendships.
type FriendService struct {
	store    storage.Store
	notifier Notifier
	mailer   Mailer
	appURL   string
	logger   *slog.Logger
}

func NewFriendService(store storage.Store, notifier Notifier, mailer Mailer, appURL string, logger *slog.Logger) *FriendService {
	return &FriendService{store: store, notifier: notifier, mailer: mailer, appURL: appURL, logger: logger}
}

// List returns the caller's friendships, pending and accepted.
func (s *FriendService) List(ctx context.Context, id *auth.Identity) ([]*models.Friendship, error) {
	friendships, err := s.store.ListFriendships(ctx, id.UserID)
	if err != nil {
		return nil, storeError(err, "Friendships")
	}
	return friendships, nil
}

type friendRequestNotice struct {
	FriendshipID string `json:"friendshipId"`
	FromUserID   string `json:"fromUserId"`
	FromName     string `json:"fromName"`
}

// Request sends a friend request to the user registered under email.
func (s *FriendService) Request(ctx context.Context, id *auth.Identity, in FriendRequestInput) (*models.Friendship, error) {
	s.logger.Info("FriendRequest received", "user_id", id.UserID)

	addressee, err := s.store.GetUserByEmail(ctx, strings.ToLower(in.Email))
	if err != nil {
		return nil, storeError(err, "User")
	}
	if addressee.ID == id.UserID {
		return nil, apperr.Validation("invalid friend request", apperr.FieldError{
			Field: "email", Rule: "friend", Message: "cannot befriend yourself",
		})
	}

	requester, err := s.store.GetUserByID(ctx, id.UserID)
	if err != nil {
		return nil, storeError(err, "User")
	}

	f := &models.Friendship{
		RequesterID: id.UserID,
		AddresseeID: addressee.ID,
		Status:      models.FriendshipPending,
	}
	if err := s.store.CreateFriendship(ctx, f); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, apperr.Conflict("Friendship already exists")
		}
		return nil, storeError(err, "Friendship")
	}

	s.logger.Info("Friend request created", "friendship_id", f.ID)
	s.notifier.Notify(ctx, addressee.ID, models.NotificationFriendRequest, friendRequestNotice{
		FriendshipID: f.ID,
		FromUserID:   requester.ID,
		FromName:     requester.DisplayName,
	})
	s.mailer.SendMail(ctx, mail.Message{
		To:      addressee.Email,
		Subject: fmt.Sprintf("%s sent you a friend request", requester.DisplayName),
		Body: fmt.Sprintf("Hi %s,\n\n%s (%s) wants to be your friend on Blue Ledger.\n\nOpen %s to respond.\n",
			addressee.DisplayName, requester.DisplayName, requester.Email, s.appURL),
	})
	return f, nil
}

// Accept accepts a pending request addressed to the caller.
func (s *FriendService) Accept(ctx context.Context, id *auth.Identity, friendshipID string) (*models.Friendship, error) {
	f, err := s.store.GetFriendship(ctx, friendshipID)
	if err != nil {
		return nil, storeError(err, "Friendship")
	}
	if err := auth.AuthorizeOwnership(id, f.AddresseeID); err != nil {
		return nil, err
	}
	if f.Status == models.FriendshipAccepted {
		return f, nil
	}

	accepted, err := s.store.AcceptFriendship(ctx, friendshipID)
	if err != nil {
		return nil, storeError(err, "Friendship")
	}
	s.logger.Info("Friend request accepted", "friendship_id", friendshipID)
	return accepted, nil
}

// Remove deletes a friendship the caller is part of, declining it if pending.
func (s *FriendService) Remove(ctx context.Context, id *auth.Identity, friendshipID string) (*models.Friendship, error) {
	f, err := s.store.GetFriendship(ctx, friendshipID)
	if err != nil {
		return nil, storeError(err, "Friendship")
	}
	if !f.Involves(id.UserID) {
		return nil, apperr.Forbidden("You do not have access to this friendship")
	}

	deleted, err := s.store.DeleteFriendship(ctx, friendshipID)
	if err != nil {
		return nil, storeError(err, "Friendship")
	}
	s.logger.Info("Friendship removed", "friendship_id", friendshipID)
	return deleted, nil
}
