package service

import (
	"context"
	"log/slog"

	"github.com/mmynk/blueledger/internal/apperr"
	"github.com/mmynk/blueledger/internal/auth"
	"github.com/mmynk/blueledger/internal/models"
	"github.com/mmynk/blueledger/internal/storage"
)

// NotificationService reads notifications and marks them read.
type NotificationService struct {
	store  storage.NotificationStore
	logger *slog.Logger
}

func NewNotificationService(store storage.NotificationStore, logger *slog.Logger) *NotificationService {
	return &NotificationService{store: store, logger: logger}
}

// List returns the caller's notifications, newest first, with the unread count.
func (s *NotificationService) List(ctx context.Context, id *auth.Identity, unreadOnly bool) ([]*models.Notification, int, error) {
	list, err := s.store.ListNotifications(ctx, id.UserID, unreadOnly)
	if err != nil {
		return nil, 0, storeError(err, "Notifications")
	}
	unread, err := s.store.CountUnread(ctx, id.UserID)
	if err != nil {
		return nil, 0, storeError(err, "Notifications")
	}
	return list, unread, nil
}

// MarkRead flags one of the caller's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, id *auth.Identity, notificationID string) (*models.Notification, error) {
	n, err := s.store.GetNotification(ctx, notificationID)
	if err != nil {
		return nil, storeError(err, "Notification")
	}
	if n.RecipientUserID != id.UserID {
		return nil, apperr.Forbidden("You do not have access to this notification")
	}
	if n.IsRead {
		return n, nil
	}

	if err := s.store.MarkNotificationRead(ctx, notificationID); err != nil {
		return nil, storeError(err, "Notification")
	}
	n.IsRead = true
	return n, nil
}

// MarkAllRead flags every unread notification of the caller as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, id *auth.Identity) (int64, error) {
	changed, err := s.store.MarkAllNotificationsRead(ctx, id.UserID)
	if err != nil {
		return 0, storeError(err, "Notifications")
	}
	s.logger.Info("Notifications marked read", "user_id", id.UserID, "count", changed)
	return changed, nil
}
