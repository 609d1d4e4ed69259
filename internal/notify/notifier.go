package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mmynk/blueledger/internal/models"
	"github.com/mmynk/blueledger/internal/realtime"
	"github.com/mmynk/blueledger/internal/storage"
)

// EventNotification is the realtime event carrying a new Notification.
const EventNotification = "notification"

// Notifier persists a Notification record and pushes it to its recipient.
type Notifier struct {
	store      storage.NotificationStore
	dispatcher *Dispatcher
	logger     *slog.Logger
}

func NewNotifier(store storage.NotificationStore, dispatcher *Dispatcher, logger *slog.Logger) *Notifier {
	return &Notifier{store: store, dispatcher: dispatcher, logger: logger}
}

// Notify records a notification for recipientID and pushes it on the
// recipient's channel. Failures are logged; the returned record is nil when
// it could not be stored.
func (n *Notifier) Notify(ctx context.Context, recipientID string, typ models.NotificationType, payload any) *models.Notification {
	raw, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("encode notification payload", "type", typ, "recipient", recipientID, "error", err)
		return nil
	}

	record := &models.Notification{
		ID:              uuid.New().String(),
		RecipientUserID: recipientID,
		Type:            typ,
		Payload:         raw,
	}
	if err := n.store.CreateNotification(ctx, record); err != nil {
		n.logger.Error("store notification", "type", typ, "recipient", recipientID, "error", err)
		return nil
	}

	n.dispatcher.Notify(ctx, realtime.UserChannel(recipientID), EventNotification, record)
	return record
}
