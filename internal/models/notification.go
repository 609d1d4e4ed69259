package models

import "encoding/json"

// NotificationType enumerates what a notification is about.
type NotificationType string

const (
	NotificationFriendRequest  NotificationType = "FRIEND_REQUEST"
	NotificationAddedToExpense NotificationType = "ADDED_TO_EXPENSE"
	NotificationGroupInvite    NotificationType = "GROUP_INVITE"
)

// Valid reports whether t is one of the known notification types.
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationFriendRequest, NotificationAddedToExpense, NotificationGroupInvite:
		return true
	}
	return false
}

// Notification is the durable record behind a realtime push.
// It is created as a side effect of another mutation and only ever changes
// through mark-read.
type Notification struct {
	ID              string           `json:"id"`
	RecipientUserID string           `json:"recipientUserId"`
	Type            NotificationType `json:"type"`
	IsRead          bool             `json:"isRead"`
	Payload         json.RawMessage  `json:"payload"`
	CreatedAt       int64            `json:"createdAt"`
}
