// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"errors"

	"github.com/mmynk/blueledger/internal/models"
)

var (
	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write collides with a uniqueness constraint.
	ErrConflict = errors.New("already exists")
)

// UserStore persists user accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUsersByIDs(ctx context.Context, ids []string) (map[string]*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	MarkEmailVerified(ctx context.Context, id string) error
}

// ExpenseStore persists expenses. Every method touches exactly one expense.
type ExpenseStore interface {
	// CreateExpense persists a new expense with its participants.
	// ID and timestamps are populated by the store when empty.
	CreateExpense(ctx context.Context, expense *models.Expense) error

	// GetExpense retrieves an expense by its ID.
	GetExpense(ctx context.Context, id string) (*models.Expense, error)

	// ListExpensesForUser returns expenses owned by or shared with userID, newest first.
	ListExpensesForUser(ctx context.Context, userID string) ([]*models.Expense, error)

	// UpdateExpense overwrites an existing expense (last write wins).
	UpdateExpense(ctx context.Context, expense *models.Expense) error

	// DeleteExpense removes an expense and returns its prior state.
	DeleteExpense(ctx context.Context, id string) (*models.Expense, error)
}

// NotificationStore persists notification records.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	GetNotification(ctx context.Context, id string) (*models.Notification, error)
	ListNotifications(ctx context.Context, recipientID string, unreadOnly bool) ([]*models.Notification, error)
	CountUnread(ctx context.Context, recipientID string) (int, error)
	MarkNotificationRead(ctx context.Context, id string) error

	// MarkAllNotificationsRead flags every unread notification of the
	// recipient as read and returns how many changed.
	MarkAllNotificationsRead(ctx context.Context, recipientID string) (int64, error)
}

// FriendshipStore persists friendships.
type FriendshipStore interface {
	CreateFriendship(ctx context.Context, f *models.Friendship) error
	GetFriendship(ctx context.Context, id string) (*models.Friendship, error)
	FindFriendship(ctx context.Context, userA, userB string) (*models.Friendship, error)
	ListFriendships(ctx context.Context, userID string) ([]*models.Friendship, error)
	AcceptFriendship(ctx context.Context, id string) (*models.Friendship, error)
	DeleteFriendship(ctx context.Context, id string) (*models.Friendship, error)
}

// GroupStore persists groups and their members.
type GroupStore interface {
	CreateGroup(ctx context.Context, group *models.Group) error
	GetGroup(ctx context.Context, id string) (*models.Group, error)
	ListGroupsForUser(ctx context.Context, userID string) ([]*models.Group, error)
	AddGroupMember(ctx context.Context, groupID, userID string) error
	DeleteGroup(ctx context.Context, id string) (*models.Group, error)
}

// Store defines the interface for all storage operations.
// This abstraction allows swapping storage backends (SQLite, PostgreSQL, etc.)
// without changing the service layer.
type Store interface {
	UserStore
	ExpenseStore
	NotificationStore
	FriendshipStore
	GroupStore

	// Close releases any resources held by the store.
	Close() error
}
