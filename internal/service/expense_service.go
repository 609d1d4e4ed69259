package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mmynk/blueledger/internal/apperr"
	"github.com/mmynk/blueledger/internal/auth"
	"github.com/mmynk/blueledger/internal/models"
	"github.com/mmynk/blueledger/internal/storage"
)

// ExpenseService creates, reads, updates and deletes expenses.
type ExpenseService struct {
	store    storage.Store
	notifier Notifier
	logger   *slog.Logger
}

// Notifier is the subset of notify.Notifier the services use.
type Notifier interface {
	Notify(ctx context.Context, recipientID string, typ models.NotificationType, payload any) *models.Notification
}

// NewExpenseService creates a new ExpenseService with the given storage backend.
func NewExpenseService(store storage.Store, notifier Notifier, logger *slog.Logger) *ExpenseService {
	return &ExpenseService{store: store, notifier: notifier, logger: logger}
}

// Create stores a new expense owned by the caller.
func (s *ExpenseService) Create(ctx context.Context, id *auth.Identity, in CreateExpenseInput) (*models.Expense, error) {
	s.logger.Info("CreateExpense request received", "user_id", id.UserID, "shared_with", len(in.SharedWith))

	total := models.ComputeTotal(in.Price, in.Quantity)
	if in.TotalPrice != nil {
		total = *in.TotalPrice
	}

	sharedWith, err := s.checkParticipants(ctx, id.UserID, in.SharedWith)
	if err != nil {
		return nil, err
	}

	expense := &models.Expense{
		Description: in.Description,
		Price:       in.Price,
		Quantity:    in.Quantity,
		TotalPrice:  total,
		OwnerID:     id.UserID,
		SharedWith:  sharedWith,
	}
	if err := s.store.CreateExpense(ctx, expense); err != nil {
		return nil, storeError(err, "Expense")
	}

	s.logger.Info("Expense created", "expense_id", expense.ID, "user_id", id.UserID)
	s.notifyParticipants(ctx, expense, sharedWith)
	return expense, nil
}

// Get returns an expense the caller owns or shares.
func (s *ExpenseService) Get(ctx context.Context, id *auth.Identity, expenseID string) (*models.Expense, error) {
	expense, err := s.store.GetExpense(ctx, expenseID)
	if err != nil {
		return nil, storeError(err, "Expense")
	}
	if expense.OwnerID != id.UserID && !expense.IsSharedWith(id.UserID) {
		return nil, apperr.Forbidden("You do not have access to this expense")
	}
	return expense, nil
}

// List returns every expense the caller owns or shares, newest first.
func (s *ExpenseService) List(ctx context.Context, id *auth.Identity) ([]*models.Expense, error) {
	expenses, err := s.store.ListExpensesForUser(ctx, id.UserID)
	if err != nil {
		return nil, storeError(err, "Expenses")
	}
	return expenses, nil
}

// Update applies a partial update. Only the owner may update.
// When price or quantity changes without a totalPrice, the total is
// recomputed.
func (s *ExpenseService) Update(ctx context.Context, id *auth.Identity, expenseID string, in UpdateExpenseInput) (*models.Expense, error) {
	s.logger.Info("UpdateExpense request received", "expense_id", expenseID, "user_id", id.UserID)

	expense, err := s.store.GetExpense(ctx, expenseID)
	if err != nil {
		return nil, storeError(err, "Expense")
	}
	if err := auth.AuthorizeOwnership(id, expense.OwnerID); err != nil {
		return nil, err
	}

	if in.Description != nil {
		expense.Description = *in.Description
	}
	if in.Price != nil {
		expense.Price = *in.Price
	}
	if in.Quantity != nil {
		expense.Quantity = *in.Quantity
	}
	switch {
	case in.TotalPrice != nil:
		if !models.TotalMatches(*in.TotalPrice, expense.Price, expense.Quantity) {
			return nil, apperr.Validation("invalid expense update", totalMismatch())
		}
		expense.TotalPrice = *in.TotalPrice
	case in.Price != nil || in.Quantity != nil:
		expense.TotalPrice = models.ComputeTotal(expense.Price, expense.Quantity)
	}

	previous := expense.SharedWith
	if in.SharedWith != nil {
		sharedWith, err := s.checkParticipants(ctx, id.UserID, *in.SharedWith)
		if err != nil {
			return nil, err
		}
		expense.SharedWith = sharedWith
	}

	if err := s.store.UpdateExpense(ctx, expense); err != nil {
		return nil, storeError(err, "Expense")
	}

	s.logger.Info("Expense updated", "expense_id", expense.ID)
	s.notifyParticipants(ctx, expense, findNewParticipants(expense.SharedWith, previous))
	return expense, nil
}

// Delete removes an expense and returns its prior state. Only the owner may
// delete; a second delete of the same id is NotFound.
func (s *ExpenseService) Delete(ctx context.Context, id *auth.Identity, expenseID string) (*models.Expense, error) {
	s.logger.Info("DeleteExpense request received", "expense_id", expenseID, "user_id", id.UserID)

	expense, err := s.store.GetExpense(ctx, expenseID)
	if err != nil {
		return nil, storeError(err, "Expense")
	}
	if err := auth.AuthorizeOwnership(id, expense.OwnerID); err != nil {
		return nil, err
	}

	deleted, err := s.store.DeleteExpense(ctx, expenseID)
	if err != nil {
		return nil, storeError(err, "Expense")
	}

	s.logger.Info("Expense deleted", "expense_id", expenseID)
	return deleted, nil
}

// checkParticipants dedupes and sorts ids, and requires each to be an
// accepted friend of ownerID. Sorted matches the order reads return.
func (s *ExpenseService) checkParticipants(ctx context.Context, ownerID string, ids []string) ([]string, error) {
	ids = dedupe(ids)
	sort.Strings(ids)
	for _, other := range ids {
		if other == ownerID {
			return nil, apperr.Validation("invalid expense", apperr.FieldError{
				Field: "sharedWith", Rule: "friend", Message: "cannot include yourself",
			})
		}
		f, err := s.store.FindFriendship(ctx, ownerID, other)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && f.Status != models.FriendshipAccepted) {
			return nil, apperr.Validation("invalid expense", apperr.FieldError{
				Field: "sharedWith", Rule: "friend", Message: fmt.Sprintf("%s is not a friend", other),
			})
		}
		if err != nil {
			return nil, storeError(err, "Friendship")
		}
	}
	return ids, nil
}

type expenseNotice struct {
	ExpenseID   string  `json:"expenseId"`
	Description string  `json:"description"`
	TotalPrice  float64 `json:"totalPrice"`
	OwnerID     string  `json:"ownerId"`
}

func (s *ExpenseService) notifyParticipants(ctx context.Context, expense *models.Expense, recipients []string) {
	notice := expenseNotice{
		ExpenseID:   expense.ID,
		Description: expense.Description,
		TotalPrice:  expense.TotalPrice,
		OwnerID:     expense.OwnerID,
	}
	for _, userID := range recipients {
		s.notifier.Notify(ctx, userID, models.NotificationAddedToExpense, notice)
	}
}
