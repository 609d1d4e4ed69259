package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/blueledger/internal/models"
	"github.com/mmynk/blueledger/internal/storage"
)

const friendshipColumns = `id, requester_id, addressee_id, status, created_at, updated_at`

// CreateFriendship persists a new friendship. A pair of users can only be
// linked once, whichever side sent the request.
func (s *SQLiteStore) CreateFriendship(ctx context.Context, f *models.Friendship) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.CreatedAt == 0 {
		f.CreatedAt = time.Now().Unix()
	}
	f.UpdatedAt = f.CreatedAt

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := findFriendship(ctx, tx, f.RequesterID, f.AddresseeID); err == nil {
		return fmt.Errorf("friendship between %s and %s: %w", f.RequesterID, f.AddresseeID, storage.ErrConflict)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO friendships (`+friendshipColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.RequesterID, f.AddresseeID, string(f.Status), f.CreatedAt, f.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("friendship between %s and %s: %w", f.RequesterID, f.AddresseeID, storage.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert friendship: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetFriendship retrieves a friendship by ID.
func (s *SQLiteStore) GetFriendship(ctx context.Context, id string) (*models.Friendship, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+friendshipColumns+` FROM friendships WHERE id = ?`, id)
	f, err := scanFriendship(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("friendship %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get friendship: %w", err)
	}
	return f, nil
}

// FindFriendship returns the friendship between two users in either direction.
func (s *SQLiteStore) FindFriendship(ctx context.Context, userA, userB string) (*models.Friendship, error) {
	return findFriendship(ctx, s.db, userA, userB)
}

// ListFriendships returns every friendship involving the user.
func (s *SQLiteStore) ListFriendships(ctx context.Context, userID string) ([]*models.Friendship, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+friendshipColumns+` FROM friendships
		 WHERE requester_id = ? OR addressee_id = ?
		 ORDER BY created_at DESC, id`,
		userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list friendships: %w", err)
	}
	defer rows.Close()

	friendships := []*models.Friendship{}
	for rows.Next() {
		f, err := scanFriendship(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan friendship: %w", err)
		}
		friendships = append(friendships, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate friendships: %w", err)
	}
	return friendships, nil
}

// AcceptFriendship moves a friendship to ACCEPTED and returns it.
func (s *SQLiteStore) AcceptFriendship(ctx context.Context, id string) (*models.Friendship, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE friendships SET status = ?, updated_at = ? WHERE id = ?`,
		string(models.FriendshipAccepted), time.Now().Unix(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to accept friendship: %w", err)
	}
	if err := expectOneRow(res, "friendship", id); err != nil {
		return nil, err
	}
	return s.GetFriendship(ctx, id)
}

// DeleteFriendship removes a friendship and returns its prior state.
func (s *SQLiteStore) DeleteFriendship(ctx context.Context, id string) (*models.Friendship, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+friendshipColumns+` FROM friendships WHERE id = ?`, id)
	f, err := scanFriendship(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("friendship %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get friendship: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM friendships WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete friendship: %w", err)
	}
	if err := expectOneRow(res, "friendship", id); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return f, nil
}

func findFriendship(ctx context.Context, q querier, userA, userB string) (*models.Friendship, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+friendshipColumns+` FROM friendships
		 WHERE (requester_id = ? AND addressee_id = ?)
		    OR (requester_id = ? AND addressee_id = ?)`,
		userA, userB, userB, userA,
	)
	f, err := scanFriendship(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("friendship between %s and %s: %w", userA, userB, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find friendship: %w", err)
	}
	return f, nil
}

func scanFriendship(row rowScanner) (*models.Friendship, error) {
	f := &models.Friendship{}
	var status string
	if err := row.Scan(&f.ID, &f.RequesterID, &f.AddresseeID, &status, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	f.Status = models.FriendshipStatus(status)
	return f, nil
}
