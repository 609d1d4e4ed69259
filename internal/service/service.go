// Package service holds the mutation handlers behind the HTTP API.
//
// Every method takes the caller's Identity (already resolved by the auth
// gate) and validated input, writes at most one entity, and returns either
// the entity or an *apperr.Error. Notifications are side effects: they are
// scheduled after the write commits and never change the result.
package service

import (
	"errors"
	"fmt"

	"github.com/mmynk/blueledger/internal/apperr"
	"github.com/mmynk/blueledger/internal/storage"
)

// storeError maps a storage failure on entity to the error taxonomy.
func storeError(err error, entity string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return apperr.NotFound(entity + " not found")
	case errors.Is(err, storage.ErrConflict):
		return apperr.Conflict(entity + " already exists")
	default:
		return apperr.Internal(fmt.Errorf("%s: %w", entity, err))
	}
}

// findNewParticipants returns participants that are not already in existing.
func findNewParticipants(participants, existing []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, m := range existing {
		seen[m] = true
	}
	var newOnes []string
	for _, p := range participants {
		if !seen[p] {
			newOnes = append(newOnes, p)
			seen[p] = true
		}
	}
	return newOnes
}

// dedupe returns ids without repeats, keeping the first occurrence.
func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
