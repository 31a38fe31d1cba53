// Package retention keeps the archive within its size budget by evicting the oldest
// backups first.
package retention

import (
	"context"
	"errors"
	"fmt"

	"github.com/rowjay/savekeep/internal/archive"
)

// ErrInvalidBudget rejects a non-positive size budget. It is never read as "unlimited".
var ErrInvalidBudget = errors.New("backup size budget must be positive")

// Archive is the part of the index that eviction needs.
type Archive interface {
	TotalSize() int64
	Oldest() (archive.Entry, bool)
	Remove(ctx context.Context, e archive.Entry) error
}

// ValidateBudget returns ErrInvalidBudget for budgets that are zero or negative.
func ValidateBudget(budget int64) error {
	if budget <= 0 {
		return fmt.Errorf("%w: got %d bytes", ErrInvalidBudget, budget)
	}
	return nil
}

// Enforce removes the oldest backups, one at a time, until the archive holds at most
// budget bytes or is empty. It returns the evicted entries in eviction order. When a
// removal fails the entries evicted so far are returned together with the error.
func Enforce(ctx context.Context, a Archive, budget int64) ([]archive.Entry, error) {
	if err := ValidateBudget(budget); err != nil {
		return nil, err
	}
	var evicted []archive.Entry
	for a.TotalSize() > budget {
		oldest, ok := a.Oldest()
		if !ok {
			break
		}
		if err := a.Remove(ctx, oldest); err != nil {
			return evicted, fmt.Errorf("evict %s: %w", oldest, err)
		}
		evicted = append(evicted, oldest)
	}
	return evicted, nil
}
