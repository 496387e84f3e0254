// Package repository keeps the colleague presence list returned by the
// last successful heartbeat.
package repository

import (
	"context"
	"time"

	"github.com/okian/fieldpresence/internal/domain/model"
)

// Store provides read/write access to colleague presence.
type Store interface {
	// Replace swaps the whole list for the one received at.
	Replace(ctx context.Context, colleagues []model.Colleague, at time.Time)

	// Get returns one colleague. Returns ErrNotFound if the user is unknown.
	Get(ctx context.Context, userID string) (model.Colleague, error)

	// List returns up to limit colleagues ordered by user id, and the time
	// the list was received. A limit of zero returns everything.
	List(ctx context.Context, limit int) ([]model.Colleague, time.Time, error)

	// Count returns the number of colleagues held.
	Count(ctx context.Context) int
}
