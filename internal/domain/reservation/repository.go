package reservation

import (
	"context"
	"time"

	"medledger/internal/core/id"
)

// Repository defines persistence for reservations and their lines.
type Repository interface {
	// Create inserts the reservation together with its lines.
	Create(ctx context.Context, r *Reservation) error

	// GetByID retrieves a reservation with lines.
	GetByID(ctx context.Context, resID id.ID) (*Reservation, error)

	// ListByReference retrieves reservations pointing at a document.
	ListByReference(ctx context.Context, refID id.ID) ([]*Reservation, error)

	// ListActiveDue returns active reservations whose TTL elapsed before
	// the given time, oldest first, up to limit. Used by the sweeper.
	ListActiveDue(ctx context.Context, before time.Time, limit int) ([]*Reservation, error)

	// ResolveIf atomically moves the reservation from one status to
	// another (UPDATE ... WHERE status = from). Returns false if the row
	// was not in the expected status; the caller lost the race.
	ResolveIf(ctx context.Context, resID id.ID, from, to Status, resolvedAt time.Time) (bool, error)
}
