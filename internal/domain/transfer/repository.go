package transfer

import (
	"context"
	"time"

	"medledger/internal/core/id"
)

// ListFilter narrows transfer queries.
type ListFilter struct {
	SourceWarehouseID *id.ID
	DestWarehouseID   *id.ID
	Status            Status

	From *time.Time
	To   *time.Time

	Limit  int
	Offset int
}

// Repository defines persistence for transfers and their lines.
type Repository interface {
	// Create inserts the transfer together with its lines.
	Create(ctx context.Context, t *Transfer) error

	// GetByID retrieves a transfer with lines.
	GetByID(ctx context.Context, transferID id.ID) (*Transfer, error)

	// GetByNumber retrieves a transfer by document number.
	GetByNumber(ctx context.Context, number string) (*Transfer, error)

	// Update persists header fields and line quantities with optimistic
	// version check. Status changes must go through the service.
	Update(ctx context.Context, t *Transfer) error

	// List retrieves transfers by filter, newest first.
	List(ctx context.Context, f ListFilter) ([]*Transfer, error)

	// Count returns the total matching a filter.
	Count(ctx context.Context, f ListFilter) (int64, error)
}
