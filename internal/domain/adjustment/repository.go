package adjustment

import (
	"context"
	"time"

	"medledger/internal/core/id"
)

// ListFilter narrows adjustment queries.
type ListFilter struct {
	WarehouseID *id.ID
	Status      Status
	Type        Type

	From *time.Time
	To   *time.Time

	Limit  int
	Offset int
}

// Repository defines persistence for adjustments and their lines.
type Repository interface {
	// Create inserts the adjustment together with its lines.
	Create(ctx context.Context, a *Adjustment) error

	// GetByID retrieves an adjustment with lines.
	GetByID(ctx context.Context, adjID id.ID) (*Adjustment, error)

	// Update persists header and line fields with optimistic version check.
	Update(ctx context.Context, a *Adjustment) error

	// UpdateStatusIf atomically moves the adjustment between statuses
	// (UPDATE ... WHERE status = from). Returns false when the document
	// was not in the expected status.
	UpdateStatusIf(ctx context.Context, adjID id.ID, from, to Status) (bool, error)

	// List retrieves adjustments by filter, newest first.
	List(ctx context.Context, f ListFilter) ([]*Adjustment, error)

	// Count returns the total matching a filter.
	Count(ctx context.Context, f ListFilter) (int64, error)
}
