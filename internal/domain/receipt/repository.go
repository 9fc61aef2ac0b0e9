package receipt

import (
	"context"
	"time"

	"medledger/internal/core/id"
)

// ListFilter narrows receipt listings.
type ListFilter struct {
	WarehouseID *id.ID
	Status      Status
	From        *time.Time
	To          *time.Time
	Limit       int
	Offset      int
}

// ImportRepository persists import receipts with their lines.
type ImportRepository interface {
	Create(ctx context.Context, r *ImportReceipt) error
	GetByID(ctx context.Context, receiptID id.ID) (*ImportReceipt, error)
	Update(ctx context.Context, r *ImportReceipt) error

	// UpdateStatusIf atomically moves the receipt between statuses and
	// reports whether the transition won. Backs the approval and
	// cancellation races.
	UpdateStatusIf(ctx context.Context, receiptID id.ID, from, to Status) (bool, error)

	List(ctx context.Context, f ListFilter) ([]*ImportReceipt, error)
	Count(ctx context.Context, f ListFilter) (int64, error)
}

// ExportRepository persists export receipts with their lines.
type ExportRepository interface {
	Create(ctx context.Context, r *ExportReceipt) error
	GetByID(ctx context.Context, receiptID id.ID) (*ExportReceipt, error)
	Update(ctx context.Context, r *ExportReceipt) error
	UpdateStatusIf(ctx context.Context, receiptID id.ID, from, to Status) (bool, error)
	List(ctx context.Context, f ListFilter) ([]*ExportReceipt, error)
	Count(ctx context.Context, f ListFilter) (int64, error)
}
