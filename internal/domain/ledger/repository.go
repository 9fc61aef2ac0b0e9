// Package ledger implements the append-only stock ledger and the batch
// store it projects onto. Every quantity change in the system flows
// through Service.PostAll; batch quantities are cached projections that
// are verified against the movement chain on every locked read.
package ledger

import (
	"context"
	"time"

	"medledger/internal/core/entity"
	"medledger/internal/core/id"
	"medledger/internal/core/types"
)

// BatchFilter narrows batch queries.
type BatchFilter struct {
	WarehouseID *id.ID
	ItemID      *id.ID

	// BatchNumber filters by exact lot number
	BatchNumber string

	// IssuableOnly keeps only batches that are candidates for issuance
	// as of AsOf (not locked, not expired, available > 0).
	IssuableOnly bool
	AsOf         time.Time

	// ExpiringBefore keeps batches whose expiry date falls before the
	// given time (used by the alert engine's expiry scan).
	ExpiringBefore *time.Time

	IncludeDeleted bool

	Limit  int
	Offset int
}

// MovementFilter narrows ledger history queries.
type MovementFilter struct {
	BatchID     *id.ID
	WarehouseID *id.ID
	ItemID      *id.ID

	MovementType  entity.MovementType
	ReferenceKind entity.ReferenceKind
	ReferenceID   *id.ID

	From *time.Time
	To   *time.Time

	Limit  int
	Offset int
}

// TurnoverRow is one line of a turnover report: opening balance, receipts,
// issues and closing balance for an item in a warehouse over a period.
type TurnoverRow struct {
	WarehouseID id.ID          `db:"warehouse_id" json:"warehouseId"`
	ItemID      id.ID          `db:"item_id" json:"itemId"`
	Opening     types.Quantity `db:"opening" json:"opening"`
	Received    types.Quantity `db:"received" json:"received"`
	Issued      types.Quantity `db:"issued" json:"issued"`
	Closing     types.Quantity `db:"closing" json:"closing"`
	Amount      types.Money    `db:"amount" json:"amount"`
}

// StockRow is the aggregated on-hand position of one item in one warehouse.
type StockRow struct {
	WarehouseID id.ID          `db:"warehouse_id" json:"warehouseId"`
	ItemID      id.ID          `db:"item_id" json:"itemId"`
	Quantity    types.Quantity `db:"quantity" json:"quantity"`
	Reserved    types.Quantity `db:"reserved" json:"reserved"`
	Available   types.Quantity `db:"available" json:"available"`
}

// Repository defines persistence for batches and stock movements.
//
// Implementations must translate database lock conflicts (deadlock,
// lock timeout, serialization failure) into CONCURRENT_MODIFICATION
// app errors so the service retry loop can recognize them.
type Repository interface {
	// --- Batches ---

	CreateBatch(ctx context.Context, b *entity.Batch) error

	GetBatch(ctx context.Context, batchID id.ID) (*entity.Batch, error)

	// GetBatchesForUpdate locks and returns the given batches with
	// SELECT ... FOR UPDATE. Rows are locked in ascending ID order;
	// callers must pass IDs already sorted with id.Compare so every
	// transaction acquires locks in the same global order.
	GetBatchesForUpdate(ctx context.Context, batchIDs []id.ID) ([]*entity.Batch, error)

	ListBatches(ctx context.Context, f BatchFilter) ([]*entity.Batch, error)

	// UpdateBatchState persists quantity, reserved and lock fields with
	// optimistic version check. Must run inside the transaction that
	// locked the row.
	UpdateBatchState(ctx context.Context, b *entity.Batch) error

	// --- Movements ---

	// CreateMovements appends ledger entries. Entries are immutable;
	// there is no update or delete.
	CreateMovements(ctx context.Context, movements []entity.StockMovement) error

	// GetLastMovement returns the latest entry for a batch, or nil if
	// the batch has no movements yet.
	GetLastMovement(ctx context.Context, batchID id.ID) (*entity.StockMovement, error)

	ListMovements(ctx context.Context, f MovementFilter) ([]entity.StockMovement, error)

	// CountMovements returns the total matching a filter (for pagination).
	CountMovements(ctx context.Context, f MovementFilter) (int64, error)

	// --- Aggregates ---

	// GetTurnover aggregates movements into per-item turnover rows for
	// a warehouse and period.
	GetTurnover(ctx context.Context, warehouseID id.ID, from, to time.Time) ([]TurnoverRow, error)

	// GetStock aggregates batch quantities into on-hand positions.
	// Nil itemID returns all items in the warehouse.
	GetStock(ctx context.Context, warehouseID id.ID, itemID *id.ID) ([]StockRow, error)
}
