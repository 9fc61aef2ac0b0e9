package alert

import (
	"context"

	"medledger/internal/core/id"
)

// ThresholdFilter narrows threshold listings.
type ThresholdFilter struct {
	ItemID      *id.ID
	WarehouseID *id.ID
	ActiveOnly  bool
	Limit       int
	Offset      int
}

// AlertFilter narrows alert listings.
type AlertFilter struct {
	Kind        Kind
	Level       Level
	Status      Status
	ItemID      *id.ID
	WarehouseID *id.ID
	OpenOnly    bool
	Limit       int
	Offset      int
}

// ThresholdRepository persists stock thresholds.
type ThresholdRepository interface {
	Create(ctx context.Context, t *Threshold) error
	GetByID(ctx context.Context, thresholdID id.ID) (*Threshold, error)
	Update(ctx context.Context, t *Threshold) error
	Delete(ctx context.Context, thresholdID id.ID) error
	List(ctx context.Context, f ThresholdFilter) ([]*Threshold, error)
}

// AlertRepository persists alerts. GetOpen* lookups back the dedupe
// keys: at most one open alert exists per key at any time.
type AlertRepository interface {
	Create(ctx context.Context, a *Alert) error
	GetByID(ctx context.Context, alertID id.ID) (*Alert, error)
	Update(ctx context.Context, a *Alert) error
	List(ctx context.Context, f AlertFilter) ([]*Alert, error)

	// GetOpenStock returns the open low-stock alert for the
	// (item, warehouse) pair, or nil when none exists. A nil
	// warehouseID matches the hospital-wide key.
	GetOpenStock(ctx context.Context, itemID id.ID, warehouseID *id.ID) (*Alert, error)

	// GetOpenExpiry returns the open expiry alert for the batch, or
	// nil when none exists.
	GetOpenExpiry(ctx context.Context, batchID id.ID) (*Alert, error)
}
