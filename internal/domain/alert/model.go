// Package alert implements stock thresholds and the alert engine that
// watches on-hand quantities and batch expiry dates. Alerts are
// deduplicated: one open alert per subject and kind, auto-resolved when
// the condition clears.
package alert

import (
	"context"
	"time"

	"medledger/internal/core/apperror"
	"medledger/internal/core/entity"
	"medledger/internal/core/id"
	"medledger/internal/core/types"
)

// Kind is the alert category.
type Kind string

const (
	KindLowStock Kind = "low_stock"
	KindExpiry   Kind = "expiry"
)

// Level is the alert severity.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Status is the alert lifecycle state.
type Status string

const (
	StatusOpen         Status = "open"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// Expiry windows, in days before the batch expiry date.
const (
	ExpiryCriticalDays = 30
	ExpiryWarningDays  = 60
	ExpiryInfoDays     = 90
)

// Threshold configures stock level monitoring for an item, optionally
// narrowed to one warehouse. A nil WarehouseID applies hospital-wide.
type Threshold struct {
	entity.BaseEntity

	ItemID      id.ID  `db:"item_id" json:"itemId"`
	WarehouseID *id.ID `db:"warehouse_id" json:"warehouseId,omitempty"`

	MinimumQuantity types.Quantity `db:"minimum_quantity" json:"minimumQuantity"`
	ReorderPoint    types.Quantity `db:"reorder_point" json:"reorderPoint"`
	MaximumQuantity types.Quantity `db:"maximum_quantity" json:"maximumQuantity"`

	// ReorderQuantity is the suggested order size when the alert fires.
	ReorderQuantity types.Quantity `db:"reorder_quantity" json:"reorderQuantity"`

	// Rule optionally overrides the built-in trigger with a CEL
	// expression over quantity, reorder_point, minimum and maximum.
	Rule string `db:"rule" json:"rule,omitempty"`

	IsActive bool `db:"is_active" json:"isActive"`
}

// NewThreshold creates an active threshold.
func NewThreshold(itemID id.ID, warehouseID *id.ID, minimum, reorder, maximum types.Quantity) *Threshold {
	return &Threshold{
		BaseEntity:      entity.NewBaseEntity(),
		ItemID:          itemID,
		WarehouseID:     warehouseID,
		MinimumQuantity: minimum,
		ReorderPoint:    reorder,
		MaximumQuantity: maximum,
		IsActive:        true,
	}
}

// Validate implements entity.Validatable.
func (t *Threshold) Validate(ctx context.Context) error {
	if id.IsNil(t.ItemID) {
		return apperror.NewValidation("item is required").WithDetail("field", "itemId")
	}
	if t.MinimumQuantity.IsNegative() {
		return apperror.NewValidation("minimum cannot be negative").
			WithDetail("field", "minimumQuantity")
	}
	if t.ReorderPoint < t.MinimumQuantity {
		return apperror.NewValidation("reorder point cannot be below minimum").
			WithDetail("minimum", t.MinimumQuantity.String()).
			WithDetail("reorder_point", t.ReorderPoint.String())
	}
	if t.MaximumQuantity < t.ReorderPoint {
		return apperror.NewValidation("maximum cannot be below reorder point").
			WithDetail("reorder_point", t.ReorderPoint.String()).
			WithDetail("maximum", t.MaximumQuantity.String())
	}
	return nil
}

// LevelFor returns the built-in severity for an on-hand quantity, or
// empty when no alert should fire.
func (t *Threshold) LevelFor(quantity types.Quantity) Level {
	switch {
	case quantity <= t.MinimumQuantity:
		return LevelCritical
	case quantity <= t.ReorderPoint:
		return LevelWarning
	default:
		return ""
	}
}

// Alert is one monitoring finding. Low-stock alerts are keyed by
// (item, warehouse, kind); expiry alerts by (batch, kind).
type Alert struct {
	entity.BaseEntity

	Kind  Kind  `db:"kind" json:"kind"`
	Level Level `db:"level" json:"level"`

	ItemID id.ID `db:"item_id" json:"itemId"`

	// WarehouseID is nil for hospital-wide low-stock alerts.
	WarehouseID *id.ID `db:"warehouse_id" json:"warehouseId,omitempty"`
	BatchID     *id.ID `db:"batch_id" json:"batchId,omitempty"`

	Status  Status `db:"status" json:"status"`
	Message string `db:"message" json:"message"`

	// Quantity observed when the alert fired or was last refreshed.
	Quantity types.Quantity `db:"quantity" json:"quantity"`

	TriggeredAt    time.Time  `db:"triggered_at" json:"triggeredAt"`
	AcknowledgedAt *time.Time `db:"acknowledged_at" json:"acknowledgedAt,omitempty"`
	AcknowledgedBy string     `db:"acknowledged_by" json:"acknowledgedBy,omitempty"`
	ActionTaken    string     `db:"action_taken" json:"actionTaken,omitempty"`
	ResolvedAt     *time.Time `db:"resolved_at" json:"resolvedAt,omitempty"`
}

// NewAlert creates an open alert.
func NewAlert(kind Kind, level Level, itemID id.ID, warehouseID *id.ID) *Alert {
	return &Alert{
		BaseEntity:  entity.NewBaseEntity(),
		Kind:        kind,
		Level:       level,
		ItemID:      itemID,
		WarehouseID: warehouseID,
		Status:      StatusOpen,
		TriggeredAt: time.Now().UTC(),
	}
}

// IsOpen reports whether the alert still needs attention.
func (a *Alert) IsOpen() bool {
	return a.Status == StatusOpen || a.Status == StatusAcknowledged
}

// ExpiryLevel maps days-until-expiry to a severity, or empty when the
// batch is outside every window.
func ExpiryLevel(daysLeft int) Level {
	switch {
	case daysLeft <= ExpiryCriticalDays:
		return LevelCritical
	case daysLeft <= ExpiryWarningDays:
		return LevelWarning
	case daysLeft <= ExpiryInfoDays:
		return LevelInfo
	default:
		return ""
	}
}
