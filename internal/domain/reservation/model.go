// Package reservation implements soft holds on batch stock. A reservation
// claims quantity against specific batches ahead of issuance, so a dispense
// request approved on the ward cannot lose its stock to a concurrent one.
package reservation

import (
	"context"
	"time"

	"medledger/internal/core/apperror"
	"medledger/internal/core/entity"
	"medledger/internal/core/id"
	"medledger/internal/core/types"
)

// Status is the reservation lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusConsumed Status = "consumed"
	StatusReleased Status = "released"
	StatusExpired  Status = "expired"
)

// IsTerminal reports whether the status is a resolution.
func (s Status) IsTerminal() bool {
	return s == StatusConsumed || s == StatusReleased || s == StatusExpired
}

// DefaultTTL is the hold lifetime when the caller does not specify one.
const DefaultTTL = 30 * time.Minute

// MaxTTL caps requested hold lifetimes.
const MaxTTL = 24 * time.Hour

// Line pins part of a reservation to one batch.
type Line struct {
	ID            id.ID          `db:"id" json:"id"`
	ReservationID id.ID          `db:"reservation_id" json:"reservationId"`
	BatchID       id.ID          `db:"batch_id" json:"batchId"`
	BatchNumber   string         `db:"batch_number" json:"batchNumber"`
	Quantity      types.Quantity `db:"quantity" json:"quantity"`
}

// Reservation is a TTL-bounded hold of item quantity in one warehouse,
// split across batches by the issuance policy at creation time.
type Reservation struct {
	entity.BaseDocument

	WarehouseID id.ID `db:"warehouse_id" json:"warehouseId"`
	ItemID      id.ID `db:"item_id" json:"itemId"`

	// Quantity is the total held across all lines.
	Quantity types.Quantity `db:"quantity" json:"quantity"`

	Status Status `db:"status" json:"status"`

	// Reference points at the document the hold serves.
	entity.Reference

	ExpiresAt  time.Time  `db:"expires_at" json:"expiresAt"`
	ResolvedAt *time.Time `db:"resolved_at" json:"resolvedAt,omitempty"`

	Note string `db:"note" json:"note,omitempty"`

	Lines []Line `db:"-" json:"lines"`
}

// New creates an active reservation shell; lines are attached by the
// service after batch selection.
func New(warehouseID, itemID id.ID, qty types.Quantity, ref entity.Reference, ttl time.Duration) *Reservation {
	return &Reservation{
		BaseDocument: entity.NewBaseDocument(),
		WarehouseID:  warehouseID,
		ItemID:       itemID,
		Quantity:     qty,
		Status:       StatusActive,
		Reference:    ref,
		ExpiresAt:    time.Now().UTC().Add(ttl),
	}
}

// Validate implements entity.Validatable.
func (r *Reservation) Validate(ctx context.Context) error {
	if id.IsNil(r.WarehouseID) {
		return apperror.NewValidation("warehouse is required").WithDetail("field", "warehouseId")
	}
	if id.IsNil(r.ItemID) {
		return apperror.NewValidation("item is required").WithDetail("field", "itemId")
	}
	if !r.Quantity.IsPositive() {
		return apperror.NewValidation("reserved quantity must be positive").
			WithDetail("field", "quantity")
	}
	if !r.Kind.IsValid() {
		return apperror.NewValidation("unknown reference kind").
			WithDetail("field", "referenceKind")
	}

	var total types.Quantity
	for _, l := range r.Lines {
		if !l.Quantity.IsPositive() {
			return apperror.NewValidation("reservation line quantity must be positive").
				WithDetail("batch_id", l.BatchID.String())
		}
		total += l.Quantity
	}
	if len(r.Lines) > 0 && total != r.Quantity {
		return apperror.NewValidation("reservation lines do not sum to total").
			WithDetail("total", r.Quantity.String()).
			WithDetail("lines", total.String())
	}
	return nil
}

// IsExpired reports whether the hold is past its TTL at the given time.
func (r *Reservation) IsExpired(at time.Time) bool {
	return at.After(r.ExpiresAt)
}
