// Package entity provides core domain entities for the inventory ledger.
package entity

import (
	"context"
	"time"

	"medledger/internal/core/apperror"
	"medledger/internal/core/id"
	"medledger/internal/core/types"
)

// Batch is a specific lot of one item held in one warehouse.
// A batch is never hard-deleted: when emptied it simply stops being a
// candidate for issuance, but its ledger history is retained permanently.
type Batch struct {
	BaseDocument

	WarehouseID id.ID `db:"warehouse_id" json:"warehouseId"`
	ItemID      id.ID `db:"item_id" json:"itemId"`

	BatchNumber     string     `db:"batch_number" json:"batchNumber"`
	ExpiryDate      *time.Time `db:"expiry_date" json:"expiryDate,omitempty"`
	ManufactureDate *time.Time `db:"manufacture_date" json:"manufactureDate,omitempty"`

	// Quantity is a cached projection of the ledger: it must always equal
	// the balance_after of the batch's latest movement. The ledger service
	// verifies this on every locked read.
	Quantity types.Quantity `db:"quantity" json:"quantity"`

	// Reserved is the total of active holds against this batch.
	// Invariant: 0 <= Reserved <= Quantity.
	Reserved types.Quantity `db:"reserved" json:"reserved"`

	ImportPrice types.Money `db:"import_price" json:"importPrice"`
	UnitPrice   types.Money `db:"unit_price" json:"unitPrice"`

	// Locked batches are under administrative hold and excluded from issuance.
	Locked     bool   `db:"locked" json:"locked"`
	LockReason string `db:"lock_reason" json:"lockReason,omitempty"`

	// Provenance (supplier, transfer, aid program)
	SourceType string `db:"source_type" json:"sourceType,omitempty"`
	SourceCode string `db:"source_code" json:"sourceCode,omitempty"`
}

// NewBatch creates a batch for a warehouse/item pair.
func NewBatch(warehouseID, itemID id.ID, batchNumber string, expiry *time.Time) *Batch {
	return &Batch{
		BaseDocument: NewBaseDocument(),
		WarehouseID:  warehouseID,
		ItemID:       itemID,
		BatchNumber:  batchNumber,
		ExpiryDate:   expiry,
	}
}

// Available returns the quantity not claimed by active reservations.
func (b *Batch) Available() types.Quantity {
	return b.Quantity - b.Reserved
}

// IsExpired reports whether the batch is past its expiry date at the given time.
// Batches without expiry never expire.
func (b *Batch) IsExpired(at time.Time) bool {
	return b.ExpiryDate != nil && !b.ExpiryDate.After(at)
}

// Issuable reports whether the batch is a candidate for issuance:
// not deleted, not locked, not expired, with available quantity.
func (b *Batch) Issuable(at time.Time) bool {
	return !b.DeletionMark && !b.Locked && !b.IsExpired(at) && b.Available().IsPositive()
}

// Validate implements Validatable.
func (b *Batch) Validate(ctx context.Context) error {
	if id.IsNil(b.WarehouseID) {
		return apperror.NewValidation("warehouse is required").
			WithDetail("field", "warehouseId")
	}
	if id.IsNil(b.ItemID) {
		return apperror.NewValidation("item is required").
			WithDetail("field", "itemId")
	}
	if b.Quantity.IsNegative() {
		return apperror.NewValidation("quantity cannot be negative").
			WithDetail("field", "quantity")
	}
	if b.Reserved.IsNegative() || b.Reserved > b.Quantity {
		return apperror.NewValidation("reserved must be between 0 and quantity").
			WithDetail("field", "reserved").
			WithDetail("quantity", b.Quantity.String()).
			WithDetail("reserved", b.Reserved.String())
	}
	return nil
}

// Lock puts the batch under administrative hold.
func (b *Batch) Lock(reason string) {
	b.Locked = true
	b.LockReason = reason
}

// Unlock releases the administrative hold.
func (b *Batch) Unlock() {
	b.Locked = false
	b.LockReason = ""
}
