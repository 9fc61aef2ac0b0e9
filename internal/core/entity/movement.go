package entity

import (
	"time"

	"medledger/internal/core/apperror"
	"medledger/internal/core/id"
	"medledger/internal/core/types"
)

// MovementType classifies a quantity change in the stock ledger.
type MovementType string

const (
	MovementImport     MovementType = "import"
	MovementExport     MovementType = "export"
	MovementTransfer   MovementType = "transfer"
	MovementAdjustment MovementType = "adjustment"
	MovementReturn     MovementType = "return"
)

// IsValid reports whether t is a known movement type.
func (t MovementType) IsValid() bool {
	switch t {
	case MovementImport, MovementExport, MovementTransfer, MovementAdjustment, MovementReturn:
		return true
	}
	return false
}

// ReferenceKind enumerates the order-like entities a movement or reservation
// may point back to. A closed enum (rather than a free-form string) so that
// reference resolution is exhaustive at compile time.
type ReferenceKind string

const (
	RefImportReceipt   ReferenceKind = "import_receipt"
	RefExportReceipt   ReferenceKind = "export_receipt"
	RefDispenseRequest ReferenceKind = "dispense_request"
	RefTransfer        ReferenceKind = "transfer"
	RefAdjustment      ReferenceKind = "adjustment"
	RefReservation     ReferenceKind = "reservation"
)

// IsValid reports whether k is a known reference kind.
func (k ReferenceKind) IsValid() bool {
	switch k {
	case RefImportReceipt, RefExportReceipt, RefDispenseRequest,
		RefTransfer, RefAdjustment, RefReservation:
		return true
	}
	return false
}

// Reference is the tagged variant pointing at the document that caused
// a movement or reservation.
type Reference struct {
	Kind  ReferenceKind `db:"reference_kind" json:"referenceKind"`
	RefID id.ID         `db:"reference_id" json:"referenceId"`
	Code  string        `db:"reference_code" json:"referenceCode,omitempty"`
}

// NewReference creates a reference to a source document.
func NewReference(kind ReferenceKind, refID id.ID, code string) Reference {
	return Reference{Kind: kind, RefID: refID, Code: code}
}

// StockMovement is one immutable ledger entry: a signed quantity change
// applied to a batch, with chained before/after balances.
// Movements are append-only; they are never updated or deleted.
type StockMovement struct {
	ID id.ID `db:"id" json:"id"`

	BatchID     id.ID  `db:"batch_id" json:"batchId"`
	WarehouseID id.ID  `db:"warehouse_id" json:"warehouseId"`
	ItemID      id.ID  `db:"item_id" json:"itemId"`
	BatchNumber string `db:"batch_number" json:"batchNumber,omitempty"`

	MovementType MovementType `db:"movement_type" json:"movementType"`

	// Quantity is signed: positive for receipts, negative for issues.
	Quantity      types.Quantity `db:"quantity" json:"quantity"`
	BalanceBefore types.Quantity `db:"balance_before" json:"balanceBefore"`
	BalanceAfter  types.Quantity `db:"balance_after" json:"balanceAfter"`

	UnitPrice types.Money `db:"unit_price" json:"unitPrice"`
	Amount    types.Money `db:"amount" json:"amount"`

	Reference

	MovementDate time.Time `db:"movement_date" json:"movementDate"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	CreatedBy    string    `db:"created_by" json:"createdBy,omitempty"`
	Note         string    `db:"note" json:"note,omitempty"`
}

// NewStockMovement builds a ledger entry for a batch. BalanceBefore is the
// batch quantity observed under lock; BalanceAfter is derived so the chain
// stays contiguous by construction.
func NewStockMovement(
	batch *Batch,
	movementType MovementType,
	signedQty types.Quantity,
	ref Reference,
	movementDate time.Time,
) StockMovement {
	return StockMovement{
		ID:            id.New(),
		BatchID:       batch.ID,
		WarehouseID:   batch.WarehouseID,
		ItemID:        batch.ItemID,
		BatchNumber:   batch.BatchNumber,
		MovementType:  movementType,
		Quantity:      signedQty,
		BalanceBefore: batch.Quantity,
		BalanceAfter:  batch.Quantity + signedQty,
		UnitPrice:     batch.UnitPrice,
		Amount:        batch.UnitPrice.Mul(types.NewMoney(signedQty.Abs().Float64())),
		Reference:     ref,
		MovementDate:  movementDate,
		CreatedAt:     time.Now().UTC(),
	}
}

// Validate checks the entry's internal invariants.
func (m *StockMovement) Validate() error {
	if !m.MovementType.IsValid() {
		return apperror.NewValidation("unknown movement type").
			WithDetail("movement_type", string(m.MovementType))
	}
	if !m.Kind.IsValid() {
		return apperror.NewValidation("unknown reference kind").
			WithDetail("reference_kind", string(m.Kind))
	}
	if m.Quantity.IsZero() {
		return apperror.NewValidation("movement quantity cannot be zero")
	}
	if m.BalanceAfter != m.BalanceBefore+m.Quantity {
		return apperror.NewValidation("balance chain broken").
			WithDetail("balance_before", m.BalanceBefore.String()).
			WithDetail("quantity", m.Quantity.String()).
			WithDetail("balance_after", m.BalanceAfter.String())
	}
	return nil
}
