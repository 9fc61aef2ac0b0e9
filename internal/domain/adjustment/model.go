// Package adjustment implements stock adjustments: documents that bring
// the ledger in line with physically counted stock. An adjustment is
// drafted against snapshot quantities, then approved, which posts one
// compensating ledger entry per line that actually differs.
package adjustment

import (
	"context"
	"time"

	"medledger/internal/core/apperror"
	"medledger/internal/core/entity"
	"medledger/internal/core/id"
	"medledger/internal/core/types"
)

// Status is the adjustment lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusApproved  Status = "approved"
	StatusDiscarded Status = "discarded"
)

// Type classifies why stock is being adjusted.
type Type string

const (
	TypeInventoryCount Type = "inventory_count"
	TypeDamage         Type = "damage"
	TypeExpired        Type = "expired"
	TypeError          Type = "error"
	TypeOther          Type = "other"
)

// IsValid reports whether t is a known adjustment type.
func (t Type) IsValid() bool {
	switch t {
	case TypeInventoryCount, TypeDamage, TypeExpired, TypeError, TypeOther:
		return true
	}
	return false
}

// Line compares one batch's recorded quantity with the counted one.
// SystemQuantity is snapshotted when the line is drafted; the posted
// difference is recomputed against the live quantity at approval, under
// the batch row lock.
type Line struct {
	LineID id.ID `db:"line_id" json:"lineId"`
	LineNo int   `db:"line_no" json:"lineNo"`

	BatchID     id.ID  `db:"batch_id" json:"batchId"`
	ItemID      id.ID  `db:"item_id" json:"itemId"`
	BatchNumber string `db:"batch_number" json:"batchNumber"`

	SystemQuantity     types.Quantity `db:"system_quantity" json:"systemQuantity"`
	ActualQuantity     types.Quantity `db:"actual_quantity" json:"actualQuantity"`
	DifferenceQuantity types.Quantity `db:"difference_quantity" json:"differenceQuantity"`

	Note string `db:"note" json:"note,omitempty"`
}

// Adjustment is a stock correction document for one warehouse.
type Adjustment struct {
	entity.BaseDocument

	Number string `db:"number" json:"number"`

	WarehouseID id.ID `db:"warehouse_id" json:"warehouseId"`

	Type   Type   `db:"type" json:"type"`
	Status Status `db:"status" json:"status"`

	Reason string `db:"reason" json:"reason,omitempty"`

	ApprovedAt   *time.Time `db:"approved_at" json:"approvedAt,omitempty"`
	ApprovedBy   string     `db:"approved_by" json:"approvedBy,omitempty"`
	ApprovalNote string     `db:"approval_note" json:"approvalNote,omitempty"`

	Lines []Line `db:"-" json:"lines"`
}

// New creates a draft adjustment.
func New(warehouseID id.ID, adjType Type, reason string) *Adjustment {
	return &Adjustment{
		BaseDocument: entity.NewBaseDocument(),
		WarehouseID:  warehouseID,
		Type:         adjType,
		Status:       StatusDraft,
		Reason:       reason,
		Lines:        make([]Line, 0),
	}
}

// AddLine records a counted batch. The system quantity is the caller's
// snapshot of the batch at counting time.
func (a *Adjustment) AddLine(batch *entity.Batch, actual types.Quantity, note string) {
	a.Lines = append(a.Lines, Line{
		LineID:             id.New(),
		LineNo:             len(a.Lines) + 1,
		BatchID:            batch.ID,
		ItemID:             batch.ItemID,
		BatchNumber:        batch.BatchNumber,
		SystemQuantity:     batch.Quantity,
		ActualQuantity:     actual,
		DifferenceQuantity: actual - batch.Quantity,
		Note:               note,
	})
}

// Validate implements entity.Validatable.
func (a *Adjustment) Validate(ctx context.Context) error {
	if id.IsNil(a.WarehouseID) {
		return apperror.NewValidation("warehouse is required").
			WithDetail("field", "warehouseId")
	}
	if !a.Type.IsValid() {
		return apperror.NewValidation("invalid adjustment type").
			WithDetail("field", "type").
			WithDetail("value", string(a.Type))
	}
	if len(a.Lines) == 0 {
		return apperror.NewValidation("at least one line is required").
			WithDetail("field", "lines")
	}

	seen := make(map[id.ID]struct{}, len(a.Lines))
	for i, line := range a.Lines {
		if id.IsNil(line.BatchID) {
			return apperror.NewValidation("batch is required").
				WithDetail("field", "lines").
				WithDetail("lineNo", i+1)
		}
		if _, dup := seen[line.BatchID]; dup {
			return apperror.NewValidation("batch counted twice").
				WithDetail("field", "lines").
				WithDetail("lineNo", i+1).
				WithDetail("batch_id", line.BatchID.String())
		}
		seen[line.BatchID] = struct{}{}

		if line.ActualQuantity.IsNegative() {
			return apperror.NewValidation("actual quantity cannot be negative").
				WithDetail("field", "lines").
				WithDetail("lineNo", i+1)
		}
		if line.DifferenceQuantity != line.ActualQuantity-line.SystemQuantity {
			return apperror.NewValidation("difference does not match actual minus system").
				WithDetail("field", "lines").
				WithDetail("lineNo", i+1)
		}
	}
	return nil
}

// IsDraft reports whether the document can still be edited.
func (a *Adjustment) IsDraft() bool {
	return a.Status == StatusDraft
}
