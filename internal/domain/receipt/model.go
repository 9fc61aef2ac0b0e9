// Package receipt implements the goods receipt documents: import
// receipts that bring stock in (creating batches and Import ledger
// posts on approval) and export receipts that dispense stock out,
// either through a reservation or by direct first-expired-first-out
// issue. Both follow a pending -> approved / cancelled lifecycle.
package receipt

import (
	"context"
	"time"

	"medledger/internal/core/apperror"
	"medledger/internal/core/entity"
	"medledger/internal/core/id"
	"medledger/internal/core/types"
)

// Status is the receipt lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusCancelled Status = "cancelled"
)

// ImportType classifies where incoming stock comes from.
type ImportType string

const (
	ImportSupplier         ImportType = "supplier"
	ImportTransfer         ImportType = "transfer"
	ImportDepartmentReturn ImportType = "department_return"
	ImportCountSurplus     ImportType = "count_surplus"
	ImportAid              ImportType = "aid"
)

// IsValid reports whether t is a known import type.
func (t ImportType) IsValid() bool {
	switch t {
	case ImportSupplier, ImportTransfer, ImportDepartmentReturn, ImportCountSurplus, ImportAid:
		return true
	}
	return false
}

// ExportType classifies where outgoing stock goes.
type ExportType string

const (
	ExportOutpatient     ExportType = "outpatient"
	ExportInpatient      ExportType = "inpatient"
	ExportTransfer       ExportType = "transfer"
	ExportSupplierReturn ExportType = "supplier_return"
	ExportDisposal       ExportType = "disposal"
	ExportCountShortage  ExportType = "count_shortage"
)

// IsValid reports whether t is a known export type.
func (t ExportType) IsValid() bool {
	switch t {
	case ExportOutpatient, ExportInpatient, ExportTransfer,
		ExportSupplierReturn, ExportDisposal, ExportCountShortage:
		return true
	}
	return false
}

// ImportLine describes one incoming lot. BatchID is set on approval,
// when the batch is actually created.
type ImportLine struct {
	LineID id.ID `db:"id" json:"lineId"`
	LineNo int   `db:"line_no" json:"lineNo"`

	ItemID          id.ID      `db:"item_id" json:"itemId"`
	BatchNumber     string     `db:"batch_number" json:"batchNumber"`
	ExpiryDate      *time.Time `db:"expiry_date" json:"expiryDate,omitempty"`
	ManufactureDate *time.Time `db:"manufacture_date" json:"manufactureDate,omitempty"`

	Quantity    types.Quantity `db:"quantity" json:"quantity"`
	ImportPrice types.Money    `db:"import_price" json:"importPrice"`
	UnitPrice   types.Money    `db:"unit_price" json:"unitPrice"`

	BatchID *id.ID `db:"batch_id" json:"batchId,omitempty"`
	Note    string `db:"note" json:"note,omitempty"`
}

// ImportReceipt documents stock arriving at a warehouse.
type ImportReceipt struct {
	entity.BaseDocument

	Number      string     `db:"number" json:"number"`
	WarehouseID id.ID      `db:"warehouse_id" json:"warehouseId"`
	Type        ImportType `db:"type" json:"type"`
	Status      Status     `db:"status" json:"status"`

	// SourceCode identifies the supplier, sending department or aid
	// program, matching the receipt type.
	SourceCode string `db:"source_code" json:"sourceCode,omitempty"`

	DocumentDate time.Time  `db:"document_date" json:"documentDate"`
	ApprovedAt   *time.Time `db:"approved_at" json:"approvedAt,omitempty"`
	CancelledAt  *time.Time `db:"cancelled_at" json:"cancelledAt,omitempty"`

	Note  string       `db:"note" json:"note,omitempty"`
	Lines []ImportLine `db:"-" json:"lines"`
}

// NewImport creates a pending import receipt.
func NewImport(warehouseID id.ID, typ ImportType, sourceCode string) *ImportReceipt {
	return &ImportReceipt{
		BaseDocument: entity.NewBaseDocument(),
		WarehouseID:  warehouseID,
		Type:         typ,
		Status:       StatusPending,
		SourceCode:   sourceCode,
		DocumentDate: time.Now().UTC(),
	}
}

// AddLine appends an incoming lot to the receipt.
func (r *ImportReceipt) AddLine(line ImportLine) {
	line.LineID = id.New()
	line.LineNo = len(r.Lines) + 1
	r.Lines = append(r.Lines, line)
}

// Validate implements entity.Validatable.
func (r *ImportReceipt) Validate(ctx context.Context) error {
	if id.IsNil(r.WarehouseID) {
		return apperror.NewValidation("warehouse is required").WithDetail("field", "warehouseId")
	}
	if !r.Type.IsValid() {
		return apperror.NewValidation("unknown import type").WithDetail("type", string(r.Type))
	}
	if len(r.Lines) == 0 {
		return apperror.NewValidation("import receipt must have at least one line")
	}
	for _, line := range r.Lines {
		if id.IsNil(line.ItemID) {
			return apperror.NewValidation("line item is required").
				WithDetail("line_no", line.LineNo)
		}
		if line.BatchNumber == "" {
			return apperror.NewValidation("line batch number is required").
				WithDetail("line_no", line.LineNo)
		}
		if !line.Quantity.IsPositive() {
			return apperror.NewValidation("line quantity must be positive").
				WithDetail("line_no", line.LineNo).
				WithDetail("quantity", line.Quantity.String())
		}
	}
	return nil
}

// ExportLine describes one outgoing item position. When ReservationID
// is set the line is served from that hold; otherwise approval issues
// directly, first expired first out.
type ExportLine struct {
	LineID id.ID `db:"id" json:"lineId"`
	LineNo int   `db:"line_no" json:"lineNo"`

	ItemID   id.ID          `db:"item_id" json:"itemId"`
	Quantity types.Quantity `db:"quantity" json:"quantity"`

	ReservationID *id.ID `db:"reservation_id" json:"reservationId,omitempty"`
	Note          string `db:"note" json:"note,omitempty"`
}

// ExportReceipt documents stock leaving a warehouse.
type ExportReceipt struct {
	entity.BaseDocument

	Number      string     `db:"number" json:"number"`
	WarehouseID id.ID      `db:"warehouse_id" json:"warehouseId"`
	Type        ExportType `db:"type" json:"type"`
	Status      Status     `db:"status" json:"status"`

	// Reference points at the driving document, e.g. a dispense
	// request carrying a prescription.
	Reference entity.Reference `db:"-" json:"reference"`

	// Recipient is the patient, department or supplier receiving the
	// goods.
	Recipient string `db:"recipient" json:"recipient,omitempty"`

	DocumentDate time.Time  `db:"document_date" json:"documentDate"`
	ApprovedAt   *time.Time `db:"approved_at" json:"approvedAt,omitempty"`
	CancelledAt  *time.Time `db:"cancelled_at" json:"cancelledAt,omitempty"`

	Note  string       `db:"note" json:"note,omitempty"`
	Lines []ExportLine `db:"-" json:"lines"`
}

// NewExport creates a pending export receipt.
func NewExport(warehouseID id.ID, typ ExportType, recipient string) *ExportReceipt {
	return &ExportReceipt{
		BaseDocument: entity.NewBaseDocument(),
		WarehouseID:  warehouseID,
		Type:         typ,
		Status:       StatusPending,
		Recipient:    recipient,
		DocumentDate: time.Now().UTC(),
	}
}

// AddLine appends an outgoing position to the receipt.
func (r *ExportReceipt) AddLine(line ExportLine) {
	line.LineID = id.New()
	line.LineNo = len(r.Lines) + 1
	r.Lines = append(r.Lines, line)
}

// Validate implements entity.Validatable.
func (r *ExportReceipt) Validate(ctx context.Context) error {
	if id.IsNil(r.WarehouseID) {
		return apperror.NewValidation("warehouse is required").WithDetail("field", "warehouseId")
	}
	if !r.Type.IsValid() {
		return apperror.NewValidation("unknown export type").WithDetail("type", string(r.Type))
	}
	if len(r.Lines) == 0 {
		return apperror.NewValidation("export receipt must have at least one line")
	}
	for _, line := range r.Lines {
		if id.IsNil(line.ItemID) {
			return apperror.NewValidation("line item is required").
				WithDetail("line_no", line.LineNo)
		}
		if !line.Quantity.IsPositive() {
			return apperror.NewValidation("line quantity must be positive").
				WithDetail("line_no", line.LineNo).
				WithDetail("quantity", line.Quantity.String())
		}
	}
	return nil
}

// movementType maps an import type to its ledger movement kind.
// Department returns post as Return entries, everything else as Import.
func (t ImportType) movementType() entity.MovementType {
	if t == ImportDepartmentReturn {
		return entity.MovementReturn
	}
	return entity.MovementImport
}

// movementType maps an export type to its ledger movement kind.
// Supplier returns post as Return entries, everything else as Export.
func (t ExportType) movementType() entity.MovementType {
	if t == ExportSupplierReturn {
		return entity.MovementReturn
	}
	return entity.MovementExport
}
