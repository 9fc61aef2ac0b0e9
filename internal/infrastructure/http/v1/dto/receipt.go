package dto

import (
	"time"

	"medledger/internal/core/entity"
	"medledger/internal/core/id"
	"medledger/internal/core/types"
	"medledger/internal/domain/receipt"
)

// --- Import receipts ---

// ImportLineRequest is one incoming lot on an import receipt.
type ImportLineRequest struct {
	ItemID          string         `json:"itemId" binding:"required"`
	BatchNumber     string         `json:"batchNumber" binding:"required"`
	ExpiryDate      *time.Time     `json:"expiryDate"`
	ManufactureDate *time.Time     `json:"manufactureDate"`
	Quantity        types.Quantity `json:"quantity" binding:"required"`
	ImportPrice     float64        `json:"importPrice"`
	UnitPrice       float64        `json:"unitPrice"`
	Note            string         `json:"note"`
}

// CreateImportReceiptRequest for creating import receipts.
type CreateImportReceiptRequest struct {
	WarehouseID string              `json:"warehouseId" binding:"required"`
	Type        string              `json:"type" binding:"required"`
	SourceCode  string              `json:"sourceCode"`
	Note        string              `json:"note"`
	Lines       []ImportLineRequest `json:"lines" binding:"required,min=1"`
}

// ToEntity converts the request into a domain import receipt.
func (r CreateImportReceiptRequest) ToEntity() (*receipt.ImportReceipt, error) {
	warehouseID, err := id.Parse(r.WarehouseID)
	if err != nil {
		return nil, err
	}

	doc := receipt.NewImport(warehouseID, receipt.ImportType(r.Type), r.SourceCode)
	doc.Note = r.Note

	for _, line := range r.Lines {
		itemID, err := id.Parse(line.ItemID)
		if err != nil {
			return nil, err
		}
		doc.AddLine(receipt.ImportLine{
			ItemID:          itemID,
			BatchNumber:     line.BatchNumber,
			ExpiryDate:      line.ExpiryDate,
			ManufactureDate: line.ManufactureDate,
			Quantity:        line.Quantity,
			ImportPrice:     types.NewMoney(line.ImportPrice),
			UnitPrice:       types.NewMoney(line.UnitPrice),
			Note:            line.Note,
		})
	}
	return doc, nil
}

// --- Export receipts ---

// ExportLineRequest is one outgoing item on an export receipt.
type ExportLineRequest struct {
	ItemID   string         `json:"itemId" binding:"required"`
	Quantity types.Quantity `json:"quantity" binding:"required"`
	Note     string         `json:"note"`
}

// CreateExportReceiptRequest for creating export receipts.
type CreateExportReceiptRequest struct {
	WarehouseID string `json:"warehouseId" binding:"required"`
	Type        string `json:"type" binding:"required"`
	Recipient   string `json:"recipient"`
	Note        string `json:"note"`

	ReferenceKind string `json:"referenceKind"`
	ReferenceID   string `json:"referenceId"`
	ReferenceCode string `json:"referenceCode"`

	Lines []ExportLineRequest `json:"lines" binding:"required,min=1"`
}

// ToEntity converts the request into a domain export receipt.
func (r CreateExportReceiptRequest) ToEntity() (*receipt.ExportReceipt, error) {
	warehouseID, err := id.Parse(r.WarehouseID)
	if err != nil {
		return nil, err
	}

	doc := receipt.NewExport(warehouseID, receipt.ExportType(r.Type), r.Recipient)
	doc.Note = r.Note

	if r.ReferenceID != "" {
		refID, err := id.Parse(r.ReferenceID)
		if err != nil {
			return nil, err
		}
		doc.Reference = entity.NewReference(entity.ReferenceKind(r.ReferenceKind), refID, r.ReferenceCode)
	}

	for _, line := range r.Lines {
		itemID, err := id.Parse(line.ItemID)
		if err != nil {
			return nil, err
		}
		doc.AddLine(receipt.ExportLine{
			ItemID:   itemID,
			Quantity: line.Quantity,
			Note:     line.Note,
		})
	}
	return doc, nil
}
