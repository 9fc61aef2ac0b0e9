package dto

import (
	"medledger/internal/core/id"
	"medledger/internal/core/types"
	"medledger/internal/domain/transfer"
)

// TransferLineRequest is one requested item on a transfer.
type TransferLineRequest struct {
	ItemID   string         `json:"itemId" binding:"required"`
	Quantity types.Quantity `json:"quantity" binding:"required"`
}

// CreateTransferRequest for creating inter-warehouse transfers.
type CreateTransferRequest struct {
	SourceWarehouseID string                `json:"sourceWarehouseId" binding:"required"`
	DestWarehouseID   string                `json:"destWarehouseId" binding:"required"`
	Note              string                `json:"note"`
	Lines             []TransferLineRequest `json:"lines" binding:"required,min=1"`
}

// ToEntity converts the request into a domain transfer.
func (r CreateTransferRequest) ToEntity() (*transfer.Transfer, error) {
	sourceID, err := id.Parse(r.SourceWarehouseID)
	if err != nil {
		return nil, err
	}
	destID, err := id.Parse(r.DestWarehouseID)
	if err != nil {
		return nil, err
	}

	t := transfer.New(sourceID, destID)
	t.Note = r.Note
	for _, line := range r.Lines {
		itemID, err := id.Parse(line.ItemID)
		if err != nil {
			return nil, err
		}
		t.AddLine(itemID, line.Quantity)
	}
	return t, nil
}

// LineQuantityRequest records a per-line quantity for deliver/receive.
type LineQuantityRequest struct {
	LineID   string         `json:"lineId" binding:"required"`
	Quantity types.Quantity `json:"quantity" binding:"required"`
}

// TransferQuantitiesRequest carries line quantities for deliver/receive.
type TransferQuantitiesRequest struct {
	Lines []LineQuantityRequest `json:"lines" binding:"required,min=1"`
}

// ToLineQuantities converts the request into domain line quantities.
func (r TransferQuantitiesRequest) ToLineQuantities() ([]transfer.LineQuantity, error) {
	quantities := make([]transfer.LineQuantity, 0, len(r.Lines))
	for _, line := range r.Lines {
		lineID, err := id.Parse(line.LineID)
		if err != nil {
			return nil, err
		}
		quantities = append(quantities, transfer.LineQuantity{
			LineID:   lineID,
			Quantity: line.Quantity,
		})
	}
	return quantities, nil
}

// CancelTransferRequest aborts a transfer.
type CancelTransferRequest struct {
	Reason string `json:"reason"`
}
