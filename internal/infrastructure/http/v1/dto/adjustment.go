package dto

import (
	"medledger/internal/core/id"
	"medledger/internal/core/types"
	"medledger/internal/domain/adjustment"
)

// CountedBatchRequest is one physically counted batch.
type CountedBatchRequest struct {
	BatchID string         `json:"batchId" binding:"required"`
	Actual  types.Quantity `json:"actual"`
	Note    string         `json:"note"`
}

// CreateAdjustmentRequest drafts a stocktake adjustment.
type CreateAdjustmentRequest struct {
	WarehouseID string                `json:"warehouseId" binding:"required"`
	Type        string                `json:"type" binding:"required"`
	Reason      string                `json:"reason"`
	Lines       []CountedBatchRequest `json:"lines" binding:"required,min=1"`
}

// ToCountedBatches converts the request lines.
func (r CreateAdjustmentRequest) ToCountedBatches() ([]adjustment.CountedBatch, error) {
	return countedBatches(r.Lines)
}

// UpdateAdjustmentLinesRequest replaces the counted lines on a draft.
type UpdateAdjustmentLinesRequest struct {
	Lines []CountedBatchRequest `json:"lines" binding:"required,min=1"`
}

// ToCountedBatches converts the request lines.
func (r UpdateAdjustmentLinesRequest) ToCountedBatches() ([]adjustment.CountedBatch, error) {
	return countedBatches(r.Lines)
}

func countedBatches(lines []CountedBatchRequest) ([]adjustment.CountedBatch, error) {
	counted := make([]adjustment.CountedBatch, 0, len(lines))
	for _, line := range lines {
		batchID, err := id.Parse(line.BatchID)
		if err != nil {
			return nil, err
		}
		counted = append(counted, adjustment.CountedBatch{
			BatchID: batchID,
			Actual:  line.Actual,
			Note:    line.Note,
		})
	}
	return counted, nil
}

// ApproveAdjustmentRequest posts the adjustment.
type ApproveAdjustmentRequest struct {
	ApprovalNote string `json:"approvalNote"`
}
