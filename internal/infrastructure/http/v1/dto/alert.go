package dto

import (
	"medledger/internal/core/id"
	"medledger/internal/core/types"
	"medledger/internal/domain/alert"
)

// UpsertThresholdRequest creates or reconfigures a stock threshold.
type UpsertThresholdRequest struct {
	// ID identifies an existing threshold to reconfigure; omit to create.
	ID *string `json:"id"`

	ItemID      string  `json:"itemId" binding:"required"`
	WarehouseID *string `json:"warehouseId"`

	MinimumQuantity types.Quantity `json:"minimumQuantity"`
	ReorderPoint    types.Quantity `json:"reorderPoint"`
	MaximumQuantity types.Quantity `json:"maximumQuantity"`
	ReorderQuantity types.Quantity `json:"reorderQuantity"`

	// Rule is an optional CEL expression overriding the trigger
	// condition, e.g. "quantity < reorder_point * 2.0".
	Rule string `json:"rule"`

	IsActive *bool `json:"isActive"`

	// Version is required when updating an existing threshold.
	Version int `json:"version"`
}

// ToEntity converts the request into a domain threshold.
func (r UpsertThresholdRequest) ToEntity() (*alert.Threshold, error) {
	itemID, err := id.Parse(r.ItemID)
	if err != nil {
		return nil, err
	}

	var warehouseID *id.ID
	if r.WarehouseID != nil {
		parsed, err := id.Parse(*r.WarehouseID)
		if err != nil {
			return nil, err
		}
		warehouseID = &parsed
	}

	t := alert.NewThreshold(itemID, warehouseID, r.MinimumQuantity, r.ReorderPoint, r.MaximumQuantity)
	t.ReorderQuantity = r.ReorderQuantity
	t.Rule = r.Rule
	if r.IsActive != nil {
		t.IsActive = *r.IsActive
	}

	if r.ID != nil {
		existingID, err := id.Parse(*r.ID)
		if err != nil {
			return nil, err
		}
		t.ID = existingID
		t.Version = r.Version
	}
	return t, nil
}

// AcknowledgeAlertRequest records the action taken on an alert.
type AcknowledgeAlertRequest struct {
	ActionTaken string `json:"actionTaken" binding:"required"`
}
