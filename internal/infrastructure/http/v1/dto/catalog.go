package dto

import (
	"medledger/internal/core/id"
	"medledger/internal/core/types"
	"medledger/internal/domain/catalogs/item"
	"medledger/internal/domain/catalogs/warehouse"
)

// --- Warehouses ---

// CreateWarehouseRequest for creating warehouses.
type CreateWarehouseRequest struct {
	Code         string  `json:"code"`
	Name         string  `json:"name" binding:"required"`
	Kind         string  `json:"kind" binding:"required"`
	ParentID     *string `json:"parentId"`
	DepartmentID *string `json:"departmentId"`
	Location     *string `json:"location"`
}

// ToEntity converts the request into a domain warehouse.
func (r CreateWarehouseRequest) ToEntity() (*warehouse.Warehouse, error) {
	wh := warehouse.New(r.Code, r.Name, warehouse.Kind(r.Kind))
	wh.Location = r.Location

	if r.ParentID != nil {
		parentID, err := id.Parse(*r.ParentID)
		if err != nil {
			return nil, err
		}
		wh.ParentID = &parentID
	}
	if r.DepartmentID != nil {
		depID, err := id.Parse(*r.DepartmentID)
		if err != nil {
			return nil, err
		}
		wh.DepartmentID = &depID
	}
	return wh, nil
}

// UpdateWarehouseRequest for updating warehouses.
type UpdateWarehouseRequest struct {
	Name     *string `json:"name"`
	Kind     *string `json:"kind"`
	Location *string `json:"location"`
	IsActive *bool   `json:"isActive"`
	Version  int     `json:"version" binding:"required,min=1"`
}

// ApplyTo merges the request into an existing warehouse.
func (r UpdateWarehouseRequest) ApplyTo(wh *warehouse.Warehouse) {
	if r.Name != nil {
		wh.Name = *r.Name
	}
	if r.Kind != nil {
		wh.Kind = warehouse.Kind(*r.Kind)
	}
	if r.Location != nil {
		wh.Location = r.Location
	}
	if r.IsActive != nil {
		wh.IsActive = *r.IsActive
	}
	wh.Version = r.Version
}

// SetParentRequest reassigns a warehouse in the tree.
type SetParentRequest struct {
	ParentID *string `json:"parentId"`
}

// --- Items ---

// CreateItemRequest for creating stock items.
type CreateItemRequest struct {
	Code               string  `json:"code"`
	Name               string  `json:"name" binding:"required"`
	Kind               string  `json:"kind" binding:"required"`
	Unit               string  `json:"unit" binding:"required"`
	Concentration      *string `json:"concentration"`
	Manufacturer       *string `json:"manufacturer"`
	Country            *string `json:"country"`
	RegistrationNumber *string `json:"registrationNumber"`
	DefaultPrice       float64 `json:"defaultPrice"`
}

// ToEntity converts the request into a domain item.
func (r CreateItemRequest) ToEntity() *item.Item {
	it := item.New(r.Code, r.Name, item.Kind(r.Kind), r.Unit)
	it.Concentration = r.Concentration
	it.Manufacturer = r.Manufacturer
	it.Country = r.Country
	it.RegistrationNumber = r.RegistrationNumber
	it.DefaultPrice = types.NewMoney(r.DefaultPrice)
	return it
}

// UpdateItemRequest for updating stock items.
type UpdateItemRequest struct {
	Name          *string  `json:"name"`
	Unit          *string  `json:"unit"`
	Concentration *string  `json:"concentration"`
	Manufacturer  *string  `json:"manufacturer"`
	DefaultPrice  *float64 `json:"defaultPrice"`
	IsActive      *bool    `json:"isActive"`
	Version       int      `json:"version" binding:"required,min=1"`
}

// ApplyTo merges the request into an existing item.
func (r UpdateItemRequest) ApplyTo(it *item.Item) {
	if r.Name != nil {
		it.Name = *r.Name
	}
	if r.Unit != nil {
		it.Unit = *r.Unit
	}
	if r.Concentration != nil {
		it.Concentration = r.Concentration
	}
	if r.Manufacturer != nil {
		it.Manufacturer = r.Manufacturer
	}
	if r.DefaultPrice != nil {
		it.DefaultPrice = types.NewMoney(*r.DefaultPrice)
	}
	if r.IsActive != nil {
		it.IsActive = *r.IsActive
	}
	it.Version = r.Version
}
