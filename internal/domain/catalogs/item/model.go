// Package item provides the stock item catalog: medicines and medical
// supplies tracked by the warehouse ledger.
package item

import (
	"context"

	"medledger/internal/core/apperror"
	"medledger/internal/core/entity"
	"medledger/internal/core/types"
)

// Kind defines the item category.
type Kind string

const (
	KindMedicine Kind = "medicine"
	KindSupply   Kind = "supply"
	KindChemical Kind = "chemical"
)

// Item represents a stocked good. Quantities in the ledger are always
// expressed in the item's base Unit; pack conversions happen at the edges.
type Item struct {
	entity.Catalog

	Kind Kind `db:"kind" json:"kind"`

	// Unit is the base unit of measure (vial, tablet, box)
	Unit string `db:"unit" json:"unit"`

	// Concentration for medicines (e.g., "500mg")
	Concentration *string `db:"concentration" json:"concentration,omitempty"`

	// Manufacturer name
	Manufacturer *string `db:"manufacturer" json:"manufacturer,omitempty"`

	// Country of origin
	Country *string `db:"country" json:"country,omitempty"`

	// RegistrationNumber is the regulatory registration number for medicines
	RegistrationNumber *string `db:"registration_number" json:"registrationNumber,omitempty"`

	// DefaultPrice used to prefill receipt lines
	DefaultPrice types.Money `db:"default_price" json:"defaultPrice"`

	// RequiresBatchTracking is true for everything the ledger manages;
	// kept explicit so non-tracked consumables can share the catalog.
	RequiresBatchTracking bool `db:"requires_batch_tracking" json:"requiresBatchTracking"`

	IsActive bool `db:"is_active" json:"isActive"`
}

// New creates a new Item with required fields.
func New(code, name string, kind Kind, unit string) *Item {
	return &Item{
		Catalog:               entity.NewCatalog(code, name),
		Kind:                  kind,
		Unit:                  unit,
		DefaultPrice:          types.ZeroMoney(),
		RequiresBatchTracking: true,
		IsActive:              true,
	}
}

// Validate implements entity.Validatable.
func (i *Item) Validate(ctx context.Context) error {
	if i.Name == "" {
		return apperror.NewValidation("name is required").
			WithDetail("field", "name")
	}

	if !isValidKind(i.Kind) {
		return apperror.NewValidation("invalid item kind").
			WithDetail("field", "kind").
			WithDetail("value", string(i.Kind))
	}

	if i.Unit == "" {
		return apperror.NewValidation("unit is required").
			WithDetail("field", "unit")
	}

	if i.DefaultPrice.IsNegative() {
		return apperror.NewValidation("default price cannot be negative").
			WithDetail("field", "defaultPrice")
	}

	return nil
}

func isValidKind(k Kind) bool {
	switch k {
	case KindMedicine, KindSupply, KindChemical:
		return true
	}
	return false
}
