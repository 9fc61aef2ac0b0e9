// Package warehouse provides the warehouse catalog: the tree of stock
// locations a hospital runs — central stores, department pharmacies and
// ward dispensing cabinets.
package warehouse

import (
	"context"

	"medledger/internal/core/apperror"
	"medledger/internal/core/entity"
	"medledger/internal/core/id"
)

// Kind defines the warehouse category.
type Kind string

const (
	KindMedicineStore Kind = "medicine_store"
	KindSupplyStore   Kind = "supply_store"
	KindChemicalStore Kind = "chemical_store"
	KindPharmacy      Kind = "pharmacy"
	KindCabinet       Kind = "cabinet"
)

// Warehouse is a physical or logical stock location. It may nest under a
// parent warehouse (a ward cabinet under a department pharmacy under the
// main store). The parent chain must stay acyclic; Service.SetParent
// validates this on every reassignment.
type Warehouse struct {
	entity.Catalog

	Kind Kind `db:"kind" json:"kind"`

	ParentID     *id.ID `db:"parent_id" json:"parentId,omitempty"`
	DepartmentID *id.ID `db:"department_id" json:"departmentId,omitempty"`

	Location *string `db:"location" json:"location,omitempty"`

	IsPharmacy bool `db:"is_pharmacy" json:"isPharmacy"`
	IsCabinet  bool `db:"is_cabinet" json:"isCabinet"`
	IsActive   bool `db:"is_active" json:"isActive"`
}

// New creates a new Warehouse with required fields.
func New(code, name string, kind Kind) *Warehouse {
	return &Warehouse{
		Catalog:    entity.NewCatalog(code, name),
		Kind:       kind,
		IsPharmacy: kind == KindPharmacy,
		IsCabinet:  kind == KindCabinet,
		IsActive:   true,
	}
}

// Validate implements entity.Validatable.
func (w *Warehouse) Validate(ctx context.Context) error {
	if w.Name == "" {
		return apperror.NewValidation("name is required").
			WithDetail("field", "name")
	}

	if !isValidKind(w.Kind) {
		return apperror.NewValidation("invalid warehouse kind").
			WithDetail("field", "kind").
			WithDetail("value", string(w.Kind))
	}

	if w.ParentID != nil && *w.ParentID == w.ID {
		return apperror.NewValidation("warehouse cannot be its own parent").
			WithDetail("field", "parentId")
	}

	return nil
}

// IsRoot returns true if the warehouse has no parent.
func (w *Warehouse) IsRoot() bool {
	return w.ParentID == nil || id.IsNil(*w.ParentID)
}

// CanHoldStock returns true if the warehouse is operational.
func (w *Warehouse) CanHoldStock() bool {
	return w.IsActive && !w.DeletionMark
}

func isValidKind(k Kind) bool {
	switch k {
	case KindMedicineStore, KindSupplyStore, KindChemicalStore, KindPharmacy, KindCabinet:
		return true
	}
	return false
}
