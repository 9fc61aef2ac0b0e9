package warehouse

import (
	"context"

	"medledger/internal/core/id"
	"medledger/internal/domain"
)

// Repository defines the interface for Warehouse persistence.
type Repository interface {
	domain.CatalogRepository[*Warehouse]

	// GetForUpdate retrieves warehouse with row lock (for transactional updates).
	GetForUpdate(ctx context.Context, id id.ID) (*Warehouse, error)

	// ListChildren retrieves direct children of a warehouse.
	ListChildren(ctx context.Context, parentID id.ID) ([]*Warehouse, error)
}
