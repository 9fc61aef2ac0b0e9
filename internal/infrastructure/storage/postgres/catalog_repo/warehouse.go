package catalog_repo

import (
	"context"

	"github.com/Masterminds/squirrel"

	"medledger/internal/core/id"
	"medledger/internal/domain/catalogs/warehouse"
	"medledger/internal/infrastructure/storage/postgres"
)

const warehouseTable = "warehouses"

// Compile-time check that WarehouseRepo implements warehouse.Repository.
var _ warehouse.Repository = (*WarehouseRepo)(nil)

// WarehouseRepo implements warehouse.Repository.
type WarehouseRepo struct {
	*BaseCatalogRepo[*warehouse.Warehouse]
}

// NewWarehouseRepo creates a new warehouse repository.
func NewWarehouseRepo(txm *postgres.TxManager) *WarehouseRepo {
	return &WarehouseRepo{
		BaseCatalogRepo: NewBaseCatalogRepo(
			txm,
			warehouseTable,
			postgres.ExtractDBColumns[warehouse.Warehouse](),
			func() *warehouse.Warehouse { return &warehouse.Warehouse{} },
		),
	}
}

// ListChildren retrieves direct children of a warehouse.
func (r *WarehouseRepo) ListChildren(ctx context.Context, parentID id.ID) ([]*warehouse.Warehouse, error) {
	q := r.baseSelect().
		Where(squirrel.Eq{"parent_id": parentID}).
		Where(squirrel.Eq{"deletion_mark": false}).
		OrderBy("name ASC")

	return r.FindMany(ctx, q)
}
