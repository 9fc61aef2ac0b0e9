package catalog_repo

import (
	"context"

	"github.com/Masterminds/squirrel"

	"medledger/internal/domain/catalogs/item"
	"medledger/internal/infrastructure/storage/postgres"
)

const itemTable = "items"

// Compile-time check that ItemRepo implements item.Repository.
var _ item.Repository = (*ItemRepo)(nil)

// ItemRepo implements item.Repository.
type ItemRepo struct {
	*BaseCatalogRepo[*item.Item]
}

// NewItemRepo creates a new item repository.
func NewItemRepo(txm *postgres.TxManager) *ItemRepo {
	return &ItemRepo{
		BaseCatalogRepo: NewBaseCatalogRepo(
			txm,
			itemTable,
			postgres.ExtractDBColumns[item.Item](),
			func() *item.Item { return &item.Item{} },
		),
	}
}

// ListByKind retrieves active items of a given kind.
func (r *ItemRepo) ListByKind(ctx context.Context, kind item.Kind) ([]*item.Item, error) {
	q := r.baseSelect().
		Where(squirrel.Eq{"kind": kind}).
		Where(squirrel.Eq{"is_active": true}).
		Where(squirrel.Eq{"deletion_mark": false}).
		OrderBy("name ASC")

	return r.FindMany(ctx, q)
}
