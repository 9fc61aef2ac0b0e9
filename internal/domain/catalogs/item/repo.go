package item

import (
	"context"

	"medledger/internal/domain"
)

// Repository defines the interface for Item persistence.
type Repository interface {
	domain.CatalogRepository[*Item]

	// ListByKind retrieves active items of a given kind.
	ListByKind(ctx context.Context, kind Kind) ([]*Item, error)
}
