package item

import (
	"context"
	"fmt"
	"time"

	"medledger/internal/core/numerator"
	"medledger/internal/core/tx"
	"medledger/internal/domain"
)

// Service provides business logic for the Item catalog.
type Service struct {
	*domain.CatalogService[*Item]
	repo      Repository
	numerator numerator.Generator
}

// NewService creates a new Item service.
func NewService(repo Repository, txManager tx.Manager, gen numerator.Generator) *Service {
	base := domain.NewCatalogService(domain.CatalogServiceConfig[*Item]{
		Repo:       repo,
		TxManager:  txManager,
		EntityName: "item",
	})

	svc := &Service{
		CatalogService: base,
		repo:           repo,
		numerator:      gen,
	}

	base.Hooks().OnBeforeCreate(svc.prepareForCreate)

	return svc
}

func (s *Service) prepareForCreate(ctx context.Context, it *Item) error {
	if it.Code == "" {
		code, err := s.numerator.GetNextNumber(ctx, numerator.DefaultConfig("ITM"), nil, time.Now())
		if err != nil {
			return fmt.Errorf("generate code: %w", err)
		}
		it.Code = code
	}
	return nil
}

// ListByKind retrieves active items of a given kind.
func (s *Service) ListByKind(ctx context.Context, kind Kind) ([]*Item, error) {
	return s.repo.ListByKind(ctx, kind)
}
