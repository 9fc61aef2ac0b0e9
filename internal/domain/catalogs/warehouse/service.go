package warehouse

import (
	"context"
	"fmt"
	"time"

	"medledger/internal/core/apperror"
	"medledger/internal/core/id"
	"medledger/internal/core/numerator"
	"medledger/internal/core/tx"
	"medledger/internal/domain"
)

// maxTreeDepth bounds the ancestor walk in reparent validation. The
// deepest real hierarchy is store -> pharmacy -> cabinet; anything past
// this limit indicates corrupted parent links.
const maxTreeDepth = 32

// Service provides business logic for the Warehouse catalog.
// Uses composition with domain.CatalogService for common CRUD operations.
type Service struct {
	*domain.CatalogService[*Warehouse]
	repo      Repository
	numerator numerator.Generator
}

// NewService creates a new Warehouse service.
func NewService(repo Repository, txManager tx.Manager, gen numerator.Generator) *Service {
	base := domain.NewCatalogService(domain.CatalogServiceConfig[*Warehouse]{
		Repo:       repo,
		TxManager:  txManager,
		EntityName: "warehouse",
	})

	svc := &Service{
		CatalogService: base,
		repo:           repo,
		numerator:      gen,
	}

	base.Hooks().OnBeforeCreate(svc.prepareForCreate)
	base.Hooks().OnBeforeUpdate(svc.validateParent)
	base.Hooks().OnBeforeDelete(svc.ensureNoChildren)

	return svc
}

// prepareForCreate handles code generation and parent validation.
func (s *Service) prepareForCreate(ctx context.Context, wh *Warehouse) error {
	if wh.Code == "" {
		code, err := s.numerator.GetNextNumber(ctx, numerator.DefaultConfig("WH"), nil, time.Now())
		if err != nil {
			return fmt.Errorf("generate code: %w", err)
		}
		wh.Code = code
	}

	return s.validateParent(ctx, wh)
}

// validateParent checks the parent reference: it must exist, must not be
// the warehouse itself, and must not create a cycle in the tree.
func (s *Service) validateParent(ctx context.Context, wh *Warehouse) error {
	if wh.IsRoot() {
		return nil
	}

	parentID := *wh.ParentID
	if parentID == wh.ID {
		return apperror.NewValidation("warehouse cannot be its own parent").
			WithDetail("field", "parentId")
	}

	parent, err := s.repo.GetByID(ctx, parentID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return apperror.NewValidation("parent warehouse does not exist").
				WithDetail("field", "parentId").
				WithDetail("value", parentID.String())
		}
		return err
	}
	if parent.DeletionMark {
		return apperror.NewValidation("parent warehouse is deleted").
			WithDetail("field", "parentId").
			WithDetail("value", parentID.String())
	}

	return s.checkNoCycle(ctx, wh.ID, parent)
}

// checkNoCycle walks the ancestor chain from the proposed parent upward.
// Encountering the warehouse being reparented means the assignment would
// close a loop.
func (s *Service) checkNoCycle(ctx context.Context, whID id.ID, parent *Warehouse) error {
	visited := map[id.ID]struct{}{whID: {}}
	current := parent

	for depth := 0; depth < maxTreeDepth; depth++ {
		if _, seen := visited[current.ID]; seen {
			return apperror.NewValidation("parent assignment would create a cycle").
				WithDetail("field", "parentId").
				WithDetail("warehouse_id", whID.String()).
				WithDetail("conflicting_id", current.ID.String())
		}
		visited[current.ID] = struct{}{}

		if current.IsRoot() {
			return nil
		}
		next, err := s.repo.GetByID(ctx, *current.ParentID)
		if err != nil {
			return fmt.Errorf("walk ancestors: %w", err)
		}
		current = next
	}

	return apperror.NewValidation("warehouse tree is too deep").
		WithDetail("max_depth", maxTreeDepth)
}

// ensureNoChildren blocks soft-deleting a warehouse that still has
// active children.
func (s *Service) ensureNoChildren(ctx context.Context, wh *Warehouse) error {
	children, err := s.repo.ListChildren(ctx, wh.ID)
	if err != nil {
		return fmt.Errorf("list children: %w", err)
	}
	for _, child := range children {
		if !child.DeletionMark {
			return apperror.NewConflict("warehouse has active child warehouses").
				WithDetail("warehouse_id", wh.ID.String()).
				WithDetail("child_id", child.ID.String())
		}
	}
	return nil
}

// SetParent reassigns a warehouse to a new parent (nil moves it to root).
func (s *Service) SetParent(ctx context.Context, whID id.ID, parentID *id.ID) error {
	wh, err := s.GetByID(ctx, whID)
	if err != nil {
		return err
	}

	wh.ParentID = parentID
	return s.Update(ctx, wh)
}

// GetSubtree returns the warehouse and all its descendants. Used by
// stock reports that aggregate a department pharmacy with its cabinets.
func (s *Service) GetSubtree(ctx context.Context, rootID id.ID) ([]*Warehouse, error) {
	return s.repo.GetTree(ctx, &rootID)
}
