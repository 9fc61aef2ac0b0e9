package adjustment

import (
	"context"
	"fmt"
	"time"

	"medledger/internal/core/apperror"
	appctx "medledger/internal/core/context"
	"medledger/internal/core/entity"
	"medledger/internal/core/id"
	"medledger/internal/core/numerator"
	"medledger/internal/core/tx"
	"medledger/internal/core/types"
	"medledger/internal/domain/ledger"
	"medledger/pkg/logger"
)

// CountedBatch is one line of a draft request: a batch and its physically
// counted quantity.
type CountedBatch struct {
	BatchID id.ID
	Actual  types.Quantity
	Note    string
}

// Service drives the adjustment workflow: draft against snapshots,
// approve under batch locks, or discard.
type Service struct {
	repo      Repository
	ledgerSvc *ledger.Service
	numerator numerator.Generator
	txManager tx.Manager
	log       *logger.Logger
}

// NewService creates the adjustment service.
func NewService(
	repo Repository,
	ledgerSvc *ledger.Service,
	gen numerator.Generator,
	txManager tx.Manager,
	log *logger.Logger,
) *Service {
	return &Service{
		repo:      repo,
		ledgerSvc: ledgerSvc,
		numerator: gen,
		txManager: txManager,
		log:       log.WithComponent("adjustment"),
	}
}

// Draft creates an adjustment from counted batches, snapshotting each
// batch's current system quantity.
func (s *Service) Draft(ctx context.Context, warehouseID id.ID, adjType Type, reason string, counted []CountedBatch) (*Adjustment, error) {
	if len(counted) == 0 {
		return nil, apperror.NewValidation("at least one counted batch is required")
	}

	a := New(warehouseID, adjType, reason)
	number, err := s.numerator.GetNextNumber(ctx, numerator.DefaultConfig("ADJ"), nil, time.Now())
	if err != nil {
		return nil, fmt.Errorf("generate adjustment number: %w", err)
	}
	a.Number = number

	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		for _, c := range counted {
			b, err := s.ledgerSvc.GetBatch(ctx, c.BatchID)
			if err != nil {
				return err
			}
			if b.WarehouseID != warehouseID {
				return apperror.NewValidation("batch belongs to another warehouse").
					WithDetail("batch_id", c.BatchID.String())
			}
			a.AddLine(b, c.Actual, c.Note)
		}
		if err := a.Validate(ctx); err != nil {
			return err
		}
		return s.repo.Create(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "adjustment drafted",
		"adjustment_id", a.ID.String(), "number", a.Number, "lines", len(a.Lines))
	return a, nil
}

// GetByID retrieves an adjustment with its lines.
func (s *Service) GetByID(ctx context.Context, adjID id.ID) (*Adjustment, error) {
	a, err := s.repo.GetByID(ctx, adjID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, apperror.NewNotFound("adjustment", adjID.String())
		}
		return nil, err
	}
	return a, nil
}

// List retrieves adjustments by filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]*Adjustment, error) {
	return s.repo.List(ctx, f)
}

// UpdateLines replaces the counted lines on a draft, re-snapshotting
// each batch's system quantity. Approved and discarded documents are
// immutable.
func (s *Service) UpdateLines(ctx context.Context, adjID id.ID, counted []CountedBatch) (*Adjustment, error) {
	if len(counted) == 0 {
		return nil, apperror.NewValidation("at least one counted batch is required")
	}

	var a *Adjustment
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.GetByID(ctx, adjID)
		if err != nil {
			return err
		}
		if !a.IsDraft() {
			return apperror.NewInvalidTransition("adjustment", string(a.Status), string(StatusDraft))
		}

		a.Lines = a.Lines[:0]
		for _, c := range counted {
			b, err := s.ledgerSvc.GetBatch(ctx, c.BatchID)
			if err != nil {
				return err
			}
			if b.WarehouseID != a.WarehouseID {
				return apperror.NewValidation("batch belongs to another warehouse").
					WithDetail("batch_id", c.BatchID.String())
			}
			a.AddLine(b, c.Actual, c.Note)
		}
		if err := a.Validate(ctx); err != nil {
			return err
		}
		a.Touch()
		return s.repo.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "adjustment lines updated",
		"adjustment_id", a.ID.String(), "lines", len(a.Lines))
	return a, nil
}

// Approve posts the compensating ledger entries and finalizes the
// document. The difference of each line is recomputed against the live
// batch quantity under its row lock: stock may have moved since the
// count was drafted, and the approved correction must still land the
// batch exactly on the counted quantity. Lines whose batch already sits
// on the counted value post nothing.
func (s *Service) Approve(ctx context.Context, adjID id.ID, approvalNote string) (*Adjustment, error) {
	var a *Adjustment
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.GetByID(ctx, adjID)
		if err != nil {
			return err
		}

		won, err := s.repo.UpdateStatusIf(ctx, adjID, StatusDraft, StatusApproved)
		if err != nil {
			return err
		}
		if !won {
			return apperror.NewInvalidTransition("adjustment", string(a.Status), string(StatusApproved))
		}

		// Lock every counted batch up front: the diffs must be computed
		// from the same quantities the post applies against, or a
		// movement committed in between lands the batch off the count.
		batchIDs := make([]id.ID, 0, len(a.Lines))
		for i := range a.Lines {
			batchIDs = append(batchIDs, a.Lines[i].BatchID)
		}
		batches, err := s.ledgerSvc.LockBatches(ctx, batchIDs)
		if err != nil {
			return err
		}

		var lines []ledger.PostLine
		for i := range a.Lines {
			line := &a.Lines[i]
			b := batches[line.BatchID]
			diff := line.ActualQuantity - b.Quantity
			line.SystemQuantity = b.Quantity
			line.DifferenceQuantity = diff
			if diff.IsZero() {
				continue
			}
			lines = append(lines, ledger.PostLine{
				BatchID:      line.BatchID,
				MovementType: entity.MovementAdjustment,
				Quantity:     diff,
				Reference:    entity.NewReference(entity.RefAdjustment, a.ID, a.Number),
				Note:         line.Note,
			})
		}
		if len(lines) > 0 {
			if _, err := s.ledgerSvc.PostAll(ctx, lines); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		a.Status = StatusApproved
		a.ApprovedAt = &now
		a.ApprovedBy = appctx.GetUserID(ctx)
		a.ApprovalNote = approvalNote
		a.Touch()
		return s.repo.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "adjustment approved",
		"adjustment_id", adjID.String(), "number", a.Number)
	return a, nil
}

// Discard drops a draft without touching the ledger.
func (s *Service) Discard(ctx context.Context, adjID id.ID) error {
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		a, err := s.GetByID(ctx, adjID)
		if err != nil {
			return err
		}
		won, err := s.repo.UpdateStatusIf(ctx, adjID, StatusDraft, StatusDiscarded)
		if err != nil {
			return err
		}
		if !won {
			return apperror.NewInvalidTransition("adjustment", string(a.Status), string(StatusDiscarded))
		}
		return nil
	})
	if err != nil {
		return err
	}
	logger.Info(ctx, "adjustment discarded", "adjustment_id", adjID.String())
	return nil
}
