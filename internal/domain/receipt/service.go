package receipt

import (
	"context"
	"fmt"
	"time"

	"medledger/internal/core/apperror"
	"medledger/internal/core/entity"
	"medledger/internal/core/id"
	"medledger/internal/core/numerator"
	"medledger/internal/core/tx"
	"medledger/internal/domain/ledger"
	"medledger/internal/domain/reservation"
	"medledger/pkg/logger"
)

// maxIssueRetries bounds re-selection attempts when a direct export
// races another transaction over the same batches.
const maxIssueRetries = 3

// Service drives both receipt workflows. Imports create batches and
// post incoming ledger entries on approval; exports issue stock either
// through a previously placed hold or directly, first expired first
// out, at approval time.
type Service struct {
	imports    ImportRepository
	exports    ExportRepository
	ledgerSvc  *ledger.Service
	ledgerRepo ledger.Repository
	resSvc     *reservation.Service
	numerator  numerator.Generator
	txManager  tx.Manager
	log        *logger.Logger
}

// NewService creates the receipt service.
func NewService(
	imports ImportRepository,
	exports ExportRepository,
	ledgerSvc *ledger.Service,
	ledgerRepo ledger.Repository,
	resSvc *reservation.Service,
	gen numerator.Generator,
	txManager tx.Manager,
	log *logger.Logger,
) *Service {
	return &Service{
		imports:    imports,
		exports:    exports,
		ledgerSvc:  ledgerSvc,
		ledgerRepo: ledgerRepo,
		resSvc:     resSvc,
		numerator:  gen,
		txManager:  txManager,
		log:        log.WithComponent("receipt"),
	}
}

// --- Imports ---

// CreateImport validates and stores a pending import receipt.
func (s *Service) CreateImport(ctx context.Context, r *ImportReceipt) (*ImportReceipt, error) {
	if err := r.Validate(ctx); err != nil {
		return nil, err
	}
	number, err := s.numerator.GetNextNumber(ctx, numerator.DefaultConfig("IM"), nil, time.Now())
	if err != nil {
		return nil, fmt.Errorf("generate import number: %w", err)
	}
	r.Number = number
	r.Status = StatusPending

	if err := s.imports.Create(ctx, r); err != nil {
		return nil, err
	}
	logger.Info(ctx, "import receipt created",
		"receipt_id", r.ID.String(), "number", r.Number, "type", string(r.Type))
	return r, nil
}

// GetImport retrieves an import receipt with its lines.
func (s *Service) GetImport(ctx context.Context, receiptID id.ID) (*ImportReceipt, error) {
	r, err := s.imports.GetByID(ctx, receiptID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, apperror.NewNotFound("import receipt", receiptID.String())
		}
		return nil, err
	}
	return r, nil
}

// ListImports retrieves import receipts by filter.
func (s *Service) ListImports(ctx context.Context, f ListFilter) ([]*ImportReceipt, error) {
	return s.imports.List(ctx, f)
}

// ApproveImport creates one batch per line and posts the incoming
// ledger entries. All lines land or none do.
func (s *Service) ApproveImport(ctx context.Context, receiptID id.ID) (*ImportReceipt, error) {
	var r *ImportReceipt
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		r, err = s.GetImport(ctx, receiptID)
		if err != nil {
			return err
		}

		won, err := s.imports.UpdateStatusIf(ctx, receiptID, StatusPending, StatusApproved)
		if err != nil {
			return err
		}
		if !won {
			return apperror.NewInvalidTransition("import receipt", string(r.Status), string(StatusApproved))
		}

		lines := make([]ledger.PostLine, 0, len(r.Lines))
		for i := range r.Lines {
			line := &r.Lines[i]
			b := entity.NewBatch(r.WarehouseID, line.ItemID, line.BatchNumber, line.ExpiryDate)
			b.ManufactureDate = line.ManufactureDate
			b.ImportPrice = line.ImportPrice
			b.UnitPrice = line.UnitPrice
			b.SourceType = string(r.Type)
			b.SourceCode = r.SourceCode
			if err := s.ledgerSvc.CreateBatch(ctx, b); err != nil {
				return err
			}
			batchID := b.ID
			line.BatchID = &batchID

			lines = append(lines, ledger.PostLine{
				BatchID:      b.ID,
				MovementType: r.Type.movementType(),
				Quantity:     line.Quantity,
				Reference:    entity.NewReference(entity.RefImportReceipt, r.ID, r.Number),
				Note:         line.Note,
			})
		}
		if _, err := s.ledgerSvc.PostAll(ctx, lines); err != nil {
			return err
		}

		now := time.Now().UTC()
		r.Status = StatusApproved
		r.ApprovedAt = &now
		r.Touch()
		return s.imports.Update(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "import receipt approved",
		"receipt_id", receiptID.String(), "number", r.Number, "lines", len(r.Lines))
	return r, nil
}

// CancelImport drops a pending import without touching the ledger.
func (s *Service) CancelImport(ctx context.Context, receiptID id.ID) error {
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		r, err := s.GetImport(ctx, receiptID)
		if err != nil {
			return err
		}
		won, err := s.imports.UpdateStatusIf(ctx, receiptID, StatusPending, StatusCancelled)
		if err != nil {
			return err
		}
		if !won {
			return apperror.NewInvalidTransition("import receipt", string(r.Status), string(StatusCancelled))
		}
		now := time.Now().UTC()
		r.Status = StatusCancelled
		r.CancelledAt = &now
		r.Touch()
		return s.imports.Update(ctx, r)
	})
	if err != nil {
		return err
	}
	logger.Info(ctx, "import receipt cancelled", "receipt_id", receiptID.String())
	return nil
}

// --- Exports ---

// CreateExport validates and stores a pending export receipt.
func (s *Service) CreateExport(ctx context.Context, r *ExportReceipt) (*ExportReceipt, error) {
	if err := r.Validate(ctx); err != nil {
		return nil, err
	}
	number, err := s.numerator.GetNextNumber(ctx, numerator.DefaultConfig("EX"), nil, time.Now())
	if err != nil {
		return nil, fmt.Errorf("generate export number: %w", err)
	}
	r.Number = number
	r.Status = StatusPending

	if err := s.exports.Create(ctx, r); err != nil {
		return nil, err
	}
	logger.Info(ctx, "export receipt created",
		"receipt_id", r.ID.String(), "number", r.Number, "type", string(r.Type))
	return r, nil
}

// GetExport retrieves an export receipt with its lines.
func (s *Service) GetExport(ctx context.Context, receiptID id.ID) (*ExportReceipt, error) {
	r, err := s.exports.GetByID(ctx, receiptID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, apperror.NewNotFound("export receipt", receiptID.String())
		}
		return nil, err
	}
	return r, nil
}

// ListExports retrieves export receipts by filter.
func (s *Service) ListExports(ctx context.Context, f ListFilter) ([]*ExportReceipt, error) {
	return s.exports.List(ctx, f)
}

// ReserveExport places holds for every line that does not have one yet,
// so a pending dispense keeps its stock until approval. Lines are held
// individually; a failure releases nothing already stored on the
// document (the transaction rolls the whole call back).
func (s *Service) ReserveExport(ctx context.Context, receiptID id.ID) (*ExportReceipt, error) {
	var r *ExportReceipt
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		r, err = s.GetExport(ctx, receiptID)
		if err != nil {
			return err
		}
		if r.Status != StatusPending {
			return apperror.NewInvalidTransition("export receipt", string(r.Status), string(StatusPending))
		}

		for i := range r.Lines {
			line := &r.Lines[i]
			if line.ReservationID != nil {
				continue
			}
			res, err := s.resSvc.Reserve(ctx, reservation.ReserveRequest{
				WarehouseID: r.WarehouseID,
				ItemID:      line.ItemID,
				Quantity:    line.Quantity,
				TTL:         reservation.MaxTTL,
				Reference:   entity.NewReference(entity.RefExportReceipt, r.ID, r.Number),
				Note:        line.Note,
			})
			if err != nil {
				return err
			}
			resID := res.ID
			line.ReservationID = &resID
		}
		return s.exports.Update(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "export receipt reserved",
		"receipt_id", receiptID.String(), "number", r.Number)
	return r, nil
}

// ApproveExport issues the stock. Lines holding a reservation consume
// it; lines without one are served directly from issuable batches,
// first expired first out. Any line failure rolls the whole approval
// back.
func (s *Service) ApproveExport(ctx context.Context, receiptID id.ID) (*ExportReceipt, error) {
	var r *ExportReceipt
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		r, err = s.GetExport(ctx, receiptID)
		if err != nil {
			return err
		}

		won, err := s.exports.UpdateStatusIf(ctx, receiptID, StatusPending, StatusApproved)
		if err != nil {
			return err
		}
		if !won {
			return apperror.NewInvalidTransition("export receipt", string(r.Status), string(StatusApproved))
		}

		for i := range r.Lines {
			line := &r.Lines[i]
			if line.ReservationID != nil {
				if _, err := s.resSvc.ConsumeQuantity(ctx, *line.ReservationID, line.Quantity); err != nil {
					return err
				}
				continue
			}
			if err := s.issueDirect(ctx, r, line); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		r.Status = StatusApproved
		r.ApprovedAt = &now
		r.Touch()
		return s.exports.Update(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "export receipt approved",
		"receipt_id", receiptID.String(), "number", r.Number, "lines", len(r.Lines))
	return r, nil
}

// issueDirect posts export entries for one unreserved line. Batch
// selection runs outside row locks, so a concurrent drain surfaces as
// a lock conflict inside PostAll and the selection is retried.
func (s *Service) issueDirect(ctx context.Context, r *ExportReceipt, line *ExportLine) error {
	movementType := r.Type.movementType()
	ref := entity.NewReference(entity.RefExportReceipt, r.ID, r.Number)
	if r.Reference.Kind == entity.RefDispenseRequest {
		ref = r.Reference
	}

	var lastErr error
	for attempt := 0; attempt < maxIssueRetries; attempt++ {
		candidates, err := s.ledgerRepo.ListBatches(ctx, ledger.BatchFilter{
			WarehouseID:  &r.WarehouseID,
			ItemID:       &line.ItemID,
			IssuableOnly: true,
			AsOf:         time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		allocations, err := ledger.SelectBatches(candidates, line.ItemID, line.Quantity, time.Now().UTC())
		if err != nil {
			return err
		}

		lines := make([]ledger.PostLine, 0, len(allocations))
		for _, alloc := range allocations {
			lines = append(lines, ledger.PostLine{
				BatchID:      alloc.Batch.ID,
				MovementType: movementType,
				Quantity:     alloc.Quantity.Neg(),
				Reference:    ref,
				Note:         line.Note,
			})
		}
		if _, err := s.ledgerSvc.PostAll(ctx, lines); err != nil {
			if apperror.IsConcurrentModification(err) || apperror.IsInsufficientStock(err) {
				lastErr = err
				continue
			}
			return err
		}
		return nil
	}
	return lastErr
}

// CancelExport drops a pending export, releasing any holds its lines
// placed. Holds that already expired release trivially.
func (s *Service) CancelExport(ctx context.Context, receiptID id.ID) error {
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		r, err := s.GetExport(ctx, receiptID)
		if err != nil {
			return err
		}
		won, err := s.exports.UpdateStatusIf(ctx, receiptID, StatusPending, StatusCancelled)
		if err != nil {
			return err
		}
		if !won {
			return apperror.NewInvalidTransition("export receipt", string(r.Status), string(StatusCancelled))
		}

		for _, line := range r.Lines {
			if line.ReservationID == nil {
				continue
			}
			if err := s.resSvc.Release(ctx, *line.ReservationID); err != nil {
				if apperror.IsCode(err, apperror.CodeReservationExpired) ||
					apperror.IsCode(err, apperror.CodeReservationAlreadyResolved) {
					continue
				}
				return err
			}
		}

		now := time.Now().UTC()
		r.Status = StatusCancelled
		r.CancelledAt = &now
		r.Touch()
		return s.exports.Update(ctx, r)
	})
	if err != nil {
		return err
	}
	logger.Info(ctx, "export receipt cancelled", "receipt_id", receiptID.String())
	return nil
}
