package transfer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"medledger/internal/core/apperror"
	"medledger/internal/core/entity"
	"medledger/internal/core/id"
	"medledger/internal/core/numerator"
	"medledger/internal/core/tx"
	"medledger/internal/core/types"
	"medledger/internal/domain/ledger"
	"medledger/internal/domain/reservation"
	"medledger/pkg/logger"
)

// LineQuantity sets a per-line quantity for deliver and receive calls.
type LineQuantity struct {
	LineID   id.ID
	Quantity types.Quantity
}

// Service drives the transfer workflow. Source-side stock is held on
// approval and exported on delivery; destination-side batches are created
// or topped up on receipt. Every step is atomic.
type Service struct {
	repo       Repository
	resSvc     *reservation.Service
	ledgerSvc  *ledger.Service
	ledgerRepo ledger.Repository
	numerator  numerator.Generator
	txManager  tx.Manager
	log        *logger.Logger
}

// NewService creates the transfer service.
func NewService(
	repo Repository,
	resSvc *reservation.Service,
	ledgerSvc *ledger.Service,
	ledgerRepo ledger.Repository,
	gen numerator.Generator,
	txManager tx.Manager,
	log *logger.Logger,
) *Service {
	return &Service{
		repo:       repo,
		resSvc:     resSvc,
		ledgerSvc:  ledgerSvc,
		ledgerRepo: ledgerRepo,
		numerator:  gen,
		txManager:  txManager,
		log:        log.WithComponent("transfer"),
	}
}

// Create registers a transfer request.
func (s *Service) Create(ctx context.Context, t *Transfer) error {
	if err := t.Validate(ctx); err != nil {
		return err
	}
	if t.Number == "" {
		number, err := s.numerator.GetNextNumber(ctx, numerator.DefaultConfig("WT"), nil, time.Now())
		if err != nil {
			return fmt.Errorf("generate transfer number: %w", err)
		}
		t.Number = number
	}
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		return s.repo.Create(ctx, t)
	})
	if err != nil {
		return err
	}
	logger.Info(ctx, "transfer requested",
		"transfer_id", t.ID.String(), "number", t.Number, "lines", len(t.Lines))
	return nil
}

// GetByID retrieves a transfer with its lines.
func (s *Service) GetByID(ctx context.Context, transferID id.ID) (*Transfer, error) {
	t, err := s.repo.GetByID(ctx, transferID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, apperror.NewNotFound("transfer", transferID.String())
		}
		return nil, err
	}
	return t, nil
}

// List retrieves transfers by filter.
func (s *Service) List(ctx context.Context, f ListFilter) ([]*Transfer, error) {
	return s.repo.List(ctx, f)
}

// Approve moves the transfer to approved, holding the requested quantity
// of every line at the source warehouse. If any line cannot be covered
// the whole approval fails and no stock is held.
func (s *Service) Approve(ctx context.Context, transferID id.ID) (*Transfer, error) {
	var t *Transfer
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		t, err = s.GetByID(ctx, transferID)
		if err != nil {
			return err
		}
		if err := t.Transition(StatusApproved); err != nil {
			return err
		}

		for i := range t.Lines {
			line := &t.Lines[i]
			res, err := s.resSvc.Reserve(ctx, reservation.ReserveRequest{
				WarehouseID: t.SourceWarehouseID,
				ItemID:      line.ItemID,
				Quantity:    line.Requested,
				TTL:         reservation.MaxTTL,
				Reference:   entity.NewReference(entity.RefTransfer, t.ID, t.Number),
			})
			if err != nil {
				return err
			}
			line.ReservationID = &res.ID
		}
		return s.repo.Update(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "transfer approved", "transfer_id", transferID.String())
	return t, nil
}

// Deliver exports the delivered quantities from the source warehouse.
// Quantities default to the full requested amount; a line may deliver
// less but never more. Undelivered remainder of each hold goes back to
// the source pool.
func (s *Service) Deliver(ctx context.Context, transferID id.ID, quantities []LineQuantity) (*Transfer, error) {
	byLine := lineQuantityMap(quantities)

	var t *Transfer
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		t, err = s.GetByID(ctx, transferID)
		if err != nil {
			return err
		}
		if err := t.Transition(StatusDelivered); err != nil {
			return err
		}

		for i := range t.Lines {
			line := &t.Lines[i]
			delivered, ok := byLine[line.LineID]
			if !ok {
				delivered = line.Requested
			}
			if delivered.IsNegative() || delivered > line.Requested {
				return apperror.NewValidation("delivered must be between 0 and requested").
					WithDetail("lineNo", line.LineNo).
					WithDetail("requested", line.Requested.String()).
					WithDetail("delivered", delivered.String())
			}
			if line.ReservationID == nil {
				return apperror.NewInternal(fmt.Errorf("approved transfer line %d has no hold", line.LineNo))
			}

			if delivered.IsZero() {
				if err := s.resSvc.Release(ctx, *line.ReservationID); err != nil {
					return err
				}
			} else {
				if _, err := s.resSvc.ConsumeQuantity(ctx, *line.ReservationID, delivered); err != nil {
					return err
				}
			}
			line.Delivered = delivered
		}

		if err := t.Validate(ctx); err != nil {
			return err
		}
		return s.repo.Update(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "transfer delivered", "transfer_id", transferID.String())
	return t, nil
}

// Receive books the received quantities into the destination warehouse.
// Quantities default to the delivered amount; a line may receive less
// (transit loss stays visible as the delivered/received gap) but never
// more. Destination batches mirror the source batches that were drawn.
func (s *Service) Receive(ctx context.Context, transferID id.ID, quantities []LineQuantity) (*Transfer, error) {
	byLine := lineQuantityMap(quantities)

	var t *Transfer
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		t, err = s.GetByID(ctx, transferID)
		if err != nil {
			return err
		}
		if err := t.Transition(StatusReceived); err != nil {
			return err
		}

		for i := range t.Lines {
			line := &t.Lines[i]
			received, ok := byLine[line.LineID]
			if !ok {
				received = line.Delivered
			}
			if received.IsNegative() || received > line.Delivered {
				return apperror.NewValidation("received must be between 0 and delivered").
					WithDetail("lineNo", line.LineNo).
					WithDetail("delivered", line.Delivered.String()).
					WithDetail("received", received.String())
			}
			if received.IsPositive() {
				if err := s.receiveLine(ctx, t, line, received); err != nil {
					return err
				}
			}
			line.Received = received
		}

		if err := t.Validate(ctx); err != nil {
			return err
		}
		return s.repo.Update(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "transfer received", "transfer_id", transferID.String())
	return t, nil
}

// receiveLine mirrors the source-side exports of one line into the
// destination warehouse, batch by batch, preserving lot identity.
func (s *Service) receiveLine(ctx context.Context, t *Transfer, line *Line, received types.Quantity) error {
	exports, err := s.ledgerSvc.ListMovements(ctx, ledger.MovementFilter{
		ReferenceID: line.ReservationID,
	})
	if err != nil {
		return fmt.Errorf("load delivery movements: %w", err)
	}
	if len(exports) == 0 {
		return apperror.NewInternal(fmt.Errorf("delivered transfer line %d has no export movements", line.LineNo))
	}

	// Movement listings come back newest first; a partial receive must
	// fill lots in the order they were drawn, so walk them oldest first.
	// One delivery posts all exports at the same instant, so ties fall
	// back to id order (UUIDv7, creation order).
	sort.SliceStable(exports, func(i, j int) bool {
		if exports[i].CreatedAt.Equal(exports[j].CreatedAt) {
			return id.Compare(exports[i].ID, exports[j].ID) < 0
		}
		return exports[i].CreatedAt.Before(exports[j].CreatedAt)
	})

	remaining := received
	for _, exp := range exports {
		if remaining.IsZero() {
			break
		}
		take := exp.Quantity.Abs().Min(remaining)
		remaining -= take

		source, err := s.ledgerSvc.GetBatch(ctx, exp.BatchID)
		if err != nil {
			return err
		}
		dest, err := s.findOrCreateDestBatch(ctx, t.DestWarehouseID, source)
		if err != nil {
			return err
		}
		_, err = s.ledgerSvc.Post(ctx, ledger.PostLine{
			BatchID:      dest.ID,
			MovementType: entity.MovementTransfer,
			Quantity:     take,
			Reference:    entity.NewReference(entity.RefTransfer, t.ID, t.Number),
		})
		if err != nil {
			return err
		}
	}
	if remaining.IsPositive() {
		return apperror.NewValidation("received exceeds delivered batch quantities").
			WithDetail("lineNo", line.LineNo).
			WithDetail("unallocated", remaining.String())
	}
	return nil
}

// findOrCreateDestBatch locates the destination batch carrying the same
// lot, creating it when the lot arrives at this warehouse for the first
// time. Pricing and provenance carry over from the source batch.
func (s *Service) findOrCreateDestBatch(ctx context.Context, destWarehouseID id.ID, source *entity.Batch) (*entity.Batch, error) {
	existing, err := s.ledgerSvc.ListBatches(ctx, ledger.BatchFilter{
		WarehouseID: &destWarehouseID,
		ItemID:      &source.ItemID,
		BatchNumber: source.BatchNumber,
	})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing[0], nil
	}

	dest := entity.NewBatch(destWarehouseID, source.ItemID, source.BatchNumber, source.ExpiryDate)
	dest.ManufactureDate = source.ManufactureDate
	dest.ImportPrice = source.ImportPrice
	dest.UnitPrice = source.UnitPrice
	dest.SourceType = "transfer"
	dest.SourceCode = source.BatchNumber
	if err := s.ledgerSvc.CreateBatch(ctx, dest); err != nil {
		return nil, err
	}
	return dest, nil
}

// Cancel aborts a transfer before stock moves, releasing any holds.
func (s *Service) Cancel(ctx context.Context, transferID id.ID, reason string) (*Transfer, error) {
	var t *Transfer
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		t, err = s.GetByID(ctx, transferID)
		if err != nil {
			return err
		}
		if err := t.Transition(StatusCancelled); err != nil {
			return err
		}
		if reason != "" {
			t.Note = reason
		}

		for i := range t.Lines {
			line := &t.Lines[i]
			if line.ReservationID == nil {
				continue
			}
			err := s.resSvc.Release(ctx, *line.ReservationID)
			if err != nil && !apperror.IsCode(err, apperror.CodeReservationExpired) {
				// An expired hold already returned its stock; anything
				// else is a real failure.
				return err
			}
		}
		return s.repo.Update(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "transfer cancelled", "transfer_id", transferID.String(), "reason", reason)
	return t, nil
}

func lineQuantityMap(quantities []LineQuantity) map[id.ID]types.Quantity {
	m := make(map[id.ID]types.Quantity, len(quantities))
	for _, q := range quantities {
		m[q.LineID] = q.Quantity
	}
	return m
}
