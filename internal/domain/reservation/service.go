package reservation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"medledger/internal/core/apperror"
	"medledger/internal/core/entity"
	"medledger/internal/core/id"
	"medledger/internal/core/tx"
	"medledger/internal/core/types"
	"medledger/internal/domain/ledger"
	"medledger/pkg/logger"
)

// maxReserveRetries bounds retries on batch lock contention.
const maxReserveRetries = 3

// ReserveRequest asks for a hold of item quantity in a warehouse.
type ReserveRequest struct {
	WarehouseID id.ID
	ItemID      id.ID
	Quantity    types.Quantity

	// TTL for the hold; DefaultTTL when zero, capped at MaxTTL.
	TTL time.Duration

	// Reference is the document the hold serves (dispense request, transfer).
	Reference entity.Reference

	Note string
}

// Service manages the reservation lifecycle. Holds are claimed against
// specific batches chosen by the issuance policy; consuming a hold turns
// it into ledger entries, releasing or expiring it returns the stock to
// the available pool.
type Service struct {
	repo       Repository
	ledgerRepo ledger.Repository
	ledgerSvc  *ledger.Service
	txManager  tx.Manager
	log        *logger.Logger
}

// NewService creates the reservation service.
func NewService(
	repo Repository,
	ledgerRepo ledger.Repository,
	ledgerSvc *ledger.Service,
	txManager tx.Manager,
	log *logger.Logger,
) *Service {
	return &Service{
		repo:       repo,
		ledgerRepo: ledgerRepo,
		ledgerSvc:  ledgerSvc,
		txManager:  txManager,
		log:        log.WithComponent("reservation"),
	}
}

// Reserve places a hold, splitting it across batches first-expired-first-out.
// All-or-nothing: if issuable stock cannot cover the request, no hold is
// placed and the error reports the available total.
func (s *Service) Reserve(ctx context.Context, req ReserveRequest) (*Reservation, error) {
	if !req.Quantity.IsPositive() {
		return nil, apperror.NewValidation("reserved quantity must be positive")
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if ttl > MaxTTL {
		ttl = MaxTTL
	}

	var res *Reservation
	var err error
	for attempt := 1; attempt <= maxReserveRetries; attempt++ {
		res, err = s.reserveOnce(ctx, req, ttl)
		if err == nil {
			return res, nil
		}
		if !apperror.IsConcurrentModification(err) {
			return nil, err
		}
		logger.Warn(ctx, "reserve retry after lock conflict",
			"attempt", attempt, "item_id", req.ItemID.String())
	}
	return nil, err
}

// runRetryable executes one reserve attempt, behind a savepoint when the
// manager supports them so a nested lock conflict can be retried without
// aborting the surrounding transaction.
func (s *Service) runRetryable(ctx context.Context, fn func(ctx context.Context) error) error {
	if sp, ok := s.txManager.(tx.SavepointManager); ok {
		return sp.RunWithSavepoint(ctx, fn)
	}
	return s.txManager.RunInTransaction(ctx, fn)
}

func (s *Service) reserveOnce(ctx context.Context, req ReserveRequest, ttl time.Duration) (*Reservation, error) {
	var res *Reservation

	err := s.runRetryable(ctx, func(ctx context.Context) error {
		now := time.Now().UTC()

		candidates, err := s.ledgerRepo.ListBatches(ctx, ledger.BatchFilter{
			WarehouseID:  &req.WarehouseID,
			ItemID:       &req.ItemID,
			IssuableOnly: true,
			AsOf:         now,
		})
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return apperror.NewInsufficientStock(req.ItemID.String(), req.Quantity.Float64(), 0)
		}

		// Lock candidates in global order, then re-plan against the
		// locked state: availability may have moved since the list.
		locked, err := s.ledgerRepo.GetBatchesForUpdate(ctx, sortedBatchIDs(candidates))
		if err != nil {
			return err
		}
		plan, err := ledger.SelectBatches(locked, req.ItemID, req.Quantity, now)
		if err != nil {
			return err
		}

		res = New(req.WarehouseID, req.ItemID, req.Quantity, req.Reference, ttl)
		res.Note = req.Note
		for _, alloc := range plan {
			res.Lines = append(res.Lines, Line{
				ID:            id.New(),
				ReservationID: res.ID,
				BatchID:       alloc.Batch.ID,
				BatchNumber:   alloc.Batch.BatchNumber,
				Quantity:      alloc.Quantity,
			})
			alloc.Batch.Reserved += alloc.Quantity
			alloc.Batch.Touch()
			if err := s.ledgerRepo.UpdateBatchState(ctx, alloc.Batch); err != nil {
				return fmt.Errorf("hold batch %s: %w", alloc.Batch.ID, err)
			}
		}

		if err := res.Validate(ctx); err != nil {
			return err
		}
		return s.repo.Create(ctx, res)
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "reservation placed",
		"reservation_id", res.ID.String(),
		"item_id", req.ItemID.String(),
		"quantity", req.Quantity.String(),
		"lines", len(res.Lines),
		"expires_at", res.ExpiresAt)
	return res, nil
}

// GetByID retrieves a reservation with its lines.
func (s *Service) GetByID(ctx context.Context, resID id.ID) (*Reservation, error) {
	res, err := s.repo.GetByID(ctx, resID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil, apperror.NewNotFound("reservation", resID.String())
		}
		return nil, err
	}
	return res, nil
}

// ListByReference retrieves all holds placed for a source document.
func (s *Service) ListByReference(ctx context.Context, refID id.ID) ([]*Reservation, error) {
	return s.repo.ListByReference(ctx, refID)
}

// Consume turns an active hold into export ledger entries for its full
// quantity. See ConsumeQuantity for semantics.
func (s *Service) Consume(ctx context.Context, resID id.ID) ([]entity.StockMovement, error) {
	return s.ConsumeQuantity(ctx, resID, 0)
}

// ConsumeQuantity resolves an active hold, exporting qty of it and
// releasing the rest. Zero qty means the full held quantity. The hold is
// resolved with a conditional status update, so of two racing consumers
// exactly one wins; the loser gets RESERVATION_ALREADY_RESOLVED.
//
// Consuming a hold past its TTL fails with RESERVATION_EXPIRED and
// releases the held stock, whether or not the sweeper got there first.
func (s *Service) ConsumeQuantity(ctx context.Context, resID id.ID, qty types.Quantity) ([]entity.StockMovement, error) {
	if qty.IsNegative() {
		return nil, apperror.NewValidation("consumed quantity cannot be negative")
	}

	var movements []entity.StockMovement
	var expiredLazily bool

	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		res, err := s.GetByID(ctx, resID)
		if err != nil {
			return err
		}
		take := qty
		if take.IsZero() {
			take = res.Quantity
		}
		if take > res.Quantity {
			return apperror.NewValidation("cannot consume more than is held").
				WithDetail("held", res.Quantity.String()).
				WithDetail("requested", take.String())
		}
		now := time.Now().UTC()

		if res.Status == StatusActive && res.IsExpired(now) {
			// Lazy expiry: the sweeper has not visited this hold yet.
			// The error rolls this transaction back, so the release
			// itself runs in a fresh one afterwards.
			expiredLazily = true
			return apperror.NewReservationExpired(resID.String())
		}

		won, err := s.repo.ResolveIf(ctx, resID, StatusActive, StatusConsumed, now)
		if err != nil {
			return err
		}
		if !won {
			return s.lostResolutionRace(ctx, resID)
		}

		// Draw the consumed quantity through the lines in their stored
		// order, which is the issuance order fixed at reserve time. Each
		// line's hold is retired in full; the unconsumed remainder goes
		// back to the pool.
		var postLines []ledger.PostLine
		var untouched []Line
		remaining := take
		for _, l := range res.Lines {
			lineTake := l.Quantity.Min(remaining)
			remaining -= lineTake
			if lineTake.IsZero() {
				untouched = append(untouched, l)
				continue
			}
			postLines = append(postLines, ledger.PostLine{
				BatchID:         l.BatchID,
				MovementType:    entity.MovementExport,
				Quantity:        lineTake.Neg(),
				ReleaseReserved: l.Quantity,
				Reference:       entity.NewReference(entity.RefReservation, res.ID, res.Code),
				MovementDate:    now,
			})
		}
		if len(postLines) > 0 {
			movements, err = s.ledgerSvc.PostAll(ctx, postLines)
			if err != nil {
				return err
			}
		}
		if len(untouched) > 0 {
			leftover := *res
			leftover.Lines = untouched
			if err := s.releaseHolds(ctx, &leftover); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if expiredLazily {
			s.expireLazily(ctx, resID)
		}
		return nil, err
	}

	logger.Info(ctx, "reservation consumed", "reservation_id", resID.String())
	return movements, nil
}

// expireLazily releases a hold that consume found past its TTL. The
// consuming transaction has already rolled back, so the release runs in
// its own transaction; losing the resolution race to the sweeper is fine.
func (s *Service) expireLazily(ctx context.Context, resID id.ID) {
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		res, err := s.GetByID(ctx, resID)
		if err != nil {
			return err
		}
		if res.Status != StatusActive {
			return nil
		}
		return s.expire(ctx, res, time.Now().UTC())
	})
	if err != nil &&
		!apperror.IsCode(err, apperror.CodeReservationExpired) &&
		!apperror.IsCode(err, apperror.CodeReservationAlreadyResolved) {
		logger.Error(ctx, "lazy expire failed",
			"reservation_id", resID.String(), "error", err)
	}
}

// Release cancels an active hold and returns the stock to the pool.
func (s *Service) Release(ctx context.Context, resID id.ID) error {
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		res, err := s.GetByID(ctx, resID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()

		won, err := s.repo.ResolveIf(ctx, resID, StatusActive, StatusReleased, now)
		if err != nil {
			return err
		}
		if !won {
			return s.lostResolutionRace(ctx, resID)
		}
		return s.releaseHolds(ctx, res)
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "reservation released", "reservation_id", resID.String())
	return nil
}

// ExpireDue resolves active reservations whose TTL elapsed, releasing
// their held stock. Each reservation is expired in its own transaction
// so a single poisoned row cannot stall the sweep. Returns the number
// of reservations expired.
func (s *Service) ExpireDue(ctx context.Context, limit int) (int, error) {
	now := time.Now().UTC()
	due, err := s.repo.ListActiveDue(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("list due reservations: %w", err)
	}

	expired := 0
	for _, res := range due {
		err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
			return s.expire(ctx, res, now)
		})
		if err != nil {
			if apperror.IsCode(err, apperror.CodeReservationAlreadyResolved) {
				continue // consumed or released between list and expire
			}
			logger.Error(ctx, "expire reservation failed",
				"reservation_id", res.ID.String(), "error", err)
			continue
		}
		expired++
	}
	return expired, nil
}

// expire resolves one hold to expired and releases its stock.
func (s *Service) expire(ctx context.Context, res *Reservation, now time.Time) error {
	won, err := s.repo.ResolveIf(ctx, res.ID, StatusActive, StatusExpired, now)
	if err != nil {
		return err
	}
	if !won {
		return s.lostResolutionRace(ctx, res.ID)
	}
	if err := s.releaseHolds(ctx, res); err != nil {
		return err
	}
	logger.Info(ctx, "reservation expired", "reservation_id", res.ID.String())
	return nil
}

// releaseHolds decrements batch reserved totals for every line.
func (s *Service) releaseHolds(ctx context.Context, res *Reservation) error {
	ids := make([]id.ID, 0, len(res.Lines))
	for _, l := range res.Lines {
		ids = append(ids, l.BatchID)
	}
	sort.Slice(ids, func(i, j int) bool { return id.Compare(ids[i], ids[j]) < 0 })

	locked, err := s.ledgerRepo.GetBatchesForUpdate(ctx, ids)
	if err != nil {
		return err
	}
	byID := make(map[id.ID]*entity.Batch, len(locked))
	for _, b := range locked {
		byID[b.ID] = b
	}

	for _, l := range res.Lines {
		b, ok := byID[l.BatchID]
		if !ok {
			return apperror.NewNotFound("batch", l.BatchID.String())
		}
		if l.Quantity > b.Reserved {
			// Must not happen while holds and releases stay paired;
			// clamp so a sweep cannot wedge, but make it loud.
			logger.Error(ctx, "hold release exceeds batch reserve",
				"batch_id", b.ID.String(),
				"reserved", b.Reserved.String(),
				"release", l.Quantity.String())
			b.Reserved = 0
		} else {
			b.Reserved -= l.Quantity
		}
		b.Touch()
		if err := s.ledgerRepo.UpdateBatchState(ctx, b); err != nil {
			return fmt.Errorf("release hold on batch %s: %w", b.ID, err)
		}
	}
	return nil
}

// lostResolutionRace maps a failed conditional update to the right error.
func (s *Service) lostResolutionRace(ctx context.Context, resID id.ID) error {
	res, err := s.GetByID(ctx, resID)
	if err != nil {
		return err
	}
	if res.Status == StatusExpired {
		return apperror.NewReservationExpired(resID.String())
	}
	return apperror.NewReservationAlreadyResolved(resID.String(), string(res.Status))
}

func sortedBatchIDs(batches []*entity.Batch) []id.ID {
	ids := make([]id.ID, 0, len(batches))
	for _, b := range batches {
		ids = append(ids, b.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return id.Compare(ids[i], ids[j]) < 0 })
	return ids
}
