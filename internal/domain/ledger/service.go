package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"medledger/internal/core/apperror"
	appctx "medledger/internal/core/context"
	"medledger/internal/core/entity"
	"medledger/internal/core/id"
	"medledger/internal/core/tx"
	"medledger/internal/core/types"
	"medledger/pkg/logger"
)

// maxPostRetries bounds retries on lock contention before surfacing
// CONCURRENT_MODIFICATION to the caller.
const maxPostRetries = 3

// PostLine describes one requested ledger entry.
type PostLine struct {
	BatchID      id.ID
	MovementType entity.MovementType

	// Quantity is signed: positive adds stock, negative issues it.
	Quantity types.Quantity

	// ReleaseReserved is subtracted from the batch's reserved total in
	// the same transaction. Set when the line consumes a reservation so
	// the hold is retired together with the stock.
	ReleaseReserved types.Quantity

	Reference    entity.Reference
	MovementDate time.Time
	Note         string
}

// Service posts movements to the stock ledger and maintains the batch
// projections. All mutations run inside a single transaction per call;
// a call either fully applies or leaves no trace.
type Service struct {
	repo      Repository
	txManager tx.Manager
	log       *logger.Logger
}

// NewService creates the ledger service.
func NewService(repo Repository, txManager tx.Manager, log *logger.Logger) *Service {
	return &Service{
		repo:      repo,
		txManager: txManager,
		log:       log.WithComponent("ledger"),
	}
}

// --- Batch store ---

// CreateBatch registers a new batch with zero quantity. Stock arrives
// through a posted import movement, never through direct batch edits.
func (s *Service) CreateBatch(ctx context.Context, b *entity.Batch) error {
	if err := b.Validate(ctx); err != nil {
		return err
	}
	if !b.Quantity.IsZero() || !b.Reserved.IsZero() {
		return apperror.NewValidation("new batches start empty; post an import movement to add stock").
			WithDetail("batch_number", b.BatchNumber)
	}
	return s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		return s.repo.CreateBatch(ctx, b)
	})
}

// GetBatch retrieves a batch by ID.
func (s *Service) GetBatch(ctx context.Context, batchID id.ID) (*entity.Batch, error) {
	return s.repo.GetBatch(ctx, batchID)
}

// ListBatches retrieves batches by filter.
func (s *Service) ListBatches(ctx context.Context, f BatchFilter) ([]*entity.Batch, error) {
	return s.repo.ListBatches(ctx, f)
}

// SetBatchLock places or releases an administrative hold on a batch.
// Locking does not touch existing reservations; it only stops the batch
// from being selected for new issuance.
func (s *Service) SetBatchLock(ctx context.Context, batchID id.ID, locked bool, reason string) error {
	return s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		batches, err := s.repo.GetBatchesForUpdate(ctx, []id.ID{batchID})
		if err != nil {
			return err
		}
		if len(batches) == 0 {
			return apperror.NewNotFound("batch", batchID.String())
		}
		b := batches[0]
		if locked {
			b.Lock(reason)
		} else {
			b.Unlock()
		}
		b.Touch()
		return s.repo.UpdateBatchState(ctx, b)
	})
}

// --- Posting ---

// Post appends a single ledger entry.
func (s *Service) Post(ctx context.Context, line PostLine) (*entity.StockMovement, error) {
	movements, err := s.PostAll(ctx, []PostLine{line})
	if err != nil {
		return nil, err
	}
	return &movements[0], nil
}

// PostAll atomically appends a set of ledger entries. Affected batch rows
// are locked in ascending ID order, cached quantities are verified against
// the movement chain, and every line is applied or none is.
//
// Lock conflicts are retried up to maxPostRetries times before the call
// fails with CONCURRENT_MODIFICATION. Integrity and stock errors are
// never retried.
func (s *Service) PostAll(ctx context.Context, lines []PostLine) ([]entity.StockMovement, error) {
	if len(lines) == 0 {
		return nil, apperror.NewValidation("no lines to post")
	}
	for i := range lines {
		if lines[i].Quantity.IsZero() {
			return nil, apperror.NewValidation("movement quantity cannot be zero").
				WithDetail("line", i)
		}
		if !lines[i].MovementType.IsValid() {
			return nil, apperror.NewValidation("unknown movement type").
				WithDetail("line", i).
				WithDetail("movement_type", string(lines[i].MovementType))
		}
		if lines[i].ReleaseReserved.IsNegative() {
			return nil, apperror.NewValidation("released reserve cannot be negative").
				WithDetail("line", i)
		}
	}

	var movements []entity.StockMovement
	var err error
	for attempt := 1; attempt <= maxPostRetries; attempt++ {
		movements, err = s.postOnce(ctx, lines)
		if err == nil {
			return movements, nil
		}
		if !apperror.IsConcurrentModification(err) {
			return nil, err
		}
		logger.Warn(ctx, "ledger post retry after lock conflict",
			"attempt", attempt, "lines", len(lines))
	}
	return nil, err
}

// LockBatches takes row locks on the given batches in ascending id order
// and returns them keyed by id. Must run inside a transaction; callers
// use it to read quantities that a later post in the same transaction
// depends on.
func (s *Service) LockBatches(ctx context.Context, batchIDs []id.ID) (map[id.ID]*entity.Batch, error) {
	ids := make([]id.ID, 0, len(batchIDs))
	seen := make(map[id.ID]struct{}, len(batchIDs))
	for _, bid := range batchIDs {
		if _, ok := seen[bid]; ok {
			continue
		}
		seen[bid] = struct{}{}
		ids = append(ids, bid)
	}
	sort.Slice(ids, func(i, j int) bool { return id.Compare(ids[i], ids[j]) < 0 })

	locked, err := s.repo.GetBatchesForUpdate(ctx, ids)
	if err != nil {
		return nil, err
	}
	batches := make(map[id.ID]*entity.Batch, len(locked))
	for _, b := range locked {
		batches[b.ID] = b
	}
	for _, bid := range ids {
		if _, ok := batches[bid]; !ok {
			return nil, apperror.NewNotFound("batch", bid.String())
		}
	}
	return batches, nil
}

// runRetryable executes one posting attempt. When the manager supports
// savepoints, a nested attempt that hits a lock conflict rolls back to
// its savepoint, leaving the surrounding transaction usable for the
// next attempt.
func (s *Service) runRetryable(ctx context.Context, fn func(ctx context.Context) error) error {
	if sp, ok := s.txManager.(tx.SavepointManager); ok {
		return sp.RunWithSavepoint(ctx, fn)
	}
	return s.txManager.RunInTransaction(ctx, fn)
}

func (s *Service) postOnce(ctx context.Context, lines []PostLine) ([]entity.StockMovement, error) {
	var movements []entity.StockMovement

	err := s.runRetryable(ctx, func(ctx context.Context) error {
		movements = movements[:0]

		// Lock every affected batch in one global order.
		batchIDs := uniqueSortedBatchIDs(lines)
		locked, err := s.repo.GetBatchesForUpdate(ctx, batchIDs)
		if err != nil {
			return err
		}
		batches := make(map[id.ID]*entity.Batch, len(locked))
		for _, b := range locked {
			batches[b.ID] = b
		}
		for _, bid := range batchIDs {
			if _, ok := batches[bid]; !ok {
				return apperror.NewNotFound("batch", bid.String())
			}
		}

		// Verify each cached quantity against the chain before touching it.
		for _, b := range locked {
			if err := s.verifyIntegrity(ctx, b); err != nil {
				return err
			}
		}

		user := stampUser(ctx)
		now := time.Now().UTC()

		// Apply lines sequentially so several lines on one batch chain
		// through intermediate balances.
		for i := range lines {
			line := lines[i]
			b := batches[line.BatchID]

			if err := s.checkLine(b, line); err != nil {
				return err
			}

			movementDate := line.MovementDate
			if movementDate.IsZero() {
				movementDate = now
			}
			m := entity.NewStockMovement(b, line.MovementType, line.Quantity, line.Reference, movementDate)
			m.CreatedBy = user
			m.Note = line.Note
			if err := m.Validate(); err != nil {
				return err
			}

			b.Quantity = m.BalanceAfter
			b.Reserved -= line.ReleaseReserved
			movements = append(movements, m)
		}

		// Post-apply invariants per batch.
		for _, b := range locked {
			if b.Quantity.IsNegative() {
				// checkLine already guards this per line; a negative here
				// means lines on one batch interleaved into a shortfall.
				return apperror.NewInsufficientStock(b.ItemID.String(), 0, b.Quantity.Float64())
			}
			if b.Reserved.IsNegative() || b.Reserved > b.Quantity {
				return apperror.NewValidation("reserved would exceed batch quantity").
					WithDetail("batch_id", b.ID.String()).
					WithDetail("quantity", b.Quantity.String()).
					WithDetail("reserved", b.Reserved.String())
			}
		}

		if err := s.repo.CreateMovements(ctx, movements); err != nil {
			return fmt.Errorf("append movements: %w", err)
		}
		for _, b := range locked {
			b.Touch()
			if err := s.repo.UpdateBatchState(ctx, b); err != nil {
				return fmt.Errorf("update batch %s: %w", b.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return movements, nil
}

// checkLine validates one line against the locked batch state.
func (s *Service) checkLine(b *entity.Batch, line PostLine) error {
	issuing := line.Quantity.IsNegative()

	if issuing && b.Locked && line.MovementType != entity.MovementAdjustment {
		return apperror.NewBatchLocked(b.ID.String(), b.LockReason)
	}

	if line.ReleaseReserved > b.Reserved {
		return apperror.NewValidation("cannot release more than is reserved").
			WithDetail("batch_id", b.ID.String()).
			WithDetail("reserved", b.Reserved.String()).
			WithDetail("release", line.ReleaseReserved.String())
	}

	newQty := b.Quantity + line.Quantity
	if newQty.IsNegative() {
		return apperror.NewInsufficientStock(
			b.ItemID.String(), line.Quantity.Abs().Float64(), b.Quantity.Float64())
	}

	// An issue that does not consume a hold may only draw on the
	// unreserved remainder.
	if issuing {
		needed := line.Quantity.Abs() - line.ReleaseReserved
		available := b.Available()
		if needed.IsPositive() && needed > available {
			return apperror.NewInsufficientStock(
				b.ItemID.String(), needed.Float64(), available.Float64())
		}
	}
	return nil
}

// verifyIntegrity compares the cached batch quantity with the tail of the
// movement chain. Divergence halts the operation; it is never repaired
// silently.
func (s *Service) verifyIntegrity(ctx context.Context, b *entity.Batch) error {
	last, err := s.repo.GetLastMovement(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("read chain tail for batch %s: %w", b.ID, err)
	}
	var ledgerQty types.Quantity
	if last != nil {
		ledgerQty = last.BalanceAfter
	}
	if b.Quantity != ledgerQty {
		logger.Error(ctx, "batch quantity diverged from ledger",
			"batch_id", b.ID.String(),
			"cached", b.Quantity.String(),
			"ledger", ledgerQty.String())
		return apperror.NewQuantityIntegrity(b.ID.String(), b.Quantity.Float64(), ledgerQty.Float64())
	}
	return nil
}

// --- Reads ---

// History returns the movement chain of a batch, oldest first.
func (s *Service) History(ctx context.Context, batchID id.ID, limit, offset int) ([]entity.StockMovement, int64, error) {
	f := MovementFilter{BatchID: &batchID, Limit: limit, Offset: offset}
	movements, err := s.repo.ListMovements(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.repo.CountMovements(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	return movements, total, nil
}

// ListMovements returns ledger entries by filter.
func (s *Service) ListMovements(ctx context.Context, f MovementFilter) ([]entity.StockMovement, error) {
	return s.repo.ListMovements(ctx, f)
}

// ReplayResult reports a chain replay for one batch.
type ReplayResult struct {
	BatchID         id.ID          `json:"batchId"`
	Movements       int            `json:"movements"`
	ReplayedQty     types.Quantity `json:"replayedQty"`
	CachedQty       types.Quantity `json:"cachedQty"`
	ChainIntact     bool           `json:"chainIntact"`
	CacheConsistent bool           `json:"cacheConsistent"`
}

// Replay walks a batch's full movement chain from zero, verifying that
// every entry links before/after balances and that the final balance
// matches the cached batch quantity. Used by reconciliation tooling.
func (s *Service) Replay(ctx context.Context, batchID id.ID) (*ReplayResult, error) {
	b, err := s.repo.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	movements, err := s.repo.ListMovements(ctx, MovementFilter{BatchID: &batchID})
	if err != nil {
		return nil, err
	}

	res := &ReplayResult{BatchID: batchID, Movements: len(movements), CachedQty: b.Quantity, ChainIntact: true}
	var balance types.Quantity
	for i := range movements {
		m := &movements[i]
		if m.BalanceBefore != balance || m.BalanceAfter != m.BalanceBefore+m.Quantity {
			res.ChainIntact = false
			break
		}
		balance = m.BalanceAfter
	}
	res.ReplayedQty = balance
	res.CacheConsistent = res.ChainIntact && balance == b.Quantity
	return res, nil
}

// Turnover aggregates a warehouse's movements into per-item rows over a period.
func (s *Service) Turnover(ctx context.Context, warehouseID id.ID, from, to time.Time) ([]TurnoverRow, error) {
	if !to.After(from) {
		return nil, apperror.NewValidation("period end must be after period start")
	}
	return s.repo.GetTurnover(ctx, warehouseID, from, to)
}

// Stock returns on-hand positions for a warehouse, optionally one item.
func (s *Service) Stock(ctx context.Context, warehouseID id.ID, itemID *id.ID) ([]StockRow, error) {
	return s.repo.GetStock(ctx, warehouseID, itemID)
}

// --- helpers ---

func uniqueSortedBatchIDs(lines []PostLine) []id.ID {
	seen := make(map[id.ID]struct{}, len(lines))
	ids := make([]id.ID, 0, len(lines))
	for _, l := range lines {
		if _, ok := seen[l.BatchID]; ok {
			continue
		}
		seen[l.BatchID] = struct{}{}
		ids = append(ids, l.BatchID)
	}
	sort.Slice(ids, func(i, j int) bool { return id.Compare(ids[i], ids[j]) < 0 })
	return ids
}

func stampUser(ctx context.Context) string {
	return appctx.GetUserID(ctx)
}
