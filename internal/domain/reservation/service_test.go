package reservation

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medledger/internal/core/apperror"
	"medledger/internal/core/entity"
	"medledger/internal/core/id"
	"medledger/internal/core/tx"
	"medledger/internal/core/types"
	"medledger/internal/domain/ledger"
	"medledger/pkg/logger"
)

// --- in-memory fakes ---

type memLedgerRepo struct {
	batches   map[id.ID]*entity.Batch
	movements []entity.StockMovement
}

func newMemLedgerRepo() *memLedgerRepo {
	return &memLedgerRepo{batches: make(map[id.ID]*entity.Batch)}
}

func (r *memLedgerRepo) CreateBatch(ctx context.Context, b *entity.Batch) error {
	r.batches[b.ID] = b
	return nil
}

func (r *memLedgerRepo) GetBatch(ctx context.Context, batchID id.ID) (*entity.Batch, error) {
	b, ok := r.batches[batchID]
	if !ok {
		return nil, apperror.NewNotFound("batch", batchID.String())
	}
	return b, nil
}

func (r *memLedgerRepo) GetBatchesForUpdate(ctx context.Context, batchIDs []id.ID) ([]*entity.Batch, error) {
	out := make([]*entity.Batch, 0, len(batchIDs))
	for _, bid := range batchIDs {
		if b, ok := r.batches[bid]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *memLedgerRepo) ListBatches(ctx context.Context, f ledger.BatchFilter) ([]*entity.Batch, error) {
	var out []*entity.Batch
	for _, b := range r.batches {
		if f.WarehouseID != nil && b.WarehouseID != *f.WarehouseID {
			continue
		}
		if f.ItemID != nil && b.ItemID != *f.ItemID {
			continue
		}
		if f.IssuableOnly && !b.Issuable(f.AsOf) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (r *memLedgerRepo) UpdateBatchState(ctx context.Context, b *entity.Batch) error {
	r.batches[b.ID] = b
	return nil
}

func (r *memLedgerRepo) CreateMovements(ctx context.Context, movements []entity.StockMovement) error {
	r.movements = append(r.movements, movements...)
	return nil
}

func (r *memLedgerRepo) GetLastMovement(ctx context.Context, batchID id.ID) (*entity.StockMovement, error) {
	var last *entity.StockMovement
	for i := range r.movements {
		if r.movements[i].BatchID == batchID {
			last = &r.movements[i]
		}
	}
	return last, nil
}

func (r *memLedgerRepo) ListMovements(ctx context.Context, f ledger.MovementFilter) ([]entity.StockMovement, error) {
	var out []entity.StockMovement
	for _, m := range r.movements {
		if f.BatchID != nil && m.BatchID != *f.BatchID {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *memLedgerRepo) CountMovements(ctx context.Context, f ledger.MovementFilter) (int64, error) {
	out, _ := r.ListMovements(ctx, f)
	return int64(len(out)), nil
}

func (r *memLedgerRepo) GetTurnover(ctx context.Context, warehouseID id.ID, from, to time.Time) ([]ledger.TurnoverRow, error) {
	return nil, nil
}

func (r *memLedgerRepo) GetStock(ctx context.Context, warehouseID id.ID, itemID *id.ID) ([]ledger.StockRow, error) {
	return nil, nil
}

type memResRepo struct {
	reservations map[id.ID]*Reservation
}

func newMemResRepo() *memResRepo {
	return &memResRepo{reservations: make(map[id.ID]*Reservation)}
}

func (r *memResRepo) Create(ctx context.Context, res *Reservation) error {
	r.reservations[res.ID] = res
	return nil
}

func (r *memResRepo) GetByID(ctx context.Context, resID id.ID) (*Reservation, error) {
	res, ok := r.reservations[resID]
	if !ok {
		return nil, apperror.NewNotFound("reservation", resID.String())
	}
	// The store reloads lines ordered by line id, not insertion order.
	out := *res
	out.Lines = append([]Line(nil), res.Lines...)
	sort.Slice(out.Lines, func(i, j int) bool {
		return id.Compare(out.Lines[i].ID, out.Lines[j].ID) < 0
	})
	return &out, nil
}

func (r *memResRepo) ListByReference(ctx context.Context, refID id.ID) ([]*Reservation, error) {
	var out []*Reservation
	for _, res := range r.reservations {
		if res.RefID == refID {
			out = append(out, res)
		}
	}
	return out, nil
}

func (r *memResRepo) ListActiveDue(ctx context.Context, before time.Time, limit int) ([]*Reservation, error) {
	var out []*Reservation
	for _, res := range r.reservations {
		if res.Status == StatusActive && res.ExpiresAt.Before(before) {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memResRepo) ResolveIf(ctx context.Context, resID id.ID, from, to Status, resolvedAt time.Time) (bool, error) {
	res, ok := r.reservations[resID]
	if !ok {
		return false, apperror.NewNotFound("reservation", resID.String())
	}
	if res.Status != from {
		return false, nil
	}
	res.Status = to
	res.ResolvedAt = &resolvedAt
	return true, nil
}

type noopTxManager struct{}

func (noopTxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (r *memResRepo) snapshot() map[id.ID]*Reservation {
	out := make(map[id.ID]*Reservation, len(r.reservations))
	for k, v := range r.reservations {
		c := *v
		c.Lines = append([]Line(nil), v.Lines...)
		out[k] = &c
	}
	return out
}

func (r *memLedgerRepo) snapshot() (map[id.ID]*entity.Batch, []entity.StockMovement) {
	batches := make(map[id.ID]*entity.Batch, len(r.batches))
	for k, v := range r.batches {
		c := *v
		batches[k] = &c
	}
	return batches, append([]entity.StockMovement(nil), r.movements...)
}

// rollbackTxManager restores repository state when the closure fails,
// the way a database transaction rolls its writes back.
type rollbackTxManager struct {
	resRepo    *memResRepo
	ledgerRepo *memLedgerRepo
}

func (m rollbackTxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	resSnap := m.resRepo.snapshot()
	batchSnap, movementSnap := m.ledgerRepo.snapshot()
	if err := fn(ctx); err != nil {
		m.resRepo.reservations = resSnap
		m.ledgerRepo.batches = batchSnap
		m.ledgerRepo.movements = movementSnap
		return err
	}
	return nil
}

// --- fixture ---

type fixture struct {
	resRepo    *memResRepo
	ledgerRepo *memLedgerRepo
	svc        *Service
	warehouse  id.ID
	item       id.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return buildFixture(t, nil)
}

// newRollbackFixture wires a tx manager that undoes repository writes on
// closure failure, for tests that depend on rollback semantics.
func newRollbackFixture(t *testing.T) *fixture {
	t.Helper()
	return buildFixture(t, func(resRepo *memResRepo, ledgerRepo *memLedgerRepo) tx.Manager {
		return rollbackTxManager{resRepo: resRepo, ledgerRepo: ledgerRepo}
	})
}

func buildFixture(t *testing.T, makeTxm func(*memResRepo, *memLedgerRepo) tx.Manager) *fixture {
	t.Helper()
	ledgerRepo := newMemLedgerRepo()
	resRepo := newMemResRepo()
	var txm tx.Manager = noopTxManager{}
	if makeTxm != nil {
		txm = makeTxm(resRepo, ledgerRepo)
	}
	log := logger.Default()
	ledgerSvc := ledger.NewService(ledgerRepo, txm, log)
	return &fixture{
		resRepo:    resRepo,
		ledgerRepo: ledgerRepo,
		svc:        NewService(resRepo, ledgerRepo, ledgerSvc, txm, log),
		warehouse:  id.New(),
		item:       id.New(),
	}
}

func (f *fixture) addBatch(t *testing.T, number string, qty int64, expiryDays int) *entity.Batch {
	t.Helper()
	exp := time.Now().UTC().AddDate(0, 0, expiryDays)
	b := entity.NewBatch(f.warehouse, f.item, number, &exp)
	b.Quantity = types.NewQuantityFromInt(qty)
	require.NoError(t, f.ledgerRepo.CreateBatch(context.Background(), b))

	// Seed the chain so integrity checks pass on consume.
	m := entity.StockMovement{
		ID:           id.New(),
		BatchID:      b.ID,
		WarehouseID:  b.WarehouseID,
		ItemID:       b.ItemID,
		MovementType: entity.MovementImport,
		Quantity:     b.Quantity,
		BalanceAfter: b.Quantity,
		Reference:    entity.NewReference(entity.RefImportReceipt, id.New(), "IM-1"),
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, f.ledgerRepo.CreateMovements(context.Background(), []entity.StockMovement{m}))
	return b
}

func (f *fixture) reserve(t *testing.T, qty int64, ttl time.Duration) *Reservation {
	t.Helper()
	res, err := f.svc.Reserve(context.Background(), ReserveRequest{
		WarehouseID: f.warehouse,
		ItemID:      f.item,
		Quantity:    types.NewQuantityFromInt(qty),
		TTL:         ttl,
		Reference:   entity.NewReference(entity.RefDispenseRequest, id.New(), "DR-1"),
	})
	require.NoError(t, err)
	return res
}

// --- tests ---

func TestReserve_SplitsFEFOAcrossBatches(t *testing.T) {
	f := newFixture(t)
	late := f.addBatch(t, "LATE", 100, 60)
	early := f.addBatch(t, "EARLY", 40, 10)

	res := f.reserve(t, 100, 0)

	require.Len(t, res.Lines, 2)
	assert.Equal(t, "EARLY", res.Lines[0].BatchNumber)
	assert.Equal(t, types.NewQuantityFromInt(40), res.Lines[0].Quantity)
	assert.Equal(t, "LATE", res.Lines[1].BatchNumber)
	assert.Equal(t, types.NewQuantityFromInt(60), res.Lines[1].Quantity)

	assert.Equal(t, types.NewQuantityFromInt(40), f.ledgerRepo.batches[early.ID].Reserved)
	assert.Equal(t, types.NewQuantityFromInt(60), f.ledgerRepo.batches[late.ID].Reserved)
	assert.Equal(t, StatusActive, res.Status)
}

func TestReserve_AllOrNothing(t *testing.T) {
	f := newFixture(t)
	a := f.addBatch(t, "A", 50, 10)

	_, err := f.svc.Reserve(context.Background(), ReserveRequest{
		WarehouseID: f.warehouse,
		ItemID:      f.item,
		Quantity:    types.NewQuantityFromInt(60),
		Reference:   entity.NewReference(entity.RefDispenseRequest, id.New(), "DR-1"),
	})
	require.Error(t, err)
	assert.True(t, apperror.IsInsufficientStock(err))
	assert.True(t, f.ledgerRepo.batches[a.ID].Reserved.IsZero())
	assert.Empty(t, f.resRepo.reservations)
}

func TestReserve_HeldStockNotDoubleReservable(t *testing.T) {
	f := newFixture(t)
	f.addBatch(t, "A", 100, 10)

	f.reserve(t, 80, 0)

	_, err := f.svc.Reserve(context.Background(), ReserveRequest{
		WarehouseID: f.warehouse,
		ItemID:      f.item,
		Quantity:    types.NewQuantityFromInt(30),
		Reference:   entity.NewReference(entity.RefDispenseRequest, id.New(), "DR-2"),
	})
	require.Error(t, err)
	assert.True(t, apperror.IsInsufficientStock(err))
}

func TestConsume_PostsLedgerEntriesAndRetiresHold(t *testing.T) {
	f := newFixture(t)
	b := f.addBatch(t, "A", 100, 10)

	res := f.reserve(t, 30, 0)

	movements, err := f.svc.Consume(context.Background(), res.ID)
	require.NoError(t, err)
	require.Len(t, movements, 1)

	assert.Equal(t, types.NewQuantityFromInt(-30), movements[0].Quantity)
	assert.Equal(t, types.NewQuantityFromInt(70), movements[0].BalanceAfter)
	assert.Equal(t, entity.RefReservation, movements[0].Kind)
	assert.Equal(t, res.ID, movements[0].RefID)

	assert.Equal(t, types.NewQuantityFromInt(70), f.ledgerRepo.batches[b.ID].Quantity)
	assert.True(t, f.ledgerRepo.batches[b.ID].Reserved.IsZero())
	assert.Equal(t, StatusConsumed, f.resRepo.reservations[res.ID].Status)
}

func TestConsume_SecondResolverLoses(t *testing.T) {
	f := newFixture(t)
	f.addBatch(t, "A", 100, 10)
	res := f.reserve(t, 30, 0)

	_, err := f.svc.Consume(context.Background(), res.ID)
	require.NoError(t, err)

	_, err = f.svc.Consume(context.Background(), res.ID)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeReservationAlreadyResolved))

	err = f.svc.Release(context.Background(), res.ID)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeReservationAlreadyResolved))
}

func TestConsume_ExpiredHoldFailsAndReleases(t *testing.T) {
	f := newFixture(t)
	b := f.addBatch(t, "A", 100, 10)

	res := f.reserve(t, 30, time.Minute)
	// Force the TTL into the past.
	f.resRepo.reservations[res.ID].ExpiresAt = time.Now().UTC().Add(-time.Minute)

	_, err := f.svc.Consume(context.Background(), res.ID)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeReservationExpired))

	// Hold returned to the pool, no stock moved.
	assert.True(t, f.ledgerRepo.batches[b.ID].Reserved.IsZero())
	assert.Equal(t, types.NewQuantityFromInt(100), f.ledgerRepo.batches[b.ID].Quantity)
	assert.Equal(t, StatusExpired, f.resRepo.reservations[res.ID].Status)
}

func TestConsume_ExpiredHoldReleasedDespiteRollback(t *testing.T) {
	f := newRollbackFixture(t)
	b := f.addBatch(t, "A", 100, 10)
	res := f.reserve(t, 30, time.Minute)
	f.resRepo.reservations[res.ID].ExpiresAt = time.Now().UTC().Add(-time.Minute)

	_, err := f.svc.Consume(context.Background(), res.ID)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeReservationExpired))

	// The consuming transaction rolled back, but the release committed
	// on its own: the hold is gone and the stock is back in the pool.
	assert.Equal(t, StatusExpired, f.resRepo.reservations[res.ID].Status)
	assert.True(t, f.ledgerRepo.batches[b.ID].Reserved.IsZero())
	assert.Equal(t, types.NewQuantityFromInt(100), f.ledgerRepo.batches[b.ID].Quantity)
	assert.Len(t, f.ledgerRepo.movements, 1) // seed import only
}

func TestRelease_ReturnsStockToPool(t *testing.T) {
	f := newFixture(t)
	b := f.addBatch(t, "A", 100, 10)
	res := f.reserve(t, 30, 0)

	require.NoError(t, f.svc.Release(context.Background(), res.ID))

	assert.True(t, f.ledgerRepo.batches[b.ID].Reserved.IsZero())
	assert.Equal(t, StatusReleased, f.resRepo.reservations[res.ID].Status)

	// The freed stock is reservable again.
	f.reserve(t, 100, 0)
}

func TestExpireDue_SweepsOnlyElapsedHolds(t *testing.T) {
	f := newFixture(t)
	b := f.addBatch(t, "A", 100, 30)

	stale := f.reserve(t, 20, time.Minute)
	fresh := f.reserve(t, 10, time.Hour)
	f.resRepo.reservations[stale.ID].ExpiresAt = time.Now().UTC().Add(-time.Second)

	expired, err := f.svc.ExpireDue(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	assert.Equal(t, StatusExpired, f.resRepo.reservations[stale.ID].Status)
	assert.Equal(t, StatusActive, f.resRepo.reservations[fresh.ID].Status)
	assert.Equal(t, types.NewQuantityFromInt(10), f.ledgerRepo.batches[b.ID].Reserved)
}

func TestConsumeQuantity_PartialReleasesRemainder(t *testing.T) {
	f := newFixture(t)
	early := f.addBatch(t, "EARLY", 40, 10)
	late := f.addBatch(t, "LATE", 60, 60)

	res := f.reserve(t, 100, 0)

	// Deliver only 50 of the 100 held: 40 from EARLY, 10 from LATE.
	movements, err := f.svc.ConsumeQuantity(context.Background(), res.ID, types.NewQuantityFromInt(50))
	require.NoError(t, err)
	require.Len(t, movements, 2)

	assert.Equal(t, types.NewQuantityFromInt(0), f.ledgerRepo.batches[early.ID].Quantity)
	assert.Equal(t, types.NewQuantityFromInt(50), f.ledgerRepo.batches[late.ID].Quantity)
	assert.True(t, f.ledgerRepo.batches[early.ID].Reserved.IsZero())
	assert.True(t, f.ledgerRepo.batches[late.ID].Reserved.IsZero())
	assert.Equal(t, StatusConsumed, f.resRepo.reservations[res.ID].Status)
}

func TestConsumeQuantity_UntouchedLineFullyReleased(t *testing.T) {
	f := newFixture(t)
	early := f.addBatch(t, "EARLY", 40, 10)
	late := f.addBatch(t, "LATE", 60, 60)

	res := f.reserve(t, 100, 0)

	// 30 fits entirely in the EARLY line; the LATE line is never touched
	// by the ledger and its hold is simply released.
	movements, err := f.svc.ConsumeQuantity(context.Background(), res.ID, types.NewQuantityFromInt(30))
	require.NoError(t, err)
	require.Len(t, movements, 1)

	assert.Equal(t, types.NewQuantityFromInt(10), f.ledgerRepo.batches[early.ID].Quantity)
	assert.Equal(t, types.NewQuantityFromInt(60), f.ledgerRepo.batches[late.ID].Quantity)
	assert.True(t, f.ledgerRepo.batches[late.ID].Reserved.IsZero())
}

func TestConsumeQuantity_DrawsSoonestExpiryFirstOnReload(t *testing.T) {
	f := newFixture(t)
	// LATE is created (and gets its batch id) before EARLY, so any
	// reload keyed on batch id would put it first. The draw must still
	// follow the plan fixed at reserve time: soonest expiry first.
	late := f.addBatch(t, "LATE", 100, 60)
	early := f.addBatch(t, "EARLY", 40, 10)

	res := f.reserve(t, 100, 0)

	movements, err := f.svc.ConsumeQuantity(context.Background(), res.ID, types.NewQuantityFromInt(30))
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, early.ID, movements[0].BatchID)

	assert.Equal(t, types.NewQuantityFromInt(10), f.ledgerRepo.batches[early.ID].Quantity)
	assert.Equal(t, types.NewQuantityFromInt(100), f.ledgerRepo.batches[late.ID].Quantity)
	assert.True(t, f.ledgerRepo.batches[late.ID].Reserved.IsZero())
}

func TestConsumeQuantity_CannotExceedHold(t *testing.T) {
	f := newFixture(t)
	f.addBatch(t, "A", 100, 10)
	res := f.reserve(t, 30, 0)

	_, err := f.svc.ConsumeQuantity(context.Background(), res.ID, types.NewQuantityFromInt(31))
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))
	assert.Equal(t, StatusActive, f.resRepo.reservations[res.ID].Status)
}

func TestReserve_TTLBounds(t *testing.T) {
	f := newFixture(t)
	f.addBatch(t, "A", 100, 30)

	res := f.reserve(t, 10, 0)
	assert.WithinDuration(t, time.Now().UTC().Add(DefaultTTL), res.ExpiresAt, 5*time.Second)

	res = f.reserve(t, 10, 100*time.Hour)
	assert.WithinDuration(t, time.Now().UTC().Add(MaxTTL), res.ExpiresAt, 5*time.Second)
}
