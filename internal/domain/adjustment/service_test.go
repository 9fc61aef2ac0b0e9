package adjustment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medledger/internal/core/apperror"
	"medledger/internal/core/entity"
	"medledger/internal/core/id"
	"medledger/internal/core/numerator"
	"medledger/internal/core/types"
	"medledger/internal/domain/ledger"
	"medledger/pkg/logger"
)

// --- in-memory fakes ---

type memLedgerRepo struct {
	batches   map[id.ID]*entity.Batch
	movements []entity.StockMovement

	// onLock runs once before the next GetBatchesForUpdate, letting a
	// test commit stock changes right before the locks are taken.
	onLock func()
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
	if r.onLock != nil {
		hook := r.onLock
		r.onLock = nil
		hook()
	}
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

type memAdjRepo struct {
	adjustments map[id.ID]*Adjustment
}

func newMemAdjRepo() *memAdjRepo {
	return &memAdjRepo{adjustments: make(map[id.ID]*Adjustment)}
}

func (r *memAdjRepo) Create(ctx context.Context, a *Adjustment) error {
	r.adjustments[a.ID] = a
	return nil
}

func (r *memAdjRepo) GetByID(ctx context.Context, adjID id.ID) (*Adjustment, error) {
	a, ok := r.adjustments[adjID]
	if !ok {
		return nil, apperror.NewNotFound("adjustment", adjID.String())
	}
	return a, nil
}

func (r *memAdjRepo) Update(ctx context.Context, a *Adjustment) error {
	r.adjustments[a.ID] = a
	return nil
}

func (r *memAdjRepo) UpdateStatusIf(ctx context.Context, adjID id.ID, from, to Status) (bool, error) {
	a, ok := r.adjustments[adjID]
	if !ok {
		return false, apperror.NewNotFound("adjustment", adjID.String())
	}
	if a.Status != from {
		return false, nil
	}
	a.Status = to
	return true, nil
}

func (r *memAdjRepo) List(ctx context.Context, f ListFilter) ([]*Adjustment, error) {
	var out []*Adjustment
	for _, a := range r.adjustments {
		out = append(out, a)
	}
	return out, nil
}

func (r *memAdjRepo) Count(ctx context.Context, f ListFilter) (int64, error) {
	return int64(len(r.adjustments)), nil
}

type noopTxManager struct{}

func (noopTxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// --- fixture ---

type fixture struct {
	ledgerRepo *memLedgerRepo
	svc        *Service
	warehouse  id.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledgerRepo := newMemLedgerRepo()
	txm := noopTxManager{}
	log := logger.Default()
	ledgerSvc := ledger.NewService(ledgerRepo, txm, log)
	return &fixture{
		ledgerRepo: ledgerRepo,
		svc:        NewService(newMemAdjRepo(), ledgerSvc, &numerator.MockGenerator{}, txm, log),
		warehouse:  id.New(),
	}
}

func (f *fixture) addBatch(t *testing.T, number string, qty int64) *entity.Batch {
	t.Helper()
	b := entity.NewBatch(f.warehouse, id.New(), number, nil)
	b.Quantity = types.NewQuantityFromInt(qty)
	require.NoError(t, f.ledgerRepo.CreateBatch(context.Background(), b))

	if qty > 0 {
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
	}
	return b
}

// --- tests ---

func TestAdjustment_DraftSnapshotsSystemQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.addBatch(t, "LOT-1", 100)

	a, err := f.svc.Draft(ctx, f.warehouse, TypeInventoryCount, "monthly count", []CountedBatch{
		{BatchID: b.ID, Actual: types.NewQuantityFromInt(95)},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusDraft, a.Status)
	assert.NotEmpty(t, a.Number)
	require.Len(t, a.Lines, 1)
	assert.Equal(t, types.NewQuantityFromInt(100), a.Lines[0].SystemQuantity)
	assert.Equal(t, types.NewQuantityFromInt(95), a.Lines[0].ActualQuantity)
	assert.Equal(t, types.NewQuantityFromInt(-5), a.Lines[0].DifferenceQuantity)

	// Drafting must not touch stock.
	assert.Equal(t, types.NewQuantityFromInt(100), f.ledgerRepo.batches[b.ID].Quantity)
}

func TestAdjustment_ApprovePostsCompensatingEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	short := f.addBatch(t, "SHORT", 100) // counted below system
	over := f.addBatch(t, "OVER", 20)    // counted above system
	exact := f.addBatch(t, "EXACT", 50)  // matches

	a, err := f.svc.Draft(ctx, f.warehouse, TypeInventoryCount, "count", []CountedBatch{
		{BatchID: short.ID, Actual: types.NewQuantityFromInt(92)},
		{BatchID: over.ID, Actual: types.NewQuantityFromInt(25)},
		{BatchID: exact.ID, Actual: types.NewQuantityFromInt(50)},
	})
	require.NoError(t, err)

	a, err = f.svc.Approve(ctx, a.ID, "verified by head nurse")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, a.Status)
	assert.NotNil(t, a.ApprovedAt)
	assert.Equal(t, "verified by head nurse", a.ApprovalNote)

	assert.Equal(t, types.NewQuantityFromInt(92), f.ledgerRepo.batches[short.ID].Quantity)
	assert.Equal(t, types.NewQuantityFromInt(25), f.ledgerRepo.batches[over.ID].Quantity)
	assert.Equal(t, types.NewQuantityFromInt(50), f.ledgerRepo.batches[exact.ID].Quantity)

	// Two adjustment entries: the exact line posts nothing.
	var adjMovements []entity.StockMovement
	for _, m := range f.ledgerRepo.movements {
		if m.MovementType == entity.MovementAdjustment {
			adjMovements = append(adjMovements, m)
		}
	}
	require.Len(t, adjMovements, 2)
	assert.Equal(t, entity.RefAdjustment, adjMovements[0].Kind)
	assert.Equal(t, a.ID, adjMovements[0].RefID)
}

func TestAdjustment_ApproveRecomputesAgainstLiveStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.addBatch(t, "LOT-1", 100)

	a, err := f.svc.Draft(ctx, f.warehouse, TypeInventoryCount, "count", []CountedBatch{
		{BatchID: b.ID, Actual: types.NewQuantityFromInt(95)},
	})
	require.NoError(t, err)

	// Stock moves between draft and approval: an export of 10.
	f.ledgerRepo.batches[b.ID].Quantity = types.NewQuantityFromInt(90)
	f.ledgerRepo.movements = append(f.ledgerRepo.movements, entity.StockMovement{
		ID: id.New(), BatchID: b.ID,
		MovementType:  entity.MovementExport,
		Quantity:      types.NewQuantityFromInt(-10),
		BalanceBefore: types.NewQuantityFromInt(100),
		BalanceAfter:  types.NewQuantityFromInt(90),
		Reference:     entity.NewReference(entity.RefExportReceipt, id.New(), "EX-1"),
		CreatedAt:     time.Now().UTC(),
	})

	a, err = f.svc.Approve(ctx, a.ID, "")
	require.NoError(t, err)

	// The batch still lands exactly on the counted quantity.
	assert.Equal(t, types.NewQuantityFromInt(95), f.ledgerRepo.batches[b.ID].Quantity)
	assert.Equal(t, types.NewQuantityFromInt(90), a.Lines[0].SystemQuantity)
	assert.Equal(t, types.NewQuantityFromInt(5), a.Lines[0].DifferenceQuantity)
}

func TestAdjustment_ApproveDiffComputedFromLockedRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.addBatch(t, "LOT-1", 50)

	a, err := f.svc.Draft(ctx, f.warehouse, TypeInventoryCount, "count", []CountedBatch{
		{BatchID: b.ID, Actual: types.NewQuantityFromInt(35)},
	})
	require.NoError(t, err)

	// A dispense commits in the window between approval starting and
	// the batch locks being taken. The diff must come from the locked
	// quantity, not an earlier read.
	f.ledgerRepo.onLock = func() {
		f.ledgerRepo.batches[b.ID].Quantity = types.NewQuantityFromInt(40)
		f.ledgerRepo.movements = append(f.ledgerRepo.movements, entity.StockMovement{
			ID: id.New(), BatchID: b.ID,
			MovementType:  entity.MovementExport,
			Quantity:      types.NewQuantityFromInt(-10),
			BalanceBefore: types.NewQuantityFromInt(50),
			BalanceAfter:  types.NewQuantityFromInt(40),
			Reference:     entity.NewReference(entity.RefExportReceipt, id.New(), "EX-2"),
			CreatedAt:     time.Now().UTC(),
		})
	}

	a, err = f.svc.Approve(ctx, a.ID, "")
	require.NoError(t, err)

	assert.Equal(t, types.NewQuantityFromInt(35), f.ledgerRepo.batches[b.ID].Quantity)
	assert.Equal(t, types.NewQuantityFromInt(40), a.Lines[0].SystemQuantity)
	assert.Equal(t, types.NewQuantityFromInt(-5), a.Lines[0].DifferenceQuantity)
}

func TestAdjustment_ApproveTwiceRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.addBatch(t, "LOT-1", 100)

	a, err := f.svc.Draft(ctx, f.warehouse, TypeDamage, "broken vials", []CountedBatch{
		{BatchID: b.ID, Actual: types.NewQuantityFromInt(98)},
	})
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, a.ID, "")
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, a.ID, "")
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeInvalidTransition))

	err = f.svc.Discard(ctx, a.ID)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeInvalidTransition))
}

func TestAdjustment_DiscardDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.addBatch(t, "LOT-1", 100)

	a, err := f.svc.Draft(ctx, f.warehouse, TypeError, "fat-fingered receipt", []CountedBatch{
		{BatchID: b.ID, Actual: types.NewQuantityFromInt(90)},
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.Discard(ctx, a.ID))
	assert.Equal(t, types.NewQuantityFromInt(100), f.ledgerRepo.batches[b.ID].Quantity)
	assert.Empty(t, f.ledgerRepo.movements[1:])
}

func TestAdjustment_Validate(t *testing.T) {
	ctx := context.Background()
	wh := id.New()
	b := entity.NewBatch(wh, id.New(), "LOT-1", nil)
	b.Quantity = types.NewQuantityFromInt(10)

	a := New(wh, Type("guess"), "")
	a.AddLine(b, types.NewQuantityFromInt(5), "")
	require.Error(t, a.Validate(ctx), "unknown type")

	a = New(wh, TypeOther, "")
	require.Error(t, a.Validate(ctx), "no lines")

	a = New(wh, TypeOther, "")
	a.AddLine(b, types.NewQuantityFromInt(5), "")
	a.AddLine(b, types.NewQuantityFromInt(6), "")
	require.Error(t, a.Validate(ctx), "duplicate batch")

	a = New(wh, TypeOther, "")
	a.AddLine(b, types.NewQuantityFromInt(-1), "")
	require.Error(t, a.Validate(ctx), "negative actual")
}
