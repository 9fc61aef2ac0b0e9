package transfer

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
	"medledger/internal/core/numerator"
	"medledger/internal/core/types"
	"medledger/internal/domain/ledger"
	"medledger/internal/domain/reservation"
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
		if f.BatchNumber != "" && b.BatchNumber != f.BatchNumber {
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
		if f.ReferenceID != nil && m.RefID != *f.ReferenceID {
			continue
		}
		out = append(out, m)
	}
	// The store returns movements newest first.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return id.Compare(out[i].ID, out[j].ID) > 0
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
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
	reservations map[id.ID]*reservation.Reservation
}

func newMemResRepo() *memResRepo {
	return &memResRepo{reservations: make(map[id.ID]*reservation.Reservation)}
}

func (r *memResRepo) Create(ctx context.Context, res *reservation.Reservation) error {
	r.reservations[res.ID] = res
	return nil
}

func (r *memResRepo) GetByID(ctx context.Context, resID id.ID) (*reservation.Reservation, error) {
	res, ok := r.reservations[resID]
	if !ok {
		return nil, apperror.NewNotFound("reservation", resID.String())
	}
	return res, nil
}

func (r *memResRepo) ListByReference(ctx context.Context, refID id.ID) ([]*reservation.Reservation, error) {
	var out []*reservation.Reservation
	for _, res := range r.reservations {
		if res.RefID == refID {
			out = append(out, res)
		}
	}
	return out, nil
}

func (r *memResRepo) ListActiveDue(ctx context.Context, before time.Time, limit int) ([]*reservation.Reservation, error) {
	return nil, nil
}

func (r *memResRepo) ResolveIf(ctx context.Context, resID id.ID, from, to reservation.Status, resolvedAt time.Time) (bool, error) {
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

type memTransferRepo struct {
	transfers map[id.ID]*Transfer
}

func newMemTransferRepo() *memTransferRepo {
	return &memTransferRepo{transfers: make(map[id.ID]*Transfer)}
}

func (r *memTransferRepo) Create(ctx context.Context, t *Transfer) error {
	r.transfers[t.ID] = t
	return nil
}

func (r *memTransferRepo) GetByID(ctx context.Context, transferID id.ID) (*Transfer, error) {
	t, ok := r.transfers[transferID]
	if !ok {
		return nil, apperror.NewNotFound("transfer", transferID.String())
	}
	return t, nil
}

func (r *memTransferRepo) GetByNumber(ctx context.Context, number string) (*Transfer, error) {
	for _, t := range r.transfers {
		if t.Number == number {
			return t, nil
		}
	}
	return nil, apperror.NewNotFound("transfer", number)
}

func (r *memTransferRepo) Update(ctx context.Context, t *Transfer) error {
	r.transfers[t.ID] = t
	return nil
}

func (r *memTransferRepo) List(ctx context.Context, f ListFilter) ([]*Transfer, error) {
	var out []*Transfer
	for _, t := range r.transfers {
		out = append(out, t)
	}
	return out, nil
}

func (r *memTransferRepo) Count(ctx context.Context, f ListFilter) (int64, error) {
	return int64(len(r.transfers)), nil
}

type noopTxManager struct{}

func (noopTxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// --- fixture ---

type fixture struct {
	ledgerRepo *memLedgerRepo
	svc        *Service
	source     id.ID
	dest       id.ID
	item       id.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledgerRepo := newMemLedgerRepo()
	txm := noopTxManager{}
	log := logger.Default()
	ledgerSvc := ledger.NewService(ledgerRepo, txm, log)
	resSvc := reservation.NewService(newMemResRepo(), ledgerRepo, ledgerSvc, txm, log)
	return &fixture{
		ledgerRepo: ledgerRepo,
		svc: NewService(newMemTransferRepo(), resSvc, ledgerSvc, ledgerRepo,
			&numerator.MockGenerator{}, txm, log),
		source: id.New(),
		dest:   id.New(),
		item:   id.New(),
	}
}

func (f *fixture) addSourceBatch(t *testing.T, number string, qty int64, expiryDays int) *entity.Batch {
	t.Helper()
	exp := time.Now().UTC().AddDate(0, 0, expiryDays)
	b := entity.NewBatch(f.source, f.item, number, &exp)
	b.Quantity = types.NewQuantityFromInt(qty)
	b.UnitPrice = types.NewMoney(3.2)
	require.NoError(t, f.ledgerRepo.CreateBatch(context.Background(), b))

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

func (f *fixture) newTransfer(t *testing.T, qty int64) *Transfer {
	t.Helper()
	tr := New(f.source, f.dest)
	tr.AddLine(f.item, types.NewQuantityFromInt(qty))
	require.NoError(t, f.svc.Create(context.Background(), tr))
	return tr
}

// --- tests ---

func TestTransfer_FullWorkflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.addSourceBatch(t, "LOT-7", 100, 60)

	tr := f.newTransfer(t, 40)
	assert.NotEmpty(t, tr.Number)

	tr, err := f.svc.Approve(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, tr.Status)
	require.NotNil(t, tr.Lines[0].ReservationID)
	assert.Equal(t, types.NewQuantityFromInt(40), f.ledgerRepo.batches[src.ID].Reserved)

	tr, err = f.svc.Deliver(ctx, tr.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, tr.Status)
	assert.Equal(t, types.NewQuantityFromInt(40), tr.Lines[0].Delivered)
	assert.Equal(t, types.NewQuantityFromInt(60), f.ledgerRepo.batches[src.ID].Quantity)
	assert.True(t, f.ledgerRepo.batches[src.ID].Reserved.IsZero())

	tr, err = f.svc.Receive(ctx, tr.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusReceived, tr.Status)
	assert.Equal(t, types.NewQuantityFromInt(40), tr.Lines[0].Received)

	// Destination got a mirrored batch carrying the same lot number.
	destBatches, err := f.ledgerRepo.ListBatches(ctx, ledger.BatchFilter{WarehouseID: &f.dest})
	require.NoError(t, err)
	require.Len(t, destBatches, 1)
	assert.Equal(t, "LOT-7", destBatches[0].BatchNumber)
	assert.Equal(t, types.NewQuantityFromInt(40), destBatches[0].Quantity)
	assert.Equal(t, src.UnitPrice, destBatches[0].UnitPrice)
}

func TestTransfer_PartialDeliveryAndReceipt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.addSourceBatch(t, "LOT-1", 100, 60)

	tr := f.newTransfer(t, 50)
	tr, err := f.svc.Approve(ctx, tr.ID)
	require.NoError(t, err)

	// Deliver 30 of the 50 approved; the remaining hold returns to pool.
	tr, err = f.svc.Deliver(ctx, tr.ID, []LineQuantity{
		{LineID: tr.Lines[0].LineID, Quantity: types.NewQuantityFromInt(30)},
	})
	require.NoError(t, err)
	assert.Equal(t, types.NewQuantityFromInt(70), f.ledgerRepo.batches[src.ID].Quantity)
	assert.True(t, f.ledgerRepo.batches[src.ID].Reserved.IsZero())

	// Receive only 25: the 5 lost in transit stay visible in the gap.
	tr, err = f.svc.Receive(ctx, tr.ID, []LineQuantity{
		{LineID: tr.Lines[0].LineID, Quantity: types.NewQuantityFromInt(25)},
	})
	require.NoError(t, err)
	assert.Equal(t, types.NewQuantityFromInt(30), tr.Lines[0].Delivered)
	assert.Equal(t, types.NewQuantityFromInt(25), tr.Lines[0].Received)

	destBatches, _ := f.ledgerRepo.ListBatches(ctx, ledger.BatchFilter{WarehouseID: &f.dest})
	require.Len(t, destBatches, 1)
	assert.Equal(t, types.NewQuantityFromInt(25), destBatches[0].Quantity)
}

func TestTransfer_PartialReceiveFillsFirstDrawnLot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// LATE is created first, so any newest-first walk over the delivery
	// movements would top up LATE before EARLY.
	f.addSourceBatch(t, "LATE", 100, 60)
	f.addSourceBatch(t, "EARLY", 40, 10)

	tr := f.newTransfer(t, 60) // draws 40 EARLY + 20 LATE
	tr, err := f.svc.Approve(ctx, tr.ID)
	require.NoError(t, err)
	tr, err = f.svc.Deliver(ctx, tr.ID, nil)
	require.NoError(t, err)

	// Only 30 of the 60 arrive: they belong to the first-drawn lot.
	tr, err = f.svc.Receive(ctx, tr.ID, []LineQuantity{
		{LineID: tr.Lines[0].LineID, Quantity: types.NewQuantityFromInt(30)},
	})
	require.NoError(t, err)

	destBatches, err := f.ledgerRepo.ListBatches(ctx, ledger.BatchFilter{WarehouseID: &f.dest})
	require.NoError(t, err)
	require.Len(t, destBatches, 1)
	assert.Equal(t, "EARLY", destBatches[0].BatchNumber)
	assert.Equal(t, types.NewQuantityFromInt(30), destBatches[0].Quantity)
}

func TestTransfer_DeliverCannotExceedRequested(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addSourceBatch(t, "LOT-1", 100, 60)

	tr := f.newTransfer(t, 50)
	tr, err := f.svc.Approve(ctx, tr.ID)
	require.NoError(t, err)

	_, err = f.svc.Deliver(ctx, tr.ID, []LineQuantity{
		{LineID: tr.Lines[0].LineID, Quantity: types.NewQuantityFromInt(51)},
	})
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))
}

func TestTransfer_ReceiveCannotExceedDelivered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addSourceBatch(t, "LOT-1", 100, 60)

	tr := f.newTransfer(t, 50)
	_, err := f.svc.Approve(ctx, tr.ID)
	require.NoError(t, err)
	tr, err = f.svc.Deliver(ctx, tr.ID, []LineQuantity{
		{LineID: tr.Lines[0].LineID, Quantity: types.NewQuantityFromInt(30)},
	})
	require.NoError(t, err)

	_, err = f.svc.Receive(ctx, tr.ID, []LineQuantity{
		{LineID: tr.Lines[0].LineID, Quantity: types.NewQuantityFromInt(31)},
	})
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))
}

func TestTransfer_ApproveFailsWithoutStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.addSourceBatch(t, "LOT-1", 30, 60)

	tr := f.newTransfer(t, 50)
	_, err := f.svc.Approve(ctx, tr.ID)
	require.Error(t, err)
	assert.True(t, apperror.IsInsufficientStock(err))
	assert.True(t, f.ledgerRepo.batches[src.ID].Reserved.IsZero())
}

func TestTransfer_CancelReleasesHolds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.addSourceBatch(t, "LOT-1", 100, 60)

	tr := f.newTransfer(t, 50)
	tr, err := f.svc.Approve(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, types.NewQuantityFromInt(50), f.ledgerRepo.batches[src.ID].Reserved)

	tr, err = f.svc.Cancel(ctx, tr.ID, "ward request withdrawn")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, tr.Status)
	assert.True(t, f.ledgerRepo.batches[src.ID].Reserved.IsZero())
	assert.Equal(t, types.NewQuantityFromInt(100), f.ledgerRepo.batches[src.ID].Quantity)
}

func TestTransfer_CancelAfterDeliveryRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addSourceBatch(t, "LOT-1", 100, 60)

	tr := f.newTransfer(t, 50)
	_, err := f.svc.Approve(ctx, tr.ID)
	require.NoError(t, err)
	_, err = f.svc.Deliver(ctx, tr.ID, nil)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, tr.ID, "too late")
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeInvalidTransition))
}
