package receipt

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

func (r *memLedgerRepo) CreateBatch(_ context.Context, b *entity.Batch) error {
	r.batches[b.ID] = b
	return nil
}

func (r *memLedgerRepo) GetBatch(_ context.Context, batchID id.ID) (*entity.Batch, error) {
	b, ok := r.batches[batchID]
	if !ok {
		return nil, apperror.NewNotFound("batch", batchID.String())
	}
	return b, nil
}

func (r *memLedgerRepo) GetBatchesForUpdate(_ context.Context, batchIDs []id.ID) ([]*entity.Batch, error) {
	out := make([]*entity.Batch, 0, len(batchIDs))
	for _, bid := range batchIDs {
		if b, ok := r.batches[bid]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *memLedgerRepo) ListBatches(_ context.Context, f ledger.BatchFilter) ([]*entity.Batch, error) {
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

func (r *memLedgerRepo) UpdateBatchState(_ context.Context, b *entity.Batch) error {
	r.batches[b.ID] = b
	return nil
}

func (r *memLedgerRepo) CreateMovements(_ context.Context, movements []entity.StockMovement) error {
	r.movements = append(r.movements, movements...)
	return nil
}

func (r *memLedgerRepo) GetLastMovement(_ context.Context, batchID id.ID) (*entity.StockMovement, error) {
	var last *entity.StockMovement
	for i := range r.movements {
		if r.movements[i].BatchID == batchID {
			last = &r.movements[i]
		}
	}
	return last, nil
}

func (r *memLedgerRepo) ListMovements(_ context.Context, f ledger.MovementFilter) ([]entity.StockMovement, error) {
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
	return out, nil
}

func (r *memLedgerRepo) CountMovements(ctx context.Context, f ledger.MovementFilter) (int64, error) {
	out, _ := r.ListMovements(ctx, f)
	return int64(len(out)), nil
}

func (r *memLedgerRepo) GetTurnover(_ context.Context, _ id.ID, _, _ time.Time) ([]ledger.TurnoverRow, error) {
	return nil, nil
}

func (r *memLedgerRepo) GetStock(_ context.Context, _ id.ID, _ *id.ID) ([]ledger.StockRow, error) {
	return nil, nil
}

type memResRepo struct {
	reservations map[id.ID]*reservation.Reservation
}

func newMemResRepo() *memResRepo {
	return &memResRepo{reservations: make(map[id.ID]*reservation.Reservation)}
}

func (r *memResRepo) Create(_ context.Context, res *reservation.Reservation) error {
	r.reservations[res.ID] = res
	return nil
}

func (r *memResRepo) GetByID(_ context.Context, resID id.ID) (*reservation.Reservation, error) {
	res, ok := r.reservations[resID]
	if !ok {
		return nil, apperror.NewNotFound("reservation", resID.String())
	}
	return res, nil
}

func (r *memResRepo) ListByReference(_ context.Context, refID id.ID) ([]*reservation.Reservation, error) {
	var out []*reservation.Reservation
	for _, res := range r.reservations {
		if res.RefID == refID {
			out = append(out, res)
		}
	}
	return out, nil
}

func (r *memResRepo) ListActiveDue(_ context.Context, before time.Time, limit int) ([]*reservation.Reservation, error) {
	var out []*reservation.Reservation
	for _, res := range r.reservations {
		if res.Status == reservation.StatusActive && res.ExpiresAt.Before(before) {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memResRepo) ResolveIf(_ context.Context, resID id.ID, from, to reservation.Status, resolvedAt time.Time) (bool, error) {
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

type memImportRepo struct {
	receipts map[id.ID]*ImportReceipt
}

func newMemImportRepo() *memImportRepo {
	return &memImportRepo{receipts: make(map[id.ID]*ImportReceipt)}
}

func (r *memImportRepo) Create(_ context.Context, rec *ImportReceipt) error {
	r.receipts[rec.ID] = rec
	return nil
}

func (r *memImportRepo) GetByID(_ context.Context, receiptID id.ID) (*ImportReceipt, error) {
	rec, ok := r.receipts[receiptID]
	if !ok {
		return nil, apperror.NewNotFound("import receipt", receiptID.String())
	}
	return rec, nil
}

func (r *memImportRepo) Update(_ context.Context, rec *ImportReceipt) error {
	r.receipts[rec.ID] = rec
	return nil
}

func (r *memImportRepo) UpdateStatusIf(_ context.Context, receiptID id.ID, from, to Status) (bool, error) {
	rec, ok := r.receipts[receiptID]
	if !ok {
		return false, apperror.NewNotFound("import receipt", receiptID.String())
	}
	if rec.Status != from {
		return false, nil
	}
	rec.Status = to
	return true, nil
}

func (r *memImportRepo) List(_ context.Context, f ListFilter) ([]*ImportReceipt, error) {
	var out []*ImportReceipt
	for _, rec := range r.receipts {
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *memImportRepo) Count(ctx context.Context, f ListFilter) (int64, error) {
	out, _ := r.List(ctx, f)
	return int64(len(out)), nil
}

type memExportRepo struct {
	receipts map[id.ID]*ExportReceipt
}

func newMemExportRepo() *memExportRepo {
	return &memExportRepo{receipts: make(map[id.ID]*ExportReceipt)}
}

func (r *memExportRepo) Create(_ context.Context, rec *ExportReceipt) error {
	r.receipts[rec.ID] = rec
	return nil
}

func (r *memExportRepo) GetByID(_ context.Context, receiptID id.ID) (*ExportReceipt, error) {
	rec, ok := r.receipts[receiptID]
	if !ok {
		return nil, apperror.NewNotFound("export receipt", receiptID.String())
	}
	return rec, nil
}

func (r *memExportRepo) Update(_ context.Context, rec *ExportReceipt) error {
	r.receipts[rec.ID] = rec
	return nil
}

func (r *memExportRepo) UpdateStatusIf(_ context.Context, receiptID id.ID, from, to Status) (bool, error) {
	rec, ok := r.receipts[receiptID]
	if !ok {
		return false, apperror.NewNotFound("export receipt", receiptID.String())
	}
	if rec.Status != from {
		return false, nil
	}
	rec.Status = to
	return true, nil
}

func (r *memExportRepo) List(_ context.Context, f ListFilter) ([]*ExportReceipt, error) {
	var out []*ExportReceipt
	for _, rec := range r.receipts {
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *memExportRepo) Count(ctx context.Context, f ListFilter) (int64, error) {
	out, _ := r.List(ctx, f)
	return int64(len(out)), nil
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
		svc: NewService(newMemImportRepo(), newMemExportRepo(),
			ledgerSvc, ledgerRepo, resSvc, &numerator.MockGenerator{}, txm, log),
		warehouse: id.New(),
		item:      id.New(),
	}
}

// addStock seeds an issuable batch through an approved import so the
// ledger chain is real.
func (f *fixture) addStock(t *testing.T, number string, qty int64, expiryDays int) id.ID {
	t.Helper()
	ctx := context.Background()
	exp := time.Now().UTC().AddDate(0, 0, expiryDays)
	r := NewImport(f.warehouse, ImportSupplier, "ACME-PHARMA")
	r.AddLine(ImportLine{
		ItemID:      f.item,
		BatchNumber: number,
		ExpiryDate:  &exp,
		Quantity:    types.NewQuantityFromInt(qty),
	})
	created, err := f.svc.CreateImport(ctx, r)
	require.NoError(t, err)
	approved, err := f.svc.ApproveImport(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, approved.Lines[0].BatchID)
	return *approved.Lines[0].BatchID
}

func (f *fixture) batchQty(t *testing.T, batchID id.ID) types.Quantity {
	t.Helper()
	b, err := f.ledgerRepo.GetBatch(context.Background(), batchID)
	require.NoError(t, err)
	return b.Quantity
}

// --- import tests ---

func TestApproveImportCreatesBatchesAndPosts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exp := time.Now().UTC().AddDate(0, 0, 180)
	r := NewImport(f.warehouse, ImportSupplier, "ACME-PHARMA")
	r.AddLine(ImportLine{
		ItemID:      f.item,
		BatchNumber: "LOT-1",
		ExpiryDate:  &exp,
		Quantity:    types.NewQuantityFromInt(100),
		UnitPrice:   types.NewMoney(12),
	})
	r.AddLine(ImportLine{
		ItemID:      f.item,
		BatchNumber: "LOT-2",
		ExpiryDate:  &exp,
		Quantity:    types.NewQuantityFromInt(40),
	})

	created, err := f.svc.CreateImport(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, created.Status)
	assert.NotEmpty(t, created.Number)

	approved, err := f.svc.ApproveImport(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedAt)

	for _, line := range approved.Lines {
		require.NotNil(t, line.BatchID)
		b, err := f.ledgerRepo.GetBatch(ctx, *line.BatchID)
		require.NoError(t, err)
		assert.Equal(t, line.Quantity, b.Quantity)
		assert.Equal(t, string(ImportSupplier), b.SourceType)
		assert.Equal(t, "ACME-PHARMA", b.SourceCode)
	}

	movements, err := f.ledgerRepo.ListMovements(ctx, ledger.MovementFilter{ReferenceID: &approved.ID})
	require.NoError(t, err)
	require.Len(t, movements, 2)
	for _, m := range movements {
		assert.Equal(t, entity.MovementImport, m.MovementType)
		assert.Equal(t, entity.RefImportReceipt, m.Kind)
	}
}

func TestApproveImportTwiceRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r := NewImport(f.warehouse, ImportAid, "RED-CROSS")
	r.AddLine(ImportLine{ItemID: f.item, BatchNumber: "LOT-1", Quantity: types.NewQuantityFromInt(10)})
	created, err := f.svc.CreateImport(ctx, r)
	require.NoError(t, err)

	_, err = f.svc.ApproveImport(ctx, created.ID)
	require.NoError(t, err)

	_, err = f.svc.ApproveImport(ctx, created.ID)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeInvalidTransition))
}

func TestDepartmentReturnPostsAsReturn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r := NewImport(f.warehouse, ImportDepartmentReturn, "ICU")
	r.AddLine(ImportLine{ItemID: f.item, BatchNumber: "LOT-R", Quantity: types.NewQuantityFromInt(5)})
	created, err := f.svc.CreateImport(ctx, r)
	require.NoError(t, err)
	approved, err := f.svc.ApproveImport(ctx, created.ID)
	require.NoError(t, err)

	movements, err := f.ledgerRepo.ListMovements(ctx, ledger.MovementFilter{ReferenceID: &approved.ID})
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, entity.MovementReturn, movements[0].MovementType)
}

func TestCancelImportLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r := NewImport(f.warehouse, ImportSupplier, "ACME-PHARMA")
	r.AddLine(ImportLine{ItemID: f.item, BatchNumber: "LOT-1", Quantity: types.NewQuantityFromInt(10)})
	created, err := f.svc.CreateImport(ctx, r)
	require.NoError(t, err)

	require.NoError(t, f.svc.CancelImport(ctx, created.ID))
	assert.Empty(t, f.ledgerRepo.movements)
	assert.Empty(t, f.ledgerRepo.batches)

	_, err = f.svc.ApproveImport(ctx, created.ID)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeInvalidTransition))
}

func TestImportValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r := NewImport(f.warehouse, ImportSupplier, "ACME-PHARMA")
	_, err := f.svc.CreateImport(ctx, r)
	assert.Error(t, err, "no lines")

	r = NewImport(f.warehouse, "smuggling", "")
	r.AddLine(ImportLine{ItemID: f.item, BatchNumber: "LOT-1", Quantity: types.NewQuantityFromInt(1)})
	_, err = f.svc.CreateImport(ctx, r)
	assert.Error(t, err, "unknown type")

	r = NewImport(f.warehouse, ImportSupplier, "ACME-PHARMA")
	r.AddLine(ImportLine{ItemID: f.item, BatchNumber: "", Quantity: types.NewQuantityFromInt(1)})
	_, err = f.svc.CreateImport(ctx, r)
	assert.Error(t, err, "missing batch number")
}

// --- export tests ---

func TestApproveExportDirectIssuesFEFO(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	late := f.addStock(t, "LATE", 100, 90)
	early := f.addStock(t, "EARLY", 30, 10)

	r := NewExport(f.warehouse, ExportOutpatient, "patient-42")
	r.AddLine(ExportLine{ItemID: f.item, Quantity: types.NewQuantityFromInt(50)})
	created, err := f.svc.CreateExport(ctx, r)
	require.NoError(t, err)

	approved, err := f.svc.ApproveExport(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status)

	// Earliest expiry drains first, the remainder comes from the later lot.
	assert.Equal(t, types.NewQuantityFromInt(0), f.batchQty(t, early))
	assert.Equal(t, types.NewQuantityFromInt(80), f.batchQty(t, late))
}

func TestApproveExportInsufficientStockRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.addStock(t, "LOT-1", 30, 90)

	r := NewExport(f.warehouse, ExportInpatient, "ward-3")
	r.AddLine(ExportLine{ItemID: f.item, Quantity: types.NewQuantityFromInt(50)})
	created, err := f.svc.CreateExport(ctx, r)
	require.NoError(t, err)

	_, err = f.svc.ApproveExport(ctx, created.ID)
	require.Error(t, err)
	assert.True(t, apperror.IsInsufficientStock(err))
	assert.Equal(t, types.NewQuantityFromInt(30), f.batchQty(t, b))
}

func TestReserveThenApproveExport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.addStock(t, "LOT-1", 100, 90)

	r := NewExport(f.warehouse, ExportOutpatient, "patient-42")
	r.Reference = entity.NewReference(entity.RefDispenseRequest, id.New(), "RX-881")
	r.AddLine(ExportLine{ItemID: f.item, Quantity: types.NewQuantityFromInt(40)})
	created, err := f.svc.CreateExport(ctx, r)
	require.NoError(t, err)

	reserved, err := f.svc.ReserveExport(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, reserved.Lines[0].ReservationID)

	// The hold claims stock without moving it.
	batch, err := f.ledgerRepo.GetBatch(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, types.NewQuantityFromInt(100), batch.Quantity)
	assert.Equal(t, types.NewQuantityFromInt(40), batch.Reserved)

	approved, err := f.svc.ApproveExport(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status)

	batch, err = f.ledgerRepo.GetBatch(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, types.NewQuantityFromInt(60), batch.Quantity)
	assert.True(t, batch.Reserved.IsZero())
}

func TestCancelExportReleasesHolds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.addStock(t, "LOT-1", 100, 90)

	r := NewExport(f.warehouse, ExportDisposal, "")
	r.AddLine(ExportLine{ItemID: f.item, Quantity: types.NewQuantityFromInt(70)})
	created, err := f.svc.CreateExport(ctx, r)
	require.NoError(t, err)
	_, err = f.svc.ReserveExport(ctx, created.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.CancelExport(ctx, created.ID))

	batch, err := f.ledgerRepo.GetBatch(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, types.NewQuantityFromInt(100), batch.Quantity)
	assert.True(t, batch.Reserved.IsZero())

	_, err = f.svc.ApproveExport(ctx, created.ID)
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeInvalidTransition))
}

func TestSupplierReturnPostsAsReturn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addStock(t, "LOT-1", 20, 90)

	r := NewExport(f.warehouse, ExportSupplierReturn, "ACME-PHARMA")
	r.AddLine(ExportLine{ItemID: f.item, Quantity: types.NewQuantityFromInt(20)})
	created, err := f.svc.CreateExport(ctx, r)
	require.NoError(t, err)
	approved, err := f.svc.ApproveExport(ctx, created.ID)
	require.NoError(t, err)

	movements, err := f.ledgerRepo.ListMovements(ctx, ledger.MovementFilter{ReferenceID: &approved.ID})
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, entity.MovementReturn, movements[0].MovementType)
	assert.Equal(t, types.NewQuantityFromInt(-20), movements[0].Quantity)
}
