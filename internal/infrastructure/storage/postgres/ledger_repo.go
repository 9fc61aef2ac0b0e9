package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"medledger/internal/core/apperror"
	"medledger/internal/core/entity"
	"medledger/internal/core/id"
	"medledger/internal/domain/ledger"
)

const (
	batchTable    = "batches"
	movementTable = "stock_movements"
)

var (
	batchColumns    = ExtractDBColumns[entity.Batch]()
	movementColumns = ExtractDBColumns[entity.StockMovement]()
)

// Compile-time check.
var _ ledger.Repository = (*LedgerRepo)(nil)

// LedgerRepo persists batches and the append-only movement ledger.
type LedgerRepo struct {
	txm      *TxManager
	inserter *BatchInserter
}

// NewLedgerRepo creates the ledger repository.
func NewLedgerRepo(txm *TxManager) *LedgerRepo {
	return &LedgerRepo{
		txm:      txm,
		inserter: NewBatchInserter(txm),
	}
}

func (r *LedgerRepo) builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

// --- Batches ---

func (r *LedgerRepo) CreateBatch(ctx context.Context, b *entity.Batch) error {
	values := StructToMap(b)

	query, args, err := r.builder().
		Insert(batchTable).
		SetMap(values).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	_, err = r.txm.GetQuerier(ctx).Exec(ctx, query, args...)
	if err != nil {
		if IsUniqueViolation(err) {
			return apperror.NewConflict("batch number already exists in warehouse").
				WithDetail("batch_number", b.BatchNumber).
				WithCause(err)
		}
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

func (r *LedgerRepo) GetBatch(ctx context.Context, batchID id.ID) (*entity.Batch, error) {
	query, args, err := r.builder().
		Select(batchColumns...).
		From(batchTable).
		Where(sq.Eq{"id": batchID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var b entity.Batch
	err = pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &b, query, args...)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("batch", batchID.String())
		}
		return nil, fmt.Errorf("get batch: %w", err)
	}
	return &b, nil
}

// GetBatchesForUpdate locks the given batches with SELECT ... FOR UPDATE.
// Rows are ordered by id so every transaction acquires locks in the same
// global order; callers pass IDs already sorted the same way.
func (r *LedgerRepo) GetBatchesForUpdate(ctx context.Context, batchIDs []id.ID) ([]*entity.Batch, error) {
	if len(batchIDs) == 0 {
		return nil, nil
	}

	query, args, err := r.builder().
		Select(batchColumns...).
		From(batchTable).
		Where(sq.Eq{"id": batchIDs}).
		OrderBy("id").
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select for update: %w", err)
	}

	var batches []*entity.Batch
	err = pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &batches, query, args...)
	if err != nil {
		if IsLockConflict(err) {
			return nil, TranslateLockError(err, "batch", fmt.Sprintf("%d batches", len(batchIDs)))
		}
		return nil, fmt.Errorf("lock batches: %w", err)
	}
	return batches, nil
}

func (r *LedgerRepo) ListBatches(ctx context.Context, f ledger.BatchFilter) ([]*entity.Batch, error) {
	q := r.builder().
		Select(batchColumns...).
		From(batchTable)

	if !f.IncludeDeleted {
		q = q.Where(sq.Eq{"deletion_mark": false})
	}
	if f.WarehouseID != nil {
		q = q.Where(sq.Eq{"warehouse_id": *f.WarehouseID})
	}
	if f.ItemID != nil {
		q = q.Where(sq.Eq{"item_id": *f.ItemID})
	}
	if f.BatchNumber != "" {
		q = q.Where(sq.Eq{"batch_number": f.BatchNumber})
	}
	if f.ExpiringBefore != nil {
		q = q.Where(sq.Lt{"expiry_date": *f.ExpiringBefore})
	}
	if f.IssuableOnly {
		asOf := f.AsOf
		if asOf.IsZero() {
			asOf = time.Now().UTC()
		}
		q = q.Where(sq.Eq{"locked": false}).
			Where("quantity - reserved > 0").
			Where(sq.Or{
				sq.Eq{"expiry_date": nil},
				sq.Gt{"expiry_date": asOf},
			})
	}

	// Oldest expiry first so FEFO selection reads candidates in issue order.
	q = q.OrderBy("expiry_date ASC NULLS LAST", "created_at ASC", "id ASC")

	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var batches []*entity.Batch
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &batches, query, args...); err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return batches, nil
}

// UpdateBatchState persists quantity, reservation and lock fields. The
// caller has already called Touch, so the version check runs against
// the previous version.
func (r *LedgerRepo) UpdateBatchState(ctx context.Context, b *entity.Batch) error {
	query, args, err := r.builder().
		Update(batchTable).
		Set("quantity", b.Quantity).
		Set("reserved", b.Reserved).
		Set("locked", b.Locked).
		Set("lock_reason", b.LockReason).
		Set("deletion_mark", b.DeletionMark).
		Set("version", b.Version).
		Set("updated_at", b.UpdatedAt).
		Set("updated_by", b.UpdatedBy).
		Where(sq.Eq{"id": b.ID}).
		Where(sq.Eq{"version": b.Version - 1}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, query, args...)
	if err != nil {
		if IsLockConflict(err) {
			return TranslateLockError(err, "batch", b.ID.String())
		}
		return fmt.Errorf("update batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewConcurrentModification("batch", b.ID.String())
	}
	return nil
}

// --- Movements ---

// CreateMovements appends ledger entries through the COPY protocol.
// Must be called inside the transaction that locked the batches.
func (r *LedgerRepo) CreateMovements(ctx context.Context, movements []entity.StockMovement) error {
	if len(movements) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(movements))
	for _, m := range movements {
		rows = append(rows, []any{
			m.ID, m.BatchID, m.WarehouseID, m.ItemID, m.BatchNumber,
			string(m.MovementType),
			m.Quantity, m.BalanceBefore, m.BalanceAfter,
			m.UnitPrice, m.Amount,
			string(m.Kind), m.RefID, m.Code,
			m.MovementDate, m.CreatedAt, m.CreatedBy, m.Note,
		})
	}

	columns := []string{
		"id", "batch_id", "warehouse_id", "item_id", "batch_number",
		"movement_type",
		"quantity", "balance_before", "balance_after",
		"unit_price", "amount",
		"reference_kind", "reference_id", "reference_code",
		"movement_date", "created_at", "created_by", "note",
	}

	if _, err := r.inserter.CopyFromSlice(ctx, movementTable, columns, rows); err != nil {
		return fmt.Errorf("append movements: %w", err)
	}
	return nil
}

func (r *LedgerRepo) GetLastMovement(ctx context.Context, batchID id.ID) (*entity.StockMovement, error) {
	query, args, err := r.builder().
		Select(movementColumns...).
		From(movementTable).
		Where(sq.Eq{"batch_id": batchID}).
		OrderBy("created_at DESC", "id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var m entity.StockMovement
	err = pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &m, query, args...)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get last movement: %w", err)
	}
	return &m, nil
}

func (r *LedgerRepo) ListMovements(ctx context.Context, f ledger.MovementFilter) ([]entity.StockMovement, error) {
	q := r.applyMovementFilter(r.builder().Select(movementColumns...).From(movementTable), f).
		OrderBy("movement_date DESC", "id DESC")

	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var movements []entity.StockMovement
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &movements, query, args...); err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	return movements, nil
}

func (r *LedgerRepo) CountMovements(ctx context.Context, f ledger.MovementFilter) (int64, error) {
	query, args, err := r.applyMovementFilter(r.builder().Select("COUNT(*)").From(movementTable), f).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}

	var count int64
	if err := r.txm.GetQuerier(ctx).QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count movements: %w", err)
	}
	return count, nil
}

func (r *LedgerRepo) applyMovementFilter(q sq.SelectBuilder, f ledger.MovementFilter) sq.SelectBuilder {
	if f.BatchID != nil {
		q = q.Where(sq.Eq{"batch_id": *f.BatchID})
	}
	if f.WarehouseID != nil {
		q = q.Where(sq.Eq{"warehouse_id": *f.WarehouseID})
	}
	if f.ItemID != nil {
		q = q.Where(sq.Eq{"item_id": *f.ItemID})
	}
	if f.MovementType != "" {
		q = q.Where(sq.Eq{"movement_type": f.MovementType})
	}
	if f.ReferenceKind != "" {
		q = q.Where(sq.Eq{"reference_kind": f.ReferenceKind})
	}
	if f.ReferenceID != nil {
		q = q.Where(sq.Eq{"reference_id": *f.ReferenceID})
	}
	if f.From != nil {
		q = q.Where(sq.GtOrEq{"movement_date": *f.From})
	}
	if f.To != nil {
		q = q.Where(sq.Lt{"movement_date": *f.To})
	}
	return q
}

// --- Aggregates ---

// GetTurnover folds the movement ledger into per-item opening, received,
// issued and closing totals for a warehouse and period.
func (r *LedgerRepo) GetTurnover(ctx context.Context, warehouseID id.ID, from, to time.Time) ([]ledger.TurnoverRow, error) {
	query := `
		SELECT
			warehouse_id,
			item_id,
			COALESCE(SUM(quantity) FILTER (WHERE movement_date < $2), 0) AS opening,
			COALESCE(SUM(quantity) FILTER (WHERE movement_date >= $2 AND movement_date < $3 AND quantity > 0), 0) AS received,
			COALESCE(-SUM(quantity) FILTER (WHERE movement_date >= $2 AND movement_date < $3 AND quantity < 0), 0) AS issued,
			COALESCE(SUM(quantity) FILTER (WHERE movement_date < $3), 0) AS closing,
			COALESCE(SUM(amount) FILTER (WHERE movement_date >= $2 AND movement_date < $3), 0) AS amount
		FROM stock_movements
		WHERE warehouse_id = $1 AND movement_date < $3
		GROUP BY warehouse_id, item_id
		ORDER BY item_id
	`

	var rows []ledger.TurnoverRow
	err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &rows, query, warehouseID, from, to)
	if err != nil {
		return nil, fmt.Errorf("turnover: %w", err)
	}
	return rows, nil
}

// GetStock aggregates batch quantities into on-hand positions.
func (r *LedgerRepo) GetStock(ctx context.Context, warehouseID id.ID, itemID *id.ID) ([]ledger.StockRow, error) {
	q := r.builder().
		Select(
			"warehouse_id",
			"item_id",
			"COALESCE(SUM(quantity), 0) AS quantity",
			"COALESCE(SUM(reserved), 0) AS reserved",
			"COALESCE(SUM(quantity - reserved), 0) AS available",
		).
		From(batchTable).
		Where(sq.Eq{"deletion_mark": false}).
		Where(sq.Eq{"warehouse_id": warehouseID}).
		GroupBy("warehouse_id", "item_id").
		OrderBy("item_id")

	if itemID != nil {
		q = q.Where(sq.Eq{"item_id": *itemID})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var rows []ledger.StockRow
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("stock: %w", err)
	}
	return rows, nil
}
