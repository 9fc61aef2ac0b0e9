package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"medledger/internal/core/apperror"
	"medledger/internal/core/id"
	"medledger/internal/domain/adjustment"
)

const (
	adjustmentTable     = "adjustments"
	adjustmentLineTable = "adjustment_lines"
)

var (
	adjustmentColumns     = ExtractDBColumns[adjustment.Adjustment]()
	adjustmentLineColumns = ExtractDBColumns[adjustment.Line]()
)

var _ adjustment.Repository = (*AdjustmentRepo)(nil)

// AdjustmentRepo persists stocktake adjustments and their lines.
type AdjustmentRepo struct {
	txm *TxManager
}

// NewAdjustmentRepo creates the adjustment repository.
func NewAdjustmentRepo(txm *TxManager) *AdjustmentRepo {
	return &AdjustmentRepo{txm: txm}
}

func (r *AdjustmentRepo) builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

func (r *AdjustmentRepo) Create(ctx context.Context, a *adjustment.Adjustment) error {
	values := StructToMap(a)

	query, args, err := r.builder().
		Insert(adjustmentTable).
		SetMap(values).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, query, args...); err != nil {
		if IsUniqueViolation(err) {
			return apperror.NewConflict("adjustment number already exists").
				WithDetail("number", a.Number).
				WithCause(err)
		}
		return fmt.Errorf("insert adjustment: %w", err)
	}

	return r.replaceLines(ctx, a.ID, a.Lines)
}

func (r *AdjustmentRepo) GetByID(ctx context.Context, adjID id.ID) (*adjustment.Adjustment, error) {
	query, args, err := r.builder().
		Select(adjustmentColumns...).
		From(adjustmentTable).
		Where(sq.Eq{"id": adjID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var a adjustment.Adjustment
	err = pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &a, query, args...)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("adjustment", adjID.String())
		}
		return nil, fmt.Errorf("get adjustment: %w", err)
	}

	if err := r.loadLines(ctx, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Update persists header and line fields. Draft lines may be added or
// removed freely, so lines are replaced wholesale.
func (r *AdjustmentRepo) Update(ctx context.Context, a *adjustment.Adjustment) error {
	values := StructToMap(a)
	delete(values, "id")
	delete(values, "created_at")
	delete(values, "created_by")

	query, args, err := r.builder().
		Update(adjustmentTable).
		SetMap(values).
		Where(sq.Eq{"id": a.ID}).
		Where(sq.Eq{"version": a.Version - 1}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, query, args...)
	if err != nil {
		if IsLockConflict(err) {
			return TranslateLockError(err, "adjustment", a.ID.String())
		}
		return fmt.Errorf("update adjustment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewConcurrentModification("adjustment", a.ID.String())
	}

	return r.replaceLines(ctx, a.ID, a.Lines)
}

// UpdateStatusIf performs the status transition as a compare-and-set.
func (r *AdjustmentRepo) UpdateStatusIf(ctx context.Context, adjID id.ID, from, to adjustment.Status) (bool, error) {
	query, args, err := r.builder().
		Update(adjustmentTable).
		Set("status", to).
		Set("updated_at", time.Now().UTC()).
		Set("version", sq.Expr("version + 1")).
		Where(sq.Eq{"id": adjID}).
		Where(sq.Eq{"status": from}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build update: %w", err)
	}

	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, query, args...)
	if err != nil {
		if IsLockConflict(err) {
			return false, TranslateLockError(err, "adjustment", adjID.String())
		}
		return false, fmt.Errorf("update adjustment status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *AdjustmentRepo) List(ctx context.Context, f adjustment.ListFilter) ([]*adjustment.Adjustment, error) {
	q := r.applyFilter(r.builder().Select(adjustmentColumns...).From(adjustmentTable), f).
		OrderBy("created_at DESC", "id DESC")

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

	var list []*adjustment.Adjustment
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &list, query, args...); err != nil {
		return nil, fmt.Errorf("list adjustments: %w", err)
	}

	for _, a := range list {
		if err := r.loadLines(ctx, a); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (r *AdjustmentRepo) Count(ctx context.Context, f adjustment.ListFilter) (int64, error) {
	query, args, err := r.applyFilter(r.builder().Select("COUNT(*)").From(adjustmentTable), f).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}

	var count int64
	if err := r.txm.GetQuerier(ctx).QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count adjustments: %w", err)
	}
	return count, nil
}

func (r *AdjustmentRepo) applyFilter(q sq.SelectBuilder, f adjustment.ListFilter) sq.SelectBuilder {
	q = q.Where(sq.Eq{"deletion_mark": false})
	if f.WarehouseID != nil {
		q = q.Where(sq.Eq{"warehouse_id": *f.WarehouseID})
	}
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": f.Status})
	}
	if f.Type != "" {
		q = q.Where(sq.Eq{"type": f.Type})
	}
	if f.From != nil {
		q = q.Where(sq.GtOrEq{"created_at": *f.From})
	}
	if f.To != nil {
		q = q.Where(sq.Lt{"created_at": *f.To})
	}
	return q
}

func (r *AdjustmentRepo) replaceLines(ctx context.Context, adjID id.ID, lines []adjustment.Line) error {
	querier := r.txm.GetQuerier(ctx)

	delQuery, delArgs, err := r.builder().
		Delete(adjustmentLineTable).
		Where(sq.Eq{"adjustment_id": adjID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build line delete: %w", err)
	}
	if _, err := querier.Exec(ctx, delQuery, delArgs...); err != nil {
		return fmt.Errorf("delete adjustment lines: %w", err)
	}

	for _, line := range lines {
		query, args, err := r.builder().
			Insert(adjustmentLineTable).
			Columns("line_id", "adjustment_id", "line_no", "batch_id", "item_id",
				"batch_number", "system_quantity", "actual_quantity",
				"difference_quantity", "note").
			Values(line.LineID, adjID, line.LineNo, line.BatchID, line.ItemID,
				line.BatchNumber, line.SystemQuantity, line.ActualQuantity,
				line.DifferenceQuantity, line.Note).
			ToSql()
		if err != nil {
			return fmt.Errorf("build line insert: %w", err)
		}
		if _, err := querier.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("insert adjustment line: %w", err)
		}
	}
	return nil
}

func (r *AdjustmentRepo) loadLines(ctx context.Context, a *adjustment.Adjustment) error {
	query, args, err := r.builder().
		Select(adjustmentLineColumns...).
		From(adjustmentLineTable).
		Where(sq.Eq{"adjustment_id": a.ID}).
		OrderBy("line_no").
		ToSql()
	if err != nil {
		return fmt.Errorf("build line select: %w", err)
	}

	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &a.Lines, query, args...); err != nil {
		return fmt.Errorf("load adjustment lines: %w", err)
	}
	return nil
}
