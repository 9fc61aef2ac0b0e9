package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"medledger/internal/core/apperror"
	"medledger/internal/core/id"
	"medledger/internal/domain/alert"
)

const (
	thresholdTable = "stock_thresholds"
	alertTable     = "alerts"
)

var (
	thresholdColumns = ExtractDBColumns[alert.Threshold]()
	alertColumns     = ExtractDBColumns[alert.Alert]()
)

var (
	_ alert.ThresholdRepository = (*ThresholdRepo)(nil)
	_ alert.AlertRepository     = (*AlertRepo)(nil)
)

// ThresholdRepo persists stock threshold configuration.
type ThresholdRepo struct {
	txm *TxManager
}

// NewThresholdRepo creates the threshold repository.
func NewThresholdRepo(txm *TxManager) *ThresholdRepo {
	return &ThresholdRepo{txm: txm}
}

func (r *ThresholdRepo) builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

func (r *ThresholdRepo) Create(ctx context.Context, t *alert.Threshold) error {
	values := StructToMap(t)

	query, args, err := r.builder().
		Insert(thresholdTable).
		SetMap(values).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, query, args...); err != nil {
		if IsUniqueViolation(err) {
			return apperror.NewConflict("threshold already exists for item and warehouse").
				WithDetail("item_id", t.ItemID.String()).
				WithCause(err)
		}
		return fmt.Errorf("insert threshold: %w", err)
	}
	return nil
}

func (r *ThresholdRepo) GetByID(ctx context.Context, thresholdID id.ID) (*alert.Threshold, error) {
	query, args, err := r.builder().
		Select(thresholdColumns...).
		From(thresholdTable).
		Where(sq.Eq{"id": thresholdID}).
		Where(sq.Eq{"deletion_mark": false}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var t alert.Threshold
	err = pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &t, query, args...)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("threshold", thresholdID.String())
		}
		return nil, fmt.Errorf("get threshold: %w", err)
	}
	return &t, nil
}

func (r *ThresholdRepo) Update(ctx context.Context, t *alert.Threshold) error {
	values := StructToMap(t)
	delete(values, "id")

	query, args, err := r.builder().
		Update(thresholdTable).
		SetMap(values).
		Where(sq.Eq{"id": t.ID}).
		Where(sq.Eq{"version": t.Version - 1}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update threshold: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewConcurrentModification("threshold", t.ID.String())
	}
	return nil
}

func (r *ThresholdRepo) Delete(ctx context.Context, thresholdID id.ID) error {
	query, args, err := r.builder().
		Update(thresholdTable).
		Set("deletion_mark", true).
		Set("version", sq.Expr("version + 1")).
		Where(sq.Eq{"id": thresholdID}).
		Where(sq.Eq{"deletion_mark": false}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete threshold: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("threshold", thresholdID.String())
	}
	return nil
}

func (r *ThresholdRepo) List(ctx context.Context, f alert.ThresholdFilter) ([]*alert.Threshold, error) {
	q := r.builder().
		Select(thresholdColumns...).
		From(thresholdTable).
		Where(sq.Eq{"deletion_mark": false}).
		OrderBy("item_id", "warehouse_id NULLS FIRST")

	if f.ItemID != nil {
		q = q.Where(sq.Eq{"item_id": *f.ItemID})
	}
	if f.WarehouseID != nil {
		q = q.Where(sq.Eq{"warehouse_id": *f.WarehouseID})
	}
	if f.ActiveOnly {
		q = q.Where(sq.Eq{"is_active": true})
	}
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

	var list []*alert.Threshold
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &list, query, args...); err != nil {
		return nil, fmt.Errorf("list thresholds: %w", err)
	}
	return list, nil
}

// AlertRepo persists monitoring alerts.
type AlertRepo struct {
	txm *TxManager
}

// NewAlertRepo creates the alert repository.
func NewAlertRepo(txm *TxManager) *AlertRepo {
	return &AlertRepo{txm: txm}
}

func (r *AlertRepo) builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

func (r *AlertRepo) Create(ctx context.Context, a *alert.Alert) error {
	values := StructToMap(a)

	query, args, err := r.builder().
		Insert(alertTable).
		SetMap(values).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (r *AlertRepo) GetByID(ctx context.Context, alertID id.ID) (*alert.Alert, error) {
	query, args, err := r.builder().
		Select(alertColumns...).
		From(alertTable).
		Where(sq.Eq{"id": alertID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var a alert.Alert
	err = pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &a, query, args...)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("alert", alertID.String())
		}
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return &a, nil
}

func (r *AlertRepo) Update(ctx context.Context, a *alert.Alert) error {
	values := StructToMap(a)
	delete(values, "id")

	query, args, err := r.builder().
		Update(alertTable).
		SetMap(values).
		Where(sq.Eq{"id": a.ID}).
		Where(sq.Eq{"version": a.Version - 1}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewConcurrentModification("alert", a.ID.String())
	}
	return nil
}

func (r *AlertRepo) List(ctx context.Context, f alert.AlertFilter) ([]*alert.Alert, error) {
	q := r.builder().
		Select(alertColumns...).
		From(alertTable).
		OrderBy("triggered_at DESC", "id DESC")

	if f.Kind != "" {
		q = q.Where(sq.Eq{"kind": f.Kind})
	}
	if f.Level != "" {
		q = q.Where(sq.Eq{"level": f.Level})
	}
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": f.Status})
	}
	if f.ItemID != nil {
		q = q.Where(sq.Eq{"item_id": *f.ItemID})
	}
	if f.WarehouseID != nil {
		q = q.Where(sq.Eq{"warehouse_id": *f.WarehouseID})
	}
	if f.OpenOnly {
		q = q.Where(sq.NotEq{"status": alert.StatusResolved})
	}
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

	var list []*alert.Alert
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &list, query, args...); err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return list, nil
}

func (r *AlertRepo) GetOpenStock(ctx context.Context, itemID id.ID, warehouseID *id.ID) (*alert.Alert, error) {
	q := r.builder().
		Select(alertColumns...).
		From(alertTable).
		Where(sq.Eq{"kind": alert.KindLowStock}).
		Where(sq.Eq{"item_id": itemID}).
		Where(sq.NotEq{"status": alert.StatusResolved}).
		Limit(1)

	// Nil matches the hospital-wide key, not any warehouse.
	if warehouseID != nil {
		q = q.Where(sq.Eq{"warehouse_id": *warehouseID})
	} else {
		q = q.Where(sq.Eq{"warehouse_id": nil})
	}

	return r.getOpen(ctx, q)
}

func (r *AlertRepo) GetOpenExpiry(ctx context.Context, batchID id.ID) (*alert.Alert, error) {
	q := r.builder().
		Select(alertColumns...).
		From(alertTable).
		Where(sq.Eq{"kind": alert.KindExpiry}).
		Where(sq.Eq{"batch_id": batchID}).
		Where(sq.NotEq{"status": alert.StatusResolved}).
		Limit(1)

	return r.getOpen(ctx, q)
}

func (r *AlertRepo) getOpen(ctx context.Context, q sq.SelectBuilder) (*alert.Alert, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var a alert.Alert
	err = pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &a, query, args...)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get open alert: %w", err)
	}
	return &a, nil
}
