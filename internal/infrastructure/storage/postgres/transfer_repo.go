package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"medledger/internal/core/apperror"
	"medledger/internal/core/id"
	"medledger/internal/domain/transfer"
)

const (
	transferTable     = "transfers"
	transferLineTable = "transfer_lines"
)

var (
	transferColumns     = ExtractDBColumns[transfer.Transfer]()
	transferLineColumns = ExtractDBColumns[transfer.Line]()
)

var _ transfer.Repository = (*TransferRepo)(nil)

// TransferRepo persists inter-warehouse transfers and their lines.
type TransferRepo struct {
	txm *TxManager
}

// NewTransferRepo creates the transfer repository.
func NewTransferRepo(txm *TxManager) *TransferRepo {
	return &TransferRepo{txm: txm}
}

func (r *TransferRepo) builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

func (r *TransferRepo) Create(ctx context.Context, t *transfer.Transfer) error {
	values := StructToMap(t)

	query, args, err := r.builder().
		Insert(transferTable).
		SetMap(values).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	querier := r.txm.GetQuerier(ctx)
	if _, err := querier.Exec(ctx, query, args...); err != nil {
		if IsUniqueViolation(err) {
			return apperror.NewConflict("transfer number already exists").
				WithDetail("number", t.Number).
				WithCause(err)
		}
		return fmt.Errorf("insert transfer: %w", err)
	}

	return r.upsertLines(ctx, t.ID, t.Lines)
}

func (r *TransferRepo) GetByID(ctx context.Context, transferID id.ID) (*transfer.Transfer, error) {
	return r.getOne(ctx, sq.Eq{"id": transferID}, transferID.String())
}

func (r *TransferRepo) GetByNumber(ctx context.Context, number string) (*transfer.Transfer, error) {
	return r.getOne(ctx, sq.Eq{"number": number}, number)
}

func (r *TransferRepo) getOne(ctx context.Context, where sq.Eq, key string) (*transfer.Transfer, error) {
	query, args, err := r.builder().
		Select(transferColumns...).
		From(transferTable).
		Where(where).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var t transfer.Transfer
	err = pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &t, query, args...)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("transfer", key)
		}
		return nil, fmt.Errorf("get transfer: %w", err)
	}

	if err := r.loadLines(ctx, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Update persists header fields and line quantities. The caller has
// already called Touch, so the version check runs against the previous
// version.
func (r *TransferRepo) Update(ctx context.Context, t *transfer.Transfer) error {
	values := StructToMap(t)
	delete(values, "id")
	delete(values, "created_at")
	delete(values, "created_by")

	query, args, err := r.builder().
		Update(transferTable).
		SetMap(values).
		Where(sq.Eq{"id": t.ID}).
		Where(sq.Eq{"version": t.Version - 1}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, query, args...)
	if err != nil {
		if IsLockConflict(err) {
			return TranslateLockError(err, "transfer", t.ID.String())
		}
		return fmt.Errorf("update transfer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewConcurrentModification("transfer", t.ID.String())
	}

	return r.upsertLines(ctx, t.ID, t.Lines)
}

func (r *TransferRepo) List(ctx context.Context, f transfer.ListFilter) ([]*transfer.Transfer, error) {
	q := r.applyFilter(r.builder().Select(transferColumns...).From(transferTable), f).
		OrderBy("requested_at DESC", "id DESC")

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

	var list []*transfer.Transfer
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &list, query, args...); err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}

	for _, t := range list {
		if err := r.loadLines(ctx, t); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (r *TransferRepo) Count(ctx context.Context, f transfer.ListFilter) (int64, error) {
	query, args, err := r.applyFilter(r.builder().Select("COUNT(*)").From(transferTable), f).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}

	var count int64
	if err := r.txm.GetQuerier(ctx).QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count transfers: %w", err)
	}
	return count, nil
}

func (r *TransferRepo) applyFilter(q sq.SelectBuilder, f transfer.ListFilter) sq.SelectBuilder {
	q = q.Where(sq.Eq{"deletion_mark": false})
	if f.SourceWarehouseID != nil {
		q = q.Where(sq.Eq{"source_warehouse_id": *f.SourceWarehouseID})
	}
	if f.DestWarehouseID != nil {
		q = q.Where(sq.Eq{"dest_warehouse_id": *f.DestWarehouseID})
	}
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": f.Status})
	}
	if f.From != nil {
		q = q.Where(sq.GtOrEq{"requested_at": *f.From})
	}
	if f.To != nil {
		q = q.Where(sq.Lt{"requested_at": *f.To})
	}
	return q
}

// upsertLines writes lines keyed by line_id so quantities recorded
// during deliver/receive land on the same rows.
func (r *TransferRepo) upsertLines(ctx context.Context, transferID id.ID, lines []transfer.Line) error {
	querier := r.txm.GetQuerier(ctx)
	for _, line := range lines {
		query, args, err := r.builder().
			Insert(transferLineTable).
			Columns("line_id", "transfer_id", "line_no", "item_id",
				"requested", "delivered", "received", "reservation_id", "note").
			Values(line.LineID, transferID, line.LineNo, line.ItemID,
				line.Requested, line.Delivered, line.Received, line.ReservationID, line.Note).
			Suffix(`ON CONFLICT (line_id) DO UPDATE SET
				requested = EXCLUDED.requested,
				delivered = EXCLUDED.delivered,
				received = EXCLUDED.received,
				reservation_id = EXCLUDED.reservation_id,
				note = EXCLUDED.note`).
			ToSql()
		if err != nil {
			return fmt.Errorf("build line upsert: %w", err)
		}
		if _, err := querier.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert transfer line: %w", err)
		}
	}
	return nil
}

func (r *TransferRepo) loadLines(ctx context.Context, t *transfer.Transfer) error {
	query, args, err := r.builder().
		Select(transferLineColumns...).
		From(transferLineTable).
		Where(sq.Eq{"transfer_id": t.ID}).
		OrderBy("line_no").
		ToSql()
	if err != nil {
		return fmt.Errorf("build line select: %w", err)
	}

	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &t.Lines, query, args...); err != nil {
		return fmt.Errorf("load transfer lines: %w", err)
	}
	return nil
}
