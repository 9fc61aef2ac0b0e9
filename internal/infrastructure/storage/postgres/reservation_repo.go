package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"medledger/internal/core/apperror"
	"medledger/internal/core/id"
	"medledger/internal/domain/reservation"
)

const (
	reservationTable     = "reservations"
	reservationLineTable = "reservation_lines"
)

var (
	reservationColumns     = ExtractDBColumns[reservation.Reservation]()
	reservationLineColumns = ExtractDBColumns[reservation.Line]()
)

var _ reservation.Repository = (*ReservationRepo)(nil)

// ReservationRepo persists reservations and their batch lines.
type ReservationRepo struct {
	txm      *TxManager
	executor *BatchExecutor
}

// NewReservationRepo creates the reservation repository.
func NewReservationRepo(txm *TxManager) *ReservationRepo {
	return &ReservationRepo{
		txm:      txm,
		executor: NewBatchExecutor(txm),
	}
}

func (r *ReservationRepo) builder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

// Create inserts the reservation header and its lines. Must run inside
// the transaction that reserved the batch quantities.
func (r *ReservationRepo) Create(ctx context.Context, res *reservation.Reservation) error {
	values := StructToMap(res)

	query, args, err := r.builder().
		Insert(reservationTable).
		SetMap(values).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	querier := r.txm.GetQuerier(ctx)
	if _, err := querier.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}

	lineInserts := make([]BatchQuery, 0, len(res.Lines))
	for _, line := range res.Lines {
		lineQuery, lineArgs, err := r.builder().
			Insert(reservationLineTable).
			Columns("id", "reservation_id", "batch_id", "batch_number", "quantity").
			Values(line.ID, res.ID, line.BatchID, line.BatchNumber, line.Quantity).
			ToSql()
		if err != nil {
			return fmt.Errorf("build line insert: %w", err)
		}
		lineInserts = append(lineInserts, BatchQuery{SQL: lineQuery, Args: lineArgs})
	}

	if err := r.executor.Execute(ctx, lineInserts); err != nil {
		return fmt.Errorf("insert reservation lines: %w", err)
	}
	return nil
}

func (r *ReservationRepo) GetByID(ctx context.Context, resID id.ID) (*reservation.Reservation, error) {
	query, args, err := r.builder().
		Select(reservationColumns...).
		From(reservationTable).
		Where(sq.Eq{"id": resID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var res reservation.Reservation
	err = pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &res, query, args...)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("reservation", resID.String())
		}
		return nil, fmt.Errorf("get reservation: %w", err)
	}

	if err := r.loadLines(ctx, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *ReservationRepo) ListByReference(ctx context.Context, refID id.ID) ([]*reservation.Reservation, error) {
	query, args, err := r.builder().
		Select(reservationColumns...).
		From(reservationTable).
		Where(sq.Eq{"reference_id": refID}).
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var list []*reservation.Reservation
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &list, query, args...); err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}

	for _, res := range list {
		if err := r.loadLines(ctx, res); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// ListActiveDue feeds the expiry sweeper: active holds past their TTL,
// oldest first.
func (r *ReservationRepo) ListActiveDue(ctx context.Context, before time.Time, limit int) ([]*reservation.Reservation, error) {
	query, args, err := r.builder().
		Select(reservationColumns...).
		From(reservationTable).
		Where(sq.Eq{"status": reservation.StatusActive}).
		Where(sq.Lt{"expires_at": before}).
		OrderBy("expires_at ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var list []*reservation.Reservation
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &list, query, args...); err != nil {
		return nil, fmt.Errorf("list due reservations: %w", err)
	}

	for _, res := range list {
		if err := r.loadLines(ctx, res); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// ResolveIf performs the status transition as a compare-and-set. A false
// return means another resolver won the race.
func (r *ReservationRepo) ResolveIf(ctx context.Context, resID id.ID, from, to reservation.Status, resolvedAt time.Time) (bool, error) {
	query, args, err := r.builder().
		Update(reservationTable).
		Set("status", to).
		Set("resolved_at", resolvedAt).
		Set("updated_at", resolvedAt).
		Set("version", sq.Expr("version + 1")).
		Where(sq.Eq{"id": resID}).
		Where(sq.Eq{"status": from}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build update: %w", err)
	}

	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, query, args...)
	if err != nil {
		if IsLockConflict(err) {
			return false, TranslateLockError(err, "reservation", resID.String())
		}
		return false, fmt.Errorf("resolve reservation: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// buildLineSelect loads a reservation's lines. Line ids are UUIDv7 minted
// in plan order at reserve time, so ordering by id restores the issuance
// order consume draws in.
func buildLineSelect(resID id.ID) (string, []any, error) {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Select(reservationLineColumns...).
		From(reservationLineTable).
		Where(sq.Eq{"reservation_id": resID}).
		OrderBy("id").
		ToSql()
}

func (r *ReservationRepo) loadLines(ctx context.Context, res *reservation.Reservation) error {
	query, args, err := buildLineSelect(res.ID)
	if err != nil {
		return fmt.Errorf("build line select: %w", err)
	}

	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &res.Lines, query, args...); err != nil {
		return fmt.Errorf("load reservation lines: %w", err)
	}
	return nil
}
