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
	"medledger/internal/domain/receipt"
)

const (
	importReceiptTable = "import_receipts"
	importLineTable    = "import_receipt_lines"
	exportReceiptTable = "export_receipts"
	exportLineTable    = "export_receipt_lines"
)

var (
	importReceiptColumns = ExtractDBColumns[receipt.ImportReceipt]()
	importLineColumns    = ExtractDBColumns[receipt.ImportLine]()
	exportReceiptColumns = ExtractDBColumns[receipt.ExportReceipt]()
	exportLineColumns    = ExtractDBColumns[receipt.ExportLine]()
)

var (
	_ receipt.ImportRepository = (*ImportReceiptRepo)(nil)
	_ receipt.ExportRepository = (*ExportReceiptRepo)(nil)
)

func receiptBuilder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
}

func applyReceiptFilter(q sq.SelectBuilder, f receipt.ListFilter) sq.SelectBuilder {
	q = q.Where(sq.Eq{"deletion_mark": false})
	if f.WarehouseID != nil {
		q = q.Where(sq.Eq{"warehouse_id": *f.WarehouseID})
	}
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": f.Status})
	}
	if f.From != nil {
		q = q.Where(sq.GtOrEq{"document_date": *f.From})
	}
	if f.To != nil {
		q = q.Where(sq.Lt{"document_date": *f.To})
	}
	return q
}

// --- Import receipts ---

// ImportReceiptRepo persists goods receipt documents and their lines.
type ImportReceiptRepo struct {
	txm *TxManager
}

// NewImportReceiptRepo creates the import receipt repository.
func NewImportReceiptRepo(txm *TxManager) *ImportReceiptRepo {
	return &ImportReceiptRepo{txm: txm}
}

func (r *ImportReceiptRepo) Create(ctx context.Context, doc *receipt.ImportReceipt) error {
	values := StructToMap(doc)

	query, args, err := receiptBuilder().
		Insert(importReceiptTable).
		SetMap(values).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, query, args...); err != nil {
		if IsUniqueViolation(err) {
			return apperror.NewConflict("import receipt number already exists").
				WithDetail("number", doc.Number).
				WithCause(err)
		}
		return fmt.Errorf("insert import receipt: %w", err)
	}

	return r.upsertLines(ctx, doc.ID, doc.Lines)
}

func (r *ImportReceiptRepo) GetByID(ctx context.Context, receiptID id.ID) (*receipt.ImportReceipt, error) {
	query, args, err := receiptBuilder().
		Select(importReceiptColumns...).
		From(importReceiptTable).
		Where(sq.Eq{"id": receiptID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var doc receipt.ImportReceipt
	err = pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &doc, query, args...)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("import receipt", receiptID.String())
		}
		return nil, fmt.Errorf("get import receipt: %w", err)
	}

	if err := r.loadLines(ctx, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *ImportReceiptRepo) Update(ctx context.Context, doc *receipt.ImportReceipt) error {
	values := StructToMap(doc)
	delete(values, "id")
	delete(values, "created_at")
	delete(values, "created_by")

	query, args, err := receiptBuilder().
		Update(importReceiptTable).
		SetMap(values).
		Where(sq.Eq{"id": doc.ID}).
		Where(sq.Eq{"version": doc.Version - 1}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, query, args...)
	if err != nil {
		if IsLockConflict(err) {
			return TranslateLockError(err, "import receipt", doc.ID.String())
		}
		return fmt.Errorf("update import receipt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewConcurrentModification("import receipt", doc.ID.String())
	}

	return r.upsertLines(ctx, doc.ID, doc.Lines)
}

// UpdateStatusIf performs the status transition as a compare-and-set.
func (r *ImportReceiptRepo) UpdateStatusIf(ctx context.Context, receiptID id.ID, from, to receipt.Status) (bool, error) {
	return receiptStatusCAS(ctx, r.txm, importReceiptTable, "import receipt", receiptID, from, to)
}

func (r *ImportReceiptRepo) List(ctx context.Context, f receipt.ListFilter) ([]*receipt.ImportReceipt, error) {
	q := applyReceiptFilter(receiptBuilder().Select(importReceiptColumns...).From(importReceiptTable), f).
		OrderBy("document_date DESC", "id DESC")

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

	var list []*receipt.ImportReceipt
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &list, query, args...); err != nil {
		return nil, fmt.Errorf("list import receipts: %w", err)
	}

	for _, doc := range list {
		if err := r.loadLines(ctx, doc); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (r *ImportReceiptRepo) Count(ctx context.Context, f receipt.ListFilter) (int64, error) {
	query, args, err := applyReceiptFilter(receiptBuilder().Select("COUNT(*)").From(importReceiptTable), f).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}

	var count int64
	if err := r.txm.GetQuerier(ctx).QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count import receipts: %w", err)
	}
	return count, nil
}

// upsertLines writes lines keyed by id so batch back-references stamped
// during approval land on the same rows.
func (r *ImportReceiptRepo) upsertLines(ctx context.Context, receiptID id.ID, lines []receipt.ImportLine) error {
	querier := r.txm.GetQuerier(ctx)
	for _, line := range lines {
		query, args, err := receiptBuilder().
			Insert(importLineTable).
			Columns("id", "receipt_id", "line_no", "item_id", "batch_number",
				"expiry_date", "manufacture_date", "quantity",
				"import_price", "unit_price", "batch_id", "note").
			Values(line.LineID, receiptID, line.LineNo, line.ItemID, line.BatchNumber,
				line.ExpiryDate, line.ManufactureDate, line.Quantity,
				line.ImportPrice, line.UnitPrice, line.BatchID, line.Note).
			Suffix(`ON CONFLICT (id) DO UPDATE SET
				quantity = EXCLUDED.quantity,
				import_price = EXCLUDED.import_price,
				unit_price = EXCLUDED.unit_price,
				batch_id = EXCLUDED.batch_id,
				note = EXCLUDED.note`).
			ToSql()
		if err != nil {
			return fmt.Errorf("build line upsert: %w", err)
		}
		if _, err := querier.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert import line: %w", err)
		}
	}
	return nil
}

func (r *ImportReceiptRepo) loadLines(ctx context.Context, doc *receipt.ImportReceipt) error {
	query, args, err := receiptBuilder().
		Select(importLineColumns...).
		From(importLineTable).
		Where(sq.Eq{"receipt_id": doc.ID}).
		OrderBy("line_no").
		ToSql()
	if err != nil {
		return fmt.Errorf("build line select: %w", err)
	}

	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &doc.Lines, query, args...); err != nil {
		return fmt.Errorf("load import lines: %w", err)
	}
	return nil
}

// --- Export receipts ---

// exportReceiptRow carries the reference columns the document keeps in a
// separate struct field.
type exportReceiptRow struct {
	receipt.ExportReceipt

	RefKind entity.ReferenceKind `db:"reference_kind"`
	RefID   id.ID                `db:"reference_id"`
	RefCode string               `db:"reference_code"`
}

func (row *exportReceiptRow) toDoc() *receipt.ExportReceipt {
	doc := row.ExportReceipt
	doc.Reference = entity.Reference{Kind: row.RefKind, RefID: row.RefID, Code: row.RefCode}
	return &doc
}

var exportReceiptRowColumns = append(append([]string{}, exportReceiptColumns...),
	"reference_kind", "reference_id", "reference_code")

// ExportReceiptRepo persists goods issue documents and their lines.
type ExportReceiptRepo struct {
	txm *TxManager
}

// NewExportReceiptRepo creates the export receipt repository.
func NewExportReceiptRepo(txm *TxManager) *ExportReceiptRepo {
	return &ExportReceiptRepo{txm: txm}
}

func (r *ExportReceiptRepo) Create(ctx context.Context, doc *receipt.ExportReceipt) error {
	values := StructToMap(doc)
	values["reference_kind"] = doc.Reference.Kind
	values["reference_id"] = doc.Reference.RefID
	values["reference_code"] = doc.Reference.Code

	query, args, err := receiptBuilder().
		Insert(exportReceiptTable).
		SetMap(values).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txm.GetQuerier(ctx).Exec(ctx, query, args...); err != nil {
		if IsUniqueViolation(err) {
			return apperror.NewConflict("export receipt number already exists").
				WithDetail("number", doc.Number).
				WithCause(err)
		}
		return fmt.Errorf("insert export receipt: %w", err)
	}

	return r.upsertLines(ctx, doc.ID, doc.Lines)
}

func (r *ExportReceiptRepo) GetByID(ctx context.Context, receiptID id.ID) (*receipt.ExportReceipt, error) {
	query, args, err := receiptBuilder().
		Select(exportReceiptRowColumns...).
		From(exportReceiptTable).
		Where(sq.Eq{"id": receiptID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var row exportReceiptRow
	err = pgxscan.Get(ctx, r.txm.GetQuerier(ctx), &row, query, args...)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("export receipt", receiptID.String())
		}
		return nil, fmt.Errorf("get export receipt: %w", err)
	}

	doc := row.toDoc()
	if err := r.loadLines(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (r *ExportReceiptRepo) Update(ctx context.Context, doc *receipt.ExportReceipt) error {
	values := StructToMap(doc)
	values["reference_kind"] = doc.Reference.Kind
	values["reference_id"] = doc.Reference.RefID
	values["reference_code"] = doc.Reference.Code
	delete(values, "id")
	delete(values, "created_at")
	delete(values, "created_by")

	query, args, err := receiptBuilder().
		Update(exportReceiptTable).
		SetMap(values).
		Where(sq.Eq{"id": doc.ID}).
		Where(sq.Eq{"version": doc.Version - 1}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.txm.GetQuerier(ctx).Exec(ctx, query, args...)
	if err != nil {
		if IsLockConflict(err) {
			return TranslateLockError(err, "export receipt", doc.ID.String())
		}
		return fmt.Errorf("update export receipt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewConcurrentModification("export receipt", doc.ID.String())
	}

	return r.upsertLines(ctx, doc.ID, doc.Lines)
}

// UpdateStatusIf performs the status transition as a compare-and-set.
func (r *ExportReceiptRepo) UpdateStatusIf(ctx context.Context, receiptID id.ID, from, to receipt.Status) (bool, error) {
	return receiptStatusCAS(ctx, r.txm, exportReceiptTable, "export receipt", receiptID, from, to)
}

func (r *ExportReceiptRepo) List(ctx context.Context, f receipt.ListFilter) ([]*receipt.ExportReceipt, error) {
	q := applyReceiptFilter(receiptBuilder().Select(exportReceiptRowColumns...).From(exportReceiptTable), f).
		OrderBy("document_date DESC", "id DESC")

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

	var rows []*exportReceiptRow
	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list export receipts: %w", err)
	}

	list := make([]*receipt.ExportReceipt, 0, len(rows))
	for _, row := range rows {
		doc := row.toDoc()
		if err := r.loadLines(ctx, doc); err != nil {
			return nil, err
		}
		list = append(list, doc)
	}
	return list, nil
}

func (r *ExportReceiptRepo) Count(ctx context.Context, f receipt.ListFilter) (int64, error) {
	query, args, err := applyReceiptFilter(receiptBuilder().Select("COUNT(*)").From(exportReceiptTable), f).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}

	var count int64
	if err := r.txm.GetQuerier(ctx).QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count export receipts: %w", err)
	}
	return count, nil
}

// upsertLines writes lines keyed by id so reservation back-references
// stamped during reserve/approve land on the same rows.
func (r *ExportReceiptRepo) upsertLines(ctx context.Context, receiptID id.ID, lines []receipt.ExportLine) error {
	querier := r.txm.GetQuerier(ctx)
	for _, line := range lines {
		query, args, err := receiptBuilder().
			Insert(exportLineTable).
			Columns("id", "receipt_id", "line_no", "item_id", "quantity",
				"reservation_id", "note").
			Values(line.LineID, receiptID, line.LineNo, line.ItemID, line.Quantity,
				line.ReservationID, line.Note).
			Suffix(`ON CONFLICT (id) DO UPDATE SET
				quantity = EXCLUDED.quantity,
				reservation_id = EXCLUDED.reservation_id,
				note = EXCLUDED.note`).
			ToSql()
		if err != nil {
			return fmt.Errorf("build line upsert: %w", err)
		}
		if _, err := querier.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert export line: %w", err)
		}
	}
	return nil
}

func (r *ExportReceiptRepo) loadLines(ctx context.Context, doc *receipt.ExportReceipt) error {
	query, args, err := receiptBuilder().
		Select(exportLineColumns...).
		From(exportLineTable).
		Where(sq.Eq{"receipt_id": doc.ID}).
		OrderBy("line_no").
		ToSql()
	if err != nil {
		return fmt.Errorf("build line select: %w", err)
	}

	if err := pgxscan.Select(ctx, r.txm.GetQuerier(ctx), &doc.Lines, query, args...); err != nil {
		return fmt.Errorf("load export lines: %w", err)
	}
	return nil
}

// receiptStatusCAS is the shared UPDATE ... WHERE status = from transition.
func receiptStatusCAS(ctx context.Context, txm *TxManager, table, entityName string, receiptID id.ID, from, to receipt.Status) (bool, error) {
	query, args, err := receiptBuilder().
		Update(table).
		Set("status", to).
		Set("updated_at", time.Now().UTC()).
		Set("version", sq.Expr("version + 1")).
		Where(sq.Eq{"id": receiptID}).
		Where(sq.Eq{"status": from}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build update: %w", err)
	}

	tag, err := txm.GetQuerier(ctx).Exec(ctx, query, args...)
	if err != nil {
		if IsLockConflict(err) {
			return false, TranslateLockError(err, entityName, receiptID.String())
		}
		return false, fmt.Errorf("update %s status: %w", entityName, err)
	}
	return tag.RowsAffected() == 1, nil
}
