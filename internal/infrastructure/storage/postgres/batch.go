package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// BatchInserter performs bulk inserts through the COPY protocol. Ledger
// posts fan one document out into many stock_movements rows; COPY keeps
// the round-trip count flat regardless of line count.
type BatchInserter struct {
	txManager *TxManager
}

// NewBatchInserter creates a new batch inserter.
func NewBatchInserter(txManager *TxManager) *BatchInserter {
	return &BatchInserter{txManager: txManager}
}

// CopyFromSlice inserts rows using the COPY protocol. Must run inside a
// transaction so a failed copy rolls back with the rest of the posting.
func (b *BatchInserter) CopyFromSlice(
	ctx context.Context,
	tableName string,
	columns []string,
	rows [][]any,
) (int64, error) {
	tx := b.txManager.GetTx(ctx)
	if tx == nil {
		return 0, fmt.Errorf("copy into %s requires an active transaction", tableName)
	}

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{tableName},
		columns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("copy into %s: %w", tableName, err)
	}

	return copyCount, nil
}

// BatchExecutor groups independent statements into a single round trip.
type BatchExecutor struct {
	txManager *TxManager
}

// NewBatchExecutor creates a new batch executor.
func NewBatchExecutor(txManager *TxManager) *BatchExecutor {
	return &BatchExecutor{txManager: txManager}
}

// BatchQuery represents one statement in a batch.
type BatchQuery struct {
	SQL  string
	Args []any
}

// Execute sends all queries in one batch and checks each result.
func (e *BatchExecutor) Execute(ctx context.Context, queries []BatchQuery) error {
	if len(queries) == 0 {
		return nil
	}

	tx := e.txManager.GetTx(ctx)
	if tx == nil {
		return fmt.Errorf("batch execute requires an active transaction")
	}

	batch := &pgx.Batch{}
	for _, q := range queries {
		batch.Queue(q.SQL, q.Args...)
	}

	results := tx.SendBatch(ctx, batch)
	defer results.Close()

	for i := range queries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch query %d: %w", i, err)
		}
	}

	return results.Close()
}
