package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// copyRows bulk-inserts rows with the COPY protocol. It joins the
// transaction in ctx when there is one.
func copyRows(ctx context.Context, q Querier, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	n, err := q.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return n, fmt.Errorf("copy into %s: %w", table, err)
	}
	return n, nil
}

// batchQuery is one statement of a pipelined batch.
type batchQuery struct {
	SQL  string
	Args []any
}

// execBatch sends queries in a single round-trip and reports the first failure.
func execBatch(ctx context.Context, q Querier, queries []batchQuery) error {
	if len(queries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, bq := range queries {
		batch.Queue(bq.SQL, bq.Args...)
	}

	results := q.SendBatch(ctx, batch)
	defer results.Close()

	for i := range queries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch query %d failed: %w", i, err)
		}
	}
	return nil
}
