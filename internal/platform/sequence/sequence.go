// Package sequence allocates per-tenant document numbers.
package sequence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Well-known sequence names.
const (
	JournalEntry = "JOURNAL_ENTRY"
	Invoice      = "INVOICE"
)

// Querier is satisfied by pgx.Tx, *pgxpool.Pool and *pgx.Conn.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Next atomically increments the named counter and returns the new value.
// The first call for a tenant returns start. Run inside the caller's
// transaction, a rolled-back insert releases its number. Under RepeatableRead
// a concurrent caller that loses the row lock fails with SQLSTATE 40001;
// db.WithTx reruns that transaction, so numbers stay unique and gapless.
func Next(ctx context.Context, q Querier, tenantID int64, name string, start int64) (int64, error) {
	if tenantID == 0 {
		return 0, errors.New("sequence: tenant required")
	}
	if name == "" {
		return 0, errors.New("sequence: name required")
	}
	var next int64
	err := q.QueryRow(ctx, `INSERT INTO ledger_sequences (tenant_id, name, last_number)
VALUES ($1, $2, $3)
ON CONFLICT (tenant_id, name) DO UPDATE SET last_number = ledger_sequences.last_number + 1, updated_at = NOW()
RETURNING last_number`, tenantID, name, start).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("sequence: next %s: %w", name, err)
	}
	return next, nil
}

// Format renders a document number such as JE-1000.
func Format(prefix string, n int64) string {
	if prefix == "" {
		return fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("%s-%d", prefix, n)
}
