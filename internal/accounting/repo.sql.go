package accounting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/sequence"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Repository persists accounting entities.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations. Every method is tenant scoped.
type TxRepository interface {
	GetAccount(ctx context.Context, tenantID, id int64) (Account, error)
	GetAccounts(ctx context.Context, tenantID int64, ids []int64) (map[int64]Account, error)
	GetAccountByCode(ctx context.Context, tenantID int64, code string) (Account, error)
	ListAccounts(ctx context.Context, tenantID int64) ([]Account, error)
	InsertAccount(ctx context.Context, a Account) (Account, error)
	NextEntryNumber(ctx context.Context, tenantID, base int64) (int64, error)
	InsertJournalEntry(ctx context.Context, e JournalEntry) (JournalEntry, error)
	InsertTransactions(ctx context.Context, tenantID, entryID int64, lines []Transaction) ([]Transaction, error)
	LinkSource(ctx context.Context, tenantID int64, sourceType string, sourceID uuid.UUID, entryID int64) error
	FindEntryBySource(ctx context.Context, tenantID int64, sourceType string, sourceID uuid.UUID) (JournalEntry, error)
	GetEntry(ctx context.Context, tenantID, id int64) (JournalEntry, error)
	GetEntryForUpdate(ctx context.Context, tenantID, id int64) (JournalEntry, error)
	MarkPosted(ctx context.Context, tenantID, id int64, postedBy *int64, at time.Time) error
	ListEntries(ctx context.Context, tenantID int64, filter EntryFilter) ([]JournalEntry, error)
	ListPostedTransactions(ctx context.Context, tenantID, accountID int64, asOf *time.Time) ([]Transaction, error)
	SumPostedActivity(ctx context.Context, tenantID int64, from, to *time.Time) ([]reports.AccountBalance, error)
	ListAccountMappings(ctx context.Context, tenantID int64, module string) ([]mappings.AccountMapping, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("accounting repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// ListTenantIDs returns every tenant that owns a chart of accounts.
func (r *Repository) ListTenantIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT tenant_id FROM accounts ORDER BY tenant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const accountColumns = `id, tenant_id, code, name, name_ar, type, category, normal_balance, parent_id, is_active, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.TenantID, &a.Code, &a.Name, &a.NameAr, &a.Type, &a.Category, &a.NormalBalance, &a.ParentID, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (r *txRepository) GetAccount(ctx context.Context, tenantID, id int64) (Account, error) {
	a, err := scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE tenant_id=$1 AND id=$2`, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, shared.NewNotFound("account", id)
		}
		return Account{}, err
	}
	return a, nil
}

func (r *txRepository) GetAccounts(ctx context.Context, tenantID int64, ids []int64) (map[int64]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE tenant_id=$1 AND id = ANY($2)`, tenantID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]Account, len(ids))
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	return out, rows.Err()
}

func (r *txRepository) GetAccountByCode(ctx context.Context, tenantID int64, code string) (Account, error) {
	a, err := scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE tenant_id=$1 AND code=$2`, tenantID, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, shared.NewNotFound("account", code)
		}
		return Account{}, err
	}
	return a, nil
}

func (r *txRepository) ListAccounts(ctx context.Context, tenantID int64) ([]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE tenant_id=$1 ORDER BY code`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *txRepository) InsertAccount(ctx context.Context, a Account) (Account, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO accounts (tenant_id, code, name, name_ar, type, category, normal_balance, parent_id, is_active)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id, created_at, updated_at`,
		a.TenantID, a.Code, a.Name, a.NameAr, a.Type, a.Category, a.NormalBalance, a.ParentID, a.IsActive).
		Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "uq_accounts_tenant_code") {
			return Account{}, ErrDuplicateAccount
		}
		return Account{}, err
	}
	return a, nil
}

func (r *txRepository) NextEntryNumber(ctx context.Context, tenantID, base int64) (int64, error) {
	return sequence.Next(ctx, r.tx, tenantID, sequence.JournalEntry, base)
}

func (r *txRepository) InsertJournalEntry(ctx context.Context, e JournalEntry) (JournalEntry, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (tenant_id, entry_number, date, description, source_type, source_id, status, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id, created_at, updated_at`,
		e.TenantID, e.EntryNumber, e.Date, e.Description, nullString(e.SourceType), nullUUID(e.SourceID), e.Status, nullInt(e.CreatedBy)).
		Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return JournalEntry{}, err
	}
	return e, nil
}

func (r *txRepository) InsertTransactions(ctx context.Context, tenantID, entryID int64, lines []Transaction) ([]Transaction, error) {
	out := make([]Transaction, 0, len(lines))
	for idx, line := range lines {
		line.EntryID = entryID
		err := r.tx.QueryRow(ctx, `INSERT INTO journal_transactions (tenant_id, entry_id, line_no, account_id, type, amount, description)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`, tenantID, entryID, idx+1, line.AccountID, line.Type, line.Amount, line.Description).
			Scan(&line.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, nil
}

func (r *txRepository) LinkSource(ctx context.Context, tenantID int64, sourceType string, sourceID uuid.UUID, entryID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO source_links (tenant_id, source_type, source_id, entry_id) VALUES ($1,$2,$3,$4)`, tenantID, sourceType, sourceID, entryID)
	if err != nil {
		if isUniqueViolation(err, "uq_source_links") {
			return ErrSourceConflict
		}
		return err
	}
	return nil
}

func (r *txRepository) FindEntryBySource(ctx context.Context, tenantID int64, sourceType string, sourceID uuid.UUID) (JournalEntry, error) {
	var entryID int64
	err := r.tx.QueryRow(ctx, `SELECT entry_id FROM source_links WHERE tenant_id=$1 AND source_type=$2 AND source_id=$3`, tenantID, sourceType, sourceID).Scan(&entryID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, shared.NewNotFound("source link", sourceType+":"+sourceID.String())
		}
		return JournalEntry{}, err
	}
	return r.GetEntry(ctx, tenantID, entryID)
}

const entryColumns = `id, tenant_id, entry_number, date, description, COALESCE(source_type, ''), source_id, status, COALESCE(created_by, 0), posted_by, posted_at, created_at, updated_at`

func scanEntry(row pgx.Row) (JournalEntry, error) {
	var (
		e        JournalEntry
		sourceID *uuid.UUID
	)
	err := row.Scan(&e.ID, &e.TenantID, &e.EntryNumber, &e.Date, &e.Description, &e.SourceType, &sourceID, &e.Status, &e.CreatedBy, &e.PostedBy, &e.PostedAt, &e.CreatedAt, &e.UpdatedAt)
	if sourceID != nil {
		e.SourceID = *sourceID
	}
	return e, err
}

func (r *txRepository) GetEntry(ctx context.Context, tenantID, id int64) (JournalEntry, error) {
	return r.getEntry(ctx, tenantID, id, "")
}

func (r *txRepository) GetEntryForUpdate(ctx context.Context, tenantID, id int64) (JournalEntry, error) {
	return r.getEntry(ctx, tenantID, id, " FOR UPDATE")
}

func (r *txRepository) getEntry(ctx context.Context, tenantID, id int64, lock string) (JournalEntry, error) {
	entry, err := scanEntry(r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE tenant_id=$1 AND id=$2`+lock, tenantID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, shared.NewNotFound("journal entry", id)
		}
		return JournalEntry{}, err
	}
	rows, err := r.tx.Query(ctx, `SELECT t.id, t.entry_id, t.account_id, t.type, t.amount, t.description, `+prefixed("a", accountColumns)+`
FROM journal_transactions t JOIN accounts a ON a.id = t.account_id
WHERE t.tenant_id=$1 AND t.entry_id=$2 ORDER BY t.line_no ASC`, tenantID, id)
	if err != nil {
		return JournalEntry{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			line Transaction
			a    Account
		)
		if err := rows.Scan(&line.ID, &line.EntryID, &line.AccountID, &line.Type, &line.Amount, &line.Description,
			&a.ID, &a.TenantID, &a.Code, &a.Name, &a.NameAr, &a.Type, &a.Category, &a.NormalBalance, &a.ParentID, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return JournalEntry{}, err
		}
		line.Account = &a
		entry.Lines = append(entry.Lines, line)
	}
	return entry, rows.Err()
}

func (r *txRepository) MarkPosted(ctx context.Context, tenantID, id int64, postedBy *int64, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status='POSTED', posted_by=$3, posted_at=$4, updated_at=NOW()
WHERE tenant_id=$1 AND id=$2 AND status='DRAFT'`, tenantID, id, postedBy, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrInvalidStatus
	}
	return nil
}

func (r *txRepository) ListEntries(ctx context.Context, tenantID int64, filter EntryFilter) ([]JournalEntry, error) {
	var (
		sb   strings.Builder
		args = []any{tenantID}
	)
	sb.WriteString(`SELECT ` + entryColumns + ` FROM journal_entries WHERE tenant_id=$1`)
	if filter.Status != "" {
		args = append(args, filter.Status)
		fmt.Fprintf(&sb, " AND status=$%d", len(args))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		fmt.Fprintf(&sb, " AND date >= $%d", len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		fmt.Fprintf(&sb, " AND date <= $%d", len(args))
	}
	sb.WriteString(" ORDER BY date DESC, id DESC")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	rows, err := r.tx.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *txRepository) ListPostedTransactions(ctx context.Context, tenantID, accountID int64, asOf *time.Time) ([]Transaction, error) {
	rows, err := r.tx.Query(ctx, `SELECT t.id, t.entry_id, t.account_id, t.type, t.amount, t.description
FROM journal_transactions t JOIN journal_entries e ON e.id = t.entry_id
WHERE t.tenant_id=$1 AND t.account_id=$2 AND e.status='POSTED' AND ($3::date IS NULL OR e.date <= $3::date)
ORDER BY e.date, t.id`, tenantID, accountID, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		var line Transaction
		if err := rows.Scan(&line.ID, &line.EntryID, &line.AccountID, &line.Type, &line.Amount, &line.Description); err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

// SumPostedActivity aggregates posted debits and credits per account in one
// scan instead of recomputing each account balance separately.
func (r *txRepository) SumPostedActivity(ctx context.Context, tenantID int64, from, to *time.Time) ([]reports.AccountBalance, error) {
	rows, err := r.tx.Query(ctx, `SELECT a.id, a.code, a.name, a.type, a.normal_balance, a.is_active,
	COALESCE(SUM(t.amount) FILTER (WHERE t.type='DEBIT'), 0),
	COALESCE(SUM(t.amount) FILTER (WHERE t.type='CREDIT'), 0)
FROM accounts a
LEFT JOIN journal_transactions t ON t.account_id = a.id AND t.tenant_id = a.tenant_id
	AND EXISTS (SELECT 1 FROM journal_entries e WHERE e.id = t.entry_id AND e.status='POSTED'
		AND ($2::date IS NULL OR e.date >= $2::date) AND ($3::date IS NULL OR e.date <= $3::date))
WHERE a.tenant_id=$1
GROUP BY a.id, a.code, a.name, a.type, a.normal_balance, a.is_active
ORDER BY a.code`, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []reports.AccountBalance
	for rows.Next() {
		var b reports.AccountBalance
		if err := rows.Scan(&b.AccountID, &b.Code, &b.Name, &b.Type, &b.NormalBalance, &b.IsActive, &b.Debit, &b.Credit); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *txRepository) ListAccountMappings(ctx context.Context, tenantID int64, module string) ([]mappings.AccountMapping, error) {
	rows, err := r.tx.Query(ctx, `SELECT tenant_id, module, key, account_id, created_at, updated_at
FROM account_mappings WHERE tenant_id=$1 AND module=$2`, tenantID, strings.ToUpper(module))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []mappings.AccountMapping
	for rows.Next() {
		var m mappings.AccountMapping
		if err := rows.Scan(&m.TenantID, &m.Module, &m.Key, &m.AccountID, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}

func nullString(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullUUID(val uuid.UUID) any {
	if val == uuid.Nil {
		return nil
	}
	return val
}
