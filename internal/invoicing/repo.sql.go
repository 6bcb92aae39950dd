package invoicing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/sequence"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Repository provides PostgreSQL backed persistence for invoices.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional invoice operations.
type TxRepository interface {
	NextNumber(ctx context.Context, tenantID, base int64) (int64, error)
	Insert(ctx context.Context, inv Invoice) (int64, error)
	Get(ctx context.Context, tenantID, id int64) (Invoice, error)
	GetForUpdate(ctx context.Context, tenantID, id int64) (Invoice, error)
	Update(ctx context.Context, inv Invoice) error
	// SetJournalEntry links the entry unless a link already exists and
	// reports whether it wrote one.
	SetJournalEntry(ctx context.Context, tenantID, id, entryID int64, at time.Time) (bool, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("invoicing repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

func (r *txRepo) NextNumber(ctx context.Context, tenantID, base int64) (int64, error) {
	return sequence.Next(ctx, r.tx, tenantID, sequence.Invoice, base)
}

func (r *txRepo) Insert(ctx context.Context, inv Invoice) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO invoices (tenant_id, number, customer_name, issue_date, currency, sales_value, has_discount, discount_amount,
	vat_rate, profit_tax_rate, vat, profit_tax, final_value, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16) RETURNING id`,
		inv.TenantID, inv.Number, inv.CustomerName, inv.IssueDate, inv.Currency, inv.SalesValue, inv.HasDiscount, inv.DiscountAmount,
		inv.VATRate, inv.ProfitTaxRate, inv.VAT, inv.ProfitTax, inv.FinalValue, inv.CreatedBy, inv.CreatedAt, inv.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert invoice: %w", err)
	}
	return id, nil
}

const invoiceColumns = `id, tenant_id, number, customer_name, issue_date, currency, sales_value, has_discount, discount_amount,
	vat_rate, profit_tax_rate, vat, profit_tax, final_value, journal_entry_id, created_by, created_at, updated_at`

func (r *txRepo) Get(ctx context.Context, tenantID, id int64) (Invoice, error) {
	return r.get(ctx, tenantID, id, "")
}

func (r *txRepo) GetForUpdate(ctx context.Context, tenantID, id int64) (Invoice, error) {
	return r.get(ctx, tenantID, id, " FOR UPDATE")
}

func (r *txRepo) get(ctx context.Context, tenantID, id int64, lock string) (Invoice, error) {
	var inv Invoice
	err := r.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE tenant_id=$1 AND id=$2`+lock, tenantID, id).Scan(
		&inv.ID, &inv.TenantID, &inv.Number, &inv.CustomerName, &inv.IssueDate, &inv.Currency, &inv.SalesValue, &inv.HasDiscount,
		&inv.DiscountAmount, &inv.VATRate, &inv.ProfitTaxRate, &inv.VAT, &inv.ProfitTax, &inv.FinalValue, &inv.JournalEntryID,
		&inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, shared.NewNotFound("invoice", id)
	}
	return inv, err
}

func (r *txRepo) Update(ctx context.Context, inv Invoice) error {
	tag, err := r.tx.Exec(ctx, `UPDATE invoices SET customer_name=$3, issue_date=$4, sales_value=$5, has_discount=$6, discount_amount=$7,
	vat=$8, profit_tax=$9, final_value=$10, updated_at=$11
WHERE tenant_id=$1 AND id=$2 AND journal_entry_id IS NULL`,
		inv.TenantID, inv.ID, inv.CustomerName, inv.IssueDate, inv.SalesValue, inv.HasDiscount, inv.DiscountAmount,
		inv.VAT, inv.ProfitTax, inv.FinalValue, inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceLocked
	}
	return nil
}

func (r *txRepo) SetJournalEntry(ctx context.Context, tenantID, id, entryID int64, at time.Time) (bool, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE invoices SET journal_entry_id=$3, updated_at=$4
WHERE tenant_id=$1 AND id=$2 AND journal_entry_id IS NULL`, tenantID, id, entryID, at)
	if err != nil {
		return false, fmt.Errorf("link invoice entry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
