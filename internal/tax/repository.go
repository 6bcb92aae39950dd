package tax

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// SettingsRepository loads tenant tax configuration.
type SettingsRepository interface {
	Get(ctx context.Context, tenantID int64) (Settings, error)
}

type settingsRepository struct {
	db       *pgxpool.Pool
	defaults Settings
}

// NewSettingsRepository returns a repository that falls back to defaults for
// tenants without a tenant_settings row.
func NewSettingsRepository(db *pgxpool.Pool, defaults Settings) SettingsRepository {
	return &settingsRepository{db: db, defaults: defaults}
}

func (r *settingsRepository) Get(ctx context.Context, tenantID int64) (Settings, error) {
	s := r.defaults
	s.TenantID = tenantID
	var (
		vat, profit      decimal.NullDecimal
		currency, prefix *string
		base             *int64
	)
	err := r.db.QueryRow(ctx, `SELECT default_vat_rate, profit_tax_rate, currency, invoice_prefix, invoice_number_base
FROM tenant_settings WHERE tenant_id=$1`, tenantID).Scan(&vat, &profit, &currency, &prefix, &base)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s, nil
		}
		return Settings{}, fmt.Errorf("tax: load settings: %w", err)
	}
	if vat.Valid {
		s.DefaultVATRate = vat.Decimal
	}
	if profit.Valid {
		s.ProfitTaxRate = profit.Decimal
	}
	if currency != nil && *currency != "" {
		s.Currency = *currency
	}
	if prefix != nil && *prefix != "" {
		s.InvoicePrefix = *prefix
	}
	if base != nil && *base > 0 {
		s.InvoiceNumberBase = *base
	}
	return s, nil
}
