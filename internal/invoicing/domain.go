// Package invoicing issues tenant invoices with computed tax breakdowns and
// hands them to the ledger.
package invoicing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/tax"
)

// DefaultNumberBase is the first invoice number issued when the tenant has no
// numbering policy.
const DefaultNumberBase int64 = 1000

var (
	// ErrInvoiceLocked indicates the invoice is journaled and can no longer change.
	ErrInvoiceLocked = errors.New("invoicing: invoice already journaled")
	// ErrLedgerUnavailable indicates ledger posting was requested without a ledger.
	ErrLedgerUnavailable = errors.New("invoicing: ledger posting not configured")
)

// PostMode selects how a new invoice reaches the ledger.
type PostMode string

const (
	PostNone  PostMode = ""
	PostSync  PostMode = "sync"
	PostAsync PostMode = "async"
)

// Invoice is an issued sales invoice. Monetary fields hold two-decimal
// display values whose parts always add up to FinalValue.
type Invoice struct {
	ID             int64
	TenantID       int64
	Number         string
	CustomerName   string
	IssueDate      time.Time
	Currency       string
	SalesValue     decimal.Decimal
	HasDiscount    bool
	DiscountAmount decimal.Decimal
	VATRate        decimal.Decimal
	ProfitTaxRate  decimal.Decimal
	VAT            decimal.Decimal
	ProfitTax      decimal.Decimal
	FinalValue     decimal.Decimal
	JournalEntryID *int64
	CreatedBy      int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Journaled reports whether a ledger entry exists for the invoice.
func (i Invoice) Journaled() bool {
	return i.JournalEntryID != nil
}

// Totals returns the invoice breakdown as calculator output.
func (i Invoice) Totals() tax.InvoiceTotals {
	return tax.InvoiceTotals{
		SalesValue:     i.SalesValue,
		ProfitTax:      i.ProfitTax,
		VAT:            i.VAT,
		DiscountAmount: i.DiscountAmount,
		FinalValue:     i.FinalValue,
	}
}

func (i *Invoice) applyTotals(t tax.InvoiceTotals) {
	r := t.Rounded()
	i.SalesValue = r.SalesValue
	i.DiscountAmount = r.DiscountAmount
	i.VAT = r.VAT
	i.ProfitTax = r.ProfitTax
	i.FinalValue = r.FinalValue
}

// checkCents rejects amounts finer than one cent. Inputs are stored as given,
// never rounded on the caller's behalf.
func checkCents(field string, v decimal.Decimal) error {
	if !v.Round(2).Equal(v) {
		return shared.NewValidationError(field, "supports at most 2 decimal places")
	}
	return nil
}

func (i Invoice) settings() tax.Settings {
	return tax.Settings{TenantID: i.TenantID, DefaultVATRate: i.VATRate, ProfitTaxRate: i.ProfitTaxRate, Currency: i.Currency}
}

// CreateInput carries the fields of a new invoice.
type CreateInput struct {
	TenantID       int64           `validate:"required,gt=0"`
	CustomerName   string          `validate:"required,max=200"`
	IssueDate      time.Time       `validate:"required"`
	SalesValue     decimal.Decimal `validate:"-"`
	HasDiscount    bool
	DiscountAmount decimal.Decimal `validate:"-"`
	PostToLedger   PostMode        `validate:"omitempty,oneof=sync async"`
	Actor          shared.Actor    `validate:"-"`
}

// UpdateInput carries optional changes; nil fields are left untouched.
type UpdateInput struct {
	TenantID       int64 `validate:"required,gt=0"`
	ID             int64 `validate:"required,gt=0"`
	CustomerName   *string
	IssueDate      *time.Time
	SalesValue     *decimal.Decimal
	HasDiscount    *bool
	DiscountAmount *decimal.Decimal
	Actor          shared.Actor `validate:"-"`
}
