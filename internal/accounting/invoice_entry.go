package accounting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/tax"
)

// DefaultInvoiceAccountCodes are the conventional chart codes used for invoice
// roles when the tenant has not mapped a role explicitly.
var DefaultInvoiceAccountCodes = map[string]string{
	mappings.RoleReceivable:       "1200",
	mappings.RoleRevenue:          "4100",
	mappings.RoleVATPayable:       "2100",
	mappings.RoleProfitTaxPayable: "2100",
	mappings.RoleSalesDiscount:    "4900",
}

var invoiceSourceNamespace = uuid.MustParse("8b0c3c61-3e0f-4c38-9a8e-2f1d7d0b9e41")

// InvoiceSourceID derives the stable source id linking an invoice to its entry.
func InvoiceSourceID(tenantID, invoiceID int64) uuid.UUID {
	return uuid.NewSHA1(invoiceSourceNamespace, []byte(fmt.Sprintf("invoice:%d:%d", tenantID, invoiceID)))
}

// InvoicePosting carries the invoice data needed to journal it.
type InvoicePosting struct {
	TenantID      int64
	InvoiceID     int64
	InvoiceNumber string
	Date          time.Time
	Totals        tax.InvoiceTotals
	Actor         shared.Actor
}

type invoiceLine struct {
	role   string
	side   EntryType
	amount decimal.Decimal
	memo   string
}

// CreateEntryFromInvoice derives a balanced draft entry from an invoice's tax
// breakdown: receivable is debited with the final value, revenue, VAT and
// profit tax are credited, and any discount is debited to sales discounts.
// Repeating the call for the same invoice returns ErrSourceAlreadyLinked.
func (s *Service) CreateEntryFromInvoice(ctx context.Context, posting InvoicePosting) (JournalEntry, error) {
	if posting.TenantID <= 0 || posting.InvoiceID <= 0 {
		return JournalEntry{}, shared.NewValidationError("invoice_id", "tenant and invoice id required")
	}
	if posting.Date.IsZero() {
		return JournalEntry{}, shared.NewValidationError("date", "required")
	}
	raw := posting.Totals
	expected := raw.SalesValue.Add(raw.VAT).Add(raw.ProfitTax).Sub(raw.DiscountAmount)
	if !decimalsEqual(expected, raw.FinalValue) {
		return JournalEntry{}, shared.NewValidationError("final_value", "%s does not match sales + vat + profit tax - discount (%s)", raw.FinalValue.StringFixed(2), expected.StringFixed(2))
	}
	totals := raw.Rounded()
	if totals.SalesValue.IsNegative() || totals.VAT.IsNegative() || totals.ProfitTax.IsNegative() || totals.DiscountAmount.IsNegative() || totals.FinalValue.IsNegative() {
		return JournalEntry{}, shared.NewValidationError("totals", "amounts must not be negative")
	}

	label := posting.InvoiceNumber
	if label == "" {
		label = fmt.Sprintf("#%d", posting.InvoiceID)
	}
	plan := []invoiceLine{
		{role: mappings.RoleReceivable, side: Debit, amount: totals.FinalValue, memo: "Receivable " + label},
		{role: mappings.RoleSalesDiscount, side: Debit, amount: totals.DiscountAmount, memo: "Discount " + label},
		{role: mappings.RoleRevenue, side: Credit, amount: totals.SalesValue, memo: "Sales " + label},
		{role: mappings.RoleVATPayable, side: Credit, amount: totals.VAT, memo: "VAT " + label},
		{role: mappings.RoleProfitTaxPayable, side: Credit, amount: totals.ProfitTax, memo: "Profit tax " + label},
	}

	input := CreateEntryInput{
		TenantID:    posting.TenantID,
		Date:        posting.Date,
		Description: "Invoice " + label,
		SourceType:  SourceInvoice,
		SourceID:    InvoiceSourceID(posting.TenantID, posting.InvoiceID),
		Actor:       posting.Actor,
	}

	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := ensureSourceFree(ctx, tx, posting.TenantID, input.SourceType, input.SourceID); err != nil {
			return err
		}
		rows, err := tx.ListAccountMappings(ctx, posting.TenantID, mappings.ModuleInvoice)
		if err != nil {
			return err
		}
		set := mappings.NewSet(mappings.ModuleInvoice, rows)
		input.Lines = input.Lines[:0]
		for _, line := range plan {
			if !line.amount.IsPositive() {
				continue
			}
			acc, err := s.resolveInvoiceAccount(ctx, tx, posting.TenantID, set, line.role)
			if err != nil {
				return err
			}
			input.Lines = append(input.Lines, LineInput{AccountID: acc.ID, Type: line.side, Amount: line.amount, Description: line.memo})
		}
		if len(input.Lines) == 0 {
			return shared.NewValidationError("totals", "invoice has no value to journal")
		}
		lines, err := s.prepareEntry(input)
		if err != nil {
			return err
		}
		entry, err = s.insertEntry(ctx, tx, input, lines, false)
		return err
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.afterCreate(ctx, entry, posting.Actor)
	return entry, nil
}

// resolveInvoiceAccount prefers the tenant's role mapping and falls back to
// the conventional chart code.
func (s *Service) resolveInvoiceAccount(ctx context.Context, tx TxRepository, tenantID int64, set mappings.Set, role string) (Account, error) {
	if id, ok := set.Lookup(role); ok {
		acc, err := tx.GetAccount(ctx, tenantID, id)
		if errors.Is(err, shared.ErrNotFound) {
			return Account{}, &AccountNotFoundError{Role: role, Code: fmt.Sprintf("id %d", id)}
		}
		return acc, err
	}
	code := s.cfg.InvoiceAccountCodes[role]
	if code == "" {
		return Account{}, &AccountNotFoundError{Role: role}
	}
	acc, err := tx.GetAccountByCode(ctx, tenantID, code)
	if errors.Is(err, shared.ErrNotFound) {
		return Account{}, &AccountNotFoundError{Role: role, Code: code}
	}
	return acc, err
}
