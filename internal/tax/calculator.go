// Package tax computes invoice tax breakdowns from tenant configuration.
package tax

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

var hundred = decimal.NewFromInt(100)

// Calculator computes invoice totals. The zero value is ready to use and safe
// for concurrent callers.
type Calculator struct{}

// NewCalculator returns a Calculator.
func NewCalculator() Calculator {
	return Calculator{}
}

// CalculateInvoiceTotal derives VAT, profit tax, discount and final value.
func (Calculator) CalculateInvoiceTotal(in InvoiceInput, settings Settings) (InvoiceTotals, error) {
	if err := settings.Validate(); err != nil {
		return InvoiceTotals{}, err
	}
	if in.SalesValue.IsNegative() {
		return InvoiceTotals{}, shared.NewValidationError("sales_value", "must not be negative")
	}
	discount := decimal.Zero
	if in.HasDiscount {
		if in.DiscountAmount.IsNegative() {
			return InvoiceTotals{}, shared.NewValidationError("discount_amount", "must not be negative")
		}
		discount = in.DiscountAmount
	}

	profitTax := in.SalesValue.Mul(settings.ProfitTaxRate).Div(hundred)
	vat := in.SalesValue.Mul(settings.DefaultVATRate).Div(hundred)
	gross := in.SalesValue.Add(vat).Add(profitTax)
	if discount.GreaterThan(gross) {
		return InvoiceTotals{}, shared.NewValidationError("discount_amount", "exceeds invoice gross %s", gross.StringFixed(2))
	}

	return InvoiceTotals{
		SalesValue:     in.SalesValue,
		ProfitTax:      profitTax,
		VAT:            vat,
		DiscountAmount: discount,
		FinalValue:     gross.Sub(discount),
	}, nil
}

// Validate checks that both rates lie within [0, 100].
func (s Settings) Validate() error {
	if s.DefaultVATRate.IsNegative() || s.DefaultVATRate.GreaterThan(hundred) {
		return shared.NewValidationError("vat_rate", "must be between 0 and 100")
	}
	if s.ProfitTaxRate.IsNegative() || s.ProfitTaxRate.GreaterThan(hundred) {
		return shared.NewValidationError("profit_tax_rate", "must be between 0 and 100")
	}
	return nil
}
