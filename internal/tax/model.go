package tax

import "github.com/shopspring/decimal"

// Settings is the tenant tax configuration consumed by the calculator.
type Settings struct {
	TenantID          int64
	DefaultVATRate    decimal.Decimal
	ProfitTaxRate     decimal.Decimal
	Currency          string
	InvoicePrefix     string
	InvoiceNumberBase int64
}

// InvoiceInput is the raw sales value of an invoice.
type InvoiceInput struct {
	SalesValue     decimal.Decimal
	HasDiscount    bool
	DiscountAmount decimal.Decimal
}

// InvoiceTotals is the monetary breakdown of an invoice at full precision.
type InvoiceTotals struct {
	SalesValue     decimal.Decimal `json:"sales_value"`
	ProfitTax      decimal.Decimal `json:"profit_tax"`
	VAT            decimal.Decimal `json:"vat"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FinalValue     decimal.Decimal `json:"final_value"`
}

// Rounded returns the two-decimal display form. FinalValue is re-derived from
// the rounded parts so displayed components always add up.
func (t InvoiceTotals) Rounded() InvoiceTotals {
	out := InvoiceTotals{
		SalesValue:     t.SalesValue.Round(2),
		ProfitTax:      t.ProfitTax.Round(2),
		VAT:            t.VAT.Round(2),
		DiscountAmount: t.DiscountAmount.Round(2),
	}
	out.FinalValue = out.SalesValue.Add(out.VAT).Add(out.ProfitTax).Sub(out.DiscountAmount)
	return out
}
