// Package reports builds trial balance, income statement and balance sheet
// structures from per-account posted activity.
package reports

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Tolerance is the maximum drift accepted when comparing report totals.
var Tolerance = decimal.New(1, -2)

// Normal balance sides, matching accounting.EntryType values.
const (
	SideDebit  = "DEBIT"
	SideCredit = "CREDIT"
)

// AccountBalance aggregates the posted debits and credits of one account.
type AccountBalance struct {
	AccountID     int64           `json:"account_id"`
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	Type          string          `json:"type"`
	NormalBalance string          `json:"normal_balance"`
	IsActive      bool            `json:"is_active"`
	Debit         decimal.Decimal `json:"debit"`
	Credit        decimal.Decimal `json:"credit"`
}

// Net returns the balance in the account's natural direction. A positive value
// means the account carries a balance on its normal side.
func (a AccountBalance) Net() decimal.Decimal {
	if strings.EqualFold(a.NormalBalance, SideCredit) {
		return a.Credit.Sub(a.Debit)
	}
	return a.Debit.Sub(a.Credit)
}

// GroupKey returns a key used for grouping trial balance rows.
func (a AccountBalance) GroupKey() string {
	if idx := strings.Index(a.Code, "."); idx > 0 {
		return a.Code[:idx]
	}
	if len(a.Code) >= 2 {
		return a.Code[:2]
	}
	return a.Code
}

func withinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}
