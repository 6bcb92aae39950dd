package reports

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// TrialBalanceAccount represents a row inside a trial balance group. Exactly one
// of Debit or Credit is non-zero.
type TrialBalanceAccount struct {
	AccountID int64           `json:"account_id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Type      string          `json:"type"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
}

// TrialBalanceGroup aggregates accounts for presentation.
type TrialBalanceGroup struct {
	Key      string                `json:"key"`
	Accounts []TrialBalanceAccount `json:"accounts"`
	Debit    decimal.Decimal       `json:"debit"`
	Credit   decimal.Decimal       `json:"credit"`
}

// TrialBalance lists every account with a non-zero balance.
type TrialBalance struct {
	AsOf        *time.Time          `json:"as_of,omitempty"`
	Groups      []TrialBalanceGroup `json:"groups"`
	TotalDebit  decimal.Decimal     `json:"total_debit"`
	TotalCredit decimal.Decimal     `json:"total_credit"`
	IsBalanced  bool                `json:"is_balanced"`
}

// Rows flattens the groups in code order.
func (tb TrialBalance) Rows() []TrialBalanceAccount {
	var out []TrialBalanceAccount
	for _, grp := range tb.Groups {
		out = append(out, grp.Accounts...)
	}
	return out
}

// Row returns the row for the account code, if present.
func (tb TrialBalance) Row(code string) (TrialBalanceAccount, bool) {
	for _, grp := range tb.Groups {
		for _, row := range grp.Accounts {
			if row.Code == code {
				return row, true
			}
		}
	}
	return TrialBalanceAccount{}, false
}

// BuildTrialBalance converts account balances into grouped trial balance data.
// A debit-normal account with a positive net balance lands in the debit column
// and a negative one in the credit column; credit-normal accounts mirror that.
func BuildTrialBalance(accounts []AccountBalance, asOf *time.Time) TrialBalance {
	groups := make(map[string]*TrialBalanceGroup)
	keys := make([]string, 0)
	result := TrialBalance{AsOf: asOf}
	for _, acc := range accounts {
		net := acc.Net()
		if net.IsZero() {
			continue
		}
		row := TrialBalanceAccount{
			AccountID: acc.AccountID,
			Code:      acc.Code,
			Name:      acc.Name,
			Type:      acc.Type,
		}
		debitSide := (acc.NormalBalance != SideCredit) == net.IsPositive()
		if debitSide {
			row.Debit = net.Abs()
		} else {
			row.Credit = net.Abs()
		}

		key := acc.GroupKey()
		grp, ok := groups[key]
		if !ok {
			grp = &TrialBalanceGroup{Key: key}
			groups[key] = grp
			keys = append(keys, key)
		}
		grp.Accounts = append(grp.Accounts, row)
		grp.Debit = grp.Debit.Add(row.Debit)
		grp.Credit = grp.Credit.Add(row.Credit)
	}

	sort.Strings(keys)
	for _, key := range keys {
		grp := groups[key]
		sort.Slice(grp.Accounts, func(i, j int) bool {
			return grp.Accounts[i].Code < grp.Accounts[j].Code
		})
		result.Groups = append(result.Groups, *grp)
		result.TotalDebit = result.TotalDebit.Add(grp.Debit)
		result.TotalCredit = result.TotalCredit.Add(grp.Credit)
	}
	result.IsBalanced = withinTolerance(result.TotalDebit, result.TotalCredit)
	return result
}
