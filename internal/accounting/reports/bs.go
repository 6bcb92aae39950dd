package reports

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CurrentEarningsLabel names the computed equity line holding unclosed profit.
const CurrentEarningsLabel = "Current Earnings"

// BalanceSheetAccount summarises an account for assets, liabilities, or equity.
type BalanceSheetAccount struct {
	AccountID int64           `json:"account_id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
}

// BalanceSheetSection contains the accounts and totals for a classification.
type BalanceSheetSection struct {
	Label    string                `json:"label"`
	Accounts []BalanceSheetAccount `json:"accounts"`
	Total    decimal.Decimal       `json:"total"`
}

// BalanceSheet is the structured response for the balance sheet report.
type BalanceSheet struct {
	AsOf                      *time.Time          `json:"as_of,omitempty"`
	Assets                    BalanceSheetSection `json:"assets"`
	Liabilities               BalanceSheetSection `json:"liabilities"`
	Equity                    BalanceSheetSection `json:"equity"`
	CurrentEarnings           decimal.Decimal     `json:"current_earnings"`
	TotalLiabilitiesAndEquity decimal.Decimal     `json:"total_liabilities_and_equity"`
	IsBalanced                bool                `json:"is_balanced"`
}

// BuildBalanceSheet aggregates cumulative balances into assets, liabilities and
// equity. Revenue and expense accounts are folded into a Current Earnings
// equity line because the ledger has no closing entries.
func BuildBalanceSheet(accounts []AccountBalance, asOf *time.Time) BalanceSheet {
	assets := BalanceSheetSection{Label: "Assets"}
	liabilities := BalanceSheetSection{Label: "Liabilities"}
	equity := BalanceSheetSection{Label: "Equity"}
	earnings := decimal.Zero

	for _, acc := range accounts {
		balance := acc.Net()
		row := BalanceSheetAccount{AccountID: acc.AccountID, Code: acc.Code, Name: acc.Name, Balance: balance}
		switch strings.ToUpper(acc.Type) {
		case "ASSET":
			if balance.IsZero() {
				continue
			}
			assets.Accounts = append(assets.Accounts, row)
			assets.Total = assets.Total.Add(balance)
		case "LIABILITY":
			if balance.IsZero() {
				continue
			}
			liabilities.Accounts = append(liabilities.Accounts, row)
			liabilities.Total = liabilities.Total.Add(balance)
		case "EQUITY":
			if balance.IsZero() {
				continue
			}
			equity.Accounts = append(equity.Accounts, row)
			equity.Total = equity.Total.Add(balance)
		case "REVENUE":
			earnings = earnings.Add(balance)
		case "EXPENSE":
			earnings = earnings.Sub(balance)
		}
	}

	sort.Slice(assets.Accounts, func(i, j int) bool { return assets.Accounts[i].Code < assets.Accounts[j].Code })
	sort.Slice(liabilities.Accounts, func(i, j int) bool { return liabilities.Accounts[i].Code < liabilities.Accounts[j].Code })
	sort.Slice(equity.Accounts, func(i, j int) bool { return equity.Accounts[i].Code < equity.Accounts[j].Code })

	if !earnings.IsZero() {
		equity.Accounts = append(equity.Accounts, BalanceSheetAccount{Name: CurrentEarningsLabel, Balance: earnings})
		equity.Total = equity.Total.Add(earnings)
	}

	totalLE := liabilities.Total.Add(equity.Total)
	return BalanceSheet{
		AsOf:                      asOf,
		Assets:                    assets,
		Liabilities:               liabilities,
		Equity:                    equity,
		CurrentEarnings:           earnings,
		TotalLiabilitiesAndEquity: totalLE,
		IsBalanced:                withinTolerance(assets.Total, totalLE),
	}
}
