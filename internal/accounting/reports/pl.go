package reports

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// IncomeStatementAccount represents a revenue or expense account summary.
type IncomeStatementAccount struct {
	AccountID int64           `json:"account_id"`
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Amount    decimal.Decimal `json:"amount"`
}

// IncomeStatementSection groups accounts by nature.
type IncomeStatementSection struct {
	Label    string                   `json:"label"`
	Accounts []IncomeStatementAccount `json:"accounts"`
	Total    decimal.Decimal          `json:"total"`
}

// IncomeStatement contains the structured output for the report.
type IncomeStatement struct {
	Start     time.Time              `json:"start"`
	End       time.Time              `json:"end"`
	Revenue   IncomeStatementSection `json:"revenue"`
	Expense   IncomeStatementSection `json:"expense"`
	NetIncome decimal.Decimal        `json:"net_income"`
}

// BuildIncomeStatement aggregates period activity into revenue and expense sections.
func BuildIncomeStatement(accounts []AccountBalance, start, end time.Time) IncomeStatement {
	revenue := IncomeStatementSection{Label: "Revenue"}
	expense := IncomeStatementSection{Label: "Expense"}

	for _, acc := range accounts {
		amount := acc.Net()
		if amount.IsZero() {
			continue
		}
		row := IncomeStatementAccount{AccountID: acc.AccountID, Code: acc.Code, Name: acc.Name, Amount: amount}
		switch strings.ToUpper(acc.Type) {
		case "REVENUE":
			revenue.Accounts = append(revenue.Accounts, row)
			revenue.Total = revenue.Total.Add(amount)
		case "EXPENSE":
			expense.Accounts = append(expense.Accounts, row)
			expense.Total = expense.Total.Add(amount)
		}
	}

	sort.Slice(revenue.Accounts, func(i, j int) bool { return revenue.Accounts[i].Code < revenue.Accounts[j].Code })
	sort.Slice(expense.Accounts, func(i, j int) bool { return expense.Accounts[i].Code < expense.Accounts[j].Code })

	return IncomeStatement{
		Start:     start,
		End:       end,
		Revenue:   revenue,
		Expense:   expense,
		NetIncome: revenue.Total.Sub(expense.Total),
	}
}
