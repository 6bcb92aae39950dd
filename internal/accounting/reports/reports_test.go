package reports

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/odyssey-erp/odyssey-ledger/testing"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func invoiceActivity() []AccountBalance {
	return []AccountBalance{
		{AccountID: 1, Code: "1200", Name: "Accounts Receivable", Type: "ASSET", NormalBalance: SideDebit, Debit: d("1165")},
		{AccountID: 2, Code: "4100", Name: "Sales Revenue", Type: "REVENUE", NormalBalance: SideCredit, Credit: d("1000")},
		{AccountID: 3, Code: "2100", Name: "VAT Payable", Type: "LIABILITY", NormalBalance: SideCredit, Credit: d("165")},
		{AccountID: 4, Code: "1100", Name: "Cash", Type: "ASSET", NormalBalance: SideDebit},
	}
}

func TestBuildTrialBalance(t *testing.T) {
	tb := BuildTrialBalance(invoiceActivity(), nil)

	require.True(t, tb.IsBalanced)
	assert.True(t, tb.TotalDebit.Equal(d("1165")))
	assert.True(t, tb.TotalCredit.Equal(d("1165")))
	assert.Len(t, tb.Rows(), 3, "zero balances are omitted")

	ar, ok := tb.Row("1200")
	require.True(t, ok)
	assert.True(t, ar.Debit.Equal(d("1165")))
	assert.True(t, ar.Credit.IsZero())

	vat, ok := tb.Row("2100")
	require.True(t, ok)
	assert.True(t, vat.Credit.Equal(d("165")))

	_, ok = tb.Row("1100")
	assert.False(t, ok)
}

func TestBuildTrialBalanceGroupsByPrefix(t *testing.T) {
	tb := BuildTrialBalance(invoiceActivity(), nil)
	keys := make([]string, 0, len(tb.Groups))
	for _, grp := range tb.Groups {
		keys = append(keys, grp.Key)
	}
	assert.Equal(t, []string{"12", "21", "41"}, keys)
}

func TestBuildTrialBalanceContraBalanceSwitchesColumn(t *testing.T) {
	accounts := []AccountBalance{
		{Code: "1100", Name: "Bank", Type: "ASSET", NormalBalance: SideDebit, Debit: d("50"), Credit: d("80")},
		{Code: "3000", Name: "Capital", Type: "EQUITY", NormalBalance: SideCredit, Debit: d("30")},
	}
	tb := BuildTrialBalance(accounts, nil)

	bank, ok := tb.Row("1100")
	require.True(t, ok)
	assert.True(t, bank.Credit.Equal(d("30")), "overdrawn asset shows as credit")
	capital, ok := tb.Row("3000")
	require.True(t, ok)
	assert.True(t, capital.Debit.Equal(d("30")))
	assert.True(t, tb.IsBalanced)
}

func TestBuildTrialBalanceDetectsImbalance(t *testing.T) {
	accounts := []AccountBalance{
		{Code: "1100", Type: "ASSET", NormalBalance: SideDebit, Debit: d("100")},
		{Code: "4100", Type: "REVENUE", NormalBalance: SideCredit, Credit: d("99.98")},
	}
	assert.False(t, BuildTrialBalance(accounts, nil).IsBalanced)

	accounts[1].Credit = d("99.99")
	assert.True(t, BuildTrialBalance(accounts, nil).IsBalanced, "0.01 drift is tolerated")
}

func TestBuildIncomeStatement(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	accounts := []AccountBalance{
		{Code: "4000", Name: "Sales", Type: "REVENUE", NormalBalance: SideCredit, Credit: d("1200")},
		{Code: "5000", Name: "COGS", Type: "EXPENSE", NormalBalance: SideDebit, Debit: d("300")},
		{Code: "5100", Name: "Marketing", Type: "EXPENSE", NormalBalance: SideDebit, Debit: d("200")},
		{Code: "1100", Name: "Cash", Type: "ASSET", NormalBalance: SideDebit, Debit: d("700")},
	}

	is := BuildIncomeStatement(accounts, start, end)
	assert.True(t, is.Revenue.Total.Equal(d("1200")))
	assert.True(t, is.Expense.Total.Equal(d("500")))
	assert.True(t, is.NetIncome.Equal(d("700")))
	assert.Len(t, is.Expense.Accounts, 2)
	assert.Equal(t, "5000", is.Expense.Accounts[0].Code)
	assert.Equal(t, start, is.Start)
}

func TestBuildBalanceSheetIncludesCurrentEarnings(t *testing.T) {
	bs := BuildBalanceSheet(invoiceActivity(), nil)

	assert.True(t, bs.Assets.Total.Equal(d("1165")))
	assert.True(t, bs.Liabilities.Total.Equal(d("165")))
	assert.True(t, bs.CurrentEarnings.Equal(d("1000")))
	assert.True(t, bs.Equity.Total.Equal(d("1000")))
	assert.True(t, bs.TotalLiabilitiesAndEquity.Equal(d("1165")))
	assert.True(t, bs.IsBalanced)

	last := bs.Equity.Accounts[len(bs.Equity.Accounts)-1]
	assert.Equal(t, CurrentEarningsLabel, last.Name)
}

func TestBuildBalanceSheetWithCapital(t *testing.T) {
	accounts := []AccountBalance{
		{Code: "1000", Name: "Cash", Type: "ASSET", NormalBalance: SideDebit, Debit: d("600"), Credit: d("20")},
		{Code: "2000", Name: "AP", Type: "LIABILITY", NormalBalance: SideCredit, Debit: d("10"), Credit: d("40")},
		{Code: "3000", Name: "Equity", Type: "EQUITY", NormalBalance: SideCredit, Credit: d("500")},
		{Code: "5000", Name: "Rent", Type: "EXPENSE", NormalBalance: SideDebit, Debit: d("20")},
		{Code: "4000", Name: "Sales", Type: "REVENUE", NormalBalance: SideCredit, Credit: d("70")},
	}

	bs := BuildBalanceSheet(accounts, nil)
	assert.True(t, bs.Assets.Total.Equal(d("580")))
	assert.True(t, bs.Liabilities.Total.Equal(d("30")))
	assert.True(t, bs.CurrentEarnings.Equal(d("50")))
	assert.True(t, bs.Equity.Total.Equal(d("550")))
	assert.True(t, bs.IsBalanced)
}
