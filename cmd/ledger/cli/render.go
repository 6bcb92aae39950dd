package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reports"
)

func amount(p *message.Printer, d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return p.Sprint(number.Decimal(d.InexactFloat64(), number.Scale(2)))
}

func balancedLabel(ok bool) string {
	if ok {
		return "yes"
	}
	return "NO"
}

func renderTrialBalance(w io.Writer, p *message.Printer, tb reports.TrialBalance) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Code\tAccount\tDebit\tCredit\t")
	for _, row := range tb.Rows() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", row.Code, row.Name, amount(p, row.Debit), amount(p, row.Credit))
	}
	fmt.Fprintf(tw, "\tTotal\t%s\t%s\t\n", amount(p, tb.TotalDebit), amount(p, tb.TotalCredit))
	_ = tw.Flush()
	fmt.Fprintf(w, "Balanced: %s\n", balancedLabel(tb.IsBalanced))
}

func renderIncomeStatement(w io.Writer, p *message.Printer, is reports.IncomeStatement) {
	fmt.Fprintf(w, "Income statement %s to %s\n", is.Start.Format(dateLayout), is.End.Format(dateLayout))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	for _, section := range []reports.IncomeStatementSection{is.Revenue, is.Expense} {
		fmt.Fprintf(tw, "%s\t\t\t\n", section.Label)
		for _, acc := range section.Accounts {
			fmt.Fprintf(tw, "%s\t%s\t%s\t\n", acc.Code, acc.Name, amount(p, acc.Amount))
		}
		fmt.Fprintf(tw, "\tTotal %s\t%s\t\n", section.Label, amount(p, section.Total))
	}
	fmt.Fprintf(tw, "\tNet income\t%s\t\n", p.Sprint(number.Decimal(is.NetIncome.InexactFloat64(), number.Scale(2))))
	_ = tw.Flush()
}

func renderBalanceSheet(w io.Writer, p *message.Printer, bs reports.BalanceSheet) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	for _, section := range []reports.BalanceSheetSection{bs.Assets, bs.Liabilities, bs.Equity} {
		fmt.Fprintf(tw, "%s\t\t\t\n", section.Label)
		for _, acc := range section.Accounts {
			fmt.Fprintf(tw, "%s\t%s\t%s\t\n", acc.Code, acc.Name, amount(p, acc.Balance))
		}
		fmt.Fprintf(tw, "\tTotal %s\t%s\t\n", section.Label, amount(p, section.Total))
	}
	fmt.Fprintf(tw, "\tTotal liabilities and equity\t%s\t\n", amount(p, bs.TotalLiabilitiesAndEquity))
	_ = tw.Flush()
	fmt.Fprintf(w, "Balanced: %s\n", balancedLabel(bs.IsBalanced))
}
