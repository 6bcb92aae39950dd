package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

func (a *App) seedCOA(ctx context.Context, args []string) int {
	var c commonFlags
	fs := a.flagSet("seed-coa", &c)
	if !a.parse(fs, &c, args) {
		return ExitUsage
	}
	if !a.requireLedger(fs.Name()) {
		return ExitError
	}
	created, err := a.Ledger.SeedChartOfAccounts(ctx, c.tenant, c.actor())
	if err != nil {
		return a.fail(fs.Name(), err)
	}
	if c.json {
		return a.writeJSON(map[string]any{"tenant_id": c.tenant, "created": created})
	}
	fmt.Fprintf(a.Stdout, "seeded %d accounts for tenant %d\n", created, c.tenant)
	return ExitOK
}

func (a *App) mapAccount(ctx context.Context, args []string) int {
	var c commonFlags
	var role, code string
	fs := a.flagSet("map-account", &c)
	fs.StringVar(&role, "role", "", "invoice role ("+strings.Join(mappings.KnownRoles(mappings.ModuleInvoice), ", ")+")")
	fs.StringVar(&code, "code", "", "account code")
	if !a.parse(fs, &c, args) {
		return ExitUsage
	}
	role = strings.ToUpper(strings.TrimSpace(role))
	if role == "" || strings.TrimSpace(code) == "" {
		fmt.Fprintln(a.Stderr, "map-account: -role and -code are required")
		return ExitUsage
	}
	if !a.requireLedger(fs.Name()) {
		return ExitError
	}
	if a.Mappings == nil {
		fmt.Fprintln(a.Stderr, "map-account: mapping store not configured")
		return ExitError
	}
	accounts, err := a.Ledger.ListAccounts(ctx, c.tenant)
	if err != nil {
		return a.fail(fs.Name(), err)
	}
	var accountID int64
	for _, acc := range accounts {
		if acc.Code == strings.TrimSpace(code) {
			accountID = acc.ID
			break
		}
	}
	if accountID == 0 {
		fmt.Fprintf(a.Stderr, "map-account: account %s not found for tenant %d\n", code, c.tenant)
		return ExitError
	}
	saved, err := a.Mappings.Upsert(ctx, mappings.AccountMapping{
		TenantID:  c.tenant,
		Module:    mappings.ModuleInvoice,
		Key:       role,
		AccountID: accountID,
	})
	if err != nil {
		return a.fail(fs.Name(), err)
	}
	if c.json {
		return a.writeJSON(saved)
	}
	fmt.Fprintf(a.Stdout, "mapped %s to account %s (id %d)\n", role, code, accountID)
	return ExitOK
}

func (a *App) trialBalance(ctx context.Context, args []string) int {
	var c commonFlags
	var asOf string
	fs := a.flagSet("trial-balance", &c)
	fs.StringVar(&asOf, "as-of", "", "cut-off date (YYYY-MM-DD)")
	if !a.parse(fs, &c, args) {
		return ExitUsage
	}
	date, err := parseDate("as-of", asOf)
	if err != nil {
		fmt.Fprintf(a.Stderr, "trial-balance: %v\n", err)
		return ExitUsage
	}
	if !a.requireLedger(fs.Name()) {
		return ExitError
	}
	tb, err := a.Ledger.GetTrialBalance(ctx, c.tenant, date)
	if err != nil {
		return a.fail(fs.Name(), err)
	}
	code := ExitOK
	if c.json {
		code = a.writeJSON(tb)
	} else {
		renderTrialBalance(a.Stdout, c.printer(), tb)
	}
	if code == ExitOK && !tb.IsBalanced {
		return ExitUnbalanced
	}
	return code
}

func (a *App) incomeStatement(ctx context.Context, args []string) int {
	var c commonFlags
	var from, to string
	fs := a.flagSet("income-statement", &c)
	fs.StringVar(&from, "from", "", "period start (YYYY-MM-DD)")
	fs.StringVar(&to, "to", "", "period end (YYYY-MM-DD)")
	if !a.parse(fs, &c, args) {
		return ExitUsage
	}
	start, err := parseDate("from", from)
	if err == nil && start == nil {
		err = errors.New("-from is required")
	}
	if err != nil {
		fmt.Fprintf(a.Stderr, "income-statement: %v\n", err)
		return ExitUsage
	}
	end, err := parseDate("to", to)
	if err == nil && end == nil {
		err = errors.New("-to is required")
	}
	if err != nil {
		fmt.Fprintf(a.Stderr, "income-statement: %v\n", err)
		return ExitUsage
	}
	if !a.requireLedger(fs.Name()) {
		return ExitError
	}
	is, err := a.Ledger.GetIncomeStatement(ctx, c.tenant, *start, *end)
	if err != nil {
		return a.fail(fs.Name(), err)
	}
	if c.json {
		return a.writeJSON(is)
	}
	renderIncomeStatement(a.Stdout, c.printer(), is)
	return ExitOK
}

func (a *App) balanceSheet(ctx context.Context, args []string) int {
	var c commonFlags
	var asOf string
	fs := a.flagSet("balance-sheet", &c)
	fs.StringVar(&asOf, "as-of", "", "cut-off date (YYYY-MM-DD)")
	if !a.parse(fs, &c, args) {
		return ExitUsage
	}
	date, err := parseDate("as-of", asOf)
	if err != nil {
		fmt.Fprintf(a.Stderr, "balance-sheet: %v\n", err)
		return ExitUsage
	}
	if !a.requireLedger(fs.Name()) {
		return ExitError
	}
	bs, err := a.Ledger.GetBalanceSheet(ctx, c.tenant, date)
	if err != nil {
		return a.fail(fs.Name(), err)
	}
	code := ExitOK
	if c.json {
		code = a.writeJSON(bs)
	} else {
		renderBalanceSheet(a.Stdout, c.printer(), bs)
	}
	if code == ExitOK && !bs.IsBalanced {
		return ExitUnbalanced
	}
	return code
}

func (a *App) post(ctx context.Context, args []string) int {
	var c commonFlags
	var entryID int64
	fs := a.flagSet("post", &c)
	fs.Int64Var(&entryID, "entry", 0, "journal entry id")
	if !a.parse(fs, &c, args) {
		return ExitUsage
	}
	if entryID <= 0 {
		fmt.Fprintln(a.Stderr, "post: -entry is required")
		return ExitUsage
	}
	if !a.requireLedger(fs.Name()) {
		return ExitError
	}
	posted, err := a.Ledger.PostJournalEntry(ctx, c.tenant, entryID, c.actor())
	if err != nil {
		return a.fail(fs.Name(), err)
	}
	if c.json {
		return a.writeJSON(map[string]any{
			"id":           posted.ID(),
			"entry_number": posted.EntryNumber(),
			"posted_at":    posted.PostedAt(),
		})
	}
	fmt.Fprintf(a.Stdout, "posted %s at %s\n", posted.EntryNumber(), posted.PostedAt().Format("2006-01-02 15:04:05 MST"))
	return ExitOK
}

func (a *App) verify(ctx context.Context, args []string) int {
	var c commonFlags
	var asOf string
	fs := a.flagSet("verify", &c)
	fs.StringVar(&asOf, "as-of", "", "cut-off date (YYYY-MM-DD)")
	// tenant is optional here: zero checks every tenant
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}
	date, err := parseDate("as-of", asOf)
	if err != nil {
		fmt.Fprintf(a.Stderr, "verify: %v\n", err)
		return ExitUsage
	}
	if a.Jobs == nil {
		fmt.Fprintln(a.Stderr, "verify: job queue not configured")
		return ExitError
	}
	info, err := a.Jobs.EnqueueGLIntegrity(ctx, jobs.GLIntegrityPayload{TenantID: c.tenant, AsOf: date})
	if err != nil {
		fmt.Fprintf(a.Stderr, "verify: enqueue: %v\n", err)
		return ExitError
	}
	if c.json {
		return a.writeJSON(map[string]any{"task_id": info.ID, "queue": info.Queue})
	}
	fmt.Fprintf(a.Stdout, "enqueued %s as %s on queue %s\n", jobs.TaskLedgerGLIntegrity, info.ID, info.Queue)
	return ExitOK
}
