// Package cli implements the ledger operator commands.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

// Exit codes.
const (
	ExitOK         = 0
	ExitError      = 1
	ExitUsage      = 2
	ExitUnbalanced = 10
)

const dateLayout = "2006-01-02"

// Ledger is the accounting surface used by the commands.
type Ledger interface {
	SeedChartOfAccounts(ctx context.Context, tenantID int64, actor shared.Actor) (int, error)
	ListAccounts(ctx context.Context, tenantID int64) ([]accounting.Account, error)
	GetTrialBalance(ctx context.Context, tenantID int64, asOf *time.Time) (reports.TrialBalance, error)
	GetIncomeStatement(ctx context.Context, tenantID int64, start, end time.Time) (reports.IncomeStatement, error)
	GetBalanceSheet(ctx context.Context, tenantID int64, asOf *time.Time) (reports.BalanceSheet, error)
	PostJournalEntry(ctx context.Context, tenantID, entryID int64, actor shared.Actor) (accounting.PostedEntry, error)
}

// MappingStore persists role to account mappings.
type MappingStore interface {
	Upsert(ctx context.Context, m mappings.AccountMapping) (mappings.AccountMapping, error)
}

// JobQueue schedules background jobs.
type JobQueue interface {
	EnqueueGLIntegrity(ctx context.Context, payload jobs.GLIntegrityPayload) (*asynq.TaskInfo, error)
}

// App dispatches subcommands. Nil dependencies make the commands that need
// them fail with an error.
type App struct {
	Ledger   Ledger
	Mappings MappingStore
	Jobs     JobQueue
	Stdout   io.Writer
	Stderr   io.Writer
}

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, args []string) int
}

func (a *App) commands() []command {
	return []command{
		{"seed-coa", "seed the default chart of accounts for a tenant", a.seedCOA},
		{"map-account", "map an invoice role to an account code", a.mapAccount},
		{"trial-balance", "print the trial balance", a.trialBalance},
		{"income-statement", "print the income statement for a period", a.incomeStatement},
		{"balance-sheet", "print the balance sheet", a.balanceSheet},
		{"post", "post a draft journal entry", a.post},
		{"verify", "enqueue the GL integrity check", a.verify},
	}
}

// Run executes the subcommand named by args[0] and returns the exit code.
func (a *App) Run(ctx context.Context, args []string) int {
	if a.Stdout == nil {
		a.Stdout = os.Stdout
	}
	if a.Stderr == nil {
		a.Stderr = os.Stderr
	}
	if len(args) == 0 {
		a.usage()
		return ExitUsage
	}
	for _, cmd := range a.commands() {
		if cmd.name == args[0] {
			return cmd.run(ctx, args[1:])
		}
	}
	fmt.Fprintf(a.Stderr, "ledger: unknown command %q\n", args[0])
	a.usage()
	return ExitUsage
}

func (a *App) usage() {
	fmt.Fprintln(a.Stderr, "usage: ledger <command> [flags]")
	for _, cmd := range a.commands() {
		fmt.Fprintf(a.Stderr, "  %-18s %s\n", cmd.name, cmd.summary)
	}
}

// common flags shared by every command
type commonFlags struct {
	tenant int64
	user   int64
	json   bool
	lang   string
}

func (a *App) flagSet(name string, c *commonFlags) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.Stderr)
	fs.Int64Var(&c.tenant, "tenant", 0, "tenant id")
	fs.Int64Var(&c.user, "user", 0, "acting user id")
	fs.BoolVar(&c.json, "json", false, "emit JSON")
	fs.StringVar(&c.lang, "lang", "en", "BCP 47 tag used for number formatting")
	return fs
}

func (a *App) parse(fs *flag.FlagSet, c *commonFlags, args []string) bool {
	if err := fs.Parse(args); err != nil {
		return false
	}
	if c.tenant <= 0 {
		fmt.Fprintf(a.Stderr, "%s: -tenant is required\n", fs.Name())
		return false
	}
	return true
}

func (c commonFlags) actor() shared.Actor {
	if c.user <= 0 {
		return shared.SystemActor
	}
	return shared.Actor{UserID: c.user, Name: "cli"}
}

func (c commonFlags) printer() *message.Printer {
	tag, err := language.Parse(c.lang)
	if err != nil {
		tag = language.English
	}
	return message.NewPrinter(tag)
}

func (a *App) fail(cmd string, err error) int {
	fmt.Fprintf(a.Stderr, "%s: %s\n", cmd, accounting.Describe(err))
	var verr *shared.ValidationError
	if errors.As(err, &verr) {
		return ExitUsage
	}
	return ExitError
}

func (a *App) writeJSON(v any) int {
	enc := json.NewEncoder(a.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(a.Stderr, "ledger: encode output: %v\n", err)
		return ExitError
	}
	return ExitOK
}

func parseDate(name, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil, fmt.Errorf("invalid -%s %q (expected YYYY-MM-DD)", name, value)
	}
	return &t, nil
}

func (a *App) requireLedger(cmd string) bool {
	if a.Ledger == nil {
		fmt.Fprintf(a.Stderr, "%s: ledger not configured\n", cmd)
		return false
	}
	return true
}
