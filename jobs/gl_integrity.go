package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reports"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// LedgerReports is the reporting surface checked by the integrity job.
type LedgerReports interface {
	GetTrialBalance(ctx context.Context, tenantID int64, asOf *time.Time) (reports.TrialBalance, error)
	GetBalanceSheet(ctx context.Context, tenantID int64, asOf *time.Time) (reports.BalanceSheet, error)
}

// TenantLister enumerates tenants with a ledger.
type TenantLister interface {
	ListTenantIDs(ctx context.Context) ([]int64, error)
}

// Imbalance describes one report found outside tolerance.
type Imbalance struct {
	TenantID   int64
	Report     string
	Difference decimal.Decimal
}

// IntegrityResult summarises an integrity run.
type IntegrityResult struct {
	Checked    int
	Imbalances []Imbalance
}

// GLIntegrityJob verifies that trial balance and balance sheet balance for
// every tenant.
type GLIntegrityJob struct {
	Ledger  LedgerReports
	Tenants TenantLister
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewGLIntegrityJob initialises the integrity handler.
func NewGLIntegrityJob(ledger LedgerReports, tenants TenantLister, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	return &GLIntegrityJob{
		Ledger:  ledger,
		Tenants: tenants,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the integrity check for an Asynq task.
func (j *GLIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("gl integrity: handler not configured")
	}
	var payload GLIntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("gl integrity: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	_, err := j.Run(ctx, payload)
	return err
}

// Run checks the requested tenants. Imbalances are reported in the result
// and counted, not returned as errors; report failures for individual
// tenants are joined so the remaining tenants are still checked.
func (j *GLIntegrityJob) Run(ctx context.Context, payload GLIntegrityPayload) (IntegrityResult, error) {
	tracker := j.Metrics.Track(TaskLedgerGLIntegrity)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()
	start := j.clock()
	logger := j.logger()

	if j.Ledger == nil {
		resultErr = errors.New("gl integrity: ledger not configured")
		return IntegrityResult{}, resultErr
	}
	tenants, err := j.tenants(ctx, payload)
	if err != nil {
		resultErr = err
		logger.Error("gl integrity: list tenants", slog.Any("error", err))
		return IntegrityResult{}, resultErr
	}

	var result IntegrityResult
	var errs []error
	for _, tenantID := range tenants {
		found, err := j.checkTenant(ctx, tenantID, payload.AsOf)
		if err != nil {
			logger.Error("gl integrity: tenant check failed", slog.Int64("tenant_id", tenantID), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("tenant %d: %w", tenantID, err))
			continue
		}
		result.Checked++
		for _, imb := range found {
			logger.Warn("ledger imbalance detected",
				slog.Int64("tenant_id", imb.TenantID),
				slog.String("report", imb.Report),
				slog.String("difference", imb.Difference.StringFixed(2)),
			)
			j.Metrics.AddImbalance(imb.Report, imb.TenantID)
		}
		result.Imbalances = append(result.Imbalances, found...)
	}
	resultErr = errors.Join(errs...)

	logger.Info("completed gl integrity check",
		slog.String("job", TaskLedgerGLIntegrity),
		slog.Int("tenants", result.Checked),
		slog.Int("imbalances", len(result.Imbalances)),
		slog.Duration("duration", j.clock().Sub(start)),
	)
	return result, resultErr
}

func (j *GLIntegrityJob) checkTenant(ctx context.Context, tenantID int64, asOf *time.Time) ([]Imbalance, error) {
	var found []Imbalance
	tb, err := j.Ledger.GetTrialBalance(ctx, tenantID, asOf)
	if err != nil {
		return nil, fmt.Errorf("trial balance: %w", err)
	}
	if !tb.IsBalanced {
		found = append(found, Imbalance{TenantID: tenantID, Report: "trial_balance", Difference: tb.TotalDebit.Sub(tb.TotalCredit)})
	}
	bs, err := j.Ledger.GetBalanceSheet(ctx, tenantID, asOf)
	if err != nil {
		return nil, fmt.Errorf("balance sheet: %w", err)
	}
	if !bs.IsBalanced {
		found = append(found, Imbalance{TenantID: tenantID, Report: "balance_sheet", Difference: bs.Assets.Total.Sub(bs.TotalLiabilitiesAndEquity)})
	}
	return found, nil
}

func (j *GLIntegrityJob) tenants(ctx context.Context, payload GLIntegrityPayload) ([]int64, error) {
	if payload.TenantID > 0 {
		return []int64{payload.TenantID}, nil
	}
	if j.Tenants == nil {
		return nil, errors.New("gl integrity: tenant lister not configured")
	}
	return j.Tenants.ListTenantIDs(ctx)
}

func (j *GLIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
