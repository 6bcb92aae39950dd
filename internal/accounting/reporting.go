package accounting

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// AccountBalance is the signed balance of one account in its normal direction.
type AccountBalance struct {
	Account          Account
	Balance          decimal.Decimal
	TransactionCount int
	AsOf             *time.Time
}

// GetAccountBalance folds the account's posted lines: amounts on the normal
// side add, the others subtract. An account without posted activity returns a
// zero balance with TransactionCount 0; an unknown account is NotFoundError.
func (s *Service) GetAccountBalance(ctx context.Context, tenantID, accountID int64, asOf *time.Time) (AccountBalance, error) {
	if tenantID <= 0 || accountID <= 0 {
		return AccountBalance{}, shared.NewValidationError("account_id", "tenant and account id required")
	}
	var result AccountBalance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		acc, err := tx.GetAccount(ctx, tenantID, accountID)
		if err != nil {
			return err
		}
		lines, err := tx.ListPostedTransactions(ctx, tenantID, accountID, asOf)
		if err != nil {
			return err
		}
		balance := decimal.Zero
		for _, line := range lines {
			balance = balance.Add(line.Signed(acc.NormalBalance))
		}
		result = AccountBalance{Account: acc, Balance: balance, TransactionCount: len(lines), AsOf: asOf}
		return nil
	})
	return result, err
}

// GetTrialBalance lists every account with a non-zero posted balance as of
// asOf (inclusive) and flags whether debit and credit columns agree.
func (s *Service) GetTrialBalance(ctx context.Context, tenantID int64, asOf *time.Time) (reports.TrialBalance, error) {
	if tenantID <= 0 {
		return reports.TrialBalance{}, shared.NewValidationError("tenant_id", "required")
	}
	var tb reports.TrialBalance
	err := s.cachedReport(ctx, tenantID, &tb, func(ctx context.Context) (any, error) {
		activity, err := s.activity(ctx, tenantID, nil, asOf)
		if err != nil {
			return nil, err
		}
		return reports.BuildTrialBalance(activity, asOf), nil
	}, "tb", dateToken(asOf))
	return tb, err
}

// GetIncomeStatement aggregates revenue and expense activity dated within
// [start, end].
func (s *Service) GetIncomeStatement(ctx context.Context, tenantID int64, start, end time.Time) (reports.IncomeStatement, error) {
	if tenantID <= 0 {
		return reports.IncomeStatement{}, shared.NewValidationError("tenant_id", "required")
	}
	if start.IsZero() || end.IsZero() {
		return reports.IncomeStatement{}, shared.NewValidationError("period", "start and end dates required")
	}
	if end.Before(start) {
		return reports.IncomeStatement{}, shared.NewValidationError("period", "end date precedes start date")
	}
	var is reports.IncomeStatement
	err := s.cachedReport(ctx, tenantID, &is, func(ctx context.Context) (any, error) {
		activity, err := s.activity(ctx, tenantID, &start, &end)
		if err != nil {
			return nil, err
		}
		return reports.BuildIncomeStatement(activity, start, end), nil
	}, "is", dateToken(&start), dateToken(&end))
	return is, err
}

// GetBalanceSheet reports assets, liabilities and equity as of asOf, with
// unclosed profit shown as Current Earnings.
func (s *Service) GetBalanceSheet(ctx context.Context, tenantID int64, asOf *time.Time) (reports.BalanceSheet, error) {
	if tenantID <= 0 {
		return reports.BalanceSheet{}, shared.NewValidationError("tenant_id", "required")
	}
	var bs reports.BalanceSheet
	err := s.cachedReport(ctx, tenantID, &bs, func(ctx context.Context) (any, error) {
		activity, err := s.activity(ctx, tenantID, nil, asOf)
		if err != nil {
			return nil, err
		}
		return reports.BuildBalanceSheet(activity, asOf), nil
	}, "bs", dateToken(asOf))
	return bs, err
}

// activity reads per-account posted sums inside one repeatable-read snapshot,
// so a single report never mixes before and after states of a posting.
func (s *Service) activity(ctx context.Context, tenantID int64, from, to *time.Time) ([]reports.AccountBalance, error) {
	var out []reports.AccountBalance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.SumPostedActivity(ctx, tenantID, from, to)
		return err
	})
	return out, err
}
