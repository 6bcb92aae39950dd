package accounting

import (
	"context"
	"errors"
	"strconv"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// AccountTemplate is one node of the default chart of accounts.
type AccountTemplate struct {
	Code       string
	Name       string
	NameAr     string
	Type       AccountType
	Category   string
	ParentCode string
}

// DefaultChart is provisioned for new tenants. Parents precede children.
var DefaultChart = []AccountTemplate{
	{Code: "1000", Name: "Assets", NameAr: "الأصول", Type: AccountTypeAsset, Category: "header"},
	{Code: "1100", Name: "Cash and Banks", NameAr: "النقدية والبنوك", Type: AccountTypeAsset, Category: "current_asset", ParentCode: "1000"},
	{Code: "1200", Name: "Accounts Receivable", NameAr: "العملاء", Type: AccountTypeAsset, Category: "current_asset", ParentCode: "1000"},
	{Code: "1300", Name: "Inventory", NameAr: "المخزون", Type: AccountTypeAsset, Category: "current_asset", ParentCode: "1000"},
	{Code: "1500", Name: "Fixed Assets", NameAr: "الأصول الثابتة", Type: AccountTypeAsset, Category: "fixed_asset", ParentCode: "1000"},
	{Code: "2000", Name: "Liabilities", NameAr: "الخصوم", Type: AccountTypeLiability, Category: "header"},
	{Code: "2100", Name: "Taxes Payable", NameAr: "الضرائب المستحقة", Type: AccountTypeLiability, Category: "current_liability", ParentCode: "2000"},
	{Code: "2200", Name: "Accounts Payable", NameAr: "الموردون", Type: AccountTypeLiability, Category: "current_liability", ParentCode: "2000"},
	{Code: "3000", Name: "Equity", NameAr: "حقوق الملكية", Type: AccountTypeEquity, Category: "header"},
	{Code: "3100", Name: "Owner's Capital", NameAr: "رأس المال", Type: AccountTypeEquity, Category: "equity", ParentCode: "3000"},
	{Code: "3200", Name: "Retained Earnings", NameAr: "الأرباح المحتجزة", Type: AccountTypeEquity, Category: "equity", ParentCode: "3000"},
	{Code: "4000", Name: "Revenue", NameAr: "الإيرادات", Type: AccountTypeRevenue, Category: "header"},
	{Code: "4100", Name: "Sales Revenue", NameAr: "إيرادات المبيعات", Type: AccountTypeRevenue, Category: "operating_revenue", ParentCode: "4000"},
	{Code: "4900", Name: "Sales Discounts", NameAr: "خصم مسموح به", Type: AccountTypeRevenue, Category: "contra_revenue", ParentCode: "4000"},
	{Code: "5000", Name: "Expenses", NameAr: "المصروفات", Type: AccountTypeExpense, Category: "header"},
	{Code: "5100", Name: "Cost of Goods Sold", NameAr: "تكلفة البضاعة المباعة", Type: AccountTypeExpense, Category: "cost_of_sales", ParentCode: "5000"},
	{Code: "5200", Name: "Salaries", NameAr: "الرواتب", Type: AccountTypeExpense, Category: "operating_expense", ParentCode: "5000"},
	{Code: "5300", Name: "Rent", NameAr: "الإيجار", Type: AccountTypeExpense, Category: "operating_expense", ParentCode: "5000"},
}

// CreateAccount adds a node to the tenant's chart. The normal balance follows
// the account type; an explicit conflicting value is rejected.
func (s *Service) CreateAccount(ctx context.Context, input CreateAccountInput) (Account, error) {
	input.Code = normaliseCode(input.Code)
	input.ParentCode = normaliseCode(input.ParentCode)
	if err := s.validate.Struct(input); err != nil {
		return Account{}, toValidationError(err)
	}
	normal := NormalBalanceFor(input.Type)
	if input.NormalBalance != "" && input.NormalBalance != normal {
		return Account{}, shared.NewValidationError("normal_balance", "%s accounts carry a %s normal balance", input.Type, normal)
	}
	var created Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = createAccount(ctx, tx, Account{
			TenantID:      input.TenantID,
			Code:          input.Code,
			Name:          input.Name,
			NameAr:        input.NameAr,
			Type:          input.Type,
			Category:      input.Category,
			NormalBalance: normal,
			IsActive:      true,
		}, input.ParentCode)
		return err
	})
	if err != nil {
		return Account{}, err
	}
	s.record(ctx, shared.AuditLog{
		TenantID: created.TenantID,
		Action:   shared.AuditActionCreate,
		Entity:   "account",
		EntityID: strconv.FormatInt(created.ID, 10),
		After:    map[string]any{"code": created.Code, "name": created.Name, "type": created.Type},
	}.WithActor(input.Actor))
	return created, nil
}

func createAccount(ctx context.Context, tx TxRepository, acc Account, parentCode string) (Account, error) {
	if _, err := tx.GetAccountByCode(ctx, acc.TenantID, acc.Code); err == nil {
		return Account{}, ErrDuplicateAccount
	} else if !errors.Is(err, shared.ErrNotFound) {
		return Account{}, err
	}
	if parentCode != "" {
		parent, err := tx.GetAccountByCode(ctx, acc.TenantID, parentCode)
		if err != nil {
			return Account{}, err
		}
		if parent.Type != acc.Type {
			return Account{}, shared.NewValidationError("parent_code", "parent %s is %s, not %s", parent.Code, parent.Type, acc.Type)
		}
		acc.ParentID = &parent.ID
	}
	return tx.InsertAccount(ctx, acc)
}

// ListAccounts retrieves the tenant's chart of accounts ordered by code.
func (s *Service) ListAccounts(ctx context.Context, tenantID int64) ([]Account, error) {
	var accounts []Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		accounts, err = tx.ListAccounts(ctx, tenantID)
		return err
	})
	return accounts, err
}

// SeedChartOfAccounts provisions DefaultChart for a tenant. Codes that already
// exist are skipped, so the call is safe to repeat. It returns the number of
// accounts created.
func (s *Service) SeedChartOfAccounts(ctx context.Context, tenantID int64, actor shared.Actor) (int, error) {
	if tenantID <= 0 {
		return 0, shared.NewValidationError("tenant_id", "required")
	}
	created := 0
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created = 0
		for _, tpl := range DefaultChart {
			_, err := createAccount(ctx, tx, Account{
				TenantID:      tenantID,
				Code:          tpl.Code,
				Name:          tpl.Name,
				NameAr:        tpl.NameAr,
				Type:          tpl.Type,
				Category:      tpl.Category,
				NormalBalance: NormalBalanceFor(tpl.Type),
				IsActive:      true,
			}, tpl.ParentCode)
			if errors.Is(err, ErrDuplicateAccount) {
				continue
			}
			if err != nil {
				return err
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if created > 0 {
		s.record(ctx, shared.AuditLog{
			TenantID: tenantID,
			Action:   shared.AuditActionCreate,
			Entity:   "chart_of_accounts",
			EntityID: strconv.FormatInt(tenantID, 10),
			Meta:     map[string]any{"created": created},
		}.WithActor(actor))
	}
	return created, nil
}
