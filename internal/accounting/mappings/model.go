// Package mappings resolves ledger accounts for business events by role.
package mappings

import (
	"errors"
	"time"
)

// ModuleInvoice scopes the roles used when journaling invoices.
const ModuleInvoice = "INVOICE"

// Invoice posting roles.
const (
	RoleReceivable       = "RECEIVABLE"
	RoleRevenue          = "REVENUE"
	RoleVATPayable       = "VAT_PAYABLE"
	RoleProfitTaxPayable = "PROFIT_TAX_PAYABLE"
	RoleSalesDiscount    = "SALES_DISCOUNT"
)

// ErrMappingNotFound indicates account mapping missing.
var ErrMappingNotFound = errors.New("accounting: account mapping not found")

// AccountMapping links a tenant's integration key to a ledger account.
type AccountMapping struct {
	TenantID  int64
	Module    string
	Key       string
	AccountID int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Set indexes mappings by key for one module.
type Set map[string]int64

// NewSet builds a Set from rows, ignoring other modules.
func NewSet(module string, rows []AccountMapping) Set {
	set := make(Set, len(rows))
	for _, row := range rows {
		if row.Module == module {
			set[row.Key] = row.AccountID
		}
	}
	return set
}

// Lookup returns the mapped account id for key.
func (s Set) Lookup(key string) (int64, bool) {
	id, ok := s[key]
	return id, ok && id != 0
}

// KnownRoles lists the roles accepted for a module.
func KnownRoles(module string) []string {
	switch module {
	case ModuleInvoice:
		return []string{RoleReceivable, RoleRevenue, RoleVATPayable, RoleProfitTaxPayable, RoleSalesDiscount}
	}
	return nil
}
