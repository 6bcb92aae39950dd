package accounting

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
		return true
	}
	return false
}

// EntryType is the side of a transaction line. It doubles as an account's
// normal balance.
type EntryType string

const (
	Debit  EntryType = "DEBIT"
	Credit EntryType = "CREDIT"
)

// Opposite returns the other side.
func (t EntryType) Opposite() EntryType {
	if t == Debit {
		return Credit
	}
	return Debit
}

// NormalBalanceFor returns the side on which accounts of type t increase.
func NormalBalanceFor(t AccountType) EntryType {
	switch t {
	case AccountTypeAsset, AccountTypeExpense:
		return Debit
	default:
		return Credit
	}
}

// EntryStatus enumerates journal lifecycle values.
type EntryStatus string

const (
	EntryStatusDraft  EntryStatus = "DRAFT"
	EntryStatusPosted EntryStatus = "POSTED"
)

// Source types linking entries to originating documents.
const (
	SourceInvoice  = "INVOICE"
	SourceReversal = "JOURNAL_REVERSAL"
	SourceManual   = "MANUAL"
)

// EntryNumberPrefix prefixes every journal entry number.
const EntryNumberPrefix = "JE"

// Account models a chart of accounts node.
type Account struct {
	ID            int64
	TenantID      int64
	Code          string
	Name          string
	NameAr        string
	Type          AccountType
	Category      string
	NormalBalance EntryType
	ParentID      *int64
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Transaction stores one debit or credit line of a journal entry.
type Transaction struct {
	ID          int64
	EntryID     int64
	AccountID   int64
	Type        EntryType
	Amount      decimal.Decimal
	Description string
	Account     *Account
}

// Signed returns the line amount relative to the given normal balance.
func (t Transaction) Signed(normal EntryType) decimal.Decimal {
	if t.Type == normal {
		return t.Amount
	}
	return t.Amount.Neg()
}

// JournalEntry captures an accounting event and its lines.
type JournalEntry struct {
	ID          int64
	TenantID    int64
	EntryNumber string
	Date        time.Time
	Description string
	SourceType  string
	SourceID    uuid.UUID
	Status      EntryStatus
	CreatedBy   int64
	PostedBy    *int64
	PostedAt    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Lines       []Transaction
}

// HasSource reports whether the entry is linked to an originating document.
func (e JournalEntry) HasSource() bool {
	return e.SourceType != "" && e.SourceID != uuid.Nil
}

// Totals sums the debit and credit lines.
func (e JournalEntry) Totals() (debits, credits decimal.Decimal) {
	return sumLines(e.Lines)
}

// LineInput describes a journal line for an entry request.
type LineInput struct {
	AccountID   int64           `validate:"required,gt=0"`
	Type        EntryType       `validate:"required,oneof=DEBIT CREDIT"`
	Amount      decimal.Decimal `validate:"-"`
	Description string          `validate:"max=500"`
}

// CreateEntryInput groups fields required to create a journal entry.
type CreateEntryInput struct {
	TenantID    int64        `validate:"required,gt=0"`
	Date        time.Time    `validate:"required"`
	Description string       `validate:"required,max=500"`
	SourceType  string       `validate:"omitempty,max=64"`
	SourceID    uuid.UUID    `validate:"-"`
	Actor       shared.Actor `validate:"-"`
	Lines       []LineInput  `validate:"required,min=1,dive"`
}

// ReverseInput wraps parameters for reversal.
type ReverseInput struct {
	TenantID    int64
	EntryID     int64
	Date        *time.Time
	Description string
	Actor       shared.Actor
}

// EntryFilter narrows ListJournalEntries.
type EntryFilter struct {
	Status EntryStatus
	From   *time.Time
	To     *time.Time
	Limit  int
}

// CreateAccountInput describes a new chart of accounts node.
type CreateAccountInput struct {
	TenantID      int64        `validate:"required,gt=0"`
	Code          string       `validate:"required,max=32"`
	Name          string       `validate:"required,max=200"`
	NameAr        string       `validate:"max=200"`
	Type          AccountType  `validate:"required,oneof=ASSET LIABILITY EQUITY REVENUE EXPENSE"`
	Category      string       `validate:"max=64"`
	NormalBalance EntryType    `validate:"omitempty,oneof=DEBIT CREDIT"`
	ParentCode    string       `validate:"max=32"`
	Actor         shared.Actor `validate:"-"`
}

func sumLines(lines []Transaction) (debits, credits decimal.Decimal) {
	for _, line := range lines {
		switch line.Type {
		case Debit:
			debits = debits.Add(line.Amount)
		case Credit:
			credits = credits.Add(line.Amount)
		}
	}
	return debits, credits
}

func normaliseCode(code string) string {
	return strings.TrimSpace(code)
}
