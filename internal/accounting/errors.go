package accounting

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

var (
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = errors.New("accounting: journal lines must balance")
	// ErrAlreadyPosted indicates the entry left draft status already.
	ErrAlreadyPosted = errors.New("accounting: journal entry already posted")
	// ErrAccountNotFound indicates a required chart-of-accounts entry is missing.
	ErrAccountNotFound = errors.New("accounting: required account not found")
	// ErrSourceAlreadyLinked indicates idempotency conflict.
	ErrSourceAlreadyLinked = errors.New("accounting: source already linked")
	// ErrSourceConflict indicates the source link already exists at the storage layer.
	ErrSourceConflict = errors.New("accounting: source link conflict")
	// ErrInvalidStatus indicates action can't proceed.
	ErrInvalidStatus = errors.New("accounting: invalid status transition")
	// ErrMappingNotFound indicates account mapping missing.
	ErrMappingNotFound = mappings.ErrMappingNotFound
	// ErrDuplicateAccount indicates an account code already exists for the tenant.
	ErrDuplicateAccount = errors.New("accounting: account code already exists")
)

// UnbalancedEntryError reports debit and credit totals of a rejected entry.
type UnbalancedEntryError struct {
	TotalDebits  decimal.Decimal
	TotalCredits decimal.Decimal
}

func (e *UnbalancedEntryError) Error() string {
	return fmt.Sprintf("%s: debits %s, credits %s", ErrUnbalanced, e.TotalDebits.StringFixed(2), e.TotalCredits.StringFixed(2))
}

func (e *UnbalancedEntryError) Unwrap() error { return ErrUnbalanced }

// AlreadyPostedError reports an attempt to post a posted entry.
type AlreadyPostedError struct {
	EntryID     int64
	EntryNumber string
	PostedAt    *time.Time
}

func (e *AlreadyPostedError) Error() string {
	if e.PostedAt != nil {
		return fmt.Sprintf("%s: %s at %s", ErrAlreadyPosted, e.EntryNumber, e.PostedAt.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf("%s: %s", ErrAlreadyPosted, e.EntryNumber)
}

func (e *AlreadyPostedError) Unwrap() error { return ErrAlreadyPosted }

// AccountNotFoundError reports a posting role with no resolvable account.
type AccountNotFoundError struct {
	Role string
	Code string
}

func (e *AccountNotFoundError) Error() string {
	return fmt.Sprintf("%s: role %s (code %s)", ErrAccountNotFound, e.Role, e.Code)
}

func (e *AccountNotFoundError) Unwrap() error { return ErrAccountNotFound }

// Describe maps an error to a short user-facing message, one per kind.
func Describe(err error) string {
	var (
		unbalanced *UnbalancedEntryError
		posted     *AlreadyPostedError
		missing    *AccountNotFoundError
		invalid    *shared.ValidationError
		notFound   *shared.NotFoundError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &unbalanced):
		return fmt.Sprintf("Journal entry is not balanced: debits %s, credits %s.", unbalanced.TotalDebits.StringFixed(2), unbalanced.TotalCredits.StringFixed(2))
	case errors.As(err, &posted):
		return fmt.Sprintf("Journal entry %s has already been posted.", posted.EntryNumber)
	case errors.As(err, &missing):
		return fmt.Sprintf("The chart of accounts has no account for %s (expected code %s).", missing.Role, missing.Code)
	case errors.As(err, &invalid):
		return "Invalid input: " + invalid.Message + fieldSuffix(invalid.Field)
	case errors.As(err, &notFound):
		return fmt.Sprintf("%s %s was not found.", notFound.Entity, notFound.ID)
	case errors.Is(err, ErrSourceAlreadyLinked):
		return "A journal entry already exists for this document."
	case errors.Is(err, ErrDuplicateAccount):
		return "An account with this code already exists."
	default:
		return "Unexpected ledger error."
	}
}

func fieldSuffix(field string) string {
	if field == "" {
		return "."
	}
	return " (" + field + ")."
}
