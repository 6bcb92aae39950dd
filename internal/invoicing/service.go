package invoicing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/sequence"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/tax"
)

// RepositoryPort abstracts transactional invoice persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// Ledger is the slice of the accounting service used to journal invoices.
type Ledger interface {
	CreateEntryFromInvoice(ctx context.Context, posting accounting.InvoicePosting) (accounting.JournalEntry, error)
	FindEntryBySource(ctx context.Context, tenantID int64, sourceType string, sourceID uuid.UUID) (accounting.JournalEntry, error)
}

// Enqueuer schedules background ledger posting of an invoice.
type Enqueuer interface {
	EnqueueInvoiceJournal(ctx context.Context, tenantID, invoiceID int64, actor shared.Actor) error
}

// AuditPort records invoice events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service issues invoices and links them to journal entries.
type Service struct {
	repo       RepositoryPort
	settings   tax.SettingsRepository
	calculator tax.Calculator
	ledger     Ledger
	enqueuer   Enqueuer
	audit      AuditPort
	logger     *slog.Logger
	validate   *validator.Validate
	now        func() time.Time
}

// NewService constructs the invoice service. ledger and enqueuer may be nil
// when the caller never requests ledger posting.
func NewService(repo RepositoryPort, settings tax.SettingsRepository, ledger Ledger, audit AuditPort) *Service {
	return &Service{
		repo:       repo,
		settings:   settings,
		calculator: tax.NewCalculator(),
		ledger:     ledger,
		audit:      audit,
		logger:     slog.Default(),
		validate:   validator.New(),
		now:        time.Now,
	}
}

// WithEnqueuer enables asynchronous ledger posting.
func (s *Service) WithEnqueuer(e Enqueuer) {
	s.enqueuer = e
}

// WithLogger overrides the logger.
func (s *Service) WithLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ============================================================================
// INVOICE OPERATIONS
// ============================================================================

// CreateInvoice computes the tax breakdown with the tenant's settings, assigns
// the next invoice number and stores the invoice. When PostToLedger is set the
// invoice is journaled (sync) or scheduled for journaling (async). A ledger
// failure after the invoice was stored returns both the invoice and the error.
func (s *Service) CreateInvoice(ctx context.Context, input CreateInput) (Invoice, error) {
	if err := s.validate.Struct(input); err != nil {
		return Invoice{}, toValidationError(err)
	}
	if err := checkCents("sales_value", input.SalesValue); err != nil {
		return Invoice{}, err
	}
	if input.HasDiscount {
		if err := checkCents("discount_amount", input.DiscountAmount); err != nil {
			return Invoice{}, err
		}
	}
	if (input.PostToLedger == PostSync && s.ledger == nil) || (input.PostToLedger == PostAsync && s.enqueuer == nil) {
		return Invoice{}, ErrLedgerUnavailable
	}
	settings, err := s.settings.Get(ctx, input.TenantID)
	if err != nil {
		return Invoice{}, fmt.Errorf("create invoice: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return Invoice{}, err
	}
	totals, err := s.calculator.CalculateInvoiceTotal(tax.InvoiceInput{
		SalesValue:     input.SalesValue,
		HasDiscount:    input.HasDiscount,
		DiscountAmount: input.DiscountAmount,
	}, settings)
	if err != nil {
		return Invoice{}, err
	}

	now := s.now()
	inv := Invoice{
		TenantID:      input.TenantID,
		CustomerName:  input.CustomerName,
		IssueDate:     input.IssueDate,
		Currency:      settings.Currency,
		HasDiscount:   input.HasDiscount,
		VATRate:       settings.DefaultVATRate,
		ProfitTaxRate: settings.ProfitTaxRate,
		CreatedBy:     input.Actor.UserID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	inv.applyTotals(totals)
	base := settings.InvoiceNumberBase
	if base <= 0 {
		base = DefaultNumberBase
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		n, err := tx.NextNumber(ctx, input.TenantID, base)
		if err != nil {
			return err
		}
		inv.Number = sequence.Format(settings.InvoicePrefix, n)
		id, err := tx.Insert(ctx, inv)
		if err != nil {
			return err
		}
		inv.ID = id
		return nil
	})
	if err != nil {
		return Invoice{}, fmt.Errorf("create invoice: %w", err)
	}
	s.record(ctx, shared.AuditLog{
		TenantID: inv.TenantID,
		Action:   shared.AuditActionCreate,
		Entity:   "invoice",
		EntityID: strconv.FormatInt(inv.ID, 10),
		After:    inv,
		Meta:     map[string]any{"number": inv.Number},
	}.WithActor(input.Actor))

	switch input.PostToLedger {
	case PostSync:
		entry, err := s.PostInvoiceToLedger(ctx, inv.TenantID, inv.ID, input.Actor)
		if err != nil {
			return inv, fmt.Errorf("invoice %s stored but not journaled: %w", inv.Number, err)
		}
		id := entry.ID
		inv.JournalEntryID = &id
	case PostAsync:
		if err := s.enqueuer.EnqueueInvoiceJournal(ctx, inv.TenantID, inv.ID, input.Actor); err != nil {
			return inv, fmt.Errorf("invoice %s stored but not scheduled for journaling: %w", inv.Number, err)
		}
	}
	return inv, nil
}

// UpdateInvoice applies changes and recomputes totals with the rates the
// invoice was issued with. Invoices with a journal entry, linked or not, are
// locked.
func (s *Service) UpdateInvoice(ctx context.Context, input UpdateInput) (Invoice, error) {
	if err := s.validate.Struct(input); err != nil {
		return Invoice{}, toValidationError(err)
	}
	if input.CustomerName != nil && *input.CustomerName == "" {
		return Invoice{}, shared.NewValidationError("customer_name", "required")
	}
	if input.IssueDate != nil && input.IssueDate.IsZero() {
		return Invoice{}, shared.NewValidationError("issue_date", "required")
	}
	if input.SalesValue != nil {
		if err := checkCents("sales_value", *input.SalesValue); err != nil {
			return Invoice{}, err
		}
	}
	if input.DiscountAmount != nil {
		if err := checkCents("discount_amount", *input.DiscountAmount); err != nil {
			return Invoice{}, err
		}
	}

	var before, after Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetForUpdate(ctx, input.TenantID, input.ID)
		if err != nil {
			return err
		}
		if current.Journaled() {
			return ErrInvoiceLocked
		}
		started, err := s.journalStarted(ctx, input.TenantID, input.ID)
		if err != nil {
			return err
		}
		if started {
			return ErrInvoiceLocked
		}
		before = current
		next := current
		if input.CustomerName != nil {
			next.CustomerName = *input.CustomerName
		}
		if input.IssueDate != nil {
			next.IssueDate = *input.IssueDate
		}
		if input.SalesValue != nil {
			next.SalesValue = *input.SalesValue
		}
		if input.HasDiscount != nil {
			next.HasDiscount = *input.HasDiscount
		}
		if input.DiscountAmount != nil {
			next.DiscountAmount = *input.DiscountAmount
		}
		totals, err := s.calculator.CalculateInvoiceTotal(tax.InvoiceInput{
			SalesValue:     next.SalesValue,
			HasDiscount:    next.HasDiscount,
			DiscountAmount: next.DiscountAmount,
		}, next.settings())
		if err != nil {
			return err
		}
		next.applyTotals(totals)
		next.UpdatedAt = s.now()
		if err := tx.Update(ctx, next); err != nil {
			return err
		}
		after = next
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	s.record(ctx, shared.AuditLog{
		TenantID: after.TenantID,
		Action:   shared.AuditActionUpdate,
		Entity:   "invoice",
		EntityID: strconv.FormatInt(after.ID, 10),
		Before:   before,
		After:    after,
	}.WithActor(input.Actor))
	return after, nil
}

// GetInvoice loads one invoice.
func (s *Service) GetInvoice(ctx context.Context, tenantID, id int64) (Invoice, error) {
	var inv Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		inv, err = tx.Get(ctx, tenantID, id)
		return err
	})
	return inv, err
}

// ============================================================================
// LEDGER INTEGRATION
// ============================================================================

// PostInvoiceToLedger journals the invoice and records the entry on it.
// Calling it again for a journaled invoice returns the existing entry. The
// invoice row stays locked until the entry is linked, so UpdateInvoice cannot
// change the totals being journaled.
func (s *Service) PostInvoiceToLedger(ctx context.Context, tenantID, id int64, actor shared.Actor) (accounting.JournalEntry, error) {
	if s.ledger == nil {
		return accounting.JournalEntry{}, ErrLedgerUnavailable
	}
	sourceID := accounting.InvoiceSourceID(tenantID, id)
	var (
		entry  accounting.JournalEntry
		linked bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		linked = false
		inv, err := tx.GetForUpdate(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if inv.Journaled() {
			entry, err = s.ledger.FindEntryBySource(ctx, tenantID, accounting.SourceInvoice, sourceID)
			return err
		}
		entry, err = s.ledger.CreateEntryFromInvoice(ctx, accounting.InvoicePosting{
			TenantID:      inv.TenantID,
			InvoiceID:     inv.ID,
			InvoiceNumber: inv.Number,
			Date:          inv.IssueDate,
			Totals:        inv.Totals(),
			Actor:         actor,
		})
		if errors.Is(err, accounting.ErrSourceAlreadyLinked) {
			// entry committed earlier but the link on the invoice was not
			entry, err = s.ledger.FindEntryBySource(ctx, tenantID, accounting.SourceInvoice, sourceID)
		}
		if err != nil {
			return fmt.Errorf("journal invoice %s: %w", inv.Number, err)
		}
		linked, err = tx.SetJournalEntry(ctx, tenantID, id, entry.ID, s.now())
		if err != nil {
			return fmt.Errorf("link invoice %s: %w", inv.Number, err)
		}
		return nil
	})
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	if linked {
		s.record(ctx, shared.AuditLog{
			TenantID: tenantID,
			Action:   shared.AuditActionUpdate,
			Entity:   "invoice",
			EntityID: strconv.FormatInt(id, 10),
			Meta: map[string]any{
				"journal_entry_id": entry.ID,
				"entry_number":     entry.EntryNumber,
			},
		}.WithActor(actor))
	}
	return entry, nil
}

// journalStarted reports whether the ledger already holds an entry for the
// invoice, even if the link on the invoice row was never written.
func (s *Service) journalStarted(ctx context.Context, tenantID, id int64) (bool, error) {
	if s.ledger == nil {
		return false, nil
	}
	_, err := s.ledger.FindEntryBySource(ctx, tenantID, accounting.SourceInvoice, accounting.InvoiceSourceID(tenantID, id))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, shared.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("check invoice journal: %w", err)
	}
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if log.At.IsZero() {
		log.At = s.now()
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("invoicing: audit record failed",
			slog.String("entity_id", log.EntityID),
			slog.String("action", log.Action),
			slog.Any("error", err))
	}
}

func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return shared.NewValidationError(fe.Namespace(), "failed %q validation", fe.Tag())
	}
	return shared.NewValidationError("", "%v", err)
}
