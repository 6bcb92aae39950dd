package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// InvoicePoster journals invoices.
type InvoicePoster interface {
	PostInvoiceToLedger(ctx context.Context, tenantID, invoiceID int64, actor shared.Actor) (accounting.JournalEntry, error)
}

// InvoiceJournalJob posts invoices to the ledger asynchronously.
type InvoiceJournalJob struct {
	Invoices InvoicePoster
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewInvoiceJournalJob initialises the handler.
func NewInvoiceJournalJob(invoices InvoicePoster, logger *slog.Logger, metrics *jobmetrics.Metrics) *InvoiceJournalJob {
	return &InvoiceJournalJob{Invoices: invoices, Logger: logger, Metrics: metrics}
}

// Handle journals the invoice named in the payload. Errors that a retry cannot
// fix skip the retry queue.
func (j *InvoiceJournalJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Invoices == nil {
		return errors.New("invoice journal: handler not configured")
	}
	tracker := j.Metrics.Track(TaskLedgerInvoiceJournal)
	var payload InvoiceJournalPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return tracker.End(fmt.Errorf("invoice journal: decode payload: %v: %w", err, asynq.SkipRetry))
	}
	if payload.TenantID <= 0 || payload.InvoiceID <= 0 {
		return tracker.End(fmt.Errorf("invoice journal: tenant and invoice id required: %w", asynq.SkipRetry))
	}

	logger := j.logger().With(
		slog.Int64("tenant_id", payload.TenantID),
		slog.Int64("invoice_id", payload.InvoiceID),
	)
	entry, err := j.Invoices.PostInvoiceToLedger(ctx, payload.TenantID, payload.InvoiceID, payload.Actor)
	if err != nil {
		logger.Error("invoice journal failed", slog.String("reason", accounting.Describe(err)), slog.Any("error", err))
		if permanent(err) {
			err = fmt.Errorf("invoice journal: %w: %w", err, asynq.SkipRetry)
		}
		return tracker.End(err)
	}
	logger.Info("invoice journaled", slog.Int64("entry_id", entry.ID), slog.String("entry_number", entry.EntryNumber))
	return tracker.End(nil)
}

func permanent(err error) bool {
	return errors.Is(err, shared.ErrNotFound) ||
		errors.Is(err, shared.ErrValidation) ||
		errors.Is(err, accounting.ErrAccountNotFound) ||
		errors.Is(err, accounting.ErrUnbalanced)
}

func (j *InvoiceJournalJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
