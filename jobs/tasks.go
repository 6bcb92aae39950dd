package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerGLIntegrity checks that every tenant's reports balance.
	TaskLedgerGLIntegrity = "ledger:gl_integrity"
	// TaskLedgerInvoiceJournal journals an issued invoice.
	TaskLedgerInvoiceJournal = "ledger:invoice_journal"
)

// GLIntegrityPayload scopes an integrity run. A zero TenantID checks all tenants.
type GLIntegrityPayload struct {
	TenantID int64      `json:"tenant_id,omitempty"`
	AsOf     *time.Time `json:"as_of,omitempty"`
}

// NewGLIntegrityTask constructs an Asynq task.
func NewGLIntegrityTask(payload GLIntegrityPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerGLIntegrity, data), nil
}

// InvoiceJournalPayload identifies the invoice to journal and who asked.
type InvoiceJournalPayload struct {
	TenantID  int64        `json:"tenant_id"`
	InvoiceID int64        `json:"invoice_id"`
	Actor     shared.Actor `json:"actor"`
}

// NewInvoiceJournalTask constructs an Asynq task. The task id is derived from
// the invoice so duplicate enqueues collapse while one is pending.
func NewInvoiceJournalTask(payload InvoiceJournalPayload) (*asynq.Task, error) {
	if payload.TenantID <= 0 || payload.InvoiceID <= 0 {
		return nil, fmt.Errorf("invoice journal: tenant and invoice id required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerInvoiceJournal, data,
		asynq.TaskID(invoiceJournalTaskID(payload.TenantID, payload.InvoiceID)),
		asynq.MaxRetry(10),
	), nil
}

func invoiceJournalTaskID(tenantID, invoiceID int64) string {
	return fmt.Sprintf("invoice-journal:%d:%d", tenantID, invoiceID)
}
