package invoicing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/sequence"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/internal/tax"
	_ "github.com/odyssey-erp/odyssey-ledger/testing"
)

// mockRepository is an in-memory RepositoryPort. Each WithTx runs serialised
// and rolls back its writes when fn fails.
type mockRepository struct {
	mu        sync.Mutex
	invoices  map[int64]Invoice
	sequences map[int64]int64
	nextID    int64
	txError   error
	insertErr error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		invoices:  make(map[int64]Invoice),
		sequences: make(map[int64]int64),
		nextID:    1,
	}
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if m.txError != nil {
		return m.txError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	invoices := make(map[int64]Invoice, len(m.invoices))
	for k, v := range m.invoices {
		invoices[k] = v
	}
	sequences := make(map[int64]int64, len(m.sequences))
	for k, v := range m.sequences {
		sequences[k] = v
	}
	nextID := m.nextID
	if err := fn(ctx, &mockTxRepo{mock: m}); err != nil {
		m.invoices, m.sequences, m.nextID = invoices, sequences, nextID
		return err
	}
	return nil
}

func (m *mockRepository) invoice(id int64) Invoice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invoices[id]
}

type mockTxRepo struct {
	mock *mockRepository
}

func (r *mockTxRepo) NextNumber(_ context.Context, tenantID, base int64) (int64, error) {
	last, ok := r.mock.sequences[tenantID]
	next := base
	if ok {
		next = last + 1
	}
	r.mock.sequences[tenantID] = next
	return next, nil
}

func (r *mockTxRepo) Insert(_ context.Context, inv Invoice) (int64, error) {
	if r.mock.insertErr != nil {
		return 0, r.mock.insertErr
	}
	inv.ID = r.mock.nextID
	r.mock.nextID++
	r.mock.invoices[inv.ID] = inv
	return inv.ID, nil
}

func (r *mockTxRepo) Get(_ context.Context, tenantID, id int64) (Invoice, error) {
	inv, ok := r.mock.invoices[id]
	if !ok || inv.TenantID != tenantID {
		return Invoice{}, shared.NewNotFound("invoice", id)
	}
	return inv, nil
}

func (r *mockTxRepo) GetForUpdate(ctx context.Context, tenantID, id int64) (Invoice, error) {
	return r.Get(ctx, tenantID, id)
}

func (r *mockTxRepo) Update(_ context.Context, inv Invoice) error {
	current, ok := r.mock.invoices[inv.ID]
	if !ok || current.TenantID != inv.TenantID {
		return shared.NewNotFound("invoice", inv.ID)
	}
	if current.Journaled() {
		return ErrInvoiceLocked
	}
	r.mock.invoices[inv.ID] = inv
	return nil
}

func (r *mockTxRepo) SetJournalEntry(_ context.Context, tenantID, id, entryID int64, at time.Time) (bool, error) {
	inv, ok := r.mock.invoices[id]
	if !ok || inv.TenantID != tenantID {
		return false, shared.NewNotFound("invoice", id)
	}
	if inv.Journaled() {
		return false, nil
	}
	inv.JournalEntryID = &entryID
	inv.UpdatedAt = at
	r.mock.invoices[id] = inv
	return true, nil
}

type staticSettings struct {
	settings tax.Settings
	err      error
}

func (s staticSettings) Get(_ context.Context, tenantID int64) (tax.Settings, error) {
	if s.err != nil {
		return tax.Settings{}, s.err
	}
	out := s.settings
	out.TenantID = tenantID
	return out, nil
}

// fakeLedger mimics the source-link idempotency of the accounting service.
type fakeLedger struct {
	mu       sync.Mutex
	entries  map[uuid.UUID]accounting.JournalEntry
	postings []accounting.InvoicePosting
	nextID   int64
	err      error
	// onCreate runs before each CreateEntryFromInvoice, outside the lock.
	onCreate func(accounting.InvoicePosting)
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{entries: make(map[uuid.UUID]accounting.JournalEntry), nextID: 500}
}

func (l *fakeLedger) CreateEntryFromInvoice(_ context.Context, p accounting.InvoicePosting) (accounting.JournalEntry, error) {
	if l.onCreate != nil {
		l.onCreate(p)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return accounting.JournalEntry{}, l.err
	}
	l.postings = append(l.postings, p)
	src := accounting.InvoiceSourceID(p.TenantID, p.InvoiceID)
	if _, ok := l.entries[src]; ok {
		return accounting.JournalEntry{}, accounting.ErrSourceAlreadyLinked
	}
	entry := accounting.JournalEntry{
		ID:          l.nextID,
		TenantID:    p.TenantID,
		EntryNumber: sequence.Format(accounting.EntryNumberPrefix, l.nextID),
		Date:        p.Date,
		SourceType:  accounting.SourceInvoice,
		SourceID:    src,
		Status:      accounting.EntryStatusDraft,
	}
	l.nextID++
	l.entries[src] = entry
	return entry, nil
}

func (l *fakeLedger) FindEntryBySource(_ context.Context, _ int64, _ string, sourceID uuid.UUID) (accounting.JournalEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[sourceID]
	if !ok {
		return accounting.JournalEntry{}, shared.NewNotFound("journal_entry", sourceID)
	}
	return entry, nil
}

func (l *fakeLedger) calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.postings)
}

type recordingEnqueuer struct {
	invoiceIDs []int64
	err        error
}

func (e *recordingEnqueuer) EnqueueInvoiceJournal(_ context.Context, _ int64, invoiceID int64, _ shared.Actor) error {
	if e.err != nil {
		return e.err
	}
	e.invoiceIDs = append(e.invoiceIDs, invoiceID)
	return nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
	err  error
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return a.err
}

const tenant int64 = 3

var (
	issueDay = time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC)
	cashier  = shared.Actor{UserID: 9, Name: "Omar"}
	egypt    = tax.Settings{
		DefaultVATRate:    decimal.NewFromInt(14),
		ProfitTaxRate:     decimal.RequireFromString("2.5"),
		Currency:          "EGP",
		InvoicePrefix:     "INV",
		InvoiceNumberBase: 5000,
	}
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestService() (*Service, *mockRepository, *fakeLedger, *recordingAudit) {
	repo := newMockRepository()
	ledger := newFakeLedger()
	audit := &recordingAudit{}
	svc := NewService(repo, staticSettings{settings: egypt}, ledger, audit)
	svc.WithNow(func() time.Time { return issueDay.Add(10 * time.Hour) })
	return svc, repo, ledger, audit
}

func sale(value string) CreateInput {
	return CreateInput{TenantID: tenant, CustomerName: "Nile Traders", IssueDate: issueDay, SalesValue: dec(value), Actor: cashier}
}

func TestCreateInvoiceComputesTotalsAndNumber(t *testing.T) {
	svc, repo, _, audit := newTestService()

	inv, err := svc.CreateInvoice(context.Background(), sale("1000"))
	require.NoError(t, err)

	assert.Equal(t, "INV-5000", inv.Number)
	assert.Equal(t, "EGP", inv.Currency)
	assert.True(t, inv.VAT.Equal(dec("140")))
	assert.True(t, inv.ProfitTax.Equal(dec("25")))
	assert.True(t, inv.DiscountAmount.IsZero())
	assert.True(t, inv.FinalValue.Equal(dec("1165")))
	assert.False(t, inv.Journaled())
	assert.Equal(t, inv, repo.invoice(inv.ID))

	require.Len(t, audit.logs, 1)
	assert.Equal(t, shared.AuditActionCreate, audit.logs[0].Action)
	assert.Equal(t, "invoice", audit.logs[0].Entity)
	assert.Equal(t, cashier.UserID, audit.logs[0].UserID)

	second, err := svc.CreateInvoice(context.Background(), sale("10"))
	require.NoError(t, err)
	assert.Equal(t, "INV-5001", second.Number)
}

func TestCreateInvoiceRoundsDisplayTotals(t *testing.T) {
	svc, _, _, _ := newTestService()
	in := sale("333.33")
	in.HasDiscount = true
	in.DiscountAmount = dec("15.5")

	inv, err := svc.CreateInvoice(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, "46.67", inv.VAT.StringFixed(2))
	assert.Equal(t, "8.33", inv.ProfitTax.StringFixed(2))
	assert.Equal(t, "372.83", inv.FinalValue.StringFixed(2))
	sum := inv.SalesValue.Add(inv.VAT).Add(inv.ProfitTax).Sub(inv.DiscountAmount)
	assert.True(t, sum.Equal(inv.FinalValue))
}

func TestCreateInvoiceValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{name: "missing customer", mutate: func(in *CreateInput) { in.CustomerName = "" }},
		{name: "missing date", mutate: func(in *CreateInput) { in.IssueDate = time.Time{} }},
		{name: "missing tenant", mutate: func(in *CreateInput) { in.TenantID = 0 }},
		{name: "negative sales", mutate: func(in *CreateInput) { in.SalesValue = dec("-1") }},
		{name: "discount above gross", mutate: func(in *CreateInput) {
			in.HasDiscount = true
			in.DiscountAmount = dec("2000")
		}},
		{name: "unknown post mode", mutate: func(in *CreateInput) { in.PostToLedger = "later" }},
		{name: "sub-cent sales", mutate: func(in *CreateInput) { in.SalesValue = dec("100.005") }},
		{name: "sub-cent discount", mutate: func(in *CreateInput) {
			in.HasDiscount = true
			in.DiscountAmount = dec("10.001")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo, _, _ := newTestService()
			in := sale("1000")
			tt.mutate(&in)

			_, err := svc.CreateInvoice(context.Background(), in)
			require.ErrorIs(t, err, shared.ErrValidation)
			assert.Empty(t, repo.invoices)
		})
	}
}

func TestCreateInvoiceRejectsInvalidSettings(t *testing.T) {
	bad := egypt
	bad.DefaultVATRate = dec("140")
	svc := NewService(newMockRepository(), staticSettings{settings: bad}, nil, nil)

	_, err := svc.CreateInvoice(context.Background(), sale("100"))
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateInvoiceSettingsFailure(t *testing.T) {
	boom := errors.New("settings down")
	svc := NewService(newMockRepository(), staticSettings{err: boom}, nil, nil)

	_, err := svc.CreateInvoice(context.Background(), sale("100"))
	require.ErrorIs(t, err, boom)
}

func TestCreateInvoiceFailedInsertKeepsNumber(t *testing.T) {
	svc, repo, _, audit := newTestService()
	repo.insertErr = errors.New("disk full")

	_, err := svc.CreateInvoice(context.Background(), sale("100"))
	require.Error(t, err)
	assert.Empty(t, audit.logs)

	repo.insertErr = nil
	inv, err := svc.CreateInvoice(context.Background(), sale("100"))
	require.NoError(t, err)
	assert.Equal(t, "INV-5000", inv.Number)
}

func TestCreateInvoiceDefaultNumbering(t *testing.T) {
	plain := egypt
	plain.InvoicePrefix = ""
	plain.InvoiceNumberBase = 0
	svc := NewService(newMockRepository(), staticSettings{settings: plain}, nil, nil)

	inv, err := svc.CreateInvoice(context.Background(), sale("100"))
	require.NoError(t, err)
	assert.Equal(t, "1000", inv.Number)
}

func TestCreateInvoiceSyncPosting(t *testing.T) {
	svc, repo, ledger, _ := newTestService()
	in := sale("1000")
	in.PostToLedger = PostSync

	inv, err := svc.CreateInvoice(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, inv.JournalEntryID)
	assert.Equal(t, int64(500), *inv.JournalEntryID)
	assert.Equal(t, inv.JournalEntryID, repo.invoice(inv.ID).JournalEntryID)

	require.Equal(t, 1, ledger.calls())
	posting := ledger.postings[0]
	assert.Equal(t, inv.Number, posting.InvoiceNumber)
	assert.Equal(t, issueDay, posting.Date)
	assert.True(t, posting.Totals.FinalValue.Equal(dec("1165")))
	assert.Equal(t, cashier, posting.Actor)
}

func TestCreateInvoiceSyncPostingFailureKeepsInvoice(t *testing.T) {
	svc, repo, ledger, _ := newTestService()
	ledger.err = &accounting.AccountNotFoundError{Role: "RECEIVABLE", Code: "1200"}
	in := sale("1000")
	in.PostToLedger = PostSync

	inv, err := svc.CreateInvoice(context.Background(), in)
	require.ErrorIs(t, err, accounting.ErrAccountNotFound)
	require.NotZero(t, inv.ID)
	assert.False(t, repo.invoice(inv.ID).Journaled())
}

func TestCreateInvoiceAsyncPosting(t *testing.T) {
	svc, _, ledger, _ := newTestService()
	enq := &recordingEnqueuer{}
	svc.WithEnqueuer(enq)
	in := sale("1000")
	in.PostToLedger = PostAsync

	inv, err := svc.CreateInvoice(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []int64{inv.ID}, enq.invoiceIDs)
	assert.Zero(t, ledger.calls())
	assert.False(t, inv.Journaled())
}

func TestCreateInvoicePostingRequiresCollaborator(t *testing.T) {
	svc := NewService(newMockRepository(), staticSettings{settings: egypt}, nil, nil)

	for _, mode := range []PostMode{PostSync, PostAsync} {
		in := sale("10")
		in.PostToLedger = mode
		_, err := svc.CreateInvoice(context.Background(), in)
		require.ErrorIs(t, err, ErrLedgerUnavailable)
	}
}

func TestPostInvoiceToLedgerIsIdempotent(t *testing.T) {
	svc, repo, ledger, audit := newTestService()
	inv, err := svc.CreateInvoice(context.Background(), sale("1000"))
	require.NoError(t, err)

	first, err := svc.PostInvoiceToLedger(context.Background(), tenant, inv.ID, cashier)
	require.NoError(t, err)
	second, err := svc.PostInvoiceToLedger(context.Background(), tenant, inv.ID, cashier)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, ledger.calls())
	assert.Equal(t, first.ID, *repo.invoice(inv.ID).JournalEntryID)
	assert.Len(t, audit.logs, 2)
}

func TestPostInvoiceToLedgerRecoversUnlinkedEntry(t *testing.T) {
	svc, repo, ledger, _ := newTestService()
	inv, err := svc.CreateInvoice(context.Background(), sale("1000"))
	require.NoError(t, err)
	// entry exists in the ledger but the invoice never recorded it
	existing, err := ledger.CreateEntryFromInvoice(context.Background(), accounting.InvoicePosting{
		TenantID: tenant, InvoiceID: inv.ID, InvoiceNumber: inv.Number, Date: issueDay, Totals: inv.Totals(),
	})
	require.NoError(t, err)

	entry, err := svc.PostInvoiceToLedger(context.Background(), tenant, inv.ID, cashier)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, entry.ID)
	assert.Equal(t, existing.ID, *repo.invoice(inv.ID).JournalEntryID)
}

func TestPostInvoiceToLedgerUnknownInvoice(t *testing.T) {
	svc, _, _, _ := newTestService()

	_, err := svc.PostInvoiceToLedger(context.Background(), tenant, 99, cashier)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestUpdateInvoiceRecomputesWithIssuedRates(t *testing.T) {
	repo := newMockRepository()
	settings := staticSettings{settings: egypt}
	svc := NewService(repo, settings, newFakeLedger(), nil)
	inv, err := svc.CreateInvoice(context.Background(), sale("1000"))
	require.NoError(t, err)

	// later rate changes do not apply to already issued invoices
	changed := egypt
	changed.DefaultVATRate = dec("10")
	svc.settings = staticSettings{settings: changed}

	value := dec("2000")
	name := "Delta Supplies"
	updated, err := svc.UpdateInvoice(context.Background(), UpdateInput{
		TenantID: tenant, ID: inv.ID, SalesValue: &value, CustomerName: &name, Actor: cashier,
	})
	require.NoError(t, err)
	assert.Equal(t, "Delta Supplies", updated.CustomerName)
	assert.True(t, updated.VAT.Equal(dec("280")))
	assert.True(t, updated.FinalValue.Equal(dec("2330")))
	assert.Equal(t, inv.Number, updated.Number)
	assert.Equal(t, updated, repo.invoice(inv.ID))
}

func TestUpdateInvoiceAuditsBeforeAndAfter(t *testing.T) {
	svc, _, _, audit := newTestService()
	inv, err := svc.CreateInvoice(context.Background(), sale("1000"))
	require.NoError(t, err)
	hasDiscount := true
	discount := dec("65")

	updated, err := svc.UpdateInvoice(context.Background(), UpdateInput{
		TenantID: tenant, ID: inv.ID, HasDiscount: &hasDiscount, DiscountAmount: &discount, Actor: cashier,
	})
	require.NoError(t, err)
	assert.True(t, updated.FinalValue.Equal(dec("1100")))

	require.Len(t, audit.logs, 2)
	log := audit.logs[1]
	assert.Equal(t, shared.AuditActionUpdate, log.Action)
	assert.Equal(t, inv, log.Before)
	assert.Equal(t, updated, log.After)
}

func TestUpdateInvoiceLockedAfterJournaling(t *testing.T) {
	svc, repo, _, _ := newTestService()
	in := sale("1000")
	in.PostToLedger = PostSync
	inv, err := svc.CreateInvoice(context.Background(), in)
	require.NoError(t, err)
	value := dec("1")

	_, err = svc.UpdateInvoice(context.Background(), UpdateInput{TenantID: tenant, ID: inv.ID, SalesValue: &value})
	require.ErrorIs(t, err, ErrInvoiceLocked)
	assert.True(t, repo.invoice(inv.ID).SalesValue.Equal(dec("1000")))
}

func TestUpdateInvoiceDuringPostingCannotChangeJournaledTotals(t *testing.T) {
	svc, repo, ledger, _ := newTestService()
	inv, err := svc.CreateInvoice(context.Background(), sale("1000"))
	require.NoError(t, err)

	updateErr := make(chan error, 1)
	ledger.onCreate = func(accounting.InvoicePosting) {
		ledger.onCreate = nil
		go func() {
			value := dec("2000")
			_, err := svc.UpdateInvoice(context.Background(), UpdateInput{TenantID: tenant, ID: inv.ID, SalesValue: &value})
			updateErr <- err
		}()
	}

	_, err = svc.PostInvoiceToLedger(context.Background(), tenant, inv.ID, cashier)
	require.NoError(t, err)

	select {
	case err := <-updateErr:
		require.ErrorIs(t, err, ErrInvoiceLocked)
	case <-time.After(2 * time.Second):
		t.Fatal("concurrent update did not finish")
	}
	stored := repo.invoice(inv.ID)
	require.Len(t, ledger.postings, 1)
	assert.True(t, stored.Journaled())
	assert.True(t, stored.FinalValue.Equal(ledger.postings[0].Totals.FinalValue), "invoice %s, journal %s", stored.FinalValue, ledger.postings[0].Totals.FinalValue)
}

func TestUpdateInvoiceLockedByUnlinkedEntry(t *testing.T) {
	svc, repo, ledger, _ := newTestService()
	inv, err := svc.CreateInvoice(context.Background(), sale("1000"))
	require.NoError(t, err)
	_, err = ledger.CreateEntryFromInvoice(context.Background(), accounting.InvoicePosting{
		TenantID: tenant, InvoiceID: inv.ID, InvoiceNumber: inv.Number, Date: issueDay, Totals: inv.Totals(),
	})
	require.NoError(t, err)
	value := dec("2000")

	_, err = svc.UpdateInvoice(context.Background(), UpdateInput{TenantID: tenant, ID: inv.ID, SalesValue: &value})
	require.ErrorIs(t, err, ErrInvoiceLocked)
	assert.Equal(t, inv, repo.invoice(inv.ID))
}

func TestUpdateInvoiceRejectsInvalidChanges(t *testing.T) {
	svc, repo, _, _ := newTestService()
	inv, err := svc.CreateInvoice(context.Background(), sale("1000"))
	require.NoError(t, err)

	empty := ""
	_, err = svc.UpdateInvoice(context.Background(), UpdateInput{TenantID: tenant, ID: inv.ID, CustomerName: &empty})
	require.ErrorIs(t, err, shared.ErrValidation)

	negative := dec("-5")
	_, err = svc.UpdateInvoice(context.Background(), UpdateInput{TenantID: tenant, ID: inv.ID, SalesValue: &negative})
	require.ErrorIs(t, err, shared.ErrValidation)

	fine := dec("100.005")
	_, err = svc.UpdateInvoice(context.Background(), UpdateInput{TenantID: tenant, ID: inv.ID, SalesValue: &fine})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.UpdateInvoice(context.Background(), UpdateInput{TenantID: tenant, ID: inv.ID, DiscountAmount: &fine})
	require.ErrorIs(t, err, shared.ErrValidation)
	assert.Equal(t, inv, repo.invoice(inv.ID))

	_, err = svc.UpdateInvoice(context.Background(), UpdateInput{TenantID: tenant, ID: 404, SalesValue: &negative})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGetInvoiceIsTenantScoped(t *testing.T) {
	svc, _, _, _ := newTestService()
	inv, err := svc.CreateInvoice(context.Background(), sale("1000"))
	require.NoError(t, err)

	got, err := svc.GetInvoice(context.Background(), tenant, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, inv, got)

	_, err = svc.GetInvoice(context.Background(), tenant+1, inv.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAuditFailureDoesNotFailInvoice(t *testing.T) {
	svc, _, _, audit := newTestService()
	audit.err = errors.New("audit sink down")

	_, err := svc.CreateInvoice(context.Background(), sale("1000"))
	require.NoError(t, err)
}
