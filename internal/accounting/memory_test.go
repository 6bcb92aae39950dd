package accounting

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// memoryRepo is an in-memory RepositoryPort. WithTx serialises callers and
// restores a snapshot when fn fails, which mirrors rollback.
type memoryRepo struct {
	mu            sync.Mutex
	nextID        int64
	accounts      map[int64]Account
	entries       map[int64]JournalEntry
	links         map[string]int64
	sequences     map[int64]int64
	mappings      []mappings.AccountMapping
	activityReads int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		accounts:  make(map[int64]Account),
		entries:   make(map[int64]JournalEntry),
		links:     make(map[string]int64),
		sequences: make(map[int64]int64),
	}
}

type memorySnapshot struct {
	nextID    int64
	accounts  map[int64]Account
	entries   map[int64]JournalEntry
	links     map[string]int64
	sequences map[int64]int64
}

func (r *memoryRepo) snapshot() memorySnapshot {
	s := memorySnapshot{
		nextID:    r.nextID,
		accounts:  make(map[int64]Account, len(r.accounts)),
		entries:   make(map[int64]JournalEntry, len(r.entries)),
		links:     make(map[string]int64, len(r.links)),
		sequences: make(map[int64]int64, len(r.sequences)),
	}
	for k, v := range r.accounts {
		s.accounts[k] = v
	}
	for k, v := range r.entries {
		v.Lines = append([]Transaction(nil), v.Lines...)
		s.entries[k] = v
	}
	for k, v := range r.links {
		s.links[k] = v
	}
	for k, v := range r.sequences {
		s.sequences[k] = v
	}
	return s
}

func (r *memoryRepo) restore(s memorySnapshot) {
	r.nextID = s.nextID
	r.accounts = s.accounts
	r.entries = s.entries
	r.links = s.links
	r.sequences = s.sequences
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := r.snapshot()
	if err := fn(ctx, memoryTx{r}); err != nil {
		r.restore(snap)
		return err
	}
	return nil
}

func (r *memoryRepo) entryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *memoryRepo) entry(id int64) JournalEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[id]
	e.Lines = append([]Transaction(nil), e.Lines...)
	return e
}

func (r *memoryRepo) setAccountActive(id int64, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc := r.accounts[id]
	acc.IsActive = active
	r.accounts[id] = acc
}

type memoryTx struct {
	r *memoryRepo
}

func (tx memoryTx) id() int64 {
	tx.r.nextID++
	return tx.r.nextID
}

func (tx memoryTx) GetAccount(ctx context.Context, tenantID, id int64) (Account, error) {
	acc, ok := tx.r.accounts[id]
	if !ok || acc.TenantID != tenantID {
		return Account{}, shared.NewNotFound("account", id)
	}
	return acc, nil
}

func (tx memoryTx) GetAccounts(ctx context.Context, tenantID int64, ids []int64) (map[int64]Account, error) {
	out := make(map[int64]Account)
	for _, id := range ids {
		if acc, ok := tx.r.accounts[id]; ok && acc.TenantID == tenantID {
			out[id] = acc
		}
	}
	return out, nil
}

func (tx memoryTx) GetAccountByCode(ctx context.Context, tenantID int64, code string) (Account, error) {
	for _, acc := range tx.r.accounts {
		if acc.TenantID == tenantID && acc.Code == code {
			return acc, nil
		}
	}
	return Account{}, shared.NewNotFound("account", code)
}

func (tx memoryTx) ListAccounts(ctx context.Context, tenantID int64) ([]Account, error) {
	var out []Account
	for _, acc := range tx.r.accounts {
		if acc.TenantID == tenantID {
			out = append(out, acc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (tx memoryTx) InsertAccount(ctx context.Context, a Account) (Account, error) {
	if _, err := tx.GetAccountByCode(ctx, a.TenantID, a.Code); err == nil {
		return Account{}, ErrDuplicateAccount
	}
	a.ID = tx.id()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	tx.r.accounts[a.ID] = a
	return a, nil
}

func (tx memoryTx) NextEntryNumber(ctx context.Context, tenantID, base int64) (int64, error) {
	next, ok := tx.r.sequences[tenantID]
	if ok {
		next++
	} else {
		next = base
	}
	tx.r.sequences[tenantID] = next
	return next, nil
}

func (tx memoryTx) InsertJournalEntry(ctx context.Context, e JournalEntry) (JournalEntry, error) {
	e.ID = tx.id()
	e.CreatedAt = time.Now()
	e.UpdatedAt = e.CreatedAt
	tx.r.entries[e.ID] = e
	return e, nil
}

func (tx memoryTx) InsertTransactions(ctx context.Context, tenantID, entryID int64, lines []Transaction) ([]Transaction, error) {
	e, ok := tx.r.entries[entryID]
	if !ok || e.TenantID != tenantID {
		return nil, shared.NewNotFound("journal entry", entryID)
	}
	out := make([]Transaction, 0, len(lines))
	for _, line := range lines {
		line.ID = tx.id()
		line.EntryID = entryID
		line.Account = nil
		out = append(out, line)
	}
	e.Lines = append(e.Lines, out...)
	tx.r.entries[entryID] = e
	return append([]Transaction(nil), out...), nil
}

func linkKey(tenantID int64, sourceType string, sourceID uuid.UUID) string {
	return fmt.Sprintf("%d:%s:%s", tenantID, sourceType, sourceID)
}

func (tx memoryTx) LinkSource(ctx context.Context, tenantID int64, sourceType string, sourceID uuid.UUID, entryID int64) error {
	key := linkKey(tenantID, sourceType, sourceID)
	if _, ok := tx.r.links[key]; ok {
		return ErrSourceConflict
	}
	tx.r.links[key] = entryID
	return nil
}

func (tx memoryTx) FindEntryBySource(ctx context.Context, tenantID int64, sourceType string, sourceID uuid.UUID) (JournalEntry, error) {
	id, ok := tx.r.links[linkKey(tenantID, sourceType, sourceID)]
	if !ok {
		return JournalEntry{}, shared.NewNotFound("source link", sourceID)
	}
	return tx.GetEntry(ctx, tenantID, id)
}

func (tx memoryTx) GetEntry(ctx context.Context, tenantID, id int64) (JournalEntry, error) {
	e, ok := tx.r.entries[id]
	if !ok || e.TenantID != tenantID {
		return JournalEntry{}, shared.NewNotFound("journal entry", id)
	}
	lines := make([]Transaction, len(e.Lines))
	for i, line := range e.Lines {
		acc := tx.r.accounts[line.AccountID]
		line.Account = &acc
		lines[i] = line
	}
	e.Lines = lines
	return e, nil
}

func (tx memoryTx) GetEntryForUpdate(ctx context.Context, tenantID, id int64) (JournalEntry, error) {
	return tx.GetEntry(ctx, tenantID, id)
}

func (tx memoryTx) MarkPosted(ctx context.Context, tenantID, id int64, postedBy *int64, at time.Time) error {
	e, ok := tx.r.entries[id]
	if !ok || e.TenantID != tenantID || e.Status != EntryStatusDraft {
		return ErrInvalidStatus
	}
	e.Status = EntryStatusPosted
	e.PostedBy = postedBy
	e.PostedAt = &at
	tx.r.entries[id] = e
	return nil
}

func (tx memoryTx) ListEntries(ctx context.Context, tenantID int64, filter EntryFilter) ([]JournalEntry, error) {
	var out []JournalEntry
	for _, e := range tx.r.entries {
		if e.TenantID != tenantID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if filter.From != nil && e.Date.Before(*filter.From) {
			continue
		}
		if filter.To != nil && e.Date.After(*filter.To) {
			continue
		}
		e.Lines = nil
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (tx memoryTx) postedWithin(tenantID int64, from, to *time.Time) []JournalEntry {
	var out []JournalEntry
	for _, e := range tx.r.entries {
		if e.TenantID != tenantID || e.Status != EntryStatusPosted {
			continue
		}
		if from != nil && e.Date.Before(*from) {
			continue
		}
		if to != nil && e.Date.After(*to) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (tx memoryTx) ListPostedTransactions(ctx context.Context, tenantID, accountID int64, asOf *time.Time) ([]Transaction, error) {
	var out []Transaction
	for _, e := range tx.postedWithin(tenantID, nil, asOf) {
		for _, line := range e.Lines {
			if line.AccountID == accountID {
				out = append(out, line)
			}
		}
	}
	return out, nil
}

func (tx memoryTx) SumPostedActivity(ctx context.Context, tenantID int64, from, to *time.Time) ([]reports.AccountBalance, error) {
	tx.r.activityReads++
	sums := make(map[int64]*reports.AccountBalance)
	for _, acc := range tx.r.accounts {
		if acc.TenantID != tenantID {
			continue
		}
		sums[acc.ID] = &reports.AccountBalance{
			AccountID:     acc.ID,
			Code:          acc.Code,
			Name:          acc.Name,
			Type:          string(acc.Type),
			NormalBalance: string(acc.NormalBalance),
			IsActive:      acc.IsActive,
		}
	}
	for _, e := range tx.postedWithin(tenantID, from, to) {
		for _, line := range e.Lines {
			b := sums[line.AccountID]
			if line.Type == Debit {
				b.Debit = b.Debit.Add(line.Amount)
			} else {
				b.Credit = b.Credit.Add(line.Amount)
			}
		}
	}
	out := make([]reports.AccountBalance, 0, len(sums))
	for _, b := range sums {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (tx memoryTx) ListAccountMappings(ctx context.Context, tenantID int64, module string) ([]mappings.AccountMapping, error) {
	var out []mappings.AccountMapping
	for _, m := range tx.r.mappings {
		if m.TenantID == tenantID && m.Module == module {
			out = append(out, m)
		}
	}
	return out, nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
	err  error
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return a.err
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Entity+"."+l.Action)
	}
	return out
}

type countingMetrics struct {
	mu       sync.Mutex
	created  map[string]int
	posted   int
	rejected map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{created: map[string]int{}, rejected: map[string]int{}}
}

func (m *countingMetrics) EntryCreated(source string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created[source]++
}

func (m *countingMetrics) EntryPosted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posted++
}

func (m *countingMetrics) EntryRejected(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[reason]++
}

func (r *memoryRepo) reads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activityReads
}
