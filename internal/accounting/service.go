package accounting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/sequence"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// DefaultEntryNumberBase is the first entry number issued to a tenant.
const DefaultEntryNumberBase int64 = 1000

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Metrics receives ledger counters.
type Metrics interface {
	EntryCreated(source string)
	EntryPosted()
	EntryRejected(reason string)
}

type noopMetrics struct{}

func (noopMetrics) EntryCreated(string)  {}
func (noopMetrics) EntryPosted()         {}
func (noopMetrics) EntryRejected(string) {}

// ServiceConfig tunes the ledger service.
type ServiceConfig struct {
	EntryNumberBase int64
	// InvoiceAccountCodes maps invoice roles to fallback account codes used
	// when a tenant has no explicit mapping.
	InvoiceAccountCodes map[string]string
}

// Service coordinates journal entries, balances and financial statements.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	cache    *ReportCache
	metrics  Metrics
	logger   *slog.Logger
	validate *validator.Validate
	cfg      ServiceConfig
	now      func() time.Time
	builds   singleflight.Group
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, audit AuditPort, cfg ServiceConfig) *Service {
	if cfg.EntryNumberBase <= 0 {
		cfg.EntryNumberBase = DefaultEntryNumberBase
	}
	codes := make(map[string]string, len(DefaultInvoiceAccountCodes))
	for role, code := range DefaultInvoiceAccountCodes {
		codes[role] = code
	}
	for role, code := range cfg.InvoiceAccountCodes {
		if code != "" {
			codes[role] = code
		}
	}
	cfg.InvoiceAccountCodes = codes
	return &Service{
		repo:     repo,
		audit:    audit,
		metrics:  noopMetrics{},
		logger:   slog.Default(),
		validate: validator.New(),
		cfg:      cfg,
		now:      time.Now,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithLogger sets the logger used for side-effect failures.
func (s *Service) WithLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// WithMetrics attaches a metrics sink.
func (s *Service) WithMetrics(m Metrics) {
	if m != nil {
		s.metrics = m
	}
}

// WithCache enables report caching.
func (s *Service) WithCache(c *ReportCache) {
	s.cache = c
}

// CreateJournalEntry validates and persists a new draft journal entry.
func (s *Service) CreateJournalEntry(ctx context.Context, input CreateEntryInput) (JournalEntry, error) {
	lines, err := s.prepareEntry(input)
	if err != nil {
		return JournalEntry{}, err
	}
	var entry JournalEntry
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if input.SourceType != "" && input.SourceID != uuid.Nil {
			if err := ensureSourceFree(ctx, tx, input.TenantID, input.SourceType, input.SourceID); err != nil {
				return err
			}
		}
		var err error
		entry, err = s.insertEntry(ctx, tx, input, lines, false)
		return err
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.afterCreate(ctx, entry, input.Actor)
	return entry, nil
}

// PostJournalEntry moves a draft entry to POSTED. The transition is one-way.
func (s *Service) PostJournalEntry(ctx context.Context, tenantID, entryID int64, actor shared.Actor) (PostedEntry, error) {
	if tenantID <= 0 || entryID <= 0 {
		return PostedEntry{}, shared.NewValidationError("entry_id", "tenant and entry id required")
	}
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetEntryForUpdate(ctx, tenantID, entryID)
		if err != nil {
			return err
		}
		if current.Status == EntryStatusPosted {
			return &AlreadyPostedError{EntryID: current.ID, EntryNumber: current.EntryNumber, PostedAt: current.PostedAt}
		}
		if current.Status != EntryStatusDraft {
			return ErrInvalidStatus
		}
		at := s.now().UTC()
		postedBy := actorID(actor)
		if err := tx.MarkPosted(ctx, tenantID, entryID, postedBy, at); err != nil {
			return err
		}
		current.Status = EntryStatusPosted
		current.PostedAt = &at
		current.PostedBy = postedBy
		entry = current
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyPosted) {
			s.metrics.EntryRejected("already_posted")
		}
		return PostedEntry{}, err
	}
	s.metrics.EntryPosted()
	s.invalidateReports(ctx, tenantID)
	s.record(ctx, shared.AuditLog{
		TenantID: tenantID,
		Action:   shared.AuditActionApprove,
		Entity:   "journal_entry",
		EntityID: strconv.FormatInt(entry.ID, 10),
		Before:   map[string]any{"status": EntryStatusDraft},
		After:    map[string]any{"status": EntryStatusPosted, "posted_at": entry.PostedAt},
		Meta:     map[string]any{"entry_number": entry.EntryNumber},
	}.WithActor(actor))
	return newPostedEntry(entry), nil
}

// GetJournalEntry loads an entry with its lines.
func (s *Service) GetJournalEntry(ctx context.Context, tenantID, entryID int64) (JournalEntry, error) {
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = tx.GetEntry(ctx, tenantID, entryID)
		return err
	})
	return entry, err
}

// ListJournalEntries retrieves entry headers matching filter, newest first.
func (s *Service) ListJournalEntries(ctx context.Context, tenantID int64, filter EntryFilter) ([]JournalEntry, error) {
	if filter.Status != "" && filter.Status != EntryStatusDraft && filter.Status != EntryStatusPosted {
		return nil, shared.NewValidationError("status", "unknown status %q", filter.Status)
	}
	var entries []JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entries, err = tx.ListEntries(ctx, tenantID, filter)
		return err
	})
	return entries, err
}

// FindEntryBySource returns the entry linked to an originating document.
func (s *Service) FindEntryBySource(ctx context.Context, tenantID int64, sourceType string, sourceID uuid.UUID) (JournalEntry, error) {
	var entry JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = tx.FindEntryBySource(ctx, tenantID, sourceType, sourceID)
		return err
	})
	return entry, err
}

// prepareEntry validates input shape and the double-entry invariant before
// any storage access.
func (s *Service) prepareEntry(input CreateEntryInput) ([]Transaction, error) {
	if err := s.validate.Struct(input); err != nil {
		s.metrics.EntryRejected("validation")
		return nil, toValidationError(err)
	}
	lines := make([]Transaction, 0, len(input.Lines))
	for idx, line := range input.Lines {
		field := fmt.Sprintf("lines[%d].amount", idx)
		if !line.Amount.IsPositive() {
			s.metrics.EntryRejected("validation")
			return nil, shared.NewValidationError(field, "must be greater than zero")
		}
		if !line.Amount.Round(4).Equal(line.Amount) {
			s.metrics.EntryRejected("validation")
			return nil, shared.NewValidationError(field, "supports at most 4 decimal places")
		}
		lines = append(lines, Transaction{
			AccountID:   line.AccountID,
			Type:        line.Type,
			Amount:      line.Amount,
			Description: line.Description,
		})
	}
	debits, credits := sumLines(lines)
	if !debits.IsPositive() || !credits.IsPositive() {
		s.metrics.EntryRejected("validation")
		return nil, shared.NewValidationError("lines", "entry needs at least one debit and one credit line")
	}
	// Amounts are exact to 4dp, so any difference is a real imbalance.
	// reports.Tolerance only applies when comparing report totals.
	if !debits.Equal(credits) {
		s.metrics.EntryRejected("unbalanced")
		return nil, &UnbalancedEntryError{TotalDebits: debits, TotalCredits: credits}
	}
	return lines, nil
}

// insertEntry resolves accounts, allocates the entry number and writes the
// entry, its lines and the optional source link inside tx.
func (s *Service) insertEntry(ctx context.Context, tx TxRepository, input CreateEntryInput, lines []Transaction, allowInactive bool) (JournalEntry, error) {
	ids := make([]int64, 0, len(lines))
	seen := make(map[int64]struct{}, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.AccountID]; ok {
			continue
		}
		seen[line.AccountID] = struct{}{}
		ids = append(ids, line.AccountID)
	}
	accounts, err := tx.GetAccounts(ctx, input.TenantID, ids)
	if err != nil {
		return JournalEntry{}, err
	}
	for idx, line := range lines {
		acc, ok := accounts[line.AccountID]
		if !ok {
			return JournalEntry{}, shared.NewNotFound("account", line.AccountID)
		}
		if !acc.IsActive && !allowInactive {
			return JournalEntry{}, shared.NewValidationError(fmt.Sprintf("lines[%d].account_id", idx), "account %s is inactive", acc.Code)
		}
	}

	n, err := tx.NextEntryNumber(ctx, input.TenantID, s.cfg.EntryNumberBase)
	if err != nil {
		return JournalEntry{}, err
	}
	entry, err := tx.InsertJournalEntry(ctx, JournalEntry{
		TenantID:    input.TenantID,
		EntryNumber: sequence.Format(EntryNumberPrefix, n),
		Date:        input.Date,
		Description: input.Description,
		SourceType:  input.SourceType,
		SourceID:    input.SourceID,
		Status:      EntryStatusDraft,
		CreatedBy:   input.Actor.UserID,
	})
	if err != nil {
		return JournalEntry{}, err
	}
	stored, err := tx.InsertTransactions(ctx, input.TenantID, entry.ID, lines)
	if err != nil {
		return JournalEntry{}, err
	}
	for i := range stored {
		acc := accounts[stored[i].AccountID]
		stored[i].Account = &acc
	}
	entry.Lines = stored
	if input.SourceType != "" && input.SourceID != uuid.Nil {
		if err := tx.LinkSource(ctx, input.TenantID, input.SourceType, input.SourceID, entry.ID); err != nil {
			if errors.Is(err, ErrSourceConflict) {
				return JournalEntry{}, ErrSourceAlreadyLinked
			}
			return JournalEntry{}, err
		}
	}
	return entry, nil
}

func (s *Service) afterCreate(ctx context.Context, entry JournalEntry, actor shared.Actor) {
	source := entry.SourceType
	if source == "" {
		source = SourceManual
	}
	s.metrics.EntryCreated(source)
	debits, _ := entry.Totals()
	s.record(ctx, shared.AuditLog{
		TenantID: entry.TenantID,
		Action:   shared.AuditActionCreate,
		Entity:   "journal_entry",
		EntityID: strconv.FormatInt(entry.ID, 10),
		After: map[string]any{
			"entry_number": entry.EntryNumber,
			"date":         entry.Date.Format("2006-01-02"),
			"status":       entry.Status,
			"lines":        len(entry.Lines),
			"total":        debits.StringFixed(2),
		},
		Meta: map[string]any{
			"source_type": entry.SourceType,
			"source_id":   sourceString(entry.SourceID),
		},
	}.WithActor(actor))
}

func ensureSourceFree(ctx context.Context, tx TxRepository, tenantID int64, sourceType string, sourceID uuid.UUID) error {
	existing, err := tx.FindEntryBySource(ctx, tenantID, sourceType, sourceID)
	if err == nil {
		return fmt.Errorf("%w: %s", ErrSourceAlreadyLinked, existing.EntryNumber)
	}
	if errors.Is(err, shared.ErrNotFound) {
		return nil
	}
	return err
}

func (s *Service) record(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if log.At.IsZero() {
		log.At = s.now()
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("accounting: audit record failed",
			slog.String("entity", log.Entity),
			slog.String("entity_id", log.EntityID),
			slog.String("action", log.Action),
			slog.Any("error", err))
	}
}

// cachedReport builds a report once per cache version. Concurrent callers for
// the same key share one build; cache failures fall back to a direct build.
func (s *Service) cachedReport(ctx context.Context, tenantID int64, dest any, build func(context.Context) (any, error), parts ...string) error {
	key, err := s.cache.BuildKey(ctx, tenantID, parts...)
	if err != nil {
		s.logger.Warn("accounting: report cache unavailable", slog.Int64("tenant_id", tenantID), slog.Any("error", err))
		return s.sharedBuild(ctx, "nocache:"+strconv.FormatInt(tenantID, 10)+":"+strings.Join(parts, ":"), dest, func(ctx context.Context) ([]byte, error) {
			return (*ReportCache)(nil).FetchJSON(ctx, "", build)
		})
	}
	return s.sharedBuild(ctx, key, dest, func(ctx context.Context) ([]byte, error) {
		var buildErr error
		raw, err := s.cache.FetchJSON(ctx, key, func(ctx context.Context) (any, error) {
			v, err := build(ctx)
			buildErr = err
			return v, err
		})
		if buildErr != nil {
			return nil, buildErr
		}
		if err != nil && raw == nil {
			s.logger.Warn("accounting: report cache read failed", slog.String("key", key), slog.Any("error", err))
			return (*ReportCache)(nil).FetchJSON(ctx, key, build)
		}
		if err != nil {
			s.logger.Warn("accounting: report cache write failed", slog.String("key", key), slog.Any("error", err))
		}
		return raw, nil
	})
}

func (s *Service) sharedBuild(ctx context.Context, key string, dest any, fn func(context.Context) ([]byte, error)) error {
	v, err, _ := s.builds.Do(key, func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(v.([]byte), dest)
}

func (s *Service) invalidateReports(ctx context.Context, tenantID int64) {
	if err := s.cache.Bump(ctx, tenantID); err != nil {
		s.logger.Warn("accounting: report cache invalidation failed", slog.Int64("tenant_id", tenantID), slog.Any("error", err))
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

func actorID(actor shared.Actor) *int64 {
	if actor.UserID == 0 {
		return nil
	}
	id := actor.UserID
	return &id
}

func sourceString(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

func decimalsEqual(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(reports.Tolerance)
}
