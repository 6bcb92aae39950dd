package accounting

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PostedEntry is a read-only view of a posted journal entry. It has no
// mutators; the only way to change the books after posting is a new entry.
type PostedEntry struct {
	entry JournalEntry
}

func newPostedEntry(e JournalEntry) PostedEntry {
	lines := make([]Transaction, len(e.Lines))
	copy(lines, e.Lines)
	e.Lines = lines
	return PostedEntry{entry: e}
}

func (p PostedEntry) ID() int64 { return p.entry.ID }
func (p PostedEntry) TenantID() int64 { return p.entry.TenantID }
func (p PostedEntry) EntryNumber() string { return p.entry.EntryNumber }
func (p PostedEntry) Date() time.Time { return p.entry.Date }
func (p PostedEntry) Description() string { return p.entry.Description }
func (p PostedEntry) SourceType() string { return p.entry.SourceType }
func (p PostedEntry) SourceID() uuid.UUID { return p.entry.SourceID }
func (p PostedEntry) CreatedBy() int64 { return p.entry.CreatedBy }

// PostedBy returns the user id of the poster, zero for system postings.
func (p PostedEntry) PostedBy() int64 {
	if p.entry.PostedBy == nil {
		return 0
	}
	return *p.entry.PostedBy
}

// PostedAt returns the posting timestamp.
func (p PostedEntry) PostedAt() time.Time {
	if p.entry.PostedAt == nil {
		return time.Time{}
	}
	return *p.entry.PostedAt
}

// Lines returns a copy of the entry lines.
func (p PostedEntry) Lines() []Transaction {
	out := make([]Transaction, len(p.entry.Lines))
	copy(out, p.entry.Lines)
	return out
}

// Totals sums the debit and credit lines.
func (p PostedEntry) Totals() (debits, credits decimal.Decimal) {
	return p.entry.Totals()
}

// Entry returns a detached copy of the underlying entry.
func (p PostedEntry) Entry() JournalEntry {
	e := p.entry
	e.Lines = p.Lines()
	return e
}
