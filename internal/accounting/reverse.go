package accounting

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

var reversalSourceNamespace = uuid.MustParse("3f6d2b7e-5c1a-4e8f-b0a4-9d27c6e1f853")

// ReversalSourceID derives the source id linking a reversal to its original.
func ReversalSourceID(tenantID, entryID int64) uuid.UUID {
	return uuid.NewSHA1(reversalSourceNamespace, []byte(fmt.Sprintf("reversal:%d:%d", tenantID, entryID)))
}

// ReverseJournalEntry corrects a posted entry by creating a new draft entry
// with every line mirrored. The original stays untouched and each entry can
// be reversed once.
func (s *Service) ReverseJournalEntry(ctx context.Context, input ReverseInput) (JournalEntry, error) {
	if input.TenantID <= 0 || input.EntryID <= 0 {
		return JournalEntry{}, shared.NewValidationError("entry_id", "tenant and entry id required")
	}
	var reversal JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetEntry(ctx, input.TenantID, input.EntryID)
		if err != nil {
			return err
		}
		if original.Status != EntryStatusPosted {
			return fmt.Errorf("%w: only posted entries can be reversed", ErrInvalidStatus)
		}
		sourceID := ReversalSourceID(input.TenantID, original.ID)
		if err := ensureSourceFree(ctx, tx, input.TenantID, SourceReversal, sourceID); err != nil {
			return err
		}
		date := s.now().UTC()
		if input.Date != nil {
			date = *input.Date
		}
		description := input.Description
		if description == "" {
			description = "Reversal of " + original.EntryNumber
		}
		req := CreateEntryInput{
			TenantID:    input.TenantID,
			Date:        date,
			Description: description,
			SourceType:  SourceReversal,
			SourceID:    sourceID,
			Actor:       input.Actor,
			Lines:       reverseLines(original.Lines),
		}
		lines, err := s.prepareEntry(req)
		if err != nil {
			return err
		}
		// Accounts deactivated since the original posting must still be reversible.
		reversal, err = s.insertEntry(ctx, tx, req, lines, true)
		return err
	})
	if err != nil {
		return JournalEntry{}, err
	}
	s.afterCreate(ctx, reversal, input.Actor)
	s.record(ctx, shared.AuditLog{
		TenantID: input.TenantID,
		Action:   shared.AuditActionCreate,
		Entity:   "journal_reversal",
		EntityID: strconv.FormatInt(input.EntryID, 10),
		Meta: map[string]any{
			"reversal_id":     reversal.ID,
			"reversal_number": reversal.EntryNumber,
		},
	}.WithActor(input.Actor))
	return reversal, nil
}

func reverseLines(lines []Transaction) []LineInput {
	out := make([]LineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, LineInput{
			AccountID:   line.AccountID,
			Type:        line.Type.Opposite(),
			Amount:      line.Amount,
			Description: line.Description,
		})
	}
	return out
}
