/*
ledger.go - Append-only per-unit credit ledger

PURPOSE:
  The credit ledger is the single source of truth for a unit's banked
  pre-payment surplus. Every surplus banked and every credit drawn
  down is recorded as an immutable entry carrying the balance before
  and after.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: entries are never updated or deleted
  2. CHAINED: each entry's BalanceBefore equals the previous entry's
     BalanceAfter; the first entry chains onto zero
  3. TYPED DELTAS: BalanceAfter moves by +Amount for starting_balance
     and credit_added, by -Amount for credit_used

CORRECTIONS:
  Mistakes are corrected with new entries, never edits. Migrated
  history goes through RebuildLedger (rebuild.go), which recomputes
  every balance from scratch.

SEE ALSO:
  - rebuild.go: one-time legacy import path
  - recorder.go: the only production writer
*/
package engine

import (
	"context"
	"fmt"
)

// =============================================================================
// CREDIT LEDGER
// =============================================================================

// CreditLedger reads and appends per-unit credit entries through a
// Store, enforcing the balance chain on every append.
type CreditLedger struct {
	store Store
}

func NewCreditLedger(store Store) *CreditLedger {
	return &CreditLedger{store: store}
}

// Entries returns the unit's full ledger, chronologically.
func (l *CreditLedger) Entries(ctx context.Context, unit UnitRef) ([]CreditEntry, error) {
	return l.store.Entries(ctx, unit)
}

// CurrentBalance is the BalanceAfter of the last entry, or 0 for an
// empty ledger.
func (l *CreditLedger) CurrentBalance(ctx context.Context, unit UnitRef) (Centavos, error) {
	entries, err := l.store.Entries(ctx, unit)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	return entries[len(entries)-1].BalanceAfter, nil
}

// Append validates the entry against the ledger's last entry and
// persists it. A mismatched chain is a caller error and is rejected
// with DiscontinuityError; nothing is written in that case.
func (l *CreditLedger) Append(ctx context.Context, e CreditEntry) error {
	if err := ValidateEntry(e); err != nil {
		return err
	}
	balance, err := l.CurrentBalance(ctx, e.Unit)
	if err != nil {
		return err
	}
	if e.BalanceBefore != balance {
		return &DiscontinuityError{Unit: e.Unit, At: e.Timestamp, Expected: balance, Got: e.BalanceBefore}
	}
	return l.store.AppendEntry(ctx, e)
}

// =============================================================================
// ENTRY VALIDATION
// =============================================================================

// ValidateEntry checks an entry's internal consistency: non-negative
// magnitude and the typed balance delta.
func ValidateEntry(e CreditEntry) error {
	if e.Amount < 0 {
		return fmt.Errorf("%w: entry amount %d is negative", ErrLedgerDiscontinuity, e.Amount)
	}
	switch e.Type {
	case EntryStartingBalance, EntryCreditAdded:
		if e.BalanceAfter != e.BalanceBefore+e.Amount {
			return &DiscontinuityError{Unit: e.Unit, At: e.Timestamp, Expected: e.BalanceBefore + e.Amount, Got: e.BalanceAfter}
		}
	case EntryCreditUsed:
		if e.BalanceAfter != e.BalanceBefore-e.Amount {
			return &DiscontinuityError{Unit: e.Unit, At: e.Timestamp, Expected: e.BalanceBefore - e.Amount, Got: e.BalanceAfter}
		}
	default:
		return fmt.Errorf("%w: unknown entry type %q", ErrLedgerDiscontinuity, e.Type)
	}
	return nil
}

// ReplayBalance recomputes the final balance by walking entries from
// the start, validating the chain as it goes. Used by tests and
// consistency checks: the replayed balance must equal the stored one.
func ReplayBalance(entries []CreditEntry) (Centavos, error) {
	var balance Centavos
	for i, e := range entries {
		if err := ValidateEntry(e); err != nil {
			return 0, fmt.Errorf("entry %d: %w", i, err)
		}
		if e.BalanceBefore != balance {
			return 0, &DiscontinuityError{Unit: e.Unit, At: e.Timestamp, Expected: balance, Got: e.BalanceBefore}
		}
		balance = e.BalanceAfter
	}
	return balance, nil
}
