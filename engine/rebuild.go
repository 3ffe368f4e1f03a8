/*
rebuild.go - One-time ledger rebuild from legacy free-text history

PURPOSE:
  The previous system tracked credit balances as human-written notes
  ("abono 1,250.00", "se aplicó saldo -300"). This is the migration
  path that turns those notes into a typed, chained ledger.

RULES:
  - Every BalanceBefore/After is recomputed from scratch. Balances
    stored alongside the legacy notes are never trusted.
  - A note that cannot be parsed into a clean signed delta is surfaced
    as unparsed and excluded from the replayed balance. The importer
    never guesses; ambiguous history is a manual-review problem, not
    a parsing heuristic.
  - This path exists for migration only. Production writes go through
    the recorder.
*/
package engine

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEGACY INPUT
// =============================================================================

// LegacyNote is one free-text credit-history record from the old
// system.
type LegacyNote struct {
	Timestamp time.Time
	Text      string
}

// UnparsedNote is a note the importer refused to interpret.
type UnparsedNote struct {
	Note   LegacyNote
	Reason string
}

// RebuildResult is the replayed ledger plus everything that needs
// manual review.
type RebuildResult struct {
	Entries      []CreditEntry
	Unparsed     []UnparsedNote
	FinalBalance Centavos
}

// =============================================================================
// NOTE PARSING
// =============================================================================

// amountPattern matches a decimal money amount with optional thousand
// separators and an optional explicit sign, e.g. "1,250.00" or "-300".
var amountPattern = regexp.MustCompile(`[+-]?\d+(?:,\d{3})*(?:\.\d+)?`)

// Direction cues. Spanish and English forms both appear in historical
// data.
var (
	addCues = []string{"abono", "deposito", "depósito", "saldo a favor", "added", "deposit", "credit in"}
	useCues = []string{"se aplico", "se aplicó", "aplicado", "uso de saldo", "used", "applied", "charge against"}
)

// parseNote extracts a typed delta from one note. Returns reason != ""
// when the note must go to manual review.
func parseNote(text string) (entryType EntryType, amount Centavos, reason string) {
	lower := strings.ToLower(text)

	added := containsAny(lower, addCues)
	used := containsAny(lower, useCues)

	matches := amountPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return "", 0, "no amount found"
	}
	// Notes carrying dates or folio numbers produce several candidates;
	// picking one would be a guess.
	if len(matches) > 1 {
		return "", 0, "multiple candidate amounts found"
	}
	match := matches[0]
	dec, err := decimal.NewFromString(strings.ReplaceAll(match, ",", ""))
	if err != nil {
		return "", 0, "unreadable amount: " + match
	}
	// Exact shift to minor units; reject sub-centavo precision.
	shifted := dec.Shift(2)
	if !shifted.Equal(shifted.Truncate(0)) {
		return "", 0, "amount has sub-centavo precision: " + match
	}
	cents := Centavos(shifted.IntPart())

	trimmed := strings.TrimSpace(match)
	negative := strings.HasPrefix(trimmed, "-")
	positive := strings.HasPrefix(trimmed, "+")
	switch {
	case added && used:
		return "", 0, "ambiguous direction: both add and use cues present"
	case added:
		if negative {
			return "", 0, "add cue with negative amount"
		}
		return EntryCreditAdded, cents, ""
	case used:
		if cents < 0 {
			cents = -cents
		}
		return EntryCreditUsed, cents, ""
	case negative:
		return EntryCreditUsed, -cents, ""
	case positive:
		return EntryCreditAdded, cents, ""
	default:
		return "", 0, "no direction cue"
	}
}

func containsAny(s string, cues []string) bool {
	for _, c := range cues {
		if strings.Contains(s, c) {
			return true
		}
	}
	return false
}

// =============================================================================
// REBUILD
// =============================================================================

// RebuildLedger replays legacy notes, in order, into a chained ledger
// starting from the given opening balance. Notes that fail to parse
// are collected in Unparsed and skipped in the replay.
//
// The caller persists the resulting entries through the store's batch
// path; this function only computes.
func RebuildLedger(unit UnitRef, starting Centavos, startingAt time.Time, notes []LegacyNote, newID func() string) RebuildResult {
	var result RebuildResult
	balance := Centavos(0)

	if starting != 0 {
		entry := CreditEntry{
			ID:            EntryID(newID()),
			Unit:          unit,
			Timestamp:     startingAt,
			Type:          EntryStartingBalance,
			Amount:        starting,
			BalanceBefore: 0,
			BalanceAfter:  starting,
		}
		result.Entries = append(result.Entries, entry)
		balance = starting
	}

	for _, note := range notes {
		entryType, amount, reason := parseNote(note.Text)
		if reason != "" {
			result.Unparsed = append(result.Unparsed, UnparsedNote{Note: note, Reason: reason})
			continue
		}

		entry := CreditEntry{
			ID:            EntryID(newID()),
			Unit:          unit,
			Timestamp:     note.Timestamp,
			Type:          entryType,
			Amount:        amount,
			BalanceBefore: balance,
		}
		switch entryType {
		case EntryCreditAdded:
			entry.BalanceAfter = balance + amount
		case EntryCreditUsed:
			entry.BalanceAfter = balance - amount
		}
		balance = entry.BalanceAfter
		result.Entries = append(result.Entries, entry)
	}

	result.FinalBalance = balance
	return result
}
