package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vecinal/billing-engine/engine"
	"github.com/vecinal/billing-engine/engine/store"
)

// =============================================================================
// CHAIN VALIDATION
// =============================================================================

func entry(id string, typ engine.EntryType, amount, before, after engine.Centavos) engine.CreditEntry {
	return engine.CreditEntry{
		ID:            engine.EntryID(id),
		Unit:          testUnit,
		Timestamp:     date(2026, time.January, 1),
		Type:          typ,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
	}
}

func TestCreditLedger_Append_ChainsFromZero(t *testing.T) {
	// GIVEN: An empty ledger
	// WHEN: Appending a valid first entry chained from zero
	// THEN: It persists and the balance reflects it

	ledger := engine.NewCreditLedger(store.NewMemory())
	ctx := context.Background()

	err := ledger.Append(ctx, entry("e-1", engine.EntryCreditAdded, 500, 0, 500))
	require.NoError(t, err)

	balance, err := ledger.CurrentBalance(ctx, testUnit)
	require.NoError(t, err)
	assert.Equal(t, engine.Centavos(500), balance)
}

func TestCreditLedger_Append_RejectsBrokenChain(t *testing.T) {
	// GIVEN: A ledger whose last balance is 500
	// WHEN: Appending an entry claiming BalanceBefore of 400
	// THEN: DiscontinuityError; nothing is written

	ledger := engine.NewCreditLedger(store.NewMemory())
	ctx := context.Background()
	require.NoError(t, ledger.Append(ctx, entry("e-1", engine.EntryCreditAdded, 500, 0, 500)))

	err := ledger.Append(ctx, entry("e-2", engine.EntryCreditUsed, 100, 400, 300))
	assert.ErrorIs(t, err, engine.ErrLedgerDiscontinuity)

	entries, err := ledger.Entries(ctx, testUnit)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestValidateEntry_TypedDeltas(t *testing.T) {
	// GIVEN: Entries of each type
	// WHEN: Validating their balance deltas
	// THEN: credit_added/starting_balance move up, credit_used moves
	//       down; anything else is rejected

	assert.NoError(t, engine.ValidateEntry(entry("e", engine.EntryStartingBalance, 1000, 0, 1000)))
	assert.NoError(t, engine.ValidateEntry(entry("e", engine.EntryCreditAdded, 250, 1000, 1250)))
	assert.NoError(t, engine.ValidateEntry(entry("e", engine.EntryCreditUsed, 250, 1250, 1000)))

	// Wrong direction for the type.
	assert.Error(t, engine.ValidateEntry(entry("e", engine.EntryCreditUsed, 250, 1000, 1250)))
	// Negative magnitude.
	assert.ErrorIs(t, engine.ValidateEntry(entry("e", engine.EntryCreditAdded, -5, 0, -5)), engine.ErrLedgerDiscontinuity)
	// Unknown type.
	assert.Error(t, engine.ValidateEntry(entry("e", "refund", 5, 0, 5)))
}

func TestReplayBalance_DetectsMidChainDiscontinuity(t *testing.T) {
	// GIVEN: A chain with a gap in the middle
	// WHEN: Replaying from zero
	// THEN: The discontinuity is reported

	entries := []engine.CreditEntry{
		entry("e-1", engine.EntryCreditAdded, 500, 0, 500),
		entry("e-2", engine.EntryCreditUsed, 100, 600, 500), // gap: before should be 500
	}
	_, err := engine.ReplayBalance(entries)
	assert.ErrorIs(t, err, engine.ErrLedgerDiscontinuity)
}

// =============================================================================
// LEGACY REBUILD
// =============================================================================

func TestRebuildLedger_RecomputesBalancesFromScratch(t *testing.T) {
	// GIVEN: Legacy notes with parseable add/use history
	// WHEN: Rebuilding with a 1000 starting balance
	// THEN: Every balance is recomputed, the chain replays cleanly,
	//       and the final balance follows from the deltas alone

	ids := 0
	newID := func() string { ids++; return string(rune('a' + ids)) }

	notes := []engine.LegacyNote{
		{Timestamp: date(2025, time.February, 1), Text: "abono 1,250.00"},
		{Timestamp: date(2025, time.March, 1), Text: "se aplicó saldo 300.00"},
	}
	result := engine.RebuildLedger(testUnit, 1000, date(2025, time.January, 1), notes, newID)

	require.Len(t, result.Entries, 3)
	assert.Empty(t, result.Unparsed)

	assert.Equal(t, engine.EntryStartingBalance, result.Entries[0].Type)
	assert.Equal(t, engine.Centavos(1000), result.Entries[0].Amount)

	assert.Equal(t, engine.EntryCreditAdded, result.Entries[1].Type)
	assert.Equal(t, engine.Centavos(125000), result.Entries[1].Amount)
	assert.Equal(t, engine.Centavos(1000), result.Entries[1].BalanceBefore)

	assert.Equal(t, engine.EntryCreditUsed, result.Entries[2].Type)
	assert.Equal(t, engine.Centavos(30000), result.Entries[2].Amount)

	assert.Equal(t, engine.Centavos(96000), result.FinalBalance)

	replayed, err := engine.ReplayBalance(result.Entries)
	require.NoError(t, err)
	assert.Equal(t, result.FinalBalance, replayed)
}

func TestRebuildLedger_SignPrefixWithoutCue(t *testing.T) {
	// GIVEN: Notes carrying only an explicit sign, no wording cue
	// WHEN: Rebuilding
	// THEN: "+" banks credit, "-" draws it down

	ids := 0
	newID := func() string { ids++; return string(rune('a' + ids)) }

	notes := []engine.LegacyNote{
		{Timestamp: date(2025, time.January, 5), Text: "+500.00"},
		{Timestamp: date(2025, time.January, 6), Text: "-200.00"},
	}
	result := engine.RebuildLedger(testUnit, 0, time.Time{}, notes, newID)

	require.Len(t, result.Entries, 2)
	assert.Equal(t, engine.EntryCreditAdded, result.Entries[0].Type)
	assert.Equal(t, engine.EntryCreditUsed, result.Entries[1].Type)
	assert.Equal(t, engine.Centavos(20000), result.Entries[1].Amount)
	assert.Equal(t, engine.Centavos(30000), result.FinalBalance)
}

func TestRebuildLedger_AmbiguousNotesGoToManualReview(t *testing.T) {
	// GIVEN: Notes that cannot be cleanly interpreted
	// WHEN: Rebuilding
	// THEN: They are surfaced as unparsed with a reason and excluded
	//       from the replayed balance; the importer never guesses

	ids := 0
	newID := func() string { ids++; return string(rune('a' + ids)) }

	notes := []engine.LegacyNote{
		{Timestamp: date(2025, time.January, 1), Text: "abono 500.00"},
		{Timestamp: date(2025, time.January, 2), Text: "abono aplicado 100.00"}, // both cues
		{Timestamp: date(2025, time.January, 3), Text: "ajuste manual"},         // no amount
		{Timestamp: date(2025, time.January, 4), Text: "saldo 250.00"},          // no cue, no sign
	}
	result := engine.RebuildLedger(testUnit, 0, time.Time{}, notes, newID)

	require.Len(t, result.Entries, 1)
	require.Len(t, result.Unparsed, 3)
	for _, u := range result.Unparsed {
		assert.NotEmpty(t, u.Reason)
	}
	assert.Equal(t, engine.Centavos(50000), result.FinalBalance)
}

func TestRebuildLedger_MultipleAmountsGoToManualReview(t *testing.T) {
	// GIVEN: Notes where dates or folio numbers also look like amounts
	// WHEN: Rebuilding
	// THEN: They are surfaced as unparsed instead of importing
	//       whichever number happens to come first

	ids := 0
	newID := func() string { ids++; return string(rune('a' + ids)) }

	notes := []engine.LegacyNote{
		{Timestamp: date(2025, time.May, 12), Text: "12/05/2023 abono 1,250.00"},
		{Timestamp: date(2025, time.May, 13), Text: "abono folio 4481 por 300.00"},
	}
	result := engine.RebuildLedger(testUnit, 0, time.Time{}, notes, newID)

	assert.Empty(t, result.Entries)
	require.Len(t, result.Unparsed, 2)
	for _, u := range result.Unparsed {
		assert.NotEmpty(t, u.Reason)
	}
	assert.Equal(t, engine.Centavos(0), result.FinalBalance)
}

func TestRebuildLedger_RejectsSubCentavoPrecision(t *testing.T) {
	// GIVEN: A note with more than two decimal places
	// WHEN: Rebuilding
	// THEN: It goes to manual review rather than being rounded

	ids := 0
	newID := func() string { ids++; return string(rune('a' + ids)) }

	notes := []engine.LegacyNote{
		{Timestamp: date(2025, time.January, 1), Text: "abono 10.005"},
	}
	result := engine.RebuildLedger(testUnit, 0, time.Time{}, notes, newID)

	assert.Empty(t, result.Entries)
	require.Len(t, result.Unparsed, 1)
}
