/*
statement.go - Chronological statement reconstruction

PURPOSE:
  Replays a unit's charge buckets and payments into an ordered,
  running-balance statement of account. Statements are derived state:
  never persisted, recomputed on demand, deterministic for the same
  inputs (and therefore safely cacheable until a new payment or
  bucket invalidates them).

LINES:
  - one "charge" line per bucket: date = due date, amount = base+penalty
  - one "payment" line per payment: date = payment date, amount = the
    sum of that payment's bucket-targeted allocations

ORDERING:
  Lines sort by date; ties break by a stable creation-sequence key so
  same-day charges and payments always replay in the same order.

IDENTITY:
  finalRunningBalance == totalDue - totalPaid == totalOutstanding
*/
package engine

import (
	"sort"
	"time"
)

// =============================================================================
// STATEMENT TYPES
// =============================================================================

type LineKind string

const (
	LineCharge  LineKind = "charge"
	LinePayment LineKind = "payment"
)

// StatementLine is one derived, read-only statement row.
type StatementLine struct {
	Date           time.Time
	Kind           LineKind
	Label          string
	Amount         Centavos
	RunningBalance Centavos

	seq int64
}

// Statement is the reconstructed view for one unit and window.
type Statement struct {
	Unit   UnitRef
	Window Window
	Lines  []StatementLine

	FinalBalance     Centavos
	CreditBalance    Centavos
	TotalDue         Centavos
	TotalPaid        Centavos
	TotalOutstanding Centavos
}

// =============================================================================
// RECONSTRUCTION
// =============================================================================

// BuildStatement replays buckets and payments within the window into
// a chronological statement. Pure: same inputs, same output.
//
// creditBalance is the unit's current ledger balance, reported
// alongside the statement but not folded into the running balance —
// the statement tracks charges vs money applied to them.
func BuildStatement(unit UnitRef, buckets []ChargeBucket, payments []Payment, creditBalance Centavos, window Window) Statement {
	st := Statement{Unit: unit, Window: window, CreditBalance: creditBalance}

	for _, b := range buckets {
		if !window.Contains(b.DueDate) {
			continue
		}
		st.Lines = append(st.Lines, StatementLine{
			Date:   b.DueDate,
			Kind:   LineCharge,
			Label:  chargeLabel(b),
			Amount: b.Total(),
			seq:    b.Seq,
		})
		st.TotalDue += b.Total()
	}

	for _, p := range payments {
		if !window.Contains(p.Date) {
			continue
		}
		amount := p.BucketTotal()
		st.Lines = append(st.Lines, StatementLine{
			Date:   p.Date,
			Kind:   LinePayment,
			Label:  paymentLabel(p),
			Amount: amount,
			seq:    p.Seq,
		})
		st.TotalPaid += amount
	}

	sort.SliceStable(st.Lines, func(i, j int) bool {
		a, b := st.Lines[i], st.Lines[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		return a.seq < b.seq
	})

	var running Centavos
	for i := range st.Lines {
		switch st.Lines[i].Kind {
		case LineCharge:
			running += st.Lines[i].Amount
		case LinePayment:
			running -= st.Lines[i].Amount
		}
		st.Lines[i].RunningBalance = running
	}

	st.FinalBalance = running
	st.TotalOutstanding = st.TotalDue - st.TotalPaid
	return st
}

func chargeLabel(b ChargeBucket) string {
	switch b.Module {
	case ModuleWater:
		return "water bill " + b.DueDate.Format("2006-01-02")
	default:
		return "dues " + b.Period.String()
	}
}

func paymentLabel(p Payment) string {
	if p.Reference != "" {
		return "payment " + p.Reference
	}
	return "payment " + p.Date.Format("2006-01-02")
}
