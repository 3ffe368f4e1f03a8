/*
Package engine implements the payment allocation and credit ledger core.

PURPOSE:
  This package contains the money-correct heart of the condominium
  back-office: splitting one incoming payment across outstanding
  charges (dues months, water bills), banking any surplus into a
  per-unit credit balance, and reconstructing statements of account
  from the resulting records.

KEY CONCEPTS IN THIS FILE (types.go):
  - Centavos: integer minor-currency amounts (never float)
  - UnitRef: identifies a billable unit (client + unit)
  - ChargeBucket: one billable instance (a dues month or a water bill)
  - CreditEntry: an immutable credit-ledger delta
  - Payment/Allocation: one incoming-money event and its split

DESIGN PRINCIPLES:
  1. Integer money: all arithmetic is on int64 centavos
  2. Immutability: payments and ledger entries are never edited;
     corrections are new records
  3. Derived state: bucket status is computed, never stored separately
  4. Auditability: every allocation carries its penalty/base breakdown
     and a snapshot of the bucket's fiscal period

SEE ALSO:
  - planner.go: pure allocation planning
  - recorder.go: atomic commit of a plan
  - ledger.go: append-only credit ledger
  - statement.go: statement reconstruction
*/
package engine

import (
	"time"
)

// =============================================================================
// MONEY - Integer minor-currency units
// =============================================================================

// Centavos is a monetary amount in minor currency units.
// The engine never performs floating-point arithmetic on money.
type Centavos int64

func (c Centavos) IsZero() bool     { return c == 0 }
func (c Centavos) IsPositive() bool { return c > 0 }
func (c Centavos) IsNegative() bool { return c < 0 }

func MinCentavos(a, b Centavos) Centavos {
	if a < b {
		return a
	}
	return b
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ClientID string
type UnitID string
type BucketID string
type PaymentID string
type EntryID string

// UnitRef identifies one billable unit. It owns one credit ledger and
// zero-or-more charge buckets.
type UnitRef struct {
	ClientID ClientID
	UnitID   UnitID
}

func (u UnitRef) String() string {
	return string(u.ClientID) + "/" + string(u.UnitID)
}

// =============================================================================
// MODULES AND PERIODS
// =============================================================================

// Module identifies which billing module a charge bucket belongs to.
type Module string

const (
	ModuleDues  Module = "dues"
	ModuleWater Module = "water"
)

// FiscalPeriod is the fiscal year + month a charge is assigned to.
// For water bills the period is derived from the bill date.
type FiscalPeriod struct {
	Year  int
	Month time.Month
}

// Before orders periods chronologically.
func (p FiscalPeriod) Before(other FiscalPeriod) bool {
	if p.Year != other.Year {
		return p.Year < other.Year
	}
	return p.Month < other.Month
}

func (p FiscalPeriod) String() string {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC).Format("2006-01")
}

// PeriodOf returns the fiscal period containing a date.
func PeriodOf(t time.Time) FiscalPeriod {
	return FiscalPeriod{Year: t.Year(), Month: t.Month()}
}

// =============================================================================
// CHARGE BUCKET - One billable instance
// =============================================================================

type BucketStatus string

const (
	StatusUnpaid  BucketStatus = "unpaid"
	StatusPartial BucketStatus = "partial"
	StatusPaid    BucketStatus = "paid"
)

// ChargeBucket is one billable instance with base + penalty + paid
// amounts. Buckets are created by billing generation and mutated only
// by the payment recorder; they are never deleted.
//
// INVARIANT: Paid <= Base + Penalty at all times.
type ChargeBucket struct {
	ID     BucketID
	Unit   UnitRef
	Module Module
	Period FiscalPeriod
	// DueDate is the bill/due date used for statement charge lines and
	// oldest-first allocation ordering.
	DueDate time.Time

	Base    Centavos
	Penalty Centavos

	Paid        Centavos
	PaidPenalty Centavos
	PaidBase    Centavos

	// Seq is the creation sequence assigned by the store; used as the
	// stable tie-break for statement ordering.
	Seq int64
}

func (b ChargeBucket) Total() Centavos     { return b.Base + b.Penalty }
func (b ChargeBucket) Remaining() Centavos { return b.Total() - b.Paid }

// PenaltyRemaining is the unpaid portion of the penalty.
func (b ChargeBucket) PenaltyRemaining() Centavos { return b.Penalty - b.PaidPenalty }

// BaseRemaining is the unpaid portion of the base charge.
func (b ChargeBucket) BaseRemaining() Centavos { return b.Base - b.PaidBase }

// Status is derived from paid vs total; it is never stored separately.
func (b ChargeBucket) Status() BucketStatus {
	switch {
	case b.Paid == 0 && b.Total() > 0:
		return StatusUnpaid
	case b.Paid < b.Total():
		return StatusPartial
	default:
		return StatusPaid
	}
}

// =============================================================================
// CREDIT LEDGER ENTRY - Immutable, append-only
// =============================================================================

type EntryType string

const (
	EntryStartingBalance EntryType = "starting_balance"
	EntryCreditAdded     EntryType = "credit_added"
	EntryCreditUsed      EntryType = "credit_used"
)

// CreditEntry is one immutable credit-balance delta.
//
// INVARIANT:
//   BalanceAfter == BalanceBefore + Amount  (starting_balance, credit_added)
//   BalanceAfter == BalanceBefore - Amount  (credit_used)
// Amount is always a non-negative magnitude.
type CreditEntry struct {
	ID        EntryID
	Unit      UnitRef
	Timestamp time.Time
	Type      EntryType
	Amount    Centavos

	BalanceBefore Centavos
	BalanceAfter  Centavos

	// PaymentID links the entry to the payment that caused it.
	// Empty for starting balances and migrated history.
	PaymentID PaymentID
}

// =============================================================================
// PAYMENT AND ALLOCATIONS
// =============================================================================

// TargetKind identifies what an allocation line applies to.
type TargetKind string

const (
	TargetBucket TargetKind = "bucket"
	TargetCredit TargetKind = "credit"
)

// Allocation is one line of a payment's split.
//
// For bucket targets, Amount is positive and Penalty+Base record the
// breakdown. For credit targets, Amount is signed: positive means
// surplus banked as credit, negative means credit consumed.
//
// BucketPeriod and BucketModule snapshot the target bucket at
// allocation time so reporting never has to re-resolve buckets.
type Allocation struct {
	Target   TargetKind
	BucketID BucketID
	Amount   Centavos

	Penalty Centavos
	Base    Centavos

	BucketPeriod FiscalPeriod
	BucketModule Module
}

// Payment is one incoming-money event. Immutable once recorded;
// refunds are new payments with negative amount, not edits.
type Payment struct {
	ID     PaymentID
	Unit   UnitRef
	Amount Centavos
	Date   time.Time

	// Method and Reference are opaque to the engine.
	Method    string
	Reference string

	// IdempotencyKey dedupes retried commits.
	IdempotencyKey string

	Allocations []Allocation

	// LedgerEntryID links to the credit entry this payment produced,
	// if any.
	LedgerEntryID EntryID

	Seq       int64
	CreatedAt time.Time
}

// AllocationSum returns the signed sum of all allocation lines.
// For every well-formed payment this equals Amount.
func (p Payment) AllocationSum() Centavos {
	var sum Centavos
	for _, a := range p.Allocations {
		sum += a.Amount
	}
	return sum
}

// BucketTotal returns the sum applied to charge buckets.
func (p Payment) BucketTotal() Centavos {
	var sum Centavos
	for _, a := range p.Allocations {
		if a.Target == TargetBucket {
			sum += a.Amount
		}
	}
	return sum
}
