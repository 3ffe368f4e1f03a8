/*
errors.go - Centralized error types for the engine

PURPOSE:
  All engine error types in one place for consistency and
  discoverability. Callers (HTTP layer, import scripts) wrap these
  with transport-specific context.

ERROR CATEGORIES:
  1. Validation errors - bad input, rejected before any mutation
  2. Stale-plan errors - state moved between preview and commit
  3. Conflict errors   - idempotency replays, ledger discontinuity
  4. Store errors      - persistence-level failures

USAGE:
  if errors.Is(err, engine.ErrStalePlan) {
      // re-preview and retry
  }
*/
package engine

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned for non-positive payment amounts.
	ErrInvalidAmount = errors.New("payment amount must be a positive integer")

	// ErrUnknownUnit is returned when a referenced unit has no records.
	ErrUnknownUnit = errors.New("unknown unit")

	// ErrPlanMismatch is returned when a submitted plan's allocations
	// do not sum to its payment amount.
	ErrPlanMismatch = errors.New("plan allocations do not sum to payment amount")

	// ErrStalePlan is returned when bucket or ledger state changed
	// between preview and commit. The caller must re-preview; the
	// engine never silently re-allocates.
	ErrStalePlan = errors.New("plan is stale: state changed since preview")

	// ErrDuplicateIdempotencyKey is returned by the store when an
	// idempotency key already exists. The recorder treats this as a
	// replay, not a failure.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrLedgerDiscontinuity is returned when an appended entry's
	// balances do not chain onto the ledger's last entry.
	ErrLedgerDiscontinuity = errors.New("ledger entry does not chain onto current balance")

	// ErrBucketOverpaid is returned when a bucket update would push
	// paid above base+penalty.
	ErrBucketOverpaid = errors.New("bucket paid amount would exceed total")

	// ErrBucketNotFound is returned when a plan references a bucket
	// that no longer resolves.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrPaymentNotFound is returned when a payment lookup misses.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrTransactionFailed is returned when the store cannot complete
	// an atomic commit. Nothing is persisted in that case.
	ErrTransactionFailed = errors.New("transaction failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// StalePlanError reports which part of the observed state moved.
type StalePlanError struct {
	Unit     UnitRef
	BucketID BucketID // zero value when the credit balance moved
	Expected Centavos
	Actual   Centavos
}

func (e *StalePlanError) Error() string {
	if e.BucketID != "" {
		return fmt.Sprintf("stale plan for %s: bucket %s remaining %d, plan observed %d",
			e.Unit, e.BucketID, e.Actual, e.Expected)
	}
	return fmt.Sprintf("stale plan for %s: credit balance %d, plan observed %d",
		e.Unit, e.Actual, e.Expected)
}

func (e *StalePlanError) Unwrap() error { return ErrStalePlan }

// DiscontinuityError reports a broken balance chain on append.
type DiscontinuityError struct {
	Unit     UnitRef
	At       time.Time
	Expected Centavos // current balance per the ledger
	Got      Centavos // BalanceBefore on the rejected entry
}

func (e *DiscontinuityError) Error() string {
	return fmt.Sprintf("ledger discontinuity for %s at %s: balance is %d, entry claims %d",
		e.Unit, e.At.Format(time.RFC3339), e.Expected, e.Got)
}

func (e *DiscontinuityError) Unwrap() error { return ErrLedgerDiscontinuity }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrPlanMismatch) ||
		errors.Is(err, ErrBucketOverpaid)
}

// IsStale reports whether the caller should re-preview and retry.
func IsStale(err error) bool {
	return errors.Is(err, ErrStalePlan)
}

// IsNotFound reports whether the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUnknownUnit) ||
		errors.Is(err, ErrBucketNotFound) ||
		errors.Is(err, ErrPaymentNotFound)
}
