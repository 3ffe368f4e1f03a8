/*
recorder.go - Atomic commit of an allocation plan

PURPOSE:
  Takes a plan produced by the planner and commits it: bucket paid
  amounts move, at most one credit entry is appended, and the
  immutable payment record is persisted — all inside one store
  transaction. A mid-commit fault leaves no partial state.

CONCURRENCY:
  Commits are serialized per (clientId, unitId) with a keyed mutex.
  Previews need no locking; two concurrent commits against the same
  unit must not interleave or the sum and balance invariants break.

STALENESS:
  Before writing, the recorder reloads the unit's buckets and credit
  balance and compares them to what the plan observed. Any drift is
  rejected with ErrStalePlan — the caller re-previews. The engine
  never re-plans silently on the caller's behalf.

IDEMPOTENCY:
  The caller supplies a dedupe key (typically the external payment
  reference). If a payment with that key already exists for the unit,
  the prior result is returned unchanged and nothing is re-applied.
*/
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// RECORD RESULT
// =============================================================================

// RecordResult identifies everything a commit created or, on an
// idempotent replay, what the original commit created.
type RecordResult struct {
	PaymentID        PaymentID
	TouchedBucketIDs []BucketID
	LedgerEntryID    EntryID

	// Replayed is true when the idempotency key matched an existing
	// payment and no new records were written.
	Replayed bool
}

// =============================================================================
// RECORDER
// =============================================================================

// Recorder commits plans against a transactional store.
type Recorder struct {
	store  TxStore
	locks  *unitLocks
	now    func() time.Time
	newID  func() string
}

func NewRecorder(store TxStore) *Recorder {
	return &Recorder{
		store: store,
		locks: newUnitLocks(),
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.NewString() },
	}
}

// PaymentDetails carries the commit's dedupe key and the opaque
// method/reference fields recorded on the payment.
type PaymentDetails struct {
	IdempotencyKey string
	Method         string
	Reference      string
}

// Record commits a plan atomically. See the file header for the
// serialization, staleness and idempotency contracts.
func (r *Recorder) Record(ctx context.Context, plan *Plan, details PaymentDetails) (*RecordResult, error) {
	if plan == nil {
		return nil, fmt.Errorf("%w: nil plan", ErrPlanMismatch)
	}
	if err := ValidatePlan(plan); err != nil {
		return nil, err
	}
	if details.IdempotencyKey == "" {
		return nil, fmt.Errorf("%w: empty idempotency key", ErrPlanMismatch)
	}

	unlock := r.locks.lock(plan.Unit)
	defer unlock()

	// Replay check before touching anything.
	if prior, err := r.store.PaymentByKey(ctx, plan.Unit, details.IdempotencyKey); err == nil {
		return replayResult(prior), nil
	} else if !errors.Is(err, ErrPaymentNotFound) {
		return nil, err
	}

	if err := r.revalidate(ctx, plan); err != nil {
		return nil, err
	}

	result := &RecordResult{PaymentID: PaymentID(r.newID())}
	payment := Payment{
		ID:             result.PaymentID,
		Unit:           plan.Unit,
		Amount:         plan.Amount,
		Date:           plan.Date,
		Method:         details.Method,
		Reference:      details.Reference,
		IdempotencyKey: details.IdempotencyKey,
		Allocations:    plan.Allocations,
		CreatedAt:      r.now(),
	}

	err := r.store.WithTx(ctx, func(s Store) error {
		for _, a := range plan.Allocations {
			if a.Target != TargetBucket {
				continue
			}
			if err := applyToBucket(ctx, s, plan.Unit, a); err != nil {
				return err
			}
			result.TouchedBucketIDs = append(result.TouchedBucketIDs, a.BucketID)
		}

		if plan.CreditUsed > 0 || plan.CreditAdded > 0 {
			entry := r.creditEntry(plan, payment.ID)
			if err := NewCreditLedger(s).Append(ctx, entry); err != nil {
				return err
			}
			payment.LedgerEntryID = entry.ID
			result.LedgerEntryID = entry.ID
		}

		return s.SavePayment(ctx, payment)
	})
	if err != nil {
		// A concurrent replay that slipped past the lock (e.g. a retry
		// against another process) surfaces as a key conflict; resolve
		// it to the prior result.
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			if prior, lookupErr := r.store.PaymentByKey(ctx, plan.Unit, details.IdempotencyKey); lookupErr == nil {
				return replayResult(prior), nil
			}
		}
		return nil, fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}
	return result, nil
}

// revalidate compares current bucket/ledger state with what the plan
// observed. Sequence drift means the plan is stale.
func (r *Recorder) revalidate(ctx context.Context, plan *Plan) error {
	balance, err := NewCreditLedger(r.store).CurrentBalance(ctx, plan.Unit)
	if err != nil {
		return err
	}
	if balance != plan.ObservedBalance {
		return &StalePlanError{Unit: plan.Unit, Expected: plan.ObservedBalance, Actual: balance}
	}
	for _, obs := range plan.Observed {
		b, err := r.store.GetBucket(ctx, obs.BucketID)
		if err != nil {
			return err
		}
		if b.Remaining() != obs.Remaining {
			return &StalePlanError{Unit: plan.Unit, BucketID: obs.BucketID, Expected: obs.Remaining, Actual: b.Remaining()}
		}
	}
	return nil
}

func (r *Recorder) creditEntry(plan *Plan, paymentID PaymentID) CreditEntry {
	entry := CreditEntry{
		ID:            EntryID(r.newID()),
		Unit:          plan.Unit,
		Timestamp:     r.now(),
		BalanceBefore: plan.ObservedBalance,
		PaymentID:     paymentID,
	}
	if plan.CreditUsed > 0 {
		entry.Type = EntryCreditUsed
		entry.Amount = plan.CreditUsed
		entry.BalanceAfter = entry.BalanceBefore - plan.CreditUsed
	} else {
		entry.Type = EntryCreditAdded
		entry.Amount = plan.CreditAdded
		entry.BalanceAfter = entry.BalanceBefore + plan.CreditAdded
	}
	return entry
}

// applyToBucket moves one allocation into a bucket's paid totals and
// re-derives its status on read. The bucket must belong to the plan's
// unit; the per-unit lock and staleness checks only cover that unit's
// state. Overpayment is rejected; the plan was computed from
// remainders, so hitting this means state drifted inside the
// transaction and the whole commit rolls back.
func applyToBucket(ctx context.Context, s Store, unit UnitRef, a Allocation) error {
	b, err := s.GetBucket(ctx, a.BucketID)
	if err != nil {
		return err
	}
	if b.Unit != unit {
		return fmt.Errorf("%w: bucket %s does not belong to unit %s", ErrBucketNotFound, b.ID, unit)
	}
	if a.Penalty > b.PenaltyRemaining() || a.Base > b.BaseRemaining() {
		return fmt.Errorf("%w: bucket %s", ErrBucketOverpaid, b.ID)
	}
	b.Paid += a.Amount
	b.PaidPenalty += a.Penalty
	b.PaidBase += a.Base
	if b.Paid > b.Total() {
		return fmt.Errorf("%w: bucket %s", ErrBucketOverpaid, b.ID)
	}
	return s.PutBucket(ctx, b)
}

func replayResult(prior Payment) *RecordResult {
	result := &RecordResult{
		PaymentID:     prior.ID,
		LedgerEntryID: prior.LedgerEntryID,
		Replayed:      true,
	}
	for _, a := range prior.Allocations {
		if a.Target == TargetBucket {
			result.TouchedBucketIDs = append(result.TouchedBucketIDs, a.BucketID)
		}
	}
	return result
}

// =============================================================================
// PER-UNIT LOCKS
// =============================================================================

// unitLocks serializes commits per unit. Locks are created on first
// use and kept for the process lifetime; the unit cardinality of a
// single association is small.
type unitLocks struct {
	mu    sync.Mutex
	locks map[UnitRef]*sync.Mutex
}

func newUnitLocks() *unitLocks {
	return &unitLocks{locks: make(map[UnitRef]*sync.Mutex)}
}

func (ul *unitLocks) lock(unit UnitRef) (unlock func()) {
	ul.mu.Lock()
	m, ok := ul.locks[unit]
	if !ok {
		m = &sync.Mutex{}
		ul.locks[unit] = m
	}
	ul.mu.Unlock()

	m.Lock()
	return m.Unlock
}
