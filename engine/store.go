/*
store.go - Persistence interfaces for buckets, payments and the ledger

PURPOSE:
  Defines the boundary between the engine and the document store.
  The engine performs no I/O of its own; all persistence goes through
  these interfaces, and every commit runs inside the store's native
  atomic transaction.

CONTRACTS:
  - Buckets are updated only through PutBucket, and only by the
    recorder inside WithTx.
  - Ledger entries and payments are append-only: no Update, no Delete.
  - WithTx is all-or-nothing; a mid-commit fault leaves no partial
    state visible.

IMPLEMENTATIONS:
  - engine/store: in-memory, for tests and development
  - store/sqlite: SQLite-backed production store
*/
package engine

import "context"

// =============================================================================
// STORE - Document persistence boundary
// =============================================================================

// Store is the engine's view of the document store. Reads return
// records ordered deterministically (buckets by creation seq, entries
// and payments chronologically).
type Store interface {
	// Buckets returns all charge buckets for a unit, ordered by Seq.
	Buckets(ctx context.Context, unit UnitRef) ([]ChargeBucket, error)

	// OutstandingBuckets returns the unit's buckets with Remaining() > 0,
	// ordered by Seq.
	OutstandingBuckets(ctx context.Context, unit UnitRef) ([]ChargeBucket, error)

	// GetBucket resolves one bucket. Returns ErrBucketNotFound on miss.
	GetBucket(ctx context.Context, id BucketID) (ChargeBucket, error)

	// PutBucket inserts or replaces a bucket. The store assigns Seq on
	// first insert.
	PutBucket(ctx context.Context, b ChargeBucket) error

	// Entries returns a unit's credit ledger, ordered by timestamp then
	// insertion order.
	Entries(ctx context.Context, unit UnitRef) ([]CreditEntry, error)

	// AppendEntry persists a ledger entry. Append-only.
	AppendEntry(ctx context.Context, e CreditEntry) error

	// Payments returns a unit's payments ordered by date then Seq.
	Payments(ctx context.Context, unit UnitRef) ([]Payment, error)

	// PaymentByKey resolves a payment by idempotency key.
	// Returns ErrPaymentNotFound on miss.
	PaymentByKey(ctx context.Context, unit UnitRef, idempotencyKey string) (Payment, error)

	// SavePayment persists an immutable payment with its allocations.
	// The store assigns Seq. Fails with ErrDuplicateIdempotencyKey if
	// the key is already present.
	SavePayment(ctx context.Context, p Payment) error
}

// =============================================================================
// TRANSACTIONAL STORE - Atomic multi-document commit
// =============================================================================

// TxStore wraps Store with a single coarse-grained atomic transaction.
// The recorder requires this: bucket updates, the ledger append and
// the payment insert must land together or not at all.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error
	// the transaction is rolled back and nothing is persisted.
	WithTx(ctx context.Context, fn func(Store) error) error
}
