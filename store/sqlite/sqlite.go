/*
Package sqlite provides the SQLite-backed implementation of the
engine's storage interfaces.

PURPOSE:
  Implements engine.Store and engine.TxStore using SQLite. The engine
  treats this as its single coarse-grained transactional resource:
  bucket updates, ledger appends and payment inserts for one commit
  all land inside one SQL transaction.

KEY TABLES:
  buckets:        charge buckets (dues months, water bills)
  credit_entries: append-only credit ledger
  payments:       immutable payments; allocations stored as JSON

APPEND-ONLY ENFORCEMENT:
  credit_entries and payments have no UPDATE or DELETE paths in this
  package. Buckets are updated only through PutBucket, which the
  recorder calls inside WithTx.

WAL MODE:
  The database is opened with WAL so statement reads don't block
  payment commits.

SEE ALSO:
  - engine/store.go: interface definitions
  - engine/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vecinal/billing-engine/engine"
)

// Store implements engine.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (and migrates) a SQLite store. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Charge buckets (dues months, water bills)
	CREATE TABLE IF NOT EXISTS buckets (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		unit_id TEXT NOT NULL,
		module TEXT NOT NULL,
		period_year INTEGER NOT NULL,
		period_month INTEGER NOT NULL,
		due_date TEXT NOT NULL,
		base INTEGER NOT NULL,
		penalty INTEGER NOT NULL,
		paid INTEGER NOT NULL DEFAULT 0,
		paid_penalty INTEGER NOT NULL DEFAULT 0,
		paid_base INTEGER NOT NULL DEFAULT 0,
		seq INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_buckets_unit
		ON buckets(client_id, unit_id);
	CREATE INDEX IF NOT EXISTS idx_buckets_unit_due
		ON buckets(client_id, unit_id, due_date);

	-- Credit ledger (append-only; ordering on ts then rowid)
	CREATE TABLE IF NOT EXISTS credit_entries (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		unit_id TEXT NOT NULL,
		ts TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		amount INTEGER NOT NULL,
		balance_before INTEGER NOT NULL,
		balance_after INTEGER NOT NULL,
		payment_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_credit_entries_unit_ts
		ON credit_entries(client_id, unit_id, ts);

	-- Payments (immutable; allocations as JSON)
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		unit_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		pay_date TEXT NOT NULL,
		method TEXT,
		reference TEXT,
		idempotency_key TEXT,
		allocations_json TEXT NOT NULL,
		ledger_entry_id TEXT,
		seq INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_idempotency
		ON payments(client_id, unit_id, idempotency_key)
		WHERE idempotency_key IS NOT NULL AND idempotency_key != '';
	CREATE INDEX IF NOT EXISTS idx_payments_unit_date
		ON payments(client_id, unit_id, pay_date);

	-- Monotonic sequences for stable statement ordering
	CREATE TABLE IF NOT EXISTS sequences (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	INSERT OR IGNORE INTO sequences(name, value) VALUES ('bucket', 0);
	INSERT OR IGNORE INTO sequences(name, value) VALUES ('payment', 0);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx abstracts *sql.DB and *sql.Tx so reads and writes share one
// implementation inside and outside transactions.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// BUCKETS
// =============================================================================

func (s *Store) Buckets(ctx context.Context, unit engine.UnitRef) ([]engine.ChargeBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryBuckets(ctx, s.db, unit, false)
}

func (s *Store) OutstandingBuckets(ctx context.Context, unit engine.UnitRef) ([]engine.ChargeBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryBuckets(ctx, s.db, unit, true)
}

func queryBuckets(ctx context.Context, db dbtx, unit engine.UnitRef, outstandingOnly bool) ([]engine.ChargeBucket, error) {
	query := `
		SELECT id, client_id, unit_id, module, period_year, period_month, due_date,
		       base, penalty, paid, paid_penalty, paid_base, seq
		FROM buckets
		WHERE client_id = ? AND unit_id = ?`
	if outstandingOnly {
		query += ` AND paid < base + penalty`
	}
	query += ` ORDER BY seq ASC`

	rows, err := db.QueryContext(ctx, query, unit.ClientID, unit.UnitID)
	if err != nil {
		return nil, fmt.Errorf("failed to query buckets: %w", err)
	}
	defer rows.Close()

	var buckets []engine.ChargeBucket
	for rows.Next() {
		b, err := scanBucket(rows)
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

func (s *Store) GetBucket(ctx context.Context, id engine.BucketID) (engine.ChargeBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBucket(ctx, s.db, id)
}

func getBucket(ctx context.Context, db dbtx, id engine.BucketID) (engine.ChargeBucket, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, client_id, unit_id, module, period_year, period_month, due_date,
		       base, penalty, paid, paid_penalty, paid_base, seq
		FROM buckets WHERE id = ?`, id)
	if err != nil {
		return engine.ChargeBucket{}, fmt.Errorf("failed to query bucket: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return engine.ChargeBucket{}, err
		}
		return engine.ChargeBucket{}, engine.ErrBucketNotFound
	}
	return scanBucket(rows)
}

func scanBucket(rows *sql.Rows) (engine.ChargeBucket, error) {
	var (
		b           engine.ChargeBucket
		periodMonth int
		dueDate     string
	)
	err := rows.Scan(&b.ID, &b.Unit.ClientID, &b.Unit.UnitID, &b.Module,
		&b.Period.Year, &periodMonth, &dueDate,
		&b.Base, &b.Penalty, &b.Paid, &b.PaidPenalty, &b.PaidBase, &b.Seq)
	if err != nil {
		return b, fmt.Errorf("failed to scan bucket: %w", err)
	}
	b.Period.Month = time.Month(periodMonth)
	b.DueDate, err = time.Parse(time.RFC3339, dueDate)
	if err != nil {
		return b, fmt.Errorf("failed to parse due date for bucket %s: %w", b.ID, err)
	}
	return b, nil
}

func (s *Store) PutBucket(ctx context.Context, b engine.ChargeBucket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return putBucket(ctx, s.db, b)
}

func putBucket(ctx context.Context, db dbtx, b engine.ChargeBucket) error {
	if b.Seq == 0 {
		seq, err := nextSeq(ctx, db, "bucket")
		if err != nil {
			return err
		}
		b.Seq = seq
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO buckets
			(id, client_id, unit_id, module, period_year, period_month, due_date,
			 base, penalty, paid, paid_penalty, paid_base, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			base = excluded.base,
			penalty = excluded.penalty,
			paid = excluded.paid,
			paid_penalty = excluded.paid_penalty,
			paid_base = excluded.paid_base`,
		b.ID, b.Unit.ClientID, b.Unit.UnitID, b.Module,
		b.Period.Year, int(b.Period.Month), b.DueDate.UTC().Format(time.RFC3339),
		b.Base, b.Penalty, b.Paid, b.PaidPenalty, b.PaidBase, b.Seq)
	if err != nil {
		return fmt.Errorf("failed to put bucket: %w", err)
	}
	return nil
}

func nextSeq(ctx context.Context, db dbtx, name string) (int64, error) {
	if _, err := db.ExecContext(ctx,
		`UPDATE sequences SET value = value + 1 WHERE name = ?`, name); err != nil {
		return 0, fmt.Errorf("failed to advance sequence %s: %w", name, err)
	}
	var seq int64
	if err := db.QueryRowContext(ctx,
		`SELECT value FROM sequences WHERE name = ?`, name).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to read sequence %s: %w", name, err)
	}
	return seq, nil
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

func (s *Store) Entries(ctx context.Context, unit engine.UnitRef) ([]engine.CreditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryEntries(ctx, s.db, unit)
}

func queryEntries(ctx context.Context, db dbtx, unit engine.UnitRef) ([]engine.CreditEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, client_id, unit_id, ts, entry_type, amount,
		       balance_before, balance_after, payment_id
		FROM credit_entries
		WHERE client_id = ? AND unit_id = ?
		ORDER BY ts ASC, rowid ASC`, unit.ClientID, unit.UnitID)
	if err != nil {
		return nil, fmt.Errorf("failed to query credit entries: %w", err)
	}
	defer rows.Close()

	var entries []engine.CreditEntry
	for rows.Next() {
		var (
			e         engine.CreditEntry
			ts        string
			paymentID sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Unit.ClientID, &e.Unit.UnitID, &ts, &e.Type,
			&e.Amount, &e.BalanceBefore, &e.BalanceAfter, &paymentID); err != nil {
			return nil, fmt.Errorf("failed to scan credit entry: %w", err)
		}
		e.Timestamp, err = time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse timestamp for credit entry %s: %w", e.ID, err)
		}
		e.PaymentID = engine.PaymentID(paymentID.String)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) AppendEntry(ctx context.Context, e engine.CreditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendEntry(ctx, s.db, e)
}

func appendEntry(ctx context.Context, db dbtx, e engine.CreditEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO credit_entries
			(id, client_id, unit_id, ts, entry_type, amount,
			 balance_before, balance_after, payment_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Unit.ClientID, e.Unit.UnitID,
		e.Timestamp.UTC().Format(time.RFC3339), e.Type, e.Amount,
		e.BalanceBefore, e.BalanceAfter, nullString(string(e.PaymentID)))
	if err != nil {
		return fmt.Errorf("failed to append credit entry: %w", err)
	}
	return nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = `
	SELECT id, client_id, unit_id, amount, pay_date, method, reference,
	       idempotency_key, allocations_json, ledger_entry_id, seq, created_at
	FROM payments`

func (s *Store) Payments(ctx context.Context, unit engine.UnitRef) ([]engine.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryPayments(ctx, s.db, unit)
}

func queryPayments(ctx context.Context, db dbtx, unit engine.UnitRef) ([]engine.Payment, error) {
	rows, err := db.QueryContext(ctx, paymentColumns+`
		WHERE client_id = ? AND unit_id = ?
		ORDER BY pay_date ASC, seq ASC`, unit.ClientID, unit.UnitID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []engine.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (s *Store) PaymentByKey(ctx context.Context, unit engine.UnitRef, key string) (engine.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return paymentByKey(ctx, s.db, unit, key)
}

func paymentByKey(ctx context.Context, db dbtx, unit engine.UnitRef, key string) (engine.Payment, error) {
	rows, err := db.QueryContext(ctx, paymentColumns+`
		WHERE client_id = ? AND unit_id = ? AND idempotency_key = ?`,
		unit.ClientID, unit.UnitID, key)
	if err != nil {
		return engine.Payment{}, fmt.Errorf("failed to query payment: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return engine.Payment{}, err
		}
		return engine.Payment{}, engine.ErrPaymentNotFound
	}
	return scanPayment(rows)
}

func scanPayment(rows *sql.Rows) (engine.Payment, error) {
	var (
		p               engine.Payment
		payDate         string
		method          sql.NullString
		reference       sql.NullString
		idempotencyKey  sql.NullString
		allocationsJSON string
		ledgerEntryID   sql.NullString
		createdAt       string
	)
	err := rows.Scan(&p.ID, &p.Unit.ClientID, &p.Unit.UnitID, &p.Amount, &payDate,
		&method, &reference, &idempotencyKey, &allocationsJSON, &ledgerEntryID,
		&p.Seq, &createdAt)
	if err != nil {
		return p, fmt.Errorf("failed to scan payment: %w", err)
	}
	p.Date, err = time.Parse(time.RFC3339, payDate)
	if err != nil {
		return p, fmt.Errorf("failed to parse date for payment %s: %w", p.ID, err)
	}
	p.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return p, fmt.Errorf("failed to parse created_at for payment %s: %w", p.ID, err)
	}
	p.Method = method.String
	p.Reference = reference.String
	p.IdempotencyKey = idempotencyKey.String
	p.LedgerEntryID = engine.EntryID(ledgerEntryID.String)
	if err := json.Unmarshal([]byte(allocationsJSON), &p.Allocations); err != nil {
		return p, fmt.Errorf("failed to decode allocations for payment %s: %w", p.ID, err)
	}
	return p, nil
}

func (s *Store) SavePayment(ctx context.Context, p engine.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return savePayment(ctx, s.db, p)
}

func savePayment(ctx context.Context, db dbtx, p engine.Payment) error {
	seq, err := nextSeq(ctx, db, "payment")
	if err != nil {
		return err
	}
	allocationsJSON, err := json.Marshal(p.Allocations)
	if err != nil {
		return fmt.Errorf("failed to encode allocations: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO payments
			(id, client_id, unit_id, amount, pay_date, method, reference,
			 idempotency_key, allocations_json, ledger_entry_id, seq, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Unit.ClientID, p.Unit.UnitID, p.Amount,
		p.Date.UTC().Format(time.RFC3339), p.Method, p.Reference,
		nullString(p.IdempotencyKey), string(allocationsJSON),
		nullString(string(p.LedgerEntryID)), seq,
		p.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
			return engine.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to save payment: %w", err)
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (engine.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. If fn returns an
// error the transaction rolls back and nothing is persisted.
func (s *Store) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) Buckets(ctx context.Context, unit engine.UnitRef) ([]engine.ChargeBucket, error) {
	return queryBuckets(ctx, ts.tx, unit, false)
}

func (ts *txStore) OutstandingBuckets(ctx context.Context, unit engine.UnitRef) ([]engine.ChargeBucket, error) {
	return queryBuckets(ctx, ts.tx, unit, true)
}

func (ts *txStore) GetBucket(ctx context.Context, id engine.BucketID) (engine.ChargeBucket, error) {
	return getBucket(ctx, ts.tx, id)
}

func (ts *txStore) PutBucket(ctx context.Context, b engine.ChargeBucket) error {
	return putBucket(ctx, ts.tx, b)
}

func (ts *txStore) Entries(ctx context.Context, unit engine.UnitRef) ([]engine.CreditEntry, error) {
	return queryEntries(ctx, ts.tx, unit)
}

func (ts *txStore) AppendEntry(ctx context.Context, e engine.CreditEntry) error {
	return appendEntry(ctx, ts.tx, e)
}

func (ts *txStore) Payments(ctx context.Context, unit engine.UnitRef) ([]engine.Payment, error) {
	return queryPayments(ctx, ts.tx, unit)
}

func (ts *txStore) PaymentByKey(ctx context.Context, unit engine.UnitRef, key string) (engine.Payment, error) {
	return paymentByKey(ctx, ts.tx, unit, key)
}

func (ts *txStore) SavePayment(ctx context.Context, p engine.Payment) error {
	return savePayment(ctx, ts.tx, p)
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
