// Package store provides engine.TxStore implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/vecinal/billing-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	buckets  map[engine.BucketID]engine.ChargeBucket
	entries  map[engine.UnitRef][]engine.CreditEntry
	payments map[engine.UnitRef][]engine.Payment
	idemKeys map[unitKey]engine.PaymentID

	bucketSeq  int64
	paymentSeq int64
}

type unitKey struct {
	unit engine.UnitRef
	key  string
}

func NewMemory() *Memory {
	return &Memory{
		buckets:  make(map[engine.BucketID]engine.ChargeBucket),
		entries:  make(map[engine.UnitRef][]engine.CreditEntry),
		payments: make(map[engine.UnitRef][]engine.Payment),
		idemKeys: make(map[unitKey]engine.PaymentID),
	}
}

// =============================================================================
// BUCKETS
// =============================================================================

func (m *Memory) Buckets(_ context.Context, unit engine.UnitRef) ([]engine.ChargeBucket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bucketsLocked(unit, false), nil
}

func (m *Memory) OutstandingBuckets(_ context.Context, unit engine.UnitRef) ([]engine.ChargeBucket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bucketsLocked(unit, true), nil
}

func (m *Memory) bucketsLocked(unit engine.UnitRef, outstandingOnly bool) []engine.ChargeBucket {
	var result []engine.ChargeBucket
	for _, b := range m.buckets {
		if b.Unit != unit {
			continue
		}
		if outstandingOnly && b.Remaining() <= 0 {
			continue
		}
		result = append(result, b)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Seq < result[j].Seq })
	return result
}

func (m *Memory) GetBucket(_ context.Context, id engine.BucketID) (engine.ChargeBucket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buckets[id]
	if !ok {
		return engine.ChargeBucket{}, engine.ErrBucketNotFound
	}
	return b, nil
}

func (m *Memory) PutBucket(_ context.Context, b engine.ChargeBucket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putBucketLocked(b)
}

func (m *Memory) putBucketLocked(b engine.ChargeBucket) error {
	if existing, ok := m.buckets[b.ID]; ok {
		b.Seq = existing.Seq
	} else if b.Seq == 0 {
		m.bucketSeq++
		b.Seq = m.bucketSeq
	}
	m.buckets[b.ID] = b
	return nil
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

func (m *Memory) Entries(_ context.Context, unit engine.UnitRef) ([]engine.CreditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]engine.CreditEntry, len(m.entries[unit]))
	copy(result, m.entries[unit])
	return result, nil
}

func (m *Memory) AppendEntry(_ context.Context, e engine.CreditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.Unit] = append(m.entries[e.Unit], e)
	return nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (m *Memory) Payments(_ context.Context, unit engine.UnitRef) ([]engine.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]engine.Payment, len(m.payments[unit]))
	copy(result, m.payments[unit])
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].Seq < result[j].Seq
	})
	return result, nil
}

func (m *Memory) PaymentByKey(_ context.Context, unit engine.UnitRef, key string) (engine.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.idemKeys[unitKey{unit: unit, key: key}]
	if !ok {
		return engine.Payment{}, engine.ErrPaymentNotFound
	}
	for _, p := range m.payments[unit] {
		if p.ID == id {
			return p, nil
		}
	}
	return engine.Payment{}, engine.ErrPaymentNotFound
}

func (m *Memory) SavePayment(_ context.Context, p engine.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.savePaymentLocked(p)
}

func (m *Memory) savePaymentLocked(p engine.Payment) error {
	k := unitKey{unit: p.Unit, key: p.IdempotencyKey}
	if p.IdempotencyKey != "" {
		if _, exists := m.idemKeys[k]; exists {
			return engine.ErrDuplicateIdempotencyKey
		}
	}
	m.paymentSeq++
	p.Seq = m.paymentSeq
	m.payments[p.Unit] = append(m.payments[p.Unit], p)
	if p.IdempotencyKey != "" {
		m.idemKeys[k] = p.ID
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support, simulated with a
// snapshot + rollback on error.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

func (tm *TxMemory) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	view := &txMemoryView{parent: tm}

	if err := fn(view); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	buckets    map[engine.BucketID]engine.ChargeBucket
	entries    map[engine.UnitRef][]engine.CreditEntry
	payments   map[engine.UnitRef][]engine.Payment
	idemKeys   map[unitKey]engine.PaymentID
	bucketSeq  int64
	paymentSeq int64
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		buckets:    make(map[engine.BucketID]engine.ChargeBucket, len(tm.buckets)),
		entries:    make(map[engine.UnitRef][]engine.CreditEntry, len(tm.entries)),
		payments:   make(map[engine.UnitRef][]engine.Payment, len(tm.payments)),
		idemKeys:   make(map[unitKey]engine.PaymentID, len(tm.idemKeys)),
		bucketSeq:  tm.bucketSeq,
		paymentSeq: tm.paymentSeq,
	}
	for k, v := range tm.buckets {
		s.buckets[k] = v
	}
	for k, v := range tm.entries {
		s.entries[k] = append([]engine.CreditEntry{}, v...)
	}
	for k, v := range tm.payments {
		s.payments[k] = append([]engine.Payment{}, v...)
	}
	for k, v := range tm.idemKeys {
		s.idemKeys[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.buckets = s.buckets
	tm.entries = s.entries
	tm.payments = s.payments
	tm.idemKeys = s.idemKeys
	tm.bucketSeq = s.bucketSeq
	tm.paymentSeq = s.paymentSeq
}

// txMemoryView routes writes to the already-locked parent.
type txMemoryView struct {
	parent *TxMemory
}

func (tv *txMemoryView) Buckets(_ context.Context, unit engine.UnitRef) ([]engine.ChargeBucket, error) {
	return tv.parent.bucketsLocked(unit, false), nil
}

func (tv *txMemoryView) OutstandingBuckets(_ context.Context, unit engine.UnitRef) ([]engine.ChargeBucket, error) {
	return tv.parent.bucketsLocked(unit, true), nil
}

func (tv *txMemoryView) GetBucket(_ context.Context, id engine.BucketID) (engine.ChargeBucket, error) {
	b, ok := tv.parent.buckets[id]
	if !ok {
		return engine.ChargeBucket{}, engine.ErrBucketNotFound
	}
	return b, nil
}

func (tv *txMemoryView) PutBucket(_ context.Context, b engine.ChargeBucket) error {
	return tv.parent.putBucketLocked(b)
}

func (tv *txMemoryView) Entries(_ context.Context, unit engine.UnitRef) ([]engine.CreditEntry, error) {
	return tv.parent.entries[unit], nil
}

func (tv *txMemoryView) AppendEntry(_ context.Context, e engine.CreditEntry) error {
	tv.parent.entries[e.Unit] = append(tv.parent.entries[e.Unit], e)
	return nil
}

func (tv *txMemoryView) Payments(_ context.Context, unit engine.UnitRef) ([]engine.Payment, error) {
	return tv.parent.payments[unit], nil
}

func (tv *txMemoryView) PaymentByKey(_ context.Context, unit engine.UnitRef, key string) (engine.Payment, error) {
	id, ok := tv.parent.idemKeys[unitKey{unit: unit, key: key}]
	if !ok {
		return engine.Payment{}, engine.ErrPaymentNotFound
	}
	for _, p := range tv.parent.payments[unit] {
		if p.ID == id {
			return p, nil
		}
	}
	return engine.Payment{}, engine.ErrPaymentNotFound
}

func (tv *txMemoryView) SavePayment(_ context.Context, p engine.Payment) error {
	return tv.parent.savePaymentLocked(p)
}
