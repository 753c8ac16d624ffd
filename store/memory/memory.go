// Package memory provides an in-memory ledger.TxStore for tests and demos.
//
// Same contracts as store/sqlite, no persistence. Units of work are
// simulated with a snapshot taken before fn runs and restored on error;
// the store's write lock is held for the whole unit of work, so the
// snapshot/restore pair is atomic with respect to other callers.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Store implements ledger.TxStore with plain maps.
type Store struct {
	mu       sync.RWMutex
	products map[ledger.ProductID]ledger.Product
	batches  map[ledger.BatchID]ledger.Batch
	entries  []ledger.Entry
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		products: make(map[ledger.ProductID]ledger.Product),
		batches:  make(map[ledger.BatchID]ledger.Batch),
	}
}

// --- Product aggregate ---

func (m *Store) ProductExists(_ context.Context, id ledger.ProductID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.products[id]
	return ok, nil
}

func (m *Store) GetProduct(_ context.Context, id ledger.ProductID) (*ledger.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Store) SaveProduct(_ context.Context, p ledger.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveProductLocked(p)
}

func (m *Store) saveProductLocked(p ledger.Product) error {
	now := time.Now().UTC()
	if existing, ok := m.products[p.ID]; ok {
		existing.Name = p.Name
		existing.UpdatedAt = now
		m.products[p.ID] = existing
		return nil
	}
	p.CreatedAt = now
	p.UpdatedAt = now
	m.products[p.ID] = p
	return nil
}

func (m *Store) AdjustProductStock(_ context.Context, id ledger.ProductID, delta int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adjustProductStockLocked(id, delta)
}

func (m *Store) adjustProductStockLocked(id ledger.ProductID, delta int64) (bool, error) {
	p, ok := m.products[id]
	if !ok || p.CurrentStock+delta < 0 {
		return false, nil
	}
	p.CurrentStock += delta
	p.UpdatedAt = time.Now().UTC()
	m.products[id] = p
	return true, nil
}

// --- Batches ---

func (m *Store) InsertBatch(_ context.Context, b ledger.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[b.ID] = b
	return nil
}

func (m *Store) GetBatch(_ context.Context, id ledger.BatchID) (*ledger.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (m *Store) FindAvailableBatches(_ context.Context, productID ledger.ProductID) ([]ledger.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scanBatchesLocked(productID, true), nil
}

func (m *Store) ListBatches(_ context.Context, productID ledger.ProductID) ([]ledger.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scanBatchesLocked(productID, false), nil
}

func (m *Store) scanBatchesLocked(productID ledger.ProductID, availableOnly bool) []ledger.Batch {
	var result []ledger.Batch
	for _, b := range m.batches {
		if b.ProductID != productID || b.Deleted {
			continue
		}
		if availableOnly && b.QuantityRemaining <= 0 {
			continue
		}
		result = append(result, b)
	}
	// Oldest first; batch id breaks creation-time ties deterministically.
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

func (m *Store) AdjustBatchRemaining(_ context.Context, id ledger.BatchID, delta int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adjustBatchRemainingLocked(id, delta)
}

func (m *Store) adjustBatchRemainingLocked(id ledger.BatchID, delta int64) (bool, error) {
	b, ok := m.batches[id]
	if !ok || b.Deleted {
		return false, nil
	}
	next := b.QuantityRemaining + delta
	if next < 0 || next > b.QuantityReceived {
		return false, nil
	}
	b.QuantityRemaining = next
	m.batches[id] = b
	return true, nil
}

// --- Audit log (append-only) ---

func (m *Store) AppendEntry(_ context.Context, e ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *Store) EntriesByProduct(_ context.Context, productID ledger.ProductID, limit int) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Entry
	// Entries are stored in append order; walk backwards for newest first.
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if m.entries[i].ProductID == productID {
			result = append(result, m.entries[i])
		}
	}
	return result, nil
}

func (m *Store) EntriesByReference(_ context.Context, referenceID string) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Entry
	for _, e := range m.entries {
		if e.ReferenceID == referenceID {
			result = append(result, e)
		}
	}
	return result, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx executes fn within a unit of work, simulated with a snapshot
// taken up front and restored if fn fails. The write lock is held
// throughout, so no other caller observes intermediate state.
func (m *Store) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()

	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *Store) snapshot() memorySnapshot {
	productsCopy := make(map[ledger.ProductID]ledger.Product, len(m.products))
	for k, v := range m.products {
		productsCopy[k] = v
	}
	batchesCopy := make(map[ledger.BatchID]ledger.Batch, len(m.batches))
	for k, v := range m.batches {
		batchesCopy[k] = v
	}
	entriesCopy := append([]ledger.Entry{}, m.entries...)
	return memorySnapshot{products: productsCopy, batches: batchesCopy, entries: entriesCopy}
}

func (m *Store) restore(s memorySnapshot) {
	m.products = s.products
	m.batches = s.batches
	m.entries = s.entries
}

type memorySnapshot struct {
	products map[ledger.ProductID]ledger.Product
	batches  map[ledger.BatchID]ledger.Batch
	entries  []ledger.Entry
}

// txView gives the unit-of-work function lock-free access to the parent's
// state. Safe because WithTx already holds the write lock.
type txView struct {
	parent *Store
}

func (tv *txView) ProductExists(_ context.Context, id ledger.ProductID) (bool, error) {
	_, ok := tv.parent.products[id]
	return ok, nil
}

func (tv *txView) GetProduct(_ context.Context, id ledger.ProductID) (*ledger.Product, error) {
	p, ok := tv.parent.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (tv *txView) SaveProduct(_ context.Context, p ledger.Product) error {
	return tv.parent.saveProductLocked(p)
}

func (tv *txView) AdjustProductStock(_ context.Context, id ledger.ProductID, delta int64) (bool, error) {
	return tv.parent.adjustProductStockLocked(id, delta)
}

func (tv *txView) InsertBatch(_ context.Context, b ledger.Batch) error {
	tv.parent.batches[b.ID] = b
	return nil
}

func (tv *txView) GetBatch(_ context.Context, id ledger.BatchID) (*ledger.Batch, error) {
	b, ok := tv.parent.batches[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (tv *txView) FindAvailableBatches(_ context.Context, productID ledger.ProductID) ([]ledger.Batch, error) {
	return tv.parent.scanBatchesLocked(productID, true), nil
}

func (tv *txView) ListBatches(_ context.Context, productID ledger.ProductID) ([]ledger.Batch, error) {
	return tv.parent.scanBatchesLocked(productID, false), nil
}

func (tv *txView) AdjustBatchRemaining(_ context.Context, id ledger.BatchID, delta int64) (bool, error) {
	return tv.parent.adjustBatchRemainingLocked(id, delta)
}

func (tv *txView) AppendEntry(_ context.Context, e ledger.Entry) error {
	tv.parent.entries = append(tv.parent.entries, e)
	return nil
}

func (tv *txView) EntriesByProduct(_ context.Context, productID ledger.ProductID, limit int) ([]ledger.Entry, error) {
	var result []ledger.Entry
	for i := len(tv.parent.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if tv.parent.entries[i].ProductID == productID {
			result = append(result, tv.parent.entries[i])
		}
	}
	return result, nil
}

func (tv *txView) EntriesByReference(_ context.Context, referenceID string) ([]ledger.Entry, error) {
	var result []ledger.Entry
	for _, e := range tv.parent.entries {
		if e.ReferenceID == referenceID {
			result = append(result, e)
		}
	}
	return result, nil
}

// WithTx on a transactional view joins the open unit of work.
func (tv *txView) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	return fn(tv)
}
