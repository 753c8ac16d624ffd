package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedProduct(t *testing.T, store *Store, id string) ledger.ProductID {
	t.Helper()
	pid := ledger.ProductID(id)
	require.NoError(t, store.SaveProduct(context.Background(), ledger.Product{ID: pid, Name: "Widget"}))
	return pid
}

func testBatch(pid ledger.ProductID, createdAt time.Time, qty int64) ledger.Batch {
	return ledger.Batch{
		ID:                ledger.NewBatchID(),
		ProductID:         pid,
		Kind:              ledger.BatchReceipt,
		QuantityReceived:  qty,
		QuantityRemaining: qty,
		UnitCostMinor:     1000,
		LandedCostMinor:   1000,
		CreatedAt:         createdAt,
	}
}

// =============================================================================
// PRODUCT AGGREGATE
// =============================================================================

func TestSaveProduct_UpsertNeverTouchesStock(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	pid := seedProduct(t, store, "p1")

	ok, err := store.AdjustProductStock(ctx, pid, 7)
	require.NoError(t, err)
	require.True(t, ok)

	// Re-saving with a new name must not reset the counter
	require.NoError(t, store.SaveProduct(ctx, ledger.Product{ID: pid, Name: "Renamed"}))

	p, err := store.GetProduct(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", p.Name)
	assert.Equal(t, int64(7), p.CurrentStock)
}

func TestAdjustProductStock_GuardRejectsOverdraw(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	pid := seedProduct(t, store, "p1")

	ok, err := store.AdjustProductStock(ctx, pid, 5)
	require.NoError(t, err)
	require.True(t, ok)

	// Driving the counter negative fails without changing the row
	ok, err = store.AdjustProductStock(ctx, pid, -6)
	require.NoError(t, err)
	assert.False(t, ok)

	p, err := store.GetProduct(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, int64(5), p.CurrentStock)

	// Exact drain succeeds
	ok, err = store.AdjustProductStock(ctx, pid, -5)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAdjustProductStock_MissingRow(t *testing.T) {
	store := newTestStore(t)

	ok, err := store.AdjustProductStock(context.Background(), "ghost", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	exists, err := store.ProductExists(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, exists)
}

// =============================================================================
// BATCHES
// =============================================================================

func TestFindAvailableBatches_OldestFirstSkippingExhausted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	pid := seedProduct(t, store, "p1")

	base := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	old := testBatch(pid, base, 5)
	mid := testBatch(pid, base.Add(time.Hour), 5)
	newer := testBatch(pid, base.Add(2*time.Hour), 5)
	require.NoError(t, store.InsertBatch(ctx, old))
	require.NoError(t, store.InsertBatch(ctx, mid))
	require.NoError(t, store.InsertBatch(ctx, newer))

	// Drain the middle lot
	ok, err := store.AdjustBatchRemaining(ctx, mid.ID, -5)
	require.NoError(t, err)
	require.True(t, ok)

	available, err := store.FindAvailableBatches(ctx, pid)
	require.NoError(t, err)
	require.Len(t, available, 2)
	assert.Equal(t, old.ID, available[0].ID)
	assert.Equal(t, newer.ID, available[1].ID)

	// ListBatches still reports the exhausted lot
	all, err := store.ListBatches(ctx, pid)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestAdjustBatchRemaining_GuardsBothBounds(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	pid := seedProduct(t, store, "p1")
	b := testBatch(pid, time.Now().UTC(), 10)
	require.NoError(t, store.InsertBatch(ctx, b))

	// Below zero rejected
	ok, err := store.AdjustBatchRemaining(ctx, b.ID, -11)
	require.NoError(t, err)
	assert.False(t, ok)

	// Above received rejected (a return cannot exceed the receipt)
	ok, err = store.AdjustBatchRemaining(ctx, b.ID, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	// In-range passes
	ok, err = store.AdjustBatchRemaining(ctx, b.ID, -10)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.QuantityRemaining)
}

func TestBatchRoundTrip_PreservesFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	pid := seedProduct(t, store, "p1")

	expiry := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)
	b := ledger.Batch{
		ID:                ledger.NewBatchID(),
		ProductID:         pid,
		SupplierID:        "sup-9",
		BatchCode:         "LOT-042",
		ExpiryDate:        &expiry,
		Kind:              ledger.BatchAdjustment,
		QuantityReceived:  3,
		QuantityRemaining: 3,
		UnitCostMinor:     1250,
		LandedCostMinor:   1400,
		CreatedAt:         time.Now().UTC(),
	}
	require.NoError(t, store.InsertBatch(ctx, b))

	got, err := store.GetBatch(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, b.SupplierID, got.SupplierID)
	assert.Equal(t, b.BatchCode, got.BatchCode)
	assert.Equal(t, ledger.BatchAdjustment, got.Kind)
	assert.Equal(t, int64(1400), got.LandedCostMinor)
	require.NotNil(t, got.ExpiryDate)
	assert.True(t, expiry.Equal(*got.ExpiryDate))
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func TestEntries_OrderingAndReferenceLookup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	pid := seedProduct(t, store, "p1")

	base := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	for i, amount := range []int64{10, -4, 2} {
		e := ledger.Entry{
			ID:           ledger.NewEntryID(),
			ProductID:    pid,
			BatchID:      "b1",
			UserID:       "u1",
			ChangeAmount: amount,
			Type:         ledger.TxAdjustment,
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		}
		if amount == 2 {
			e.ReferenceID = "order-7"
			e.Type = ledger.TxReturn
		}
		require.NoError(t, store.AppendEntry(ctx, e))
	}

	// Newest first for product history
	entries, err := store.EntriesByProduct(ctx, pid, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, int64(2), entries[0].ChangeAmount)
	assert.Equal(t, int64(10), entries[2].ChangeAmount)

	// Limit applies
	limited, err := store.EntriesByProduct(ctx, pid, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	// Reference lookup
	refs, err := store.EntriesByReference(ctx, "order-7")
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, ledger.TxReturn, refs[0].Type)
}

// =============================================================================
// UNIT OF WORK
// =============================================================================

func TestWithTx_RollbackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	pid := seedProduct(t, store, "p1")

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(s ledger.Store) error {
		ok, err := s.AdjustProductStock(ctx, pid, 9)
		require.NoError(t, err)
		require.True(t, ok)
		if err := s.AppendEntry(ctx, ledger.Entry{
			ID: ledger.NewEntryID(), ProductID: pid, BatchID: ledger.SystemBatch,
			UserID: "u1", ChangeAmount: 9, Type: ledger.TxAdjustment,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// Neither the counter change nor the entry survived
	p, err := store.GetProduct(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.CurrentStock)

	entries, err := store.EntriesByProduct(ctx, pid, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWithTx_ReadsSeeUncommittedWrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	pid := seedProduct(t, store, "p1")

	err := store.WithTx(ctx, func(s ledger.Store) error {
		b := testBatch(pid, time.Now().UTC(), 5)
		if err := s.InsertBatch(ctx, b); err != nil {
			return err
		}
		// The scan inside the same unit of work must see the insert
		available, err := s.FindAvailableBatches(ctx, pid)
		if err != nil {
			return err
		}
		require.Len(t, available, 1)
		return nil
	})
	require.NoError(t, err)
}

func TestWithTx_NestedCallJoinsOuterTransaction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	pid := seedProduct(t, store, "p1")

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(s ledger.Store) error {
		txs, isTx := s.(ledger.TxStore)
		require.True(t, isTx, "tx-bound store must still offer WithTx")

		if err := txs.WithTx(ctx, func(inner ledger.Store) error {
			ok, err := inner.AdjustProductStock(ctx, pid, 3)
			require.NoError(t, err)
			require.True(t, ok)
			return nil
		}); err != nil {
			return err
		}
		// Failing the outer unit of work discards the nested write too
		return boom
	})
	require.ErrorIs(t, err, boom)

	p, err := store.GetProduct(ctx, pid)
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.CurrentStock)
}
