/*
store.go - Persistence contracts for the stock ledger

PURPOSE:
  Defines the interface between the ledger and the database. Different
  implementations back the same contracts with SQLite (embedded default),
  PostgreSQL, or in-memory storage.

CONDITIONAL MUTATION CONTRACT:
  AdjustProductStock and AdjustBatchRemaining apply a signed delta ONLY if
  the resulting value stays >= 0, evaluated atomically by the store, and
  report success as a boolean. This is the ledger's sole concurrency
  mechanism - no row is locked across round trips.

APPEND-ONLY CONTRACT:
  The audit log exposes AppendEntry and read queries. No Update() or
  Delete() method exists for entries, here or in any implementation; the
  absence of a mutation path is the integrity guarantee. Corrections are
  made with new, compensating entries.

UNIT OF WORK:
  TxStore.WithTx runs fn against a transaction-bound Store; all mutations
  inside become visible together or not at all. WithTx is reentrant: a
  nested call from within an open unit of work joins it, and only the
  outermost call commits or rolls back.

IMPLEMENTATIONS:
  - store/sqlite:   production embedded store (WAL)
  - store/postgres: server-grade store, same semantics
  - store/memory:   in-memory store for tests and demos

SEE ALSO:
  - ledger.go: the only writer of these contracts
*/
package ledger

import "context"

// =============================================================================
// STORE - Combined persistence contract
// =============================================================================

// Store is the persistence contract for the three entity kinds the ledger
// owns. The ledger is the sole writer; reporting collaborators may read.
type Store interface {
	// --- Product aggregate ---

	// ProductExists reports whether the product row exists.
	ProductExists(ctx context.Context, id ProductID) (bool, error)

	// GetProduct returns the product, or nil if absent.
	GetProduct(ctx context.Context, id ProductID) (*Product, error)

	// SaveProduct upserts a product record. Not a ledger operation; it
	// exists for provisioning and tests. The stock counter of an existing
	// product is never touched by this call.
	SaveProduct(ctx context.Context, p Product) error

	// AdjustProductStock applies delta to current_stock only if the result
	// stays >= 0. Returns false when the row is missing OR the guard fails;
	// the caller disambiguates with ProductExists only on failure.
	AdjustProductStock(ctx context.Context, id ProductID, delta int64) (bool, error)

	// --- Batches ---

	// InsertBatch persists a new lot.
	InsertBatch(ctx context.Context, b Batch) error

	// GetBatch returns the batch, or nil if absent.
	GetBatch(ctx context.Context, id BatchID) (*Batch, error)

	// FindAvailableBatches returns the product's non-deleted lots with
	// quantity_remaining > 0, ordered oldest first (the FIFO input).
	FindAvailableBatches(ctx context.Context, productID ProductID) ([]Batch, error)

	// ListBatches returns all non-deleted lots for a product, oldest first,
	// including exhausted ones (for reporting).
	ListBatches(ctx context.Context, productID ProductID) ([]Batch, error)

	// AdjustBatchRemaining applies delta to quantity_remaining only if the
	// result stays >= 0 and the batch is not deleted. Returns false when
	// the row is missing or the guard fails.
	AdjustBatchRemaining(ctx context.Context, id BatchID, delta int64) (bool, error)

	// --- Audit log (append-only) ---

	// AppendEntry persists one audit entry. There is no update or delete.
	AppendEntry(ctx context.Context, e Entry) error

	// EntriesByProduct returns the product's audit entries, newest first.
	EntriesByProduct(ctx context.Context, productID ProductID, limit int) ([]Entry, error)

	// EntriesByReference returns entries carrying the external reference
	// (e.g. all postings for an order), oldest first.
	EntriesByReference(ctx context.Context, referenceID string) ([]Entry, error)
}

// =============================================================================
// TRANSACTIONAL STORE - Unit of work
// =============================================================================

// TxStore wraps Store with an atomic unit of work.
type TxStore interface {
	Store

	// WithTx executes fn against a transaction-bound Store. If fn returns
	// an error the transaction rolls back before the error is re-raised;
	// callers never observe partial effects. Reentrant: invoking WithTx on
	// the store passed to fn joins the open transaction.
	WithTx(ctx context.Context, fn func(Store) error) error
}
