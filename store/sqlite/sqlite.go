/*
Package sqlite provides the SQLite-backed implementation of the stock
ledger's storage contracts.

PURPOSE:
  The production embedded store. Implements ledger.Store and
  ledger.TxStore over a single SQLite file (or ":memory:" for tests).

CONDITIONAL MUTATIONS:
  AdjustProductStock and AdjustBatchRemaining are single conditional
  UPDATE statements with the range guard in the WHERE clause; the number
  of affected rows is the success signal. The check and the write are one
  atomic statement, so no row is locked across round trips.

APPEND-ONLY ENFORCEMENT:
  The inventory_transactions table sees INSERT and SELECT only. No UPDATE
  or DELETE statement on it exists anywhere in this package.

KEY TABLES:
  products:               Aggregate stock counter per product
  stock_batches:          Receipt lots (received/remaining/cost)
  inventory_transactions: Immutable audit log of quantity changes

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  lgr := ledger.NewStockLedger(store, logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - store/postgres: Server-grade implementation, same semantics
  - store/memory: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/stock-ledger/ledger"
)

// querier is the subset of *sql.DB and *sql.Tx the store needs. Routing
// every statement through it lets the transaction-bound store reuse the
// same code while its reads observe its own uncommitted writes.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent and sidesteps
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Product aggregates
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		current_stock INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (current_stock >= 0)
	);

	-- Receipt lots
	CREATE TABLE IF NOT EXISTS stock_batches (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL REFERENCES products(id),
		supplier_id TEXT,
		batch_code TEXT,
		expiry_date TEXT,
		kind TEXT NOT NULL DEFAULT 'receipt',
		quantity_received INTEGER NOT NULL,
		quantity_remaining INTEGER NOT NULL,
		unit_cost_minor INTEGER NOT NULL DEFAULT 0,
		landed_cost_minor INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		CHECK (quantity_remaining >= 0),
		CHECK (quantity_remaining <= quantity_received)
	);

	-- FIFO scan (hot path): available lots of a product, oldest first
	CREATE INDEX IF NOT EXISTS idx_batches_product_created
		ON stock_batches(product_id, created_at)
		WHERE is_deleted = 0 AND quantity_remaining > 0;
	CREATE INDEX IF NOT EXISTS idx_batches_product
		ON stock_batches(product_id);

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS inventory_transactions (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		batch_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		reference_id TEXT,
		change_amount INTEGER NOT NULL,
		tx_type TEXT NOT NULL,
		reason TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_product_created
		ON inventory_transactions(product_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_transactions_reference
		ON inventory_transactions(reference_id) WHERE reference_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_transactions_batch
		ON inventory_transactions(batch_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// PRODUCT AGGREGATE (ledger.Store interface)
// =============================================================================

// ProductExists reports whether the product row exists.
func (s *Store) ProductExists(ctx context.Context, id ledger.ProductID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.productExistsQ(ctx, s.db, id)
}

func (s *Store) productExistsQ(ctx context.Context, q querier, id ledger.ProductID) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM products WHERE id = ?`, string(id)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetProduct returns the product, or nil if absent.
func (s *Store) GetProduct(ctx context.Context, id ledger.ProductID) (*ledger.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getProductQ(ctx, s.db, id)
}

func (s *Store) getProductQ(ctx context.Context, q querier, id ledger.ProductID) (*ledger.Product, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, name, current_stock, created_at, updated_at
		FROM products WHERE id = ?`, string(id))

	var p ledger.Product
	var createdAt, updatedAt string
	err := row.Scan(&p.ID, &p.Name, &p.CurrentStock, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &p, nil
}

// SaveProduct upserts a product record. The stock counter of an existing
// product is never touched.
func (s *Store) SaveProduct(ctx context.Context, p ledger.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveProductQ(ctx, s.db, p)
}

func (s *Store) saveProductQ(ctx context.Context, q querier, p ledger.Product) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := q.ExecContext(ctx, `
		INSERT INTO products (id, name, current_stock, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at`,
		string(p.ID), p.Name, p.CurrentStock, now, now)
	return err
}

// AdjustProductStock applies delta to current_stock only if the result
// stays >= 0. The guard lives in the WHERE clause, so check and write are
// one atomic statement.
func (s *Store) AdjustProductStock(ctx context.Context, id ledger.ProductID, delta int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adjustProductStockQ(ctx, s.db, id, delta)
}

func (s *Store) adjustProductStockQ(ctx context.Context, q querier, id ledger.ProductID, delta int64) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := q.ExecContext(ctx, `
		UPDATE products
		SET current_stock = current_stock + ?, updated_at = ?
		WHERE id = ? AND current_stock + ? >= 0`,
		delta, now, string(id), delta)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// =============================================================================
// BATCHES
// =============================================================================

// InsertBatch persists a new lot.
func (s *Store) InsertBatch(ctx context.Context, b ledger.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertBatchQ(ctx, s.db, b)
}

func (s *Store) insertBatchQ(ctx context.Context, q querier, b ledger.Batch) error {
	var expiry any
	if b.ExpiryDate != nil {
		expiry = b.ExpiryDate.UTC().Format(time.RFC3339Nano)
	}
	deleted := 0
	if b.Deleted {
		deleted = 1
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO stock_batches
		(id, product_id, supplier_id, batch_code, expiry_date, kind,
		 quantity_received, quantity_remaining, unit_cost_minor, landed_cost_minor,
		 created_at, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(b.ID), string(b.ProductID), b.SupplierID, b.BatchCode, expiry, string(b.Kind),
		b.QuantityReceived, b.QuantityRemaining, b.UnitCostMinor, b.LandedCostMinor,
		b.CreatedAt.UTC().Format(time.RFC3339Nano), deleted)
	return err
}

// GetBatch returns the batch, or nil if absent.
func (s *Store) GetBatch(ctx context.Context, id ledger.BatchID) (*ledger.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getBatchQ(ctx, s.db, id)
}

func (s *Store) getBatchQ(ctx context.Context, q querier, id ledger.BatchID) (*ledger.Batch, error) {
	row := q.QueryRowContext(ctx, batchSelect+` WHERE id = ?`, string(id))
	b, err := scanBatch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// FindAvailableBatches returns the product's non-deleted lots with stock
// remaining, oldest first. This ordering IS the FIFO policy.
func (s *Store) FindAvailableBatches(ctx context.Context, productID ledger.ProductID) ([]ledger.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findAvailableBatchesQ(ctx, s.db, productID)
}

func (s *Store) findAvailableBatchesQ(ctx context.Context, q querier, productID ledger.ProductID) ([]ledger.Batch, error) {
	rows, err := q.QueryContext(ctx, batchSelect+`
		WHERE product_id = ? AND is_deleted = 0 AND quantity_remaining > 0
		ORDER BY created_at ASC, id ASC`, string(productID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBatches(rows)
}

// ListBatches returns all non-deleted lots for a product, oldest first.
func (s *Store) ListBatches(ctx context.Context, productID ledger.ProductID) ([]ledger.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listBatchesQ(ctx, s.db, productID)
}

func (s *Store) listBatchesQ(ctx context.Context, q querier, productID ledger.ProductID) ([]ledger.Batch, error) {
	rows, err := q.QueryContext(ctx, batchSelect+`
		WHERE product_id = ? AND is_deleted = 0
		ORDER BY created_at ASC, id ASC`, string(productID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectBatches(rows)
}

// AdjustBatchRemaining applies delta to quantity_remaining only if the
// result stays within [0, quantity_received] and the lot is live.
func (s *Store) AdjustBatchRemaining(ctx context.Context, id ledger.BatchID, delta int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adjustBatchRemainingQ(ctx, s.db, id, delta)
}

func (s *Store) adjustBatchRemainingQ(ctx context.Context, q querier, id ledger.BatchID, delta int64) (bool, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE stock_batches
		SET quantity_remaining = quantity_remaining + ?
		WHERE id = ? AND is_deleted = 0
		  AND quantity_remaining + ? >= 0
		  AND quantity_remaining + ? <= quantity_received`,
		delta, string(id), delta, delta)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// =============================================================================
// AUDIT LOG (append-only)
// =============================================================================

// AppendEntry persists one audit entry. This is the only statement that
// ever touches inventory_transactions besides SELECT.
func (s *Store) AppendEntry(ctx context.Context, e ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendEntryQ(ctx, s.db, e)
}

func (s *Store) appendEntryQ(ctx context.Context, q querier, e ledger.Entry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO inventory_transactions
		(id, product_id, batch_id, user_id, reference_id, change_amount, tx_type, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.ID), string(e.ProductID), string(e.BatchID), string(e.UserID),
		nullIfEmpty(e.ReferenceID), e.ChangeAmount, string(e.Type), e.Reason,
		e.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// EntriesByProduct returns the product's audit entries, newest first.
func (s *Store) EntriesByProduct(ctx context.Context, productID ledger.ProductID, limit int) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entriesByProductQ(ctx, s.db, productID, limit)
}

func (s *Store) entriesByProductQ(ctx context.Context, q querier, productID ledger.ProductID, limit int) ([]ledger.Entry, error) {
	rows, err := q.QueryContext(ctx, entrySelect+`
		WHERE product_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, string(productID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// EntriesByReference returns entries carrying the external reference,
// oldest first.
func (s *Store) EntriesByReference(ctx context.Context, referenceID string) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entriesByReferenceQ(ctx, s.db, referenceID)
}

func (s *Store) entriesByReferenceQ(ctx context.Context, q querier, referenceID string) ([]ledger.Entry, error) {
	rows, err := q.QueryContext(ctx, entrySelect+`
		WHERE reference_id = ?
		ORDER BY created_at ASC, id ASC`, referenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. All mutations commit
// together or not at all.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore binds every Store method to one open transaction, so reads made
// inside the unit of work observe its own writes.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) ProductExists(ctx context.Context, id ledger.ProductID) (bool, error) {
	return ts.parent.productExistsQ(ctx, ts.tx, id)
}

func (ts *txStore) GetProduct(ctx context.Context, id ledger.ProductID) (*ledger.Product, error) {
	return ts.parent.getProductQ(ctx, ts.tx, id)
}

func (ts *txStore) SaveProduct(ctx context.Context, p ledger.Product) error {
	return ts.parent.saveProductQ(ctx, ts.tx, p)
}

func (ts *txStore) AdjustProductStock(ctx context.Context, id ledger.ProductID, delta int64) (bool, error) {
	return ts.parent.adjustProductStockQ(ctx, ts.tx, id, delta)
}

func (ts *txStore) InsertBatch(ctx context.Context, b ledger.Batch) error {
	return ts.parent.insertBatchQ(ctx, ts.tx, b)
}

func (ts *txStore) GetBatch(ctx context.Context, id ledger.BatchID) (*ledger.Batch, error) {
	return ts.parent.getBatchQ(ctx, ts.tx, id)
}

func (ts *txStore) FindAvailableBatches(ctx context.Context, productID ledger.ProductID) ([]ledger.Batch, error) {
	return ts.parent.findAvailableBatchesQ(ctx, ts.tx, productID)
}

func (ts *txStore) ListBatches(ctx context.Context, productID ledger.ProductID) ([]ledger.Batch, error) {
	return ts.parent.listBatchesQ(ctx, ts.tx, productID)
}

func (ts *txStore) AdjustBatchRemaining(ctx context.Context, id ledger.BatchID, delta int64) (bool, error) {
	return ts.parent.adjustBatchRemainingQ(ctx, ts.tx, id, delta)
}

func (ts *txStore) AppendEntry(ctx context.Context, e ledger.Entry) error {
	return ts.parent.appendEntryQ(ctx, ts.tx, e)
}

func (ts *txStore) EntriesByProduct(ctx context.Context, productID ledger.ProductID, limit int) ([]ledger.Entry, error) {
	return ts.parent.entriesByProductQ(ctx, ts.tx, productID, limit)
}

func (ts *txStore) EntriesByReference(ctx context.Context, referenceID string) ([]ledger.Entry, error) {
	return ts.parent.entriesByReferenceQ(ctx, ts.tx, referenceID)
}

// WithTx on a transaction-bound store joins the open transaction. Only the
// outermost WithTx commits or rolls back.
func (ts *txStore) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	return fn(ts)
}

// =============================================================================
// ROW SCANNING
// =============================================================================

const batchSelect = `
	SELECT id, product_id, supplier_id, batch_code, expiry_date, kind,
	       quantity_received, quantity_remaining, unit_cost_minor, landed_cost_minor,
	       created_at, is_deleted
	FROM stock_batches`

const entrySelect = `
	SELECT id, product_id, batch_id, user_id, reference_id, change_amount, tx_type, reason, created_at
	FROM inventory_transactions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (*ledger.Batch, error) {
	var b ledger.Batch
	var supplierID, batchCode, expiry sql.NullString
	var createdAt string
	var deleted int

	err := row.Scan(&b.ID, &b.ProductID, &supplierID, &batchCode, &expiry, &b.Kind,
		&b.QuantityReceived, &b.QuantityRemaining, &b.UnitCostMinor, &b.LandedCostMinor,
		&createdAt, &deleted)
	if err != nil {
		return nil, err
	}

	b.SupplierID = supplierID.String
	b.BatchCode = batchCode.String
	if expiry.Valid && expiry.String != "" {
		if t, err := time.Parse(time.RFC3339Nano, expiry.String); err == nil {
			b.ExpiryDate = &t
		}
	}
	b.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	b.Deleted = deleted != 0
	return &b, nil
}

func collectBatches(rows *sql.Rows) ([]ledger.Batch, error) {
	var batches []ledger.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, *b)
	}
	return batches, rows.Err()
}

func scanEntry(row rowScanner) (*ledger.Entry, error) {
	var e ledger.Entry
	var referenceID, reason sql.NullString
	var createdAt string

	err := row.Scan(&e.ID, &e.ProductID, &e.BatchID, &e.UserID, &referenceID,
		&e.ChangeAmount, &e.Type, &reason, &createdAt)
	if err != nil {
		return nil, err
	}

	e.ReferenceID = referenceID.String
	e.Reason = reason.String
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &e, nil
}

func collectEntries(rows *sql.Rows) ([]ledger.Entry, error) {
	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
