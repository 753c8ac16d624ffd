/*
Package ledger is the inventory stock ledger: the single writer of a
product's aggregate stock counter, its receipt lots (batches), and the
append-only audit log of every quantity change.

PURPOSE:
  Keep three views of "how much do we have" permanently consistent:
  - products.current_stock (the aggregate counter)
  - the sum of quantity_remaining over a product's live batches
  - the running sum of change_amount in the audit log

KEY CONCEPTS IN THIS FILE (types.go):
  - Product: the aggregate with its current-stock counter
  - Batch: a discrete receipt lot with received/remaining quantities and cost
  - Entry: one immutable audit record of a quantity change
  - Request shapes for the four public operations

DESIGN PRINCIPLES:
  1. Immutability: audit entries are never updated or deleted
  2. Integer money: costs are minor-currency units (cents) inside the
     ledger; decimal conversion happens only at the system boundary
  3. Conditional mutation: every decrement is "apply only if the result
     stays in range", evaluated atomically by the store
  4. Attribution: every change carries the acting user and a reason

SEE ALSO:
  - allocator.go: FIFO lot allocation
  - ledger.go: the orchestrator driving stores and allocator
  - store.go: persistence contracts
*/
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProductID string
type BatchID string
type EntryID string
type UserID string

// SystemBatch is the sentinel batch reference for audit entries that are
// not tied to a specific lot (system postings).
const SystemBatch BatchID = "system"

// NewBatchID generates a new batch identifier.
func NewBatchID() BatchID { return BatchID(uuid.New().String()) }

// NewEntryID generates a new audit entry identifier.
func NewEntryID() EntryID { return EntryID(uuid.New().String()) }

// =============================================================================
// TRANSACTION TYPES
// =============================================================================

// TransactionType classifies an audit entry.
type TransactionType string

const (
	TxStockIn    TransactionType = "STOCK_IN"   // Receipt of new stock
	TxStockOut   TransactionType = "STOCK_OUT"  // Outgoing stock (sale, pick)
	TxAdjustment TransactionType = "ADJUSTMENT" // Manual correction
	TxReturn     TransactionType = "RETURN"     // Customer/order return
	TxDamage     TransactionType = "DAMAGE"     // Write-off for damaged goods
)

// IsDeduction reports whether the type removes stock.
func (t TransactionType) IsDeduction() bool {
	switch t {
	case TxStockOut, TxDamage:
		return true
	}
	return false
}

// Valid reports whether the type is one of the known transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TxStockIn, TxStockOut, TxAdjustment, TxReturn, TxDamage:
		return true
	}
	return false
}

// =============================================================================
// BATCH KIND - Receipt lots vs adjustment-created lots
// =============================================================================

// BatchKind separates genuine receipt lots from lots synthesized by
// positive adjustments. Adjustment lots remain eligible for FIFO
// consumption (the aggregate must stay coverable by the lot sum), but
// cost-basis reporting can exclude them by kind.
type BatchKind string

const (
	BatchReceipt    BatchKind = "receipt"
	BatchAdjustment BatchKind = "adjustment"
)

// =============================================================================
// ENTITIES
// =============================================================================

// Product is the stock aggregate: one counter per product.
//
// INVARIANT (at rest): CurrentStock equals the sum of QuantityRemaining
// over the product's non-deleted batches.
type Product struct {
	ID           ProductID
	Name         string
	CurrentStock int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Batch is a discrete receipt lot. Created once by a receive operation,
// decremented by allocation, incremented by returns, never physically
// deleted.
type Batch struct {
	ID                BatchID
	ProductID         ProductID
	SupplierID        string
	BatchCode         string
	ExpiryDate        *time.Time
	Kind              BatchKind
	QuantityReceived  int64 // Fixed at creation
	QuantityRemaining int64 // 0 <= remaining <= received
	UnitCostMinor     int64 // Minor currency units (e.g. cents)
	LandedCostMinor   int64 // Unit cost plus attributable receiving costs
	CreatedAt         time.Time // FIFO ordering key
	Deleted           bool
}

// Entry is one immutable audit record. Entries are created exclusively by
// the StockLedger and are never updated or removed.
type Entry struct {
	ID           EntryID
	ProductID    ProductID
	BatchID      BatchID // SystemBatch for non-lot-specific postings
	UserID       UserID
	ReferenceID  string // External reference, e.g. an order id
	ChangeAmount int64  // Positive = stock added, negative = stock removed
	Type         TransactionType
	Reason       string
	CreatedAt    time.Time
}

// =============================================================================
// REQUEST SHAPES
// =============================================================================

// ReceiveRequest describes an incoming receipt lot.
type ReceiveRequest struct {
	ProductID       ProductID
	SupplierID      string
	BatchCode       string
	Quantity        int64 // > 0
	UnitCostMinor   int64 // >= 0
	LandedCostMinor int64 // >= 0; defaults to UnitCostMinor when zero
	ExpiryDate      *time.Time
	Reason          string
}

// DeductRequest describes an outgoing quantity to be drawn FIFO across lots.
type DeductRequest struct {
	ProductID ProductID
	Quantity  int64 // > 0
	Type      TransactionType
	Reason    string
}

// AdjustRequest describes a signed correction to a product's stock.
type AdjustRequest struct {
	ProductID     ProductID
	ChangeAmount  int64 // != 0
	UnitCostMinor int64 // Cost basis for positive adjustments
	Type          TransactionType
	Reason        string
}

// ReturnRequest describes a quantity returned into a named batch.
type ReturnRequest struct {
	ProductID ProductID
	OrderID   string
	BatchID   BatchID
	Quantity  int64 // > 0
	Reason    string
}

// =============================================================================
// MONEY CONVERSION - Boundary only
// =============================================================================

// MinorToDecimal converts integer minor-currency units to a display value
// (1234 -> 12.34). Only the system boundary renders decimals; the ledger
// itself computes exclusively on integers.
func MinorToDecimal(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// DecimalToMinor converts a display value to integer minor units,
// rounding half away from zero (12.345 -> 1235).
func DecimalToMinor(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}
