/*
ledger.go - Stock ledger orchestrator

PURPOSE:
  The public face of the subsystem and the sole writer of products,
  batches, and audit entries. Each operation runs inside one unit of
  work: the aggregate mutation, the per-lot mutations, and the audit
  inserts commit or roll back as one outcome.

OPERATIONS:
  ReceiveStock:  new lot + aggregate increment + STOCK_IN entry
  DeductStock:   conditional aggregate decrement, FIFO allocation,
                 per-lot conditional decrements, one entry per lot
  AdjustStock:   signed convenience wrapper over receive/deduct
  ProcessReturn: named-lot increment + aggregate increment + RETURN entry

CONCURRENCY:
  No in-process locking of ledger state. The aggregate's conditional
  decrement is the single serialization point for deductions: of two
  racing deductions that would jointly overdraw, whichever commits first
  constrains the other to fail rather than both succeeding. A per-lot
  decrement rejected by a concurrent writer rolls back the whole unit of
  work and surfaces ErrConcurrencyConflict (safe to retry from scratch).

SYNCHRONY:
  Operations are synchronous and side-effect-complete on return. Callers
  choose their own mechanism (worker pool, task queue) to invoke them off
  an interactive path and marshal the result back.

SEE ALSO:
  - allocator.go: the FIFO draw plan
  - store.go: the contracts each operation drives
*/
package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// STOCK LEDGER
// =============================================================================

// StockLedger coordinates the three stores behind the public operations.
// The store handle is injected; there is no ambient global state.
type StockLedger struct {
	store  TxStore
	logger *zap.Logger
	now    func() time.Time
}

// NewStockLedger creates a ledger over the given transactional store.
// A nil logger disables logging.
func NewStockLedger(store TxStore, logger *zap.Logger) *StockLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StockLedger{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// =============================================================================
// RECEIVE
// =============================================================================

// ReceiveStock creates a new batch with received = remaining = quantity,
// increments the product aggregate, and appends one STOCK_IN entry
// referencing the new batch. Fails with ErrNotFound if the product does
// not exist.
func (l *StockLedger) ReceiveStock(ctx context.Context, req ReceiveRequest, actingUser UserID) (*Batch, error) {
	if err := validateReceive(req); err != nil {
		return nil, err
	}

	var batch *Batch
	err := l.store.WithTx(ctx, func(s Store) error {
		b, err := l.receiveIn(ctx, s, req, BatchReceipt, TxStockIn, actingUser)
		if err != nil {
			return err
		}
		batch = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("stock received",
		zap.String("product_id", string(req.ProductID)),
		zap.String("batch_id", string(batch.ID)),
		zap.Int64("quantity", req.Quantity),
		zap.String("user", string(actingUser)),
	)
	return batch, nil
}

// receiveIn performs the receive mutations inside an open unit of work.
// Shared by ReceiveStock and the positive branch of AdjustStock.
func (l *StockLedger) receiveIn(ctx context.Context, s Store, req ReceiveRequest, kind BatchKind, txType TransactionType, actingUser UserID) (*Batch, error) {
	exists, err := s.ProductExists(ctx, req.ProductID)
	if err != nil {
		return nil, &StorageError{Op: "product lookup", Err: err}
	}
	if !exists {
		return nil, &NotFoundError{Entity: "product", ID: string(req.ProductID)}
	}

	landed := req.LandedCostMinor
	if landed == 0 {
		landed = req.UnitCostMinor
	}

	batch := Batch{
		ID:                NewBatchID(),
		ProductID:         req.ProductID,
		SupplierID:        req.SupplierID,
		BatchCode:         req.BatchCode,
		ExpiryDate:        req.ExpiryDate,
		Kind:              kind,
		QuantityReceived:  req.Quantity,
		QuantityRemaining: req.Quantity,
		UnitCostMinor:     req.UnitCostMinor,
		LandedCostMinor:   landed,
		CreatedAt:         l.now().UTC(),
	}

	if err := s.InsertBatch(ctx, batch); err != nil {
		return nil, &StorageError{Op: "batch insert", Err: err}
	}

	ok, err := s.AdjustProductStock(ctx, req.ProductID, req.Quantity)
	if err != nil {
		return nil, &StorageError{Op: "aggregate increment", Err: err}
	}
	if !ok {
		// A positive delta can only be rejected if the row vanished.
		return nil, &NotFoundError{Entity: "product", ID: string(req.ProductID)}
	}

	entry := Entry{
		ID:           NewEntryID(),
		ProductID:    req.ProductID,
		BatchID:      batch.ID,
		UserID:       actingUser,
		ChangeAmount: req.Quantity,
		Type:         txType,
		Reason:       req.Reason,
		CreatedAt:    l.now().UTC(),
	}
	if err := s.AppendEntry(ctx, entry); err != nil {
		return nil, &StorageError{Op: "audit append", Err: err}
	}

	return &batch, nil
}

// =============================================================================
// DEDUCT
// =============================================================================

// DeductStock removes quantity from the product, drawing FIFO across its
// available lots. Returns the allocation plan (the cost-of-goods raw
// material) on success.
//
// Failure modes:
//   - ErrNotFound: product absent, nothing touched
//   - ErrInsufficientStock: aggregate below quantity, nothing touched
//   - ErrConcurrencyConflict: a per-lot decrement lost a race; the whole
//     unit of work rolled back and the identical request is retryable
//   - ErrInternalInconsistency: the lots could not cover a deduction the
//     aggregate admitted; fatal
func (l *StockLedger) DeductStock(ctx context.Context, req DeductRequest, actingUser UserID) ([]Allocation, error) {
	if err := validateDeduct(req); err != nil {
		return nil, err
	}

	var allocations []Allocation
	err := l.store.WithTx(ctx, func(s Store) error {
		allocs, err := l.deductIn(ctx, s, req, actingUser)
		if err != nil {
			return err
		}
		allocations = allocs
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("stock deducted",
		zap.String("product_id", string(req.ProductID)),
		zap.Int64("quantity", req.Quantity),
		zap.String("type", string(req.Type)),
		zap.Int("lots", len(allocations)),
		zap.String("user", string(actingUser)),
	)
	return allocations, nil
}

// deductIn performs the deduction mutations inside an open unit of work.
func (l *StockLedger) deductIn(ctx context.Context, s Store, req DeductRequest, actingUser UserID) ([]Allocation, error) {
	// The aggregate's conditional decrement is the serialization point:
	// it succeeds only if the resulting stock stays >= 0.
	ok, err := s.AdjustProductStock(ctx, req.ProductID, -req.Quantity)
	if err != nil {
		return nil, &StorageError{Op: "aggregate decrement", Err: err}
	}
	if !ok {
		exists, err := s.ProductExists(ctx, req.ProductID)
		if err != nil {
			return nil, &StorageError{Op: "product lookup", Err: err}
		}
		if !exists {
			return nil, &NotFoundError{Entity: "product", ID: string(req.ProductID)}
		}
		return nil, &InsufficientStockError{ProductID: req.ProductID, Requested: req.Quantity}
	}

	batches, err := s.FindAvailableBatches(ctx, req.ProductID)
	if err != nil {
		return nil, &StorageError{Op: "batch scan", Err: err}
	}

	lots := make([]Lot, len(batches))
	for i, b := range batches {
		lots[i] = Lot{BatchID: b.ID, Remaining: b.QuantityRemaining, UnitCostMinor: b.UnitCostMinor}
	}

	plan, err := AllocateFIFO(lots, req.Quantity)
	if err != nil {
		return nil, err
	}
	if plan.Shortfall > 0 {
		// The aggregate admitted the deduction, so the lots must cover it.
		// A shortfall here means the counter and the lot sum have diverged.
		l.logger.Error("aggregate/lot divergence detected",
			zap.String("product_id", string(req.ProductID)),
			zap.Int64("requested", req.Quantity),
			zap.Int64("shortfall", plan.Shortfall),
		)
		return nil, &InconsistencyError{
			ProductID: req.ProductID,
			Requested: req.Quantity,
			Shortfall: plan.Shortfall,
		}
	}

	now := l.now().UTC()
	for _, alloc := range plan.Allocations {
		ok, err := s.AdjustBatchRemaining(ctx, alloc.BatchID, -alloc.Quantity)
		if err != nil {
			return nil, &StorageError{Op: "lot decrement", Err: err}
		}
		if !ok {
			// A concurrent writer drained this lot between our scan and
			// our decrement. Roll everything back; retry is safe.
			return nil, &ConflictError{Entity: "batch", ID: string(alloc.BatchID)}
		}

		entry := Entry{
			ID:           NewEntryID(),
			ProductID:    req.ProductID,
			BatchID:      alloc.BatchID,
			UserID:       actingUser,
			ChangeAmount: -alloc.Quantity,
			Type:         req.Type,
			Reason:       req.Reason,
			CreatedAt:    now,
		}
		if err := s.AppendEntry(ctx, entry); err != nil {
			return nil, &StorageError{Op: "audit append", Err: err}
		}
	}

	return plan.Allocations, nil
}

// =============================================================================
// ADJUST
// =============================================================================

// AdjustStock applies a signed correction. A positive change creates an
// adjustment-kind batch at the given cost basis (so receipt cost history
// stays distinguishable); a negative change deducts |change| FIFO.
func (l *StockLedger) AdjustStock(ctx context.Context, req AdjustRequest, actingUser UserID) error {
	if req.ChangeAmount == 0 {
		return &ValidationError{Field: "change_amount", Message: "must be non-zero"}
	}
	if req.UnitCostMinor < 0 {
		return &ValidationError{Field: "unit_cost", Message: "must not be negative"}
	}
	txType := req.Type
	if txType == "" {
		txType = TxAdjustment
	}
	if !txType.Valid() {
		return &ValidationError{Field: "type", Message: "unknown transaction type"}
	}

	if req.ChangeAmount > 0 {
		err := l.store.WithTx(ctx, func(s Store) error {
			_, err := l.receiveIn(ctx, s, ReceiveRequest{
				ProductID:     req.ProductID,
				Quantity:      req.ChangeAmount,
				UnitCostMinor: req.UnitCostMinor,
				Reason:        req.Reason,
			}, BatchAdjustment, txType, actingUser)
			return err
		})
		if err != nil {
			return err
		}
		l.logger.Info("stock adjusted up",
			zap.String("product_id", string(req.ProductID)),
			zap.Int64("change", req.ChangeAmount),
			zap.String("user", string(actingUser)),
		)
		return nil
	}

	_, err := l.DeductStock(ctx, DeductRequest{
		ProductID: req.ProductID,
		Quantity:  -req.ChangeAmount,
		Type:      txType,
		Reason:    req.Reason,
	}, actingUser)
	return err
}

// =============================================================================
// RETURN
// =============================================================================

// ProcessReturn puts quantity back into the named batch, increments the
// product aggregate, and appends one RETURN entry referencing the order.
func (l *StockLedger) ProcessReturn(ctx context.Context, req ReturnRequest, actingUser UserID) error {
	if err := validateReturn(req); err != nil {
		return err
	}

	err := l.store.WithTx(ctx, func(s Store) error {
		batch, err := s.GetBatch(ctx, req.BatchID)
		if err != nil {
			return &StorageError{Op: "batch lookup", Err: err}
		}
		if batch == nil || batch.Deleted {
			return &NotFoundError{Entity: "batch", ID: string(req.BatchID)}
		}
		if batch.ProductID != req.ProductID {
			return &ValidationError{Field: "batch_id", Message: "batch belongs to a different product"}
		}
		if batch.QuantityRemaining+req.Quantity > batch.QuantityReceived {
			return ErrReturnExceedsBatch
		}

		ok, err := s.AdjustBatchRemaining(ctx, req.BatchID, req.Quantity)
		if err != nil {
			return &StorageError{Op: "lot increment", Err: err}
		}
		if !ok {
			return &NotFoundError{Entity: "batch", ID: string(req.BatchID)}
		}

		ok, err = s.AdjustProductStock(ctx, req.ProductID, req.Quantity)
		if err != nil {
			return &StorageError{Op: "aggregate increment", Err: err}
		}
		if !ok {
			return &NotFoundError{Entity: "product", ID: string(req.ProductID)}
		}

		entry := Entry{
			ID:           NewEntryID(),
			ProductID:    req.ProductID,
			BatchID:      req.BatchID,
			UserID:       actingUser,
			ReferenceID:  req.OrderID,
			ChangeAmount: req.Quantity,
			Type:         TxReturn,
			Reason:       req.Reason,
			CreatedAt:    l.now().UTC(),
		}
		if err := s.AppendEntry(ctx, entry); err != nil {
			return &StorageError{Op: "audit append", Err: err}
		}
		return nil
	})
	if err != nil {
		return err
	}

	l.logger.Info("return processed",
		zap.String("product_id", string(req.ProductID)),
		zap.String("batch_id", string(req.BatchID)),
		zap.String("order_id", req.OrderID),
		zap.Int64("quantity", req.Quantity),
		zap.String("user", string(actingUser)),
	)
	return nil
}

// =============================================================================
// READ QUERIES
// =============================================================================

// GetProductStock returns the product's current aggregate counter.
func (l *StockLedger) GetProductStock(ctx context.Context, id ProductID) (int64, error) {
	p, err := l.store.GetProduct(ctx, id)
	if err != nil {
		return 0, &StorageError{Op: "product lookup", Err: err}
	}
	if p == nil {
		return 0, &NotFoundError{Entity: "product", ID: string(id)}
	}
	return p.CurrentStock, nil
}

// GetBatches returns all non-deleted lots for a product, oldest first.
func (l *StockLedger) GetBatches(ctx context.Context, id ProductID) ([]Batch, error) {
	return l.store.ListBatches(ctx, id)
}

// History returns the product's audit entries, newest first.
func (l *StockLedger) History(ctx context.Context, id ProductID, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	return l.store.EntriesByProduct(ctx, id, limit)
}

// HistoryByReference returns all audit entries carrying the external
// reference, oldest first.
func (l *StockLedger) HistoryByReference(ctx context.Context, referenceID string) ([]Entry, error) {
	return l.store.EntriesByReference(ctx, referenceID)
}

// VerifyProductConsistency recomputes the lot sum and compares it to the
// aggregate counter. A diagnostic for the ErrInternalInconsistency case;
// it takes no corrective action.
func (l *StockLedger) VerifyProductConsistency(ctx context.Context, id ProductID) error {
	p, err := l.store.GetProduct(ctx, id)
	if err != nil {
		return &StorageError{Op: "product lookup", Err: err}
	}
	if p == nil {
		return &NotFoundError{Entity: "product", ID: string(id)}
	}

	batches, err := l.store.ListBatches(ctx, id)
	if err != nil {
		return &StorageError{Op: "batch scan", Err: err}
	}

	var lotSum int64
	for _, b := range batches {
		lotSum += b.QuantityRemaining
	}

	if lotSum != p.CurrentStock {
		return &InconsistencyError{
			ProductID: id,
			Requested: p.CurrentStock,
			Shortfall: p.CurrentStock - lotSum,
		}
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

func validateReceive(req ReceiveRequest) error {
	if req.ProductID == "" {
		return &ValidationError{Field: "product_id", Message: "must not be empty"}
	}
	if req.Quantity <= 0 {
		return &ValidationError{Field: "quantity", Message: "must be positive"}
	}
	if req.UnitCostMinor < 0 || req.LandedCostMinor < 0 {
		return &ValidationError{Field: "unit_cost", Message: "must not be negative"}
	}
	return nil
}

func validateDeduct(req DeductRequest) error {
	if req.ProductID == "" {
		return &ValidationError{Field: "product_id", Message: "must not be empty"}
	}
	if req.Quantity <= 0 {
		return &ValidationError{Field: "quantity", Message: "must be positive"}
	}
	if !req.Type.Valid() {
		return &ValidationError{Field: "type", Message: "unknown transaction type"}
	}
	return nil
}

func validateReturn(req ReturnRequest) error {
	if req.ProductID == "" {
		return &ValidationError{Field: "product_id", Message: "must not be empty"}
	}
	if req.BatchID == "" {
		return &ValidationError{Field: "batch_id", Message: "must not be empty"}
	}
	if req.Quantity <= 0 {
		return &ValidationError{Field: "quantity", Message: "must be positive"}
	}
	return nil
}
