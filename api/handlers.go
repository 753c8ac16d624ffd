/*
handlers.go - HTTP API handlers for the stock ledger

PURPOSE:
  Exposes the stock ledger via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the ledger.

ENDPOINTS:
  Products:
    POST   /api/products                      Create product
    GET    /api/products/{id}                 Get product (with current stock)
    GET    /api/products/{id}/batches         List the product's lots
    GET    /api/products/{id}/history         Audit history, newest first
    POST   /api/products/{id}/verify          Aggregate/lot consistency check

  Stock movements:
    POST   /api/products/{id}/receive         Receive a new lot
    POST   /api/products/{id}/deduct          FIFO deduction
    POST   /api/products/{id}/adjust          Signed correction
    POST   /api/products/{id}/returns         Return into a named lot

  History:
    GET    /api/history?reference={ref}       Entries for an external reference

ATTRIBUTION:
  The acting user is taken from the X-Acting-User header; "anonymous"
  when absent. Every mutation is attributed in the audit log.

ERROR HANDLING:
  Ledger errors map to HTTP status by classification:
  - 400: Validation errors
  - 404: Product or batch not found
  - 409: Insufficient stock, over-return, concurrency conflict
  - 500: Inconsistency or storage failure

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - ledger/errors.go: The classification helpers driving status codes
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger  *ledger.StockLedger
	Store   ledger.TxStore
	Logger  *zap.Logger
	Metrics *Metrics
}

// NewHandler creates a new handler over the ledger and its store.
func NewHandler(lgr *ledger.StockLedger, store ledger.TxStore, logger *zap.Logger, metrics *Metrics) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Ledger: lgr, Store: store, Logger: logger, Metrics: metrics}
}

// actingUser resolves the attributed user from the request.
func actingUser(r *http.Request) ledger.UserID {
	if u := r.Header.Get("X-Acting-User"); u != "" {
		return ledger.UserID(u)
	}
	return "anonymous"
}

// =============================================================================
// PRODUCT HANDLERS
// =============================================================================

// CreateProduct registers a product. Idempotent on the id: re-posting an
// existing product updates the name only, never the stock counter.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	p := ledger.Product{
		ID:   ledger.ProductID(req.ID),
		Name: req.Name,
	}
	if err := h.Store.SaveProduct(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save product", err)
		return
	}

	saved, err := h.Store.GetProduct(r.Context(), p.ID)
	if err != nil || saved == nil {
		writeError(w, http.StatusInternalServerError, "Failed to load product", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductDTO(saved))
}

// GetProduct returns a product with its current aggregate stock.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id := ledger.ProductID(chi.URLParam(r, "id"))

	p, err := h.Store.GetProduct(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load product", err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "Product not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toProductDTO(p))
}

// GetBatches lists the product's lots, oldest first.
func (h *Handler) GetBatches(w http.ResponseWriter, r *http.Request) {
	id := ledger.ProductID(chi.URLParam(r, "id"))

	batches, err := h.Ledger.GetBatches(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	dtos := make([]BatchDTO, len(batches))
	for i, b := range batches {
		dtos[i] = toBatchDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetHistory returns the product's audit entries, newest first.
// Supports ?limit=N (default 100).
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id := ledger.ProductID(chi.URLParam(r, "id"))

	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
		limit = parsed
	}

	entries, err := h.Ledger.History(r.Context(), id, limit)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetHistoryByReference returns audit entries for an external reference.
// GET /api/history?reference={ref}
func (h *Handler) GetHistoryByReference(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("reference")
	if ref == "" {
		writeError(w, http.StatusBadRequest, "reference query parameter is required", nil)
		return
	}

	entries, err := h.Ledger.HistoryByReference(r.Context(), ref)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// VerifyConsistency recomputes the lot sum against the aggregate counter.
func (h *Handler) VerifyConsistency(w http.ResponseWriter, r *http.Request) {
	id := ledger.ProductID(chi.URLParam(r, "id"))

	err := h.Ledger.VerifyProductConsistency(r.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrInternalInconsistency) {
			if h.Metrics != nil {
				h.Metrics.InconsistenciesDetected.Inc()
			}
			writeError(w, http.StatusConflict, "Aggregate and lot sum disagree", err)
			return
		}
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "consistent"})
}

// =============================================================================
// STOCK MOVEMENT HANDLERS
// =============================================================================

// ReceiveStock receives a new lot for the product.
func (h *Handler) ReceiveStock(w http.ResponseWriter, r *http.Request) {
	id := ledger.ProductID(chi.URLParam(r, "id"))

	var req ReceiveStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	unitCost, err := parseCost(req.UnitCost)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unit_cost must be a decimal string", err)
		return
	}
	landedCost, err := parseCost(req.LandedCost)
	if err != nil {
		writeError(w, http.StatusBadRequest, "landed_cost must be a decimal string", err)
		return
	}

	var expiry *time.Time
	if req.ExpiryDate != "" {
		t, err := time.Parse(time.RFC3339, req.ExpiryDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "expiry_date must be RFC 3339", err)
			return
		}
		expiry = &t
	}

	batch, err := h.Ledger.ReceiveStock(r.Context(), ledger.ReceiveRequest{
		ProductID:       id,
		SupplierID:      req.SupplierID,
		BatchCode:       req.BatchCode,
		Quantity:        req.Quantity,
		UnitCostMinor:   unitCost,
		LandedCostMinor: landedCost,
		ExpiryDate:      expiry,
		Reason:          req.Reason,
	}, actingUser(r))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	if h.Metrics != nil {
		h.Metrics.StockReceived.Add(float64(req.Quantity))
	}
	writeJSON(w, http.StatusCreated, toBatchDTO(*batch))
}

// DeductStock removes quantity FIFO across the product's lots.
func (h *Handler) DeductStock(w http.ResponseWriter, r *http.Request) {
	id := ledger.ProductID(chi.URLParam(r, "id"))

	var req DeductStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	txType := ledger.TxStockOut
	if req.Type != "" {
		txType = ledger.TransactionType(req.Type)
	}

	allocs, err := h.Ledger.DeductStock(r.Context(), ledger.DeductRequest{
		ProductID: id,
		Quantity:  req.Quantity,
		Type:      txType,
		Reason:    req.Reason,
	}, actingUser(r))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	if h.Metrics != nil {
		h.Metrics.StockDeducted.Add(float64(req.Quantity))
	}
	writeJSON(w, http.StatusOK, toDeductionResponse(id, req.Quantity, allocs))
}

// AdjustStock applies a signed correction to the product's stock.
func (h *Handler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	id := ledger.ProductID(chi.URLParam(r, "id"))

	var req AdjustStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	unitCost, err := parseCost(req.UnitCost)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unit_cost must be a decimal string", err)
		return
	}

	err = h.Ledger.AdjustStock(r.Context(), ledger.AdjustRequest{
		ProductID:     id,
		ChangeAmount:  req.ChangeAmount,
		UnitCostMinor: unitCost,
		Reason:        req.Reason,
	}, actingUser(r))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "adjusted"})
}

// ProcessReturn puts quantity back into a named lot.
func (h *Handler) ProcessReturn(w http.ResponseWriter, r *http.Request) {
	id := ledger.ProductID(chi.URLParam(r, "id"))

	var req ReturnStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	err := h.Ledger.ProcessReturn(r.Context(), ledger.ReturnRequest{
		ProductID: id,
		OrderID:   req.OrderID,
		BatchID:   ledger.BatchID(req.BatchID),
		Quantity:  req.Quantity,
		Reason:    req.Reason,
	}, actingUser(r))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	if h.Metrics != nil {
		h.Metrics.StockReturned.Add(float64(req.Quantity))
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "returned"})
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

// writeLedgerError maps a ledger error to the HTTP response contract.
func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		writeError(w, http.StatusBadRequest, "Validation failed", err)

	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)

	case errors.Is(err, ledger.ErrInsufficientStock):
		writeError(w, http.StatusConflict, "Insufficient stock", err)

	case errors.Is(err, ledger.ErrReturnExceedsBatch):
		writeError(w, http.StatusConflict, "Return exceeds batch received quantity", err)

	case errors.Is(err, ledger.ErrConcurrencyConflict):
		if h.Metrics != nil {
			h.Metrics.ConcurrencyConflicts.Inc()
		}
		writeError(w, http.StatusConflict, "Concurrent modification, retry the request", err)

	case errors.Is(err, ledger.ErrInternalInconsistency):
		if h.Metrics != nil {
			h.Metrics.InconsistenciesDetected.Inc()
		}
		h.Logger.Error("inconsistency surfaced to API",
			zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal inconsistency detected", err)

	default:
		h.Logger.Error("request failed",
			zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
