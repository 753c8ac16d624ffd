/*
handlers_test.go - HTTP contract tests

PURPOSE:
  Exercises the REST surface end to end over the in-memory store:
  request decoding, decimal cost conversion, error-to-status mapping,
  and acting-user attribution.
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	lgr := ledger.NewStockLedger(store, nil)
	metrics := NewMetrics(prometheus.NewRegistry())
	handler := NewHandler(lgr, store, nil, metrics)
	srv := httptest.NewServer(NewRouter(handler, []string{"*"}))
	t.Cleanup(srv.Close)
	return srv, store
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Acting-User", "alice")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func createProduct(t *testing.T, srv *httptest.Server, id string) {
	t.Helper()
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/products", CreateProductRequest{ID: id, Name: "Widget"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func receiveStock(t *testing.T, srv *httptest.Server, productID string, qty int64, cost string) BatchDTO {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost,
		fmt.Sprintf("%s/api/products/%s/receive", srv.URL, productID),
		ReceiveStockRequest{Quantity: qty, UnitCost: cost})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var dto BatchDTO
	require.NoError(t, json.Unmarshal(body, &dto))
	return dto
}

// =============================================================================
// PRODUCT LIFECYCLE
// =============================================================================

func TestAPI_ReceiveThenDeduct_FIFO(t *testing.T) {
	srv, _ := newTestServer(t)
	createProduct(t, srv, "p1")

	// GIVEN: Two lots at different costs
	b1 := receiveStock(t, srv, "p1", 5, "10.00")
	b2 := receiveStock(t, srv, "p1", 5, "12.00")

	// WHEN: Deducting 7 over HTTP
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/products/p1/deduct",
		DeductStockRequest{Quantity: 7})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var result DeductionResponse
	require.NoError(t, json.Unmarshal(body, &result))

	// THEN: The allocation plan spans both lots, oldest first
	require.Len(t, result.Allocations, 2)
	assert.Equal(t, b1.ID, result.Allocations[0].BatchID)
	assert.Equal(t, int64(5), result.Allocations[0].Quantity)
	assert.Equal(t, "10.00", result.Allocations[0].UnitCost)
	assert.Equal(t, b2.ID, result.Allocations[1].BatchID)
	assert.Equal(t, int64(2), result.Allocations[1].Quantity)
	assert.Equal(t, "74.00", result.TotalCost)

	// AND: The product reports the new aggregate
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/products/p1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var product ProductDTO
	require.NoError(t, json.Unmarshal(body, &product))
	assert.Equal(t, int64(3), product.CurrentStock)
}

func TestAPI_InsufficientStock_409(t *testing.T) {
	srv, _ := newTestServer(t)
	createProduct(t, srv, "p1")
	receiveStock(t, srv, "p1", 3, "1.00")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/products/p1/deduct",
		DeductStockRequest{Quantity: 10})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Equal(t, "Insufficient stock", errResp.Error)
}

func TestAPI_UnknownProduct_404(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/products/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/products/ghost/deduct",
		DeductStockRequest{Quantity: 1})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_ValidationError_400(t *testing.T) {
	srv, _ := newTestServer(t)
	createProduct(t, srv, "p1")

	// Non-positive quantity
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/products/p1/deduct",
		DeductStockRequest{Quantity: 0})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unparseable cost
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/products/p1/receive",
		ReceiveStockRequest{Quantity: 1, UnitCost: "abc"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// ADJUST AND RETURN
// =============================================================================

func TestAPI_AdjustAndVerify(t *testing.T) {
	srv, _ := newTestServer(t)
	createProduct(t, srv, "p1")
	receiveStock(t, srv, "p1", 10, "2.00")

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/products/p1/adjust",
		AdjustStockRequest{ChangeAmount: -4, Reason: "shrinkage"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/products/p1/verify", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/products/p1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var product ProductDTO
	require.NoError(t, json.Unmarshal(body, &product))
	assert.Equal(t, int64(6), product.CurrentStock)
}

func TestAPI_ReturnFlow_WithReferenceHistory(t *testing.T) {
	srv, _ := newTestServer(t)
	createProduct(t, srv, "p1")
	b := receiveStock(t, srv, "p1", 10, "3.00")

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/products/p1/deduct",
		DeductStockRequest{Quantity: 4})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Return 2 against order-42
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/products/p1/returns",
		ReturnStockRequest{OrderID: "order-42", BatchID: b.ID, Quantity: 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Over-return rejected
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/products/p1/returns",
		ReturnStockRequest{OrderID: "order-42", BatchID: b.ID, Quantity: 5})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Reference history shows the successful return, attributed
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/history?reference=order-42", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []EntryDTO
	require.NoError(t, json.Unmarshal(body, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "RETURN", entries[0].Type)
	assert.Equal(t, "alice", entries[0].UserID)
	assert.Equal(t, "order-42", entries[0].ReferenceID)
}

// =============================================================================
// HISTORY AND BATCH LISTING
// =============================================================================

func TestAPI_HistoryNewestFirstWithLimit(t *testing.T) {
	srv, _ := newTestServer(t)
	createProduct(t, srv, "p1")
	receiveStock(t, srv, "p1", 5, "1.00")
	receiveStock(t, srv, "p1", 6, "1.00")
	receiveStock(t, srv, "p1", 7, "1.00")

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/products/p1/history?limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []EntryDTO
	require.NoError(t, json.Unmarshal(body, &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, int64(7), entries[0].ChangeAmount, "newest receipt first")

	// Bad limit rejected
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/products/p1/history?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_BatchListing(t *testing.T) {
	srv, _ := newTestServer(t)
	createProduct(t, srv, "p1")
	receiveStock(t, srv, "p1", 5, "1.50")

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/products/p1/batches", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var batches []BatchDTO
	require.NoError(t, json.Unmarshal(body, &batches))
	require.Len(t, batches, 1)
	assert.Equal(t, "1.50", batches[0].UnitCost)
	assert.Equal(t, int64(5), batches[0].QuantityRemaining)
}

// =============================================================================
// OPERATIONAL ENDPOINTS
// =============================================================================

func TestAPI_Healthz(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ok")
}

func TestAPI_MetricsExposed(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
