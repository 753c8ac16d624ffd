/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Costs cross the API as decimal strings ("12.34"); the ledger computes
  exclusively on integer minor units. Conversion happens here and nowhere
  else.

VALIDATION:
  Structural validation (parseable decimals, positive quantities) is done
  while converting; business validation lives in the ledger.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: The domain model behind them
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateProductRequest registers a product with the ledger.
type CreateProductRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ReceiveStockRequest is the request body for a stock receipt.
type ReceiveStockRequest struct {
	SupplierID string `json:"supplier_id,omitempty"`
	BatchCode  string `json:"batch_code,omitempty"`
	Quantity   int64  `json:"quantity"`
	UnitCost   string `json:"unit_cost"`             // decimal string, e.g. "12.34"
	LandedCost string `json:"landed_cost,omitempty"` // defaults to unit_cost
	ExpiryDate string `json:"expiry_date,omitempty"` // RFC 3339
	Reason     string `json:"reason,omitempty"`
}

// DeductStockRequest is the request body for an outgoing deduction.
type DeductStockRequest struct {
	Quantity int64  `json:"quantity"`
	Type     string `json:"type,omitempty"` // STOCK_OUT (default) or DAMAGE
	Reason   string `json:"reason,omitempty"`
}

// AdjustStockRequest is the request body for a signed correction.
type AdjustStockRequest struct {
	ChangeAmount int64  `json:"change_amount"`
	UnitCost     string `json:"unit_cost,omitempty"` // cost basis for positive changes
	Reason       string `json:"reason,omitempty"`
}

// ReturnStockRequest is the request body for a return into a named batch.
type ReturnStockRequest struct {
	OrderID  string `json:"order_id"`
	BatchID  string `json:"batch_id"`
	Quantity int64  `json:"quantity"`
	Reason   string `json:"reason,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ProductDTO represents a product in API responses.
type ProductDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	CurrentStock int64  `json:"current_stock"`
	CreatedAt    string `json:"created_at,omitempty"`
	UpdatedAt    string `json:"updated_at,omitempty"`
}

// BatchDTO represents a receipt lot in API responses.
type BatchDTO struct {
	ID                string `json:"id"`
	ProductID         string `json:"product_id"`
	SupplierID        string `json:"supplier_id,omitempty"`
	BatchCode         string `json:"batch_code,omitempty"`
	ExpiryDate        string `json:"expiry_date,omitempty"`
	Kind              string `json:"kind"`
	QuantityReceived  int64  `json:"quantity_received"`
	QuantityRemaining int64  `json:"quantity_remaining"`
	UnitCost          string `json:"unit_cost"`
	LandedCost        string `json:"landed_cost"`
	CreatedAt         string `json:"created_at"`
}

// AllocationDTO reports one lot drawn by a deduction.
type AllocationDTO struct {
	BatchID  string `json:"batch_id"`
	Quantity int64  `json:"quantity"`
	UnitCost string `json:"unit_cost"`
}

// DeductionResponse is the body returned by a successful deduction.
type DeductionResponse struct {
	ProductID   string          `json:"product_id"`
	Quantity    int64           `json:"quantity"`
	Allocations []AllocationDTO `json:"allocations"`
	TotalCost   string          `json:"total_cost"`
}

// EntryDTO represents one audit log entry in API responses.
type EntryDTO struct {
	ID           string `json:"id"`
	ProductID    string `json:"product_id"`
	BatchID      string `json:"batch_id"`
	UserID       string `json:"user_id"`
	ReferenceID  string `json:"reference_id,omitempty"`
	ChangeAmount int64  `json:"change_amount"`
	Type         string `json:"type"`
	Reason       string `json:"reason,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// ErrorResponse is the JSON shape of every error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toProductDTO(p *ledger.Product) ProductDTO {
	return ProductDTO{
		ID:           string(p.ID),
		Name:         p.Name,
		CurrentStock: p.CurrentStock,
		CreatedAt:    formatTime(p.CreatedAt),
		UpdatedAt:    formatTime(p.UpdatedAt),
	}
}

func toBatchDTO(b ledger.Batch) BatchDTO {
	dto := BatchDTO{
		ID:                string(b.ID),
		ProductID:         string(b.ProductID),
		SupplierID:        b.SupplierID,
		BatchCode:         b.BatchCode,
		Kind:              string(b.Kind),
		QuantityReceived:  b.QuantityReceived,
		QuantityRemaining: b.QuantityRemaining,
		UnitCost:          ledger.MinorToDecimal(b.UnitCostMinor).StringFixed(2),
		LandedCost:        ledger.MinorToDecimal(b.LandedCostMinor).StringFixed(2),
		CreatedAt:         formatTime(b.CreatedAt),
	}
	if b.ExpiryDate != nil {
		dto.ExpiryDate = formatTime(*b.ExpiryDate)
	}
	return dto
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	return EntryDTO{
		ID:           string(e.ID),
		ProductID:    string(e.ProductID),
		BatchID:      string(e.BatchID),
		UserID:       string(e.UserID),
		ReferenceID:  e.ReferenceID,
		ChangeAmount: e.ChangeAmount,
		Type:         string(e.Type),
		Reason:       e.Reason,
		CreatedAt:    formatTime(e.CreatedAt),
	}
}

func toDeductionResponse(productID ledger.ProductID, quantity int64, allocs []ledger.Allocation) DeductionResponse {
	dtos := make([]AllocationDTO, len(allocs))
	var totalMinor int64
	for i, a := range allocs {
		dtos[i] = AllocationDTO{
			BatchID:  string(a.BatchID),
			Quantity: a.Quantity,
			UnitCost: ledger.MinorToDecimal(a.UnitCostMinor).StringFixed(2),
		}
		totalMinor += a.Quantity * a.UnitCostMinor
	}
	return DeductionResponse{
		ProductID:   string(productID),
		Quantity:    quantity,
		Allocations: dtos,
		TotalCost:   ledger.MinorToDecimal(totalMinor).StringFixed(2),
	}
}

// parseCost converts a decimal string to minor units. Empty means zero.
func parseCost(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return ledger.DecimalToMinor(d), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
