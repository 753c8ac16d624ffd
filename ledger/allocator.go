/*
allocator.go - FIFO lot allocation

PURPOSE:
  The one genuine algorithm in the ledger: given the ordered available
  lots of a product and a requested quantity, decide which lots to draw
  from and how much from each, oldest lot first.

PROPERTIES:
  - Pure: no I/O, no mutation, no clock. Ordering is supplied by the
    caller (lots arrive oldest first from FindAvailableBatches).
  - Deterministic: same lots + same quantity = same allocation.
  - Greedy: takes min(remaining, stillNeeded) from each lot in order.

SHORTFALL:
  If the lots cannot cover the request, the partial allocation is
  returned together with the uncovered remainder. The StockLedger treats
  any shortfall as fatal, because the aggregate's conditional decrement
  upstream is supposed to guarantee sufficiency.

SEE ALSO:
  - ledger.go: DeductStock, the only production caller
*/
package ledger

// Lot is the allocator's view of an available batch.
type Lot struct {
	BatchID       BatchID
	Remaining     int64
	UnitCostMinor int64
}

// Allocation records a draw of Quantity units from one lot, at the lot's
// unit cost at allocation time.
type Allocation struct {
	BatchID       BatchID
	Quantity      int64
	UnitCostMinor int64
}

// AllocationResult is the ordered draw plan plus any uncovered remainder.
type AllocationResult struct {
	Allocations []Allocation
	Shortfall   int64 // 0 when the lots fully cover the request
}

// TotalAllocated returns the quantity covered by the plan.
func (r AllocationResult) TotalAllocated() int64 {
	var total int64
	for _, a := range r.Allocations {
		total += a.Quantity
	}
	return total
}

// CostMinor returns the total cost of the plan in minor units.
func (r AllocationResult) CostMinor() int64 {
	var total int64
	for _, a := range r.Allocations {
		total += a.Quantity * a.UnitCostMinor
	}
	return total
}

// AllocateFIFO partitions quantity across lots in the order given,
// drawing min(remaining, stillNeeded) from each. Lots with nothing
// remaining are skipped. quantity must be > 0.
func AllocateFIFO(lots []Lot, quantity int64) (AllocationResult, error) {
	if quantity <= 0 {
		return AllocationResult{}, &ValidationError{Field: "quantity", Message: "must be positive"}
	}

	result := AllocationResult{}
	needed := quantity

	for _, lot := range lots {
		if needed == 0 {
			break
		}
		if lot.Remaining <= 0 {
			continue
		}

		take := lot.Remaining
		if take > needed {
			take = needed
		}

		result.Allocations = append(result.Allocations, Allocation{
			BatchID:       lot.BatchID,
			Quantity:      take,
			UnitCostMinor: lot.UnitCostMinor,
		})
		needed -= take
	}

	result.Shortfall = needed
	return result, nil
}
