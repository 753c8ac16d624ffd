package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// FIFO ALLOCATION
// =============================================================================

func TestAllocateFIFO_SpansLotsOldestFirst(t *testing.T) {
	// GIVEN: Two lots, 5 units each, oldest lot at cost 10.00
	lots := []Lot{
		{BatchID: "b1", Remaining: 5, UnitCostMinor: 1000},
		{BatchID: "b2", Remaining: 5, UnitCostMinor: 1200},
	}

	// WHEN: Deducting 7 units
	result, err := AllocateFIFO(lots, 7)
	require.NoError(t, err)

	// THEN: All 5 come from the oldest lot, the remaining 2 from the next
	require.Len(t, result.Allocations, 2)
	assert.Equal(t, BatchID("b1"), result.Allocations[0].BatchID)
	assert.Equal(t, int64(5), result.Allocations[0].Quantity)
	assert.Equal(t, int64(1000), result.Allocations[0].UnitCostMinor)
	assert.Equal(t, BatchID("b2"), result.Allocations[1].BatchID)
	assert.Equal(t, int64(2), result.Allocations[1].Quantity)
	assert.Equal(t, int64(1200), result.Allocations[1].UnitCostMinor)

	assert.Equal(t, int64(0), result.Shortfall)
	assert.Equal(t, int64(7), result.TotalAllocated())
	// 5*10.00 + 2*12.00 = 74.00
	assert.Equal(t, int64(7400), result.CostMinor())
}

func TestAllocateFIFO_SingleLotCoversRequest(t *testing.T) {
	lots := []Lot{
		{BatchID: "b1", Remaining: 10, UnitCostMinor: 500},
		{BatchID: "b2", Remaining: 10, UnitCostMinor: 600},
	}

	result, err := AllocateFIFO(lots, 4)
	require.NoError(t, err)

	// Newer lot untouched
	require.Len(t, result.Allocations, 1)
	assert.Equal(t, BatchID("b1"), result.Allocations[0].BatchID)
	assert.Equal(t, int64(4), result.Allocations[0].Quantity)
	assert.Equal(t, int64(0), result.Shortfall)
}

func TestAllocateFIFO_ExactlyDrainsLot(t *testing.T) {
	lots := []Lot{
		{BatchID: "b1", Remaining: 5, UnitCostMinor: 100},
		{BatchID: "b2", Remaining: 5, UnitCostMinor: 100},
	}

	result, err := AllocateFIFO(lots, 5)
	require.NoError(t, err)

	// Exactly one lot drained, no spill into the next
	require.Len(t, result.Allocations, 1)
	assert.Equal(t, int64(5), result.Allocations[0].Quantity)
}

func TestAllocateFIFO_SkipsEmptyLots(t *testing.T) {
	// GIVEN: The oldest lot is already exhausted
	lots := []Lot{
		{BatchID: "b1", Remaining: 0, UnitCostMinor: 100},
		{BatchID: "b2", Remaining: 3, UnitCostMinor: 200},
	}

	result, err := AllocateFIFO(lots, 2)
	require.NoError(t, err)

	require.Len(t, result.Allocations, 1)
	assert.Equal(t, BatchID("b2"), result.Allocations[0].BatchID)
}

func TestAllocateFIFO_ShortfallReported(t *testing.T) {
	// GIVEN: Lots hold 6 units total
	lots := []Lot{
		{BatchID: "b1", Remaining: 4, UnitCostMinor: 100},
		{BatchID: "b2", Remaining: 2, UnitCostMinor: 100},
	}

	// WHEN: Deducting 10
	result, err := AllocateFIFO(lots, 10)
	require.NoError(t, err)

	// THEN: Partial plan plus the uncovered remainder
	assert.Equal(t, int64(6), result.TotalAllocated())
	assert.Equal(t, int64(4), result.Shortfall)
}

func TestAllocateFIFO_NoLots(t *testing.T) {
	result, err := AllocateFIFO(nil, 3)
	require.NoError(t, err)
	assert.Empty(t, result.Allocations)
	assert.Equal(t, int64(3), result.Shortfall)
}

func TestAllocateFIFO_RejectsNonPositiveQuantity(t *testing.T) {
	_, err := AllocateFIFO([]Lot{{BatchID: "b1", Remaining: 5}}, 0)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = AllocateFIFO([]Lot{{BatchID: "b1", Remaining: 5}}, -2)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAllocateFIFO_Deterministic(t *testing.T) {
	lots := []Lot{
		{BatchID: "b1", Remaining: 3, UnitCostMinor: 100},
		{BatchID: "b2", Remaining: 7, UnitCostMinor: 150},
	}

	first, err := AllocateFIFO(lots, 8)
	require.NoError(t, err)
	second, err := AllocateFIFO(lots, 8)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
