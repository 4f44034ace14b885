package gold_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/gold-engine/gold"
)

var (
	jan = time.Date(2026, time.January, 10, 0, 0, 0, 0, time.UTC)
	feb = time.Date(2026, time.February, 10, 0, 0, 0, 0, time.UTC)
)

// seedLots records L1 (10 pcs, 50g @100, January) and L2 (10 pcs, 50g @120, February).
func (e *testEngine) seedLots(t *testing.T) (gold.CostLot, gold.CostLot) {
	t.Helper()
	ctx := context.Background()
	// Recorded out of date order on purpose.
	l2, err := e.ledger.RecordLot(ctx, gold.LotRequest{
		ProductID: "chain", BranchID: "br-1", SupplierID: "sup-1", SourceRef: "po-2",
		Quantity: dec("10"), Weight: dec("50"), UnitCostPerGram: dec("120"), PurchaseDate: feb,
	})
	require.NoError(t, err)
	l1, err := e.ledger.RecordLot(ctx, gold.LotRequest{
		ProductID: "chain", BranchID: "br-1", SupplierID: "sup-1", SourceRef: "po-1",
		Quantity: dec("10"), Weight: dec("50"), UnitCostPerGram: dec("100"), PurchaseDate: jan,
	})
	require.NoError(t, err)
	return l1, l2
}

func TestFIFO_OldestLotFirst(t *testing.T) {
	e := newTestEngine(t)
	l1, l2 := e.seedLots(t)

	v, err := e.costing.FIFO(context.Background(), "chain", "br-1", dec("15"))

	require.NoError(t, err)
	assert.Equal(t, "fifo", v.Method)
	assertDecimal(t, "15", v.Quantity)
	assertDecimal(t, "75", v.TotalWeight)
	assertDecimal(t, "8000", v.TotalCost)
	assertDecimal(t, "106.6667", v.CostPerGram)

	require.Len(t, v.Sources, 2)
	assert.Equal(t, l1.ID, v.Sources[0].LotID)
	assertDecimal(t, "5000", v.Sources[0].Cost)
	assertDecimal(t, "66.67", v.Sources[0].ContributionPercentage)
	assert.Equal(t, l2.ID, v.Sources[1].LotID)
	assertDecimal(t, "25", v.Sources[1].Weight)
	assertDecimal(t, "33.33", v.Sources[1].ContributionPercentage)
}

func TestLIFO_NewestLotFirst(t *testing.T) {
	e := newTestEngine(t)
	l1, l2 := e.seedLots(t)

	v, err := e.costing.LIFO(context.Background(), "chain", "br-1", dec("15"))

	require.NoError(t, err)
	assertDecimal(t, "8500", v.TotalCost)
	assertDecimal(t, "113.3333", v.CostPerGram)
	require.Len(t, v.Sources, 2)
	assert.Equal(t, l2.ID, v.Sources[0].LotID)
	assert.Equal(t, l1.ID, v.Sources[1].LotID)
}

func TestPlan_DoesNotConsumeLots(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.seedLots(t)

	_, err := e.costing.FIFO(ctx, "chain", "br-1", dec("15"))
	require.NoError(t, err)

	lots, err := e.ledger.Lots(ctx, gold.LotFilter{ProductID: "chain"})
	require.NoError(t, err)
	for _, l := range lots {
		assertDecimal(t, "10", l.RemainingQuantity)
	}
}

func TestPlan_PartialFulfillment(t *testing.T) {
	e := newTestEngine(t)
	e.seedLots(t)

	_, err := e.costing.FIFO(context.Background(), "chain", "br-1", dec("25"))

	var pe *gold.PartialFulfillmentError
	require.ErrorAs(t, err, &pe)
	assertDecimal(t, "20", pe.Available)
	assert.ErrorIs(t, err, gold.ErrBusinessRule)
}

func TestWeightedAverage(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	t.Run("no lots", func(t *testing.T) {
		_, err := e.costing.WeightedAverage(ctx, "chain", "br-1")
		var ne *gold.NoCostDataError
		require.ErrorAs(t, err, &ne)
		assert.ErrorIs(t, err, gold.ErrPrecondition)
	})

	t.Run("blends remaining lots", func(t *testing.T) {
		e.seedLots(t)

		v, err := e.costing.WeightedAverage(ctx, "chain", "")
		require.NoError(t, err)
		assert.Equal(t, "weighted_average", v.Method)
		assertDecimal(t, "20", v.Quantity)
		assertDecimal(t, "11000", v.TotalCost)
		assertDecimal(t, "110", v.CostPerGram)
		require.Len(t, v.Sources, 2)
		assertDecimal(t, "50", v.Sources[0].ContributionPercentage)
		assertDecimal(t, "50", v.Sources[1].ContributionPercentage)
	})
}

func TestIssue_ExhaustsLots(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	l1, l2 := e.seedLots(t)

	// WHEN: issuing 12 FIFO
	applied, err := e.ledger.Issue(ctx, "chain", "br-1", dec("12"), gold.CostFIFO)

	// THEN: L1 is exhausted, L2 keeps 8
	require.NoError(t, err)
	assertDecimal(t, "5000", applied.Sources[0].Cost)
	assertDecimal(t, "1200", applied.Sources[1].Cost)
	assertDecimal(t, "6200", applied.TotalCost)

	lots, err := e.ledger.Lots(ctx, gold.LotFilter{ProductID: "chain"})
	require.NoError(t, err)
	require.Len(t, lots, 2)
	byID := map[gold.LotID]gold.CostLot{lots[0].ID: lots[0], lots[1].ID: lots[1]}
	assert.True(t, byID[l1.ID].Exhausted)
	assertDecimal(t, "0", byID[l1.ID].RemainingWeight)
	assert.False(t, byID[l2.ID].Exhausted)
	assertDecimal(t, "8", byID[l2.ID].RemainingQuantity)
	assertDecimal(t, "40", byID[l2.ID].RemainingWeight)

	v, err := e.costing.WeightedAverage(ctx, "chain", "br-1")
	require.NoError(t, err)
	assertDecimal(t, "120", v.CostPerGram)
	assertDecimal(t, "8", v.Quantity)
}

func TestIssue_RequiresBranch(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.ledger.Issue(context.Background(), "chain", "", dec("1"), gold.CostFIFO)

	var ve *gold.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "branchId", ve.Field)
}

func TestIssue_PartialLeavesLotsUntouched(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.seedLots(t)

	_, err := e.ledger.Issue(ctx, "chain", "br-1", dec("21"), gold.CostLIFO)
	require.Error(t, err)

	v, err := e.costing.WeightedAverage(ctx, "chain", "br-1")
	require.NoError(t, err)
	assertDecimal(t, "20", v.Quantity)
}

func TestLots_SameDateOrderedBySequence(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	first, err := e.ledger.RecordLot(ctx, gold.LotRequest{
		ProductID: "ring", BranchID: "br-1", SourceRef: "po-a",
		Quantity: dec("1"), Weight: dec("5"), UnitCostPerGram: dec("200"), PurchaseDate: jan,
	})
	require.NoError(t, err)
	second, err := e.ledger.RecordLot(ctx, gold.LotRequest{
		ProductID: "ring", BranchID: "br-1", SourceRef: "po-b",
		Quantity: dec("1"), Weight: dec("5"), UnitCostPerGram: dec("100"), PurchaseDate: jan,
	})
	require.NoError(t, err)
	assert.Less(t, first.SequenceOrder, second.SequenceOrder)

	fifo, err := e.costing.FIFO(ctx, "ring", "br-1", dec("1"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, fifo.Sources[0].LotID)

	lifo, err := e.costing.LIFO(ctx, "ring", "br-1", dec("1"))
	require.NoError(t, err)
	assert.Equal(t, second.ID, lifo.Sources[0].LotID)
}

func TestBlend_LastSourceAbsorbsRounding(t *testing.T) {
	v := gold.Blend([]gold.SourceContribution{
		{Quantity: dec("1"), Weight: dec("1"), Cost: dec("100")},
		{Quantity: dec("1"), Weight: dec("1"), Cost: dec("100")},
		{Quantity: dec("1"), Weight: dec("1"), Cost: dec("100")},
	})

	assertDecimal(t, "33.33", v.Sources[0].ContributionPercentage)
	assertDecimal(t, "33.33", v.Sources[1].ContributionPercentage)
	assertDecimal(t, "33.34", v.Sources[2].ContributionPercentage)
	assertDecimal(t, "100", v.CostPerGram)
}
