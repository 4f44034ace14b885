package gold_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/gold-engine/gold"
	"github.com/warp/gold-engine/gold/store"
)

func TestConsolidate_MergesGroup(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	// GIVEN: two receipts of the same product from one supplier
	a := e.receive(t, "ring", "po-1", "10", "10", "1000", "1000")
	b := e.receive(t, "ring", "po-2", "5", "5", "600", "180")

	// WHEN: consolidating
	res, err := e.consolidation.Consolidate(ctx, gold.ConsolidateRequest{
		ProductID: "ring", SupplierID: "sup-1", BranchID: "br-1", Actor: "ops",
	})

	// THEN: one merged row carries the sums
	require.NoError(t, err)
	m := res.Merged
	assert.True(t, m.IsActive)
	assertDecimal(t, "15", m.TotalQuantity)
	assertDecimal(t, "11.5", m.OwnedQuantity)
	assertDecimal(t, "1600", m.TotalCost)
	assertDecimal(t, "1180", m.AmountPaid)
	assertDecimal(t, "106.6667", m.UnitCostPerGram)
	assertDecimal(t, "420", m.OutstandingAmount())

	assert.Equal(t, "blended", res.Cost.Method)
	require.Len(t, res.Cost.Sources, 2)
	assert.ElementsMatch(t, []gold.OwnershipID{a.ID, b.ID}, res.SourceIDs)

	// THEN: sources are kept but inactive
	for _, id := range []gold.OwnershipID{a.ID, b.ID} {
		row, err := e.ownership.Get(ctx, id)
		require.NoError(t, err)
		assert.False(t, row.IsActive)
		assert.Equal(t, m.ID, row.ConsolidatedInto)
	}

	// THEN: the movement lists both sources
	movements, err := e.ownership.Movements(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, gold.MovementConsolidation, movements[0].Type)
	assert.Equal(t, string(m.ID), movements[0].ReferenceNumber)
	assert.ElementsMatch(t, []gold.OwnershipID{a.ID, b.ID}, movements[0].SourceOwnershipIDs)

	// THEN: sale validation sees the same figures
	v, err := e.ownership.ValidateSale(ctx, "ring", "br-1", dec("1"))
	require.NoError(t, err)
	assert.Equal(t, 1, v.Rows)
	assertDecimal(t, "11.5", v.OwnedQuantity)
}

func TestConsolidate_CostPerGramIsWeightWeighted(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	// GIVEN: rows whose piece weights differ, 100/g over 10g and 75/g over 20g
	a := e.receive(t, "ring", "po-1", "10", "10", "1000", "0")
	b := e.receive(t, "ring", "po-2", "5", "20", "1500", "0")
	assertDecimal(t, "100", a.UnitCostPerGram)
	assertDecimal(t, "75", b.UnitCostPerGram)

	// WHEN: consolidating
	res, err := e.consolidation.Consolidate(ctx, gold.ConsolidateRequest{
		ProductID: "ring", SupplierID: "sup-1", BranchID: "br-1",
	})
	require.NoError(t, err)

	// THEN: the merged rate is total cost over total weight of the sources
	sourceRate := a.TotalCost.Add(b.TotalCost).Div(a.TotalWeight.Add(b.TotalWeight)).RoundBank(gold.RatePlaces)
	assertDecimal(t, "83.3333", sourceRate)
	assert.True(t, sourceRate.Equal(res.Merged.UnitCostPerGram), "merged %s", res.Merged.UnitCostPerGram)
	assert.True(t, sourceRate.Equal(res.Cost.CostPerGram))

	// THEN: a per-piece average would have given a different figure
	perPiece := a.UnitCostPerGram.Mul(a.TotalQuantity).Add(b.UnitCostPerGram.Mul(b.TotalQuantity)).
		Div(a.TotalQuantity.Add(b.TotalQuantity)).RoundBank(gold.RatePlaces)
	assert.False(t, perPiece.Equal(res.Merged.UnitCostPerGram))
	assertDecimal(t, "30", res.Merged.TotalWeight)
	assertDecimal(t, "2500", res.Merged.TotalCost)
}

func TestConsolidate_SourceRowsRejectMutations(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	// GIVEN: two unpaid rows merged into one
	a := e.receive(t, "ring", "po-1", "10", "10", "1000", "0")
	e.receive(t, "ring", "po-2", "5", "5", "600", "0")
	res, err := e.consolidation.Consolidate(ctx, gold.ConsolidateRequest{
		ProductID: "ring", SupplierID: "sup-1", BranchID: "br-1",
	})
	require.NoError(t, err)
	merged := res.Merged

	t.Run("payment", func(t *testing.T) {
		_, _, err := e.ownership.RecordPayment(ctx, gold.PaymentRequest{
			OwnershipID: a.ID, Amount: dec("500"), ReferenceNumber: "pay-1",
		})

		var ie *gold.InactiveOwnershipError
		require.ErrorAs(t, err, &ie)
		assert.Equal(t, a.ID, ie.OwnershipID)
		assert.Equal(t, merged.ID, ie.ConsolidatedInto)
		assert.Contains(t, err.Error(), string(merged.ID))
		assert.ErrorIs(t, err, gold.ErrPrecondition)
	})

	t.Run("adjustment", func(t *testing.T) {
		_, err := e.ownership.Adjust(ctx, gold.AdjustmentRequest{
			OwnershipID: a.ID, OwnedQuantityDelta: dec("1"), OwnedWeightDelta: dec("1"), Reason: "recount",
		})

		var ie *gold.InactiveOwnershipError
		require.ErrorAs(t, err, &ie)
		assert.Equal(t, merged.ID, ie.ConsolidatedInto)
	})

	// THEN: neither the source nor the merged row moved
	src, err := e.ownership.Get(ctx, a.ID)
	require.NoError(t, err)
	assertDecimal(t, "0", src.AmountPaid)
	assertDecimal(t, "0", src.OwnedQuantity)

	after, err := e.ownership.Get(ctx, merged.ID)
	require.NoError(t, err)
	assertDecimal(t, "0", after.AmountPaid)
	assertDecimal(t, "0", after.OwnedQuantity)
	assertDecimal(t, "1600", after.TotalCost)
	assert.Equal(t, merged.Version, after.Version)

	movements, err := e.ownership.Movements(ctx, a.ID)
	require.NoError(t, err)
	for _, m := range movements {
		assert.NotEqual(t, gold.MovementPayment, m.Type)
		assert.NotEqual(t, gold.MovementAdjustment, m.Type)
	}
}

// swappingStore replaces one group row with a new one right before the first
// transaction, keeping the active row count unchanged.
type swappingStore struct {
	*store.Memory
	once sync.Once
	swap func()
}

func (s *swappingStore) WithTx(ctx context.Context, fn func(gold.Store) error) error {
	if s.swap != nil {
		s.once.Do(s.swap)
	}
	return s.Memory.WithTx(ctx, fn)
}

func TestConsolidate_RowSetChangedUnderLock(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t)
	clock := stepClock(time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC))

	mem := store.NewMemory()
	ss := &swappingStore{Memory: mem}
	exec := gold.NewExecutor(ss, gold.NewLocalLocker(time.Second), gold.RetryPolicy{MaxAttempts: 2}, log)
	tracker := gold.NewOwnershipTracker(exec, nil, clock, log)
	consolidation := gold.NewConsolidationService(exec, clock, log)

	var rows []gold.ProductOwnership
	for _, po := range []string{"po-1", "po-2"} {
		row, err := tracker.CreateOrUpdate(ctx, gold.OwnershipRequest{
			ProductID: "ring", BranchID: "br-1", SupplierID: "sup-1", PurchaseOrderID: po,
			Quantity: dec("5"), Weight: dec("5"), TotalCost: dec("500"),
		})
		require.NoError(t, err)
		rows = append(rows, row)
	}

	// GIVEN: between the pre-read and the transaction, po-2 closes and po-3 opens
	var replacement gold.ProductOwnership
	ss.swap = func() {
		old, err := mem.GetOwnership(ctx, rows[1].ID)
		require.NoError(t, err)
		old.IsActive = false
		require.NoError(t, mem.UpdateOwnership(ctx, &old))

		replacement = rows[1]
		replacement.ID = "own-swapped"
		replacement.PurchaseOrderID = "po-3"
		replacement.Version = 0
		require.NoError(t, mem.InsertOwnership(ctx, &replacement))
	}

	// WHEN: consolidating
	_, err := consolidation.Consolidate(ctx, gold.ConsolidateRequest{
		ProductID: "ring", SupplierID: "sup-1", BranchID: "br-1",
	})

	// THEN: the different row set is a retryable conflict and nothing merged
	var ce *gold.ConcurrencyConflictError
	require.ErrorAs(t, err, &ce)
	assert.True(t, gold.IsRetryable(err))

	swapped, err := mem.GetOwnership(ctx, "own-swapped")
	require.NoError(t, err)
	assert.True(t, swapped.IsActive)
	assert.Empty(t, swapped.ConsolidatedInto)

	first, err := mem.GetOwnership(ctx, rows[0].ID)
	require.NoError(t, err)
	assert.True(t, first.IsActive)
	assert.Empty(t, first.ConsolidatedInto)
}

func TestConsolidate_NothingToConsolidate(t *testing.T) {
	e := newTestEngine(t)
	e.receive(t, "ring", "po-1", "10", "10", "1000", "1000")

	_, err := e.consolidation.Consolidate(context.Background(), gold.ConsolidateRequest{
		ProductID: "ring", SupplierID: "sup-1", BranchID: "br-1",
	})

	var ne *gold.NothingToConsolidateError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, 1, ne.Found)
	assert.ErrorIs(t, err, gold.ErrPrecondition)
}

func TestConsolidate_RequiresGroup(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.consolidation.Consolidate(context.Background(), gold.ConsolidateRequest{ProductID: "ring", BranchID: "br-1"})

	var ve *gold.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "supplierId", ve.Field)
}

func TestFindOpportunities(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	e.receive(t, "ring", "po-1", "10", "10", "1000", "1000")
	e.receive(t, "ring", "po-2", "5", "5", "600", "0")
	e.receive(t, "bangle", "po-3", "2", "20", "2000", "0")
	// Customer purchases have no supplier and are never grouped.
	for _, cp := range []string{"cp-1", "cp-2"} {
		_, err := e.ownership.CreateOrUpdate(ctx, gold.OwnershipRequest{
			ProductID: "ring", BranchID: "br-1", CustomerPurchaseID: cp,
			Quantity: dec("1"), Weight: dec("1"), TotalCost: dec("0"),
		})
		require.NoError(t, err)
	}

	ops, err := e.consolidation.FindOpportunities(ctx, "", "")

	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, gold.ProductID("ring"), ops[0].ProductID)
	assert.Len(t, ops[0].OwnershipIDs, 2)
	assertDecimal(t, "15", ops[0].TotalQuantity)
	assertDecimal(t, "1600", ops[0].TotalCost)

	none, err := e.consolidation.FindOpportunities(ctx, "bangle", "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSweep(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	e.receive(t, "ring", "po-1", "10", "10", "1000", "1000")
	e.receive(t, "ring", "po-2", "5", "5", "600", "0")
	e.receive(t, "chain", "po-3", "4", "20", "2000", "0")
	e.receive(t, "chain", "po-4", "4", "20", "2000", "0")
	e.receive(t, "bangle", "po-5", "2", "20", "2000", "0")

	merged, err := e.consolidation.Sweep(ctx, "scheduler")

	require.NoError(t, err)
	assert.Equal(t, 2, merged)

	ops, err := e.consolidation.FindOpportunities(ctx, "", "")
	require.NoError(t, err)
	assert.Empty(t, ops)

	active, err := e.ownership.List(ctx, gold.OwnershipFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, active, 3)
}
