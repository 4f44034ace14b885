package sqlstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/gold-engine/gold"
	"github.com/warp/gold-engine/rates"
	"github.com/warp/gold-engine/store/sqlstore"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	s, err := sqlstore.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

var created = time.Date(2026, time.March, 1, 9, 30, 0, 123456789, time.UTC)

func sampleOwnership() gold.ProductOwnership {
	return gold.ProductOwnership{
		ID:              "own-1",
		ProductID:       "ring",
		BranchID:        "br-1",
		SupplierID:      "sup-1",
		PurchaseOrderID: "po-1",
		TotalQuantity:   dec("10"),
		TotalWeight:     dec("50.125"),
		OwnedQuantity:   dec("3"),
		OwnedWeight:     dec("15.038"),
		TotalCost:       dec("1000.55"),
		AmountPaid:      dec("300.17"),
		UnitCostPerGram: dec("19.9611"),
		IsActive:        true,
		CreatedAt:       created,
		UpdatedAt:       created,
	}
}

// =============================================================================
// OWNERSHIPS
// =============================================================================

func TestOwnership_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	row := sampleOwnership()

	require.NoError(t, s.InsertOwnership(ctx, &row))
	assert.Equal(t, int64(1), row.Version)

	got, err := s.GetOwnership(ctx, "own-1")
	require.NoError(t, err)
	assert.Equal(t, gold.ProductID("ring"), got.ProductID)
	assert.Equal(t, "po-1", got.PurchaseOrderID)
	assertDecimal(t, "50.125", got.TotalWeight)
	assertDecimal(t, "300.17", got.AmountPaid)
	assertDecimal(t, "19.9611", got.UnitCostPerGram)
	assert.True(t, got.IsActive)
	assert.True(t, created.Equal(got.CreatedAt))

	found, err := s.FindActiveOwnership(ctx, row.Key())
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, row.ID, found.ID)

	_, err = s.GetOwnership(ctx, "own-missing")
	assert.True(t, gold.IsNotFound(err))
}

func TestOwnership_VersionConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	row := sampleOwnership()
	require.NoError(t, s.InsertOwnership(ctx, &row))

	first, second := row, row
	first.AmountPaid = dec("400")
	require.NoError(t, s.UpdateOwnership(ctx, &first))
	assert.Equal(t, int64(2), first.Version)

	err := s.UpdateOwnership(ctx, &second)
	assert.True(t, gold.IsRetryable(err))

	dup := sampleOwnership()
	err = s.InsertOwnership(ctx, &dup)
	assert.True(t, gold.IsRetryable(err))
}

func TestMovements_UniqueReference(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := gold.OwnershipMovement{
		ID: "mov-1", OwnershipID: "own-1", Type: gold.MovementPayment,
		QuantityChange: dec("1"), WeightChange: dec("5"), AmountChange: dec("100"),
		OwnedQuantityAfter: dec("4"), OwnedWeightAfter: dec("20"), TotalQuantityAfter: dec("10"),
		TotalWeightAfter: dec("50"), AmountPaidAfter: dec("400"), OwnershipPercentageAfter: dec("40"),
		ReferenceNumber: "pay-1", CreatedAt: created,
	}
	require.NoError(t, s.AppendMovement(ctx, m))

	exists, err := s.MovementExists(ctx, "own-1", gold.MovementPayment, "pay-1")
	require.NoError(t, err)
	assert.True(t, exists)

	m.ID = "mov-2"
	err = s.AppendMovement(ctx, m)
	var de *gold.DuplicateMovementError
	require.ErrorAs(t, err, &de)

	// Empty references are not unique.
	for _, id := range []gold.MovementID{"mov-3", "mov-4"} {
		m.ID, m.ReferenceNumber = id, ""
		m.CreatedAt = m.CreatedAt.Add(time.Second)
		require.NoError(t, s.AppendMovement(ctx, m))
	}

	consolidation := m
	consolidation.ID = "mov-5"
	consolidation.Type = gold.MovementConsolidation
	consolidation.SourceOwnershipIDs = []gold.OwnershipID{"own-a", "own-b"}
	consolidation.CreatedAt = m.CreatedAt.Add(time.Second)
	require.NoError(t, s.AppendMovement(ctx, consolidation))

	movements, err := s.ListMovements(ctx, "own-1")
	require.NoError(t, err)
	require.Len(t, movements, 4)
	assert.Nil(t, movements[0].SourceOwnershipIDs)
	assertDecimal(t, "40", movements[0].OwnershipPercentageAfter)
	assert.Equal(t, []gold.OwnershipID{"own-a", "own-b"}, movements[3].SourceOwnershipIDs)
}

func TestMovements_FindReferenceOnClosedRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// GIVEN: a sale against a row that is no longer active
	row := sampleOwnership()
	row.IsActive = false
	require.NoError(t, s.InsertOwnership(ctx, &row))
	require.NoError(t, s.AppendMovement(ctx, gold.OwnershipMovement{
		ID: "mov-1", OwnershipID: row.ID, Type: gold.MovementSale,
		QuantityChange: dec("-3"), WeightChange: dec("-15"), AmountChange: dec("0"),
		OwnedQuantityAfter: dec("0"), OwnedWeightAfter: dec("0"), TotalQuantityAfter: dec("0"),
		TotalWeightAfter: dec("0"), AmountPaidAfter: dec("300"), OwnershipPercentageAfter: dec("0"),
		ReferenceNumber: "inv-1", CreatedAt: created,
	}))

	// THEN: the reference resolves to the closed row
	id, ok, err := s.FindMovementReference(ctx, "ring", "br-1", gold.MovementSale, "inv-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, row.ID, id)

	// THEN: a different branch or an empty reference misses
	_, ok, err = s.FindMovementReference(ctx, "ring", "br-2", gold.MovementSale, "inv-1")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = s.FindMovementReference(ctx, "ring", "br-1", gold.MovementSale, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWithTx_Rollback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx gold.Store) error {
		row := sampleOwnership()
		if err := tx.InsertOwnership(ctx, &row); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	rows, err := s.ListOwnerships(ctx, gold.OwnershipFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

// =============================================================================
// LOTS AND BALANCES
// =============================================================================

func TestLots_AvailableFilterAndSequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, id := range []gold.LotID{"lot-a", "lot-b"} {
		seq, err := s.NextLotSequence(ctx, "chain", "br-1")
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), seq)
		lot := gold.CostLot{
			ID: id, ProductID: "chain", BranchID: "br-1", SourceRef: "po",
			Quantity: dec("10"), Weight: dec("50"), UnitCostPerGram: dec("100"),
			RemainingQuantity: dec("10"), RemainingWeight: dec("50"),
			PurchaseDate: created, SequenceOrder: seq,
		}
		require.NoError(t, s.InsertLot(ctx, &lot))
	}

	lots, err := s.ListLots(ctx, gold.LotFilter{ProductID: "chain", AvailableOnly: true})
	require.NoError(t, err)
	require.Len(t, lots, 2)
	assert.Equal(t, gold.LotID("lot-a"), lots[0].ID)

	spent := lots[0]
	spent.RemainingQuantity, spent.RemainingWeight, spent.Exhausted = decimal.Zero, decimal.Zero, true
	require.NoError(t, s.UpdateLot(ctx, &spent))

	lots, err = s.ListLots(ctx, gold.LotFilter{ProductID: "chain", AvailableOnly: true})
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.Equal(t, gold.LotID("lot-b"), lots[0].ID)
}

func TestBalances_InsertThenUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := gold.MerchantBalanceKey{BranchID: "br-1", KaratTypeID: "24k"}

	bal, err := s.GetMerchantBalance(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal.Version)

	bal.AvailableWeight, bal.AverageCostPerGram, bal.UpdatedAt = dec("40"), dec("115"), created
	require.NoError(t, s.SaveMerchantBalance(ctx, &bal))
	stale := bal
	bal.AvailableWeight = dec("30")
	require.NoError(t, s.SaveMerchantBalance(ctx, &bal))
	assert.True(t, gold.IsRetryable(s.SaveMerchantBalance(ctx, &stale)))

	list, err := s.ListMerchantBalances(ctx, "br-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assertDecimal(t, "30", list[0].AvailableWeight)
	assertDecimal(t, "3450", list[0].TotalValue())
}

// =============================================================================
// ENGINE ON SQLITE
// =============================================================================

func TestEngine_PaymentAndWaiveOnSQLite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	log := zaptest.NewLogger(t)
	exec := gold.NewExecutor(s, gold.NewLocalLocker(time.Second), gold.DefaultRetryPolicy, log)
	static, err := rates.ParseStatic("21k=100,24k=115")
	require.NoError(t, err)

	now := created
	clock := func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	tracker := gold.NewOwnershipTracker(exec, nil, clock, log)
	balances := gold.NewGoldBalanceLedger(exec, static, clock, log)

	row, err := tracker.CreateOrUpdate(ctx, gold.OwnershipRequest{
		ProductID: "ring", BranchID: "br-1", SupplierID: "sup-1", PurchaseOrderID: "po-1",
		Quantity: dec("20"), Weight: dec("100"), TotalCost: dec("1000"), ReferenceNumber: "grn-1",
	})
	require.NoError(t, err)

	row, _, err = tracker.RecordPayment(ctx, gold.PaymentRequest{OwnershipID: row.ID, Amount: dec("500"), ReferenceNumber: "pay-1"})
	require.NoError(t, err)
	assertDecimal(t, "50", row.OwnershipPercentage())

	_, _, err = tracker.RecordPayment(ctx, gold.PaymentRequest{OwnershipID: row.ID, Amount: dec("500"), ReferenceNumber: "pay-1"})
	var de *gold.DuplicateMovementError
	require.ErrorAs(t, err, &de)

	_, _, err = balances.Credit(ctx, gold.CreditRequest{BranchID: "br-1", KaratTypeID: "24k", Weight: dec("40"), CostPerGram: dec("115")})
	require.NoError(t, err)
	_, _, err = balances.RecordReceipt(ctx, gold.ReceiptRequest{SupplierID: "sup-1", BranchID: "br-1", KaratTypeID: "21k", Weight: dec("100"), CostPerGram: dec("100")})
	require.NoError(t, err)

	tr, err := balances.WaiveToSupplier(ctx, gold.WaiveRequest{
		BranchID: "br-1", ToSupplierID: "sup-1", FromKarat: "24k", ToKarat: "21k", FromWeight: dec("10"),
	})
	require.NoError(t, err)
	assertDecimal(t, "11.5", tr.ToWeight)

	supplier, err := balances.SupplierBalance(ctx, gold.SupplierBalanceKey{SupplierID: "sup-1", BranchID: "br-1", KaratTypeID: "21k"})
	require.NoError(t, err)
	assertDecimal(t, "88.5", supplier.OutstandingWeightDebt())

	transfers, err := balances.Transfers(ctx, gold.TransferFilter{BranchID: "br-1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, transfers, 2)
	assert.Equal(t, gold.TransferWaive, transfers[1].Type)

	require.NoError(t, s.Reset(ctx))
	rows, err := s.ListOwnerships(ctx, gold.OwnershipFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}
