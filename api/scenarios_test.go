/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario leaves the store in the documented state:
	- Ownership rows carry the expected percentages
	- Raw gold balances reflect receipts, conversions and waives
	- Fragmented stock is offered for consolidation

These tests double as integration tests of the services the scenarios drive.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/gold-engine/gold"
)

func TestScenario_Consignment(t *testing.T) {
	// GIVEN: an empty store
	a := newTestAPI(t, nil)
	ctx := context.Background()

	// WHEN
	require.NoError(t, a.handler.loadConsignmentScenario(ctx))

	// THEN: the rings are a quarter owned and both lots are available
	rows, err := a.handler.svc.Ownership.List(ctx, gold.OwnershipFilter{ProductID: "ring-21k-classic", ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assertDecimal(t, "25", rows[0].OwnershipPercentage())
	assertDecimal(t, "2.5", rows[0].OwnedQuantity)

	lots, err := a.handler.svc.CostLedger.Lots(ctx, gold.LotFilter{ProductID: "ring-21k-classic", AvailableOnly: true})
	require.NoError(t, err)
	assert.Len(t, lots, 2)

	// The bangle is fully owned, so only the rings alert.
	alerts, err := a.handler.svc.Alerts.Scan(ctx, gold.OwnershipFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, alerts)
	for _, al := range alerts {
		assert.Equal(t, gold.ProductID("ring-21k-classic"), al.ProductID)
	}
}

func TestScenario_RawGold(t *testing.T) {
	a := newTestAPI(t, nil)
	ctx := context.Background()

	require.NoError(t, a.handler.loadRawGoldScenario(ctx))

	// 100g received, 30g paid, 23g waived from 20g of 24k.
	supplier, err := a.handler.svc.Gold.SupplierBalance(ctx, gold.SupplierBalanceKey{
		SupplierID: demoSupplier, BranchID: demoBranch, KaratTypeID: "21k",
	})
	require.NoError(t, err)
	assertDecimal(t, "47", supplier.OutstandingWeightDebt())

	// 40g of 24k less 10g converted and 20g waived.
	merchant24, err := a.handler.svc.Gold.MerchantBalance(ctx, gold.MerchantBalanceKey{BranchID: demoBranch, KaratTypeID: "24k"})
	require.NoError(t, err)
	assertDecimal(t, "10", merchant24.AvailableWeight)

	merchant21, err := a.handler.svc.Gold.MerchantBalance(ctx, gold.MerchantBalanceKey{BranchID: demoBranch, KaratTypeID: "21k"})
	require.NoError(t, err)
	assertDecimal(t, "11.5", merchant21.AvailableWeight)

	transfers, err := a.handler.svc.Gold.Transfers(ctx, gold.TransferFilter{BranchID: demoBranch})
	require.NoError(t, err)
	assert.Len(t, transfers, 5)
}

func TestScenario_Fragmented(t *testing.T) {
	a := newTestAPI(t, nil)
	ctx := context.Background()

	require.NoError(t, a.handler.loadFragmentedScenario(ctx))

	ops, err := a.handler.svc.Consolidation.FindOpportunities(ctx, "chain-21k-rope", "")
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Len(t, ops[0].OwnershipIDs, 3)
	assertDecimal(t, "12", ops[0].TotalQuantity)
	assertDecimal(t, "12250", ops[0].TotalCost)
}

func TestScenario_LoadOverHTTP(t *testing.T) {
	a := newTestAPI(t, nil)

	for _, s := range scenarios {
		t.Run(s.ID, func(t *testing.T) {
			rec := a.do(t, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": s.ID})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			current := decodeBody[ScenarioDTO](t, a.do(t, http.MethodGet, "/api/scenarios/current", nil))
			assert.Equal(t, s.ID, current.ID)
		})
	}

	t.Run("unknown scenario", func(t *testing.T) {
		rec := a.do(t, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "payroll"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("reset clears data", func(t *testing.T) {
		rec := a.do(t, http.MethodPost, "/api/reset", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rows, err := a.store.ListOwnerships(context.Background(), gold.OwnershipFilter{})
		require.NoError(t, err)
		assert.Empty(t, rows)
		assert.Equal(t, "null\n", a.do(t, http.MethodGet, "/api/scenarios/current", nil).Body.String())
	})
}

func TestScenario_ResetUnavailable(t *testing.T) {
	a := newTestAPI(t, nil)
	a.handler.svc.Reset = nil

	assert.Equal(t, http.StatusServiceUnavailable, a.do(t, http.MethodPost, "/api/reset", nil).Code)
	rec := a.do(t, http.MethodPost, "/api/scenarios/load", map[string]string{"scenario_id": "consignment"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
