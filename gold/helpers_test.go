package gold_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/gold-engine/gold"
	"github.com/warp/gold-engine/gold/store"
	"github.com/warp/gold-engine/rates"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testEngine struct {
	store         *store.Memory
	exec          *gold.Executor
	inventory     *gold.StaticInventory
	rates         *rates.Static
	ownership     *gold.OwnershipTracker
	costing       *gold.CostingEngine
	ledger        *gold.CostLedger
	balances      *gold.GoldBalanceLedger
	consolidation *gold.ConsolidationService
	alerts        *gold.AlertGenerator
	feed          *gold.MemoryFeed
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	log := zaptest.NewLogger(t)
	clock := stepClock(time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC))

	mem := store.NewMemory()
	exec := gold.NewExecutor(mem, gold.NewLocalLocker(time.Second), gold.DefaultRetryPolicy, log)

	static := rates.NewStatic()
	static.Set("18k", dec("80"), time.Time{})
	static.Set("21k", dec("100"), time.Time{})
	static.Set("24k", dec("115"), time.Time{})

	feed := gold.NewMemoryFeed(0)
	e := &testEngine{
		store:         mem,
		exec:          exec,
		rates:         static,
		costing:       gold.NewCostingEngine(mem),
		ledger:        gold.NewCostLedger(exec, clock, log),
		balances:      gold.NewGoldBalanceLedger(exec, static, clock, log),
		consolidation: gold.NewConsolidationService(exec, clock, log),
		alerts:        gold.NewAlertGenerator(mem, feed, clock, log),
		feed:          feed,
	}
	e.ownership = gold.NewOwnershipTracker(exec, nil, clock, log)
	return e
}

// withInventory rebuilds the tracker with a stock source.
func (e *testEngine) withInventory(t *testing.T) *gold.StaticInventory {
	e.inventory = gold.NewStaticInventory()
	e.ownership = gold.NewOwnershipTracker(e.exec, e.inventory, stepClock(time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)), zaptest.NewLogger(t))
	return e.inventory
}

// stepClock advances one second per call so CreatedAt ordering is strict.
func stepClock(start time.Time) gold.Clock {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]any{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

// receive records supplier stock with the given paid amount.
func (e *testEngine) receive(t *testing.T, product, po, qty, weight, cost, paid string) gold.ProductOwnership {
	t.Helper()
	row, err := e.ownership.CreateOrUpdate(context.Background(), gold.OwnershipRequest{
		ProductID:       gold.ProductID(product),
		BranchID:        "br-1",
		SupplierID:      "sup-1",
		PurchaseOrderID: po,
		Quantity:        dec(qty),
		Weight:          dec(weight),
		TotalCost:       dec(cost),
		AmountPaid:      dec(paid),
		ReferenceNumber: po,
		Actor:           "tester",
	})
	require.NoError(t, err)
	return row
}
