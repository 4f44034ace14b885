package gold

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// EXTERNAL COLLABORATORS
// =============================================================================

// KaratRateProvider returns the currency-per-gram rate of a karat as of a time.
// Implementations live in package rates.
type KaratRateProvider interface {
	GetCurrentRate(ctx context.Context, karat KaratTypeID, asOf time.Time) (decimal.Decimal, error)
}

// InventoryService is the source of truth for physical stock on hand.
// The engine only cross-checks against it.
type InventoryService interface {
	StockOnHand(ctx context.Context, productID ProductID, branchID BranchID) (decimal.Decimal, error)
}

// StaticInventory is an InventoryService backed by a map, for tests and demos.
type StaticInventory struct {
	mu    sync.RWMutex
	stock map[string]decimal.Decimal
}

func NewStaticInventory() *StaticInventory {
	return &StaticInventory{stock: make(map[string]decimal.Decimal)}
}

func (s *StaticInventory) Set(productID ProductID, branchID BranchID, qty decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stock[string(productID)+"/"+string(branchID)] = qty
}

func (s *StaticInventory) StockOnHand(_ context.Context, productID ProductID, branchID BranchID) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	qty, ok := s.stock[string(productID)+"/"+string(branchID)]
	if !ok {
		return decimal.Zero, &NotFoundError{Kind: "stock", ID: string(productID) + "@" + string(branchID)}
	}
	return qty, nil
}

// =============================================================================
// CLOCK & IDS
// =============================================================================

// Clock is injected so tests get deterministic timestamps.
type Clock func() time.Time

func SystemClock() time.Time { return time.Now().UTC() }

// NewID returns a prefixed random id, e.g. "own-6f1c...".
func NewID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
