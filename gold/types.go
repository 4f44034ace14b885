/*
Package gold provides the gold ownership and cost accounting engine.

PURPOSE:
  Tracks partial (consignment-style) ownership of gold inventory, per-supplier
  gold-weight debt, multi-lot weighted cost, and karat-denominated conversions.
  Every balance-affecting event writes an immutable audit row in the same
  transaction as the balance change.

KEY CONCEPTS IN THIS FILE (types.go):
  - Identifiers: type-safe product/branch/supplier/karat ids
  - Rounding: weight 3 dp, currency 2 dp, percentage 2 dp, banker's rounding
  - CostLot: a purchase cost layer with remaining quantity/weight
  - ProductOwnership: a partially paid-for lot of a product
  - OwnershipMovement: immutable ledger row for ownership changes
  - SupplierGoldBalance / MerchantRawGoldBalance: gold weight buckets
  - RawGoldTransfer: immutable ledger row for gold balance changes

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere, never float64
  2. Derived values are methods: ownership percentage and outstanding debt are
     computed from the live row, never stored
  3. Auditability: movements and transfers are append-only
  4. Versioned rows: every mutable row carries a Version for optimistic locking

SEE ALSO:
  - ownership.go: OwnershipTracker
  - costing.go: CostingEngine and CostLedger
  - balance.go: GoldBalanceLedger
  - store.go: persistence interfaces
*/
package gold

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProductID string
type BranchID string
type SupplierID string
type KaratTypeID string
type OwnershipID string
type LotID string
type MovementID string
type TransferID string

// =============================================================================
// ROUNDING
// =============================================================================

const (
	WeightPlaces     int32 = 3
	CurrencyPlaces   int32 = 2
	PercentagePlaces int32 = 2
	FactorPlaces     int32 = 6
	RatePlaces       int32 = 4
)

var hundred = decimal.NewFromInt(100)

// RoundWeight rounds a weight or quantity to 3 decimals (banker's rounding).
func RoundWeight(d decimal.Decimal) decimal.Decimal { return d.RoundBank(WeightPlaces) }

// RoundMoney rounds a currency amount to 2 decimals (banker's rounding).
func RoundMoney(d decimal.Decimal) decimal.Decimal { return d.RoundBank(CurrencyPlaces) }

// RoundPercent rounds a percentage to 2 decimals (banker's rounding).
func RoundPercent(d decimal.Decimal) decimal.Decimal { return d.RoundBank(PercentagePlaces) }

// Percentage returns part/whole×100 rounded to 2 decimals, or zero when whole <= 0.
func Percentage(part, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	return RoundPercent(part.Div(whole).Mul(hundred))
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func minDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// =============================================================================
// COST LOT - Purchase cost layer
// =============================================================================

type CostLot struct {
	ID                LotID
	ProductID         ProductID
	BranchID          BranchID
	SupplierID        SupplierID // empty when the lot has no supplier
	SourceRef         string
	Quantity          decimal.Decimal
	Weight            decimal.Decimal
	UnitCostPerGram   decimal.Decimal
	RemainingQuantity decimal.Decimal
	RemainingWeight   decimal.Decimal
	PurchaseDate      time.Time
	SequenceOrder     int64
	Exhausted         bool
	Version           int64
}

// RemainingValue is the book value of what is left in the lot.
func (l CostLot) RemainingValue() decimal.Decimal {
	return l.RemainingWeight.Mul(l.UnitCostPerGram)
}

// =============================================================================
// PRODUCT OWNERSHIP - Partially paid-for stock
// =============================================================================

type ProductOwnership struct {
	ID                 OwnershipID
	ProductID          ProductID
	BranchID           BranchID
	SupplierID         SupplierID
	PurchaseOrderID    string
	CustomerPurchaseID string

	TotalQuantity decimal.Decimal
	TotalWeight   decimal.Decimal
	OwnedQuantity decimal.Decimal
	OwnedWeight   decimal.Decimal
	TotalCost     decimal.Decimal
	AmountPaid    decimal.Decimal

	// Blended cost per gram; set on receipt and recomputed by consolidation.
	UnitCostPerGram decimal.Decimal

	IsActive         bool
	ConsolidatedInto OwnershipID

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

// SourceRef is the purchase order or customer purchase this row came from.
func (o ProductOwnership) SourceRef() string {
	if o.PurchaseOrderID != "" {
		return o.PurchaseOrderID
	}
	return o.CustomerPurchaseID
}

// OwnershipPercentage is always derived from the live row.
func (o ProductOwnership) OwnershipPercentage() decimal.Decimal {
	return Percentage(o.OwnedWeight, o.TotalWeight)
}

// OutstandingAmount is what is still owed to the supplier.
func (o ProductOwnership) OutstandingAmount() decimal.Decimal {
	return o.TotalCost.Sub(o.AmountPaid)
}

// Validate checks the row invariants.
func (o ProductOwnership) Validate() error {
	switch {
	case o.OwnedQuantity.IsNegative() || o.OwnedQuantity.GreaterThan(o.TotalQuantity):
		return &ValidationError{Field: "ownedQuantity", Message: "must be between 0 and totalQuantity"}
	case o.OwnedWeight.IsNegative() || o.OwnedWeight.GreaterThan(o.TotalWeight):
		return &ValidationError{Field: "ownedWeight", Message: "must be between 0 and totalWeight"}
	case o.AmountPaid.IsNegative() || o.AmountPaid.GreaterThan(o.TotalCost):
		return &ValidationError{Field: "amountPaid", Message: "must be between 0 and totalCost"}
	}
	return nil
}

// OwnershipKey identifies the upsert target of CreateOrUpdate.
type OwnershipKey struct {
	ProductID          ProductID
	BranchID           BranchID
	SupplierID         SupplierID
	PurchaseOrderID    string
	CustomerPurchaseID string
}

func (o ProductOwnership) Key() OwnershipKey {
	return OwnershipKey{
		ProductID:          o.ProductID,
		BranchID:           o.BranchID,
		SupplierID:         o.SupplierID,
		PurchaseOrderID:    o.PurchaseOrderID,
		CustomerPurchaseID: o.CustomerPurchaseID,
	}
}

// =============================================================================
// OWNERSHIP MOVEMENT - Immutable ledger row
// =============================================================================

type MovementType string

const (
	MovementPayment       MovementType = "payment"
	MovementSale          MovementType = "sale"
	MovementReceipt       MovementType = "receipt"
	MovementConsolidation MovementType = "consolidation"
	MovementAdjustment    MovementType = "adjustment"
)

type OwnershipMovement struct {
	ID          MovementID
	OwnershipID OwnershipID
	Type        MovementType

	QuantityChange decimal.Decimal
	WeightChange   decimal.Decimal
	AmountChange   decimal.Decimal

	// Snapshot after the mutation. Historical: written once, never recomputed.
	OwnedQuantityAfter       decimal.Decimal
	OwnedWeightAfter         decimal.Decimal
	TotalQuantityAfter       decimal.Decimal
	TotalWeightAfter         decimal.Decimal
	AmountPaidAfter          decimal.Decimal
	OwnershipPercentageAfter decimal.Decimal

	ReferenceNumber    string
	SourceOwnershipIDs []OwnershipID
	Notes              string
	Actor              string
	CreatedAt          time.Time
}

// newMovement builds a movement carrying the post-mutation snapshot of row.
func newMovement(row ProductOwnership, typ MovementType, ref, actor string, at time.Time) OwnershipMovement {
	return OwnershipMovement{
		ID:                       MovementID(NewID("mov")),
		OwnershipID:              row.ID,
		Type:                     typ,
		QuantityChange:           decimal.Zero,
		WeightChange:             decimal.Zero,
		AmountChange:             decimal.Zero,
		OwnedQuantityAfter:       row.OwnedQuantity,
		OwnedWeightAfter:         row.OwnedWeight,
		TotalQuantityAfter:       row.TotalQuantity,
		TotalWeightAfter:         row.TotalWeight,
		AmountPaidAfter:          row.AmountPaid,
		OwnershipPercentageAfter: row.OwnershipPercentage(),
		ReferenceNumber:          ref,
		Actor:                    actor,
		CreatedAt:                at,
	}
}

// =============================================================================
// GOLD BALANCES
// =============================================================================

type SupplierBalanceKey struct {
	SupplierID  SupplierID
	BranchID    BranchID
	KaratTypeID KaratTypeID
}

type SupplierGoldBalance struct {
	SupplierID          SupplierID
	BranchID            BranchID
	KaratTypeID         KaratTypeID
	TotalWeightReceived decimal.Decimal
	TotalWeightPaidFor  decimal.Decimal
	AverageCostPerGram  decimal.Decimal
	UpdatedAt           time.Time
	Version             int64
}

func (b SupplierGoldBalance) Key() SupplierBalanceKey {
	return SupplierBalanceKey{SupplierID: b.SupplierID, BranchID: b.BranchID, KaratTypeID: b.KaratTypeID}
}

// OutstandingWeightDebt is received minus paid-for weight.
func (b SupplierGoldBalance) OutstandingWeightDebt() decimal.Decimal {
	return b.TotalWeightReceived.Sub(b.TotalWeightPaidFor)
}

func (b SupplierGoldBalance) OutstandingMonetaryValue() decimal.Decimal {
	return RoundMoney(b.OutstandingWeightDebt().Mul(b.AverageCostPerGram))
}

type MerchantBalanceKey struct {
	BranchID    BranchID
	KaratTypeID KaratTypeID
}

type MerchantRawGoldBalance struct {
	BranchID           BranchID
	KaratTypeID        KaratTypeID
	AvailableWeight    decimal.Decimal
	AverageCostPerGram decimal.Decimal
	UpdatedAt          time.Time
	Version            int64
}

func (b MerchantRawGoldBalance) Key() MerchantBalanceKey {
	return MerchantBalanceKey{BranchID: b.BranchID, KaratTypeID: b.KaratTypeID}
}

func (b MerchantRawGoldBalance) TotalValue() decimal.Decimal {
	return RoundMoney(b.AvailableWeight.Mul(b.AverageCostPerGram))
}

// =============================================================================
// RAW GOLD TRANSFER - Immutable ledger row
// =============================================================================

type TransferType string

const (
	TransferWaive   TransferType = "waive"   // merchant gold offsets supplier debt
	TransferConvert TransferType = "convert" // karat conversion inside one owner
	TransferCredit  TransferType = "credit"  // merchant raw gold intake
	TransferReceipt TransferType = "receipt" // supplier gold received on credit
	TransferPayment TransferType = "payment" // supplier gold weight paid for
)

type RawGoldTransfer struct {
	ID                 TransferID
	Type               TransferType
	BranchID           BranchID
	SupplierID         SupplierID
	CustomerPurchaseID string
	FromKarat          KaratTypeID
	ToKarat            KaratTypeID
	FromWeight         decimal.Decimal
	ToWeight           decimal.Decimal
	FromRate           decimal.Decimal
	ToRate             decimal.Decimal
	ConversionFactor   decimal.Decimal
	TransferValue      decimal.Decimal
	ReferenceNumber    string
	Actor              string
	CreatedAt          time.Time
}
