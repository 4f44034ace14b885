/*
ownership.go - Partial ownership of consigned gold stock

PURPOSE:
  A ProductOwnership row records how much of a received lot the merchant has
  paid for. Only owned stock may be sold; payments buy ownership back
  proportionally. Every change writes an OwnershipMovement in the same
  transaction.

OPERATIONS:
  ValidateSale           read-only gate used by the POS before a sale
  RecordSaleConsumption  consumes owned stock oldest-first
  RecordPayment          amountPaid += amount, ownership grows proportionally
  CreateOrUpdate         upsert on (product, branch, supplier, source ref)
  Adjust                 manual correction with reason

EXAMPLE:
  Row: total 20 pcs / 100 g, cost 1000, paid 0, owned 0.
  RecordPayment(500) -> owned 10 pcs / 50 g, paid 500, ownership 50%.
  RecordSaleConsumption(4) -> owned 6 / 30 g, total 16 / 80 g.

ROUNDING:
  Quantity and weight to 3 decimals, money to 2, percentage to 2, all with
  banker's rounding, so movement snapshots reconcile with the live rows.
*/
package gold

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultLowOwnershipThreshold is the percentage under which ownership is "low".
var DefaultLowOwnershipThreshold = decimal.NewFromInt(50)

// OwnershipTracker maintains ProductOwnership rows.
type OwnershipTracker struct {
	exec      *Executor
	store     TxStore
	inventory InventoryService // optional
	now       Clock
	log       *zap.Logger

	LowOwnershipThreshold decimal.Decimal
}

func NewOwnershipTracker(exec *Executor, inventory InventoryService, now Clock, log *zap.Logger) *OwnershipTracker {
	if now == nil {
		now = SystemClock
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &OwnershipTracker{
		exec:                  exec,
		store:                 exec.Store,
		inventory:             inventory,
		now:                   now,
		log:                   log,
		LowOwnershipThreshold: DefaultLowOwnershipThreshold,
	}
}

// =============================================================================
// VALIDATE SALE
// =============================================================================

type SaleValidation struct {
	ProductID           ProductID
	BranchID            BranchID
	RequestedQuantity   decimal.Decimal
	OwnedQuantity       decimal.Decimal
	TotalQuantity       decimal.Decimal
	OwnedWeight         decimal.Decimal
	TotalWeight         decimal.Decimal
	OwnershipPercentage decimal.Decimal
	StockOnHand         *decimal.Decimal
	Rows                int
	CanSell             bool
	Warnings            []string
}

// ValidateSale aggregates every active row for product+branch. It never mutates.
func (t *OwnershipTracker) ValidateSale(ctx context.Context, productID ProductID, branchID BranchID, qty decimal.Decimal) (SaleValidation, error) {
	var v validationErrors
	v.required("productId", string(productID))
	v.required("branchId", string(branchID))
	v.positive("quantity", qty)
	if err := v.err(); err != nil {
		return SaleValidation{}, err
	}

	rows, err := t.store.ListOwnerships(ctx, OwnershipFilter{ProductID: productID, BranchID: branchID, ActiveOnly: true})
	if err != nil {
		return SaleValidation{}, err
	}

	res := SaleValidation{
		ProductID:         productID,
		BranchID:          branchID,
		RequestedQuantity: qty,
		OwnedQuantity:     decimal.Zero,
		TotalQuantity:     decimal.Zero,
		OwnedWeight:       decimal.Zero,
		TotalWeight:       decimal.Zero,
		Rows:              len(rows),
	}
	for _, r := range rows {
		res.OwnedQuantity = res.OwnedQuantity.Add(r.OwnedQuantity)
		res.TotalQuantity = res.TotalQuantity.Add(r.TotalQuantity)
		res.OwnedWeight = res.OwnedWeight.Add(r.OwnedWeight)
		res.TotalWeight = res.TotalWeight.Add(r.TotalWeight)
	}
	res.OwnershipPercentage = Percentage(res.OwnedWeight, res.TotalWeight)
	res.CanSell = res.OwnedQuantity.GreaterThanOrEqual(qty)

	switch {
	case len(rows) == 0:
		res.Warnings = append(res.Warnings, "no ownership records for product at branch")
	case !res.CanSell:
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"insufficient owned quantity: owned %s of %s, requested %s",
			res.OwnedQuantity, res.TotalQuantity, qty))
	}
	if len(rows) > 0 && res.OwnershipPercentage.LessThan(hundred) {
		res.Warnings = append(res.Warnings, fmt.Sprintf("partial ownership: %s%% owned", res.OwnershipPercentage))
	}
	if len(rows) > 0 && res.OwnershipPercentage.LessThan(t.LowOwnershipThreshold) {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"low ownership: %s%% is below %s%%", res.OwnershipPercentage, t.LowOwnershipThreshold))
	}

	if t.inventory != nil {
		stock, err := t.inventory.StockOnHand(ctx, productID, branchID)
		if err != nil {
			res.Warnings = append(res.Warnings, "stock on hand unavailable: "+err.Error())
		} else {
			res.StockOnHand = &stock
			if stock.LessThan(qty) {
				res.CanSell = false
				res.Warnings = append(res.Warnings, fmt.Sprintf(
					"insufficient stock on hand: %s available, requested %s", stock, qty))
			}
		}
	}

	return res, nil
}

// =============================================================================
// RECORD SALE CONSUMPTION
// =============================================================================

type SaleRequest struct {
	ProductID       ProductID
	BranchID        BranchID
	Quantity        decimal.Decimal
	ReferenceNumber string
	Actor           string
}

type SaleConsumption struct {
	ProductID ProductID
	BranchID  BranchID
	Quantity  decimal.Decimal
	Weight    decimal.Decimal
	Movements []OwnershipMovement
}

// RecordSaleConsumption consumes owned stock oldest row first. Each touched row
// loses the sold quantity from both its owned and total figures.
func (t *OwnershipTracker) RecordSaleConsumption(ctx context.Context, req SaleRequest) (SaleConsumption, error) {
	var v validationErrors
	v.required("productId", string(req.ProductID))
	v.required("branchId", string(req.BranchID))
	v.positive("quantity", req.Quantity)
	if err := v.err(); err != nil {
		return SaleConsumption{}, err
	}
	qty := RoundWeight(req.Quantity)
	filter := OwnershipFilter{ProductID: req.ProductID, BranchID: req.BranchID, ActiveOnly: true}

	current, err := t.store.ListOwnerships(ctx, filter)
	if err != nil {
		return SaleConsumption{}, err
	}
	keys := []string{ownershipGroupKey(req.ProductID, req.BranchID)}
	for _, r := range current {
		keys = append(keys, ownershipRowKey(r.ID))
	}

	var result SaleConsumption
	err = t.exec.Mutate(ctx, keys, func(s Store) error {
		result = SaleConsumption{ProductID: req.ProductID, BranchID: req.BranchID, Quantity: qty, Weight: decimal.Zero}

		rows, err := s.ListOwnerships(ctx, filter)
		if err != nil {
			return err
		}
		sortOldestFirst(rows)

		// Sold-out rows are inactive, so the reference is checked across all rows.
		if req.ReferenceNumber != "" {
			id, dup, err := s.FindMovementReference(ctx, req.ProductID, req.BranchID, MovementSale, req.ReferenceNumber)
			if err != nil {
				return err
			}
			if dup {
				return &DuplicateMovementError{OwnershipID: id, Type: MovementSale, ReferenceNumber: req.ReferenceNumber}
			}
		}

		owned := decimal.Zero
		for _, r := range rows {
			owned = owned.Add(r.OwnedQuantity)
		}
		if owned.LessThan(qty) {
			return &InsufficientOwnershipError{ProductID: req.ProductID, BranchID: req.BranchID, Owned: owned, Requested: qty}
		}

		now := t.now()
		remaining := qty
		for i := range rows {
			if !remaining.IsPositive() {
				break
			}
			row := rows[i]
			if !row.OwnedQuantity.IsPositive() {
				continue
			}

			take := minDecimal(row.OwnedQuantity, remaining)
			weight := row.OwnedWeight
			if take.LessThan(row.OwnedQuantity) {
				weight = RoundWeight(take.Mul(row.OwnedWeight).Div(row.OwnedQuantity))
			}

			row.OwnedQuantity = row.OwnedQuantity.Sub(take)
			row.OwnedWeight = row.OwnedWeight.Sub(weight)
			row.TotalQuantity = row.TotalQuantity.Sub(take)
			row.TotalWeight = row.TotalWeight.Sub(weight)
			if !row.TotalQuantity.IsPositive() {
				row.IsActive = false
			}
			row.UpdatedAt = now
			if err := row.Validate(); err != nil {
				return err
			}
			if err := s.UpdateOwnership(ctx, &row); err != nil {
				return err
			}

			m := newMovement(row, MovementSale, req.ReferenceNumber, req.Actor, now)
			m.QuantityChange = take.Neg()
			m.WeightChange = weight.Neg()
			if err := s.AppendMovement(ctx, m); err != nil {
				return err
			}

			result.Movements = append(result.Movements, m)
			result.Weight = result.Weight.Add(weight)
			remaining = remaining.Sub(take)
		}
		return nil
	})
	if err != nil {
		return SaleConsumption{}, err
	}

	t.log.Info("sale consumed ownership",
		zap.String("product", string(req.ProductID)),
		zap.String("branch", string(req.BranchID)),
		zap.String("qty", qty.String()),
		zap.String("ref", req.ReferenceNumber),
		zap.Int("rows", len(result.Movements)))
	return result, nil
}

func sortOldestFirst(rows []ProductOwnership) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.Before(rows[j].CreatedAt)
		}
		return rows[i].ID < rows[j].ID
	})
}

// =============================================================================
// RECORD PAYMENT
// =============================================================================

type PaymentRequest struct {
	OwnershipID     OwnershipID
	Amount          decimal.Decimal
	ReferenceNumber string
	Actor           string
}

// RecordPayment buys back ownership in proportion to amount/totalCost.
func (t *OwnershipTracker) RecordPayment(ctx context.Context, req PaymentRequest) (ProductOwnership, OwnershipMovement, error) {
	var v validationErrors
	v.required("ownershipId", string(req.OwnershipID))
	v.positive("amount", req.Amount)
	if err := v.err(); err != nil {
		return ProductOwnership{}, OwnershipMovement{}, err
	}
	amount := RoundMoney(req.Amount)

	var (
		row ProductOwnership
		mov OwnershipMovement
	)
	err := t.exec.Mutate(ctx, []string{ownershipRowKey(req.OwnershipID)}, func(s Store) error {
		var err error
		row, err = s.GetOwnership(ctx, req.OwnershipID)
		if err != nil {
			return err
		}
		if req.ReferenceNumber != "" {
			dup, err := s.MovementExists(ctx, row.ID, MovementPayment, req.ReferenceNumber)
			if err != nil {
				return err
			}
			if dup {
				return &DuplicateMovementError{OwnershipID: row.ID, Type: MovementPayment, ReferenceNumber: req.ReferenceNumber}
			}
		}
		if !row.IsActive {
			return &InactiveOwnershipError{OwnershipID: row.ID, ConsolidatedInto: row.ConsolidatedInto}
		}

		paid := row.AmountPaid.Add(amount)
		if paid.GreaterThan(row.TotalCost) {
			return &OverpaymentError{OwnershipID: row.ID, TotalCost: row.TotalCost, AmountPaid: row.AmountPaid, Attempted: amount}
		}

		before := row
		row.AmountPaid = paid
		if paid.Equal(row.TotalCost) {
			row.OwnedQuantity = row.TotalQuantity
			row.OwnedWeight = row.TotalWeight
		} else {
			share := amount.Div(row.TotalCost)
			row.OwnedQuantity = minDecimal(row.TotalQuantity, RoundWeight(row.OwnedQuantity.Add(share.Mul(row.TotalQuantity))))
			row.OwnedWeight = minDecimal(row.TotalWeight, RoundWeight(row.OwnedWeight.Add(share.Mul(row.TotalWeight))))
		}
		row.UpdatedAt = t.now()
		if err := row.Validate(); err != nil {
			return err
		}
		if err := s.UpdateOwnership(ctx, &row); err != nil {
			return err
		}

		mov = newMovement(row, MovementPayment, req.ReferenceNumber, req.Actor, row.UpdatedAt)
		mov.QuantityChange = row.OwnedQuantity.Sub(before.OwnedQuantity)
		mov.WeightChange = row.OwnedWeight.Sub(before.OwnedWeight)
		mov.AmountChange = amount
		return s.AppendMovement(ctx, mov)
	})
	if err != nil {
		return ProductOwnership{}, OwnershipMovement{}, err
	}

	t.log.Info("ownership payment recorded",
		zap.String("ownership", string(row.ID)),
		zap.String("amount", amount.String()),
		zap.String("ref", req.ReferenceNumber),
		zap.String("ownershipPct", row.OwnershipPercentage().String()))
	return row, mov, nil
}

// =============================================================================
// CREATE OR UPDATE
// =============================================================================

type OwnershipRequest struct {
	ProductID          ProductID
	BranchID           BranchID
	SupplierID         SupplierID
	PurchaseOrderID    string
	CustomerPurchaseID string

	Quantity   decimal.Decimal
	Weight     decimal.Decimal
	TotalCost  decimal.Decimal
	AmountPaid decimal.Decimal

	// OwnershipPercentage of the incoming stock. Nil derives it from
	// AmountPaid/TotalCost (100 when TotalCost is zero).
	OwnershipPercentage *decimal.Decimal

	ReferenceNumber string
	Actor           string
}

func (r OwnershipRequest) key() OwnershipKey {
	return OwnershipKey{
		ProductID:          r.ProductID,
		BranchID:           r.BranchID,
		SupplierID:         r.SupplierID,
		PurchaseOrderID:    r.PurchaseOrderID,
		CustomerPurchaseID: r.CustomerPurchaseID,
	}
}

func (r OwnershipRequest) validate() (decimal.Decimal, error) {
	var v validationErrors
	v.required("productId", string(r.ProductID))
	v.required("branchId", string(r.BranchID))
	if r.PurchaseOrderID != "" && r.CustomerPurchaseID != "" {
		v.add("purchaseOrderId", "only one of purchaseOrderId and customerPurchaseId may be set")
	}
	v.positive("quantity", r.Quantity)
	v.positive("weight", r.Weight)
	v.nonNegative("totalCost", r.TotalCost)
	v.nonNegative("amountPaid", r.AmountPaid)
	if r.AmountPaid.GreaterThan(r.TotalCost) {
		v.add("amountPaid", "must not exceed totalCost")
	}

	pct := hundred
	switch {
	case r.OwnershipPercentage != nil:
		pct = *r.OwnershipPercentage
		if pct.IsNegative() || pct.GreaterThan(hundred) {
			v.add("ownershipPercentage", "must be between 0 and 100")
		}
	case r.TotalCost.IsPositive():
		pct = r.AmountPaid.Div(r.TotalCost).Mul(hundred)
	}
	return pct, v.err()
}

// CreateOrUpdate merges incoming stock into the active row for the same source,
// or opens a new row.
func (t *OwnershipTracker) CreateOrUpdate(ctx context.Context, req OwnershipRequest) (ProductOwnership, error) {
	pct, err := req.validate()
	if err != nil {
		return ProductOwnership{}, err
	}
	qty := RoundWeight(req.Quantity)
	weight := RoundWeight(req.Weight)
	cost := RoundMoney(req.TotalCost)
	paid := RoundMoney(req.AmountPaid)
	share := pct.Div(hundred)
	ownedQty := RoundWeight(qty.Mul(share))
	ownedWeight := RoundWeight(weight.Mul(share))

	var row ProductOwnership
	keys := []string{ownershipGroupKey(req.ProductID, req.BranchID)}
	err = t.exec.Mutate(ctx, keys, func(s Store) error {
		existing, err := s.FindActiveOwnership(ctx, req.key())
		if err != nil {
			return err
		}
		now := t.now()

		if existing != nil {
			row = *existing
			if req.ReferenceNumber != "" {
				dup, err := s.MovementExists(ctx, row.ID, MovementReceipt, req.ReferenceNumber)
				if err != nil {
					return err
				}
				if dup {
					return &DuplicateMovementError{OwnershipID: row.ID, Type: MovementReceipt, ReferenceNumber: req.ReferenceNumber}
				}
			}
			row.TotalQuantity = row.TotalQuantity.Add(qty)
			row.TotalWeight = row.TotalWeight.Add(weight)
			row.OwnedQuantity = row.OwnedQuantity.Add(ownedQty)
			row.OwnedWeight = row.OwnedWeight.Add(ownedWeight)
			row.TotalCost = row.TotalCost.Add(cost)
			row.AmountPaid = row.AmountPaid.Add(paid)
			row.UnitCostPerGram = costPerGram(row.TotalCost, row.TotalWeight)
			row.UpdatedAt = now
			if err := row.Validate(); err != nil {
				return err
			}
			if err := s.UpdateOwnership(ctx, &row); err != nil {
				return err
			}
		} else {
			row = ProductOwnership{
				ID:                 OwnershipID(NewID("own")),
				ProductID:          req.ProductID,
				BranchID:           req.BranchID,
				SupplierID:         req.SupplierID,
				PurchaseOrderID:    req.PurchaseOrderID,
				CustomerPurchaseID: req.CustomerPurchaseID,
				TotalQuantity:      qty,
				TotalWeight:        weight,
				OwnedQuantity:      ownedQty,
				OwnedWeight:        ownedWeight,
				TotalCost:          cost,
				AmountPaid:         paid,
				UnitCostPerGram:    costPerGram(cost, weight),
				IsActive:           true,
				CreatedAt:          now,
				UpdatedAt:          now,
			}
			if err := row.Validate(); err != nil {
				return err
			}
			if err := s.InsertOwnership(ctx, &row); err != nil {
				return err
			}
		}

		m := newMovement(row, MovementReceipt, req.ReferenceNumber, req.Actor, now)
		m.QuantityChange = qty
		m.WeightChange = weight
		m.AmountChange = cost
		return s.AppendMovement(ctx, m)
	})
	if err != nil {
		return ProductOwnership{}, err
	}

	t.log.Info("ownership received",
		zap.String("ownership", string(row.ID)),
		zap.String("product", string(row.ProductID)),
		zap.String("source", row.SourceRef()),
		zap.String("ownershipPct", row.OwnershipPercentage().String()))
	return row, nil
}

func costPerGram(cost, weight decimal.Decimal) decimal.Decimal {
	if !weight.IsPositive() {
		return decimal.Zero
	}
	return cost.Div(weight).RoundBank(RatePlaces)
}

// =============================================================================
// ADJUST
// =============================================================================

type AdjustmentRequest struct {
	OwnershipID        OwnershipID
	OwnedQuantityDelta decimal.Decimal
	OwnedWeightDelta   decimal.Decimal
	Reason             string
	ReferenceNumber    string
	Actor              string
}

// Adjust applies a manual correction to the owned figures. Totals and money
// are left alone; the result must still satisfy the row invariants.
func (t *OwnershipTracker) Adjust(ctx context.Context, req AdjustmentRequest) (ProductOwnership, error) {
	var v validationErrors
	v.required("ownershipId", string(req.OwnershipID))
	v.required("reason", req.Reason)
	if req.OwnedQuantityDelta.IsZero() && req.OwnedWeightDelta.IsZero() {
		v.add("ownedQuantityDelta", "adjustment must change quantity or weight")
	}
	if err := v.err(); err != nil {
		return ProductOwnership{}, err
	}

	var row ProductOwnership
	err := t.exec.Mutate(ctx, []string{ownershipRowKey(req.OwnershipID)}, func(s Store) error {
		var err error
		row, err = s.GetOwnership(ctx, req.OwnershipID)
		if err != nil {
			return err
		}
		if req.ReferenceNumber != "" {
			dup, err := s.MovementExists(ctx, row.ID, MovementAdjustment, req.ReferenceNumber)
			if err != nil {
				return err
			}
			if dup {
				return &DuplicateMovementError{OwnershipID: row.ID, Type: MovementAdjustment, ReferenceNumber: req.ReferenceNumber}
			}
		}
		if !row.IsActive {
			return &InactiveOwnershipError{OwnershipID: row.ID, ConsolidatedInto: row.ConsolidatedInto}
		}

		row.OwnedQuantity = RoundWeight(row.OwnedQuantity.Add(req.OwnedQuantityDelta))
		row.OwnedWeight = RoundWeight(row.OwnedWeight.Add(req.OwnedWeightDelta))
		row.UpdatedAt = t.now()
		if err := row.Validate(); err != nil {
			return err
		}
		if err := s.UpdateOwnership(ctx, &row); err != nil {
			return err
		}

		m := newMovement(row, MovementAdjustment, req.ReferenceNumber, req.Actor, row.UpdatedAt)
		m.QuantityChange = RoundWeight(req.OwnedQuantityDelta)
		m.WeightChange = RoundWeight(req.OwnedWeightDelta)
		m.Notes = req.Reason
		return s.AppendMovement(ctx, m)
	})
	if err != nil {
		return ProductOwnership{}, err
	}

	t.log.Info("ownership adjusted", zap.String("ownership", string(row.ID)), zap.String("reason", req.Reason))
	return row, nil
}

// =============================================================================
// READS
// =============================================================================

func (t *OwnershipTracker) Get(ctx context.Context, id OwnershipID) (ProductOwnership, error) {
	return t.store.GetOwnership(ctx, id)
}

func (t *OwnershipTracker) List(ctx context.Context, filter OwnershipFilter) ([]ProductOwnership, error) {
	return t.store.ListOwnerships(ctx, filter)
}

func (t *OwnershipTracker) Movements(ctx context.Context, id OwnershipID) ([]OwnershipMovement, error) {
	if _, err := t.store.GetOwnership(ctx, id); err != nil {
		return nil, err
	}
	return t.store.ListMovements(ctx, id)
}
