/*
consolidation.go - Folding redundant ownership rows

PURPOSE:
  Repeated receipts from one supplier leave several active ownership rows
  for the same product. Consolidation merges them into one row so sales and
  payments touch fewer rows.

GROUPING:
  (product, supplier, branch). Branch is part of the group so stock never
  moves between branches by consolidating.

MERGE:
  Quantities, weights, cost and amount paid are summed. The blended cost per
  gram comes from Blend over the source rows. Source rows are marked inactive
  with ConsolidatedInto set; they are never deleted. One Consolidation
  movement on the merged row lists every source id.

  EXAMPLE:
    row A: 10 pcs, cost 1000     row B: 5 pcs, cost 600
    merged: 15 pcs, cost 1600, paid = A.paid + B.paid
*/
package gold

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ConsolidationService struct {
	exec  *Executor
	store TxStore
	now   Clock
	log   *zap.Logger
}

func NewConsolidationService(exec *Executor, now Clock, log *zap.Logger) *ConsolidationService {
	if now == nil {
		now = SystemClock
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ConsolidationService{exec: exec, store: exec.Store, now: now, log: log}
}

// Opportunity is a group of active rows that can be merged.
type Opportunity struct {
	ProductID     ProductID
	SupplierID    SupplierID
	BranchID      BranchID
	OwnershipIDs  []OwnershipID
	TotalQuantity decimal.Decimal
	TotalWeight   decimal.Decimal
	TotalCost     decimal.Decimal
}

type groupKey struct {
	product  ProductID
	supplier SupplierID
	branch   BranchID
}

// FindOpportunities lists groups with more than one active row. Empty
// productID or supplierID match everything.
func (c *ConsolidationService) FindOpportunities(ctx context.Context, productID ProductID, supplierID SupplierID) ([]Opportunity, error) {
	rows, err := c.store.ListOwnerships(ctx, OwnershipFilter{ProductID: productID, SupplierID: supplierID, ActiveOnly: true})
	if err != nil {
		return nil, err
	}

	groups := make(map[groupKey]*Opportunity)
	var order []groupKey
	for _, r := range rows {
		if r.SupplierID == "" {
			continue
		}
		k := groupKey{r.ProductID, r.SupplierID, r.BranchID}
		op, ok := groups[k]
		if !ok {
			op = &Opportunity{
				ProductID:     r.ProductID,
				SupplierID:    r.SupplierID,
				BranchID:      r.BranchID,
				TotalQuantity: decimal.Zero,
				TotalWeight:   decimal.Zero,
				TotalCost:     decimal.Zero,
			}
			groups[k] = op
			order = append(order, k)
		}
		op.OwnershipIDs = append(op.OwnershipIDs, r.ID)
		op.TotalQuantity = op.TotalQuantity.Add(r.TotalQuantity)
		op.TotalWeight = op.TotalWeight.Add(r.TotalWeight)
		op.TotalCost = op.TotalCost.Add(r.TotalCost)
	}

	var out []Opportunity
	for _, k := range order {
		if op := groups[k]; len(op.OwnershipIDs) > 1 {
			sort.Slice(op.OwnershipIDs, func(i, j int) bool { return op.OwnershipIDs[i] < op.OwnershipIDs[j] })
			out = append(out, *op)
		}
	}
	return out, nil
}

type ConsolidateRequest struct {
	ProductID  ProductID
	SupplierID SupplierID
	BranchID   BranchID
	Actor      string
}

type ConsolidationResult struct {
	Merged    ProductOwnership
	SourceIDs []OwnershipID
	Movement  OwnershipMovement
	Cost      Valuation
}

// Consolidate merges every active row of the group into a new row.
func (c *ConsolidationService) Consolidate(ctx context.Context, req ConsolidateRequest) (ConsolidationResult, error) {
	var v validationErrors
	v.required("productId", string(req.ProductID))
	v.required("supplierId", string(req.SupplierID))
	v.required("branchId", string(req.BranchID))
	if err := v.err(); err != nil {
		return ConsolidationResult{}, err
	}
	filter := OwnershipFilter{ProductID: req.ProductID, SupplierID: req.SupplierID, BranchID: req.BranchID, ActiveOnly: true}

	current, err := c.store.ListOwnerships(ctx, filter)
	if err != nil {
		return ConsolidationResult{}, err
	}
	if len(current) < 2 {
		return ConsolidationResult{}, &NothingToConsolidateError{ProductID: req.ProductID, SupplierID: req.SupplierID, Found: len(current)}
	}
	keys := []string{ownershipGroupKey(req.ProductID, req.BranchID)}
	for _, r := range current {
		keys = append(keys, ownershipRowKey(r.ID))
	}

	var result ConsolidationResult
	err = c.exec.Mutate(ctx, keys, func(s Store) error {
		rows, err := s.ListOwnerships(ctx, filter)
		if err != nil {
			return err
		}
		if len(rows) < 2 {
			return &NothingToConsolidateError{ProductID: req.ProductID, SupplierID: req.SupplierID, Found: len(rows)}
		}
		// A row created after the pre-read is not covered by the held row locks.
		if !sameOwnershipIDs(rows, current) {
			return &ConcurrencyConflictError{Resource: ownershipGroupKey(req.ProductID, req.BranchID), Reason: "rows changed during consolidation"}
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })

		now := c.now()
		merged := ProductOwnership{
			ID:            OwnershipID(NewID("own")),
			ProductID:     req.ProductID,
			BranchID:      req.BranchID,
			SupplierID:    req.SupplierID,
			TotalQuantity: decimal.Zero,
			TotalWeight:   decimal.Zero,
			OwnedQuantity: decimal.Zero,
			OwnedWeight:   decimal.Zero,
			TotalCost:     decimal.Zero,
			AmountPaid:    decimal.Zero,
			IsActive:      true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		sources := make([]SourceContribution, 0, len(rows))
		ids := make([]OwnershipID, 0, len(rows))
		for _, r := range rows {
			merged.TotalQuantity = merged.TotalQuantity.Add(r.TotalQuantity)
			merged.TotalWeight = merged.TotalWeight.Add(r.TotalWeight)
			merged.OwnedQuantity = merged.OwnedQuantity.Add(r.OwnedQuantity)
			merged.OwnedWeight = merged.OwnedWeight.Add(r.OwnedWeight)
			merged.TotalCost = merged.TotalCost.Add(r.TotalCost)
			merged.AmountPaid = merged.AmountPaid.Add(r.AmountPaid)
			sources = append(sources, SourceContribution{
				SourceRef:       r.SourceRef(),
				Quantity:        r.TotalQuantity,
				Weight:          r.TotalWeight,
				UnitCostPerGram: r.UnitCostPerGram,
				Cost:            r.TotalCost,
			})
			ids = append(ids, r.ID)
		}
		cost := Blend(sources)
		cost.ProductID = req.ProductID
		cost.BranchID = req.BranchID
		cost.Method = "blended"
		merged.UnitCostPerGram = cost.CostPerGram
		if err := merged.Validate(); err != nil {
			return err
		}
		if err := s.InsertOwnership(ctx, &merged); err != nil {
			return err
		}

		for i := range rows {
			rows[i].IsActive = false
			rows[i].ConsolidatedInto = merged.ID
			rows[i].UpdatedAt = now
			if err := s.UpdateOwnership(ctx, &rows[i]); err != nil {
				return err
			}
		}

		m := newMovement(merged, MovementConsolidation, string(merged.ID), req.Actor, now)
		m.QuantityChange = merged.TotalQuantity
		m.WeightChange = merged.TotalWeight
		m.AmountChange = merged.AmountPaid
		m.SourceOwnershipIDs = ids
		if err := s.AppendMovement(ctx, m); err != nil {
			return err
		}

		result = ConsolidationResult{Merged: merged, SourceIDs: ids, Movement: m, Cost: cost}
		return nil
	})
	if err != nil {
		return ConsolidationResult{}, err
	}

	c.log.Info("ownership consolidated",
		zap.String("product", string(req.ProductID)),
		zap.String("supplier", string(req.SupplierID)),
		zap.String("branch", string(req.BranchID)),
		zap.String("merged", string(result.Merged.ID)),
		zap.Int("sources", len(result.SourceIDs)))
	return result, nil
}

// Sweep consolidates every open opportunity and returns how many groups were
// merged. A failing group is logged and skipped.
func (c *ConsolidationService) Sweep(ctx context.Context, actor string) (int, error) {
	ops, err := c.FindOpportunities(ctx, "", "")
	if err != nil {
		return 0, err
	}
	merged := 0
	for _, op := range ops {
		if ctx.Err() != nil {
			return merged, ctx.Err()
		}
		_, err := c.Consolidate(ctx, ConsolidateRequest{ProductID: op.ProductID, SupplierID: op.SupplierID, BranchID: op.BranchID, Actor: actor})
		if err != nil {
			c.log.Warn("consolidation skipped",
				zap.String("product", string(op.ProductID)),
				zap.String("supplier", string(op.SupplierID)),
				zap.String("branch", string(op.BranchID)),
				zap.Error(err))
			continue
		}
		merged++
	}
	return merged, nil
}

// sameOwnershipIDs reports whether a and b hold the same set of row ids.
func sameOwnershipIDs(a, b []ProductOwnership) bool {
	if len(a) != len(b) {
		return false
	}
	ids := make(map[OwnershipID]struct{}, len(a))
	for _, r := range a {
		ids[r.ID] = struct{}{}
	}
	for _, r := range b {
		if _, ok := ids[r.ID]; !ok {
			return false
		}
	}
	return true
}
