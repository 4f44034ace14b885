/*
costing.go - Lot-based cost valuation

PURPOSE:
  Values stock from its purchase cost lots. A product received in several
  batches at different gold prices has one lot per batch; the engine answers
  "what does this stock cost?" three ways:

  WeightedAverage: Σ(remainingWeight × unitCostPerGram) / Σ(remainingWeight)
  FIFO:            walk lots oldest-first until the quantity is covered
  LIFO:            walk lots newest-first until the quantity is covered

  FIFO and LIFO are read-only plans. CostLedger.Issue applies a plan to the
  lots (decrementing remaining quantity/weight) inside one transaction.

CONTRIBUTIONS:
  Each source reports contributionPercentage = sourceWeight/totalWeight×100,
  rounded to 2 decimals. The last source absorbs the rounding remainder so the
  contributions always add up to exactly 100.

ORDERING:
  Oldest = earliest PurchaseDate, then lowest SequenceOrder, then lowest ID.
*/
package gold

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type CostMethod string

const (
	CostFIFO CostMethod = "fifo"
	CostLIFO CostMethod = "lifo"
)

// =============================================================================
// RESULTS
// =============================================================================

// SourceContribution is one lot's (or one source's) share of a valuation.
type SourceContribution struct {
	LotID                  LotID
	SourceRef              string
	Quantity               decimal.Decimal
	Weight                 decimal.Decimal
	UnitCostPerGram        decimal.Decimal
	Cost                   decimal.Decimal
	ContributionPercentage decimal.Decimal
}

type Valuation struct {
	ProductID   ProductID
	BranchID    BranchID
	Method      string
	Quantity    decimal.Decimal
	TotalWeight decimal.Decimal
	TotalCost   decimal.Decimal
	CostPerGram decimal.Decimal // blended
	Sources     []SourceContribution
}

// =============================================================================
// COSTING ENGINE
// =============================================================================

type CostingEngine struct {
	lots LotStore
}

func NewCostingEngine(lots LotStore) *CostingEngine {
	return &CostingEngine{lots: lots}
}

// WeightedAverage values every lot that still has weight. branchID may be empty.
func (e *CostingEngine) WeightedAverage(ctx context.Context, productID ProductID, branchID BranchID) (Valuation, error) {
	if productID == "" {
		return Valuation{}, &ValidationError{Field: "productId", Message: "is required"}
	}
	lots, err := e.lots.ListLots(ctx, LotFilter{ProductID: productID, BranchID: branchID, AvailableOnly: true})
	if err != nil {
		return Valuation{}, err
	}
	if len(lots) == 0 {
		return Valuation{}, &NoCostDataError{ProductID: productID, BranchID: branchID}
	}

	sources := make([]SourceContribution, 0, len(lots))
	for _, l := range lots {
		sources = append(sources, SourceContribution{
			LotID:           l.ID,
			SourceRef:       l.SourceRef,
			Quantity:        l.RemainingQuantity,
			Weight:          l.RemainingWeight,
			UnitCostPerGram: l.UnitCostPerGram,
			Cost:            l.RemainingValue(),
		})
	}
	v := Blend(sources)
	v.ProductID = productID
	v.BranchID = branchID
	v.Method = "weighted_average"
	return v, nil
}

func (e *CostingEngine) FIFO(ctx context.Context, productID ProductID, branchID BranchID, qty decimal.Decimal) (Valuation, error) {
	return e.plan(ctx, productID, branchID, qty, CostFIFO)
}

func (e *CostingEngine) LIFO(ctx context.Context, productID ProductID, branchID BranchID, qty decimal.Decimal) (Valuation, error) {
	return e.plan(ctx, productID, branchID, qty, CostLIFO)
}

func (e *CostingEngine) plan(ctx context.Context, productID ProductID, branchID BranchID, qty decimal.Decimal, method CostMethod) (Valuation, error) {
	var v validationErrors
	v.required("productId", string(productID))
	v.positive("quantity", qty)
	if method != CostFIFO && method != CostLIFO {
		v.add("method", "must be fifo or lifo")
	}
	if err := v.err(); err != nil {
		return Valuation{}, err
	}
	lots, err := e.lots.ListLots(ctx, LotFilter{ProductID: productID, BranchID: branchID, AvailableOnly: true})
	if err != nil {
		return Valuation{}, err
	}
	return planLots(productID, branchID, lots, qty, method)
}

// planLots walks lots in method order. Lots are not modified.
func planLots(productID ProductID, branchID BranchID, lots []CostLot, qty decimal.Decimal, method CostMethod) (Valuation, error) {
	ordered := append([]CostLot(nil), lots...)
	sortLotsOldestFirst(ordered)
	if method == CostLIFO {
		for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		}
	}

	available := decimal.Zero
	for _, l := range ordered {
		available = available.Add(l.RemainingQuantity)
	}
	if available.LessThan(qty) {
		return Valuation{}, &PartialFulfillmentError{ProductID: productID, Available: available, Requested: qty}
	}

	remaining := qty
	sources := make([]SourceContribution, 0, len(ordered))
	for _, l := range ordered {
		if !remaining.IsPositive() {
			break
		}
		if !l.RemainingQuantity.IsPositive() {
			continue
		}
		take := minDecimal(l.RemainingQuantity, remaining)
		weight := l.RemainingWeight
		if take.LessThan(l.RemainingQuantity) {
			weight = RoundWeight(take.Mul(l.RemainingWeight).Div(l.RemainingQuantity))
		}
		sources = append(sources, SourceContribution{
			LotID:           l.ID,
			SourceRef:       l.SourceRef,
			Quantity:        take,
			Weight:          weight,
			UnitCostPerGram: l.UnitCostPerGram,
			Cost:            weight.Mul(l.UnitCostPerGram),
		})
		remaining = remaining.Sub(take)
	}

	v := Blend(sources)
	v.ProductID = productID
	v.BranchID = branchID
	v.Method = string(method)
	v.Quantity = qty
	return v, nil
}

// Blend computes the weight-weighted cost of arbitrary sources and fills in
// each source's contribution percentage. Cost is rounded to currency at the end.
func Blend(sources []SourceContribution) Valuation {
	v := Valuation{
		Quantity:    decimal.Zero,
		TotalWeight: decimal.Zero,
		TotalCost:   decimal.Zero,
		CostPerGram: decimal.Zero,
	}
	for _, s := range sources {
		v.Quantity = v.Quantity.Add(s.Quantity)
		v.TotalWeight = v.TotalWeight.Add(s.Weight)
		v.TotalCost = v.TotalCost.Add(s.Cost)
	}
	if v.TotalWeight.IsPositive() {
		v.CostPerGram = v.TotalCost.Div(v.TotalWeight).RoundBank(RatePlaces)
	}

	out := make([]SourceContribution, len(sources))
	allocated := decimal.Zero
	for i, s := range sources {
		s.Cost = RoundMoney(s.Cost)
		if i == len(sources)-1 && v.TotalWeight.IsPositive() {
			s.ContributionPercentage = hundred.Sub(allocated)
		} else {
			s.ContributionPercentage = Percentage(s.Weight, v.TotalWeight)
			allocated = allocated.Add(s.ContributionPercentage)
		}
		out[i] = s
	}
	v.Sources = out
	v.TotalCost = RoundMoney(v.TotalCost)
	return v
}

func sortLotsOldestFirst(lots []CostLot) {
	sort.SliceStable(lots, func(i, j int) bool {
		a, b := lots[i], lots[j]
		if !a.PurchaseDate.Equal(b.PurchaseDate) {
			return a.PurchaseDate.Before(b.PurchaseDate)
		}
		if a.SequenceOrder != b.SequenceOrder {
			return a.SequenceOrder < b.SequenceOrder
		}
		return a.ID < b.ID
	})
}

// =============================================================================
// COST LEDGER - Lot receipt and issuance
// =============================================================================

type LotRequest struct {
	ProductID       ProductID
	BranchID        BranchID
	SupplierID      SupplierID
	SourceRef       string
	Quantity        decimal.Decimal
	Weight          decimal.Decimal
	UnitCostPerGram decimal.Decimal
	PurchaseDate    time.Time
}

// CostLedger records lots on receipt and decrements them on issuance.
// Lots are never deleted; they are marked exhausted.
type CostLedger struct {
	exec *Executor
	now  Clock
	log  *zap.Logger
}

func NewCostLedger(exec *Executor, now Clock, log *zap.Logger) *CostLedger {
	if now == nil {
		now = SystemClock
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CostLedger{exec: exec, now: now, log: log}
}

func (c *CostLedger) RecordLot(ctx context.Context, req LotRequest) (CostLot, error) {
	var v validationErrors
	v.required("productId", string(req.ProductID))
	v.required("branchId", string(req.BranchID))
	v.required("sourceRef", req.SourceRef)
	v.positive("quantity", req.Quantity)
	v.positive("weight", req.Weight)
	v.nonNegative("unitCostPerGram", req.UnitCostPerGram)
	if err := v.err(); err != nil {
		return CostLot{}, err
	}

	var lot CostLot
	err := c.exec.Mutate(ctx, []string{lotGroupKey(req.ProductID, req.BranchID)}, func(s Store) error {
		seq, err := s.NextLotSequence(ctx, req.ProductID, req.BranchID)
		if err != nil {
			return err
		}
		purchased := req.PurchaseDate
		if purchased.IsZero() {
			purchased = c.now()
		}
		lot = CostLot{
			ID:                LotID(NewID("lot")),
			ProductID:         req.ProductID,
			BranchID:          req.BranchID,
			SupplierID:        req.SupplierID,
			SourceRef:         req.SourceRef,
			Quantity:          RoundWeight(req.Quantity),
			Weight:            RoundWeight(req.Weight),
			UnitCostPerGram:   req.UnitCostPerGram.RoundBank(RatePlaces),
			RemainingQuantity: RoundWeight(req.Quantity),
			RemainingWeight:   RoundWeight(req.Weight),
			PurchaseDate:      purchased,
			SequenceOrder:     seq,
		}
		return s.InsertLot(ctx, &lot)
	})
	if err != nil {
		return CostLot{}, err
	}
	c.log.Info("cost lot recorded",
		zap.String("lot", string(lot.ID)),
		zap.String("product", string(lot.ProductID)),
		zap.Int64("seq", lot.SequenceOrder))
	return lot, nil
}

// Issue consumes lots for qty using method and returns the applied valuation.
// branchID is required: issuance always draws from one branch's stock.
func (c *CostLedger) Issue(ctx context.Context, productID ProductID, branchID BranchID, qty decimal.Decimal, method CostMethod) (Valuation, error) {
	var v validationErrors
	v.required("productId", string(productID))
	v.required("branchId", string(branchID))
	v.positive("quantity", qty)
	if method != CostFIFO && method != CostLIFO {
		v.add("method", "must be fifo or lifo")
	}
	if err := v.err(); err != nil {
		return Valuation{}, err
	}

	var applied Valuation
	err := c.exec.Mutate(ctx, []string{lotGroupKey(productID, branchID)}, func(s Store) error {
		lots, err := s.ListLots(ctx, LotFilter{ProductID: productID, BranchID: branchID, AvailableOnly: true})
		if err != nil {
			return err
		}
		applied, err = planLots(productID, branchID, lots, RoundWeight(qty), method)
		if err != nil {
			return err
		}

		byID := make(map[LotID]CostLot, len(lots))
		for _, l := range lots {
			byID[l.ID] = l
		}
		for _, src := range applied.Sources {
			lot := byID[src.LotID]
			lot.RemainingQuantity = lot.RemainingQuantity.Sub(src.Quantity)
			lot.RemainingWeight = lot.RemainingWeight.Sub(src.Weight)
			if !lot.RemainingQuantity.IsPositive() || !lot.RemainingWeight.IsPositive() {
				lot.RemainingQuantity = decimal.Zero
				lot.RemainingWeight = decimal.Zero
				lot.Exhausted = true
			}
			if err := s.UpdateLot(ctx, &lot); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Valuation{}, err
	}
	c.log.Info("cost lots issued",
		zap.String("product", string(productID)),
		zap.String("branch", string(branchID)),
		zap.String("method", string(method)),
		zap.String("qty", qty.String()),
		zap.String("cost", applied.TotalCost.String()))
	return applied, nil
}

func (c *CostLedger) Lots(ctx context.Context, filter LotFilter) ([]CostLot, error) {
	return c.exec.Store.ListLots(ctx, filter)
}
