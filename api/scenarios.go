/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	jewelry data. Each scenario goes through the same services the API uses,
	so every row it creates has its movements and transfers.

AVAILABLE SCENARIOS:

	consignment:  Supplier stock partly paid for, with cost lots and alerts
	raw-gold:     Supplier receipts, merchant gold, conversion and a waive
	fragmented:   Several rows of one product/supplier ready to consolidate

HOW SCENARIOS WORK:
 1. Reset the store (clear all data)
 2. Record cost lots and ownership rows
 3. Record payments, receipts and transfers

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "consignment"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Service handlers the scenarios mirror
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/gold-engine/gold"
)

// Resetter clears the backing store. Both stores implement it.
type Resetter interface {
	Reset(ctx context.Context) error
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "consignment",
		Name:        "Consignment",
		Description: "Supplier rings at 25% ownership with two cost lots",
	},
	{
		ID:          "raw-gold",
		Name:        "Raw Gold",
		Description: "21k supplier debt, 24k merchant gold, a conversion and a waive",
	},
	{
		ID:          "fragmented",
		Name:        "Fragmented Ownership",
		Description: "Three purchase orders of one chain, ready to consolidate",
	},
}

var scenarioLoaders = map[string]func(*Handler, context.Context) error{
	"consignment": (*Handler).loadConsignmentScenario,
	"raw-gold":    (*Handler).loadRawGoldScenario,
	"fragmented":  (*Handler).loadFragmentedScenario,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads the named scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}
	if h.svc.Reset == nil {
		writeError(w, http.StatusServiceUnavailable, "Store cannot be reset", nil)
		return
	}
	if err := h.svc.Reset.Reset(r.Context()); err != nil {
		h.writeDomainError(w, r, "Failed to reset store", err)
		return
	}
	if err := load(h, r.Context()); err != nil {
		h.writeDomainError(w, r, "Failed to load scenario", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario_id": req.ScenarioID})
}

// ResetStore clears all data.
func (h *Handler) ResetStore(w http.ResponseWriter, r *http.Request) {
	if h.svc.Reset == nil {
		writeError(w, http.StatusServiceUnavailable, "Store cannot be reset", nil)
		return
	}
	if err := h.svc.Reset.Reset(r.Context()); err != nil {
		h.writeDomainError(w, r, "Failed to reset store", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// LOADERS
// =============================================================================

const (
	demoBranch   = gold.BranchID("branch-downtown")
	demoSupplier = gold.SupplierID("sup-alnoor")
	demoActor    = "demo"
)

func dec(s string) decimal.Decimal { return gold.MustParseDecimal(s) }

// Ten 21k rings, 5g each. The merchant has paid a quarter.
func (h *Handler) loadConsignmentScenario(ctx context.Context) error {
	jan := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	lots := []gold.LotRequest{
		{ProductID: "ring-21k-classic", BranchID: demoBranch, SupplierID: demoSupplier, SourceRef: "PO-1001",
			Quantity: dec("6"), Weight: dec("30"), UnitCostPerGram: dec("95"), PurchaseDate: jan},
		{ProductID: "ring-21k-classic", BranchID: demoBranch, SupplierID: demoSupplier, SourceRef: "PO-1002",
			Quantity: dec("4"), Weight: dec("20"), UnitCostPerGram: dec("102.5"), PurchaseDate: jan.AddDate(0, 1, 0)},
	}
	for _, l := range lots {
		if _, err := h.svc.CostLedger.RecordLot(ctx, l); err != nil {
			return err
		}
	}

	row, err := h.svc.Ownership.CreateOrUpdate(ctx, gold.OwnershipRequest{
		ProductID:       "ring-21k-classic",
		BranchID:        demoBranch,
		SupplierID:      demoSupplier,
		PurchaseOrderID: "PO-1001",
		Quantity:        dec("10"),
		Weight:          dec("50"),
		TotalCost:       dec("4900"),
		ReferenceNumber: "PO-1001",
		Actor:           demoActor,
	})
	if err != nil {
		return err
	}
	_, _, err = h.svc.Ownership.RecordPayment(ctx, gold.PaymentRequest{
		OwnershipID:     row.ID,
		Amount:          dec("1225"),
		ReferenceNumber: "PAY-1001-1",
		Actor:           demoActor,
	})
	if err != nil {
		return err
	}

	// A fully owned bangle so not everything alerts.
	_, err = h.svc.Ownership.CreateOrUpdate(ctx, gold.OwnershipRequest{
		ProductID:       "bangle-18k",
		BranchID:        demoBranch,
		SupplierID:      demoSupplier,
		PurchaseOrderID: "PO-0990",
		Quantity:        dec("2"),
		Weight:          dec("24.6"),
		TotalCost:       dec("1968"),
		AmountPaid:      dec("1968"),
		ReferenceNumber: "PO-0990",
		Actor:           demoActor,
	})
	return err
}

func (h *Handler) loadRawGoldScenario(ctx context.Context) error {
	if _, _, err := h.svc.Gold.RecordReceipt(ctx, gold.ReceiptRequest{
		SupplierID: demoSupplier, BranchID: demoBranch, KaratTypeID: "21k",
		Weight: dec("100"), CostPerGram: dec("100"), ReferenceNumber: "GRN-2001", Actor: demoActor,
	}); err != nil {
		return err
	}
	if _, _, err := h.svc.Gold.RecordPaymentForRawGold(ctx, gold.RawGoldPaymentRequest{
		SupplierID: demoSupplier, BranchID: demoBranch, KaratTypeID: "21k",
		WeightPaidFor: dec("30"), ReferenceNumber: "PAY-2001", Actor: demoActor,
	}); err != nil {
		return err
	}
	if _, _, err := h.svc.Gold.Credit(ctx, gold.CreditRequest{
		BranchID: demoBranch, KaratTypeID: "24k", Weight: dec("40"), CostPerGram: dec("115"),
		CustomerPurchaseID: "CP-3001", ReferenceNumber: "CP-3001", Actor: demoActor,
	}); err != nil {
		return err
	}
	if _, err := h.svc.Gold.Convert(ctx, gold.ConvertRequest{
		BranchID: demoBranch, FromKarat: "24k", ToKarat: "21k", FromWeight: dec("10"),
		ReferenceNumber: "CNV-3001", Actor: demoActor,
	}); err != nil {
		return err
	}
	_, err := h.svc.Gold.WaiveToSupplier(ctx, gold.WaiveRequest{
		BranchID: demoBranch, ToSupplierID: demoSupplier, FromKarat: "24k", ToKarat: "21k",
		FromWeight: dec("20"), CustomerPurchaseID: "CP-3001", ReferenceNumber: "WV-3001", Actor: demoActor,
	})
	return err
}

func (h *Handler) loadFragmentedScenario(ctx context.Context) error {
	orders := []struct {
		po, qty, weight, cost, paid string
	}{
		{"PO-4001", "4", "40", "4000", "4000"},
		{"PO-4002", "3", "30", "3150", "1000"},
		{"PO-4003", "5", "50", "5100", "0"},
	}
	for _, o := range orders {
		if _, err := h.svc.Ownership.CreateOrUpdate(ctx, gold.OwnershipRequest{
			ProductID:       "chain-21k-rope",
			BranchID:        demoBranch,
			SupplierID:      demoSupplier,
			PurchaseOrderID: o.po,
			Quantity:        dec(o.qty),
			Weight:          dec(o.weight),
			TotalCost:       dec(o.cost),
			AmountPaid:      dec(o.paid),
			ReferenceNumber: o.po,
			Actor:           demoActor,
		}); err != nil {
			return err
		}
	}
	return nil
}
