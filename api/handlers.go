/*
handlers.go - HTTP API handlers for the gold ownership engine

PURPOSE:
  Exposes ownership tracking, costing, raw gold balances, consolidation and
  alerts over REST. Handles HTTP request/response and JSON, and delegates
  every rule to package gold.

ENDPOINTS:
  Ownership:
    GET    /api/ownership                      List rows (product_id, branch_id, supplier_id, active)
    POST   /api/ownership                      Create or merge a row
    GET    /api/ownership/validate-sale        Can product_id/branch_id sell quantity?
    POST   /api/ownership/sales                Consume owned stock for a sale
    GET    /api/ownership/{id}                 Row with derived percentage and outstanding
    GET    /api/ownership/{id}/movements       Audit trail
    POST   /api/ownership/{id}/payments        Pay toward the row
    POST   /api/ownership/{id}/adjustments     Manual correction

  Costing:
    GET    /api/costing/lots                   Lots (product_id, branch_id, available)
    POST   /api/costing/lots                   Record a purchase lot
    GET    /api/costing/weighted-average       Weighted average over remaining lots
    GET    /api/costing/fifo                   FIFO preview for quantity
    GET    /api/costing/lifo                   LIFO preview for quantity
    POST   /api/costing/issue                  Issue cost and decrement lots

  Raw gold:
    POST   /api/gold/receipts                  Supplier gold received on credit
    POST   /api/gold/payments                  Supplier gold weight paid for
    POST   /api/gold/credits                   Merchant gold intake
    POST   /api/gold/conversions               Karat conversion
    POST   /api/gold/waives                    Merchant gold against supplier debt
    GET    /api/gold/suppliers/{id}/balances   Supplier buckets (branch_id)
    GET    /api/gold/merchant/{id}/balances    Merchant buckets of a branch
    GET    /api/gold/transfers                 Transfer history

  Consolidation & alerts:
    GET    /api/consolidation/opportunities    Groups with more than one active row
    POST   /api/consolidation                  Merge one group
    GET    /api/alerts                         Recently published alerts
    POST   /api/alerts/scan                    Scan now (publish=true to publish)

ERROR HANDLING:
  Errors are returned as JSON (ErrorResponse) with:
  - 400: Malformed JSON, failed validation
  - 404: Resource not found
  - 409: Duplicate movement reference, concurrency conflict (retryable)
  - 422: Invariant, business rule or precondition failure
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - errors.go: Validation and error mapping
  - jobs.go: Background job endpoints
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/gold-engine/gold"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Services groups the engine services the handlers delegate to.
type Services struct {
	Ownership     *gold.OwnershipTracker
	Costing       *gold.CostingEngine
	CostLedger    *gold.CostLedger
	Gold          *gold.GoldBalanceLedger
	Consolidation *gold.ConsolidationService
	Alerts        *gold.AlertGenerator
	Reset         Resetter // nil disables the scenario endpoints
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	svc  Services
	jobs JobRunner
	log  *zap.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler. jobs may be nil when the scheduler is off.
func NewHandler(svc Services, jobs JobRunner, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{svc: svc, jobs: jobs, log: log}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// OWNERSHIP
// =============================================================================

func (h *Handler) ListOwnerships(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := gold.OwnershipFilter{
		ProductID:  gold.ProductID(q.Get("product_id")),
		BranchID:   gold.BranchID(q.Get("branch_id")),
		SupplierID: gold.SupplierID(q.Get("supplier_id")),
		ActiveOnly: q.Get("active") != "false",
	}
	rows, err := h.svc.Ownership.List(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, "Failed to list ownership", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ownerships": toOwnershipDTOs(rows)})
}

func (h *Handler) CreateOwnership(w http.ResponseWriter, r *http.Request) {
	var req CreateOwnershipRequest
	if !decode(w, r, &req) {
		return
	}
	row, err := h.svc.Ownership.CreateOrUpdate(r.Context(), gold.OwnershipRequest{
		ProductID:           gold.ProductID(req.ProductID),
		BranchID:            gold.BranchID(req.BranchID),
		SupplierID:          gold.SupplierID(req.SupplierID),
		PurchaseOrderID:     req.PurchaseOrderID,
		CustomerPurchaseID:  req.CustomerPurchaseID,
		Quantity:            req.TotalQuantity,
		Weight:              req.TotalWeight,
		TotalCost:           req.TotalCost,
		AmountPaid:          req.AmountPaid,
		OwnershipPercentage: req.OwnershipPercentage,
		ReferenceNumber:     req.ReferenceNumber,
		Actor:               req.Actor,
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to record ownership", err)
		return
	}
	writeJSON(w, http.StatusCreated, toOwnershipDTO(row))
}

func (h *Handler) ValidateSale(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	qty, ok := queryDecimal(w, r, "quantity")
	if !ok {
		return
	}
	v, err := h.svc.Ownership.ValidateSale(r.Context(), gold.ProductID(q.Get("product_id")), gold.BranchID(q.Get("branch_id")), qty)
	if err != nil {
		h.writeDomainError(w, r, "Failed to validate sale", err)
		return
	}
	warnings := v.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	writeJSON(w, http.StatusOK, SaleValidationDTO{
		ProductID:           string(v.ProductID),
		BranchID:            string(v.BranchID),
		RequestedQuantity:   v.RequestedQuantity,
		OwnedQuantity:       v.OwnedQuantity,
		TotalQuantity:       v.TotalQuantity,
		OwnershipPercentage: v.OwnershipPercentage,
		StockOnHand:         v.StockOnHand,
		CanSell:             v.CanSell,
		Warnings:            warnings,
	})
}

func (h *Handler) RecordSale(w http.ResponseWriter, r *http.Request) {
	var req SaleRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.Ownership.RecordSaleConsumption(r.Context(), gold.SaleRequest{
		ProductID:       gold.ProductID(req.ProductID),
		BranchID:        gold.BranchID(req.BranchID),
		Quantity:        req.Quantity,
		ReferenceNumber: req.ReferenceNumber,
		Actor:           req.Actor,
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to record sale", err)
		return
	}
	writeJSON(w, http.StatusCreated, SaleConsumptionDTO{
		ProductID: string(res.ProductID),
		BranchID:  string(res.BranchID),
		Quantity:  res.Quantity,
		Weight:    res.Weight,
		Movements: toMovementDTOs(res.Movements),
	})
}

func (h *Handler) GetOwnership(w http.ResponseWriter, r *http.Request) {
	row, err := h.svc.Ownership.Get(r.Context(), gold.OwnershipID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, r, "Ownership not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toOwnershipDTO(row))
}

func (h *Handler) GetMovements(w http.ResponseWriter, r *http.Request) {
	id := gold.OwnershipID(chi.URLParam(r, "id"))
	if _, err := h.svc.Ownership.Get(r.Context(), id); err != nil {
		h.writeDomainError(w, r, "Ownership not found", err)
		return
	}
	ms, err := h.svc.Ownership.Movements(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, "Failed to get movements", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movements": toMovementDTOs(ms)})
}

func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !decode(w, r, &req) {
		return
	}
	row, mv, err := h.svc.Ownership.RecordPayment(r.Context(), gold.PaymentRequest{
		OwnershipID:     gold.OwnershipID(chi.URLParam(r, "id")),
		Amount:          req.Amount,
		ReferenceNumber: req.ReferenceNumber,
		Actor:           req.Actor,
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to record payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"ownership": toOwnershipDTO(row),
		"movement":  toMovementDTO(mv),
	})
}

func (h *Handler) AdjustOwnership(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if !decode(w, r, &req) {
		return
	}
	row, err := h.svc.Ownership.Adjust(r.Context(), gold.AdjustmentRequest{
		OwnershipID:        gold.OwnershipID(chi.URLParam(r, "id")),
		OwnedQuantityDelta: req.OwnedQuantityDelta,
		OwnedWeightDelta:   req.OwnedWeightDelta,
		Reason:             req.Reason,
		ReferenceNumber:    req.ReferenceNumber,
		Actor:              req.Actor,
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to adjust ownership", err)
		return
	}
	writeJSON(w, http.StatusOK, toOwnershipDTO(row))
}

// =============================================================================
// COSTING
// =============================================================================

func (h *Handler) ListLots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lots, err := h.svc.CostLedger.Lots(r.Context(), gold.LotFilter{
		ProductID:     gold.ProductID(q.Get("product_id")),
		BranchID:      gold.BranchID(q.Get("branch_id")),
		AvailableOnly: q.Get("available") == "true",
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to list lots", err)
		return
	}
	out := make([]LotDTO, 0, len(lots))
	for _, l := range lots {
		out = append(out, toLotDTO(l))
	}
	writeJSON(w, http.StatusOK, map[string]any{"lots": out})
}

func (h *Handler) RecordLot(w http.ResponseWriter, r *http.Request) {
	var req LotRequest
	if !decode(w, r, &req) {
		return
	}
	in := gold.LotRequest{
		ProductID:       gold.ProductID(req.ProductID),
		BranchID:        gold.BranchID(req.BranchID),
		SupplierID:      gold.SupplierID(req.SupplierID),
		SourceRef:       req.SourceRef,
		Quantity:        req.Quantity,
		Weight:          req.Weight,
		UnitCostPerGram: req.UnitCostPerGram,
	}
	if req.PurchaseDate != nil {
		in.PurchaseDate = req.PurchaseDate.UTC()
	}
	lot, err := h.svc.CostLedger.RecordLot(r.Context(), in)
	if err != nil {
		h.writeDomainError(w, r, "Failed to record lot", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLotDTO(lot))
}

func (h *Handler) WeightedAverage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	v, err := h.svc.Costing.WeightedAverage(r.Context(), gold.ProductID(q.Get("product_id")), gold.BranchID(q.Get("branch_id")))
	if err != nil {
		h.writeDomainError(w, r, "Failed to compute weighted average", err)
		return
	}
	writeJSON(w, http.StatusOK, toValuationDTO(v))
}

func (h *Handler) FIFO(w http.ResponseWriter, r *http.Request) {
	h.previewCost(w, r, gold.CostFIFO)
}

func (h *Handler) LIFO(w http.ResponseWriter, r *http.Request) {
	h.previewCost(w, r, gold.CostLIFO)
}

func (h *Handler) previewCost(w http.ResponseWriter, r *http.Request, method gold.CostMethod) {
	q := r.URL.Query()
	qty, ok := queryDecimal(w, r, "quantity")
	if !ok {
		return
	}
	productID, branchID := gold.ProductID(q.Get("product_id")), gold.BranchID(q.Get("branch_id"))

	var (
		v   gold.Valuation
		err error
	)
	if method == gold.CostLIFO {
		v, err = h.svc.Costing.LIFO(r.Context(), productID, branchID, qty)
	} else {
		v, err = h.svc.Costing.FIFO(r.Context(), productID, branchID, qty)
	}
	if err != nil {
		h.writeDomainError(w, r, "Failed to compute cost", err)
		return
	}
	writeJSON(w, http.StatusOK, toValuationDTO(v))
}

func (h *Handler) IssueCost(w http.ResponseWriter, r *http.Request) {
	var req IssueRequest
	if !decode(w, r, &req) {
		return
	}
	v, err := h.svc.CostLedger.Issue(r.Context(), gold.ProductID(req.ProductID), gold.BranchID(req.BranchID), req.Quantity, gold.CostMethod(req.Method))
	if err != nil {
		h.writeDomainError(w, r, "Failed to issue cost", err)
		return
	}
	writeJSON(w, http.StatusCreated, toValuationDTO(v))
}

// =============================================================================
// RAW GOLD
// =============================================================================

func (h *Handler) RecordReceipt(w http.ResponseWriter, r *http.Request) {
	var req ReceiptRequest
	if !decode(w, r, &req) {
		return
	}
	bal, tr, err := h.svc.Gold.RecordReceipt(r.Context(), gold.ReceiptRequest{
		SupplierID:      gold.SupplierID(req.SupplierID),
		BranchID:        gold.BranchID(req.BranchID),
		KaratTypeID:     gold.KaratTypeID(req.KaratTypeID),
		Weight:          req.Weight,
		CostPerGram:     req.CostPerGram,
		ReferenceNumber: req.ReferenceNumber,
		Actor:           req.Actor,
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to record receipt", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"balance":  toSupplierBalanceDTO(bal),
		"transfer": toTransferDTO(tr),
	})
}

func (h *Handler) RecordRawGoldPayment(w http.ResponseWriter, r *http.Request) {
	var req RawGoldPaymentRequest
	if !decode(w, r, &req) {
		return
	}
	bal, tr, err := h.svc.Gold.RecordPaymentForRawGold(r.Context(), gold.RawGoldPaymentRequest{
		SupplierID:      gold.SupplierID(req.SupplierID),
		BranchID:        gold.BranchID(req.BranchID),
		KaratTypeID:     gold.KaratTypeID(req.KaratTypeID),
		WeightPaidFor:   req.WeightPaidFor,
		ReferenceNumber: req.ReferenceNumber,
		Actor:           req.Actor,
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to record raw gold payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"balance":  toSupplierBalanceDTO(bal),
		"transfer": toTransferDTO(tr),
	})
}

func (h *Handler) CreditMerchant(w http.ResponseWriter, r *http.Request) {
	var req CreditRequest
	if !decode(w, r, &req) {
		return
	}
	bal, tr, err := h.svc.Gold.Credit(r.Context(), gold.CreditRequest{
		BranchID:           gold.BranchID(req.BranchID),
		KaratTypeID:        gold.KaratTypeID(req.KaratTypeID),
		Weight:             req.Weight,
		CostPerGram:        req.CostPerGram,
		CustomerPurchaseID: req.CustomerPurchaseID,
		ReferenceNumber:    req.ReferenceNumber,
		Actor:              req.Actor,
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to credit merchant gold", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"balance":  toMerchantBalanceDTO(bal),
		"transfer": toTransferDTO(tr),
	})
}

func (h *Handler) ConvertGold(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if !decode(w, r, &req) {
		return
	}
	tr, err := h.svc.Gold.Convert(r.Context(), gold.ConvertRequest{
		BranchID:        gold.BranchID(req.BranchID),
		SupplierID:      gold.SupplierID(req.SupplierID),
		FromKarat:       gold.KaratTypeID(req.FromKarat),
		ToKarat:         gold.KaratTypeID(req.ToKarat),
		FromWeight:      req.FromWeight,
		AsOf:            timeOrZero(req.AsOf),
		ReferenceNumber: req.ReferenceNumber,
		Actor:           req.Actor,
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to convert gold", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransferDTO(tr))
}

func (h *Handler) WaiveToSupplier(w http.ResponseWriter, r *http.Request) {
	var req WaiveRequest
	if !decode(w, r, &req) {
		return
	}
	tr, err := h.svc.Gold.WaiveToSupplier(r.Context(), gold.WaiveRequest{
		BranchID:           gold.BranchID(req.BranchID),
		ToSupplierID:       gold.SupplierID(req.ToSupplierID),
		FromKarat:          gold.KaratTypeID(req.FromKarat),
		ToKarat:            gold.KaratTypeID(req.ToKarat),
		FromWeight:         req.FromWeight,
		CustomerPurchaseID: req.CustomerPurchaseID,
		AsOf:               timeOrZero(req.AsOf),
		ReferenceNumber:    req.ReferenceNumber,
		Actor:              req.Actor,
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to waive gold", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransferDTO(tr))
}

func (h *Handler) SupplierBalances(w http.ResponseWriter, r *http.Request) {
	bals, err := h.svc.Gold.SupplierBalances(r.Context(),
		gold.SupplierID(chi.URLParam(r, "supplierID")),
		gold.BranchID(r.URL.Query().Get("branch_id")))
	if err != nil {
		h.writeDomainError(w, r, "Failed to get supplier balances", err)
		return
	}
	out := make([]SupplierBalanceDTO, 0, len(bals))
	for _, b := range bals {
		out = append(out, toSupplierBalanceDTO(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"balances": out})
}

func (h *Handler) MerchantBalances(w http.ResponseWriter, r *http.Request) {
	bals, err := h.svc.Gold.MerchantBalances(r.Context(), gold.BranchID(chi.URLParam(r, "branchID")))
	if err != nil {
		h.writeDomainError(w, r, "Failed to get merchant balances", err)
		return
	}
	out := make([]MerchantBalanceDTO, 0, len(bals))
	for _, b := range bals {
		out = append(out, toMerchantBalanceDTO(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"balances": out})
}

func (h *Handler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := gold.TransferFilter{
		BranchID:   gold.BranchID(q.Get("branch_id")),
		SupplierID: gold.SupplierID(q.Get("supplier_id")),
		Type:       gold.TransferType(q.Get("type")),
		Limit:      100,
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		filter.Limit = n
	}
	for key, dst := range map[string]*time.Time{"from": &filter.From, "to": &filter.To} {
		if s := q.Get(key); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid "+key+" (use RFC3339)", err)
				return
			}
			*dst = t.UTC()
		}
	}

	trs, err := h.svc.Gold.Transfers(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, "Failed to list transfers", err)
		return
	}
	out := make([]TransferDTO, 0, len(trs))
	for _, t := range trs {
		out = append(out, toTransferDTO(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"transfers": out})
}

// =============================================================================
// CONSOLIDATION
// =============================================================================

func (h *Handler) ConsolidationOpportunities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ops, err := h.svc.Consolidation.FindOpportunities(r.Context(),
		gold.ProductID(q.Get("product_id")),
		gold.SupplierID(q.Get("supplier_id")))
	if err != nil {
		h.writeDomainError(w, r, "Failed to find opportunities", err)
		return
	}
	out := make([]OpportunityDTO, 0, len(ops))
	for _, op := range ops {
		ids := make([]string, 0, len(op.OwnershipIDs))
		for _, id := range op.OwnershipIDs {
			ids = append(ids, string(id))
		}
		out = append(out, OpportunityDTO{
			ProductID:     string(op.ProductID),
			SupplierID:    string(op.SupplierID),
			BranchID:      string(op.BranchID),
			OwnershipIDs:  ids,
			TotalQuantity: op.TotalQuantity,
			TotalWeight:   op.TotalWeight,
			TotalCost:     op.TotalCost,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"opportunities": out})
}

func (h *Handler) Consolidate(w http.ResponseWriter, r *http.Request) {
	var req ConsolidateRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.Consolidation.Consolidate(r.Context(), gold.ConsolidateRequest{
		ProductID:  gold.ProductID(req.ProductID),
		SupplierID: gold.SupplierID(req.SupplierID),
		BranchID:   gold.BranchID(req.BranchID),
		Actor:      req.Actor,
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to consolidate", err)
		return
	}
	ids := make([]string, 0, len(res.SourceIDs))
	for _, id := range res.SourceIDs {
		ids = append(ids, string(id))
	}
	writeJSON(w, http.StatusCreated, ConsolidationDTO{
		Merged:    toOwnershipDTO(res.Merged),
		SourceIDs: ids,
		Movement:  toMovementDTO(res.Movement),
		Cost:      toValuationDTO(res.Cost),
	})
}

// =============================================================================
// ALERTS
// =============================================================================

func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	n := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		n = v
	}
	alerts, err := h.svc.Alerts.Recent(r.Context(), n)
	if err != nil {
		h.writeDomainError(w, r, "Failed to list alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": toAlertDTOs(alerts)})
}

// ScanAlerts evaluates rows now. With publish=true the result is also pushed
// to the alert feed.
func (h *Handler) ScanAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := gold.OwnershipFilter{
		ProductID:  gold.ProductID(q.Get("product_id")),
		BranchID:   gold.BranchID(q.Get("branch_id")),
		SupplierID: gold.SupplierID(q.Get("supplier_id")),
	}
	var (
		alerts []gold.Alert
		err    error
	)
	if q.Get("publish") == "true" {
		alerts, err = h.svc.Alerts.Publish(r.Context(), filter)
	} else {
		alerts, err = h.svc.Alerts.Scan(r.Context(), filter)
	}
	if err != nil {
		h.writeDomainError(w, r, "Failed to scan alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": toAlertDTOs(alerts)})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// queryDecimal parses a required decimal query parameter, writing a 400 when
// it is missing or malformed.
func queryDecimal(w http.ResponseWriter, r *http.Request, key string) (decimal.Decimal, bool) {
	s := r.URL.Query().Get(key)
	if s == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "Validation failed",
			Fields: map[string]string{key: "required"},
		})
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+key, err)
		return decimal.Zero, false
	}
	return d, true
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}
