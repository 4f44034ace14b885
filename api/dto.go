/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the gold domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request shape (required ids, enums, lengths) is checked with
  go-playground/validator struct tags before the domain is called. Amount
  rules (positive weight, no overpayment, ...) stay in the gold package.

DECIMALS:
  Amounts are shopspring decimals. They encode as JSON strings ("8.696") and
  decode from strings or numbers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/gold-engine/gold"
)

// =============================================================================
// OWNERSHIP
// =============================================================================

type CreateOwnershipRequest struct {
	ProductID           string           `json:"product_id" validate:"required,max=64"`
	BranchID            string           `json:"branch_id" validate:"required,max=64"`
	SupplierID          string           `json:"supplier_id" validate:"max=64"`
	PurchaseOrderID     string           `json:"purchase_order_id" validate:"max=64"`
	CustomerPurchaseID  string           `json:"customer_purchase_id" validate:"max=64"`
	TotalQuantity       decimal.Decimal  `json:"total_quantity"`
	TotalWeight         decimal.Decimal  `json:"total_weight"`
	TotalCost           decimal.Decimal  `json:"total_cost"`
	AmountPaid          decimal.Decimal  `json:"amount_paid"`
	OwnershipPercentage *decimal.Decimal `json:"ownership_percentage,omitempty"`
	ReferenceNumber     string           `json:"reference_number" validate:"max=128"`
	Actor               string           `json:"actor" validate:"max=64"`
}

type SaleRequest struct {
	ProductID       string          `json:"product_id" validate:"required,max=64"`
	BranchID        string          `json:"branch_id" validate:"required,max=64"`
	Quantity        decimal.Decimal `json:"quantity"`
	ReferenceNumber string          `json:"reference_number" validate:"required,max=128"`
	Actor           string          `json:"actor" validate:"max=64"`
}

type PaymentRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	ReferenceNumber string          `json:"reference_number" validate:"required,max=128"`
	Actor           string          `json:"actor" validate:"max=64"`
}

type AdjustmentRequest struct {
	OwnedQuantityDelta decimal.Decimal `json:"owned_quantity_delta"`
	OwnedWeightDelta   decimal.Decimal `json:"owned_weight_delta"`
	Reason             string          `json:"reason" validate:"required,max=256"`
	ReferenceNumber    string          `json:"reference_number" validate:"max=128"`
	Actor              string          `json:"actor" validate:"max=64"`
}

// OwnershipDTO represents an ownership row in API responses.
type OwnershipDTO struct {
	ID                  string          `json:"id"`
	ProductID           string          `json:"product_id"`
	BranchID            string          `json:"branch_id"`
	SupplierID          string          `json:"supplier_id,omitempty"`
	PurchaseOrderID     string          `json:"purchase_order_id,omitempty"`
	CustomerPurchaseID  string          `json:"customer_purchase_id,omitempty"`
	TotalQuantity       decimal.Decimal `json:"total_quantity"`
	TotalWeight         decimal.Decimal `json:"total_weight"`
	OwnedQuantity       decimal.Decimal `json:"owned_quantity"`
	OwnedWeight         decimal.Decimal `json:"owned_weight"`
	TotalCost           decimal.Decimal `json:"total_cost"`
	AmountPaid          decimal.Decimal `json:"amount_paid"`
	OutstandingAmount   decimal.Decimal `json:"outstanding_amount"`
	UnitCostPerGram     decimal.Decimal `json:"unit_cost_per_gram"`
	OwnershipPercentage decimal.Decimal `json:"ownership_percentage"`
	IsActive            bool            `json:"is_active"`
	ConsolidatedInto    string          `json:"consolidated_into,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	Version             int64           `json:"version"`
}

func toOwnershipDTO(o gold.ProductOwnership) OwnershipDTO {
	return OwnershipDTO{
		ID:                  string(o.ID),
		ProductID:           string(o.ProductID),
		BranchID:            string(o.BranchID),
		SupplierID:          string(o.SupplierID),
		PurchaseOrderID:     o.PurchaseOrderID,
		CustomerPurchaseID:  o.CustomerPurchaseID,
		TotalQuantity:       o.TotalQuantity,
		TotalWeight:         o.TotalWeight,
		OwnedQuantity:       o.OwnedQuantity,
		OwnedWeight:         o.OwnedWeight,
		TotalCost:           o.TotalCost,
		AmountPaid:          o.AmountPaid,
		OutstandingAmount:   o.OutstandingAmount(),
		UnitCostPerGram:     o.UnitCostPerGram,
		OwnershipPercentage: o.OwnershipPercentage(),
		IsActive:            o.IsActive,
		ConsolidatedInto:    string(o.ConsolidatedInto),
		CreatedAt:           o.CreatedAt,
		UpdatedAt:           o.UpdatedAt,
		Version:             o.Version,
	}
}

func toOwnershipDTOs(rows []gold.ProductOwnership) []OwnershipDTO {
	out := make([]OwnershipDTO, 0, len(rows))
	for _, r := range rows {
		out = append(out, toOwnershipDTO(r))
	}
	return out
}

type MovementDTO struct {
	ID                       string          `json:"id"`
	OwnershipID              string          `json:"ownership_id"`
	Type                     string          `json:"type"`
	QuantityChange           decimal.Decimal `json:"quantity_change"`
	WeightChange             decimal.Decimal `json:"weight_change"`
	AmountChange             decimal.Decimal `json:"amount_change"`
	OwnedQuantityAfter       decimal.Decimal `json:"owned_quantity_after"`
	OwnedWeightAfter         decimal.Decimal `json:"owned_weight_after"`
	TotalQuantityAfter       decimal.Decimal `json:"total_quantity_after"`
	TotalWeightAfter         decimal.Decimal `json:"total_weight_after"`
	AmountPaidAfter          decimal.Decimal `json:"amount_paid_after"`
	OwnershipPercentageAfter decimal.Decimal `json:"ownership_percentage_after"`
	ReferenceNumber          string          `json:"reference_number,omitempty"`
	SourceOwnershipIDs       []string        `json:"source_ownership_ids,omitempty"`
	Notes                    string          `json:"notes,omitempty"`
	Actor                    string          `json:"actor,omitempty"`
	CreatedAt                time.Time       `json:"created_at"`
}

func toMovementDTO(m gold.OwnershipMovement) MovementDTO {
	var sources []string
	for _, id := range m.SourceOwnershipIDs {
		sources = append(sources, string(id))
	}
	return MovementDTO{
		ID:                       string(m.ID),
		OwnershipID:              string(m.OwnershipID),
		Type:                     string(m.Type),
		QuantityChange:           m.QuantityChange,
		WeightChange:             m.WeightChange,
		AmountChange:             m.AmountChange,
		OwnedQuantityAfter:       m.OwnedQuantityAfter,
		OwnedWeightAfter:         m.OwnedWeightAfter,
		TotalQuantityAfter:       m.TotalQuantityAfter,
		TotalWeightAfter:         m.TotalWeightAfter,
		AmountPaidAfter:          m.AmountPaidAfter,
		OwnershipPercentageAfter: m.OwnershipPercentageAfter,
		ReferenceNumber:          m.ReferenceNumber,
		SourceOwnershipIDs:       sources,
		Notes:                    m.Notes,
		Actor:                    m.Actor,
		CreatedAt:                m.CreatedAt,
	}
}

func toMovementDTOs(ms []gold.OwnershipMovement) []MovementDTO {
	out := make([]MovementDTO, 0, len(ms))
	for _, m := range ms {
		out = append(out, toMovementDTO(m))
	}
	return out
}

type SaleValidationDTO struct {
	ProductID           string           `json:"product_id"`
	BranchID            string           `json:"branch_id"`
	RequestedQuantity   decimal.Decimal  `json:"requested_quantity"`
	OwnedQuantity       decimal.Decimal  `json:"owned_quantity"`
	TotalQuantity       decimal.Decimal  `json:"total_quantity"`
	OwnershipPercentage decimal.Decimal  `json:"ownership_percentage"`
	StockOnHand         *decimal.Decimal `json:"stock_on_hand,omitempty"`
	CanSell             bool             `json:"can_sell"`
	Warnings            []string         `json:"warnings"`
}

type SaleConsumptionDTO struct {
	ProductID string          `json:"product_id"`
	BranchID  string          `json:"branch_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	Weight    decimal.Decimal `json:"weight"`
	Movements []MovementDTO   `json:"movements"`
}

// =============================================================================
// COSTING
// =============================================================================

type LotRequest struct {
	ProductID       string          `json:"product_id" validate:"required,max=64"`
	BranchID        string          `json:"branch_id" validate:"required,max=64"`
	SupplierID      string          `json:"supplier_id" validate:"max=64"`
	SourceRef       string          `json:"source_ref" validate:"required,max=128"`
	Quantity        decimal.Decimal `json:"quantity"`
	Weight          decimal.Decimal `json:"weight"`
	UnitCostPerGram decimal.Decimal `json:"unit_cost_per_gram"`
	PurchaseDate    *time.Time      `json:"purchase_date,omitempty"`
}

type IssueRequest struct {
	ProductID string          `json:"product_id" validate:"required,max=64"`
	BranchID  string          `json:"branch_id" validate:"required,max=64"`
	Quantity  decimal.Decimal `json:"quantity"`
	Method    string          `json:"method" validate:"required,oneof=fifo lifo"`
}

type LotDTO struct {
	ID                string          `json:"id"`
	ProductID         string          `json:"product_id"`
	BranchID          string          `json:"branch_id"`
	SupplierID        string          `json:"supplier_id,omitempty"`
	SourceRef         string          `json:"source_ref"`
	Quantity          decimal.Decimal `json:"quantity"`
	Weight            decimal.Decimal `json:"weight"`
	UnitCostPerGram   decimal.Decimal `json:"unit_cost_per_gram"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
	RemainingWeight   decimal.Decimal `json:"remaining_weight"`
	PurchaseDate      time.Time       `json:"purchase_date"`
	SequenceOrder     int64           `json:"sequence_order"`
	Exhausted         bool            `json:"exhausted"`
}

func toLotDTO(l gold.CostLot) LotDTO {
	return LotDTO{
		ID:                string(l.ID),
		ProductID:         string(l.ProductID),
		BranchID:          string(l.BranchID),
		SupplierID:        string(l.SupplierID),
		SourceRef:         l.SourceRef,
		Quantity:          l.Quantity,
		Weight:            l.Weight,
		UnitCostPerGram:   l.UnitCostPerGram,
		RemainingQuantity: l.RemainingQuantity,
		RemainingWeight:   l.RemainingWeight,
		PurchaseDate:      l.PurchaseDate,
		SequenceOrder:     l.SequenceOrder,
		Exhausted:         l.Exhausted,
	}
}

type SourceDTO struct {
	LotID                  string          `json:"lot_id,omitempty"`
	SourceRef              string          `json:"source_ref"`
	Quantity               decimal.Decimal `json:"quantity"`
	Weight                 decimal.Decimal `json:"weight"`
	UnitCostPerGram        decimal.Decimal `json:"unit_cost_per_gram"`
	Cost                   decimal.Decimal `json:"cost"`
	ContributionPercentage decimal.Decimal `json:"contribution_percentage"`
}

type ValuationDTO struct {
	ProductID   string          `json:"product_id"`
	BranchID    string          `json:"branch_id,omitempty"`
	Method      string          `json:"method"`
	Quantity    decimal.Decimal `json:"quantity"`
	TotalWeight decimal.Decimal `json:"total_weight"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	CostPerGram decimal.Decimal `json:"cost_per_gram"`
	Sources     []SourceDTO     `json:"sources"`
}

func toValuationDTO(v gold.Valuation) ValuationDTO {
	sources := make([]SourceDTO, 0, len(v.Sources))
	for _, s := range v.Sources {
		sources = append(sources, SourceDTO{
			LotID:                  string(s.LotID),
			SourceRef:              s.SourceRef,
			Quantity:               s.Quantity,
			Weight:                 s.Weight,
			UnitCostPerGram:        s.UnitCostPerGram,
			Cost:                   s.Cost,
			ContributionPercentage: s.ContributionPercentage,
		})
	}
	return ValuationDTO{
		ProductID:   string(v.ProductID),
		BranchID:    string(v.BranchID),
		Method:      v.Method,
		Quantity:    v.Quantity,
		TotalWeight: v.TotalWeight,
		TotalCost:   v.TotalCost,
		CostPerGram: v.CostPerGram,
		Sources:     sources,
	}
}

// =============================================================================
// GOLD BALANCES
// =============================================================================

type ReceiptRequest struct {
	SupplierID      string          `json:"supplier_id" validate:"required,max=64"`
	BranchID        string          `json:"branch_id" validate:"required,max=64"`
	KaratTypeID     string          `json:"karat_type_id" validate:"required,max=16"`
	Weight          decimal.Decimal `json:"weight"`
	CostPerGram     decimal.Decimal `json:"cost_per_gram"`
	ReferenceNumber string          `json:"reference_number" validate:"max=128"`
	Actor           string          `json:"actor" validate:"max=64"`
}

type RawGoldPaymentRequest struct {
	SupplierID      string          `json:"supplier_id" validate:"required,max=64"`
	BranchID        string          `json:"branch_id" validate:"required,max=64"`
	KaratTypeID     string          `json:"karat_type_id" validate:"required,max=16"`
	WeightPaidFor   decimal.Decimal `json:"weight_paid_for"`
	ReferenceNumber string          `json:"reference_number" validate:"max=128"`
	Actor           string          `json:"actor" validate:"max=64"`
}

type CreditRequest struct {
	BranchID           string          `json:"branch_id" validate:"required,max=64"`
	KaratTypeID        string          `json:"karat_type_id" validate:"required,max=16"`
	Weight             decimal.Decimal `json:"weight"`
	CostPerGram        decimal.Decimal `json:"cost_per_gram"`
	CustomerPurchaseID string          `json:"customer_purchase_id" validate:"max=64"`
	ReferenceNumber    string          `json:"reference_number" validate:"max=128"`
	Actor              string          `json:"actor" validate:"max=64"`
}

type ConvertRequest struct {
	BranchID        string          `json:"branch_id" validate:"required,max=64"`
	SupplierID      string          `json:"supplier_id" validate:"max=64"`
	FromKarat       string          `json:"from_karat" validate:"required,max=16"`
	ToKarat         string          `json:"to_karat" validate:"required,max=16,nefield=FromKarat"`
	FromWeight      decimal.Decimal `json:"from_weight"`
	AsOf            *time.Time      `json:"as_of,omitempty"`
	ReferenceNumber string          `json:"reference_number" validate:"max=128"`
	Actor           string          `json:"actor" validate:"max=64"`
}

type WaiveRequest struct {
	BranchID           string          `json:"branch_id" validate:"required,max=64"`
	ToSupplierID       string          `json:"to_supplier_id" validate:"required,max=64"`
	FromKarat          string          `json:"from_karat" validate:"required,max=16"`
	ToKarat            string          `json:"to_karat" validate:"required,max=16"`
	FromWeight         decimal.Decimal `json:"from_weight"`
	CustomerPurchaseID string          `json:"customer_purchase_id" validate:"max=64"`
	AsOf               *time.Time      `json:"as_of,omitempty"`
	ReferenceNumber    string          `json:"reference_number" validate:"max=128"`
	Actor              string          `json:"actor" validate:"max=64"`
}

type SupplierBalanceDTO struct {
	SupplierID               string          `json:"supplier_id"`
	BranchID                 string          `json:"branch_id"`
	KaratTypeID              string          `json:"karat_type_id"`
	TotalWeightReceived      decimal.Decimal `json:"total_weight_received"`
	TotalWeightPaidFor       decimal.Decimal `json:"total_weight_paid_for"`
	OutstandingWeightDebt    decimal.Decimal `json:"outstanding_weight_debt"`
	AverageCostPerGram       decimal.Decimal `json:"average_cost_per_gram"`
	OutstandingMonetaryValue decimal.Decimal `json:"outstanding_monetary_value"`
	UpdatedAt                time.Time       `json:"updated_at"`
}

func toSupplierBalanceDTO(b gold.SupplierGoldBalance) SupplierBalanceDTO {
	return SupplierBalanceDTO{
		SupplierID:               string(b.SupplierID),
		BranchID:                 string(b.BranchID),
		KaratTypeID:              string(b.KaratTypeID),
		TotalWeightReceived:      b.TotalWeightReceived,
		TotalWeightPaidFor:       b.TotalWeightPaidFor,
		OutstandingWeightDebt:    b.OutstandingWeightDebt(),
		AverageCostPerGram:       b.AverageCostPerGram,
		OutstandingMonetaryValue: b.OutstandingMonetaryValue(),
		UpdatedAt:                b.UpdatedAt,
	}
}

type MerchantBalanceDTO struct {
	BranchID           string          `json:"branch_id"`
	KaratTypeID        string          `json:"karat_type_id"`
	AvailableWeight    decimal.Decimal `json:"available_weight"`
	AverageCostPerGram decimal.Decimal `json:"average_cost_per_gram"`
	TotalValue         decimal.Decimal `json:"total_value"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func toMerchantBalanceDTO(b gold.MerchantRawGoldBalance) MerchantBalanceDTO {
	return MerchantBalanceDTO{
		BranchID:           string(b.BranchID),
		KaratTypeID:        string(b.KaratTypeID),
		AvailableWeight:    b.AvailableWeight,
		AverageCostPerGram: b.AverageCostPerGram,
		TotalValue:         b.TotalValue(),
		UpdatedAt:          b.UpdatedAt,
	}
}

type TransferDTO struct {
	ID                 string          `json:"id"`
	Type               string          `json:"type"`
	BranchID           string          `json:"branch_id"`
	SupplierID         string          `json:"supplier_id,omitempty"`
	CustomerPurchaseID string          `json:"customer_purchase_id,omitempty"`
	FromKarat          string          `json:"from_karat"`
	ToKarat            string          `json:"to_karat"`
	FromWeight         decimal.Decimal `json:"from_weight"`
	ToWeight           decimal.Decimal `json:"to_weight"`
	FromRate           decimal.Decimal `json:"from_rate"`
	ToRate             decimal.Decimal `json:"to_rate"`
	ConversionFactor   decimal.Decimal `json:"conversion_factor"`
	TransferValue      decimal.Decimal `json:"transfer_value"`
	ReferenceNumber    string          `json:"reference_number,omitempty"`
	Actor              string          `json:"actor,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

func toTransferDTO(t gold.RawGoldTransfer) TransferDTO {
	return TransferDTO{
		ID:                 string(t.ID),
		Type:               string(t.Type),
		BranchID:           string(t.BranchID),
		SupplierID:         string(t.SupplierID),
		CustomerPurchaseID: t.CustomerPurchaseID,
		FromKarat:          string(t.FromKarat),
		ToKarat:            string(t.ToKarat),
		FromWeight:         t.FromWeight,
		ToWeight:           t.ToWeight,
		FromRate:           t.FromRate,
		ToRate:             t.ToRate,
		ConversionFactor:   t.ConversionFactor,
		TransferValue:      t.TransferValue,
		ReferenceNumber:    t.ReferenceNumber,
		Actor:              t.Actor,
		CreatedAt:          t.CreatedAt,
	}
}

// =============================================================================
// CONSOLIDATION & ALERTS
// =============================================================================

type ConsolidateRequest struct {
	ProductID  string `json:"product_id" validate:"required,max=64"`
	SupplierID string `json:"supplier_id" validate:"required,max=64"`
	BranchID   string `json:"branch_id" validate:"required,max=64"`
	Actor      string `json:"actor" validate:"max=64"`
}

type OpportunityDTO struct {
	ProductID     string          `json:"product_id"`
	SupplierID    string          `json:"supplier_id"`
	BranchID      string          `json:"branch_id"`
	OwnershipIDs  []string        `json:"ownership_ids"`
	TotalQuantity decimal.Decimal `json:"total_quantity"`
	TotalWeight   decimal.Decimal `json:"total_weight"`
	TotalCost     decimal.Decimal `json:"total_cost"`
}

type ConsolidationDTO struct {
	Merged    OwnershipDTO `json:"merged"`
	SourceIDs []string     `json:"source_ids"`
	Movement  MovementDTO  `json:"movement"`
	Cost      ValuationDTO `json:"cost"`
}

type AlertDTO struct {
	ID                  string          `json:"id"`
	Type                string          `json:"type"`
	Severity            string          `json:"severity"`
	OwnershipID         string          `json:"ownership_id"`
	ProductID           string          `json:"product_id"`
	BranchID            string          `json:"branch_id"`
	SupplierID          string          `json:"supplier_id,omitempty"`
	OwnershipPercentage decimal.Decimal `json:"ownership_percentage"`
	OutstandingAmount   decimal.Decimal `json:"outstanding_amount"`
	Message             string          `json:"message"`
	CreatedAt           time.Time       `json:"created_at"`
}

func toAlertDTOs(alerts []gold.Alert) []AlertDTO {
	out := make([]AlertDTO, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, AlertDTO{
			ID:                  a.ID,
			Type:                string(a.Type),
			Severity:            string(a.Severity),
			OwnershipID:         string(a.OwnershipID),
			ProductID:           string(a.ProductID),
			BranchID:            string(a.BranchID),
			SupplierID:          string(a.SupplierID),
			OwnershipPercentage: a.OwnershipPercentage,
			OutstandingAmount:   a.OutstandingAmount,
			Message:             a.Message,
			CreatedAt:           a.CreatedAt,
		})
	}
	return out
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string            `json:"error"`
	Details   string            `json:"details,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Retryable bool              `json:"retryable,omitempty"`
}
