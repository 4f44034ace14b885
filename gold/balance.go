/*
balance.go - Gold weight balances and karat conversions

PURPOSE:
  Two kinds of gold buckets are tracked per branch and karat:

  SupplierGoldBalance:    gold received from a supplier on credit. The
                          outstanding weight debt is received - paidFor.
  MerchantRawGoldBalance: raw gold the merchant owns outright (bought from
                          customers, refined scrap, ...).

OPERATIONS:
  RecordReceipt           supplier gold received           (transfer: receipt)
  RecordPaymentForRawGold supplier gold weight paid for    (transfer: payment)
  Credit                  merchant raw gold intake         (transfer: credit)
  Convert                 karat conversion inside one owner (transfer: convert)
  WaiveToSupplier         merchant gold offsets supplier debt (transfer: waive)

  Every operation writes exactly one RawGoldTransfer in the same transaction
  as the balance change.

CONVERSION MATH:
  Value is preserved at the current karat rates:
    toWeight         = fromWeight × fromRate / toRate     (3 dp)
    conversionFactor = toWeight / fromWeight              (6 dp)
    transferValue    = fromWeight × fromRate              (2 dp)

  EXAMPLE: 10 g of 21k at 100/g into 24k at 115/g
    toWeight = 10 × 100 / 115 = 8.696 g, value 1000 on both sides.

  Book cost moves with the gold: the destination bucket's average cost is
  re-weighted with fromWeight × source average cost.

RATES:
  Rates come from the KaratRateProvider as of the request time and are read
  before any lock is taken.
*/
package gold

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type GoldBalanceLedger struct {
	exec  *Executor
	store TxStore
	rates KaratRateProvider
	now   Clock
	log   *zap.Logger
}

func NewGoldBalanceLedger(exec *Executor, rates KaratRateProvider, now Clock, log *zap.Logger) *GoldBalanceLedger {
	if now == nil {
		now = SystemClock
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &GoldBalanceLedger{exec: exec, store: exec.Store, rates: rates, now: now, log: log}
}

// =============================================================================
// CONVERSION MATH
// =============================================================================

type Conversion struct {
	FromWeight decimal.Decimal
	ToWeight   decimal.Decimal
	FromRate   decimal.Decimal
	ToRate     decimal.Decimal
	Factor     decimal.Decimal
	Value      decimal.Decimal
}

// ConvertWeight applies the value-preserving conversion.
func ConvertWeight(fromWeight, fromRate, toRate decimal.Decimal) (Conversion, error) {
	var v validationErrors
	v.positive("fromWeight", fromWeight)
	v.positive("fromRate", fromRate)
	v.positive("toRate", toRate)
	if err := v.err(); err != nil {
		return Conversion{}, err
	}
	toWeight := RoundWeight(fromWeight.Mul(fromRate).Div(toRate))
	return Conversion{
		FromWeight: fromWeight,
		ToWeight:   toWeight,
		FromRate:   fromRate,
		ToRate:     toRate,
		Factor:     toWeight.Div(fromWeight).RoundBank(FactorPlaces),
		Value:      RoundMoney(fromWeight.Mul(fromRate)),
	}, nil
}

// blendAverage re-weights an average cost per gram with an incoming value.
func blendAverage(weight, avg, addWeight, addValue decimal.Decimal) decimal.Decimal {
	total := weight.Add(addWeight)
	if !total.IsPositive() {
		return decimal.Zero
	}
	return weight.Mul(avg).Add(addValue).Div(total).RoundBank(RatePlaces)
}

func (l *GoldBalanceLedger) rateAt(ctx context.Context, karat KaratTypeID, asOf time.Time) (decimal.Decimal, error) {
	if l.rates == nil {
		return decimal.Zero, &ValidationError{Field: "rates", Message: "no karat rate provider configured"}
	}
	return l.rates.GetCurrentRate(ctx, karat, asOf)
}

func (l *GoldBalanceLedger) conversion(ctx context.Context, from, to KaratTypeID, fromWeight decimal.Decimal, asOf time.Time) (Conversion, error) {
	if asOf.IsZero() {
		asOf = l.now()
	}
	fromRate, err := l.rateAt(ctx, from, asOf)
	if err != nil {
		return Conversion{}, err
	}
	toRate := fromRate
	if to != from {
		if toRate, err = l.rateAt(ctx, to, asOf); err != nil {
			return Conversion{}, err
		}
	}
	return ConvertWeight(RoundWeight(fromWeight), fromRate, toRate)
}

// =============================================================================
// SUPPLIER RECEIPTS AND PAYMENTS
// =============================================================================

type ReceiptRequest struct {
	SupplierID      SupplierID
	BranchID        BranchID
	KaratTypeID     KaratTypeID
	Weight          decimal.Decimal
	CostPerGram     decimal.Decimal
	ReferenceNumber string
	Actor           string
}

func (l *GoldBalanceLedger) RecordReceipt(ctx context.Context, req ReceiptRequest) (SupplierGoldBalance, RawGoldTransfer, error) {
	var v validationErrors
	v.required("supplierId", string(req.SupplierID))
	v.required("branchId", string(req.BranchID))
	v.required("karatTypeId", string(req.KaratTypeID))
	v.positive("weight", req.Weight)
	v.nonNegative("costPerGram", req.CostPerGram)
	if err := v.err(); err != nil {
		return SupplierGoldBalance{}, RawGoldTransfer{}, err
	}
	weight := RoundWeight(req.Weight)
	key := SupplierBalanceKey{SupplierID: req.SupplierID, BranchID: req.BranchID, KaratTypeID: req.KaratTypeID}

	var (
		bal SupplierGoldBalance
		tr  RawGoldTransfer
	)
	err := l.exec.Mutate(ctx, []string{supplierGoldKey(key)}, func(s Store) error {
		var err error
		if bal, err = s.GetSupplierBalance(ctx, key); err != nil {
			return err
		}
		now := l.now()
		bal.AverageCostPerGram = blendAverage(bal.TotalWeightReceived, bal.AverageCostPerGram, weight, weight.Mul(req.CostPerGram))
		bal.TotalWeightReceived = bal.TotalWeightReceived.Add(weight)
		bal.UpdatedAt = now
		if err := s.SaveSupplierBalance(ctx, &bal); err != nil {
			return err
		}
		tr = sameKaratTransfer(TransferReceipt, req.BranchID, req.SupplierID, req.KaratTypeID, weight, req.CostPerGram, req.ReferenceNumber, req.Actor, now)
		return s.AppendTransfer(ctx, tr)
	})
	if err != nil {
		return SupplierGoldBalance{}, RawGoldTransfer{}, err
	}
	l.log.Info("supplier gold received",
		zap.String("supplier", string(key.SupplierID)),
		zap.String("karat", string(key.KaratTypeID)),
		zap.String("weight", weight.String()),
		zap.String("debt", bal.OutstandingWeightDebt().String()))
	return bal, tr, nil
}

type RawGoldPaymentRequest struct {
	SupplierID      SupplierID
	BranchID        BranchID
	KaratTypeID     KaratTypeID
	WeightPaidFor   decimal.Decimal
	ReferenceNumber string
	Actor           string
}

func (l *GoldBalanceLedger) RecordPaymentForRawGold(ctx context.Context, req RawGoldPaymentRequest) (SupplierGoldBalance, RawGoldTransfer, error) {
	var v validationErrors
	v.required("supplierId", string(req.SupplierID))
	v.required("branchId", string(req.BranchID))
	v.required("karatTypeId", string(req.KaratTypeID))
	v.positive("weightPaidFor", req.WeightPaidFor)
	if err := v.err(); err != nil {
		return SupplierGoldBalance{}, RawGoldTransfer{}, err
	}
	weight := RoundWeight(req.WeightPaidFor)
	key := SupplierBalanceKey{SupplierID: req.SupplierID, BranchID: req.BranchID, KaratTypeID: req.KaratTypeID}

	var (
		bal SupplierGoldBalance
		tr  RawGoldTransfer
	)
	err := l.exec.Mutate(ctx, []string{supplierGoldKey(key)}, func(s Store) error {
		var err error
		if bal, err = s.GetSupplierBalance(ctx, key); err != nil {
			return err
		}
		paid := bal.TotalWeightPaidFor.Add(weight)
		if paid.GreaterThan(bal.TotalWeightReceived) {
			return &ExceedsReceivedWeightError{Key: key, Received: bal.TotalWeightReceived, PaidFor: bal.TotalWeightPaidFor, Attempted: weight}
		}
		now := l.now()
		bal.TotalWeightPaidFor = paid
		bal.UpdatedAt = now
		if err := s.SaveSupplierBalance(ctx, &bal); err != nil {
			return err
		}
		tr = sameKaratTransfer(TransferPayment, req.BranchID, req.SupplierID, req.KaratTypeID, weight, bal.AverageCostPerGram, req.ReferenceNumber, req.Actor, now)
		return s.AppendTransfer(ctx, tr)
	})
	if err != nil {
		return SupplierGoldBalance{}, RawGoldTransfer{}, err
	}
	l.log.Info("supplier gold paid for",
		zap.String("supplier", string(key.SupplierID)),
		zap.String("karat", string(key.KaratTypeID)),
		zap.String("weight", weight.String()),
		zap.String("debt", bal.OutstandingWeightDebt().String()))
	return bal, tr, nil
}

// =============================================================================
// MERCHANT CREDIT
// =============================================================================

type CreditRequest struct {
	BranchID           BranchID
	KaratTypeID        KaratTypeID
	Weight             decimal.Decimal
	CostPerGram        decimal.Decimal
	CustomerPurchaseID string
	ReferenceNumber    string
	Actor              string
}

// Credit adds raw gold to the merchant's own balance.
func (l *GoldBalanceLedger) Credit(ctx context.Context, req CreditRequest) (MerchantRawGoldBalance, RawGoldTransfer, error) {
	var v validationErrors
	v.required("branchId", string(req.BranchID))
	v.required("karatTypeId", string(req.KaratTypeID))
	v.positive("weight", req.Weight)
	v.nonNegative("costPerGram", req.CostPerGram)
	if err := v.err(); err != nil {
		return MerchantRawGoldBalance{}, RawGoldTransfer{}, err
	}
	weight := RoundWeight(req.Weight)
	key := MerchantBalanceKey{BranchID: req.BranchID, KaratTypeID: req.KaratTypeID}

	var (
		bal MerchantRawGoldBalance
		tr  RawGoldTransfer
	)
	err := l.exec.Mutate(ctx, []string{merchantGoldKey(key)}, func(s Store) error {
		var err error
		if bal, err = s.GetMerchantBalance(ctx, key); err != nil {
			return err
		}
		now := l.now()
		bal.AverageCostPerGram = blendAverage(bal.AvailableWeight, bal.AverageCostPerGram, weight, weight.Mul(req.CostPerGram))
		bal.AvailableWeight = bal.AvailableWeight.Add(weight)
		bal.UpdatedAt = now
		if err := s.SaveMerchantBalance(ctx, &bal); err != nil {
			return err
		}
		tr = sameKaratTransfer(TransferCredit, req.BranchID, "", req.KaratTypeID, weight, req.CostPerGram, req.ReferenceNumber, req.Actor, now)
		tr.CustomerPurchaseID = req.CustomerPurchaseID
		return s.AppendTransfer(ctx, tr)
	})
	if err != nil {
		return MerchantRawGoldBalance{}, RawGoldTransfer{}, err
	}
	l.log.Info("merchant raw gold credited",
		zap.String("branch", string(key.BranchID)),
		zap.String("karat", string(key.KaratTypeID)),
		zap.String("weight", weight.String()))
	return bal, tr, nil
}

func sameKaratTransfer(typ TransferType, branch BranchID, supplier SupplierID, karat KaratTypeID, weight, rate decimal.Decimal, ref, actor string, at time.Time) RawGoldTransfer {
	return RawGoldTransfer{
		ID:               TransferID(NewID("trf")),
		Type:             typ,
		BranchID:         branch,
		SupplierID:       supplier,
		FromKarat:        karat,
		ToKarat:          karat,
		FromWeight:       weight,
		ToWeight:         weight,
		FromRate:         rate,
		ToRate:           rate,
		ConversionFactor: decimal.NewFromInt(1),
		TransferValue:    RoundMoney(weight.Mul(rate)),
		ReferenceNumber:  ref,
		Actor:            actor,
		CreatedAt:        at,
	}
}

// =============================================================================
// CONVERT
// =============================================================================

type ConvertRequest struct {
	BranchID   BranchID
	SupplierID SupplierID // empty converts the merchant's own gold
	FromKarat  KaratTypeID
	ToKarat    KaratTypeID
	FromWeight decimal.Decimal
	AsOf       time.Time

	ReferenceNumber string
	Actor           string
}

// Convert moves weight between two karats of the same owner, preserving value.
// For a supplier the outstanding debt moves: the source bucket's received
// weight shrinks by fromWeight and the target bucket's grows by toWeight.
func (l *GoldBalanceLedger) Convert(ctx context.Context, req ConvertRequest) (RawGoldTransfer, error) {
	var v validationErrors
	v.required("branchId", string(req.BranchID))
	v.required("fromKarat", string(req.FromKarat))
	v.required("toKarat", string(req.ToKarat))
	v.positive("fromWeight", req.FromWeight)
	if err := v.err(); err != nil {
		return RawGoldTransfer{}, err
	}
	if req.FromKarat == req.ToKarat {
		return RawGoldTransfer{}, &DifferentKaratRequiredError{Karat: req.FromKarat}
	}

	conv, err := l.conversion(ctx, req.FromKarat, req.ToKarat, req.FromWeight, req.AsOf)
	if err != nil {
		return RawGoldTransfer{}, err
	}

	var keys []string
	if req.SupplierID == "" {
		keys = []string{
			merchantGoldKey(MerchantBalanceKey{BranchID: req.BranchID, KaratTypeID: req.FromKarat}),
			merchantGoldKey(MerchantBalanceKey{BranchID: req.BranchID, KaratTypeID: req.ToKarat}),
		}
	} else {
		keys = []string{
			supplierGoldKey(SupplierBalanceKey{SupplierID: req.SupplierID, BranchID: req.BranchID, KaratTypeID: req.FromKarat}),
			supplierGoldKey(SupplierBalanceKey{SupplierID: req.SupplierID, BranchID: req.BranchID, KaratTypeID: req.ToKarat}),
		}
	}

	var tr RawGoldTransfer
	err = l.exec.Mutate(ctx, keys, func(s Store) error {
		now := l.now()
		if req.SupplierID == "" {
			if err := l.convertMerchant(ctx, s, req, conv, now); err != nil {
				return err
			}
		} else {
			if err := l.convertSupplier(ctx, s, req, conv, now); err != nil {
				return err
			}
		}
		tr = conversionTransfer(TransferConvert, req.BranchID, req.SupplierID, req.FromKarat, req.ToKarat, conv, req.ReferenceNumber, req.Actor, now)
		return s.AppendTransfer(ctx, tr)
	})
	if err != nil {
		return RawGoldTransfer{}, err
	}
	l.log.Info("gold converted",
		zap.String("branch", string(req.BranchID)),
		zap.String("supplier", string(req.SupplierID)),
		zap.String("from", string(req.FromKarat)),
		zap.String("to", string(req.ToKarat)),
		zap.String("fromWeight", conv.FromWeight.String()),
		zap.String("toWeight", conv.ToWeight.String()))
	return tr, nil
}

func (l *GoldBalanceLedger) convertMerchant(ctx context.Context, s Store, req ConvertRequest, conv Conversion, now time.Time) error {
	from, err := s.GetMerchantBalance(ctx, MerchantBalanceKey{BranchID: req.BranchID, KaratTypeID: req.FromKarat})
	if err != nil {
		return err
	}
	if from.AvailableWeight.LessThan(conv.FromWeight) {
		return &InsufficientGoldError{Key: from.Key(), Available: from.AvailableWeight, Requested: conv.FromWeight}
	}
	to, err := s.GetMerchantBalance(ctx, MerchantBalanceKey{BranchID: req.BranchID, KaratTypeID: req.ToKarat})
	if err != nil {
		return err
	}

	bookValue := conv.FromWeight.Mul(from.AverageCostPerGram)
	from.AvailableWeight = from.AvailableWeight.Sub(conv.FromWeight)
	from.UpdatedAt = now
	to.AverageCostPerGram = blendAverage(to.AvailableWeight, to.AverageCostPerGram, conv.ToWeight, bookValue)
	to.AvailableWeight = to.AvailableWeight.Add(conv.ToWeight)
	to.UpdatedAt = now

	if err := s.SaveMerchantBalance(ctx, &from); err != nil {
		return err
	}
	return s.SaveMerchantBalance(ctx, &to)
}

func (l *GoldBalanceLedger) convertSupplier(ctx context.Context, s Store, req ConvertRequest, conv Conversion, now time.Time) error {
	fromKey := SupplierBalanceKey{SupplierID: req.SupplierID, BranchID: req.BranchID, KaratTypeID: req.FromKarat}
	from, err := s.GetSupplierBalance(ctx, fromKey)
	if err != nil {
		return err
	}
	if debt := from.OutstandingWeightDebt(); conv.FromWeight.GreaterThan(debt) {
		return &ExceedsOutstandingDebtError{Key: fromKey, Outstanding: debt, Requested: conv.FromWeight}
	}
	to, err := s.GetSupplierBalance(ctx, SupplierBalanceKey{SupplierID: req.SupplierID, BranchID: req.BranchID, KaratTypeID: req.ToKarat})
	if err != nil {
		return err
	}

	bookValue := conv.FromWeight.Mul(from.AverageCostPerGram)
	from.TotalWeightReceived = from.TotalWeightReceived.Sub(conv.FromWeight)
	from.UpdatedAt = now
	to.AverageCostPerGram = blendAverage(to.TotalWeightReceived, to.AverageCostPerGram, conv.ToWeight, bookValue)
	to.TotalWeightReceived = to.TotalWeightReceived.Add(conv.ToWeight)
	to.UpdatedAt = now

	if err := s.SaveSupplierBalance(ctx, &from); err != nil {
		return err
	}
	return s.SaveSupplierBalance(ctx, &to)
}

// =============================================================================
// WAIVE TO SUPPLIER
// =============================================================================

type WaiveRequest struct {
	BranchID           BranchID
	ToSupplierID       SupplierID
	FromKarat          KaratTypeID
	ToKarat            KaratTypeID
	FromWeight         decimal.Decimal
	CustomerPurchaseID string
	AsOf               time.Time

	ReferenceNumber string
	Actor           string
}

// WaiveToSupplier hands merchant gold to a supplier against its outstanding
// debt. The converted weight may not exceed the debt; the request is rejected
// rather than clamped.
func (l *GoldBalanceLedger) WaiveToSupplier(ctx context.Context, req WaiveRequest) (RawGoldTransfer, error) {
	var v validationErrors
	v.required("branchId", string(req.BranchID))
	v.required("toSupplierId", string(req.ToSupplierID))
	v.required("fromKarat", string(req.FromKarat))
	v.required("toKarat", string(req.ToKarat))
	v.positive("fromWeight", req.FromWeight)
	if err := v.err(); err != nil {
		return RawGoldTransfer{}, err
	}

	conv, err := l.conversion(ctx, req.FromKarat, req.ToKarat, req.FromWeight, req.AsOf)
	if err != nil {
		return RawGoldTransfer{}, err
	}

	merchantKey := MerchantBalanceKey{BranchID: req.BranchID, KaratTypeID: req.FromKarat}
	supplierKey := SupplierBalanceKey{SupplierID: req.ToSupplierID, BranchID: req.BranchID, KaratTypeID: req.ToKarat}

	var tr RawGoldTransfer
	err = l.exec.Mutate(ctx, []string{merchantGoldKey(merchantKey), supplierGoldKey(supplierKey)}, func(s Store) error {
		merchant, err := s.GetMerchantBalance(ctx, merchantKey)
		if err != nil {
			return err
		}
		if merchant.AvailableWeight.LessThan(conv.FromWeight) {
			return &InsufficientGoldError{Key: merchantKey, Available: merchant.AvailableWeight, Requested: conv.FromWeight}
		}
		supplier, err := s.GetSupplierBalance(ctx, supplierKey)
		if err != nil {
			return err
		}
		if debt := supplier.OutstandingWeightDebt(); conv.ToWeight.GreaterThan(debt) {
			return &ExceedsOutstandingDebtError{Key: supplierKey, Outstanding: debt, Requested: conv.ToWeight}
		}

		now := l.now()
		merchant.AvailableWeight = merchant.AvailableWeight.Sub(conv.FromWeight)
		merchant.UpdatedAt = now
		supplier.TotalWeightPaidFor = supplier.TotalWeightPaidFor.Add(conv.ToWeight)
		supplier.UpdatedAt = now

		if err := s.SaveMerchantBalance(ctx, &merchant); err != nil {
			return err
		}
		if err := s.SaveSupplierBalance(ctx, &supplier); err != nil {
			return err
		}
		tr = conversionTransfer(TransferWaive, req.BranchID, req.ToSupplierID, req.FromKarat, req.ToKarat, conv, req.ReferenceNumber, req.Actor, now)
		tr.CustomerPurchaseID = req.CustomerPurchaseID
		return s.AppendTransfer(ctx, tr)
	})
	if err != nil {
		return RawGoldTransfer{}, err
	}
	l.log.Info("gold waived to supplier",
		zap.String("branch", string(req.BranchID)),
		zap.String("supplier", string(req.ToSupplierID)),
		zap.String("fromWeight", conv.FromWeight.String()),
		zap.String("toWeight", conv.ToWeight.String()))
	return tr, nil
}

func conversionTransfer(typ TransferType, branch BranchID, supplier SupplierID, from, to KaratTypeID, conv Conversion, ref, actor string, at time.Time) RawGoldTransfer {
	return RawGoldTransfer{
		ID:               TransferID(NewID("trf")),
		Type:             typ,
		BranchID:         branch,
		SupplierID:       supplier,
		FromKarat:        from,
		ToKarat:          to,
		FromWeight:       conv.FromWeight,
		ToWeight:         conv.ToWeight,
		FromRate:         conv.FromRate,
		ToRate:           conv.ToRate,
		ConversionFactor: conv.Factor,
		TransferValue:    conv.Value,
		ReferenceNumber:  ref,
		Actor:            actor,
		CreatedAt:        at,
	}
}

// =============================================================================
// READS
// =============================================================================

func (l *GoldBalanceLedger) SupplierBalance(ctx context.Context, key SupplierBalanceKey) (SupplierGoldBalance, error) {
	return l.store.GetSupplierBalance(ctx, key)
}

func (l *GoldBalanceLedger) SupplierBalances(ctx context.Context, supplierID SupplierID, branchID BranchID) ([]SupplierGoldBalance, error) {
	return l.store.ListSupplierBalances(ctx, supplierID, branchID)
}

func (l *GoldBalanceLedger) MerchantBalance(ctx context.Context, key MerchantBalanceKey) (MerchantRawGoldBalance, error) {
	return l.store.GetMerchantBalance(ctx, key)
}

func (l *GoldBalanceLedger) MerchantBalances(ctx context.Context, branchID BranchID) ([]MerchantRawGoldBalance, error) {
	return l.store.ListMerchantBalances(ctx, branchID)
}

func (l *GoldBalanceLedger) Transfers(ctx context.Context, filter TransferFilter) ([]RawGoldTransfer, error) {
	return l.store.ListTransfers(ctx, filter)
}
