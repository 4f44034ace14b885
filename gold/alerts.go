package gold

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// ALERTS - Derived, never stored as truth
// =============================================================================

type AlertType string

const (
	AlertLowOwnership       AlertType = "low_ownership"
	AlertOutstandingPayment AlertType = "outstanding_payment"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type Alert struct {
	ID                  string
	Type                AlertType
	Severity            Severity
	OwnershipID         OwnershipID
	ProductID           ProductID
	BranchID            BranchID
	SupplierID          SupplierID
	OwnershipPercentage decimal.Decimal
	OutstandingAmount   decimal.Decimal
	Message             string
	CreatedAt           time.Time
}

// AlertFeed receives published alerts. Recent returns the newest n, newest first.
type AlertFeed interface {
	Publish(ctx context.Context, alerts []Alert) error
	Recent(ctx context.Context, n int) ([]Alert, error)
}

// AlertGenerator scans active ownership rows. It is read-only.
type AlertGenerator struct {
	store OwnershipStore
	feed  AlertFeed
	now   Clock
	log   *zap.Logger

	Threshold decimal.Decimal // low-ownership percentage
}

func NewAlertGenerator(store OwnershipStore, feed AlertFeed, now Clock, log *zap.Logger) *AlertGenerator {
	if now == nil {
		now = SystemClock
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AlertGenerator{store: store, feed: feed, now: now, log: log, Threshold: DefaultLowOwnershipThreshold}
}

// Scan evaluates every active row matching filter. A row that fails
// evaluation is logged and skipped.
func (g *AlertGenerator) Scan(ctx context.Context, filter OwnershipFilter) ([]Alert, error) {
	filter.ActiveOnly = true
	rows, err := g.store.ListOwnerships(ctx, filter)
	if err != nil {
		return nil, err
	}
	now := g.now()
	var alerts []Alert
	for _, r := range rows {
		found, err := g.evaluate(r, now)
		if err != nil {
			g.log.Warn("alert evaluation failed", zap.String("ownership", string(r.ID)), zap.Error(err))
			continue
		}
		alerts = append(alerts, found...)
	}
	return alerts, nil
}

// Publish scans and pushes the result to the feed.
func (g *AlertGenerator) Publish(ctx context.Context, filter OwnershipFilter) ([]Alert, error) {
	alerts, err := g.Scan(ctx, filter)
	if err != nil {
		return nil, err
	}
	if g.feed == nil || len(alerts) == 0 {
		return alerts, nil
	}
	if err := g.feed.Publish(ctx, alerts); err != nil {
		return alerts, fmt.Errorf("publish alerts: %w", err)
	}
	g.log.Info("alerts published", zap.Int("count", len(alerts)))
	return alerts, nil
}

// Recent reads the feed.
func (g *AlertGenerator) Recent(ctx context.Context, n int) ([]Alert, error) {
	if g.feed == nil {
		return nil, nil
	}
	return g.feed.Recent(ctx, n)
}

func (g *AlertGenerator) evaluate(r ProductOwnership, now time.Time) ([]Alert, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if !r.TotalQuantity.IsPositive() {
		return nil, nil
	}

	var out []Alert
	pct := r.OwnershipPercentage()
	if pct.LessThan(g.Threshold) {
		sev := SeverityMedium
		switch {
		case pct.IsZero():
			sev = SeverityCritical
		case pct.LessThan(g.Threshold.Div(decimal.NewFromInt(2))):
			sev = SeverityHigh
		}
		out = append(out, g.alert(r, AlertLowOwnership, sev, now,
			fmt.Sprintf("only %s%% of %s owned at %s", pct.StringFixed(PercentagePlaces), r.ProductID, r.BranchID)))
	}

	if outstanding := r.OutstandingAmount(); outstanding.IsPositive() {
		share := Percentage(outstanding, r.TotalCost)
		sev := SeverityLow
		switch {
		case share.GreaterThanOrEqual(decimal.NewFromInt(75)):
			sev = SeverityHigh
		case share.GreaterThanOrEqual(decimal.NewFromInt(25)):
			sev = SeverityMedium
		}
		out = append(out, g.alert(r, AlertOutstandingPayment, sev, now,
			fmt.Sprintf("%s outstanding to supplier %s", outstanding.StringFixed(CurrencyPlaces), r.SupplierID)))
	}
	return out, nil
}

func (g *AlertGenerator) alert(r ProductOwnership, typ AlertType, sev Severity, now time.Time, msg string) Alert {
	return Alert{
		ID:                  NewID("alr"),
		Type:                typ,
		Severity:            sev,
		OwnershipID:         r.ID,
		ProductID:           r.ProductID,
		BranchID:            r.BranchID,
		SupplierID:          r.SupplierID,
		OwnershipPercentage: r.OwnershipPercentage(),
		OutstandingAmount:   r.OutstandingAmount(),
		Message:             msg,
		CreatedAt:           now,
	}
}

// =============================================================================
// MEMORY FEED
// =============================================================================

// MemoryFeed keeps the last Capacity alerts in process.
type MemoryFeed struct {
	Capacity int

	mu     sync.Mutex
	alerts []Alert
}

func NewMemoryFeed(capacity int) *MemoryFeed {
	if capacity <= 0 {
		capacity = 500
	}
	return &MemoryFeed{Capacity: capacity}
}

func (f *MemoryFeed) Publish(_ context.Context, alerts []Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alerts...)
	if over := len(f.alerts) - f.Capacity; over > 0 {
		f.alerts = append([]Alert(nil), f.alerts[over:]...)
	}
	return nil
}

func (f *MemoryFeed) Recent(_ context.Context, n int) ([]Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n <= 0 || n > len(f.alerts) {
		n = len(f.alerts)
	}
	out := make([]Alert, 0, n)
	for i := len(f.alerts) - 1; i >= len(f.alerts)-n; i-- {
		out = append(out, f.alerts[i])
	}
	return out, nil
}
