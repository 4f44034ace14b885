package gold_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/gold-engine/gold"
)

func alertsFor(alerts []gold.Alert, product gold.ProductID) map[gold.AlertType]gold.Severity {
	out := make(map[gold.AlertType]gold.Severity)
	for _, a := range alerts {
		if a.ProductID == product {
			out[a.Type] = a.Severity
		}
	}
	return out
}

func TestScan_Severities(t *testing.T) {
	e := newTestEngine(t)

	e.receive(t, "unpaid", "po-1", "10", "50", "1000", "0")
	e.receive(t, "thirty", "po-2", "10", "50", "1000", "300")
	e.receive(t, "twenty", "po-3", "10", "50", "1000", "200")
	e.receive(t, "paid", "po-4", "10", "50", "1000", "1000")

	alerts, err := e.alerts.Scan(context.Background(), gold.OwnershipFilter{})
	require.NoError(t, err)

	tests := []struct {
		product     gold.ProductID
		ownership   gold.Severity
		outstanding gold.Severity
	}{
		{"unpaid", gold.SeverityCritical, gold.SeverityHigh},
		{"thirty", gold.SeverityMedium, gold.SeverityMedium},
		{"twenty", gold.SeverityHigh, gold.SeverityHigh},
	}
	for _, tt := range tests {
		t.Run(string(tt.product), func(t *testing.T) {
			got := alertsFor(alerts, tt.product)
			assert.Equal(t, tt.ownership, got[gold.AlertLowOwnership])
			assert.Equal(t, tt.outstanding, got[gold.AlertOutstandingPayment])
		})
	}

	assert.Empty(t, alertsFor(alerts, "paid"))
	assert.Len(t, alerts, 6)
}

func TestScan_LowOutstandingShare(t *testing.T) {
	e := newTestEngine(t)
	e.receive(t, "ring", "po-1", "10", "50", "1000", "900")

	alerts, err := e.alerts.Scan(context.Background(), gold.OwnershipFilter{ProductID: "ring"})

	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, gold.AlertOutstandingPayment, alerts[0].Type)
	assert.Equal(t, gold.SeverityLow, alerts[0].Severity)
	assertDecimal(t, "100", alerts[0].OutstandingAmount)
	assert.Contains(t, alerts[0].Message, "100.00 outstanding")
}

func TestScan_SkipsInactiveRows(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.receive(t, "ring", "po-1", "10", "10", "1000", "0")
	e.receive(t, "ring", "po-2", "10", "10", "1000", "0")

	_, err := e.consolidation.Consolidate(ctx, gold.ConsolidateRequest{ProductID: "ring", SupplierID: "sup-1", BranchID: "br-1"})
	require.NoError(t, err)

	alerts, err := e.alerts.Scan(ctx, gold.OwnershipFilter{ActiveOnly: false})
	require.NoError(t, err)
	assert.Len(t, alerts, 2)
}

func TestPublish_FeedsRecent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.receive(t, "ring", "po-1", "10", "50", "1000", "0")

	published, err := e.alerts.Publish(ctx, gold.OwnershipFilter{})
	require.NoError(t, err)
	require.Len(t, published, 2)

	recent, err := e.alerts.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, published[1].ID, recent[0].ID)
	assert.Equal(t, published[0].ID, recent[1].ID)
}

func TestMemoryFeed_Capacity(t *testing.T) {
	ctx := context.Background()
	feed := gold.NewMemoryFeed(2)

	require.NoError(t, feed.Publish(ctx, []gold.Alert{{ID: "a"}, {ID: "b"}, {ID: "c"}}))

	recent, err := feed.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].ID)
	assert.Equal(t, "b", recent[1].ID)

	one, err := feed.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "c", one[0].ID)
}
