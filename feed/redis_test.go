package feed_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/gold-engine/feed"
	"github.com/warp/gold-engine/gold"
)

func newTestFeed(t *testing.T, capacity int64) (*feed.RedisFeed, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return feed.NewRedisFeed(rdb, capacity), rdb
}

func testAlert(n int) gold.Alert {
	return gold.Alert{
		ID:                  fmt.Sprintf("alert-%d", n),
		Type:                gold.AlertLowOwnership,
		Severity:            gold.SeverityHigh,
		OwnershipID:         gold.OwnershipID(fmt.Sprintf("own-%d", n)),
		ProductID:           "ring",
		BranchID:            "br-1",
		SupplierID:          "sup-1",
		OwnershipPercentage: decimal.RequireFromString("12.5"),
		OutstandingAmount:   decimal.RequireFromString("875.25"),
		Message:             "low ownership",
		CreatedAt:           time.Date(2026, time.March, 1, 9, n, 0, 0, time.UTC),
	}
}

func TestRedisFeed_CapacityAndOrder(t *testing.T) {
	f, _ := newTestFeed(t, 2)
	ctx := context.Background()

	// WHEN: publishing three alerts into a feed of two
	require.NoError(t, f.Publish(ctx, []gold.Alert{testAlert(1), testAlert(2)}))
	require.NoError(t, f.Publish(ctx, []gold.Alert{testAlert(3)}))

	// THEN: only the newest two remain, newest first
	recent, err := f.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "alert-3", recent[0].ID)
	assert.Equal(t, "alert-2", recent[1].ID)

	// THEN: fields survive the round trip
	got := recent[0]
	assert.Equal(t, gold.AlertLowOwnership, got.Type)
	assert.Equal(t, gold.SeverityHigh, got.Severity)
	assert.Equal(t, gold.OwnershipID("own-3"), got.OwnershipID)
	assert.True(t, decimal.RequireFromString("875.25").Equal(got.OutstandingAmount))
	assert.True(t, testAlert(3).CreatedAt.Equal(got.CreatedAt))

	one, err := f.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "alert-3", one[0].ID)
}

func TestRedisFeed_AnnouncesBatch(t *testing.T) {
	f, rdb := newTestFeed(t, 10)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, "gold:alerts:published")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, f.Publish(ctx, []gold.Alert{testAlert(1), testAlert(2)}))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "2", msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no announcement received")
	}
}

func TestRedisFeed_EmptyPublishIsNoop(t *testing.T) {
	f, _ := newTestFeed(t, 10)
	ctx := context.Background()

	require.NoError(t, f.Publish(ctx, nil))

	recent, err := f.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, recent)
}
