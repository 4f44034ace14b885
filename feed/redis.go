// Package feed publishes alerts to Redis so other services can read them.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/warp/gold-engine/gold"
)

// RedisFeed keeps the newest alerts in a capped list and announces each
// batch on a pub/sub channel.
type RedisFeed struct {
	client   *redis.Client
	key      string
	channel  string
	capacity int64
}

func NewRedisFeed(client *redis.Client, capacity int64) *RedisFeed {
	if capacity <= 0 {
		capacity = 500
	}
	return &RedisFeed{client: client, key: "gold:alerts", channel: "gold:alerts:published", capacity: capacity}
}

type alertRecord struct {
	ID                  string          `json:"id"`
	Type                string          `json:"type"`
	Severity            string          `json:"severity"`
	OwnershipID         string          `json:"ownershipId"`
	ProductID           string          `json:"productId"`
	BranchID            string          `json:"branchId"`
	SupplierID          string          `json:"supplierId,omitempty"`
	OwnershipPercentage decimal.Decimal `json:"ownershipPercentage"`
	OutstandingAmount   decimal.Decimal `json:"outstandingAmount"`
	Message             string          `json:"message"`
	CreatedAt           time.Time       `json:"createdAt"`
}

func toRecord(a gold.Alert) alertRecord {
	return alertRecord{
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
	}
}

func (r alertRecord) alert() gold.Alert {
	return gold.Alert{
		ID:                  r.ID,
		Type:                gold.AlertType(r.Type),
		Severity:            gold.Severity(r.Severity),
		OwnershipID:         gold.OwnershipID(r.OwnershipID),
		ProductID:           gold.ProductID(r.ProductID),
		BranchID:            gold.BranchID(r.BranchID),
		SupplierID:          gold.SupplierID(r.SupplierID),
		OwnershipPercentage: r.OwnershipPercentage,
		OutstandingAmount:   r.OutstandingAmount,
		Message:             r.Message,
		CreatedAt:           r.CreatedAt,
	}
}

func (f *RedisFeed) Publish(ctx context.Context, alerts []gold.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	values := make([]any, 0, len(alerts))
	for _, a := range alerts {
		payload, err := json.Marshal(toRecord(a))
		if err != nil {
			return fmt.Errorf("encode alert: %w", err)
		}
		values = append(values, payload)
	}

	pipe := f.client.TxPipeline()
	pipe.LPush(ctx, f.key, values...)
	pipe.LTrim(ctx, f.key, 0, f.capacity-1)
	pipe.Publish(ctx, f.channel, len(alerts))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish alerts: %w", err)
	}
	return nil
}

// Recent returns the newest n alerts, newest first.
func (f *RedisFeed) Recent(ctx context.Context, n int) ([]gold.Alert, error) {
	stop := int64(-1)
	if n > 0 {
		stop = int64(n) - 1
	}
	vals, err := f.client.LRange(ctx, f.key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("read alerts: %w", err)
	}
	out := make([]gold.Alert, 0, len(vals))
	for _, v := range vals {
		var r alertRecord
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			return nil, fmt.Errorf("decode alert: %w", err)
		}
		out = append(out, r.alert())
	}
	return out, nil
}

var _ gold.AlertFeed = (*RedisFeed)(nil)
