package rates

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/gold-engine/gold"
)

// Cache stores rates as strings. Get reports a miss with ok=false.
type Cache interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// CachedProvider is a read-through cache. Lookups are bucketed to the minute
// so nearby as-of times share an entry. Cache failures fall through to the
// underlying provider.
type CachedProvider struct {
	next   gold.KaratRateProvider
	cache  Cache
	ttl    time.Duration
	bucket time.Duration
	now    gold.Clock
	log    *zap.Logger
}

// NewCachedProvider wraps next. now resolves zero as-of times and defaults to
// gold.SystemClock.
func NewCachedProvider(next gold.KaratRateProvider, cache Cache, ttl time.Duration, now gold.Clock, log *zap.Logger) *CachedProvider {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if now == nil {
		now = gold.SystemClock
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedProvider{next: next, cache: cache, ttl: ttl, bucket: time.Minute, now: now, log: log}
}

func (p *CachedProvider) GetCurrentRate(ctx context.Context, karat gold.KaratTypeID, asOf time.Time) (decimal.Decimal, error) {
	if asOf.IsZero() {
		asOf = p.now().UTC()
	}
	key := fmt.Sprintf("gold:rate:%s:%d", karat, asOf.Truncate(p.bucket).Unix())

	if val, ok, err := p.cache.Get(ctx, key); err != nil {
		p.log.Warn("rate cache read failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		if rate, err := decimal.NewFromString(val); err == nil {
			return rate, nil
		}
	}

	rate, err := p.next.GetCurrentRate(ctx, karat, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	if err := p.cache.Set(ctx, key, rate.String(), p.ttl); err != nil {
		p.log.Warn("rate cache write failed", zap.String("key", key), zap.Error(err))
	}
	return rate, nil
}

// =============================================================================
// REDIS CACHE
// =============================================================================

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

var _ gold.KaratRateProvider = (*CachedProvider)(nil)
