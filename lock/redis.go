/*
Package lock provides a distributed gold.KeyLocker backed by Redis.

PURPOSE:
  gold.LocalLocker serializes writers inside one process. When several engine
  instances share a database, RedisLocker extends the same single-writer-per-
  key discipline across processes using github.com/bsm/redislock.

SEMANTICS:
  - Keys are acquired in sorted order (gold.SortedKeys), all or none.
  - Acquisition retries with linear backoff until Timeout; failure is a
    retryable *gold.ConcurrencyConflictError.
  - Each key is held with a TTL so a crashed holder cannot block forever.
    TTL must exceed the longest mutation.

SEE ALSO:
  - gold/concurrency.go: KeyLocker and the executor
*/
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/gold-engine/gold"
)

const (
	DefaultTTL     = 30 * time.Second
	DefaultBackoff = 25 * time.Millisecond
)

type RedisLocker struct {
	client  *redislock.Client
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	backoff time.Duration
	log     *zap.Logger
}

func NewRedisLocker(rdb *redis.Client, timeout time.Duration, log *zap.Logger) *RedisLocker {
	if timeout <= 0 {
		timeout = gold.DefaultLockTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLocker{
		client:  redislock.New(rdb),
		prefix:  "gold:lock:",
		ttl:     DefaultTTL,
		timeout: timeout,
		backoff: DefaultBackoff,
		log:     log,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	ordered := gold.SortedKeys(keys)

	obtainCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	held := make([]*redislock.Lock, 0, len(ordered))
	releaseAll := func() {
		// Release must not depend on the caller's possibly cancelled context.
		relCtx, relCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer relCancel()
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i].Release(relCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				l.log.Warn("failed to release redis lock", zap.String("key", held[i].Key()), zap.Error(err))
			}
		}
	}

	for _, key := range ordered {
		lk, err := l.client.Obtain(obtainCtx, l.prefix+key, l.ttl, &redislock.Options{
			RetryStrategy: redislock.LinearBackoff(l.backoff),
		})
		if err != nil {
			releaseAll()
			if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
				return nil, &gold.ConcurrencyConflictError{Resource: key, Reason: "lock wait timed out"}
			}
			return nil, err
		}
		held = append(held, lk)
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		releaseAll()
	}, nil
}

var _ gold.KeyLocker = (*RedisLocker)(nil)
