/*
concurrency.go - Key locking, bounded retry and the mutation executor

PURPOSE:
  Mutations on one ownership row or one gold balance bucket are serialized;
  mutations on different keys run in parallel.

TWO LAYERS:
  1. KeyLocker: single-writer-per-key. Keys are acquired in sorted order so
     two callers locking overlapping sets never deadlock. Acquisition is
     bounded; a timeout is a *ConcurrencyConflictError.
  2. Row versions (see store.go): catch writers that bypass the locker, e.g.
     another process without the shared Redis locker.

  The Executor combines both with a bounded retry that only retries
  ErrConcurrencyConflict. The locked section only touches the store; rates and
  stock are fetched before Mutate is called.

LOCK KEYS:
  ownership-group:<product>@<branch>   creation, sales, consolidation
  ownership-row:<id>                   payments, adjustments, sales, consolidation
  supplier-gold:<supplier>/<branch>/<karat>
  merchant-gold:<branch>/<karat>
*/
package gold

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// KEY LOCKER
// =============================================================================

// KeyLocker serializes writers per key.
type KeyLocker interface {
	// Lock acquires every key or none. The returned func releases them.
	Lock(ctx context.Context, keys ...string) (unlock func(), err error)
}

const DefaultLockTimeout = 5 * time.Second

// LocalLocker is an in-process KeyLocker.
type LocalLocker struct {
	Timeout time.Duration

	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker(timeout time.Duration) *LocalLocker {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &LocalLocker{Timeout: timeout, slots: make(map[string]*lockSlot)}
}

func (l *LocalLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	ordered := SortedKeys(keys)

	ctx, cancel := context.WithTimeout(ctx, l.Timeout)
	defer cancel()

	held := make([]string, 0, len(ordered))
	for _, key := range ordered {
		if err := l.acquire(ctx, key); err != nil {
			for i := len(held) - 1; i >= 0; i-- {
				l.release(held[i], true)
			}
			return nil, err
		}
		held = append(held, key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(held) - 1; i >= 0; i-- {
				l.release(held[i], true)
			}
		})
	}, nil
}

func (l *LocalLocker) acquire(ctx context.Context, key string) error {
	l.mu.Lock()
	s := l.slots[key]
	if s == nil {
		s = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.release(key, false)
		return &ConcurrencyConflictError{Resource: key, Reason: "lock wait timed out"}
	}
}

func (l *LocalLocker) release(key string, held bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.slots[key]
	if s == nil {
		return
	}
	if held {
		<-s.ch
	}
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// SortedKeys returns the unique keys in ascending order.
func SortedKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func ownershipGroupKey(productID ProductID, branchID BranchID) string {
	return fmt.Sprintf("ownership-group:%s@%s", productID, branchID)
}

func ownershipRowKey(id OwnershipID) string {
	return "ownership-row:" + string(id)
}

func supplierGoldKey(k SupplierBalanceKey) string {
	return fmt.Sprintf("supplier-gold:%s/%s/%s", k.SupplierID, k.BranchID, k.KaratTypeID)
}

func merchantGoldKey(k MerchantBalanceKey) string {
	return fmt.Sprintf("merchant-gold:%s/%s", k.BranchID, k.KaratTypeID)
}

func lotGroupKey(productID ProductID, branchID BranchID) string {
	return fmt.Sprintf("cost-lots:%s@%s", productID, branchID)
}

// =============================================================================
// RETRY
// =============================================================================

type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration // multiplied by the attempt number
}

var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: 20 * time.Millisecond}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempts are used up. The last error is returned unchanged.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !IsRetryable(err) || attempt == attempts {
			return err
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(p.Backoff * time.Duration(attempt)):
		}
	}
	return err
}

// =============================================================================
// EXECUTOR
// =============================================================================

// Executor runs one mutation: retry( lock(keys) -> WithTx(fn) ).
type Executor struct {
	Store  TxStore
	Locker KeyLocker
	Retry  RetryPolicy
	Log    *zap.Logger
}

func NewExecutor(store TxStore, locker KeyLocker, retry RetryPolicy, log *zap.Logger) *Executor {
	if locker == nil {
		locker = NewLocalLocker(DefaultLockTimeout)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{Store: store, Locker: locker, Retry: retry, Log: log}
}

func (e *Executor) Mutate(ctx context.Context, keys []string, fn func(Store) error) error {
	attempt := 0
	return e.Retry.Do(ctx, func(ctx context.Context) error {
		attempt++
		unlock, err := e.Locker.Lock(ctx, keys...)
		if err != nil {
			e.Log.Warn("lock not acquired", zap.Strings("keys", keys), zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		defer unlock()

		err = e.Store.WithTx(ctx, fn)
		if IsRetryable(err) {
			e.Log.Warn("retryable conflict", zap.Strings("keys", keys), zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	})
}
