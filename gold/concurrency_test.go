package gold_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/gold-engine/gold"
)

func TestLocalLocker_TimesOut(t *testing.T) {
	ctx := context.Background()
	locker := gold.NewLocalLocker(50 * time.Millisecond)

	unlock, err := locker.Lock(ctx, "b", "a")
	require.NoError(t, err)

	_, err = locker.Lock(ctx, "a")
	var ce *gold.ConcurrencyConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "a", ce.Resource)
	assert.True(t, gold.IsRetryable(err))

	unlock()
	unlock() // second call is a no-op

	again, err := locker.Lock(ctx, "a", "b")
	require.NoError(t, err)
	again()
}

func TestLocalLocker_PartialAcquireReleases(t *testing.T) {
	ctx := context.Background()
	locker := gold.NewLocalLocker(50 * time.Millisecond)

	holdB, err := locker.Lock(ctx, "b")
	require.NoError(t, err)

	// "a" is taken first, then "b" times out; "a" must be released again.
	_, err = locker.Lock(ctx, "a", "b")
	require.Error(t, err)

	onlyA, err := locker.Lock(ctx, "a")
	require.NoError(t, err)
	onlyA()
	holdB()
}

func TestSortedKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, gold.SortedKeys([]string{"c", "a", "", "b", "a"}))
}

func TestRetryPolicy(t *testing.T) {
	ctx := context.Background()
	policy := gold.RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}

	t.Run("retries conflicts", func(t *testing.T) {
		calls := 0
		err := policy.Do(ctx, func(context.Context) error {
			calls++
			if calls < 3 {
				return &gold.ConcurrencyConflictError{Resource: "row", Reason: "stale"}
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := policy.Do(ctx, func(context.Context) error {
			calls++
			return &gold.ConcurrencyConflictError{Resource: "row", Reason: "stale"}
		})
		assert.True(t, gold.IsRetryable(err))
		assert.Equal(t, 3, calls)
	})

	t.Run("does not retry other errors", func(t *testing.T) {
		calls := 0
		boom := errors.New("boom")
		err := policy.Do(ctx, func(context.Context) error {
			calls++
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})
}

func TestConcurrentPayments_NeverOverpay(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	row := e.receive(t, "chain", "po-1", "20", "100", "1000", "0")

	// GIVEN: 25 payments of 50 racing against a cost of 1000
	const workers = 25
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		rejected int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := e.ownership.RecordPayment(ctx, gold.PaymentRequest{
				OwnershipID: row.ID, Amount: dec("50"), ReferenceNumber: fmt.Sprintf("pay-%d", i),
			})
			mu.Lock()
			defer mu.Unlock()
			var oe *gold.OverpaymentError
			switch {
			case err == nil:
				ok++
			case errors.As(err, &oe):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	// THEN: exactly 20 land and the row is fully owned
	assert.Equal(t, 20, ok)
	assert.Equal(t, 5, rejected)

	after, err := e.ownership.Get(ctx, row.ID)
	require.NoError(t, err)
	assertDecimal(t, "1000", after.AmountPaid)
	assertDecimal(t, "20", after.OwnedQuantity)
	assertDecimal(t, "100", after.OwnedWeight)

	movements, err := e.ownership.Movements(ctx, row.ID)
	require.NoError(t, err)
	assert.Len(t, movements, 21)
}

func TestConcurrentSales_SerializedPerGroup(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.receive(t, "ring", "po-1", "10", "50", "1000", "1000")
	e.receive(t, "ring", "po-2", "10", "50", "1000", "1000")

	var wg sync.WaitGroup
	errs := make(chan error, 25)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.ownership.RecordSaleConsumption(ctx, gold.SaleRequest{
				ProductID: "ring", BranchID: "br-1", Quantity: dec("1"), ReferenceNumber: fmt.Sprintf("inv-%d", i),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	sold := 0
	for err := range errs {
		if err == nil {
			sold++
			continue
		}
		assert.ErrorIs(t, err, gold.ErrBusinessRule)
	}
	assert.Equal(t, 20, sold)

	v, err := e.ownership.ValidateSale(ctx, "ring", "br-1", dec("1"))
	require.NoError(t, err)
	assertDecimal(t, "0", v.OwnedQuantity)
}
