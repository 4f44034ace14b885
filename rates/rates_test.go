package rates_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/gold-engine/gold"
	"github.com/warp/gold-engine/rates"
)

// =============================================================================
// STATIC
// =============================================================================

func TestStatic_AsOfHistory(t *testing.T) {
	ctx := context.Background()
	s := rates.NewStatic()
	june := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)
	s.Set("24k", decimal.NewFromInt(125), june)
	s.Set("24k", decimal.NewFromInt(115), time.Time{})

	before, err := s.GetCurrentRate(ctx, "24k", june.Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, before.Equal(decimal.NewFromInt(115)))

	after, err := s.GetCurrentRate(ctx, "24k", june)
	require.NoError(t, err)
	assert.True(t, after.Equal(decimal.NewFromInt(125)))

	latest, err := s.GetCurrentRate(ctx, "24k", time.Time{})
	require.NoError(t, err)
	assert.True(t, latest.Equal(decimal.NewFromInt(125)))

	_, err = s.GetCurrentRate(ctx, "18k", june)
	assert.True(t, gold.IsNotFound(err))
}

func TestParseStatic(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		karats  []gold.KaratTypeID
		wantErr bool
	}{
		{name: "valid", spec: "18k=80, 21k=100,24k=115.5", karats: []gold.KaratTypeID{"18k", "21k", "24k"}},
		{name: "trailing comma", spec: "21k=100,", karats: []gold.KaratTypeID{"21k"}},
		{name: "missing rate", spec: "21k", wantErr: true},
		{name: "not a number", spec: "21k=abc", wantErr: true},
		{name: "zero rate", spec: "21k=0", wantErr: true},
		{name: "empty karat", spec: "=100", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := rates.ParseStatic(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.karats, s.Karats())
		})
	}
}

// =============================================================================
// HTTP PROVIDER
// =============================================================================

func TestHTTPProvider(t *testing.T) {
	asOf := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/rates/24k":
			assert.Equal(t, "2026-03-01T12:00:00Z", r.URL.Query().Get("asOf"))
			w.Write([]byte(`{"karat":"24k","rate":"115.50","asOf":"2026-03-01T12:00:00Z"}`))
		case "/rates/zero":
			w.Write([]byte(`{"karat":"zero","rate":"0"}`))
		case "/rates/bad":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"unknown karat format"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"not found"}`))
		}
	}))
	t.Cleanup(srv.Close)

	p := rates.NewHTTPProvider(srv.URL+"/", time.Second)
	ctx := context.Background()

	t.Run("ok", func(t *testing.T) {
		rate, err := p.GetCurrentRate(ctx, "24k", asOf)
		require.NoError(t, err)
		assert.True(t, rate.Equal(decimal.RequireFromString("115.5")))
	})

	t.Run("unknown karat", func(t *testing.T) {
		_, err := p.GetCurrentRate(ctx, "9k", asOf)
		assert.True(t, gold.IsNotFound(err))
	})

	t.Run("service error", func(t *testing.T) {
		_, err := p.GetCurrentRate(ctx, "bad", asOf)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown karat format")
		assert.False(t, gold.IsNotFound(err))
	})

	t.Run("non-positive rate", func(t *testing.T) {
		_, err := p.GetCurrentRate(ctx, "zero", asOf)
		assert.Error(t, err)
	})
}

// =============================================================================
// CACHED PROVIDER
// =============================================================================

type fakeCache struct {
	mu      sync.Mutex
	data    map[string]string
	getErr  error
	setKeys []string
}

func newFakeCache() *fakeCache { return &fakeCache{data: make(map[string]string)} }

func (c *fakeCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return "", false, c.getErr
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *fakeCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	c.setKeys = append(c.setKeys, key)
	return nil
}

type countingProvider struct {
	calls    int
	lastAsOf time.Time
	rate     decimal.Decimal
	err      error
}

func (p *countingProvider) GetCurrentRate(_ context.Context, _ gold.KaratTypeID, asOf time.Time) (decimal.Decimal, error) {
	p.calls++
	p.lastAsOf = asOf
	return p.rate, p.err
}

func TestCachedProvider(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, time.March, 1, 12, 0, 10, 0, time.UTC)

	t.Run("reads through and buckets by minute", func(t *testing.T) {
		next := &countingProvider{rate: decimal.NewFromInt(115)}
		cache := newFakeCache()
		p := rates.NewCachedProvider(next, cache, time.Minute, nil, zaptest.NewLogger(t))

		first, err := p.GetCurrentRate(ctx, "24k", at)
		require.NoError(t, err)
		second, err := p.GetCurrentRate(ctx, "24k", at.Add(30*time.Second))
		require.NoError(t, err)

		assert.True(t, first.Equal(second))
		assert.Equal(t, 1, next.calls)
		assert.Len(t, cache.setKeys, 1)

		_, err = p.GetCurrentRate(ctx, "24k", at.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 2, next.calls)
	})

	t.Run("zero as-of buckets on the injected clock", func(t *testing.T) {
		now := at
		clock := func() time.Time { return now }
		next := &countingProvider{rate: decimal.NewFromInt(115)}
		cache := newFakeCache()
		p := rates.NewCachedProvider(next, cache, time.Minute, clock, zaptest.NewLogger(t))

		_, err := p.GetCurrentRate(ctx, "24k", time.Time{})
		require.NoError(t, err)
		require.Len(t, cache.setKeys, 1)
		assert.Equal(t, fmt.Sprintf("gold:rate:24k:%d", at.Truncate(time.Minute).Unix()), cache.setKeys[0])
		assert.True(t, at.Equal(next.lastAsOf))

		// Same minute is a hit, the next minute misses.
		now = at.Add(40 * time.Second)
		_, err = p.GetCurrentRate(ctx, "24k", time.Time{})
		require.NoError(t, err)
		assert.Equal(t, 1, next.calls)

		now = at.Add(time.Minute)
		_, err = p.GetCurrentRate(ctx, "24k", time.Time{})
		require.NoError(t, err)
		assert.Equal(t, 2, next.calls)
		assert.Len(t, cache.setKeys, 2)
	})

	t.Run("cache failure falls through", func(t *testing.T) {
		next := &countingProvider{rate: decimal.NewFromInt(100)}
		cache := newFakeCache()
		cache.getErr = errors.New("connection refused")
		p := rates.NewCachedProvider(next, cache, time.Minute, nil, zaptest.NewLogger(t))

		rate, err := p.GetCurrentRate(ctx, "21k", at)
		require.NoError(t, err)
		assert.True(t, rate.Equal(decimal.NewFromInt(100)))
		assert.Equal(t, 1, next.calls)
	})

	t.Run("provider errors are not cached", func(t *testing.T) {
		next := &countingProvider{err: &gold.NotFoundError{Kind: "karat rate", ID: "9k"}}
		cache := newFakeCache()
		p := rates.NewCachedProvider(next, cache, time.Minute, nil, zaptest.NewLogger(t))

		_, err := p.GetCurrentRate(ctx, "9k", at)
		assert.True(t, gold.IsNotFound(err))
		assert.Empty(t, cache.setKeys)
	})
}
