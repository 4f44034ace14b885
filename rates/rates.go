/*
Package rates provides gold.KaratRateProvider implementations.

PURPOSE:
  Conversions and waives price gold per karat at a point in time. The engine
  depends only on gold.KaratRateProvider; this package supplies:

  Static          in-process table with as-of history (config, tests)
  HTTPProvider    remote rate service over HTTP (go-resty)
  CachedProvider  read-through cache in front of any provider (go-redis)

EXAMPLE:
  static, _ := rates.ParseStatic("18k=80,21k=100,24k=115")
  remote := rates.NewHTTPProvider("https://rates.internal", 5*time.Second)
  provider := rates.NewCachedProvider(remote, rates.NewRedisCache(rdb), time.Minute, nil, log)

SEE ALSO:
  - gold/external.go: the interface
  - gold/balance.go: Convert and WaiveToSupplier, the consumers
*/
package rates

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/gold-engine/gold"
)

// =============================================================================
// STATIC PROVIDER
// =============================================================================

type ratePoint struct {
	from time.Time
	rate decimal.Decimal
}

// Static serves rates from memory. Each karat keeps a history so as-of
// lookups return the rate in force at that time.
type Static struct {
	mu    sync.RWMutex
	rates map[gold.KaratTypeID][]ratePoint
}

func NewStatic() *Static {
	return &Static{rates: make(map[gold.KaratTypeID][]ratePoint)}
}

// Set records rate for karat effective from the given time. A zero time
// means "always".
func (s *Static) Set(karat gold.KaratTypeID, rate decimal.Decimal, from time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	points := append(s.rates[karat], ratePoint{from: from, rate: rate})
	sort.SliceStable(points, func(i, j int) bool { return points[i].from.Before(points[j].from) })
	s.rates[karat] = points
}

func (s *Static) GetCurrentRate(_ context.Context, karat gold.KaratTypeID, asOf time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	points := s.rates[karat]
	for i := len(points) - 1; i >= 0; i-- {
		if asOf.IsZero() || !points[i].from.After(asOf) {
			return points[i].rate, nil
		}
	}
	return decimal.Zero, &gold.NotFoundError{Kind: "karat rate", ID: string(karat)}
}

// Karats lists the configured karat ids.
func (s *Static) Karats() []gold.KaratTypeID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]gold.KaratTypeID, 0, len(s.rates))
	for k := range s.rates {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseStatic reads "18k=80,21k=100,24k=115".
func ParseStatic(spec string) (*Static, error) {
	s := NewStatic()
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		karat, value, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(karat) == "" {
			return nil, fmt.Errorf("invalid rate %q: want karat=rate", part)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("invalid rate %q: %w", part, err)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("invalid rate %q: must be positive", part)
		}
		s.Set(gold.KaratTypeID(strings.TrimSpace(karat)), rate, time.Time{})
	}
	return s, nil
}

var _ gold.KaratRateProvider = (*Static)(nil)
