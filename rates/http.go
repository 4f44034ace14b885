package rates

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/warp/gold-engine/gold"
)

// HTTPProvider asks a remote rate service:
//
//	GET {base}/rates/{karat}?asOf=<RFC3339>
//	200 {"karat":"24k","rate":"115.00","asOf":"..."}
type HTTPProvider struct {
	httpClient *resty.Client
}

type rateResponse struct {
	Karat string          `json:"karat"`
	Rate  decimal.Decimal `json:"rate"`
	AsOf  time.Time       `json:"asOf"`
}

type rateError struct {
	Error string `json:"error"`
}

func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New()
	client.
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond)
	return &HTTPProvider{httpClient: client}
}

func (p *HTTPProvider) GetCurrentRate(ctx context.Context, karat gold.KaratTypeID, asOf time.Time) (decimal.Decimal, error) {
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}
	result := new(rateResponse)
	apiErr := new(rateError)

	resp, err := p.httpClient.R().
		SetContext(ctx).
		SetPathParam("karat", string(karat)).
		SetQueryParam("asOf", asOf.UTC().Format(time.RFC3339)).
		SetResult(result).
		SetError(apiErr).
		Get("/rates/{karat}")
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch karat rate: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return decimal.Zero, &gold.NotFoundError{Kind: "karat rate", ID: string(karat)}
	case resp.StatusCode() >= http.StatusBadRequest:
		return decimal.Zero, fmt.Errorf("rate service error: code=%d, message=%s", resp.StatusCode(), apiErr.Error)
	}
	if !result.Rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("rate service returned non-positive rate %s for %s", result.Rate, karat)
	}
	return result.Rate, nil
}

var _ gold.KaratRateProvider = (*HTTPProvider)(nil)
