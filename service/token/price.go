package token

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

// PriceSource returns the current USD price for a token symbol.
type PriceSource interface {
	PriceUSD(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// coingeckoIDs maps token symbols to the price API's asset ids.
var coingeckoIDs = map[string]string{
	IDSol:  "solana",
	IDUSDC: "usd-coin",
}

// HTTPPriceSource fetches prices from a CoinGecko-compatible API. Calls run
// through a circuit breaker so a flapping price API cannot stall every
// purchase request behind slow timeouts.
type HTTPPriceSource struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewHTTPPriceSource creates a price source against the given API base URL.
func NewHTTPPriceSource(baseURL string, logger *slog.Logger) *HTTPPriceSource {
	settings := gobreaker.Settings{
		Name:        "price-api",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("price API circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String())
		},
	}
	return &HTTPPriceSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// PriceUSD fetches the USD price for a symbol.
func (s *HTTPPriceSource) PriceUSD(ctx context.Context, symbol string) (decimal.Decimal, error) {
	assetID, ok := coingeckoIDs[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price feed for token %q", symbol)
	}

	result, err := s.breaker.Execute(func() (interface{}, error) {
		return s.fetch(ctx, assetID)
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("price lookup for %s: %w", symbol, err)
	}
	return result.(decimal.Decimal), nil
}

func (s *HTTPPriceSource) fetch(ctx context.Context, assetID string) (decimal.Decimal, error) {
	u := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd", s.baseURL, url.QueryEscape(assetID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return decimal.Zero, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("price API returned status %d", resp.StatusCode)
	}

	var body map[string]struct {
		USD decimal.Decimal `json:"usd"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode price response: %w", err)
	}

	entry, ok := body[assetID]
	if !ok {
		return decimal.Zero, fmt.Errorf("price API response missing asset %q", assetID)
	}
	if entry.USD.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("price API returned non-positive price for %q", assetID)
	}
	return entry.USD, nil
}

// FixedPriceSource serves configured prices for tokens without a market
// feed, falling back to another source for everything else. MILTON's price
// is operator-set, so it is pinned here.
type FixedPriceSource struct {
	prices   map[string]decimal.Decimal
	fallback PriceSource
}

// NewFixedPriceSource creates a source with pinned prices and a fallback.
func NewFixedPriceSource(prices map[string]decimal.Decimal, fallback PriceSource) *FixedPriceSource {
	return &FixedPriceSource{prices: prices, fallback: fallback}
}

// PriceUSD returns the pinned price when one exists, otherwise delegates.
func (s *FixedPriceSource) PriceUSD(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if price, ok := s.prices[symbol]; ok {
		return price, nil
	}
	if s.fallback == nil {
		return decimal.Zero, fmt.Errorf("no price feed for token %q", symbol)
	}
	return s.fallback.PriceUSD(ctx, symbol)
}
