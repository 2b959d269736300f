// Package exchange provides a keyless Kraken market data client with rate
// limiting, circuit breaking, and short-TTL ticker caching.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// pairMap translates display pairs to Kraken's REST pair codes.
var pairMap = map[string]string{
	"BTC/USD":   "XXBTZUSD",
	"ETH/USD":   "XETHZUSD",
	"SOL/USD":   "SOLUSD",
	"XRP/USD":   "XXRPZUSD",
	"ADA/USD":   "ADAUSD",
	"DOT/USD":   "DOTUSD",
	"LINK/USD":  "LINKUSD",
	"AVAX/USD":  "AVAXUSD",
	"MATIC/USD": "MATICUSD",
	"ATOM/USD":  "ATOMUSD",
}

// ErrUnknownPair is returned for pairs outside the supported universe.
var ErrUnknownPair = errors.New("unknown trading pair")

// ErrBreakerOpen signals the venue circuit breaker has tripped.
var ErrBreakerOpen = errors.New("exchange circuit breaker open")

// Ticker is a point-in-time price snapshot for one pair.
type Ticker struct {
	Pair      string          `json:"pair"`
	Last      decimal.Decimal `json:"last"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Volume24h decimal.Decimal `json:"volume_24h"`
	VWAP24h   decimal.Decimal `json:"vwap_24h"`
	High24h   decimal.Decimal `json:"high_24h"`
	Low24h    decimal.Decimal `json:"low_24h"`
	Spread    decimal.Decimal `json:"spread"`
	SpreadPct decimal.Decimal `json:"spread_pct"`
	Timestamp time.Time       `json:"timestamp"`
}

// Bar is one OHLCV candle.
type Bar struct {
	Time   time.Time       `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// ClientConfig controls client behavior.
type ClientConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	RPS        float64       `yaml:"rps"`
	Burst      int           `yaml:"burst"`
}

// DefaultClientConfig returns conservative defaults for Kraken's free tier.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:    "https://api.kraken.com",
		Timeout:    10 * time.Second,
		MaxRetries: 3,
		RPS:        1,
		Burst:      3,
	}
}

// Observer receives request and cache counters. metrics.Registry satisfies
// it; a nil observer disables instrumentation.
type Observer interface {
	IncExchangeRequest(endpoint, status string)
	IncCacheHit()
	IncCacheMiss()
}

// Client fetches public market data from Kraken.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *RateLimiter
	breaker    *Breaker
	cache      TickerCache
	maxRetries int
	observer   Observer
	log        zerolog.Logger
}

// NewClient creates a Kraken client. cache may be nil, in which case an
// in-process TTL cache is used.
func NewClient(cfg ClientConfig, cache TickerCache, log zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.kraken.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 1
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 3
	}
	if cache == nil {
		cache = NewMemoryTickerCache(DefaultTickerTTL)
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    NewRateLimiter(cfg.RPS, cfg.Burst),
		breaker:    NewBreaker("kraken"),
		cache:      cache,
		maxRetries: cfg.MaxRetries,
		log:        log.With().Str("component", "exchange").Logger(),
	}
}

// SetObserver wires request and cache instrumentation into the client.
func (c *Client) SetObserver(obs Observer) {
	c.observer = obs
}

// KrakenPair returns Kraken's REST code for a display pair.
func KrakenPair(pair string) (string, error) {
	code, ok := pairMap[pair]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPair, pair)
	}
	return code, nil
}

// SupportedPairs lists the pairs the client can quote.
func SupportedPairs() []string {
	pairs := make([]string, 0, len(pairMap))
	for pair := range pairMap {
		pairs = append(pairs, pair)
	}
	return pairs
}

// get issues a GET against the public API with rate limiting, the circuit
// breaker, and retry on transient failures.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx, endpoint); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	fullURL := c.baseURL + endpoint
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
			c.log.Warn().
				Str("endpoint", endpoint).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Err(lastErr).
				Msg("retrying exchange request")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		body, err := c.breaker.Execute(func() (any, error) {
			return c.doRequest(ctx, fullURL)
		})
		c.observeRequest(endpoint, err)
		if err != nil {
			if errors.Is(err, ErrBreakerOpen) || !isTransient(err) {
				return err
			}
			lastErr = err
			continue
		}

		var envelope struct {
			Error  []string        `json:"error"`
			Result json.RawMessage `json:"result"`
		}
		if err := json.Unmarshal(body.([]byte), &envelope); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
		if len(envelope.Error) > 0 {
			err := fmt.Errorf("kraken API error: %v", envelope.Error)
			if hasTransientAPIError(envelope.Error) {
				lastErr = err
				continue
			}
			return err
		}
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("failed to unmarshal result: %w", err)
		}
		return nil
	}
	return fmt.Errorf("request failed after %d retries: %w", c.maxRetries, lastErr)
}

func (c *Client) doRequest(ctx context.Context, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &transientError{fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("API error: status %d", resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, &transientError{err}
		}
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transientError{fmt.Errorf("failed to read response: %w", err)}
	}
	return body, nil
}

func (c *Client) observeRequest(endpoint string, err error) {
	if c.observer == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.observer.IncExchangeRequest(endpoint, status)
}

// transientAPIErrors are in-body Kraken error codes worth retrying: the
// request was well-formed but the venue was momentarily unable to serve it.
var transientAPIErrors = []string{
	"EAPI:Rate limit exceeded",
	"EService:Unavailable",
	"EService:Busy",
	"EGeneral:Temporary lockout",
}

func hasTransientAPIError(apiErrors []string) bool {
	for _, apiErr := range apiErrors {
		lower := strings.ToLower(apiErr)
		for _, pattern := range transientAPIErrors {
			if strings.Contains(lower, strings.ToLower(pattern)) {
				return true
			}
		}
	}
	return false
}

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// GetTicker returns the current ticker for a pair, served from cache inside
// the TTL window.
func (c *Client) GetTicker(ctx context.Context, pair string) (*Ticker, error) {
	if cached, ok := c.cache.Get(ctx, pair); ok {
		if c.observer != nil {
			c.observer.IncCacheHit()
		}
		return cached, nil
	}
	if c.observer != nil {
		c.observer.IncCacheMiss()
	}

	code, err := KrakenPair(pair)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("pair", code)

	var result map[string]struct {
		C []string `json:"c"` // last trade: [price, lot volume]
		B []string `json:"b"` // best bid
		A []string `json:"a"` // best ask
		V []string `json:"v"` // volume: [today, 24h]
		P []string `json:"p"` // vwap: [today, 24h]
		H []string `json:"h"` // high: [today, 24h]
		L []string `json:"l"` // low: [today, 24h]
	}
	if err := c.get(ctx, "/0/public/Ticker", params, &result); err != nil {
		return nil, fmt.Errorf("ticker for %s: %w", pair, err)
	}

	data, ok := result[code]
	if !ok || len(data.C) == 0 || len(data.B) == 0 || len(data.A) == 0 ||
		len(data.V) < 2 || len(data.P) < 2 || len(data.H) < 2 || len(data.L) < 2 {
		return nil, fmt.Errorf("no ticker data for %s", pair)
	}

	ticker := &Ticker{
		Pair:      pair,
		Timestamp: time.Now(),
	}
	if ticker.Last, err = decimal.NewFromString(data.C[0]); err != nil {
		return nil, fmt.Errorf("invalid last price for %s: %w", pair, err)
	}
	if ticker.Bid, err = decimal.NewFromString(data.B[0]); err != nil {
		return nil, fmt.Errorf("invalid bid for %s: %w", pair, err)
	}
	if ticker.Ask, err = decimal.NewFromString(data.A[0]); err != nil {
		return nil, fmt.Errorf("invalid ask for %s: %w", pair, err)
	}
	if ticker.Volume24h, err = decimal.NewFromString(data.V[1]); err != nil {
		return nil, fmt.Errorf("invalid volume for %s: %w", pair, err)
	}
	if ticker.VWAP24h, err = decimal.NewFromString(data.P[1]); err != nil {
		return nil, fmt.Errorf("invalid vwap for %s: %w", pair, err)
	}
	if ticker.High24h, err = decimal.NewFromString(data.H[1]); err != nil {
		return nil, fmt.Errorf("invalid 24h high for %s: %w", pair, err)
	}
	if ticker.Low24h, err = decimal.NewFromString(data.L[1]); err != nil {
		return nil, fmt.Errorf("invalid 24h low for %s: %w", pair, err)
	}
	ticker.Spread = ticker.Ask.Sub(ticker.Bid)
	if ticker.Last.IsPositive() {
		ticker.SpreadPct = ticker.Spread.Div(ticker.Last).Mul(decimal.NewFromInt(100))
	}

	if err := c.cache.Set(ctx, pair, ticker); err != nil {
		c.log.Warn().Str("pair", pair).Err(err).Msg("ticker cache write failed")
	}
	return ticker, nil
}

// GetOHLCV returns candles for a pair at the given interval in minutes.
// Kraken caps the response at 720 bars.
func (c *Client) GetOHLCV(ctx context.Context, pair string, intervalMinutes int, since time.Time) ([]Bar, error) {
	code, err := KrakenPair(pair)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("pair", code)
	params.Set("interval", strconv.Itoa(intervalMinutes))
	if !since.IsZero() {
		params.Set("since", strconv.FormatInt(since.Unix(), 10))
	}

	var result map[string]json.RawMessage
	if err := c.get(ctx, "/0/public/OHLC", params, &result); err != nil {
		return nil, fmt.Errorf("OHLC for %s: %w", pair, err)
	}

	raw, ok := result[code]
	if !ok {
		return nil, fmt.Errorf("no OHLC data for %s", pair)
	}

	var rows [][]json.Number
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse OHLC rows for %s: %w", pair, err)
	}

	bars := make([]Bar, 0, len(rows))
	for _, row := range rows {
		// [time, open, high, low, close, vwap, volume, count]
		if len(row) < 7 {
			continue
		}
		ts, err := row[0].Int64()
		if err != nil {
			return nil, fmt.Errorf("invalid bar timestamp for %s: %w", pair, err)
		}
		bar := Bar{Time: time.Unix(ts, 0).UTC()}
		fields := []struct {
			dst *decimal.Decimal
			src json.Number
		}{
			{&bar.Open, row[1]},
			{&bar.High, row[2]},
			{&bar.Low, row[3]},
			{&bar.Close, row[4]},
			{&bar.Volume, row[6]},
		}
		for _, f := range fields {
			v, err := decimal.NewFromString(f.src.String())
			if err != nil {
				return nil, fmt.Errorf("invalid bar value for %s: %w", pair, err)
			}
			*f.dst = v
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// GetDailyBars returns up to days daily candles for a pair, oldest first.
func (c *Client) GetDailyBars(ctx context.Context, pair string, days int) ([]Bar, error) {
	since := time.Now().AddDate(0, 0, -days)
	bars, err := c.GetOHLCV(ctx, pair, 1440, since)
	if err != nil {
		return nil, err
	}
	if len(bars) > days {
		bars = bars[len(bars)-days:]
	}
	return bars, nil
}

// GetHistoricalPrices returns daily closes for a pair, oldest first.
func (c *Client) GetHistoricalPrices(ctx context.Context, pair string, days int) ([]decimal.Decimal, error) {
	bars, err := c.GetDailyBars(ctx, pair, days)
	if err != nil {
		return nil, err
	}
	prices := make([]decimal.Decimal, len(bars))
	for i, bar := range bars {
		prices[i] = bar.Close
	}
	return prices, nil
}

// GetHistoricalVolumes returns daily volumes for a pair, oldest first.
func (c *Client) GetHistoricalVolumes(ctx context.Context, pair string, days int) ([]decimal.Decimal, error) {
	bars, err := c.GetDailyBars(ctx, pair, days)
	if err != nil {
		return nil, err
	}
	volumes := make([]decimal.Decimal, len(bars))
	for i, bar := range bars {
		volumes[i] = bar.Volume
	}
	return volumes, nil
}

// CalculateATR computes the average true range over the last period bars.
func CalculateATR(bars []Bar, period int) (decimal.Decimal, error) {
	if period <= 0 {
		return decimal.Zero, fmt.Errorf("ATR period must be positive, got %d", period)
	}
	if len(bars) < period+1 {
		return decimal.Zero, fmt.Errorf("need %d bars for ATR(%d), have %d", period+1, period, len(bars))
	}

	window := bars[len(bars)-period-1:]
	sum := decimal.Zero
	for i := 1; i < len(window); i++ {
		prevClose := window[i-1].Close
		highLow := window[i].High.Sub(window[i].Low)
		highClose := window[i].High.Sub(prevClose).Abs()
		lowClose := window[i].Low.Sub(prevClose).Abs()

		tr := highLow
		if highClose.GreaterThan(tr) {
			tr = highClose
		}
		if lowClose.GreaterThan(tr) {
			tr = lowClose
		}
		sum = sum.Add(tr)
	}
	return sum.Div(decimal.NewFromInt(int64(period))), nil
}

// CalculateVolatilityPct returns ATR(14) as a percentage of the latest
// close, the volatility input the position sizer expects.
func (c *Client) CalculateVolatilityPct(ctx context.Context, pair string, days int) (decimal.Decimal, error) {
	bars, err := c.GetDailyBars(ctx, pair, days)
	if err != nil {
		return decimal.Zero, err
	}
	atr, err := CalculateATR(bars, 14)
	if err != nil {
		return decimal.Zero, err
	}
	last := bars[len(bars)-1].Close
	if !last.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive close for %s", pair)
	}
	return atr.Div(last).Mul(decimal.NewFromInt(100)), nil
}

// HealthCheck probes the server time endpoint and reports latency.
func (c *Client) HealthCheck(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	var result struct {
		UnixTime int64 `json:"unixtime"`
	}
	if err := c.get(ctx, "/0/public/Time", nil, &result); err != nil {
		return time.Since(start), fmt.Errorf("exchange health check: %w", err)
	}
	return time.Since(start), nil
}

// BreakerState exposes the circuit breaker state for monitoring.
func (c *Client) BreakerState() string {
	return c.breaker.State()
}

// Close releases cache resources.
func (c *Client) Close() error {
	return c.cache.Close()
}
