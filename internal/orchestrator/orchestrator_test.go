package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/gridrun/internal/allocator"
	"github.com/sawpanic/gridrun/internal/exchange"
	"github.com/sawpanic/gridrun/internal/gates"
	"github.com/sawpanic/gridrun/internal/sizing"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func fp(v float64) *float64 { return &v }

type fakeMarket struct {
	healthErr     error
	tickers       map[string]*exchange.Ticker
	tickerErr     map[string]error
	bars          map[string][]exchange.Bar
	prices        map[string][]decimal.Decimal
	volumes       map[string][]decimal.Decimal
	volatility    map[string]decimal.Decimal
	volatilityErr map[string]error
}

func (f *fakeMarket) HealthCheck(context.Context) (time.Duration, error) {
	return time.Millisecond, f.healthErr
}

func (f *fakeMarket) GetTicker(_ context.Context, pair string) (*exchange.Ticker, error) {
	if err, ok := f.tickerErr[pair]; ok {
		return nil, err
	}
	t, ok := f.tickers[pair]
	if !ok {
		return nil, fmt.Errorf("no ticker for %s", pair)
	}
	return t, nil
}

func (f *fakeMarket) GetDailyBars(_ context.Context, pair string, days int) ([]exchange.Bar, error) {
	bars, ok := f.bars[pair]
	if !ok {
		return nil, fmt.Errorf("no bars for %s", pair)
	}
	return bars, nil
}

func (f *fakeMarket) GetHistoricalPrices(_ context.Context, pair string, days int) ([]decimal.Decimal, error) {
	prices, ok := f.prices[pair]
	if !ok {
		return nil, fmt.Errorf("no prices for %s", pair)
	}
	return prices, nil
}

func (f *fakeMarket) GetHistoricalVolumes(_ context.Context, pair string, days int) ([]decimal.Decimal, error) {
	volumes, ok := f.volumes[pair]
	if !ok {
		return nil, fmt.Errorf("no volumes for %s", pair)
	}
	return volumes, nil
}

func (f *fakeMarket) CalculateVolatilityPct(_ context.Context, pair string, days int) (decimal.Decimal, error) {
	if err, ok := f.volatilityErr[pair]; ok {
		return decimal.Zero, err
	}
	v, ok := f.volatility[pair]
	if !ok {
		return decimal.Zero, fmt.Errorf("no volatility for %s", pair)
	}
	return v, nil
}

// steadyBars yields bars with a constant true range, so ATR(14) equals the
// 30-day average and the regime stays favorable.
func steadyBars(n int) []exchange.Bar {
	bars := make([]exchange.Bar, n)
	for i := range bars {
		bars[i] = exchange.Bar{
			High:  d("105"),
			Low:   d("95"),
			Close: d("100"),
		}
	}
	return bars
}

func flatSeries(n int, value string) []decimal.Decimal {
	series := make([]decimal.Decimal, n)
	for i := range series {
		series[i] = d(value)
	}
	return series
}

// pullbackPrices sit 35% below a recent spike, inside the entry band.
func pullbackPrices() []decimal.Decimal {
	prices := flatSeries(65, "100")
	prices[30] = d("150")
	prices[64] = d("97.5")
	return prices
}

func newFakeMarket(pairs ...string) *fakeMarket {
	f := &fakeMarket{
		tickers:       make(map[string]*exchange.Ticker),
		tickerErr:     make(map[string]error),
		bars:          map[string][]exchange.Bar{"BTC/USD": steadyBars(45)},
		prices:        map[string][]decimal.Decimal{"BTC/USD": flatSeries(65, "50000")},
		volumes:       make(map[string][]decimal.Decimal),
		volatility:    make(map[string]decimal.Decimal),
		volatilityErr: make(map[string]error),
	}
	f.tickers["BTC/USD"] = &exchange.Ticker{Pair: "BTC/USD", Last: d("50000")}
	f.volatility["BTC/USD"] = d("2")

	for _, pair := range pairs {
		f.tickers[pair] = &exchange.Ticker{Pair: pair, Last: d("97.5"), SpreadPct: d("0.02")}
		f.prices[pair] = pullbackPrices()
		f.volumes[pair] = flatSeries(65, "1000")
		f.volatility[pair] = d("2")
	}
	return f
}

func newTestOrchestrator(cfg Config, market MarketData, opts Options) *Orchestrator {
	return New(cfg, market, sizing.DefaultSizerConfig(d("5000")), opts, zerolog.Nop())
}

func TestScan_EmitsEntryForRankedPullback(t *testing.T) {
	market := newFakeMarket("ETH/USD")
	orch := newTestOrchestrator(Config{
		Pairs:       []string{"BTC/USD", "ETH/USD"},
		GridStepPct: d("0.01"),
		TopN:        2,
	}, market, Options{})

	result, err := orch.Scan(context.Background())
	require.NoError(t, err)

	require.NotNil(t, result.Regime)
	assert.Equal(t, gates.RegimeFavorable, result.Regime.State)
	require.Len(t, result.Signals, 2)

	// Entries sort first.
	entry := result.Signals[0]
	assert.Equal(t, "ETH/USD", entry.Pair)
	assert.Equal(t, SignalEntry, entry.Type)
	assert.Equal(t, ConfidenceHigh, entry.Confidence)
	assert.Equal(t, string("pullback_entry"), entry.EntrySignal)
	for check, passed := range entry.Checks {
		assert.True(t, passed, "check %s failed", check)
	}
	require.NotNil(t, entry.Size)
	// 5000 * 0.5 / (2 * 1.5) = 833.33
	assert.Equal(t, "833.33", entry.Size.SizeUSD.Round(2).String())

	assert.Equal(t, "buy", entry.Side)
	require.NotNil(t, entry.Metadata)
	assert.Equal(t, "favorable", entry.Metadata["regime"])
	assert.Equal(t, "0.02", entry.Metadata["spread_pct"])
	assert.Contains(t, entry.Metadata, "momentum_vs_btc")
	assert.Contains(t, entry.Metadata, "volume_expansion")

	// The benchmark is never ranked, so it cannot be an entry.
	skip := result.Signals[1]
	assert.Equal(t, "BTC/USD", skip.Pair)
	assert.Equal(t, SignalSkip, skip.Type)
	assert.Equal(t, "none", skip.Side)
	assert.False(t, skip.Checks[CheckRankedEntry])
	assert.NotEmpty(t, skip.ID)
	assert.NotEqual(t, entry.ID, skip.ID)
}

func TestScan_PauseRegimeEmitsSingleSignal(t *testing.T) {
	market := newFakeMarket("ETH/USD")
	orch := newTestOrchestrator(DefaultConfig(), market, Options{
		RegimeInputs: func(context.Context) (gates.RegimeInputs, error) {
			return gates.RegimeInputs{
				BTCDominanceChange7d: fp(5.0),
				FundingRate:          fp(0.2),
			}, nil
		},
	})

	result, err := orch.Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, gates.RegimePause, result.Regime.State)
	require.Len(t, result.Signals, 1)
	sig := result.Signals[0]
	assert.Equal(t, SignalPause, sig.Type)
	assert.Equal(t, "*", sig.Pair)
	assert.False(t, sig.Checks[CheckRegimeFavorable])
	assert.True(t, sig.SpacingMult.Equal(d("2.0")))
}

func TestScan_FeeGateFailureSkips(t *testing.T) {
	market := newFakeMarket("ETH/USD")
	orch := newTestOrchestrator(Config{
		Pairs:       []string{"ETH/USD"},
		GridStepPct: d("0.001"),
		TopN:        2,
	}, market, Options{})

	result, err := orch.Scan(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Signals, 1)
	sig := result.Signals[0]
	assert.Equal(t, SignalSkip, sig.Type)
	assert.False(t, sig.Checks[CheckFeeGate])
	require.NotEmpty(t, sig.Reasons)
	assert.Contains(t, sig.Reasons[0], "FAIL")
}

func TestScan_FeeGateIgnoresSpacingMultiplier(t *testing.T) {
	market := newFakeMarket("SOL/USD")
	orch := newTestOrchestrator(Config{
		Pairs:       []string{"SOL/USD"},
		GridStepPct: d("0.005"),
		TopN:        2,
	}, market, Options{
		RegimeInputs: func(context.Context) (gates.RegimeInputs, error) {
			return gates.RegimeInputs{CurrentATR: fp(0.4), AvgATR30d: fp(1.0)}, nil
		},
	})

	result, err := orch.Scan(context.Background())
	require.NoError(t, err)

	require.NotNil(t, result.Regime)
	assert.Equal(t, gates.RegimeWidenGrids, result.Regime.State)

	// The fee gate sees the configured 0.5% step, which is below SOL's 0.51%
	// minimum. Widened spacing only affects the emitted multiplier.
	require.Len(t, result.Signals, 1)
	sig := result.Signals[0]
	assert.Equal(t, SignalSkip, sig.Type)
	assert.False(t, sig.Checks[CheckFeeGate])
	assert.True(t, sig.SpacingMult.Equal(d("1.5")))
}

func TestScan_MissingRegimeDataDegrades(t *testing.T) {
	market := newFakeMarket("ETH/USD")
	delete(market.bars, "BTC/USD")

	orch := newTestOrchestrator(Config{
		Pairs:       []string{"BTC/USD", "ETH/USD"},
		GridStepPct: d("0.01"),
		TopN:        2,
	}, market, Options{})

	result, err := orch.Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, gates.RegimeFavorable, result.Regime.State)
	assert.Contains(t, result.Warnings, "regime data unavailable: no bars for BTC/USD")
	assert.Equal(t, 1, result.EntryCount())
}

func TestScan_TickerFailureSkipsPairWithWarning(t *testing.T) {
	market := newFakeMarket("ETH/USD", "SOL/USD")
	market.tickerErr["SOL/USD"] = fmt.Errorf("venue timeout")

	orch := newTestOrchestrator(Config{
		Pairs:       []string{"ETH/USD", "SOL/USD"},
		GridStepPct: d("0.01"),
		TopN:        2,
	}, market, Options{})

	result, err := orch.Scan(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Signals, 1)
	assert.Equal(t, "ETH/USD", result.Signals[0].Pair)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "SOL/USD")
}

func TestScan_HealthFailureAborts(t *testing.T) {
	market := newFakeMarket("ETH/USD")
	market.healthErr = fmt.Errorf("connection refused")

	orch := newTestOrchestrator(DefaultConfig(), market, Options{})

	_, err := orch.Scan(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "health check")
}

func TestScan_ExhaustedCapitalAborts(t *testing.T) {
	market := newFakeMarket("ETH/USD")
	capital, err := allocator.New(d("5000"))
	require.NoError(t, err)
	require.True(t, capital.Deploy(allocator.BucketCoreBot, capital.Available(allocator.BucketCoreBot), false))

	orch := newTestOrchestrator(DefaultConfig(), market, Options{Capital: capital})

	_, err = orch.Scan(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no deployable capital")
}

func TestScan_TopNCapsEntries(t *testing.T) {
	market := newFakeMarket("ETH/USD", "SOL/USD", "ADA/USD")
	orch := newTestOrchestrator(Config{
		Pairs:       []string{"ETH/USD", "SOL/USD", "ADA/USD"},
		GridStepPct: d("0.01"),
		TopN:        1,
	}, market, Options{})

	result, err := orch.Scan(context.Background())
	require.NoError(t, err)

	// Entries beyond the cap are dropped, not downgraded.
	require.Len(t, result.Signals, 1)
	assert.Equal(t, 1, result.EntryCount())
	assert.Equal(t, SignalEntry, result.Signals[0].Type)
}

func TestScan_VolatilityFallback(t *testing.T) {
	market := newFakeMarket("ETH/USD")
	market.volatilityErr["ETH/USD"] = fmt.Errorf("not enough bars")

	orch := newTestOrchestrator(Config{
		Pairs:       []string{"ETH/USD"},
		GridStepPct: d("0.01"),
		TopN:        2,
	}, market, Options{})

	result, err := orch.Scan(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Signals, 1)
	sig := result.Signals[0]
	require.NotNil(t, sig.Size)
	// fallback 5% volatility -> 7.5% stop -> 5000 * 0.5 / 7.5 = 333.33
	assert.Equal(t, "333.33", sig.Size.SizeUSD.Round(2).String())

	found := false
	for _, warning := range result.Warnings {
		if warning == "ETH/USD: volatility fallback 5% used" {
			found = true
		}
	}
	assert.True(t, found, "warnings: %v", result.Warnings)
}

type fakeRecorder struct {
	recorded []*ScanResult
	err      error
}

func (r *fakeRecorder) RecordScan(_ context.Context, result *ScanResult) error {
	if r.err != nil {
		return r.err
	}
	r.recorded = append(r.recorded, result)
	return nil
}

type fakeMetrics struct {
	scans   int
	regimes []string
	signals map[string]int
}

func (m *fakeMetrics) ObserveScan(_ time.Duration, regime string) {
	m.scans++
	m.regimes = append(m.regimes, regime)
}

func (m *fakeMetrics) IncSignal(signalType string) {
	if m.signals == nil {
		m.signals = make(map[string]int)
	}
	m.signals[signalType]++
}

func TestScan_Hooks(t *testing.T) {
	market := newFakeMarket("ETH/USD")
	recorder := &fakeRecorder{}
	sink := &fakeMetrics{}

	orch := newTestOrchestrator(Config{
		Pairs:       []string{"ETH/USD"},
		GridStepPct: d("0.01"),
		TopN:        2,
	}, market, Options{Repo: recorder, Metrics: sink})

	result, err := orch.Scan(context.Background())
	require.NoError(t, err)

	require.Len(t, recorder.recorded, 1)
	assert.Equal(t, result.ScanID, recorder.recorded[0].ScanID)
	assert.Equal(t, 1, sink.scans)
	assert.Equal(t, []string{"favorable"}, sink.regimes)
	assert.Equal(t, 1, sink.signals["entry"])
}

func TestScan_RecorderFailureIsAWarning(t *testing.T) {
	market := newFakeMarket("ETH/USD")
	recorder := &fakeRecorder{err: fmt.Errorf("db down")}

	orch := newTestOrchestrator(Config{
		Pairs:       []string{"ETH/USD"},
		GridStepPct: d("0.01"),
		TopN:        2,
	}, market, Options{Repo: recorder})

	result, err := orch.Scan(context.Background())
	require.NoError(t, err)

	found := false
	for _, warning := range result.Warnings {
		if warning == "scan not persisted: db down" {
			found = true
		}
	}
	assert.True(t, found, "warnings: %v", result.Warnings)
}

func TestScanResult_Summary(t *testing.T) {
	market := newFakeMarket("ETH/USD")
	orch := newTestOrchestrator(Config{
		Pairs:       []string{"ETH/USD"},
		GridStepPct: d("0.01"),
		TopN:        2,
	}, market, Options{})

	result, err := orch.Scan(context.Background())
	require.NoError(t, err)

	summary := result.Summary()
	assert.Contains(t, summary, "Grid Trading Scan Report")
	assert.Contains(t, summary, "Regime: FAVORABLE")
	assert.Contains(t, summary, "[ENTRY] ETH/USD (high)")
	assert.Contains(t, summary, "size $833.33")
}
