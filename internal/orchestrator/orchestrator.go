// Package orchestrator sequences the decision pipeline for one scan: venue
// health, regime gate, fee gate, ranking, sizing, and capital checks, fused
// into advisory trading signals.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/gridrun/internal/allocator"
	"github.com/sawpanic/gridrun/internal/exchange"
	"github.com/sawpanic/gridrun/internal/gates"
	"github.com/sawpanic/gridrun/internal/rotation"
	"github.com/sawpanic/gridrun/internal/sizing"
)

// MarketData is the market access the orchestrator needs. exchange.Client
// satisfies it; tests supply a fake.
type MarketData interface {
	HealthCheck(ctx context.Context) (time.Duration, error)
	GetTicker(ctx context.Context, pair string) (*exchange.Ticker, error)
	GetDailyBars(ctx context.Context, pair string, days int) ([]exchange.Bar, error)
	GetHistoricalPrices(ctx context.Context, pair string, days int) ([]decimal.Decimal, error)
	GetHistoricalVolumes(ctx context.Context, pair string, days int) ([]decimal.Decimal, error)
	CalculateVolatilityPct(ctx context.Context, pair string, days int) (decimal.Decimal, error)
}

// MetricsSink receives scan telemetry. The prometheus registry implements
// it; a nil sink disables telemetry.
type MetricsSink interface {
	ObserveScan(duration time.Duration, regime string)
	IncSignal(signalType string)
}

// ScanRecorder persists scan outcomes. A nil recorder disables persistence.
type ScanRecorder interface {
	RecordScan(ctx context.Context, result *ScanResult) error
}

const (
	benchmarkPair = "BTC/USD"

	// Lookbacks, in days. Ranking needs the long volume window plus the
	// momentum window; regime needs the 30-day ATR average plus warmup.
	rankLookbackDays   = 65
	regimeLookbackDays = 45

	atrPeriod        = 14
	atrAvgPeriodDays = 30
)

// fallbackVolatilityPct is assumed when volatility cannot be computed.
var fallbackVolatilityPct = decimal.NewFromInt(5)

// Config drives one orchestrator instance.
type Config struct {
	Pairs       []string        `yaml:"pairs"`
	GridStepPct decimal.Decimal `yaml:"grid_step_pct"`
	TopN        int             `yaml:"top_n"`
}

// DefaultConfig scans the stock eight-pair universe with a 1% grid step,
// capped at two concurrent entries.
func DefaultConfig() Config {
	return Config{
		Pairs: []string{
			"BTC/USD", "ETH/USD", "SOL/USD", "XRP/USD",
			"ADA/USD", "DOT/USD", "LINK/USD", "AVAX/USD",
		},
		GridStepPct: decimal.RequireFromString("0.01"),
		TopN:        2,
	}
}

// Orchestrator runs scans. It owns the gates, sizer, and ranker; market
// data, metrics, and persistence are injected.
type Orchestrator struct {
	config  Config
	market  MarketData
	feeGate *gates.FeeGate
	regime  *gates.RegimeGate
	sizer   *sizing.VolatilitySizer
	ranker  *rotation.AssetRanker
	capital *allocator.Allocator
	metrics MetricsSink
	repo    ScanRecorder
	inputs  func(ctx context.Context) (gates.RegimeInputs, error)
	log     zerolog.Logger
}

// Options carries the optional collaborators. Nil gates fall back to the
// stock thresholds.
type Options struct {
	FeeGate    *gates.FeeGate
	RegimeGate *gates.RegimeGate
	Capital    *allocator.Allocator
	Metrics    MetricsSink
	Repo       ScanRecorder

	// RegimeInputs overrides how regime indicators are sourced. The default
	// derives ATR compression from benchmark daily bars; an override can add
	// dominance and funding data from elsewhere.
	RegimeInputs func(ctx context.Context) (gates.RegimeInputs, error)
}

// New wires an orchestrator from its components.
func New(cfg Config, market MarketData, sizerCfg sizing.SizerConfig, opts Options, log zerolog.Logger) *Orchestrator {
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultConfig().TopN
	}
	if cfg.GridStepPct.IsZero() {
		cfg.GridStepPct = DefaultConfig().GridStepPct
	}
	if len(cfg.Pairs) == 0 {
		cfg.Pairs = DefaultConfig().Pairs
	}
	if opts.FeeGate == nil {
		opts.FeeGate = gates.NewFeeGate(gates.DefaultFeeGateConfig())
	}
	if opts.RegimeGate == nil {
		opts.RegimeGate = gates.NewRegimeGate()
	}
	return &Orchestrator{
		config:  cfg,
		market:  market,
		feeGate: opts.FeeGate,
		regime:  opts.RegimeGate,
		sizer:   sizing.NewVolatilitySizer(sizerCfg),
		ranker:  rotation.NewAssetRanker(),
		capital: opts.Capital,
		metrics: opts.Metrics,
		repo:    opts.Repo,
		inputs:  opts.RegimeInputs,
		log:     log.With().Str("component", "orchestrator").Logger(),
	}
}

// Scan runs the full pipeline once and returns the signal set.
func (o *Orchestrator) Scan(ctx context.Context) (*ScanResult, error) {
	start := time.Now()
	result := &ScanResult{
		ScanID:    uuid.New().String(),
		StartedAt: start.UTC(),
	}

	o.log.Info().Str("scan_id", result.ScanID).Strs("pairs", o.config.Pairs).Msg("scan started")

	latency, err := o.market.HealthCheck(ctx)
	if err != nil {
		return nil, fmt.Errorf("venue health check failed: %w", err)
	}
	o.log.Debug().Dur("latency", latency).Msg("venue healthy")

	if o.capital != nil && !o.capital.Available(allocator.BucketCoreBot).IsPositive() {
		return nil, fmt.Errorf("no deployable capital in %s bucket", allocator.BucketCoreBot)
	}

	regimeResult, err := o.evaluateRegime(ctx, result)
	if err != nil {
		return nil, fmt.Errorf("regime evaluation failed: %w", err)
	}
	result.Regime = regimeResult
	o.log.Info().
		Str("regime", regimeResult.State.String()).
		Str("spacing_multiplier", regimeResult.GridSpacingMultiplier.String()).
		Msg("regime evaluated")

	if regimeResult.State == gates.RegimePause {
		sig := newSignal("*", SignalPause)
		sig.Confidence = ConfidenceHigh
		sig.Checks[CheckRegimeFavorable] = false
		sig.SpacingMult = regimeResult.GridSpacingMultiplier
		sig.Reasons = regimeResult.RecommendedActions
		result.Signals = []*TradingSignal{sig}
		o.finish(ctx, result, start)
		return result, nil
	}

	tickers := o.fetchTickers(ctx, result)
	scores := o.rankAssets(ctx, result)

	for _, pair := range o.config.Pairs {
		ticker, ok := tickers[pair]
		if !ok {
			continue
		}
		sig := o.synthesize(ctx, pair, ticker, regimeResult, scores, result)
		result.Signals = append(result.Signals, sig)
	}

	sortSignals(result.Signals)
	result.Signals = capEntries(result.Signals, o.config.TopN)

	o.finish(ctx, result, start)
	return result, nil
}

func (o *Orchestrator) finish(ctx context.Context, result *ScanResult, start time.Time) {
	result.Duration = time.Since(start)

	if o.metrics != nil {
		o.metrics.ObserveScan(result.Duration, result.Regime.State.String())
		for _, sig := range result.Signals {
			o.metrics.IncSignal(string(sig.Type))
		}
	}
	if o.repo != nil {
		if err := o.repo.RecordScan(ctx, result); err != nil {
			o.log.Warn().Err(err).Msg("scan persistence failed")
			result.Warnings = append(result.Warnings, fmt.Sprintf("scan not persisted: %v", err))
		}
	}

	o.log.Info().
		Str("scan_id", result.ScanID).
		Int("signals", len(result.Signals)).
		Int("entries", result.EntryCount()).
		Dur("duration", result.Duration).
		Msg("scan complete")
}

// evaluateRegime derives regime inputs from benchmark daily bars: ATR(14)
// against its 30-day average. Missing benchmark data degrades to a no-input
// evaluation with a warning rather than failing the scan.
func (o *Orchestrator) evaluateRegime(ctx context.Context, result *ScanResult) (*gates.RegimeGateResult, error) {
	if o.inputs != nil {
		inputs, err := o.inputs(ctx)
		if err != nil {
			return nil, fmt.Errorf("regime inputs: %w", err)
		}
		verdict := o.regime.Evaluate(inputs)
		return &verdict, nil
	}

	inputs := gates.RegimeInputs{}
	bars, err := o.market.GetDailyBars(ctx, benchmarkPair, regimeLookbackDays)
	if err == nil {
		var current, avg decimal.Decimal
		current, err = exchange.CalculateATR(bars, atrPeriod)
		if err == nil {
			avg, err = exchange.CalculateATR(bars, atrAvgPeriodDays)
		}
		if err == nil {
			currentF, _ := current.Float64()
			avgF, _ := avg.Float64()
			inputs.CurrentATR = &currentF
			inputs.AvgATR30d = &avgF
		}
	}
	if err != nil {
		o.log.Warn().Err(err).Msg("regime data unavailable, evaluating without indicators")
		result.Warnings = append(result.Warnings, fmt.Sprintf("regime data unavailable: %v", err))
	}

	verdict := o.regime.Evaluate(inputs)
	return &verdict, nil
}

func (o *Orchestrator) fetchTickers(ctx context.Context, result *ScanResult) map[string]*exchange.Ticker {
	tickers := make(map[string]*exchange.Ticker, len(o.config.Pairs))
	for _, pair := range o.config.Pairs {
		ticker, err := o.market.GetTicker(ctx, pair)
		if err != nil {
			o.log.Warn().Str("pair", pair).Err(err).Msg("ticker fetch failed, skipping pair")
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: ticker unavailable: %v", pair, err))
			continue
		}
		tickers[pair] = ticker
	}
	return tickers
}

// rankAssets builds the ranking universe from historical data. The
// benchmark itself is never ranked. Failures degrade to an empty ranking
// with a warning; missing ranks block entries but not the rest of the scan.
func (o *Orchestrator) rankAssets(ctx context.Context, result *ScanResult) map[string]rotation.AssetScore {
	btcPrices, err := o.market.GetHistoricalPrices(ctx, benchmarkPair, rankLookbackDays)
	if err != nil {
		o.log.Warn().Err(err).Msg("benchmark history unavailable, skipping ranking")
		result.Warnings = append(result.Warnings, fmt.Sprintf("ranking skipped: %v", err))
		return nil
	}

	universe := make(map[string]rotation.AssetData)
	for _, pair := range o.config.Pairs {
		if pair == benchmarkPair {
			continue
		}
		prices, err := o.market.GetHistoricalPrices(ctx, pair, rankLookbackDays)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: price history unavailable: %v", pair, err))
			continue
		}
		volumes, err := o.market.GetHistoricalVolumes(ctx, pair, rankLookbackDays)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: volume history unavailable: %v", pair, err))
			continue
		}
		universe[pair] = rotation.AssetData{Prices: prices, Volumes: volumes}
	}

	ranked, err := o.ranker.Rank(universe, btcPrices)
	if err != nil {
		o.log.Warn().Err(err).Msg("ranking failed")
		result.Warnings = append(result.Warnings, fmt.Sprintf("ranking failed: %v", err))
		return nil
	}

	scores := make(map[string]rotation.AssetScore, len(ranked))
	for _, score := range ranked {
		scores[score.Symbol] = score
	}
	return scores
}

// synthesize fuses the gate, sizer, and ranker outputs into one signal for
// a pair. Skip reasons follow a fixed precedence: regime, fees, capital,
// size, then entry quality.
func (o *Orchestrator) synthesize(ctx context.Context, pair string, ticker *exchange.Ticker, regime *gates.RegimeGateResult, scores map[string]rotation.AssetScore, result *ScanResult) *TradingSignal {
	sig := newSignal(pair, SignalSkip)
	sig.Price = ticker.Last
	sig.SpacingMult = regime.GridSpacingMultiplier
	sig.Confidence = ConfidenceLow

	feeResult := o.feeGate.Evaluate(pair, o.config.GridStepPct)
	sig.MinGridStepPct = feeResult.MinimumStep

	sig.Checks[CheckRegimeFavorable] = regime.CanOpenNewPositions
	sig.Checks[CheckFeeGate] = feeResult.Passed

	score, ranked := scores[pair]
	if ranked {
		sig.CompositeScore = score.CompositeScore
		sig.EntrySignal = string(score.EntrySignal)
	}
	sig.Checks[CheckRankedEntry] = ranked &&
		(score.EntrySignal == rotation.PullbackEntry || score.EntrySignal == rotation.RetestEntry)

	volatility, err := o.market.CalculateVolatilityPct(ctx, pair, regimeLookbackDays)
	if err != nil {
		o.log.Warn().Str("pair", pair).Err(err).Msg("volatility unavailable, using fallback")
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s: volatility fallback %s%% used", pair, fallbackVolatilityPct))
		volatility = fallbackVolatilityPct
	}

	size, err := o.sizer.Calculate(volatility, ticker.Last, nil)
	if err != nil {
		sig.Checks[CheckSizeValid] = false
		sig.Reasons = append(sig.Reasons, fmt.Sprintf("sizing failed: %v", err))
	} else {
		sig.Size = &size
		sig.Checks[CheckSizeValid] = size.SkipReason == ""
	}

	sig.Checks[CheckCapitalAvailable] = true
	if o.capital != nil && sig.Size != nil && sig.Size.SizeUSD.IsPositive() {
		check := o.capital.CanDeploy(allocator.BucketCoreBot, sig.Size.SizeUSD)
		sig.Checks[CheckCapitalAvailable] = check.Allowed
		if !check.Allowed {
			sig.Reasons = append(sig.Reasons, check.Message)
		}
		result.Warnings = append(result.Warnings, check.Warnings...)
	}

	switch {
	case !sig.Checks[CheckRegimeFavorable]:
		sig.Reasons = append(sig.Reasons, "regime blocks new positions")
	case !sig.Checks[CheckFeeGate]:
		sig.Reasons = append(sig.Reasons, feeResult.Message)
		if feeResult.Recommendation != "" {
			sig.Reasons = append(sig.Reasons, feeResult.Recommendation)
		}
	case !sig.Checks[CheckCapitalAvailable]:
		// Reason already recorded from the allocator check.
	case !sig.Checks[CheckSizeValid]:
		sig.Reasons = append(sig.Reasons, "position size below minimum")
	case !sig.Checks[CheckRankedEntry]:
		sig.Reasons = append(sig.Reasons, "no actionable entry signal")
	default:
		sig.Type = SignalEntry
		sig.Side = "buy"
		sig.Confidence = ConfidenceMedium
		if score.EntrySignal == rotation.PullbackEntry {
			sig.Confidence = ConfidenceHigh
		}
		sig.Reasons = append(sig.Reasons, fmt.Sprintf("entry on %s, composite score %s",
			score.EntrySignal, score.CompositeScore.StringFixed(4)))
		sig.Metadata = map[string]string{
			"momentum_vs_btc":  score.MomentumVsBTC.String(),
			"volume_expansion": score.VolumeExpansion.String(),
			"regime":           regime.State.String(),
			"spread_pct":       ticker.SpreadPct.String(),
		}
	}

	return sig
}

var confidenceRank = map[Confidence]int{
	ConfidenceHigh:   0,
	ConfidenceMedium: 1,
	ConfidenceLow:    2,
}

// sortSignals orders entries before skips, higher confidence first, keeping
// the original pair order within ties.
func sortSignals(signals []*TradingSignal) {
	sort.SliceStable(signals, func(i, j int) bool {
		if (signals[i].Type == SignalEntry) != (signals[j].Type == SignalEntry) {
			return signals[i].Type == SignalEntry
		}
		return confidenceRank[signals[i].Confidence] < confidenceRank[signals[j].Confidence]
	})
}

// capEntries drops entries beyond the top n; non-entry signals always pass
// through. Assumes the slice is already sorted entries-first.
func capEntries(signals []*TradingSignal, n int) []*TradingSignal {
	kept := signals[:0]
	entries := 0
	for _, sig := range signals {
		if sig.Type == SignalEntry {
			entries++
			if entries > n {
				continue
			}
		}
		kept = append(kept, sig)
	}
	return kept
}

// Summary renders a human-readable scan report.
func (r *ScanResult) Summary() string {
	var b strings.Builder
	b.WriteString("Grid Trading Scan Report\n")
	b.WriteString(strings.Repeat("=", 50) + "\n")
	fmt.Fprintf(&b, "Scan ID:  %s\n", r.ScanID)
	fmt.Fprintf(&b, "Started:  %s\n", r.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Duration: %s\n\n", r.Duration.Round(time.Millisecond))

	if r.Regime != nil {
		fmt.Fprintf(&b, "Regime: %s (spacing x%s)\n", strings.ToUpper(r.Regime.State.String()),
			r.Regime.GridSpacingMultiplier)
		for _, action := range r.Regime.RecommendedActions {
			fmt.Fprintf(&b, "  - %s\n", action)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Signals (%d, %d entries):\n", len(r.Signals), r.EntryCount())
	for _, sig := range r.Signals {
		fmt.Fprintf(&b, "  [%s] %s (%s)\n", strings.ToUpper(string(sig.Type)), sig.Pair, sig.Confidence)
		if sig.Size != nil && sig.Size.SizeUSD.IsPositive() {
			fmt.Fprintf(&b, "    size $%s, stop %s%%\n", sig.Size.SizeUSD.StringFixed(2), sig.Size.StopPct.StringFixed(2))
		}
		for _, reason := range sig.Reasons {
			for _, line := range strings.Split(reason, "\n") {
				fmt.Fprintf(&b, "    %s\n", line)
			}
		}
	}

	if len(r.Warnings) > 0 {
		b.WriteString("\nWarnings:\n")
		for _, warning := range r.Warnings {
			fmt.Fprintf(&b, "  ! %s\n", warning)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
