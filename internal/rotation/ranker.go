// Package rotation ranks candidate assets for the rotation strategy by
// momentum versus the BTC benchmark and volume expansion, keeping only
// assets with an actionable entry signal.
package rotation

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// EntrySignal classifies entry readiness for an asset.
type EntrySignal string

const (
	// NoSignal means the asset sits at its recent high; chasing a day-1
	// pump is never actionable.
	NoSignal EntrySignal = "no_signal"
	// PullbackEntry means the asset pulled back 30-50% from its recent high.
	PullbackEntry EntrySignal = "pullback_entry"
	// RetestEntry means price is retesting a known breakout level.
	RetestEntry EntrySignal = "retest_entry"
	// WaitConfirmation means the pullback is too shallow (<30%) or too deep
	// (>50%) to act on yet.
	WaitConfirmation EntrySignal = "wait_confirm"
)

// AssetData is the per-symbol input series: daily closes and volumes,
// oldest first, plus an optional breakout level to test retests against.
type AssetData struct {
	Prices        []decimal.Decimal
	Volumes       []decimal.Decimal
	BreakoutLevel *decimal.Decimal
}

// AssetScore is one ranked asset. Every score in a ranking output carries an
// actionable entry signal; non-actionable assets are filtered, not zeroed.
type AssetScore struct {
	Symbol          string          `json:"symbol"`
	MomentumVsBTC   decimal.Decimal `json:"momentum_vs_btc"`
	VolumeExpansion decimal.Decimal `json:"volume_expansion"`
	EntrySignal     EntrySignal     `json:"entry_signal"`
	PullbackPct     decimal.Decimal `json:"pullback_pct"`
	CompositeScore  decimal.Decimal `json:"composite_score"`
	LastUpdated     time.Time       `json:"last_updated"`
}

// RankerConfig holds the lookback windows and retest tolerance.
type RankerConfig struct {
	MomentumDays       int             `yaml:"momentum_days"`
	VolumeShortDays    int             `yaml:"volume_short_days"`
	VolumeLongDays     int             `yaml:"volume_long_days"`
	RetestTolerancePct decimal.Decimal `yaml:"retest_tolerance_pct"`
}

// DefaultRankerConfig returns the stock windows: 14-day momentum, 14/60-day
// volume ratio, 2% retest tolerance.
func DefaultRankerConfig() RankerConfig {
	return RankerConfig{
		MomentumDays:       14,
		VolumeShortDays:    14,
		VolumeLongDays:     60,
		RetestTolerancePct: decimal.NewFromInt(2),
	}
}

// AssetRanker computes composite scores and entry classifications. It is
// pure and safe for concurrent use.
type AssetRanker struct {
	config RankerConfig
}

// NewAssetRanker creates a ranker with default windows.
func NewAssetRanker() *AssetRanker {
	return NewAssetRankerWithConfig(DefaultRankerConfig())
}

// NewAssetRankerWithConfig creates a ranker with custom windows.
func NewAssetRankerWithConfig(config RankerConfig) *AssetRanker {
	return &AssetRanker{config: config}
}

// momentum returns the N-day fractional return over the last N+1 points.
func (r *AssetRanker) momentum(prices []decimal.Decimal) (decimal.Decimal, error) {
	need := r.config.MomentumDays + 1
	if len(prices) < need {
		return decimal.Zero, fmt.Errorf("momentum needs %d price points, have %d", need, len(prices))
	}
	start := prices[len(prices)-need]
	end := prices[len(prices)-1]
	if start.IsZero() {
		return decimal.Zero, fmt.Errorf("momentum start price is zero")
	}
	return end.Sub(start).Div(start), nil
}

// MomentumVsBTC is the asset's N-day return minus BTC's over the same window.
func (r *AssetRanker) MomentumVsBTC(assetPrices, btcPrices []decimal.Decimal) (decimal.Decimal, error) {
	assetReturn, err := r.momentum(assetPrices)
	if err != nil {
		return decimal.Zero, fmt.Errorf("asset: %w", err)
	}
	btcReturn, err := r.momentum(btcPrices)
	if err != nil {
		return decimal.Zero, fmt.Errorf("benchmark: %w", err)
	}
	return assetReturn.Sub(btcReturn), nil
}

// VolumeExpansion is the short-window average volume over the long-window
// average: above 1.0 volume is expanding, below it is contracting.
func (r *AssetRanker) VolumeExpansion(volumes []decimal.Decimal) (decimal.Decimal, error) {
	long := r.config.VolumeLongDays
	short := r.config.VolumeShortDays
	if len(volumes) < long {
		return decimal.Zero, fmt.Errorf("volume expansion needs %d points, have %d", long, len(volumes))
	}

	longAvg := average(volumes[len(volumes)-long:])
	if longAvg.IsZero() {
		return decimal.Zero, fmt.Errorf("volume expansion undefined: zero long-window average")
	}
	shortAvg := average(volumes[len(volumes)-short:])

	return shortAvg.Div(longAvg), nil
}

func average(values []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}

// CheckEntrySignal classifies entry readiness from the last price and the
// recent high. The breakout retest is tested before the pullback bands, so a
// qualifying retest overrides a pullback classification. Pullbacks beyond
// 50% are treated as unconfirmed, not actionable.
func (r *AssetRanker) CheckEntrySignal(currentPrice, recentHigh decimal.Decimal, breakoutLevel *decimal.Decimal) (EntrySignal, decimal.Decimal) {
	if currentPrice.GreaterThanOrEqual(recentHigh) {
		return NoSignal, decimal.Zero
	}

	pullbackPct := recentHigh.Sub(currentPrice).Div(recentHigh).Mul(hundred)

	if breakoutLevel != nil && !breakoutLevel.IsZero() {
		distancePct := currentPrice.Sub(*breakoutLevel).Abs().Div(*breakoutLevel).Mul(hundred)
		if distancePct.LessThanOrEqual(r.config.RetestTolerancePct) {
			return RetestEntry, pullbackPct
		}
	}

	switch {
	case pullbackPct.LessThan(decimal.NewFromInt(30)):
		return WaitConfirmation, pullbackPct
	case pullbackPct.LessThanOrEqual(decimal.NewFromInt(50)):
		return PullbackEntry, pullbackPct
	default:
		return WaitConfirmation, pullbackPct
	}
}

var hundred = decimal.NewFromInt(100)

// Rank scores every qualifying asset and returns them best first.
//
// Assets with fewer than the long-window number of prices are excluded
// silently; assets without an actionable entry signal are excluded rather
// than scored as zero. Insufficient momentum or volume history for an asset
// that did qualify is an input error and fails the whole ranking. Ties keep
// the symbols' lexical encounter order (stable sort).
func (r *AssetRanker) Rank(assetData map[string]AssetData, btcPrices []decimal.Decimal) ([]AssetScore, error) {
	symbols := make([]string, 0, len(assetData))
	for symbol := range assetData {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	var scores []AssetScore
	for _, symbol := range symbols {
		data := assetData[symbol]
		if len(data.Prices) < r.config.VolumeLongDays {
			continue
		}

		window := data.Prices[len(data.Prices)-r.config.VolumeLongDays:]
		recentHigh := window[0]
		for _, p := range window[1:] {
			if p.GreaterThan(recentHigh) {
				recentHigh = p
			}
		}
		currentPrice := data.Prices[len(data.Prices)-1]

		signal, pullbackPct := r.CheckEntrySignal(currentPrice, recentHigh, data.BreakoutLevel)
		if signal != PullbackEntry && signal != RetestEntry {
			continue
		}

		momentum, err := r.MomentumVsBTC(data.Prices, btcPrices)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", symbol, err)
		}
		expansion, err := r.VolumeExpansion(data.Volumes)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", symbol, err)
		}

		scores = append(scores, AssetScore{
			Symbol:          symbol,
			MomentumVsBTC:   momentum,
			VolumeExpansion: expansion,
			EntrySignal:     signal,
			PullbackPct:     pullbackPct,
			CompositeScore:  momentum.Add(expansion),
			LastUpdated:     time.Now(),
		})
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].CompositeScore.GreaterThan(scores[j].CompositeScore)
	})

	return scores, nil
}
