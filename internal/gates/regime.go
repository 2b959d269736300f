package gates

import (
	"time"

	"github.com/shopspring/decimal"
)

// RegimeState classifies overall market favorability for the strategy.
type RegimeState int

const (
	RegimeFavorable RegimeState = iota
	RegimeCaution
	RegimePause
	RegimeWidenGrids
)

func (s RegimeState) String() string {
	switch s {
	case RegimeFavorable:
		return "favorable"
	case RegimeCaution:
		return "caution"
	case RegimePause:
		return "pause"
	case RegimeWidenGrids:
		return "widen_grids"
	default:
		return "unknown"
	}
}

// Indicator signal names.
const (
	SignalATRCompression = "ATR Compression"
	SignalDominanceSpike = "BTC Dominance Spike"
	SignalExtremeFunding = "Extreme Funding Rate"
)

// RegimeInputs carries the optional market-condition indicators. Every field
// is independently nullable; only supplied indicators are checked, and the
// ATR check needs both ATR fields.
type RegimeInputs struct {
	CurrentATR           *float64
	AvgATR30d            *float64
	BTCDominanceChange7d *float64
	FundingRate          *float64
}

// RegimeSignal is one evaluated indicator. Untriggered signals are kept in
// the result so callers can render everything that was checked.
type RegimeSignal struct {
	Name      string    `json:"name"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Triggered bool      `json:"triggered"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// RegimeGateResult is the combined regime assessment.
type RegimeGateResult struct {
	State                 RegimeState     `json:"state"`
	Signals               []RegimeSignal  `json:"signals"`
	RecommendedActions    []string        `json:"recommended_actions"`
	CanOpenNewPositions   bool            `json:"can_open_new_positions"`
	GridSpacingMultiplier decimal.Decimal `json:"grid_spacing_multiplier"`
}

// RegimeGateConfig contains the indicator trigger thresholds.
type RegimeGateConfig struct {
	// ATRCompressionThreshold triggers when current ATR falls below this
	// fraction of the 30-day average.
	ATRCompressionThreshold float64 `yaml:"atr_compression_threshold"`
	// BTCDomSpikeThreshold triggers when |7d dominance change| exceeds it.
	BTCDomSpikeThreshold float64 `yaml:"btc_dom_spike_threshold"`
	// FundingExtremeThreshold triggers when |funding rate| exceeds it.
	FundingExtremeThreshold float64 `yaml:"funding_extreme_threshold"`
}

// DefaultRegimeGateConfig returns the production thresholds.
func DefaultRegimeGateConfig() RegimeGateConfig {
	return RegimeGateConfig{
		ATRCompressionThreshold: 0.5,
		BTCDomSpikeThreshold:    3.0,
		FundingExtremeThreshold: 0.1,
	}
}

// RegimeGate evaluates market regime to decide whether conditions favor new
// grid positions. It is pure: same inputs, same outputs, no shared state.
type RegimeGate struct {
	config RegimeGateConfig
}

// NewRegimeGate creates a regime gate with default thresholds.
func NewRegimeGate() *RegimeGate {
	return NewRegimeGateWithConfig(DefaultRegimeGateConfig())
}

// NewRegimeGateWithConfig creates a regime gate with custom thresholds.
func NewRegimeGateWithConfig(config RegimeGateConfig) *RegimeGate {
	return &RegimeGate{config: config}
}

func (g *RegimeGate) checkATRCompression(currentATR, avgATR30d float64) RegimeSignal {
	// An undefined average means no compression evidence, never a trigger.
	ratio := 1.0
	if avgATR30d != 0 {
		ratio = currentATR / avgATR30d
	}

	return RegimeSignal{
		Name:      SignalATRCompression,
		Value:     ratio,
		Threshold: g.config.ATRCompressionThreshold,
		Triggered: ratio < g.config.ATRCompressionThreshold,
		Action:    "Widen grid spacing or pause - low volatility = fee churn",
		Timestamp: time.Now(),
	}
}

func (g *RegimeGate) checkBTCDominance(change7d float64) RegimeSignal {
	abs := change7d
	if abs < 0 {
		abs = -abs
	}
	return RegimeSignal{
		Name:      SignalDominanceSpike,
		Value:     change7d,
		Threshold: g.config.BTCDomSpikeThreshold,
		Triggered: abs > g.config.BTCDomSpikeThreshold,
		Action:    "Reduce altcoin exposure - correlation breakdown likely",
		Timestamp: time.Now(),
	}
}

func (g *RegimeGate) checkFundingRate(rate float64) RegimeSignal {
	abs := rate
	if abs < 0 {
		abs = -abs
	}
	return RegimeSignal{
		Name:      SignalExtremeFunding,
		Value:     rate,
		Threshold: g.config.FundingExtremeThreshold,
		Triggered: abs > g.config.FundingExtremeThreshold,
		Action:    "Expect volatility spike - tighten stops or reduce size",
		Timestamp: time.Now(),
	}
}

// Evaluate classifies the current regime from the supplied indicators.
//
// Aggregation is a pure function of the triggered set: zero triggers is
// FAVORABLE (x1.0); a single ATR-compression trigger is WIDEN_GRIDS (x1.5);
// a single trigger of any other indicator is CAUTION (x1.25); two or more
// triggers is PAUSE (x2.0) and blocks new positions.
func (g *RegimeGate) Evaluate(inputs RegimeInputs) RegimeGateResult {
	var signals []RegimeSignal

	if inputs.CurrentATR != nil && inputs.AvgATR30d != nil {
		signals = append(signals, g.checkATRCompression(*inputs.CurrentATR, *inputs.AvgATR30d))
	}
	if inputs.BTCDominanceChange7d != nil {
		signals = append(signals, g.checkBTCDominance(*inputs.BTCDominanceChange7d))
	}
	if inputs.FundingRate != nil {
		signals = append(signals, g.checkFundingRate(*inputs.FundingRate))
	}

	triggered := 0
	atrTriggered := false
	for _, s := range signals {
		if s.Triggered {
			triggered++
			if s.Name == SignalATRCompression {
				atrTriggered = true
			}
		}
	}

	var state RegimeState
	var canOpen bool
	var multiplier decimal.Decimal

	switch {
	case triggered == 0:
		state = RegimeFavorable
		canOpen = true
		multiplier = decimal.RequireFromString("1.0")
	case triggered == 1 && atrTriggered:
		state = RegimeWidenGrids
		canOpen = true
		multiplier = decimal.RequireFromString("1.5")
	case triggered == 1:
		state = RegimeCaution
		canOpen = true
		multiplier = decimal.RequireFromString("1.25")
	default:
		state = RegimePause
		canOpen = false
		multiplier = decimal.RequireFromString("2.0")
	}

	var actions []string
	for _, s := range signals {
		if s.Triggered {
			actions = append(actions, s.Action)
		}
	}
	if len(actions) == 0 {
		actions = append(actions, "All clear - normal trading conditions")
	}

	return RegimeGateResult{
		State:                 state,
		Signals:               signals,
		RecommendedActions:    actions,
		CanOpenNewPositions:   canOpen,
		GridSpacingMultiplier: multiplier,
	}
}
