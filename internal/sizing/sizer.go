// Package sizing computes risk-bounded position sizes from volatility.
package sizing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SkipBelowMinimum marks a position too small to be worth opening.
const SkipBelowMinimum = "below_minimum"

// stopBuffer widens the stop beyond raw volatility so ordinary noise does
// not stop the position out.
var stopBuffer = decimal.RequireFromString("1.5")

var hundred = decimal.NewFromInt(100)

// PositionSize is the result of one sizing calculation. SizeUSD is zero if
// and only if SkipReason is set.
type PositionSize struct {
	SizeUSD    decimal.Decimal `json:"size_usd"`
	Units      decimal.Decimal `json:"units"`
	StopPct    decimal.Decimal `json:"stop_pct"`
	SkipReason string          `json:"skip_reason,omitempty"`
}

// SizerConfig holds the fixed sizing parameters. Percentages are expressed
// as percents (0.5 means 0.5%), matching the rest of the configuration.
type SizerConfig struct {
	Equity         decimal.Decimal `yaml:"equity"`
	RiskBudgetPct  decimal.Decimal `yaml:"risk_budget_pct"`
	MaxPositionPct decimal.Decimal `yaml:"max_position_pct"`
	MinPositionUSD decimal.Decimal `yaml:"min_position_usd"`
}

// DefaultSizerConfig returns the stock parameters: 0.5% risk per trade, 25%
// max position, $50 floor.
func DefaultSizerConfig(equity decimal.Decimal) SizerConfig {
	return SizerConfig{
		Equity:         equity,
		RiskBudgetPct:  decimal.RequireFromString("0.5"),
		MaxPositionPct: decimal.NewFromInt(25),
		MinPositionUSD: decimal.NewFromInt(50),
	}
}

// VolatilitySizer sizes positions inversely to volatility: tighter stops
// produce larger sizes until the equity cap binds.
type VolatilitySizer struct {
	config SizerConfig
}

// NewVolatilitySizer creates a sizer from fixed configuration.
func NewVolatilitySizer(config SizerConfig) *VolatilitySizer {
	return &VolatilitySizer{config: config}
}

// MaxPositionUSD is the hard per-position equity cap.
func (s *VolatilitySizer) MaxPositionUSD() decimal.Decimal {
	return s.config.Equity.Mul(s.config.MaxPositionPct).Div(hundred)
}

// Calculate sizes a position for an asset.
//
// The stop distance is customStopPct when supplied, otherwise volatility
// times 1.5. Raw size is equity x risk budget / stop distance, capped at the
// max-position fraction of equity. A capped size below the USD floor yields
// a zero size with SkipReason set; the caller must not open a position.
func (s *VolatilitySizer) Calculate(assetVolatilityPct, currentPrice decimal.Decimal, customStopPct *decimal.Decimal) (PositionSize, error) {
	stopPct := assetVolatilityPct.Mul(stopBuffer)
	if customStopPct != nil {
		stopPct = *customStopPct
	}

	if !stopPct.IsPositive() {
		return PositionSize{}, fmt.Errorf("invalid stop percentage %s: must be positive", stopPct)
	}
	if !currentPrice.IsPositive() {
		return PositionSize{}, fmt.Errorf("invalid price %s: must be positive", currentPrice)
	}

	// equity * (risk/100) / (stop/100) collapses to equity * risk / stop.
	sizeUSD := s.config.Equity.Mul(s.config.RiskBudgetPct).Div(stopPct)

	if maxUSD := s.MaxPositionUSD(); sizeUSD.GreaterThan(maxUSD) {
		sizeUSD = maxUSD
	}

	if sizeUSD.LessThan(s.config.MinPositionUSD) {
		return PositionSize{
			SizeUSD:    decimal.Zero,
			Units:      decimal.Zero,
			StopPct:    stopPct,
			SkipReason: SkipBelowMinimum,
		}, nil
	}

	return PositionSize{
		SizeUSD: sizeUSD,
		Units:   sizeUSD.Div(currentPrice),
		StopPct: stopPct,
	}, nil
}
