package gates

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// stepTick is the quantization tick for minimum grid steps. Minimum steps
// are always rounded UP to this tick: a safety threshold is never rounded
// down.
const stepTick int32 = 4 // decimal places, i.e. a 0.0001 tick

// FeeStructure describes the trading costs of a pair. All fields are signed
// fractional rates; a negative maker fee is a rebate.
type FeeStructure struct {
	MakerFee       decimal.Decimal `yaml:"maker_fee" json:"maker_fee"`
	TakerFee       decimal.Decimal `yaml:"taker_fee" json:"taker_fee"`
	TypicalSpread  decimal.Decimal `yaml:"typical_spread" json:"typical_spread"`
	SlippageBuffer decimal.Decimal `yaml:"slippage_buffer" json:"slippage_buffer"`
}

// RoundTripMakerOnly is the cost when both sides rest as maker (post-only).
func (f FeeStructure) RoundTripMakerOnly() decimal.Decimal {
	return f.MakerFee.Mul(two).Add(f.TypicalSpread).Add(f.SlippageBuffer)
}

// RoundTripMixed is the cost when entry is maker and exit is taker, the
// common scenario for a grid that gets run through.
func (f FeeStructure) RoundTripMixed() decimal.Decimal {
	return f.MakerFee.Add(f.TakerFee).Add(f.TypicalSpread).Add(f.SlippageBuffer)
}

// RoundTripTakerOnly is the worst case: both sides cross the spread.
func (f FeeStructure) RoundTripTakerOnly() decimal.Decimal {
	return f.TakerFee.Mul(two).Add(f.TypicalSpread).Add(f.SlippageBuffer)
}

var two = decimal.NewFromInt(2)

// DefaultFeeStructures returns the built-in per-pair fee table. The DEFAULT
// entry is used for unknown pairs and is deliberately conservative (wider
// spread and slippage than the majors).
func DefaultFeeStructures() map[string]FeeStructure {
	return map[string]FeeStructure{
		"BTC/USD": {
			MakerFee:       decimal.RequireFromString("-0.0002"),
			TakerFee:       decimal.RequireFromString("0.0004"),
			TypicalSpread:  decimal.RequireFromString("0.0005"),
			SlippageBuffer: decimal.RequireFromString("0.0002"),
		},
		"ETH/USD": {
			MakerFee:       decimal.RequireFromString("-0.0002"),
			TakerFee:       decimal.RequireFromString("0.0004"),
			TypicalSpread:  decimal.RequireFromString("0.0006"),
			SlippageBuffer: decimal.RequireFromString("0.0002"),
		},
		"SOL/USD": {
			MakerFee:       decimal.RequireFromString("-0.0002"),
			TakerFee:       decimal.RequireFromString("0.0004"),
			TypicalSpread:  decimal.RequireFromString("0.0010"),
			SlippageBuffer: decimal.RequireFromString("0.0005"),
		},
		"DEFAULT": {
			MakerFee:       decimal.RequireFromString("-0.0002"),
			TakerFee:       decimal.RequireFromString("0.0004"),
			TypicalSpread:  decimal.RequireFromString("0.0020"),
			SlippageBuffer: decimal.RequireFromString("0.0010"),
		},
	}
}

// FeeGateConfig contains the fee gate knobs.
type FeeGateConfig struct {
	// KFactor multiplies the round-trip cost to set the minimum profitable
	// grid step: 2 aggressive, 3 moderate, 4 conservative.
	KFactor decimal.Decimal `yaml:"k_factor"`
	// AssumeMixed selects the mixed maker/taker round trip; false assumes
	// maker-only (post-only) execution.
	AssumeMixed bool `yaml:"assume_mixed"`
}

// DefaultFeeGateConfig returns the moderate configuration.
func DefaultFeeGateConfig() FeeGateConfig {
	return FeeGateConfig{
		KFactor:     decimal.NewFromInt(3),
		AssumeMixed: true,
	}
}

// FeeGateResult is the outcome of a single fee-positivity evaluation.
// Results are created fresh per evaluation and never mutated.
type FeeGateResult struct {
	Passed         bool            `json:"passed"`
	Pair           string          `json:"pair"`
	ProposedStep   decimal.Decimal `json:"proposed_step"`
	MinimumStep    decimal.Decimal `json:"minimum_step"`
	RoundTripCost  decimal.Decimal `json:"round_trip_cost"`
	KFactor        decimal.Decimal `json:"k_factor"`
	Message        string          `json:"message"`
	Recommendation string          `json:"recommendation,omitempty"`
}

// FeeGate enforces fee-positivity for grid trading: a grid step must clear
// the round-trip cost by the configured safety multiple before a grid is
// worth deploying.
type FeeGate struct {
	config     FeeGateConfig
	structures map[string]FeeStructure
}

// NewFeeGate creates a fee gate with the built-in fee table.
func NewFeeGate(config FeeGateConfig) *FeeGate {
	return NewFeeGateWithStructures(config, DefaultFeeStructures())
}

// NewFeeGateWithStructures creates a fee gate with a custom fee table. The
// table must contain a DEFAULT entry for unknown pairs.
func NewFeeGateWithStructures(config FeeGateConfig, structures map[string]FeeStructure) *FeeGate {
	return &FeeGate{config: config, structures: structures}
}

// FeeStructureFor returns the fee structure for a pair, falling back to the
// conservative DEFAULT entry.
func (g *FeeGate) FeeStructureFor(pair string) FeeStructure {
	if s, ok := g.structures[pair]; ok {
		return s
	}
	return g.structures["DEFAULT"]
}

func (g *FeeGate) roundTripCost(pair string) decimal.Decimal {
	structure := g.FeeStructureFor(pair)
	if g.config.AssumeMixed {
		return structure.RoundTripMixed()
	}
	return structure.RoundTripMakerOnly()
}

// MinimumStep computes the minimum profitable grid step for a pair:
// round-trip cost times k, rounded up to the step tick.
func (g *FeeGate) MinimumStep(pair string) decimal.Decimal {
	return g.roundTripCost(pair).Mul(g.config.KFactor).RoundCeil(stepTick)
}

// Evaluate checks whether a proposed grid step is fee-positive for a pair.
func (g *FeeGate) Evaluate(pair string, proposedStep decimal.Decimal) FeeGateResult {
	cost := g.roundTripCost(pair)
	minStep := g.MinimumStep(pair)
	passed := proposedStep.GreaterThanOrEqual(minStep)

	result := FeeGateResult{
		Passed:        passed,
		Pair:          pair,
		ProposedStep:  proposedStep,
		MinimumStep:   minStep,
		RoundTripCost: cost,
		KFactor:       g.config.KFactor,
	}

	if passed {
		result.Message = fmt.Sprintf("PASS: %s grid step %s >= minimum %s",
			pair, FormatPct(proposedStep), FormatPct(minStep))
	} else {
		result.Message = fmt.Sprintf("FAIL: %s grid step %s < minimum %s",
			pair, FormatPct(proposedStep), FormatPct(minStep))
		result.Recommendation = fmt.Sprintf("Options:\n"+
			"  1. Widen grid step to at least %s\n"+
			"  2. Use maker-only orders (post-only) to reduce costs\n"+
			"  3. Skip this pair - insufficient edge vs fees", FormatPct(minStep))
	}

	return result
}

// EvaluateAll evaluates a proposed step per pair. Evaluations share no state.
func (g *FeeGate) EvaluateAll(steps map[string]decimal.Decimal) map[string]FeeGateResult {
	results := make(map[string]FeeGateResult, len(steps))
	for pair, step := range steps {
		results[pair] = g.Evaluate(pair, step)
	}
	return results
}

// CheckFeePositive is a convenience wrapper for a one-off check with the
// mixed-cost assumption.
func CheckFeePositive(pair string, gridStep decimal.Decimal, k int64) bool {
	gate := NewFeeGate(FeeGateConfig{KFactor: decimal.NewFromInt(k), AssumeMixed: true})
	return gate.Evaluate(pair, gridStep).Passed
}

// FormatPct renders a fractional rate as a percentage, e.g. 0.0027 -> "0.27%".
func FormatPct(rate decimal.Decimal) string {
	return rate.Mul(decimal.NewFromInt(100)).String() + "%"
}
