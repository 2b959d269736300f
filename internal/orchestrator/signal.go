package orchestrator

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/gridrun/internal/gates"
	"github.com/sawpanic/gridrun/internal/sizing"
)

// SignalType classifies what a signal tells the operator to do.
type SignalType string

const (
	SignalEntry  SignalType = "entry"
	SignalExit   SignalType = "exit"
	SignalAdjust SignalType = "adjust"
	SignalSkip   SignalType = "skip"
	SignalPause  SignalType = "pause"
)

// Confidence grades how strong a signal is.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Check names used in TradingSignal.Checks.
const (
	CheckFeeGate          = "fee_gate"
	CheckRegimeFavorable  = "regime_favorable"
	CheckCapitalAvailable = "capital_available"
	CheckSizeValid        = "size_valid"
	CheckRankedEntry      = "ranked_entry"
)

// TradingSignal is the orchestrator's verdict for one pair in one scan.
// Signals are advisory; nothing here places orders.
type TradingSignal struct {
	ID         string          `json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	Pair       string          `json:"pair"`
	Type       SignalType      `json:"type"`
	Side       string          `json:"side"`
	Confidence Confidence      `json:"confidence"`
	Checks     map[string]bool `json:"checks"`
	Reasons    []string        `json:"reasons"`

	Price          decimal.Decimal      `json:"price"`
	Size           *sizing.PositionSize `json:"size,omitempty"`
	MinGridStepPct decimal.Decimal      `json:"min_grid_step_pct"`
	SpacingMult    decimal.Decimal      `json:"spacing_multiplier"`
	CompositeScore decimal.Decimal      `json:"composite_score"`
	EntrySignal    string               `json:"entry_signal,omitempty"`
	Metadata       map[string]string    `json:"metadata,omitempty"`
}

func newSignal(pair string, signalType SignalType) *TradingSignal {
	return &TradingSignal{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Pair:      pair,
		Type:      signalType,
		Side:      "none",
		Checks:    make(map[string]bool),
	}
}

// ScanResult is the full output of one orchestrator scan.
type ScanResult struct {
	ScanID    string                  `json:"scan_id"`
	StartedAt time.Time               `json:"started_at"`
	Duration  time.Duration           `json:"duration"`
	Regime    *gates.RegimeGateResult `json:"regime"`
	Signals   []*TradingSignal        `json:"signals"`
	Warnings  []string                `json:"warnings"`
}

// EntryCount returns the number of entry signals in the result.
func (r *ScanResult) EntryCount() int {
	n := 0
	for _, sig := range r.Signals {
		if sig.Type == SignalEntry {
			n++
		}
	}
	return n
}
