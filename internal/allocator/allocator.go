// Package allocator enforces the capital allocation boundaries between the
// core grid bot, the drawdown reserve, and the ring-fenced experiments
// bucket.
package allocator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Bucket identifies a capital allocation bucket.
type Bucket string

const (
	BucketCoreBot     Bucket = "core_bot"
	BucketReserve     Bucket = "reserve"
	BucketExperiments Bucket = "experiments"
)

// Buckets lists all buckets in presentation order.
var Buckets = []Bucket{BucketCoreBot, BucketReserve, BucketExperiments}

var (
	// MinCorePosition is the smallest core deployment that does not produce
	// thin grids.
	MinCorePosition = decimal.NewFromInt(500)
	// ThinGridWarning is the core remainder below which deployments warn.
	ThinGridWarning = decimal.NewFromInt(400)

	// reserveDrawdownFloor is the core drawdown below which reserve use is
	// denied.
	reserveDrawdownFloor = decimal.RequireFromString("0.15")

	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// DefaultAllocations returns the stock bucket split: 61% core, 24% reserve,
// 15% experiments.
func DefaultAllocations() map[Bucket]decimal.Decimal {
	return map[Bucket]decimal.Decimal{
		BucketCoreBot:     decimal.RequireFromString("0.61"),
		BucketReserve:     decimal.RequireFromString("0.24"),
		BucketExperiments: decimal.RequireFromString("0.15"),
	}
}

// State is a snapshot of the allocation ledger.
type State struct {
	TotalEquity         decimal.Decimal `json:"total_equity"`
	CoreBot             decimal.Decimal `json:"core_bot"`
	Reserve             decimal.Decimal `json:"reserve"`
	Experiments         decimal.Decimal `json:"experiments"`
	CoreBotDeployed     decimal.Decimal `json:"core_bot_deployed"`
	ExperimentsDeployed decimal.Decimal `json:"experiments_deployed"`
	LastUpdated         time.Time       `json:"last_updated"`
}

// Check is the result of an allocation decision.
type Check struct {
	Allowed   bool            `json:"allowed"`
	Bucket    Bucket          `json:"bucket"`
	Requested decimal.Decimal `json:"requested"`
	Available decimal.Decimal `json:"available"`
	Message   string          `json:"message"`
	Warnings  []string        `json:"warnings"`
}

// Allocator tracks bucket amounts and deployed capital and blocks
// operations that would violate the allocation structure. It is not safe
// for concurrent use; each orchestrator owns one instance.
type Allocator struct {
	totalEquity decimal.Decimal
	allocations map[Bucket]decimal.Decimal
	amounts     map[Bucket]decimal.Decimal
	deployed    map[Bucket]decimal.Decimal

	initialCoreAllocation decimal.Decimal

	statePath string
}

// New creates an allocator with the default 61/24/15 split.
func New(totalEquity decimal.Decimal) (*Allocator, error) {
	return NewWithAllocations(totalEquity, DefaultAllocations(), "")
}

// NewWithAllocations creates an allocator with custom percentages, which
// must sum to 1.0 within a 0.001 tolerance. statePath, when non-empty, is a
// JSON file the deployed amounts are snapshotted to after every mutation.
func NewWithAllocations(totalEquity decimal.Decimal, allocations map[Bucket]decimal.Decimal, statePath string) (*Allocator, error) {
	total := decimal.Zero
	for _, pct := range allocations {
		total = total.Add(pct)
	}
	if total.Sub(one).Abs().GreaterThan(decimal.RequireFromString("0.001")) {
		return nil, fmt.Errorf("allocations must sum to 1.0, got %s", total)
	}

	a := &Allocator{
		totalEquity: totalEquity,
		allocations: allocations,
		deployed: map[Bucket]decimal.Decimal{
			BucketCoreBot:     decimal.Zero,
			BucketReserve:     decimal.Zero,
			BucketExperiments: decimal.Zero,
		},
		statePath: statePath,
	}
	a.recalculate()
	a.initialCoreAllocation = a.amounts[BucketCoreBot]

	return a, nil
}

// recalculate derives bucket amounts from equity, quantized to cents,
// rounding down so buckets never over-claim.
func (a *Allocator) recalculate() {
	amounts := make(map[Bucket]decimal.Decimal, len(a.allocations))
	for bucket, pct := range a.allocations {
		amounts[bucket] = a.totalEquity.Mul(pct).RoundFloor(2)
	}
	a.amounts = amounts
}

// Available returns the undeployed capital in a bucket.
func (a *Allocator) Available(bucket Bucket) decimal.Decimal {
	return a.amounts[bucket].Sub(a.deployed[bucket])
}

// GetState returns the current ledger snapshot.
func (a *Allocator) GetState() State {
	return State{
		TotalEquity:         a.totalEquity,
		CoreBot:             a.amounts[BucketCoreBot],
		Reserve:             a.amounts[BucketReserve],
		Experiments:         a.amounts[BucketExperiments],
		CoreBotDeployed:     a.deployed[BucketCoreBot],
		ExperimentsDeployed: a.deployed[BucketExperiments],
		LastUpdated:         time.Now(),
	}
}

// CanDeploy checks whether a deployment is allowed without recording it.
func (a *Allocator) CanDeploy(bucket Bucket, amount decimal.Decimal) Check {
	available := a.Available(bucket)
	var warnings []string

	if bucket == BucketReserve {
		return Check{
			Allowed:   false,
			Bucket:    bucket,
			Requested: amount,
			Available: available,
			Message:   "Reserve funds cannot be deployed directly. Use for drawdown recovery only.",
			Warnings:  []string{"Reserve bucket is for emergencies only"},
		}
	}

	if amount.GreaterThan(available) {
		return Check{
			Allowed:   false,
			Bucket:    bucket,
			Requested: amount,
			Available: available,
			Message:   fmt.Sprintf("Insufficient %s funds. Requested $%s, available $%s", bucket, amount, available),
		}
	}

	if bucket == BucketCoreBot {
		remaining := available.Sub(amount)
		if remaining.IsPositive() && remaining.LessThan(ThinGridWarning) {
			warnings = append(warnings, fmt.Sprintf(
				"Warning: Only $%s will remain in core. Positions below $%s create thin grids.",
				remaining, ThinGridWarning))
		}
		if amount.LessThan(MinCorePosition) {
			warnings = append(warnings, fmt.Sprintf(
				"Warning: $%s is below minimum recommended position ($%s). Consider consolidating or skipping.",
				amount, MinCorePosition))
		}
	}

	return Check{
		Allowed:   true,
		Bucket:    bucket,
		Requested: amount,
		Available: available,
		Message:   fmt.Sprintf("Deployment of $%s from %s approved.", amount, bucket),
		Warnings:  warnings,
	}
}

// Deploy records a deployment. It re-runs CanDeploy unless force is set.
func (a *Allocator) Deploy(bucket Bucket, amount decimal.Decimal, force bool) bool {
	if !force && !a.CanDeploy(bucket, amount).Allowed {
		return false
	}
	a.deployed[bucket] = a.deployed[bucket].Add(amount)
	a.saveState()
	return true
}

// Release records capital returning to a bucket after a position closes.
func (a *Allocator) Release(bucket Bucket, amount decimal.Decimal) {
	released := a.deployed[bucket].Sub(amount)
	if released.IsNegative() {
		released = decimal.Zero
	}
	a.deployed[bucket] = released
	a.saveState()
}

// UseReserve requests reserve funds. Reserve use is only approved once the
// core allocation has drawn down at least 15% from its initial level; the
// check does not itself deploy anything.
func (a *Allocator) UseReserve(amount decimal.Decimal, reason string) Check {
	available := a.Available(BucketReserve)
	drawdown := a.coreDrawdownPct()

	if drawdown.LessThan(reserveDrawdownFloor) {
		return Check{
			Allowed:   false,
			Bucket:    BucketReserve,
			Requested: amount,
			Available: available,
			Message: fmt.Sprintf("Reserve use denied. Core drawdown (%s%%) below 15%% threshold.",
				drawdown.Mul(hundred).Round(1)),
			Warnings: []string{"Reserve is for >15% drawdown recovery only"},
		}
	}

	if amount.GreaterThan(available) {
		return Check{
			Allowed:   false,
			Bucket:    BucketReserve,
			Requested: amount,
			Available: available,
			Message:   fmt.Sprintf("Insufficient reserve. Requested $%s, available $%s", amount, available),
		}
	}

	return Check{
		Allowed:   true,
		Bucket:    BucketReserve,
		Requested: amount,
		Available: available,
		Message:   fmt.Sprintf("Reserve use of $%s approved. Reason: %s", amount, reason),
		Warnings: []string{fmt.Sprintf("Deploying reserve due to %s%% core drawdown",
			drawdown.Mul(hundred).Round(1))},
	}
}

func (a *Allocator) coreDrawdownPct() decimal.Decimal {
	if !a.initialCoreAllocation.IsPositive() {
		return decimal.Zero
	}
	drawdown := a.initialCoreAllocation.Sub(a.amounts[BucketCoreBot]).Div(a.initialCoreAllocation)
	if drawdown.IsNegative() {
		return decimal.Zero
	}
	return drawdown
}

// UpdateEquity re-derives bucket amounts after a material P&L change.
func (a *Allocator) UpdateEquity(newEquity decimal.Decimal) {
	a.totalEquity = newEquity
	a.recalculate()
	a.saveState()
}

// persistedState is the JSON snapshot written to the state file.
type persistedState struct {
	TotalEquity string            `json:"total_equity"`
	Deployed    map[string]string `json:"deployed"`
	LastUpdated string            `json:"last_updated"`
}

func (a *Allocator) saveState() {
	if a.statePath == "" {
		return
	}

	snapshot := persistedState{
		TotalEquity: a.totalEquity.String(),
		Deployed:    make(map[string]string, len(a.deployed)),
		LastUpdated: time.Now().Format(time.RFC3339),
	}
	for bucket, amount := range a.deployed {
		snapshot.Deployed[string(bucket)] = amount.String()
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return
	}

	// Write-then-rename keeps the snapshot readable if we crash mid-write.
	tmp := a.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return
	}
	_ = os.Rename(tmp, a.statePath)
}

// LoadState restores deployed amounts from the state file, if present.
func (a *Allocator) LoadState() error {
	if a.statePath == "" {
		return nil
	}
	data, err := os.ReadFile(a.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read allocator state: %w", err)
	}

	var snapshot persistedState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("failed to parse allocator state %s: %w", filepath.Base(a.statePath), err)
	}

	equity, err := decimal.NewFromString(snapshot.TotalEquity)
	if err != nil {
		return fmt.Errorf("invalid equity in allocator state: %w", err)
	}
	a.totalEquity = equity
	a.recalculate()

	for bucket, raw := range snapshot.Deployed {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("invalid deployed amount for %s: %w", bucket, err)
		}
		a.deployed[Bucket(bucket)] = amount
	}

	return nil
}

// Summary renders a human-readable allocation report.
func (a *Allocator) Summary() string {
	var b strings.Builder
	b.WriteString("Capital Allocation Summary\n")
	b.WriteString(strings.Repeat("=", 40) + "\n")
	fmt.Fprintf(&b, "Total Equity: $%s\n\n", a.totalEquity.StringFixed(2))

	for _, bucket := range Buckets {
		total := a.amounts[bucket]
		deployed := a.deployed[bucket]
		pct := a.allocations[bucket].Mul(hundred)

		fmt.Fprintf(&b, "%s (%s%%)\n", strings.ToUpper(string(bucket)), pct.Round(0))
		fmt.Fprintf(&b, "  Total:     $%s\n", total.StringFixed(2))
		fmt.Fprintf(&b, "  Deployed:  $%s\n", deployed.StringFixed(2))
		fmt.Fprintf(&b, "  Available: $%s\n\n", total.Sub(deployed).StringFixed(2))
	}

	return strings.TrimRight(b.String(), "\n")
}
