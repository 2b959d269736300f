package main

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/sawpanic/gridrun/internal/allocator"
	"github.com/sawpanic/gridrun/internal/gates"
	"github.com/sawpanic/gridrun/internal/sizing"
)

var statusEquity string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show capital allocation and sizing limits",
	Long: `Show how the configured equity splits across the capital buckets, the
per-position sizing limits, and the minimum profitable grid steps per pair.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusEquity, "equity", "", "Account equity in USD")
}

func runStatus(cmd *cobra.Command, args []string) error {
	scanEquity = statusEquity
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	capital, err := allocator.NewWithAllocations(cfg.Equity, map[allocator.Bucket]decimal.Decimal{
		allocator.BucketCoreBot:     cfg.Allocations.CoreBot,
		allocator.BucketReserve:     cfg.Allocations.Reserve,
		allocator.BucketExperiments: cfg.Allocations.Experiments,
	}, cfg.Allocations.StatePath)
	if err != nil {
		return err
	}
	if err := capital.LoadState(); err != nil {
		return err
	}

	fmt.Println(capital.Summary())

	sizer := sizing.NewVolatilitySizer(cfg.SizerConfig())
	fmt.Printf("\nSizing\n")
	fmt.Printf("  Risk budget:  %s%% per position\n", cfg.Sizing.RiskBudgetPct)
	fmt.Printf("  Max position: $%s\n", sizer.MaxPositionUSD().StringFixed(2))
	fmt.Printf("  Min position: $%s\n", cfg.Sizing.MinPositionUSD.StringFixed(2))

	feeGate := gates.NewFeeGate(cfg.FeeGate)
	fmt.Printf("\nMinimum profitable grid steps (k=%s)\n", cfg.FeeGate.KFactor)
	for _, pair := range cfg.Scan.Pairs {
		fmt.Printf("  %-10s %s\n", pair, gates.FormatPct(feeGate.MinimumStep(pair)))
	}
	return nil
}
