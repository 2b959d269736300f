package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/sawpanic/gridrun/internal/allocator"
	"github.com/sawpanic/gridrun/internal/config"
	"github.com/sawpanic/gridrun/internal/exchange"
	"github.com/sawpanic/gridrun/internal/gates"
	"github.com/sawpanic/gridrun/internal/metrics"
	"github.com/sawpanic/gridrun/internal/orchestrator"
	"github.com/sawpanic/gridrun/internal/persistence/postgres"
)

var (
	scanEquity  string
	scanRisk    string
	scanStep    string
	scanKFactor int64
	scanPairs   []string
	scanTopN    int
	scanFormat  string
	scanTimeout time.Duration
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a full decision scan and print signals",
	Long: `Run the full decision pipeline: venue health, regime gate, fee gate,
asset ranking, position sizing, and capital checks. Prints advisory signals.

Example usage:
  gridrun scan                            # Scan the default pairs
  gridrun scan --pairs BTC/USD,ETH/USD    # Custom universe
  gridrun scan --equity 2500 --risk 0.5   # Override sizing inputs
  gridrun scan --format json              # JSON output`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVar(&scanEquity, "equity", "", "Account equity in USD")
	scanCmd.Flags().StringVar(&scanRisk, "risk", "", "Risk budget percent per position")
	scanCmd.Flags().StringVar(&scanStep, "step", "", "Proposed grid step as a fraction (0.01 = 1%)")
	scanCmd.Flags().Int64Var(&scanKFactor, "k", 0, "Fee safety multiple (2 aggressive, 3 moderate, 4 conservative)")
	scanCmd.Flags().StringSliceVar(&scanPairs, "pairs", nil, "Pairs to scan")
	scanCmd.Flags().IntVar(&scanTopN, "top", 0, "Maximum concurrent entry signals")
	scanCmd.Flags().StringVar(&scanFormat, "format", "text", "Output format: text, json")
	scanCmd.Flags().DurationVar(&scanTimeout, "timeout", 2*time.Minute, "Overall scan timeout")
}

// loadConfig reads the config file when given, then applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if flagConfig != "" {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if scanEquity != "" {
		equity, err := decimal.NewFromString(scanEquity)
		if err != nil {
			return nil, fmt.Errorf("invalid --equity: %w", err)
		}
		cfg.Equity = equity
	}
	if scanRisk != "" {
		risk, err := decimal.NewFromString(scanRisk)
		if err != nil {
			return nil, fmt.Errorf("invalid --risk: %w", err)
		}
		cfg.Sizing.RiskBudgetPct = risk
	}
	if scanStep != "" {
		step, err := decimal.NewFromString(scanStep)
		if err != nil {
			return nil, fmt.Errorf("invalid --step: %w", err)
		}
		cfg.Scan.GridStepPct = step
	}
	if scanKFactor > 0 {
		cfg.FeeGate.KFactor = decimal.NewFromInt(scanKFactor)
	}
	if len(scanPairs) > 0 {
		cfg.Scan.Pairs = scanPairs
	}
	if scanTopN > 0 {
		cfg.Scan.TopN = scanTopN
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildOrchestrator wires the pipeline from configuration. The returned
// cleanup closes whatever was opened.
func buildOrchestrator(ctx context.Context, cfg *config.Config, reg *metrics.Registry) (*orchestrator.Orchestrator, func(), error) {
	var cache exchange.TickerCache
	if cfg.Redis.Enabled {
		redisCache := exchange.NewRedisTickerCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, exchange.DefaultTickerTTL)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unreachable, falling back to memory cache")
		} else {
			cache = redisCache
		}
	}

	client := exchange.NewClient(exchange.ClientConfig{
		BaseURL:    cfg.Exchange.BaseURL,
		Timeout:    cfg.Exchange.Timeout,
		MaxRetries: cfg.Exchange.MaxRetries,
		RPS:        cfg.Exchange.RPS,
		Burst:      cfg.Exchange.Burst,
	}, cache, log.Logger)
	if reg != nil {
		client.SetObserver(reg)
	}

	capital, err := allocator.NewWithAllocations(cfg.Equity, map[allocator.Bucket]decimal.Decimal{
		allocator.BucketCoreBot:     cfg.Allocations.CoreBot,
		allocator.BucketReserve:     cfg.Allocations.Reserve,
		allocator.BucketExperiments: cfg.Allocations.Experiments,
	}, cfg.Allocations.StatePath)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("allocator: %w", err)
	}
	if err := capital.LoadState(); err != nil {
		log.Warn().Err(err).Msg("allocator state not restored")
	}

	opts := orchestrator.Options{
		FeeGate:    gates.NewFeeGate(cfg.FeeGate),
		RegimeGate: gates.NewRegimeGateWithConfig(cfg.Regime),
		Capital:    capital,
		Metrics:    reg,
	}

	cleanup := func() { client.Close() }

	if cfg.Database.Enabled {
		db, err := postgres.Connect(ctx, cfg.Database.DSN)
		if err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("database: %w", err)
		}
		opts.Repo = postgres.NewScanWriter(postgres.NewScansRepo(db, 5*time.Second))
		cleanup = func() {
			client.Close()
			db.Close()
		}
	}

	orch := orchestrator.New(cfg.Scan, client, cfg.SizerConfig(), opts, log.Logger)
	return orch, cleanup, nil
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), scanTimeout)
	defer cancel()

	reg := metrics.NewRegistry()
	orch, cleanup, err := buildOrchestrator(ctx, cfg, reg)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := orch.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	switch scanFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	default:
		fmt.Println(result.Summary())
	}
	return nil
}
