package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/gridrun/internal/exchange"
)

var tickerVolatility bool

var tickerCmd = &cobra.Command{
	Use:   "ticker PAIR",
	Short: "Fetch the current ticker for a pair",
	Long: `Fetch the live ticker for one pair, e.g. 'gridrun ticker BTC/USD'.
With --volatility, also compute the ATR-based daily volatility the sizer
uses.`,
	Args: cobra.ExactArgs(1),
	RunE: runTicker,
}

func init() {
	rootCmd.AddCommand(tickerCmd)
	tickerCmd.Flags().BoolVar(&tickerVolatility, "volatility", false, "Also compute ATR volatility")
}

func runTicker(cmd *cobra.Command, args []string) error {
	pair := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	client := exchange.NewClient(exchange.ClientConfig{
		BaseURL:    cfg.Exchange.BaseURL,
		Timeout:    cfg.Exchange.Timeout,
		MaxRetries: cfg.Exchange.MaxRetries,
		RPS:        cfg.Exchange.RPS,
		Burst:      cfg.Exchange.Burst,
	}, nil, log.Logger)
	defer client.Close()

	ticker, err := client.GetTicker(ctx, pair)
	if err != nil {
		return err
	}

	fmt.Printf("%s\n", ticker.Pair)
	fmt.Printf("  Last:   %s\n", ticker.Last)
	fmt.Printf("  Bid:    %s\n", ticker.Bid)
	fmt.Printf("  Ask:    %s\n", ticker.Ask)
	fmt.Printf("  Vol24h: %s\n", ticker.Volume24h)

	if tickerVolatility {
		volatility, err := client.CalculateVolatilityPct(ctx, pair, 45)
		if err != nil {
			return fmt.Errorf("volatility: %w", err)
		}
		fmt.Printf("  ATR volatility: %s%%\n", volatility.StringFixed(2))
	}
	return nil
}
