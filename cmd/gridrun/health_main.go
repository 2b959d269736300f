package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/gridrun/internal/exchange"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check venue connectivity",
	RunE:  runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	client := exchange.NewClient(exchange.ClientConfig{
		BaseURL:    cfg.Exchange.BaseURL,
		Timeout:    cfg.Exchange.Timeout,
		MaxRetries: cfg.Exchange.MaxRetries,
		RPS:        cfg.Exchange.RPS,
		Burst:      cfg.Exchange.Burst,
	}, nil, log.Logger)
	defer client.Close()

	latency, err := client.HealthCheck(ctx)
	if err != nil {
		fmt.Printf("exchange: UNREACHABLE (%v)\n", err)
		return err
	}
	fmt.Printf("exchange: OK (%s, breaker %s)\n", latency.Round(time.Millisecond), client.BreakerState())
	return nil
}
