package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/gridrun/internal/exchange"
	"github.com/sawpanic/gridrun/internal/httpapi"
	"github.com/sawpanic/gridrun/internal/metrics"
)

var (
	monitorAddr     string
	monitorInterval time.Duration
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run periodic scans with an HTTP monitoring endpoint",
	Long: `Run scans on an interval and serve /health, /metrics, /signals, and
/summary over HTTP until interrupted.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().StringVar(&monitorAddr, "addr", "", "Listen address (defaults to server.addr from config)")
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 15*time.Minute, "Time between scans")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	addr := cfg.Server.Addr
	if monitorAddr != "" {
		addr = monitorAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()
	orch, cleanup, err := buildOrchestrator(ctx, cfg, reg)
	if err != nil {
		return err
	}
	defer cleanup()

	probeClient := exchange.NewClient(exchange.ClientConfig{
		BaseURL:    cfg.Exchange.BaseURL,
		Timeout:    cfg.Exchange.Timeout,
		MaxRetries: 0,
		RPS:        cfg.Exchange.RPS,
		Burst:      cfg.Exchange.Burst,
	}, nil, log.Logger)
	defer probeClient.Close()

	server := httpapi.NewServer(reg, map[string]httpapi.HealthProbe{
		"exchange": func(ctx context.Context) error {
			_, err := probeClient.HealthCheck(ctx)
			return err
		},
	}, log.Logger)

	go func() {
		ticker := time.NewTicker(monitorInterval)
		defer ticker.Stop()

		for {
			result, err := orch.Scan(ctx)
			if err != nil {
				log.Error().Err(err).Msg("scan failed")
			} else {
				server.SetLastResult(result)
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	return server.ListenAndServe(ctx, addr)
}
