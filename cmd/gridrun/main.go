package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	flagConfig  string
	flagVerbose bool
)

// rootCmd is the base command for the gridrun CLI
var rootCmd = &cobra.Command{
	Use:   "gridrun",
	Short: "gridrun grid trading decision support",
	Long: `gridrun is a decision-support layer for crypto grid trading. It checks
fee positivity, market regime, position sizing, and asset rotation, then
emits advisory signals. It never places orders.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("gridrun - grid trading decision support")
		fmt.Println("Use 'gridrun scan' to run a full decision scan")
	},
}

func setupLogging() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if flagVerbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.Kitchen,
	})
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to YAML configuration file")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
