// Package config loads the gridrun YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/gridrun/internal/gates"
	"github.com/sawpanic/gridrun/internal/orchestrator"
	"github.com/sawpanic/gridrun/internal/sizing"
)

// Config is the top-level configuration file structure.
type Config struct {
	Equity      decimal.Decimal        `yaml:"equity"`
	Scan        orchestrator.Config    `yaml:"scan"`
	Sizing      SizingConfig           `yaml:"sizing"`
	FeeGate     gates.FeeGateConfig    `yaml:"fee_gate"`
	Regime      gates.RegimeGateConfig `yaml:"regime"`
	Allocations AllocationsConfig      `yaml:"allocations"`
	Exchange    ExchangeConfig         `yaml:"exchange"`
	Redis       RedisConfig            `yaml:"redis"`
	Database    DatabaseConfig         `yaml:"database"`
	Server      ServerConfig           `yaml:"server"`
}

// SizingConfig mirrors the sizer parameters without equity, which is set at
// the top level.
type SizingConfig struct {
	RiskBudgetPct  decimal.Decimal `yaml:"risk_budget_pct"`
	MaxPositionPct decimal.Decimal `yaml:"max_position_pct"`
	MinPositionUSD decimal.Decimal `yaml:"min_position_usd"`
}

// AllocationsConfig is the bucket split, as fractions summing to 1.0.
type AllocationsConfig struct {
	CoreBot     decimal.Decimal `yaml:"core_bot"`
	Reserve     decimal.Decimal `yaml:"reserve"`
	Experiments decimal.Decimal `yaml:"experiments"`
	StatePath   string          `yaml:"state_path"`
}

// ExchangeConfig holds venue client settings.
type ExchangeConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	RPS        float64       `yaml:"rps"`
	Burst      int           `yaml:"burst"`
}

// RedisConfig holds the optional ticker cache settings.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DatabaseConfig holds the optional scan persistence settings.
type DatabaseConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// ServerConfig holds the monitoring HTTP server settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is supplied:
// $5000 equity, the stock gates, and no external services.
func Default() *Config {
	return &Config{
		Equity: decimal.NewFromInt(5000),
		Scan:   orchestrator.DefaultConfig(),
		Sizing: SizingConfig{
			RiskBudgetPct:  decimal.RequireFromString("0.5"),
			MaxPositionPct: decimal.NewFromInt(25),
			MinPositionUSD: decimal.NewFromInt(50),
		},
		FeeGate: gates.DefaultFeeGateConfig(),
		Regime: gates.DefaultRegimeGateConfig(),
		Allocations: AllocationsConfig{
			CoreBot:     decimal.RequireFromString("0.61"),
			Reserve:     decimal.RequireFromString("0.24"),
			Experiments: decimal.RequireFromString("0.15"),
		},
		Exchange: ExchangeConfig{
			BaseURL:    "https://api.kraken.com",
			Timeout:    10 * time.Second,
			MaxRetries: 3,
			RPS:        1,
			Burst:      3,
		},
		Redis:  RedisConfig{Addr: "localhost:6379"},
		Server: ServerConfig{Addr: ":8080"},
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if !c.Equity.IsPositive() {
		return fmt.Errorf("equity must be positive, got %s", c.Equity)
	}
	if !c.Sizing.RiskBudgetPct.IsPositive() {
		return fmt.Errorf("risk_budget_pct must be positive, got %s", c.Sizing.RiskBudgetPct)
	}
	if !c.FeeGate.KFactor.IsPositive() {
		return fmt.Errorf("k_factor must be positive, got %s", c.FeeGate.KFactor)
	}
	if len(c.Scan.Pairs) == 0 {
		return fmt.Errorf("scan.pairs must not be empty")
	}
	if !c.Scan.GridStepPct.IsPositive() {
		return fmt.Errorf("scan.grid_step_pct must be positive, got %s", c.Scan.GridStepPct)
	}
	sum := c.Allocations.CoreBot.Add(c.Allocations.Reserve).Add(c.Allocations.Experiments)
	if sum.Sub(decimal.NewFromInt(1)).Abs().GreaterThan(decimal.RequireFromString("0.001")) {
		return fmt.Errorf("allocations must sum to 1.0, got %s", sum)
	}
	return nil
}

// SizerConfig builds the sizer parameters with the configured equity.
func (c *Config) SizerConfig() sizing.SizerConfig {
	return sizing.SizerConfig{
		Equity:         c.Equity,
		RiskBudgetPct:  c.Sizing.RiskBudgetPct,
		MaxPositionPct: c.Sizing.MaxPositionPct,
		MinPositionUSD: c.Sizing.MinPositionUSD,
	}
}
