package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gridrun.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Equity.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, []string{
		"BTC/USD", "ETH/USD", "SOL/USD", "XRP/USD",
		"ADA/USD", "DOT/USD", "LINK/USD", "AVAX/USD",
	}, cfg.Scan.Pairs)
	assert.Equal(t, 2, cfg.Scan.TopN)
	assert.True(t, cfg.FeeGate.AssumeMixed)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
equity: 2500
scan:
  pairs:
    - ETH/USD
  grid_step_pct: 0.005
  top_n: 1
sizing:
  risk_budget_pct: 1.0
fee_gate:
  k_factor: 4
exchange:
  timeout: 20s
redis:
  enabled: true
  addr: cache:6379
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Equity.Equal(decimal.NewFromInt(2500)))
	assert.Equal(t, []string{"ETH/USD"}, cfg.Scan.Pairs)
	assert.True(t, cfg.Scan.GridStepPct.Equal(decimal.RequireFromString("0.005")))
	assert.Equal(t, 1, cfg.Scan.TopN)
	assert.True(t, cfg.Sizing.RiskBudgetPct.Equal(decimal.NewFromInt(1)))
	assert.True(t, cfg.FeeGate.KFactor.Equal(decimal.NewFromInt(4)))
	assert.Equal(t, 20*time.Second, cfg.Exchange.Timeout)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)

	// Untouched sections keep their defaults.
	assert.True(t, cfg.Allocations.CoreBot.Equal(decimal.RequireFromString("0.61")))
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"negative equity", "equity: -100", "equity must be positive"},
		{"zero k factor", "fee_gate:\n  k_factor: 0", "k_factor must be positive"},
		{"empty pairs", "scan:\n  pairs: []", "scan.pairs must not be empty"},
		{
			"bad allocation split",
			"allocations:\n  core_bot: 0.5\n  reserve: 0.2\n  experiments: 0.2",
			"allocations must sum to 1.0",
		},
		{"malformed yaml", "equity: [not a number", "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestSizerConfig(t *testing.T) {
	cfg := Default()
	cfg.Equity = decimal.NewFromInt(2500)

	sc := cfg.SizerConfig()
	assert.True(t, sc.Equity.Equal(decimal.NewFromInt(2500)))
	assert.True(t, sc.RiskBudgetPct.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, sc.MinPositionUSD.Equal(decimal.NewFromInt(50)))
}
