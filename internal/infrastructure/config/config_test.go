package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spreadarb/internal/domain/model"
)

const sampleTOML = `
[app]
log_level = "debug"
eval_interval_ms = 250

[trading]
leverage = 3
max_positions = 2
fixed_order_size = 100

[[strategies]]
name = "btc-basis"
scenario = "a"
entry_threshold = 0.002
exit_threshold = 0.0005
leg_a = { venue = "binance_fut", instrument = "btcusdt_perp" }
leg_b = { venue = "binance", instrument = "BTCUSDT" }

[venues.binance]
kind = "binance"

[venues.binance_fut]
kind = "binance"
futures = true

[sqlite]
enabled = true
`

const sampleYAML = `
trading:
  max_positions: 3
strategies:
  - name: perp-perp
    scenario: B
    entry_threshold: 0.001
    exit_threshold: 0.0002
    quantity: 0.01
    quantity_step: 0.01
    leg_a: {venue: paper-x, instrument: BTCUSDT_PERP}
    leg_b: {venue: paper-y, instrument: BTCUSDT_PERP}
venues:
  paper-x: {kind: paper, paper_balance: 500}
  paper-y: {kind: paper}
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func setBinanceEnv(t *testing.T, key, secret string) {
	t.Helper()
	for _, venue := range []string{"BINANCE", "BINANCE_FUT"} {
		k, s := CredentialEnv(venue)
		t.Setenv(k, key)
		t.Setenv(s, secret)
	}
}

func TestLoadTOML(t *testing.T) {
	setBinanceEnv(t, "k", "s")

	cfg, err := Load(writeFile(t, "config.toml", sampleTOML))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, 250*time.Millisecond, cfg.EvalInterval())
	assert.Equal(t, 5*time.Minute, cfg.ReportEvery())
	assert.Equal(t, 24*time.Hour, cfg.HistoryRetention())
	assert.Equal(t, "data/spreadarb.db", cfg.SQLite.Path)

	v := cfg.Venues["BINANCE"]
	assert.Equal(t, "k", v.APIKey)
	assert.Equal(t, "s", v.APISecret)
	assert.Equal(t, "https://api.binance.com", v.RestURL)
	assert.Equal(t, 5*time.Second, v.Timeout())

	fut := cfg.Venues["BINANCE_FUT"]
	assert.True(t, fut.Futures)
	assert.Equal(t, "https://fapi.binance.com", fut.RestURL)
	assert.Equal(t, "wss://fstream.binance.com", fut.WsURL)

	strategies, err := cfg.StrategyConfigs()
	require.NoError(t, err)
	require.Len(t, strategies, 1)
	s := strategies[0]
	assert.Equal(t, model.ScenarioA, s.Scenario)
	assert.Equal(t, "BTCUSDT_PERP", s.LegA.Instrument)
	assert.True(t, s.EntryThreshold.Equal(decimal.RequireFromString("0.002")))
	assert.True(t, s.Quantity.IsZero())
	assert.True(t, s.QuantityStep.Equal(decimal.RequireFromString("0.001")), "default step %s", s.QuantityStep)
	require.NoError(t, s.Validate())

	risk := cfg.RiskConfig()
	assert.True(t, risk.Leverage.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, 2, risk.MaxPositions)
	assert.Equal(t, "USDT", risk.QuoteAsset)

	assert.Equal(t, map[string][]string{
		"BINANCE":     {"BTCUSDT"},
		"BINANCE_FUT": {"BTCUSDT_PERP"},
	}, cfg.Instruments())
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(writeFile(t, "config.yaml", sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"PAPER-X", "PAPER-Y"}, cfg.VenueNames())
	assert.Equal(t, 500.0, cfg.Venues["PAPER-X"].PaperBalance)
	assert.Equal(t, 10000.0, cfg.Venues["PAPER-Y"].PaperBalance)
	assert.Equal(t, 3, cfg.Trading.MaxPositions)
	assert.Equal(t, 10.0, cfg.Trading.FixedOrderSize)

	strategies, err := cfg.StrategyConfigs()
	require.NoError(t, err)
	assert.Equal(t, model.ScenarioB, strategies[0].Scenario)
	assert.True(t, strategies[0].Quantity.Equal(decimal.RequireFromString("0.01")))
	assert.True(t, strategies[0].QuantityStep.Equal(decimal.RequireFromString("0.01")), "per-strategy step")
}

func TestLoadDotEnvCredentials(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(p, []byte(sampleTOML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(
		"SPREADARB_BINANCE_API_KEY=fromfile\nSPREADARB_BINANCE_API_SECRET=secret\n"+
			"SPREADARB_BINANCE_FUT_API_KEY=fut\nSPREADARB_BINANCE_FUT_API_SECRET=secret\n"), 0o600))

	// t.Setenv 注册清理，godotenv 写入的值在测试结束后恢复
	setBinanceEnv(t, "", "")
	for _, venue := range []string{"BINANCE", "BINANCE_FUT"} {
		k, s := CredentialEnv(venue)
		require.NoError(t, os.Unsetenv(k))
		require.NoError(t, os.Unsetenv(s))
	}

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "fromfile", cfg.Venues["BINANCE"].APIKey)
	assert.Equal(t, "fut", cfg.Venues["BINANCE_FUT"].APIKey)
}

func TestLoadMissingCredentials(t *testing.T) {
	setBinanceEnv(t, "", "")

	p := writeFile(t, "config.toml", sampleTOML)
	_, err := Load(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SPREADARB_BINANCE_API_KEY")

	cfg, err := Load(p, WithDryRun(true))
	require.NoError(t, err)
	assert.True(t, cfg.App.DryRun)
}

func TestValidateErrors(t *testing.T) {
	cases := map[string]string{
		"no strategies": `
[venues.paper]
kind = "paper"
`,
		"unknown venue": `
[[strategies]]
name = "s"
scenario = "A"
leg_a = { venue = "nope", instrument = "BTCUSDT_PERP" }
leg_b = { venue = "paper", instrument = "BTCUSDT" }
[venues.paper]
kind = "paper"
`,
		"bad scenario": `
[[strategies]]
name = "s"
scenario = "C"
leg_a = { venue = "paper", instrument = "BTCUSDT_PERP" }
leg_b = { venue = "paper", instrument = "BTCUSDT" }
[venues.paper]
kind = "paper"
`,
		"bad kind": `
[[strategies]]
name = "s"
scenario = "A"
leg_a = { venue = "x", instrument = "BTCUSDT_PERP" }
leg_b = { venue = "x", instrument = "BTCUSDT" }
[venues.x]
kind = "ftx"
`,
		"postgres without dsn": `
[[strategies]]
name = "s"
scenario = "A"
leg_a = { venue = "paper", instrument = "BTCUSDT_PERP" }
leg_b = { venue = "paper", instrument = "BTCUSDT" }
[venues.paper]
kind = "paper"
[postgres]
enabled = true
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "config.toml", body))
			assert.Error(t, err)
		})
	}
}

func TestCredentialEnv(t *testing.T) {
	key, secret := CredentialEnv("paper-x")
	assert.Equal(t, "SPREADARB_PAPER_X_API_KEY", key)
	assert.Equal(t, "SPREADARB_PAPER_X_API_SECRET", secret)
}
