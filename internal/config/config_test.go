package config

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	unsetEnv(t, EnvTelegramBotToken, EnvTelegramChatID, EnvLogLevel)
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
data:
  symbols: [" aapl ", "MSFT", "AAPL"]
  start: "2023-01-01"
  end: "2024-01-01"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":9991", cfg.App.HTTPAddr)
	assert.Equal(t, "csv", cfg.Data.Source)
	assert.Equal(t, "1d", cfg.Data.Timeframe)
	assert.Equal(t, []string{"AAPL", "MSFT"}, cfg.Data.Symbols)
	assert.Equal(t, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), cfg.Data.StartTime())
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), cfg.Data.EndTime())
	assert.Equal(t, "percentage", cfg.Broker.CommissionModel)
	assert.Equal(t, 0.1, cfg.Broker.CommissionRate)
	assert.Equal(t, 100000.0, cfg.Portfolio.InitialCash)
	assert.Equal(t, "sma_cross", cfg.Strategy.Name)
	assert.NotNil(t, cfg.Strategy.Params)
	assert.Equal(t, runtime.NumCPU(), cfg.Optimize.Workers)
	assert.Equal(t, 2, cfg.Service.MaxConcurrent)
}

func TestLoadKeepsExplicitValues(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
broker:
  commission_model: flat
  commission_rate: 0
  flat_fee: 0
strategy:
  name: rsi_revert
  params:
    period: "10"
    oversold: 25
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "flat", cfg.Broker.CommissionModel)
	assert.Zero(t, cfg.Broker.CommissionRate)
	assert.Zero(t, cfg.Broker.FlatFee)
	assert.Equal(t, "rsi_revert", cfg.Strategy.Name)
	assert.Equal(t, "10", cfg.Strategy.Params["period"])
	assert.EqualValues(t, 25, cfg.Strategy.Params["oversold"])
}

func TestLoadMergesIncludesInOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
portfolio:
  initial_cash: 5000
data:
  source: yahoo
`)
	path := writeFile(t, dir, "config.yaml", `
include: ["base.yaml"]
data:
  source: binance
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5000.0, cfg.Portfolio.InitialCash)
	assert.Equal(t, "binance", cfg.Data.Source)
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [\"b.yaml\"]\n")
	writeFile(t, dir, "b.yaml", "include: [\"a.yaml\"]\n")
	_, err := Load(filepath.Join(dir, "a.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"zero cash":       "portfolio:\n  initial_cash: 0\n",
		"bad model":       "broker:\n  commission_model: tiered\n",
		"negative rate":   "broker:\n  commission_rate: -1\n",
		"negative fee":    "broker:\n  commission_model: flat\n  flat_fee: -2\n",
		"bad source":      "data:\n  source: ftp\n",
		"bad timeframe":   "data:\n  timeframe: 7m\n",
		"bad start":       "data:\n  start: \"someday\"\n",
		"inverted range":  "data:\n  start: \"2024-01-01\"\n  end: \"2023-01-01\"\n",
		"empty strategy":  "strategy:\n  name: \"\"\n",
		"zero workers":    "optimize:\n  workers: 0\n",
		"telegram no key": "notify:\n  telegram:\n    enabled: true\n",
	}
	unsetEnv(t, EnvTelegramBotToken, EnvTelegramChatID)
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", body)
			_, err := Load(path)
			require.Error(t, err)
		})
	}
}

func TestLoadReadsSecretsFromDotEnv(t *testing.T) {
	unsetEnv(t, EnvTelegramBotToken, EnvTelegramChatID)
	dir := t.TempDir()
	writeFile(t, dir, ".env", "TELEGRAM_BOT_TOKEN=abc\nTELEGRAM_CHAT_ID=42\n")
	path := writeFile(t, dir, "config.yaml", "notify:\n  telegram:\n    enabled: true\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "abc", cfg.Notify.Telegram.BotToken)
	assert.Equal(t, "42", cfg.Notify.Telegram.ChatID)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvTelegramChatID, "99")
	path := writeFile(t, t.TempDir(), "config.yaml", "app:\n  log_level: warn\nnotify:\n  telegram:\n    chat_id: \"1\"\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, "99", cfg.Notify.Telegram.ChatID)
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	assert.Equal(t, DefaultPath, PathFromEnv())
	t.Setenv(EnvConfigPath, "/etc/bt.yaml")
	assert.Equal(t, "/etc/bt.yaml", PathFromEnv())
}

func TestWatchReloadsOnChange(t *testing.T) {
	unsetEnv(t, EnvLogLevel)
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "app:\n  log_level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c *Config) { changes <- c })
	}()

	// 给 watcher 注册留出时间
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "other.yaml", "ignored: true\n")
	writeFile(t, dir, "config.yaml", "app:\n  log_level: debug\n")

	select {
	case cfg := <-changes:
		assert.Equal(t, "debug", cfg.App.LogLevel)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}
	cancel()
	require.NoError(t, <-done)
}

func TestWatchRequiresCallback(t *testing.T) {
	require.Error(t, Watch(context.Background(), "config.yaml", nil))
}
