package app

import (
	"fmt"
	"strings"

	"github.com/nongomacoders/stock-analysis-sub001/internal/backtest"
	"github.com/nongomacoders/stock-analysis-sub001/internal/config"
	"github.com/nongomacoders/stock-analysis-sub001/internal/datasource"
	"github.com/nongomacoders/stock-analysis-sub001/internal/gateway/notifier"
	"github.com/nongomacoders/stock-analysis-sub001/internal/logger"
	"github.com/nongomacoders/stock-analysis-sub001/internal/strategy"
	"github.com/nongomacoders/stock-analysis-sub001/internal/strategy/builtin"
	backtesthttp "github.com/nongomacoders/stock-analysis-sub001/internal/transport/http/backtest"
)

// ConfigPath 配置文件路径，热更新监听用；为空时不监听。
type ConfigPath string

func provideBarStore(cfg *config.Config) (*datasource.Store, func(), error) {
	root := strings.TrimSpace(cfg.Data.StoreRoot)
	if root == "" {
		return nil, func() {}, nil
	}
	store, err := datasource.NewStore(root)
	if err != nil {
		return nil, nil, fmt.Errorf("init bar store: %w", err)
	}
	return store, func() { _ = store.Close() }, nil
}

func provideSource(cfg *config.Config, store *datasource.Store) (datasource.Source, error) {
	d := cfg.Data
	return datasource.NewSource(d.Source, d.CSVDir, d.YahooBase, d.BinanceREST, d.RateLimitPerMin, store)
}

func provideLoader(src datasource.Source, store *datasource.Store) *datasource.Loader {
	return datasource.NewLoader(src, store)
}

func provideRegistry() (*strategy.Registry, error) {
	return builtin.NewRegistry()
}

func provideRunner(loader *datasource.Loader, reg *strategy.Registry) *backtest.Runner {
	return backtest.NewRunner(loader, reg)
}

func provideResultStore(cfg *config.Config) (*backtest.ResultStore, func(), error) {
	store, err := backtest.NewResultStore(cfg.Results.Root)
	if err != nil {
		return nil, nil, fmt.Errorf("init result store: %w", err)
	}
	return store, func() { _ = store.Close() }, nil
}

func provideSweepStore(cfg *config.Config) (*backtest.SweepStore, func(), error) {
	store, err := backtest.NewSweepStore(cfg.Results.SweepDB)
	if err != nil {
		return nil, nil, fmt.Errorf("init sweep store: %w", err)
	}
	return store, func() { _ = store.Close() }, nil
}

func provideNotifier(cfg *config.Config) notifier.TextNotifier {
	tg := cfg.Notify.Telegram
	if !tg.Enabled {
		return nil
	}
	logger.Infof("Telegram 通知已启用 chat=%s", tg.ChatID)
	return notifier.NewTelegram(tg.BotToken, tg.ChatID)
}

// DefaultsFromConfig 把配置映射为请求缺省值。
func DefaultsFromConfig(cfg *config.Config) backtest.Defaults {
	return backtest.Defaults{
		Timeframe:   cfg.Data.Timeframe,
		Strategy:    cfg.Strategy.Name,
		Params:      cfg.Strategy.Params,
		InitialCash: cfg.Portfolio.InitialCash,
		Commission: backtest.CommissionSpec{
			Model: cfg.Broker.CommissionModel,
			Rate:  cfg.Broker.CommissionRate,
			Fee:   cfg.Broker.FlatFee,
		},
		Workers: cfg.Optimize.Workers,
	}
}

func provideService(cfg *config.Config, runner *backtest.Runner, results *backtest.ResultStore, sweeps *backtest.SweepStore, n notifier.TextNotifier) (*backtest.Service, error) {
	return backtest.NewService(backtest.ServiceConfig{
		Runner:        runner,
		Results:       results,
		Sweeps:        sweeps,
		Notifier:      n,
		Defaults:      DefaultsFromConfig(cfg),
		MaxConcurrent: cfg.Service.MaxConcurrent,
	})
}

func provideHTTPServer(cfg *config.Config, svc *backtest.Service, store *datasource.Store) (*backtesthttp.Server, error) {
	return backtesthttp.NewServer(backtesthttp.Config{
		Addr: cfg.App.HTTPAddr,
		Svc:  svc,
		Bars: store,
	})
}
