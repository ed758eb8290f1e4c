package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/nongomacoders/stock-analysis-sub001/internal/broker"
	"github.com/nongomacoders/stock-analysis-sub001/internal/datasource"
	"github.com/nongomacoders/stock-analysis-sub001/internal/engine"
	"github.com/nongomacoders/stock-analysis-sub001/internal/feed"
	"github.com/nongomacoders/stock-analysis-sub001/internal/market"
	"github.com/nongomacoders/stock-analysis-sub001/internal/optimize"
	"github.com/nongomacoders/stock-analysis-sub001/internal/performance"
	"github.com/nongomacoders/stock-analysis-sub001/internal/portfolio"
	"github.com/nongomacoders/stock-analysis-sub001/internal/strategy"
)

// Runner 同步执行单次回测；每次调用都构造全新的组件。
type Runner struct {
	loader   *datasource.Loader
	registry *strategy.Registry
}

func NewRunner(loader *datasource.Loader, registry *strategy.Registry) *Runner {
	return &Runner{loader: loader, registry: registry}
}

func (r *Runner) Registry() *strategy.Registry { return r.registry }

func (r *Runner) Loader() *datasource.Loader { return r.loader }

// Run 加载行情 → 构造 broker/portfolio/strategy → 运行引擎 → 汇总指标。
func (r *Runner) Run(ctx context.Context, cfg RunConfig, opts ...engine.Option) (Result, error) {
	if r.loader == nil || r.registry == nil {
		return Result{}, fmt.Errorf("backtest: runner 未初始化")
	}
	tf, err := market.ParseTimeframe(cfg.Timeframe)
	if err != nil {
		return Result{}, err
	}
	f, err := r.loader.Load(ctx, cfg.Symbols, tf, cfg.Start, cfg.End)
	if err != nil {
		return Result{}, fmt.Errorf("加载行情: %w", err)
	}
	commission, err := cfg.Commission.Build()
	if err != nil {
		return Result{}, err
	}
	p := portfolio.New(cfg.InitialCash)
	b := broker.New(commission)
	s, err := r.registry.Build(cfg.Strategy, strategy.Env{Feed: f, Portfolio: p, Broker: b}, cfg.Params.Clone())
	if err != nil {
		return Result{}, err
	}
	eng := engine.New(f, s, p, b, opts...)
	curve, err := eng.Run()
	if err != nil {
		return Result{}, err
	}
	trades := p.Trades()
	return Result{
		Config:  cfg,
		Symbols: f.Symbols(),
		Curve:   curve,
		Trades:  trades,
		Summary: performance.NewAnalyzer(curve, cfg.InitialCash, trades).Summary(),
		Dropped: eng.Dropped(),
		Fills:   eng.FillCount(),
	}, nil
}

// SeriesFactory 只加载一次行情，之后每次调用返回独立的 SeriesFeed。
func (r *Runner) SeriesFactory(ctx context.Context, symbols []string, timeframe string, start, end time.Time) (optimize.FeedFactory, error) {
	tf, err := market.ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	series, err := r.loader.LoadSeries(ctx, symbols, tf, start, end)
	if err != nil {
		return nil, err
	}
	// 提前校验一次，避免每个组合都报同样的错误
	if _, err := feed.NewSeriesFeed(series); err != nil {
		return nil, err
	}
	return func(context.Context) (feed.Feed, error) {
		return feed.NewSeriesFeed(series)
	}, nil
}
