// Package optimize 并行跑参数网格，按 Sharpe 排序。
package optimize

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nongomacoders/stock-analysis-sub001/internal/broker"
	"github.com/nongomacoders/stock-analysis-sub001/internal/engine"
	"github.com/nongomacoders/stock-analysis-sub001/internal/feed"
	"github.com/nongomacoders/stock-analysis-sub001/internal/logger"
	"github.com/nongomacoders/stock-analysis-sub001/internal/performance"
	"github.com/nongomacoders/stock-analysis-sub001/internal/portfolio"
	"github.com/nongomacoders/stock-analysis-sub001/internal/strategy"

	"golang.org/x/sync/errgroup"
)

// FeedFactory 每个组合调用一次，必须返回全新的 feed。
type FeedFactory func(ctx context.Context) (feed.Feed, error)

type Config struct {
	Strategy    string
	Base        strategy.Params
	InitialCash float64
	Commission  broker.CommissionModel
	Workers     int
}

// Result 单个组合的结果；Params 为网格中的取值。
type Result struct {
	Index   int                 `json:"index"`
	Params  strategy.Params     `json:"params"`
	Sharpe  float64             `json:"sharpe"`
	Summary performance.Summary `json:"summary"`
}

type Report struct {
	Strategy string   `json:"strategy"`
	Total    int      `json:"total"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
	Results  []Result `json:"results"`
}

// Best 排名第一的结果。
func (r Report) Best() (Result, bool) {
	if len(r.Results) == 0 {
		return Result{}, false
	}
	return r.Results[0], true
}

type Optimizer struct {
	registry *strategy.Registry
	feeds    FeedFactory
	cfg      Config
	log      *logger.Entry
}

func New(registry *strategy.Registry, feeds FeedFactory, cfg Config) (*Optimizer, error) {
	if registry == nil {
		return nil, fmt.Errorf("optimize: registry is required")
	}
	if feeds == nil {
		return nil, fmt.Errorf("optimize: feed factory is required")
	}
	if _, ok := registry.Definition(cfg.Strategy); !ok {
		return nil, fmt.Errorf("optimize: %w: %s", strategy.ErrUnknownStrategy, cfg.Strategy)
	}
	if cfg.InitialCash <= 0 {
		return nil, fmt.Errorf("optimize: initial cash 必须 > 0")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Commission == nil {
		cfg.Commission = broker.Percentage{}
	}
	return &Optimizer{
		registry: registry,
		feeds:    feeds,
		cfg:      cfg,
		log:      logger.With("optimize").WithField("strategy", cfg.Strategy),
	}, nil
}

// Run 展开网格并发回测；参数非法的组合计入 Skipped，运行出错的计入 Failed。
// ctx 取消后不再调度新组合，已完成的结果仍会返回。
func (o *Optimizer) Run(ctx context.Context, grid Grid) (Report, error) {
	combos := grid.Combinations()
	report := Report{Strategy: o.cfg.Strategy, Total: len(combos)}
	if len(combos) == 0 {
		return report, fmt.Errorf("optimize: 参数网格为空")
	}
	o.log.Infof("开始参数优化 组合=%d workers=%d", len(combos), o.cfg.Workers)

	var (
		mu      sync.Mutex
		results = make([]*Result, len(combos))
		failed  int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)
	for i, combo := range combos {
		if gctx.Err() != nil {
			break
		}
		params, err := o.registry.Resolve(o.cfg.Strategy, o.cfg.Base.Merge(combo))
		if err != nil {
			report.Skipped++
			o.log.Debugf("跳过 %s: %v", combo.Key(), err)
			continue
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res, err := o.runOne(gctx, params)
			if err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				o.log.Warnf("组合 %s 运行失败: %v", combo.Key(), err)
				return nil
			}
			res.Index = i
			res.Params = combo
			results[i] = &res
			o.log.Debugf("组合 %s sharpe=%.2f", combo.Key(), res.Sharpe)
			return nil
		})
	}
	_ = g.Wait()
	report.Failed = failed

	for _, r := range results {
		if r != nil {
			report.Results = append(report.Results, *r)
		}
	}
	sort.SliceStable(report.Results, func(i, j int) bool {
		a, b := report.Results[i], report.Results[j]
		if a.Sharpe != b.Sharpe {
			return a.Sharpe > b.Sharpe
		}
		return a.Index < b.Index
	})
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("optimize: %w", err)
	}
	if best, ok := report.Best(); ok {
		o.log.Infof("优化完成 最优参数 %s sharpe=%.2f", best.Params.Key(), best.Sharpe)
	} else {
		o.log.Warnf("优化完成但没有有效结果 skipped=%d failed=%d", report.Skipped, report.Failed)
	}
	return report, nil
}

func (o *Optimizer) runOne(ctx context.Context, params strategy.Params) (Result, error) {
	f, err := o.feeds(ctx)
	if err != nil {
		return Result{}, err
	}
	p := portfolio.New(o.cfg.InitialCash)
	b := broker.New(o.cfg.Commission)
	s, err := o.registry.Build(o.cfg.Strategy, strategy.Env{Feed: f, Portfolio: p, Broker: b}, params.Clone())
	if err != nil {
		return Result{}, err
	}
	curve, err := engine.New(f, s, p, b).Run()
	if err != nil {
		return Result{}, err
	}
	summary := performance.NewAnalyzer(curve, o.cfg.InitialCash, p.Trades()).Summary()
	if curve.Empty() {
		summary.Sharpe = performance.FlatSharpe
	}
	return Result{Sharpe: summary.Sharpe, Summary: summary}, nil
}
