package backtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nongomacoders/stock-analysis-sub001/internal/datasource"
	"github.com/nongomacoders/stock-analysis-sub001/internal/gateway/notifier"
	"github.com/nongomacoders/stock-analysis-sub001/internal/logger"
	"github.com/nongomacoders/stock-analysis-sub001/internal/market"
	"github.com/nongomacoders/stock-analysis-sub001/internal/optimize"
	"github.com/nongomacoders/stock-analysis-sub001/internal/strategy"

	"github.com/google/uuid"
)

// ErrInvalidRequest 请求参数不合法（HTTP 层映射为 400）。
var ErrInvalidRequest = errors.New("backtest: invalid request")

// Notifier 用于运行完成后的推送（Telegram 等）。
type Notifier = notifier.TextNotifier

// Defaults 请求缺省字段的补全值，来自配置文件。
type Defaults struct {
	Timeframe   string
	Strategy    string
	Params      strategy.Params
	InitialCash float64
	Commission  CommissionSpec
	Workers     int
}

type ServiceConfig struct {
	Runner        *Runner
	Results       *ResultStore
	Sweeps        *SweepStore
	Notifier      Notifier
	Defaults      Defaults
	MaxConcurrent int
}

// Service 管理异步回测任务：落库、并发控制与完成通知。
type Service struct {
	runner   *Runner
	results  *ResultStore
	sweeps   *SweepStore
	notifier Notifier

	mu       sync.RWMutex
	defaults Defaults

	sem     chan struct{}
	wg      sync.WaitGroup
	baseCtx context.Context
	log     *logger.Entry
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner 不能为空")
	}
	if cfg.Results == nil {
		return nil, fmt.Errorf("result store 不能为空")
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	defaults := cfg.Defaults
	if defaults.Timeframe == "" {
		defaults.Timeframe = "1d"
	}
	if defaults.InitialCash <= 0 {
		defaults.InitialCash = 100000
	}
	if defaults.Commission.Model == "" {
		defaults.Commission = CommissionSpec{Model: "percentage", Rate: 0.1}
	}
	if defaults.Workers <= 0 {
		defaults.Workers = 1
	}
	return &Service{
		runner:   cfg.Runner,
		results:  cfg.Results,
		sweeps:   cfg.Sweeps,
		notifier: cfg.Notifier,
		defaults: defaults,
		sem:      make(chan struct{}, maxConcurrent),
		baseCtx:  context.Background(),
		log:      logger.With("backtest"),
	}, nil
}

// SetContext 注入宿主 ctx，后台任务沿用它。
func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Service) ctx() context.Context {
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

// SetDefaults 热更新缺省值，只影响之后提交的请求。
func (s *Service) SetDefaults(d Defaults) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.Timeframe != "" {
		s.defaults.Timeframe = d.Timeframe
	}
	if d.Strategy != "" {
		s.defaults.Strategy = d.Strategy
		s.defaults.Params = d.Params.Clone()
	}
	if d.InitialCash > 0 {
		s.defaults.InitialCash = d.InitialCash
	}
	if d.Commission.Model != "" {
		s.defaults.Commission = d.Commission
	}
	if d.Workers > 0 {
		s.defaults.Workers = d.Workers
	}
}

func (s *Service) Defaults() Defaults {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := s.defaults
	d.Params = d.Params.Clone()
	return d
}

func (s *Service) Runner() *Runner { return s.runner }

func (s *Service) Results() *ResultStore { return s.results }

func (s *Service) Sweeps() *SweepStore { return s.sweeps }

// Resolve 补全默认值并校验，返回可直接运行的 RunConfig。
func (s *Service) Resolve(req RunRequest) (RunConfig, error) {
	d := s.Defaults()
	symbols := make([]string, 0, len(req.Symbols))
	seen := make(map[string]struct{}, len(req.Symbols))
	for _, raw := range req.Symbols {
		sym := market.NormalizeSymbol(raw)
		if sym == "" {
			continue
		}
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		symbols = append(symbols, sym)
	}
	if len(symbols) == 0 {
		return RunConfig{}, fmt.Errorf("%w: symbols 不能为空", ErrInvalidRequest)
	}
	tfKey := strings.TrimSpace(req.Timeframe)
	if tfKey == "" {
		tfKey = d.Timeframe
	}
	tf, err := market.ParseTimeframe(tfKey)
	if err != nil {
		return RunConfig{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	start, err := datasource.ParseTime(req.Start)
	if err != nil {
		return RunConfig{}, fmt.Errorf("%w: start: %v", ErrInvalidRequest, err)
	}
	var end time.Time
	if strings.TrimSpace(req.End) != "" {
		if end, err = datasource.ParseTime(req.End); err != nil {
			return RunConfig{}, fmt.Errorf("%w: end: %v", ErrInvalidRequest, err)
		}
		if !start.Before(end) {
			return RunConfig{}, fmt.Errorf("%w: start 必须早于 end", ErrInvalidRequest)
		}
	}
	name := strings.TrimSpace(req.Strategy)
	params := req.Params
	if name == "" {
		name = d.Strategy
		if params == nil {
			params = d.Params
		}
	}
	if name == "" {
		return RunConfig{}, fmt.Errorf("%w: strategy 不能为空", ErrInvalidRequest)
	}
	resolved, err := s.runner.Registry().Resolve(name, params)
	if err != nil {
		return RunConfig{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	cash := req.InitialCash
	if cash == 0 {
		cash = d.InitialCash
	}
	if cash <= 0 {
		return RunConfig{}, fmt.Errorf("%w: initial_cash 必须 > 0", ErrInvalidRequest)
	}
	commission := d.Commission
	if req.Commission != nil {
		commission = *req.Commission
	}
	if _, err := commission.Build(); err != nil {
		return RunConfig{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return RunConfig{
		Symbols:     symbols,
		Timeframe:   tf.Key,
		Start:       start,
		End:         end,
		Strategy:    name,
		Params:      resolved,
		InitialCash: cash,
		Commission:  commission,
	}, nil
}

// StartRun 创建回测任务并立即返回，运行过程在后台进行。
func (s *Service) StartRun(req RunRequest) (Run, error) {
	cfg, err := s.Resolve(req)
	if err != nil {
		return Run{}, err
	}
	now := time.Now().UTC()
	run := Run{
		ID:          uuid.NewString(),
		Strategy:    cfg.Strategy,
		Symbols:     cfg.Symbols,
		Timeframe:   cfg.Timeframe,
		Status:      RunStatusPending,
		Start:       cfg.Start,
		End:         cfg.End,
		InitialCash: cfg.InitialCash,
		Config:      cfg,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.results.InsertRun(s.ctx(), run); err != nil {
		return Run{}, err
	}
	s.log.Infof("任务 %s 提交：%s %s %s", run.ID, cfg.Strategy, joinSymbols(cfg.Symbols), cfg.Timeframe)
	s.wg.Add(1)
	go s.runLoop(run.ID, cfg)
	return run, nil
}

// Wait 等待所有后台任务结束。
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) runLoop(runID string, cfg RunConfig) {
	defer s.wg.Done()
	ctx := s.ctx()
	select {
	case s.sem <- struct{}{}:
	default:
		s.log.Warnf("run %s 等待可用 worker", runID)
		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			_ = s.results.UpdateRunStatus(context.Background(), runID, RunStatusFailed, "服务已关闭")
			return
		}
	}
	defer func() { <-s.sem }()

	if _, err := s.Execute(ctx, runID, cfg); err != nil {
		s.log.Warnf("run %s 失败: %v", runID, err)
		_ = s.results.UpdateRunStatus(context.Background(), runID, RunStatusFailed, err.Error())
	}
}

// Execute 同步运行一个已登记的任务并持久化全部产出。
func (s *Service) Execute(ctx context.Context, runID string, cfg RunConfig) (Result, error) {
	if err := s.results.UpdateRunStatus(ctx, runID, RunStatusRunning, "运行中…"); err != nil {
		return Result{}, err
	}
	res, err := s.runner.Run(ctx, cfg)
	if err != nil {
		return Result{}, err
	}
	if err := s.results.SaveResult(ctx, runID, res); err != nil {
		return res, err
	}
	s.log.Infof("run %s 完成 final=%.2f sharpe=%.2f", runID, res.Summary.FinalEquity, res.Summary.Sharpe)
	s.notify(runID, res)
	return res, nil
}

func (s *Service) notify(runID string, res Result) {
	if s.notifier == nil {
		return
	}
	sum := res.Summary
	msg := notifier.Message{
		Icon:  "✅",
		Title: "回测完成",
		Fields: []notifier.Field{
			notifier.F("id", "%s", runID),
			notifier.F("strategy", "%s", res.Config.Strategy),
			notifier.F("symbols", "%s", joinSymbols(res.Symbols)),
			notifier.F("return", "%.2f%%", sum.TotalReturn),
			notifier.F("sharpe", "%.2f", sum.Sharpe),
			notifier.F("maxDD", "%.2f%%", sum.MaxDrawdown),
			notifier.F("trades", "%d (win %.2f%%)", sum.Trades.TotalTrades, sum.Trades.WinRate),
			notifier.F("final", "%.2f", sum.FinalEquity),
		},
		Timestamp: time.Now(),
	}
	if err := s.notifier.SendText(msg.RenderMarkdown()); err != nil {
		s.log.Warnf("回测通知失败: %v", err)
	}
}

// OptimizeRequest 参数优化请求；Params 为基础参数，Grid 覆盖其中的键。
type OptimizeRequest struct {
	RunRequest
	Grid    optimize.Grid `json:"grid" binding:"required"`
	Workers int           `json:"workers"`
}

// Optimize 同步执行参数扫描；配置了 SweepStore 时落库。
func (s *Service) Optimize(ctx context.Context, req OptimizeRequest) (Sweep, error) {
	if req.Grid.Size() == 0 {
		return Sweep{}, fmt.Errorf("%w: grid 不能为空", ErrInvalidRequest)
	}
	cfg, err := s.Resolve(req.RunRequest)
	if err != nil {
		return Sweep{}, err
	}
	commission, err := cfg.Commission.Build()
	if err != nil {
		return Sweep{}, err
	}
	workers := req.Workers
	if workers <= 0 {
		workers = s.Defaults().Workers
	}
	feeds, err := s.runner.SeriesFactory(ctx, cfg.Symbols, cfg.Timeframe, cfg.Start, cfg.End)
	if err != nil {
		return Sweep{}, fmt.Errorf("加载行情: %w", err)
	}
	opt, err := optimize.New(s.runner.Registry(), feeds, optimize.Config{
		Strategy:    cfg.Strategy,
		Base:        cfg.Params,
		InitialCash: cfg.InitialCash,
		Commission:  commission,
		Workers:     workers,
	})
	if err != nil {
		return Sweep{}, err
	}
	report, err := opt.Run(ctx, req.Grid)
	if err != nil {
		return Sweep{}, err
	}
	sweep := Sweep{
		ID:        uuid.NewString(),
		Symbols:   cfg.Symbols,
		Timeframe: cfg.Timeframe,
		Grid:      req.Grid,
		Base:      cfg.Params,
		CreatedAt: time.Now().UTC(),
		Report:    report,
	}
	if s.sweeps != nil {
		if err := s.sweeps.SaveSweep(ctx, sweep); err != nil {
			return sweep, fmt.Errorf("保存 sweep: %w", err)
		}
	}
	return sweep, nil
}
