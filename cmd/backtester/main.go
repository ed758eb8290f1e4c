package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/nongomacoders/stock-analysis-sub001/internal/app"
	"github.com/nongomacoders/stock-analysis-sub001/internal/backtest"
	"github.com/nongomacoders/stock-analysis-sub001/internal/config"
	"github.com/nongomacoders/stock-analysis-sub001/internal/logger"
	"github.com/nongomacoders/stock-analysis-sub001/internal/market"
	"github.com/nongomacoders/stock-analysis-sub001/internal/optimize"
	"github.com/nongomacoders/stock-analysis-sub001/internal/performance"
	"github.com/nongomacoders/stock-analysis-sub001/internal/strategy"

	"github.com/urfave/cli/v2"
)

const (
	flagConfig   = "config"
	flagSymbols  = "symbols"
	flagStart    = "start"
	flagEnd      = "end"
	flagStrategy = "strategy"
	flagGrid     = "grid"
	flagTop      = "top"
	flagWorkers  = "workers"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cliApp := cli.NewApp()
	cliApp.Name = "backtester"
	cliApp.Usage = "event-driven strategy backtester"
	cliApp.EnableBashCompletion = true
	cliApp.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    flagConfig,
			Aliases: []string{"c"},
			Usage:   "path to config.yaml",
			Value:   config.DefaultPath,
			EnvVars: []string{config.EnvConfigPath},
		},
	}
	rangeFlags := []cli.Flag{
		&cli.StringSliceFlag{Name: flagSymbols, Aliases: []string{"s"}, Usage: "override data.symbols"},
		&cli.StringFlag{Name: flagStart, Usage: "override data.start"},
		&cli.StringFlag{Name: flagEnd, Usage: "override data.end"},
	}
	cliApp.Commands = []*cli.Command{
		{
			Name:   "run",
			Usage:  "run a single backtest and print the report",
			Flags:  append([]cli.Flag{&cli.StringFlag{Name: flagStrategy, Usage: "override strategy.name (uses registry defaults)"}}, rangeFlags...),
			Action: runCommand,
		},
		{
			Name:  "optimize",
			Usage: "sweep a parameter grid and rank by sharpe",
			Flags: append([]cli.Flag{
				&cli.StringFlag{Name: flagGrid, Usage: "override optimize.grid_path"},
				&cli.IntFlag{Name: flagTop, Usage: "rows to print", Value: 10},
				&cli.IntFlag{Name: flagWorkers, Usage: "override optimize.workers"},
			}, rangeFlags...),
			Action: optimizeCommand,
		},
		{
			Name:   "fetch",
			Usage:  "download bars into the local store",
			Flags:  rangeFlags,
			Action: fetchCommand,
		},
		{
			Name:   "serve",
			Usage:  "start the HTTP service",
			Action: serveCommand,
		},
	}

	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		log.Fatalf("运行失败: %v", err)
	}
}

// bootstrap 读取配置、接入日志文件并构建应用。
func bootstrap(c *cli.Context) (*app.App, func(), error) {
	path := c.String(flagConfig)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("读取配置失败: %w", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化日志文件失败: %w", err)
	}
	a, cleanup, err := app.New(path, cfg)
	if err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return nil, nil, fmt.Errorf("初始化应用失败: %w", err)
	}
	logger.Infof("✓ 配置加载成功（环境=%s，数据源=%s）", cfg.App.Env, cfg.Data.Source)
	return a, func() {
		cleanup()
		if logFile != nil {
			logFile.Close()
		}
	}, nil
}

func requestFromFlags(c *cli.Context, cfg *config.Config) backtest.RunRequest {
	req := backtest.RunRequest{
		Symbols:   cfg.Data.Symbols,
		Timeframe: cfg.Data.Timeframe,
		Start:     cfg.Data.Start,
		End:       cfg.Data.End,
	}
	if symbols := c.StringSlice(flagSymbols); len(symbols) > 0 {
		req.Symbols = symbols
	}
	if c.IsSet(flagStart) {
		req.Start = c.String(flagStart)
	}
	if c.IsSet(flagEnd) {
		req.End = c.String(flagEnd)
	}
	return req
}

func runCommand(c *cli.Context) error {
	a, cleanup, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer cleanup()

	req := requestFromFlags(c, a.Config())
	if name := strings.TrimSpace(c.String(flagStrategy)); name != "" {
		req.Strategy = name
	}
	cfg, err := a.Service().Resolve(req)
	if err != nil {
		return err
	}
	res, err := a.Runner().Run(c.Context, cfg)
	if err != nil {
		return err
	}
	analyzer := performance.NewAnalyzer(res.Curve, cfg.InitialCash, res.Trades)
	if err := analyzer.WriteReport(os.Stdout); err != nil {
		return err
	}
	if n := len(res.Dropped); n > 0 {
		logger.Warnf("%d 笔订单因资金或持仓不足被丢弃", n)
	}
	return writeArtifacts(c.Context, a.Config().Report, cfg, res)
}

func writeArtifacts(ctx context.Context, rc config.ReportConfig, cfg backtest.RunConfig, res backtest.Result) error {
	title := fmt.Sprintf("%s %s", cfg.Strategy, strings.Join(cfg.Symbols, ","))
	if rc.ChartHTML != "" {
		if err := writeFile(rc.ChartHTML, func(w io.Writer) error {
			return performance.RenderEquityHTML(w, title, res.Curve)
		}); err != nil {
			return fmt.Errorf("写入图表失败: %w", err)
		}
		logger.Infof("图表已写入 %s", rc.ChartHTML)
	}
	if rc.ChartPNG != "" {
		png, err := performance.RenderEquityPNG(ctx, title, res.Curve)
		if err != nil {
			logger.Warnf("截图失败（需要本地 Chrome）: %v", err)
		} else if err := writeFile(rc.ChartPNG, func(w io.Writer) error {
			_, err := w.Write(png)
			return err
		}); err != nil {
			return fmt.Errorf("写入截图失败: %w", err)
		}
	}
	if rc.EquityCSV != "" {
		if err := writeFile(rc.EquityCSV, func(w io.Writer) error {
			return performance.WriteEquityCSV(w, res.Curve)
		}); err != nil {
			return fmt.Errorf("写入权益曲线失败: %w", err)
		}
		logger.Infof("权益曲线已写入 %s", rc.EquityCSV)
	}
	return nil
}

func optimizeCommand(c *cli.Context) error {
	a, cleanup, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer cleanup()

	cfg := a.Config()
	gridPath := cfg.Optimize.GridPath
	if c.IsSet(flagGrid) {
		gridPath = c.String(flagGrid)
	}
	if gridPath == "" {
		return fmt.Errorf("optimize.grid_path is required")
	}
	gf, err := optimize.LoadGrid(gridPath)
	if err != nil {
		return err
	}

	req := backtest.OptimizeRequest{RunRequest: requestFromFlags(c, cfg), Grid: gf.Grid}
	req.Strategy = cfg.Strategy.Name
	req.Params = strategy.Params(cfg.Strategy.Params).Clone()
	if gf.Strategy != "" && gf.Strategy != cfg.Strategy.Name {
		req.Strategy = gf.Strategy
		req.Params = strategy.Params{}
	}
	req.Params = req.Params.Merge(gf.Base)
	if c.IsSet(flagWorkers) {
		req.Workers = c.Int(flagWorkers)
	}

	sweep, err := a.Service().Optimize(c.Context, req)
	if err != nil {
		return err
	}
	logger.Infof("sweep %s: %d 组合，跳过 %d", sweep.ID, sweep.Report.Total, sweep.Report.Skipped)
	return optimize.WriteTable(os.Stdout, sweep.Report, c.Int(flagTop))
}

func fetchCommand(c *cli.Context) error {
	a, cleanup, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer cleanup()

	req := requestFromFlags(c, a.Config())
	cfg, err := a.Service().Resolve(req)
	if err != nil {
		return err
	}
	tf, err := market.ParseTimeframe(cfg.Timeframe)
	if err != nil {
		return err
	}
	counts, err := a.Loader().Warm(c.Context, cfg.Symbols, tf, cfg.Start, cfg.End)
	if err != nil {
		return err
	}
	for _, sym := range cfg.Symbols {
		fmt.Fprintf(os.Stdout, "%-12s %6d bars\n", sym, counts[sym])
	}
	return nil
}

func serveCommand(c *cli.Context) error {
	a, cleanup, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer cleanup()
	return a.Run(c.Context)
}

func writeFile(path string, fn func(io.Writer) error) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
