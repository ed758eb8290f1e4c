package app

import (
	"context"
	"fmt"

	"github.com/nongomacoders/stock-analysis-sub001/internal/backtest"
	"github.com/nongomacoders/stock-analysis-sub001/internal/config"
	"github.com/nongomacoders/stock-analysis-sub001/internal/datasource"
	"github.com/nongomacoders/stock-analysis-sub001/internal/logger"
	backtesthttp "github.com/nongomacoders/stock-analysis-sub001/internal/transport/http/backtest"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：持有数据源、回测服务与 HTTP 服务。
type App struct {
	cfg    *config.Config
	path   ConfigPath
	loader *datasource.Loader
	svc    *backtest.Service
	server *backtesthttp.Server
}

func newApp(cfg *config.Config, path ConfigPath, loader *datasource.Loader, svc *backtest.Service, server *backtesthttp.Server) *App {
	return &App{cfg: cfg, path: path, loader: loader, svc: svc, server: server}
}

// New 根据配置构建应用对象（不启动）；cleanup 负责关闭数据库。
func New(path string, cfg *config.Config) (*App, func(), error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return InitializeApp(ConfigPath(path), cfg)
}

func (a *App) Config() *config.Config { return a.cfg }

func (a *App) Loader() *datasource.Loader { return a.loader }

func (a *App) Service() *backtest.Service { return a.svc }

func (a *App) Runner() *backtest.Runner { return a.svc.Runner() }

// Run 启动 HTTP 服务与配置监听，直到 ctx 结束；返回前等待后台回测完成。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.svc == nil || a.server == nil {
		return fmt.Errorf("app not initialized")
	}
	NewStartupSummary(a.cfg).Print()
	a.svc.SetContext(ctx)
	defer a.svc.Wait()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("backtest http server error: %w", err)
		}
		return nil
	})
	if a.path != "" {
		group.Go(func() error {
			return config.Watch(ctx, string(a.path), a.applyConfig)
		})
	}
	return group.Wait()
}

// applyConfig 热更新只作用于日志级别与请求缺省值。
func (a *App) applyConfig(cfg *config.Config) {
	if cfg.App.LogLevel != a.cfg.App.LogLevel {
		logger.Infof("日志级别 %s -> %s", a.cfg.App.LogLevel, cfg.App.LogLevel)
	}
	logger.SetLevel(cfg.App.LogLevel)
	a.svc.SetDefaults(DefaultsFromConfig(cfg))
	a.cfg = cfg
}
