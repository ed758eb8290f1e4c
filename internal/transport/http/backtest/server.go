package backtesthttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nongomacoders/stock-analysis-sub001/internal/backtest"
	"github.com/nongomacoders/stock-analysis-sub001/internal/datasource"
	"github.com/nongomacoders/stock-analysis-sub001/internal/logger"
	"github.com/nongomacoders/stock-analysis-sub001/internal/market"
	"github.com/nongomacoders/stock-analysis-sub001/internal/performance"

	"github.com/gin-gonic/gin"
)

// Server 提供回测相关的 HTTP API。
type Server struct {
	addr   string
	svc    *backtest.Service
	bars   *datasource.Store
	router *gin.Engine
}

// Config 描述回测 HTTP Server 的依赖。
type Config struct {
	Addr string
	Svc  *backtest.Service
	// Bars 可为空，此时 /bars 返回 503。
	Bars *datasource.Store
}

// NewServer 构建回测 HTTP Server。
func NewServer(cfg Config) (*Server, error) {
	if cfg.Svc == nil {
		return nil, errors.New("service 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())
	s := &Server{
		addr:   cfg.Addr,
		svc:    cfg.Svc,
		bars:   cfg.Bars,
		router: router,
	}
	s.registerRoutes()
	return s, nil
}

// Handler 暴露路由，便于测试与嵌入。
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Addr() string { return s.addr }

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api := s.router.Group("/api/backtest")
	api.GET("/strategies", s.handleStrategies)
	api.POST("/runs", s.handleRunStart)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.GET("/runs/:id/trades", s.handleRunTrades)
	api.GET("/runs/:id/equity", s.handleRunEquity)
	api.GET("/runs/:id/dropped", s.handleRunDropped)
	api.GET("/runs/:id/chart", s.handleRunChart)
	api.POST("/optimize", s.handleOptimize)
	api.GET("/sweeps", s.handleSweepList)
	api.GET("/sweeps/:id", s.handleSweepDetail)
	api.GET("/bars", s.handleBars)
}

type strategyInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Defaults    map[string]any  `json:"defaults"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

func (s *Server) handleStrategies(c *gin.Context) {
	reg := s.svc.Runner().Registry()
	names := reg.Names()
	out := make([]strategyInfo, 0, len(names))
	for _, name := range names {
		def, ok := reg.Definition(name)
		if !ok {
			continue
		}
		info := strategyInfo{Name: def.Name, Description: def.Description, Defaults: def.Defaults}
		if strings.TrimSpace(def.Schema) != "" {
			info.Schema = json.RawMessage(def.Schema)
		}
		out = append(out, info)
	}
	c.JSON(http.StatusOK, gin.H{"strategies": out})
}

func (s *Server) handleRunStart(c *gin.Context) {
	var req backtest.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	run, err := s.svc.StartRun(req)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

func (s *Server) handleRunList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.svc.Results().ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleRunDetail(c *gin.Context) {
	run, err := s.svc.Results().GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *Server) handleRunTrades(c *gin.Context) {
	trades, err := s.svc.Results().ListTrades(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleRunEquity(c *gin.Context) {
	curve, err := s.svc.Results().ListEquity(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"equity": curve})
}

func (s *Server) handleRunDropped(c *gin.Context) {
	dropped, err := s.svc.Results().ListDropped(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dropped": dropped})
}

func (s *Server) handleRunChart(c *gin.Context) {
	ctx := c.Request.Context()
	run, err := s.svc.Results().GetRun(ctx, c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	curve, err := s.svc.Results().ListEquity(ctx, run.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if curve.Empty() {
		c.JSON(http.StatusNotFound, gin.H{"error": "run 没有权益曲线"})
		return
	}
	var buf bytes.Buffer
	title := run.Strategy + " " + strings.Join(run.Symbols, ",")
	if err := performance.RenderEquityHTML(&buf, title, curve); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func (s *Server) handleOptimize(c *gin.Context) {
	var req backtest.OptimizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sweep, err := s.svc.Optimize(c.Request.Context(), req)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sweep": sweep})
}

func (s *Server) handleSweepList(c *gin.Context) {
	if s.svc.Sweeps() == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sweep 存储未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	sweeps, err := s.svc.Sweeps().ListSweeps(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sweeps": sweeps})
}

func (s *Server) handleSweepDetail(c *gin.Context) {
	if s.svc.Sweeps() == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sweep 存储未启用"})
		return
	}
	sweep, err := s.svc.Sweeps().GetSweep(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sweep": sweep})
}

func (s *Server) handleBars(c *gin.Context) {
	if s.bars == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "行情缓存未启用"})
		return
	}
	symbol := market.NormalizeSymbol(c.Query("symbol"))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol 必填"})
		return
	}
	tf, err := market.ParseTimeframe(c.DefaultQuery("timeframe", "1d"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var start, end time.Time
	if raw := c.Query("start"); raw != "" {
		if start, err = datasource.ParseTime(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start 非法"})
			return
		}
	}
	if raw := c.Query("end"); raw != "" {
		if end, err = datasource.ParseTime(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end 非法"})
			return
		}
	}
	bars, err := s.bars.RangeBars(c.Request.Context(), symbol, tf.Key, start, end)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "timeframe": tf.Key, "bars": bars})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, backtest.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, backtest.ErrRunNotFound), errors.Is(err, backtest.ErrSweepNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path += "?" + q
		}
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s", c.Request.Method, path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("回测 HTTP 服务监听 %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
