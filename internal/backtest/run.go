// Package backtest 编排一次完整回测：加载行情、构造组件、运行引擎、落库与通知。
package backtest

import (
	"fmt"
	"strings"
	"time"

	"github.com/nongomacoders/stock-analysis-sub001/internal/broker"
	"github.com/nongomacoders/stock-analysis-sub001/internal/engine"
	"github.com/nongomacoders/stock-analysis-sub001/internal/performance"
	"github.com/nongomacoders/stock-analysis-sub001/internal/portfolio"
	"github.com/nongomacoders/stock-analysis-sub001/internal/strategy"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// CommissionSpec 佣金模型配置。
type CommissionSpec struct {
	Model string  `json:"model"`
	Rate  float64 `json:"rate"`
	Fee   float64 `json:"fee"`
}

func (c CommissionSpec) Build() (broker.CommissionModel, error) {
	return broker.NewCommissionModel(c.Model, c.Rate, c.Fee)
}

// RunConfig 校验后的参数快照，会完整写入 config_json 便于重放。
type RunConfig struct {
	Symbols     []string        `json:"symbols"`
	Timeframe   string          `json:"timeframe"`
	Start       time.Time       `json:"start"`
	End         time.Time       `json:"end"`
	Strategy    string          `json:"strategy"`
	Params      strategy.Params `json:"params"`
	InitialCash float64         `json:"initial_cash"`
	Commission  CommissionSpec  `json:"commission"`
}

// Run 表示一次回测任务。
type Run struct {
	ID          string              `json:"id"`
	Strategy    string              `json:"strategy"`
	Symbols     []string            `json:"symbols"`
	Timeframe   string              `json:"timeframe"`
	Status      string              `json:"status"`
	Start       time.Time           `json:"start"`
	End         time.Time           `json:"end"`
	InitialCash float64             `json:"initial_cash"`
	Summary     performance.Summary `json:"summary"`
	Message     string              `json:"message"`
	Config      RunConfig           `json:"config"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	CompletedAt time.Time           `json:"completed_at"`
}

// RunRequest HTTP/CLI 提交的原始参数；零值字段由 Service 默认值补全。
type RunRequest struct {
	Symbols     []string        `json:"symbols" binding:"required,min=1"`
	Timeframe   string          `json:"timeframe"`
	Start       string          `json:"start" binding:"required"`
	End         string          `json:"end"`
	Strategy    string          `json:"strategy"`
	Params      strategy.Params `json:"params"`
	InitialCash float64         `json:"initial_cash"`
	Commission  *CommissionSpec `json:"commission,omitempty"`
}

// Result 单次回测的完整产出。
type Result struct {
	Config  RunConfig             `json:"config"`
	Symbols []string              `json:"symbols"`
	Curve   portfolio.EquityCurve `json:"curve"`
	Trades  []portfolio.Trade     `json:"trades"`
	Summary performance.Summary   `json:"summary"`
	Dropped []engine.DroppedOrder `json:"dropped"`
	Fills   int                   `json:"fills"`
}

// Message 简短的完成说明，写入 run.message。
func (r Result) Message() string {
	msg := fmt.Sprintf("bars=%d fills=%d trades=%d", r.Summary.Bars, r.Fills, r.Summary.Trades.TotalTrades)
	if n := len(r.Dropped); n > 0 {
		msg += fmt.Sprintf(" dropped=%d", n)
	}
	return msg
}

func joinSymbols(symbols []string) string {
	return strings.Join(symbols, ",")
}

func splitSymbols(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}
