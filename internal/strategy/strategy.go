// Package strategy 定义策略契约：只能通过 feed 读数据、通过 broker 下单。
package strategy

import (
	"github.com/nongomacoders/stock-analysis-sub001/internal/broker"
	"github.com/nongomacoders/stock-analysis-sub001/internal/feed"
)

// Strategy 每根 K 线被调用一次的决策逻辑。
type Strategy interface {
	// Initialize 在第一根 K 线之前调用一次，返回错误会终止回测。
	Initialize() error
	// OnBar 盯市之后、出队撮合之前调用。
	OnBar() error
}

// PortfolioView 账本的只读视图。
type PortfolioView interface {
	Cash() float64
	Position(symbol string) float64
	Positions() map[string]float64
}

// OrderSubmitter 策略唯一的下单入口。
type OrderSubmitter interface {
	Buy(symbol string, quantity float64) *broker.Order
	Sell(symbol string, quantity float64) *broker.Order
	Close(symbol string) *broker.Order
}

// Env 构造策略时注入的依赖。
type Env struct {
	Feed      feed.Feed
	Portfolio PortfolioView
	Broker    OrderSubmitter
}

// Factory 每次回测构造一个新实例；params 为只读配置。
type Factory func(env Env, params Params) (Strategy, error)

// SizeByCash 按现金比例计算可买整数股。
func SizeByCash(cash, fraction, price float64) float64 {
	if price <= 0 || cash <= 0 || fraction <= 0 {
		return 0
	}
	return float64(int64(cash * fraction / price))
}
