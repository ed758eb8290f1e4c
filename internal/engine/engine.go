// Package engine 逐根 K 线推进回测：盯市 → 策略 → 出队撮合 → 结束时强制平仓。
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/nongomacoders/stock-analysis-sub001/internal/broker"
	"github.com/nongomacoders/stock-analysis-sub001/internal/feed"
	"github.com/nongomacoders/stock-analysis-sub001/internal/logger"
	"github.com/nongomacoders/stock-analysis-sub001/internal/portfolio"
	"github.com/nongomacoders/stock-analysis-sub001/internal/strategy"
)

// ErrAlreadyRun 同一个 Engine 只能 Run 一次。
var ErrAlreadyRun = errors.New("engine: run already invoked")

// State 引擎状态。
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateLiquidating
	StateDone
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NOT_STARTED"
	case StateRunning:
		return "RUNNING"
	case StateLiquidating:
		return "LIQUIDATING"
	case StateDone:
		return "DONE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DroppedOrder 因没有成交价而被丢弃的订单。
type DroppedOrder struct {
	Time   time.Time    `json:"time"`
	Order  broker.Order `json:"order"`
	Reason string       `json:"reason"`
}

// Step 每根 K 线处理完后的观察数据；Point/Holdings/Prices 为盯市时刻的状态。
type Step struct {
	Index    int
	Time     time.Time
	Point    portfolio.EquityPoint
	Holdings map[string]float64
	Prices   map[string]float64
	Fills    []broker.Fill
}

type Option func(*Engine)

// WithObserver 注册步进回调（进度上报、测试断言）。
func WithObserver(fn func(Step)) Option {
	return func(e *Engine) { e.observer = fn }
}

// WithLogger 替换默认 logger（run service 会带上 run id）。
func WithLogger(l *logger.Entry) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

type errReporter interface {
	Err() error
}

type Engine struct {
	feed      feed.Feed
	strategy  strategy.Strategy
	portfolio *portfolio.Portfolio
	broker    *broker.Broker

	state     State
	observer  func(Step)
	log       *logger.Entry
	lastTime  time.Time
	steps     int
	fills     int
	dropped   []DroppedOrder
}

func New(f feed.Feed, s strategy.Strategy, p *portfolio.Portfolio, b *broker.Broker, opts ...Option) *Engine {
	e := &Engine{
		feed:      f,
		strategy:  s,
		portfolio: p,
		broker:    b,
		log:       logger.With("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) State() State { return e.state }

// Dropped 被丢弃的订单（缺少成交价）。
func (e *Engine) Dropped() []DroppedOrder {
	return append([]DroppedOrder(nil), e.dropped...)
}

// Steps 已处理的 K 线数量。
func (e *Engine) Steps() int { return e.steps }

// FillCount 已成交笔数（含清算）。
func (e *Engine) FillCount() int { return e.fills }

// Run 同步跑完整个回放，返回去掉种子点的权益曲线。
func (e *Engine) Run() (portfolio.EquityCurve, error) {
	if e.state != StateNotStarted {
		return nil, ErrAlreadyRun
	}
	if e.feed == nil || e.strategy == nil || e.portfolio == nil || e.broker == nil {
		return nil, fmt.Errorf("engine: feed/strategy/portfolio/broker 不能为空")
	}
	e.state = StateRunning
	if err := e.strategy.Initialize(); err != nil {
		e.state = StateDone
		return nil, fmt.Errorf("engine: initialize strategy: %w", err)
	}

	for snap := range e.feed.StreamNext() {
		e.lastTime = snap.Time

		point := e.portfolio.UpdateMarketValue(snap.Time, snap)
		holdings := e.portfolio.Positions()

		if err := e.strategy.OnBar(); err != nil {
			e.log.Warnf("%s on_bar 失败: %v", snap.Time.Format(time.DateOnly), err)
		}
		fills := e.drain(snap.Time, snap.Close)
		e.steps++
		e.notify(Step{
			Index:    e.steps,
			Time:     snap.Time,
			Point:    point,
			Holdings: holdings,
			Prices:   e.portfolio.LastPrices(),
			Fills:    fills,
		})
	}
	if r, ok := e.feed.(errReporter); ok && r.Err() != nil {
		e.state = StateDone
		return nil, fmt.Errorf("engine: %w", r.Err())
	}

	e.state = StateLiquidating
	e.liquidate()

	if n := e.broker.Pending(); n > 0 {
		e.log.Warnf("清算后仍有 %d 笔订单未处理", n)
	}
	e.state = StateDone
	e.portfolio.CorrectFinalEquity()
	curve := e.portfolio.EquityCurve().WithoutSeed()
	e.log.Debugf("done steps=%d fills=%d dropped=%d cash=%.2f", e.steps, e.fills, len(e.dropped), e.portfolio.Cash())
	return curve, nil
}

// drain 出队并撮合；CLOSE 按当前持仓解析，没有价格的订单记录为 dropped。
func (e *Engine) drain(ts time.Time, price func(string) (float64, bool)) []broker.Fill {
	var fills []broker.Fill
	for _, order := range e.broker.PendingOrders() {
		resolved, ok := e.resolve(order)
		if !ok {
			e.log.Debugf("close %s 无持仓，忽略", order.Symbol)
			continue
		}
		px, ok := price(resolved.Symbol)
		if !ok {
			e.dropped = append(e.dropped, DroppedOrder{Time: ts, Order: resolved, Reason: "no price at fill time"})
			e.log.Warnf("%s %s %s %.4f 无成交价，订单丢弃", ts.Format(time.DateOnly), resolved.Action, resolved.Symbol, resolved.Quantity)
			continue
		}
		fill := e.broker.Execute(resolved, px)
		if fill == nil {
			continue
		}
		fill.Time = ts
		if err := e.portfolio.UpdateFill(*fill); err != nil {
			e.log.Errorf("apply fill: %v", err)
			continue
		}
		e.fills++
		fills = append(fills, *fill)
	}
	return fills
}

func (e *Engine) resolve(order broker.Order) (broker.Order, bool) {
	if order.Action != broker.ActionClose {
		return order, true
	}
	held := e.portfolio.Position(order.Symbol)
	switch {
	case held > 0:
		return broker.Order{Symbol: order.Symbol, Quantity: -held, Action: broker.ActionSell}, true
	case held < 0:
		return broker.Order{Symbol: order.Symbol, Quantity: -held, Action: broker.ActionBuy}, true
	default:
		return broker.Order{}, false
	}
}

// liquidate 对剩余持仓按最后已知收盘价平仓，同样走 broker 队列。
func (e *Engine) liquidate() {
	held := e.portfolio.HeldSymbols()
	if len(held) == 0 {
		return
	}
	e.log.Infof("回放结束，清算 %d 个持仓", len(held))
	for _, sym := range held {
		qty := e.portfolio.Position(sym)
		if qty > 0 {
			e.broker.Sell(sym, qty)
		} else {
			e.broker.Buy(sym, -qty)
		}
	}
	e.drain(e.lastTime, e.portfolio.LastPrice)
}

func (e *Engine) notify(step Step) {
	if e.observer != nil {
		e.observer(step)
	}
}
