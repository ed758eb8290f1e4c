// Package portfolio 是回测账本：现金、持仓、未平仓记录、成交记录与权益曲线。
package portfolio

import (
	"fmt"
	"sort"
	"time"

	"github.com/nongomacoders/stock-analysis-sub001/internal/broker"
	"github.com/nongomacoders/stock-analysis-sub001/internal/market"

	"github.com/shopspring/decimal"
)

type openTrade struct {
	entryPrice decimal.Decimal
	quantity   decimal.Decimal
	entryTime  time.Time
}

// Portfolio 账本内部用 decimal 记账，对外暴露 float64。
type Portfolio struct {
	initialCash decimal.Decimal
	cash        decimal.Decimal
	positions   map[string]decimal.Decimal
	lastPrice   map[string]decimal.Decimal
	openTrades  map[string]openTrade
	trades      []Trade
	curve       EquityCurve
}

// New 以初始资金创建账本，并写入种子权益点。
func New(initialCash float64) *Portfolio {
	cash := decimal.NewFromFloat(initialCash)
	return &Portfolio{
		initialCash: cash,
		cash:        cash,
		positions:   make(map[string]decimal.Decimal),
		lastPrice:   make(map[string]decimal.Decimal),
		openTrades:  make(map[string]openTrade),
		curve:       EquityCurve{{Equity: initialCash, Cash: initialCash}},
	}
}

func (p *Portfolio) InitialCash() float64 { return p.initialCash.InexactFloat64() }

func (p *Portfolio) Cash() float64 { return p.cash.InexactFloat64() }

// Position 返回持仓数量，无持仓为 0。
func (p *Portfolio) Position(symbol string) float64 {
	return p.positions[symbol].InexactFloat64()
}

// Positions 返回持仓副本。
func (p *Portfolio) Positions() map[string]float64 {
	out := make(map[string]float64, len(p.positions))
	for sym, qty := range p.positions {
		out[sym] = qty.InexactFloat64()
	}
	return out
}

// HeldSymbols 当前持仓的 symbol（排序后，保证清算顺序确定）。
func (p *Portfolio) HeldSymbols() []string {
	out := make([]string, 0, len(p.positions))
	for sym := range p.positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (p *Portfolio) HasPositions() bool { return len(p.positions) > 0 }

// LastPrice 最近一次盯市看到的收盘价。
func (p *Portfolio) LastPrice(symbol string) (float64, bool) {
	px, ok := p.lastPrice[symbol]
	if !ok {
		return 0, false
	}
	return px.InexactFloat64(), true
}

// LastPrices 最近收盘价副本。
func (p *Portfolio) LastPrices() map[string]float64 {
	out := make(map[string]float64, len(p.lastPrice))
	for sym, px := range p.lastPrice {
		out[sym] = px.InexactFloat64()
	}
	return out
}

// Trades 已实现交易记录副本。
func (p *Portfolio) Trades() []Trade {
	return append([]Trade(nil), p.trades...)
}

// EquityCurve 权益曲线副本（含种子点）。
func (p *Portfolio) EquityCurve() EquityCurve {
	return append(EquityCurve(nil), p.curve...)
}

// marketValue 按最近收盘价计算持仓市值。
func (p *Portfolio) marketValue() decimal.Decimal {
	mv := decimal.Zero
	for sym, qty := range p.positions {
		if px, ok := p.lastPrice[sym]; ok {
			mv = mv.Add(qty.Mul(px))
		}
	}
	return mv
}

// UpdateMarketValue 按快照收盘价盯市并追加一个权益点；每步只应调用一次。
func (p *Portfolio) UpdateMarketValue(ts time.Time, snap market.Snapshot) EquityPoint {
	for sym, bar := range snap.Bars {
		p.lastPrice[sym] = decimal.NewFromFloat(bar.Close)
	}
	equity := p.cash.Add(p.marketValue())
	point := EquityPoint{
		Time:   ts,
		Equity: equity.InexactFloat64(),
		Cash:   p.cash.InexactFloat64(),
	}
	p.curve = append(p.curve, point)
	return point
}

// UpdateFill 把成交折算进现金、持仓与交易记录。
func (p *Portfolio) UpdateFill(fill broker.Fill) error {
	qty := decimal.NewFromFloat(fill.Quantity)
	price := decimal.NewFromFloat(fill.Price)
	commission := decimal.NewFromFloat(fill.Commission)
	prev := p.positions[fill.Symbol]

	switch fill.Action {
	case broker.ActionBuy:
		p.cash = p.cash.Sub(qty.Mul(price).Add(commission))
		if _, ok := p.openTrades[fill.Symbol]; !ok {
			// 空翻多时只有越过零点的部分才是新多头
			entryQty := qty
			if prev.IsNegative() {
				entryQty = prev.Add(qty)
			}
			if entryQty.IsPositive() {
				p.openTrades[fill.Symbol] = openTrade{entryPrice: price, quantity: entryQty, entryTime: fill.Time}
			}
		}
	case broker.ActionSell:
		absQty := qty.Abs()
		p.cash = p.cash.Add(absQty.Mul(price).Sub(commission))
		if open, ok := p.openTrades[fill.Symbol]; ok {
			fees := commission.Mul(decimal.NewFromInt(2))
			profit := price.Sub(open.entryPrice).Mul(absQty).Sub(fees)
			p.trades = append(p.trades, Trade{
				Symbol:     fill.Symbol,
				Profit:     profit.InexactFloat64(),
				Win:        profit.IsPositive(),
				EntryPrice: open.entryPrice.InexactFloat64(),
				ExitPrice:  fill.Price,
				Quantity:   absQty.InexactFloat64(),
				Commission: fees.InexactFloat64(),
				EntryTime:  open.entryTime,
				ExitTime:   fill.Time,
			})
			delete(p.openTrades, fill.Symbol)
		}
	default:
		return fmt.Errorf("portfolio: unsupported fill action %q for %s", fill.Action, fill.Symbol)
	}

	next := prev.Add(qty)
	if next.IsZero() {
		delete(p.positions, fill.Symbol)
	} else {
		p.positions[fill.Symbol] = next
	}
	return nil
}

// CorrectFinalEquity 全部平仓后把最后一个权益点改为精确现金；只有种子点时不处理。
func (p *Portfolio) CorrectFinalEquity() bool {
	if len(p.curve) <= 1 {
		return false
	}
	last := &p.curve[len(p.curve)-1]
	last.Equity = p.cash.InexactFloat64()
	last.Cash = last.Equity
	return true
}
