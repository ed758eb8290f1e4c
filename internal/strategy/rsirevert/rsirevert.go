// Package rsirevert RSI 超卖买入、超买平仓的均值回归示例策略。
package rsirevert

import (
	"fmt"
	"math"

	"github.com/nongomacoders/stock-analysis-sub001/internal/logger"
	"github.com/nongomacoders/stock-analysis-sub001/internal/market"
	"github.com/nongomacoders/stock-analysis-sub001/internal/strategy"

	talib "github.com/markcheno/go-talib"
)

const Name = "rsi_revert"

// warmupFactor RSI 平滑需要的额外历史倍数
const warmupFactor = 4

const schema = `{
  "type": "object",
  "properties": {
    "period":        {"type": "integer", "minimum": 2},
    "oversold":      {"type": "number", "minimum": 0, "maximum": 100},
    "overbought":    {"type": "number", "minimum": 0, "maximum": 100},
    "quantity":      {"type": "number", "minimum": 0},
    "cash_fraction": {"type": "number", "exclusiveMinimum": 0, "maximum": 1}
  },
  "required": ["period"]
}`

func Definition() strategy.Definition {
	return strategy.Definition{
		Name:        Name,
		Description: "buys when RSI drops below oversold, closes when it rises above overbought",
		Schema:      schema,
		Defaults: strategy.Params{
			"period":        14,
			"oversold":      30,
			"overbought":    70,
			"quantity":      0,
			"cash_fraction": 0.95,
		},
		Check: func(p strategy.Params) error {
			if p.Float("oversold", 30) >= p.Float("overbought", 70) {
				return fmt.Errorf("oversold 必须小于 overbought")
			}
			return nil
		},
		Factory: New,
	}
}

type RsiRevert struct {
	env          strategy.Env
	period       int
	oversold     float64
	overbought   float64
	quantity     float64
	cashFraction float64
	log          *logger.Entry
}

func New(env strategy.Env, params strategy.Params) (strategy.Strategy, error) {
	if env.Feed == nil || env.Portfolio == nil || env.Broker == nil {
		return nil, fmt.Errorf("rsi_revert: env 不完整")
	}
	return &RsiRevert{
		env:          env,
		period:       params.Int("period", 14),
		oversold:     params.Float("oversold", 30),
		overbought:   params.Float("overbought", 70),
		quantity:     params.Float("quantity", 0),
		cashFraction: params.Float("cash_fraction", 0.95),
		log:          logger.With(Name),
	}, nil
}

func (s *RsiRevert) Initialize() error { return nil }

func (s *RsiRevert) OnBar() error {
	for _, symbol := range s.env.Feed.Symbols() {
		history, err := s.env.Feed.History(symbol, s.period*warmupFactor+1)
		if err != nil {
			return err
		}
		if len(history) <= s.period+1 {
			continue
		}
		rsi := talib.Rsi(market.Closes(history), s.period)
		value := rsi[len(rsi)-1]
		if math.IsNaN(value) {
			continue
		}
		held := s.env.Portfolio.Position(symbol) > 0
		switch {
		case !held && value < s.oversold:
			last := history[len(history)-1]
			qty := s.quantity
			if qty <= 0 {
				qty = strategy.SizeByCash(s.env.Portfolio.Cash(), s.cashFraction, last.Close)
			}
			if s.env.Broker.Buy(symbol, qty) != nil {
				s.log.Debugf("%s rsi=%.1f buy %.0f", symbol, value, qty)
			}
		case held && value > s.overbought:
			s.env.Broker.Close(symbol)
			s.log.Debugf("%s rsi=%.1f close", symbol, value)
		}
	}
	return nil
}
