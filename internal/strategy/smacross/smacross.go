// Package smacross 均线金叉/死叉示例策略。
package smacross

import (
	"fmt"

	"github.com/nongomacoders/stock-analysis-sub001/internal/logger"
	"github.com/nongomacoders/stock-analysis-sub001/internal/market"
	"github.com/nongomacoders/stock-analysis-sub001/internal/strategy"

	talib "github.com/markcheno/go-talib"
)

const Name = "sma_cross"

const schema = `{
  "type": "object",
  "properties": {
    "short_window":  {"type": "integer", "minimum": 1},
    "long_window":   {"type": "integer", "minimum": 2},
    "quantity":      {"type": "number", "minimum": 0},
    "cash_fraction": {"type": "number", "exclusiveMinimum": 0, "maximum": 1},
    "symbol":        {"type": "string"}
  },
  "required": ["short_window", "long_window"]
}`

// Definition 注册信息。
func Definition() strategy.Definition {
	return strategy.Definition{
		Name:        Name,
		Description: "short SMA crossing above long SMA opens a long; crossing below closes it",
		Schema:      schema,
		Defaults: strategy.Params{
			"short_window":  20,
			"long_window":   50,
			"quantity":      0,
			"cash_fraction": 0.95,
		},
		Check:   check,
		Factory: New,
	}
}

func check(p strategy.Params) error {
	short, long := p.Int("short_window", 0), p.Int("long_window", 0)
	if short >= long {
		return fmt.Errorf("short_window(%d) 必须小于 long_window(%d)", short, long)
	}
	return nil
}

// SmaCross quantity>0 时固定股数，否则按 cash_fraction 计算。
type SmaCross struct {
	env          strategy.Env
	shortWindow  int
	longWindow   int
	quantity     float64
	cashFraction float64
	symbols      []string
	log          *logger.Entry
}

func New(env strategy.Env, params strategy.Params) (strategy.Strategy, error) {
	if env.Feed == nil || env.Portfolio == nil || env.Broker == nil {
		return nil, fmt.Errorf("sma_cross: env 不完整")
	}
	s := &SmaCross{
		env:          env,
		shortWindow:  params.Int("short_window", 20),
		longWindow:   params.Int("long_window", 50),
		quantity:     params.Float("quantity", 0),
		cashFraction: params.Float("cash_fraction", 0.95),
		log:          logger.With(Name),
	}
	if err := check(params); err != nil {
		return nil, err
	}
	if sym := params.String("symbol", ""); sym != "" {
		s.symbols = []string{sym}
	}
	return s, nil
}

func (s *SmaCross) Initialize() error {
	if len(s.symbols) == 0 {
		s.symbols = s.env.Feed.Symbols()
	}
	s.log.Debugf("initialized short=%d long=%d symbols=%v", s.shortWindow, s.longWindow, s.symbols)
	return nil
}

func (s *SmaCross) OnBar() error {
	for _, symbol := range s.symbols {
		if err := s.evaluate(symbol); err != nil {
			return err
		}
	}
	return nil
}

func (s *SmaCross) evaluate(symbol string) error {
	history, err := s.env.Feed.History(symbol, s.longWindow+1)
	if err != nil {
		return err
	}
	if len(history) < s.longWindow+1 {
		return nil
	}
	closes := market.Closes(history)
	short := talib.Sma(closes, s.shortWindow)
	long := talib.Sma(closes, s.longWindow)
	n := len(closes)
	curShort, prevShort := short[n-1], short[n-2]
	curLong, prevLong := long[n-1], long[n-2]

	inPosition := s.env.Portfolio.Position(symbol) > 0
	switch {
	case curShort > curLong && prevShort <= prevLong:
		if inPosition {
			return nil
		}
		bar, ok := s.env.Feed.LatestBar(symbol)
		if !ok {
			return nil
		}
		qty := s.quantity
		if qty <= 0 {
			qty = strategy.SizeByCash(s.env.Portfolio.Cash(), s.cashFraction, bar.Close)
		}
		if s.env.Broker.Buy(symbol, qty) != nil {
			s.log.Debugf("%s %s golden cross, buy %.0f @ %.2f", bar.Time.Format("2006-01-02"), symbol, qty, bar.Close)
		}
	case curShort < curLong && prevShort >= prevLong:
		if !inPosition {
			return nil
		}
		s.env.Broker.Close(symbol)
		s.log.Debugf("%s death cross, close", symbol)
	}
	return nil
}
