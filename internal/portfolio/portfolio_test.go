package portfolio

import (
	"testing"
	"time"

	"github.com/nongomacoders/stock-analysis-sub001/internal/broker"
	"github.com/nongomacoders/stock-analysis-sub001/internal/market"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

func snapshot(ts time.Time, closes map[string]float64) market.Snapshot {
	snap := market.Snapshot{Time: ts, Bars: make(map[string]market.Bar, len(closes))}
	for sym, px := range closes {
		snap.Bars[sym] = market.Bar{Symbol: sym, Time: ts, Close: px}
	}
	return snap
}

func TestNewSeedsCurve(t *testing.T) {
	p := New(100000)
	curve := p.EquityCurve()
	require.Len(t, curve, 1)
	assert.True(t, curve[0].IsSeed())
	assert.Equal(t, 100000.0, curve[0].Equity)
	assert.Equal(t, 100000.0, p.Cash())
	assert.Equal(t, 100000.0, p.InitialCash())
}

func TestBuyThenSellRealizesProfitNetOfBothCommissions(t *testing.T) {
	p := New(100000)
	require.NoError(t, p.UpdateFill(broker.Fill{Symbol: "AAA", Quantity: 100, Price: 110, Commission: 1, Action: broker.ActionBuy, Time: t0}))
	assert.Equal(t, 88999.0, p.Cash())
	assert.Equal(t, 100.0, p.Position("AAA"))
	assert.Empty(t, p.Trades())

	require.NoError(t, p.UpdateFill(broker.Fill{Symbol: "AAA", Quantity: -100, Price: 90, Commission: 1, Action: broker.ActionSell, Time: t0.AddDate(0, 0, 3)}))
	assert.Equal(t, 97998.0, p.Cash())
	assert.False(t, p.HasPositions())
	_, held := p.Positions()["AAA"]
	assert.False(t, held, "flat position must be removed, not zeroed")

	trades := p.Trades()
	require.Len(t, trades, 1)
	tr := trades[0]
	assert.Equal(t, "AAA", tr.Symbol)
	assert.Equal(t, -2002.0, tr.Profit)
	assert.False(t, tr.Win)
	assert.Equal(t, 110.0, tr.EntryPrice)
	assert.Equal(t, 90.0, tr.ExitPrice)
	assert.Equal(t, 2.0, tr.Commission)
	assert.Equal(t, t0, tr.EntryTime)
}

func TestProfitChargesExitCommissionTwice(t *testing.T) {
	// 入场 1% 手续费 110，出场 90；已实现利润按出场手续费 ×2 计
	p := New(100000)
	require.NoError(t, p.UpdateFill(broker.Fill{Symbol: "AAA", Quantity: 100, Price: 110, Commission: 110, Action: broker.ActionBuy}))
	require.NoError(t, p.UpdateFill(broker.Fill{Symbol: "AAA", Quantity: -100, Price: 90, Commission: 90, Action: broker.ActionSell}))

	trades := p.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, -2180.0, trades[0].Profit)
	assert.Equal(t, 97800.0, p.Cash())
}

func TestSecondBuyKeepsOriginalEntry(t *testing.T) {
	p := New(10000)
	require.NoError(t, p.UpdateFill(broker.Fill{Symbol: "AAA", Quantity: 10, Price: 10, Action: broker.ActionBuy}))
	require.NoError(t, p.UpdateFill(broker.Fill{Symbol: "AAA", Quantity: 10, Price: 20, Action: broker.ActionBuy}))
	require.NoError(t, p.UpdateFill(broker.Fill{Symbol: "AAA", Quantity: -20, Price: 30, Action: broker.ActionSell}))

	trades := p.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, 10.0, trades[0].EntryPrice)
	assert.Equal(t, 400.0, trades[0].Profit)
	assert.True(t, trades[0].Win)
}

func TestPartialSellClosesTheOpenRecord(t *testing.T) {
	p := New(10000)
	require.NoError(t, p.UpdateFill(broker.Fill{Symbol: "AAA", Quantity: 10, Price: 10, Action: broker.ActionBuy}))
	require.NoError(t, p.UpdateFill(broker.Fill{Symbol: "AAA", Quantity: -4, Price: 12, Action: broker.ActionSell}))
	require.NoError(t, p.UpdateFill(broker.Fill{Symbol: "AAA", Quantity: -6, Price: 12, Action: broker.ActionSell}))

	assert.Len(t, p.Trades(), 1)
	assert.Equal(t, 8.0, p.Trades()[0].Profit)
	assert.False(t, p.HasPositions())
}

func TestShortCoverDoesNotOpenTradeRecord(t *testing.T) {
	p := New(1000)
	require.NoError(t, p.UpdateFill(broker.Fill{Symbol: "AAA", Quantity: -5, Price: 10, Action: broker.ActionSell}))
	assert.Equal(t, -5.0, p.Position("AAA"))
	require.NoError(t, p.UpdateFill(broker.Fill{Symbol: "AAA", Quantity: 5, Price: 8, Action: broker.ActionBuy}))
	assert.False(t, p.HasPositions())
	assert.Empty(t, p.Trades())

	// 之后的正常多头仍能建立记录
	require.NoError(t, p.UpdateFill(broker.Fill{Symbol: "AAA", Quantity: 1, Price: 8, Action: broker.ActionBuy}))
	require.NoError(t, p.UpdateFill(broker.Fill{Symbol: "AAA", Quantity: -1, Price: 9, Action: broker.ActionSell}))
	assert.Len(t, p.Trades(), 1)
}

func TestBuyFlippingShortToLongOpensTradeRecord(t *testing.T) {
	p := New(1000)
	require.NoError(t, p.UpdateFill(broker.Fill{Symbol: "AAA", Quantity: -5, Price: 10, Action: broker.ActionSell, Time: t0}))
	require.NoError(t, p.UpdateFill(broker.Fill{Symbol: "AAA", Quantity: 10, Price: 10, Action: broker.ActionBuy, Time: t0.AddDate(0, 0, 1)}))
	assert.Equal(t, 5.0, p.Position("AAA"))
	assert.Empty(t, p.Trades())

	require.NoError(t, p.UpdateFill(broker.Fill{Symbol: "AAA", Quantity: -5, Price: 20, Action: broker.ActionSell, Time: t0.AddDate(0, 0, 2)}))
	assert.False(t, p.HasPositions())
	assert.Equal(t, 1050.0, p.Cash())

	trades := p.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, 50.0, trades[0].Profit)
	assert.True(t, trades[0].Win)
	assert.Equal(t, 10.0, trades[0].EntryPrice)
	assert.Equal(t, 5.0, trades[0].Quantity)
	assert.Equal(t, t0.AddDate(0, 0, 1), trades[0].EntryTime)
}

func TestUnsupportedActionIsRejected(t *testing.T) {
	p := New(1000)
	err := p.UpdateFill(broker.Fill{Symbol: "AAA", Action: broker.ActionClose})
	assert.Error(t, err)
	assert.Equal(t, 1000.0, p.Cash())
}

func TestMarkToMarketIdentity(t *testing.T) {
	p := New(5000)
	require.NoError(t, p.UpdateFill(broker.Fill{Symbol: "AAA", Quantity: 3, Price: 101.1, Commission: 0.3, Action: broker.ActionBuy}))
	require.NoError(t, p.UpdateFill(broker.Fill{Symbol: "BBB", Quantity: 7, Price: 33.3, Commission: 0.7, Action: broker.ActionBuy}))

	steps := []map[string]float64{
		{"AAA": 102.7, "BBB": 33.1},
		{"AAA": 99.9},
		{"BBB": 35.55, "CCC": 1},
	}
	last := map[string]float64{}
	for i, closes := range steps {
		for k, v := range closes {
			last[k] = v
		}
		point := p.UpdateMarketValue(t0.AddDate(0, 0, i), snapshot(t0.AddDate(0, 0, i), closes))

		want := p.cash
		for sym, qty := range p.Positions() {
			want = want.Add(decimal.NewFromFloat(qty).Mul(decimal.NewFromFloat(last[sym])))
		}
		assert.Equal(t, want.InexactFloat64(), point.Equity, "step %d", i)
	}
	assert.Len(t, p.EquityCurve(), 4)
}

func TestCorrectFinalEquity(t *testing.T) {
	p := New(100)
	assert.False(t, p.CorrectFinalEquity())

	require.NoError(t, p.UpdateFill(broker.Fill{Symbol: "AAA", Quantity: 1, Price: 10, Action: broker.ActionBuy}))
	p.UpdateMarketValue(t0, snapshot(t0, map[string]float64{"AAA": 11}))
	require.NoError(t, p.UpdateFill(broker.Fill{Symbol: "AAA", Quantity: -1, Price: 11, Action: broker.ActionSell}))

	assert.True(t, p.CorrectFinalEquity())
	last, ok := p.EquityCurve().Last()
	require.True(t, ok)
	assert.Equal(t, p.Cash(), last.Equity)
	assert.Equal(t, 101.0, last.Equity)
}

func TestEquityCurveHelpers(t *testing.T) {
	curve := EquityCurve{{Equity: 10}, {Time: t0, Equity: 11}, {Time: t0.AddDate(0, 0, 1), Equity: 12}}
	trimmed := curve.WithoutSeed()
	assert.Equal(t, []float64{11, 12}, trimmed.Values())
	assert.Equal(t, 2, trimmed.Len())
	assert.True(t, EquityCurve{}.Empty())
	_, ok := EquityCurve{}.Last()
	assert.False(t, ok)
}

func TestLastPricesTrackMarks(t *testing.T) {
	p := New(1000)
	_, ok := p.LastPrice("AAA")
	assert.False(t, ok)

	p.UpdateMarketValue(t0, snapshot(t0, map[string]float64{"AAA": 10, "BBB": 2.5}))
	p.UpdateMarketValue(t0.AddDate(0, 0, 1), snapshot(t0.AddDate(0, 0, 1), map[string]float64{"AAA": 11}))

	px, ok := p.LastPrice("AAA")
	require.True(t, ok)
	assert.Equal(t, 11.0, px)

	prices := p.LastPrices()
	assert.Equal(t, map[string]float64{"AAA": 11, "BBB": 2.5}, prices)
	prices["AAA"] = 0
	px, _ = p.LastPrice("AAA")
	assert.Equal(t, 11.0, px, "LastPrices must return a copy")
}
