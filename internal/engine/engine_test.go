package engine

import (
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/nongomacoders/stock-analysis-sub001/internal/broker"
	"github.com/nongomacoders/stock-analysis-sub001/internal/feed"
	"github.com/nongomacoders/stock-analysis-sub001/internal/market"
	"github.com/nongomacoders/stock-analysis-sub001/internal/portfolio"
	"github.com/nongomacoders/stock-analysis-sub001/internal/strategy"
	"github.com/nongomacoders/stock-analysis-sub001/internal/strategy/smacross"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

func series(symbol string, offset int, closes ...float64) []market.Bar {
	out := make([]market.Bar, len(closes))
	for i, c := range closes {
		out[i] = market.Bar{Symbol: symbol, Time: day0.AddDate(0, 0, offset+i), Open: c, High: c, Low: c, Close: c}
	}
	return out
}

func newFeed(t *testing.T, data map[string][]market.Bar) *feed.SeriesFeed {
	t.Helper()
	f, err := feed.NewSeriesFeed(data)
	require.NoError(t, err)
	return f
}

func goldenEngine(t *testing.T, model broker.CommissionModel, opts ...Option) (*Engine, *portfolio.Portfolio) {
	t.Helper()
	f := newFeed(t, map[string][]market.Bar{"TEST": series("TEST", 0, 100, 100, 100, 100, 95, 96, 110, 112, 100, 90)})
	p := portfolio.New(100000)
	b := broker.New(model)
	s, err := smacross.New(strategy.Env{Feed: f, Portfolio: p, Broker: b},
		strategy.Params{"short_window": 3, "long_window": 5, "quantity": 100})
	require.NoError(t, err)
	return New(f, s, p, b, opts...), p
}

// scripted 在指定的第 n 根 K 线上执行动作。
type scripted struct {
	broker  strategy.OrderSubmitter
	actions map[int]func(strategy.OrderSubmitter)
	initErr error
	barErr  error
	bar     int
}

func (s *scripted) Initialize() error { return s.initErr }

func (s *scripted) OnBar() error {
	s.bar++
	if fn, ok := s.actions[s.bar]; ok {
		fn(s.broker)
	}
	return s.barErr
}

type emptyFeed struct{}

func (emptyFeed) Symbols() []string { return nil }
func (emptyFeed) History(string, int) ([]market.Bar, error) { return nil, feed.ErrNotStarted }
func (emptyFeed) LatestBar(string) (market.Bar, bool) { return market.Bar{}, false }
func (emptyFeed) StreamNext() iter.Seq[market.Snapshot] { return func(func(market.Snapshot) bool) {} }

func TestGoldenSeriesFlatCommission(t *testing.T) {
	e, p := goldenEngine(t, broker.Flat{Fee: 1})

	curve, err := e.Run()
	require.NoError(t, err)
	require.Len(t, curve, 10)
	assert.Equal(t, StateDone, e.State())

	last, _ := curve.Last()
	assert.InDelta(t, 97998.00, last.Equity, 1e-9)
	assert.InDelta(t, 97998.00, p.Cash(), 1e-9)
	assert.False(t, p.HasPositions())

	trades := p.Trades()
	require.Len(t, trades, 1)
	assert.InDelta(t, -2002.0, trades[0].Profit, 1e-9)
	assert.Equal(t, 110.0, trades[0].EntryPrice)
	assert.Equal(t, 90.0, trades[0].ExitPrice)
	assert.Equal(t, day0.AddDate(0, 0, 6), trades[0].EntryTime)
	assert.Equal(t, day0.AddDate(0, 0, 9), trades[0].ExitTime)
	assert.Equal(t, 2, e.FillCount())
}

func TestGoldenSeriesPercentageCommission(t *testing.T) {
	e, p := goldenEngine(t, broker.Percentage{Rate: 1})

	curve, err := e.Run()
	require.NoError(t, err)
	last, _ := curve.Last()
	assert.InDelta(t, 97800.00, last.Equity, 1e-9)
	require.Len(t, p.Trades(), 1)
	assert.InDelta(t, -2180.0, p.Trades()[0].Profit, 1e-9)
}

func TestCurveIsDeterministic(t *testing.T) {
	e1, p1 := goldenEngine(t, broker.Percentage{Rate: 0.1})
	e2, p2 := goldenEngine(t, broker.Percentage{Rate: 0.1})
	c1, err := e1.Run()
	require.NoError(t, err)
	c2, err := e2.Run()
	require.NoError(t, err)
	assert.Equal(t, c1, c2)
	assert.Equal(t, p1.Trades(), p2.Trades())
}

func TestEquityMatchesCashPlusHoldingsAtEveryStep(t *testing.T) {
	var steps []Step
	e, _ := goldenEngine(t, broker.Flat{Fee: 1}, WithObserver(func(s Step) { steps = append(steps, s) }))
	_, err := e.Run()
	require.NoError(t, err)
	require.Len(t, steps, 10)

	for _, s := range steps {
		want := s.Point.Cash
		for sym, qty := range s.Holdings {
			want += qty * s.Prices[sym]
		}
		assert.InDelta(t, want, s.Point.Equity, 1e-6, s.Time.String())
	}
	require.Len(t, steps[6].Fills, 1)
	assert.Equal(t, broker.ActionBuy, steps[6].Fills[0].Action)
	assert.Equal(t, steps[6].Time, steps[6].Fills[0].Time)
}

func TestSecondRunFails(t *testing.T) {
	e, _ := goldenEngine(t, nil)
	_, err := e.Run()
	require.NoError(t, err)
	_, err = e.Run()
	assert.ErrorIs(t, err, ErrAlreadyRun)
}

func TestZeroBarsYieldEmptyCurve(t *testing.T) {
	p := portfolio.New(1000)
	b := broker.New(nil)
	e := New(emptyFeed{}, &scripted{broker: b}, p, b)

	curve, err := e.Run()
	require.NoError(t, err)
	assert.Empty(t, curve)
	assert.Equal(t, 1000.0, p.Cash())
}

func TestOpenLongIsLiquidatedAtLastClose(t *testing.T) {
	f := newFeed(t, map[string][]market.Bar{"AAA": series("AAA", 0, 10, 11, 12)})
	p := portfolio.New(100000)
	b := broker.New(broker.Flat{Fee: 1})
	s := &scripted{broker: b, actions: map[int]func(strategy.OrderSubmitter){
		1: func(o strategy.OrderSubmitter) { o.Buy("AAA", 10) },
	}}
	e := New(f, s, p, b)

	curve, err := e.Run()
	require.NoError(t, err)
	assert.False(t, p.HasPositions())
	assert.Zero(t, b.Pending())
	assert.InDelta(t, 100018.0, p.Cash(), 1e-9)

	last, _ := curve.Last()
	assert.InDelta(t, 100018.0, last.Equity, 1e-9)

	require.Len(t, p.Trades(), 1)
	tr := p.Trades()[0]
	assert.InDelta(t, 18.0, tr.Profit, 1e-9)
	assert.Equal(t, 12.0, tr.ExitPrice)
	assert.Equal(t, day0.AddDate(0, 0, 2), tr.ExitTime)
}

func TestOpenShortIsCovered(t *testing.T) {
	f := newFeed(t, map[string][]market.Bar{"AAA": series("AAA", 0, 10, 11, 12)})
	p := portfolio.New(100000)
	b := broker.New(nil)
	s := &scripted{broker: b, actions: map[int]func(strategy.OrderSubmitter){
		1: func(o strategy.OrderSubmitter) { o.Sell("AAA", 5) },
	}}

	_, err := New(f, s, p, b).Run()
	require.NoError(t, err)
	assert.False(t, p.HasPositions())
	assert.InDelta(t, 99990.0, p.Cash(), 1e-9)
	assert.Empty(t, p.Trades())
}

func TestCloseCoversShortWithBuy(t *testing.T) {
	f := newFeed(t, map[string][]market.Bar{"AAA": series("AAA", 0, 10, 8, 9)})
	p := portfolio.New(1000)
	b := broker.New(nil)
	var fills []broker.Fill
	s := &scripted{broker: b, actions: map[int]func(strategy.OrderSubmitter){
		1: func(o strategy.OrderSubmitter) { o.Sell("AAA", 5) },
		2: func(o strategy.OrderSubmitter) { o.Close("AAA") },
	}}

	_, err := New(f, s, p, b, WithObserver(func(st Step) { fills = append(fills, st.Fills...) })).Run()
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, broker.ActionBuy, fills[1].Action)
	assert.Equal(t, 5.0, fills[1].Quantity)
	assert.InDelta(t, 1010.0, p.Cash(), 1e-9)
}

func TestCloseWithoutPositionIsIgnored(t *testing.T) {
	f := newFeed(t, map[string][]market.Bar{"AAA": series("AAA", 0, 10, 11)})
	p := portfolio.New(1000)
	b := broker.New(nil)
	s := &scripted{broker: b, actions: map[int]func(strategy.OrderSubmitter){
		1: func(o strategy.OrderSubmitter) { o.Close("AAA") },
	}}
	e := New(f, s, p, b)

	_, err := e.Run()
	require.NoError(t, err)
	assert.Zero(t, e.FillCount())
	assert.Empty(t, e.Dropped())
	assert.Equal(t, 1000.0, p.Cash())
}

func TestOrderWithoutPriceIsDropped(t *testing.T) {
	f := newFeed(t, map[string][]market.Bar{
		"AAA": series("AAA", 0, 10, 11, 12),
		"BBB": series("BBB", 0, 50),
	})
	p := portfolio.New(1000)
	b := broker.New(nil)
	s := &scripted{broker: b, actions: map[int]func(strategy.OrderSubmitter){
		2: func(o strategy.OrderSubmitter) { o.Buy("BBB", 1) },
	}}
	e := New(f, s, p, b)

	_, err := e.Run()
	require.NoError(t, err)
	dropped := e.Dropped()
	require.Len(t, dropped, 1)
	assert.Equal(t, broker.Order{Symbol: "BBB", Quantity: 1, Action: broker.ActionBuy}, dropped[0].Order)
	assert.Equal(t, day0.AddDate(0, 0, 1), dropped[0].Time)
	assert.Zero(t, p.Position("BBB"))
	assert.Equal(t, 1000.0, p.Cash())
}

func TestHeldSymbolMissingFromLastSnapshotIsStillLiquidated(t *testing.T) {
	f := newFeed(t, map[string][]market.Bar{
		"AAA": series("AAA", 0, 10, 11, 12),
		"BBB": series("BBB", 0, 50),
	})
	p := portfolio.New(1000)
	b := broker.New(nil)
	s := &scripted{broker: b, actions: map[int]func(strategy.OrderSubmitter){
		1: func(o strategy.OrderSubmitter) { o.Buy("BBB", 2) },
	}}

	_, err := New(f, s, p, b).Run()
	require.NoError(t, err)
	assert.False(t, p.HasPositions())
	assert.Equal(t, 1000.0, p.Cash())
	require.Len(t, p.Trades(), 1)
	assert.Equal(t, day0.AddDate(0, 0, 2), p.Trades()[0].ExitTime)
}

func TestInitializeErrorAbortsRun(t *testing.T) {
	f := newFeed(t, map[string][]market.Bar{"AAA": series("AAA", 0, 10)})
	b := broker.New(nil)
	boom := errors.New("boom")
	e := New(f, &scripted{broker: b, initErr: boom}, portfolio.New(1000), b)

	_, err := e.Run()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateDone, e.State())
	assert.Zero(t, e.Steps())
}

func TestOnBarErrorDoesNotStopTheRun(t *testing.T) {
	f := newFeed(t, map[string][]market.Bar{"AAA": series("AAA", 0, 10, 11, 12)})
	b := broker.New(nil)
	e := New(f, &scripted{broker: b, barErr: errors.New("flaky")}, portfolio.New(1000), b)

	curve, err := e.Run()
	require.NoError(t, err)
	assert.Len(t, curve, 3)
	assert.Equal(t, 3, e.Steps())
}

func TestConsumedFeedIsReported(t *testing.T) {
	f := newFeed(t, map[string][]market.Bar{"AAA": series("AAA", 0, 10, 11)})
	for range f.StreamNext() {
	}
	b := broker.New(nil)
	_, err := New(f, &scripted{broker: b}, portfolio.New(1000), b).Run()
	assert.ErrorIs(t, err, feed.ErrExhausted)
}

func TestMissingComponentsAreRejected(t *testing.T) {
	_, err := New(nil, nil, nil, nil).Run()
	assert.Error(t, err)
}
