package rsirevert

import (
	"testing"
	"time"

	"github.com/nongomacoders/stock-analysis-sub001/internal/broker"
	"github.com/nongomacoders/stock-analysis-sub001/internal/feed"
	"github.com/nongomacoders/stock-analysis-sub001/internal/market"
	"github.com/nongomacoders/stock-analysis-sub001/internal/portfolio"
	"github.com/nongomacoders/stock-analysis-sub001/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuysAfterSteadyDecline(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	var bars []market.Bar
	px := 100.0
	for i := 0; i < 20; i++ {
		px -= 1
		bars = append(bars, market.Bar{Time: start.AddDate(0, 0, i), Close: px})
	}
	f, err := feed.NewSeriesFeed(map[string][]market.Bar{"AAA": bars})
	require.NoError(t, err)
	p := portfolio.New(10000)
	b := broker.New(nil)
	s, err := New(strategy.Env{Feed: f, Portfolio: p, Broker: b}, strategy.Params{"period": 5, "quantity": 10})
	require.NoError(t, err)
	require.NoError(t, s.Initialize())

	var first []broker.Order
	for range f.StreamNext() {
		require.NoError(t, s.OnBar())
		if orders := b.PendingOrders(); len(orders) > 0 {
			first = orders
			break
		}
	}
	require.Len(t, first, 1)
	assert.Equal(t, broker.ActionBuy, first[0].Action)
	assert.Equal(t, 10.0, first[0].Quantity)
}

func TestOversoldMustBeBelowOverbought(t *testing.T) {
	reg := strategy.NewRegistry()
	require.NoError(t, reg.Register(Definition()))
	err := reg.Validate(Name, strategy.Params{"oversold": 80, "overbought": 70})
	assert.ErrorIs(t, err, strategy.ErrInvalidParams)
	assert.NoError(t, reg.Validate(Name, nil))
}
