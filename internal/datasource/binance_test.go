package datasource

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func klineRow(open time.Time, price float64) string {
	closeTime := open.Add(24*time.Hour).UnixMilli() - 1
	return fmt.Sprintf(`[%d,"%g","%g","%g","%g","10",%d,"0",5,"0","0","0"]`,
		open.UnixMilli(), price, price+1, price-1, price, closeTime)
}

func TestBinanceFetchesKlines(t *testing.T) {
	var gotSymbol, gotInterval string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSymbol = r.URL.Query().Get("symbol")
		gotInterval = r.URL.Query().Get("interval")
		rows := []string{klineRow(day(0), 100), klineRow(day(1), 101)}
		_, _ = w.Write([]byte("[" + strings.Join(rows, ",") + "]"))
	}))
	defer srv.Close()

	src := NewBinanceSource(srv.URL, 0)
	src.now = func() time.Time { return day(30) }
	bars, err := src.Fetch(context.Background(), FetchRequest{Symbol: "btc/usdt", Timeframe: daily, Start: day(0), End: day(2)})
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", gotSymbol)
	assert.Equal(t, "1d", gotInterval)
	require.Len(t, bars, 2)
	assert.Equal(t, day(1), bars[1].Time)
	assert.Equal(t, 101.0, bars[1].Close)
	assert.Equal(t, 102.0, bars[1].High)
}

func TestBinanceDropsUnclosedKline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("[" + klineRow(day(0), 100) + "," + klineRow(day(1), 101) + "]"))
	}))
	defer srv.Close()

	src := NewBinanceSource(srv.URL, 0)
	src.now = func() time.Time { return day(1).Add(time.Hour) }
	bars, err := src.Fetch(context.Background(), FetchRequest{Symbol: "BTCUSDT", Timeframe: daily, Start: day(0)})
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, day(0), bars[0].Time)
}

func TestBinanceInvalidSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer srv.Close()

	src := NewBinanceSource(srv.URL, 0)
	src.now = func() time.Time { return day(30) }
	_, err := src.Fetch(context.Background(), FetchRequest{Symbol: "NOPE", Timeframe: daily, Start: day(0)})
	assert.ErrorIs(t, err, ErrSymbolNotFound)
}

func TestBinanceSymbol(t *testing.T) {
	assert.Equal(t, "ETHUSDT", binanceSymbol(" eth/usdt "))
	assert.Equal(t, "ETHUSDT", binanceSymbol("ETH-USDT"))
}
