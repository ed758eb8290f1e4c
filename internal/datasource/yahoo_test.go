package datasource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2023-01-03/04/05 14:30 UTC，交易所偏移 -18000 秒。
const chartJSON = `{"chart":{"result":[{"meta":{"symbol":"AAPL","gmtoffset":-18000},
"timestamp":[1672756200,1672842600,1672929000],
"indicators":{"quote":[{"open":[130.28,126.89,null],"high":[130.9,128.66,null],"low":[124.17,125.08,null],
"close":[125.07,126.36,null],"volume":[112117500,89113600,null]}]}}],"error":null}}`

func TestYahooParsesChart(t *testing.T) {
	var gotPath, gotInterval string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotInterval = r.URL.Query().Get("interval")
		_, _ = w.Write([]byte(chartJSON))
	}))
	defer srv.Close()

	src := NewYahooSource(srv.URL, 0)
	bars, err := src.Fetch(context.Background(), FetchRequest{Symbol: "aapl", Timeframe: daily, Start: day(0), End: day(10)})
	require.NoError(t, err)

	assert.Equal(t, "/v8/finance/chart/AAPL", gotPath)
	assert.Equal(t, "1d", gotInterval)
	require.Len(t, bars, 2)
	assert.Equal(t, time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC), bars[0].Time)
	assert.Equal(t, 125.07, bars[0].Close)
	assert.Equal(t, 130.9, bars[0].High)
	assert.Equal(t, "AAPL", bars[1].Symbol)
}

func TestYahooUnknownSymbol(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`))
	}))
	defer srv.Close()

	_, err := NewYahooSource(srv.URL, 0).Fetch(context.Background(), FetchRequest{Symbol: "ZZZZ", Timeframe: daily, Start: day(0)})
	assert.ErrorIs(t, err, ErrSymbolNotFound)
}

func TestYahooChartError(t *testing.T) {
	_, err := parseYahooChart([]byte(`{"chart":{"result":null,"error":{"code":"Bad Request","description":"Invalid input"}}}`), "X", daily)
	assert.ErrorContains(t, err, "Invalid input")

	_, err = parseYahooChart([]byte(`not json`), "X", daily)
	assert.Error(t, err)
}

func TestYahooRejectsUnsupportedTimeframe(t *testing.T) {
	tf := daily
	tf.YahooInterval = ""
	_, err := NewYahooSource("http://127.0.0.1:1", 0).Fetch(context.Background(), FetchRequest{Symbol: "X", Timeframe: tf})
	assert.Error(t, err)
}
