package datasource

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nongomacoders/stock-analysis-sub001/internal/market"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const (
	defaultYahooBase = "https://query1.finance.yahoo.com"
	yahooUserAgent   = "Mozilla/5.0 (X11; Linux x86_64) backtester/1.0"
	maxRetries       = 3
	baseRetryWait    = 500 * time.Millisecond
)

// YahooSource Yahoo Finance v8 chart API。
type YahooSource struct {
	base    string
	client  *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

// NewYahooSource perMinute<=0 时不限速。
func NewYahooSource(base string, perMinute int) *YahooSource {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = defaultYahooBase
	}
	return &YahooSource{
		base:    base,
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: newLimiter(perMinute),
		now:     time.Now,
	}
}

func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

func (y *YahooSource) Name() string { return "yahoo" }

func (y *YahooSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Bar, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	interval := req.Timeframe.YahooInterval
	if interval == "" {
		return nil, fmt.Errorf("yahoo 不支持周期 %s", req.Timeframe.Key)
	}
	end := req.End
	if end.IsZero() {
		end = y.now()
	}
	q := url.Values{}
	q.Set("period1", strconv.FormatInt(req.Start.Unix(), 10))
	q.Set("period2", strconv.FormatInt(end.Unix(), 10))
	q.Set("interval", interval)
	q.Set("events", "history")
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", y.base, url.PathEscape(strings.ToUpper(req.Symbol)), q.Encode())

	body, err := y.get(ctx, endpoint, req.Symbol)
	if err != nil {
		return nil, err
	}
	bars, err := parseYahooChart(body, req.Symbol, req.Timeframe)
	if err != nil {
		return nil, err
	}
	out := bars[:0]
	for _, b := range bars {
		if req.contains(b.Time) {
			out = append(out, b)
		}
	}
	log.Debugf("yahoo %s %s 返回 %d 根", req.Symbol, interval, len(out))
	return out, nil
}

// get 限速 + 429/5xx 指数退避重试。
func (y *YahooSource) get(ctx context.Context, endpoint, symbol string) ([]byte, error) {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := y.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Accept", "application/json")
		httpReq.Header.Set("User-Agent", yahooUserAgent)
		resp, err := y.client.Do(httpReq)
		if err != nil {
			if attempt == maxRetries {
				return nil, fmt.Errorf("yahoo request failed after %d retries: %w", maxRetries, err)
			}
			backoff(ctx, attempt)
			continue
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			log.Warnf("yahoo 返回 %d，第 %d 次重试", resp.StatusCode, attempt+1)
			if attempt == maxRetries {
				return nil, fmt.Errorf("yahoo 返回状态码 %d", resp.StatusCode)
			}
			backoff(ctx, attempt)
			continue
		case resp.StatusCode >= 300:
			return nil, fmt.Errorf("yahoo 返回状态码 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		if readErr != nil {
			return nil, readErr
		}
		return body, nil
	}
	return nil, fmt.Errorf("yahoo: exhausted %d retries", maxRetries)
}

func backoff(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// parseYahooChart close 为 null 的行被跳过；日线以上按交易所时区截到自然日。
func parseYahooChart(body []byte, symbol string, tf market.Timeframe) ([]market.Bar, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("yahoo: invalid json")
	}
	root := gjson.ParseBytes(body)
	if e := root.Get("chart.error"); e.Exists() && e.Type != gjson.Null {
		if strings.EqualFold(e.Get("code").String(), "Not Found") {
			return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
		}
		return nil, fmt.Errorf("yahoo: %s: %s", e.Get("code").String(), e.Get("description").String())
	}
	result := root.Get("chart.result.0")
	if !result.Exists() {
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}
	offset := result.Get("meta.gmtoffset").Int()
	stamps := result.Get("timestamp").Array()
	quote := result.Get("indicators.quote.0")
	opens := quote.Get("open").Array()
	highs := quote.Get("high").Array()
	lows := quote.Get("low").Array()
	closes := quote.Get("close").Array()
	volumes := quote.Get("volume").Array()

	daily := tf.Duration >= 24*time.Hour
	out := make([]market.Bar, 0, len(stamps))
	for i, ts := range stamps {
		if i >= len(closes) || closes[i].Type == gjson.Null {
			continue
		}
		t := time.Unix(ts.Int(), 0).UTC()
		if daily {
			local := time.Unix(ts.Int()+offset, 0).UTC()
			t = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
		}
		c := closes[i].Float()
		out = append(out, market.Bar{
			Symbol: strings.ToUpper(symbol),
			Time:   t,
			Open:   floatAt(opens, i, c),
			High:   floatAt(highs, i, c),
			Low:    floatAt(lows, i, c),
			Close:  c,
			Volume: floatAt(volumes, i, 0),
		})
	}
	return out, nil
}

func floatAt(arr []gjson.Result, i int, def float64) float64 {
	if i >= len(arr) || arr[i].Type == gjson.Null {
		return def
	}
	return arr[i].Float()
}
