package datasource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nongomacoders/stock-analysis-sub001/internal/market"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"
)

const (
	defaultBinanceBase = "https://fapi.binance.com"
	maxKlinesPerPage   = 1500
	invalidSymbolCode  = -1121
)

// BinanceSource USDT 合约 klines，按 startTime 分页。
type BinanceSource struct {
	client  *futures.Client
	limiter *rate.Limiter
	now     func() time.Time
}

func NewBinanceSource(base string, perMinute int) *BinanceSource {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = defaultBinanceBase
	}
	client := futures.NewClient("", "")
	client.BaseURL = base
	client.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	return &BinanceSource{client: client, limiter: newLimiter(perMinute), now: time.Now}
}

func (b *BinanceSource) Name() string { return "binance" }

func (b *BinanceSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Bar, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	interval := req.Timeframe.BinanceInterval
	if interval == "" {
		return nil, fmt.Errorf("binance 不支持周期 %s", req.Timeframe.Key)
	}
	symbol := binanceSymbol(req.Symbol)
	now := b.now()
	end := req.End
	if end.IsZero() || end.After(now) {
		end = now
	}
	endMs := end.UnixMilli() - 1
	cursor := req.Start.UnixMilli()

	var out []market.Bar
	for cursor <= endMs {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
		kls, err := b.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(cursor).
			EndTime(endMs).
			Limit(maxKlinesPerPage).
			Do(ctx)
		if err != nil {
			var apiErr *common.APIError
			if errors.As(err, &apiErr) && apiErr.Code == invalidSymbolCode {
				return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, req.Symbol)
			}
			return nil, fmt.Errorf("binance klines %s: %w", symbol, err)
		}
		if len(kls) == 0 {
			break
		}
		for _, kl := range kls {
			if kl == nil || kl.CloseTime >= now.UnixMilli() {
				continue
			}
			out = append(out, market.Bar{
				Symbol: strings.ToUpper(req.Symbol),
				Time:   time.UnixMilli(kl.OpenTime).UTC(),
				Open:   parseFloat(kl.Open),
				High:   parseFloat(kl.High),
				Low:    parseFloat(kl.Low),
				Close:  parseFloat(kl.Close),
				Volume: parseFloat(kl.Volume),
			})
		}
		if len(kls) < maxKlinesPerPage {
			break
		}
		cursor = kls[len(kls)-1].OpenTime + 1
	}
	log.Debugf("binance %s %s 返回 %d 根", symbol, interval, len(out))
	return out, nil
}

// binanceSymbol BTC/USDT、btc-usdt → BTCUSDT。
func binanceSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	return strings.NewReplacer("/", "", "-", "", "_", "").Replace(s)
}

func parseFloat(raw string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	return v
}
