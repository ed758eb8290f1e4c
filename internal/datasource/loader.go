package datasource

import (
	"context"
	"fmt"
	"time"

	"github.com/nongomacoders/stock-analysis-sub001/internal/feed"
	"github.com/nongomacoders/stock-analysis-sub001/internal/market"
)

// Loader 先查缓存，未命中再走远端数据源并回写缓存。
type Loader struct {
	source Source
	store  *Store
}

// NewLoader store 可为空（不缓存）。
func NewLoader(source Source, store *Store) *Loader {
	return &Loader{source: source, store: store}
}

func (l *Loader) Source() Source { return l.source }

// LoadSeries 逐个 symbol 加载；失败的 symbol 记日志后留空，由 feed 剔除。
func (l *Loader) LoadSeries(ctx context.Context, symbols []string, tf market.Timeframe, start, end time.Time) (map[string][]market.Bar, error) {
	if l.source == nil && l.store == nil {
		return nil, fmt.Errorf("datasource: loader 没有可用的数据源")
	}
	series := make(map[string][]market.Bar, len(symbols))
	for _, raw := range symbols {
		symbol := market.NormalizeSymbol(raw)
		if symbol == "" {
			continue
		}
		bars, err := l.load(ctx, FetchRequest{Symbol: symbol, Timeframe: tf, Start: start, End: end})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warnf("加载 %s@%s 失败，跳过: %v", symbol, tf.Key, err)
		}
		series[symbol] = bars
	}
	return series, nil
}

// Load 返回全新的 SeriesFeed；所有 symbol 都没有数据时返回 feed.ErrNoData。
func (l *Loader) Load(ctx context.Context, symbols []string, tf market.Timeframe, start, end time.Time) (*feed.SeriesFeed, error) {
	series, err := l.LoadSeries(ctx, symbols, tf, start, end)
	if err != nil {
		return nil, err
	}
	return feed.NewSeriesFeed(series)
}

func (l *Loader) load(ctx context.Context, req FetchRequest) ([]market.Bar, error) {
	if l.store != nil {
		cached, err := l.store.RangeBars(ctx, req.Symbol, req.Timeframe.Key, req.Start, req.End)
		if err != nil {
			log.Warnf("读取缓存 %s@%s 失败: %v", req.Symbol, req.Timeframe.Key, err)
		} else if len(cached) > 0 {
			return cached, nil
		}
	}
	if l.source == nil {
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, req.Symbol)
	}
	bars, err := l.source.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if l.store != nil && len(bars) > 0 {
		if _, err := l.store.InsertBars(ctx, req.Symbol, req.Timeframe.Key, bars); err != nil {
			log.Warnf("写入缓存 %s@%s 失败: %v", req.Symbol, req.Timeframe.Key, err)
		}
	}
	return bars, nil
}

// Warm 直接从远端拉取并写入缓存，返回每个 symbol 写入的行数。
func (l *Loader) Warm(ctx context.Context, symbols []string, tf market.Timeframe, start, end time.Time) (map[string]int, error) {
	if l.source == nil || l.store == nil {
		return nil, fmt.Errorf("datasource: warm 需要远端数据源和缓存")
	}
	out := make(map[string]int, len(symbols))
	for _, raw := range symbols {
		symbol := market.NormalizeSymbol(raw)
		if symbol == "" {
			continue
		}
		bars, err := l.source.Fetch(ctx, FetchRequest{Symbol: symbol, Timeframe: tf, Start: start, End: end})
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			log.Warnf("拉取 %s@%s 失败: %v", symbol, tf.Key, err)
			continue
		}
		n, err := l.store.InsertBars(ctx, symbol, tf.Key, bars)
		if err != nil {
			return out, fmt.Errorf("写入缓存 %s: %w", symbol, err)
		}
		out[symbol] = n
		log.Infof("%s@%s 已缓存 %d 根 (%s)", symbol, tf.Key, n, l.source.Name())
	}
	return out, nil
}

// NewSource 按名称构造数据源。
func NewSource(kind, csvDir, yahooBase, binanceBase string, perMinute int, store *Store) (Source, error) {
	switch kind {
	case "", "csv":
		return NewCSVSource(csvDir), nil
	case "yahoo":
		return NewGuardedSource(NewYahooSource(yahooBase, perMinute), breakerThreshold, breakerCooldown), nil
	case "binance":
		return NewGuardedSource(NewBinanceSource(binanceBase, perMinute), breakerThreshold, breakerCooldown), nil
	case "store":
		if store == nil {
			return nil, fmt.Errorf("data.source=store 需要配置 store_root")
		}
		return NewStoreSource(store), nil
	default:
		return nil, fmt.Errorf("未知数据源 %q", kind)
	}
}
