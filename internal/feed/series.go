package feed

import (
	"iter"
	"sort"
	"time"

	"github.com/nongomacoders/stock-analysis-sub001/internal/logger"
	"github.com/nongomacoders/stock-analysis-sub001/internal/market"
)

var log = logger.With("feed")

// SeriesFeed 基于内存序列的 Feed 实现。
type SeriesFeed struct {
	symbols []string
	series  map[string][]market.Bar
	times   []time.Time
	dropped []string

	started  bool
	consumed bool
	current  time.Time
	cursor   map[string]int
	latest   map[string]market.Bar
	err      error
}

// NewSeriesFeed 排序去重各 symbol 序列；空序列被剔除，全部为空时返回 ErrNoData。
func NewSeriesFeed(series map[string][]market.Bar) (*SeriesFeed, error) {
	f := &SeriesFeed{
		series: make(map[string][]market.Bar, len(series)),
		cursor: make(map[string]int, len(series)),
		latest: make(map[string]market.Bar),
	}
	seen := make(map[int64]struct{})
	for symbol, bars := range series {
		clean := normalizeSeries(symbol, bars)
		if len(clean) == 0 {
			f.dropped = append(f.dropped, symbol)
			log.Warnf("symbol %s 无数据，已剔除", symbol)
			continue
		}
		f.series[symbol] = clean
		f.symbols = append(f.symbols, symbol)
		for _, b := range clean {
			key := b.Time.UnixNano()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			f.times = append(f.times, b.Time)
		}
	}
	sort.Strings(f.symbols)
	sort.Strings(f.dropped)
	if len(f.symbols) == 0 {
		return nil, ErrNoData
	}
	sort.Slice(f.times, func(i, j int) bool { return f.times[i].Before(f.times[j]) })
	return f, nil
}

func normalizeSeries(symbol string, bars []market.Bar) []market.Bar {
	if len(bars) == 0 {
		return nil
	}
	out := make([]market.Bar, len(bars))
	copy(out, bars)
	for i := range out {
		out[i].Symbol = symbol
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	// 同一时间戳保留最后写入的一条
	dedup := out[:0]
	for _, b := range out {
		if n := len(dedup); n > 0 && dedup[n-1].Time.Equal(b.Time) {
			dedup[n-1] = b
			continue
		}
		dedup = append(dedup, b)
	}
	return dedup
}

func (f *SeriesFeed) Symbols() []string {
	return append([]string(nil), f.symbols...)
}

// Dropped 返回构造时因无数据被剔除的 symbol。
func (f *SeriesFeed) Dropped() []string {
	return append([]string(nil), f.dropped...)
}

// Len 不同时间戳的数量，即回放步数。
func (f *SeriesFeed) Len() int {
	return len(f.times)
}

// Current 当前回放到的时间戳；未开始时为零值。
func (f *SeriesFeed) Current() time.Time {
	return f.current
}

// Err 返回回放过程中的错误（目前仅 ErrExhausted）。
func (f *SeriesFeed) Err() error {
	return f.err
}

func (f *SeriesFeed) History(symbol string, bars int) ([]market.Bar, error) {
	if !f.started {
		return nil, ErrNotStarted
	}
	if bars <= 0 {
		return []market.Bar{}, nil
	}
	visible := f.series[symbol][:f.cursor[symbol]]
	if len(visible) > bars {
		visible = visible[len(visible)-bars:]
	}
	out := make([]market.Bar, len(visible))
	copy(out, visible)
	return out, nil
}

func (f *SeriesFeed) LatestBar(symbol string) (market.Bar, bool) {
	bar, ok := f.latest[symbol]
	return bar, ok
}

func (f *SeriesFeed) StreamNext() iter.Seq[market.Snapshot] {
	return func(yield func(market.Snapshot) bool) {
		if f.consumed {
			f.err = ErrExhausted
			return
		}
		f.consumed = true
		for _, ts := range f.times {
			if !yield(f.advance(ts)) {
				return
			}
		}
	}
}

func (f *SeriesFeed) advance(ts time.Time) market.Snapshot {
	f.started = true
	f.current = ts
	clear(f.latest)
	snap := market.Snapshot{Time: ts, Bars: make(map[string]market.Bar, len(f.symbols))}
	for _, symbol := range f.symbols {
		bars := f.series[symbol]
		idx := f.cursor[symbol]
		for idx < len(bars) && !bars[idx].Time.After(ts) {
			idx++
		}
		f.cursor[symbol] = idx
		if idx > 0 && bars[idx-1].Time.Equal(ts) {
			snap.Bars[symbol] = bars[idx-1]
			f.latest[symbol] = bars[idx-1]
		}
	}
	return snap
}
