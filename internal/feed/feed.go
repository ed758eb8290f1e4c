// Package feed 提供按时间推进的行情回放，保证查询不会看到当前时间戳之后的数据。
package feed

import (
	"errors"
	"iter"

	"github.com/nongomacoders/stock-analysis-sub001/internal/market"
)

var (
	// ErrNotStarted 在回放开始前查询历史。
	ErrNotStarted = errors.New("feed: history requested before streaming started")
	// ErrNoData 所有 symbol 都没有数据。
	ErrNoData = errors.New("feed: no data for any requested symbol")
	// ErrExhausted 回放序列已被消费，需要重新构造 feed。
	ErrExhausted = errors.New("feed: stream already consumed")
)

// Feed 行情回放契约。
type Feed interface {
	// Symbols 返回有数据的 symbol（已剔除无数据的）。
	Symbols() []string
	// History 返回截至当前时间戳（含）的最近 bars 根 K 线。
	History(symbol string, bars int) ([]market.Bar, error)
	// LatestBar 返回当前时间戳下该 symbol 的 K 线。
	LatestBar(symbol string) (market.Bar, bool)
	// StreamNext 逐个时间戳产出快照，只能消费一次。
	StreamNext() iter.Seq[market.Snapshot]
}
