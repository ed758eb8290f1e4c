package market

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Timeframe 描述周期（内部 duration + 各数据源 interval 写法）。
type Timeframe struct {
	Key             string
	Duration        time.Duration
	BinanceInterval string
	YahooInterval   string
}

var supportedTimeframes = map[string]Timeframe{
	"15m": {Key: "15m", Duration: 15 * time.Minute, BinanceInterval: "15m", YahooInterval: "15m"},
	"30m": {Key: "30m", Duration: 30 * time.Minute, BinanceInterval: "30m", YahooInterval: "30m"},
	"1h":  {Key: "1h", Duration: time.Hour, BinanceInterval: "1h", YahooInterval: "60m"},
	"4h":  {Key: "4h", Duration: 4 * time.Hour, BinanceInterval: "4h"},
	"1d":  {Key: "1d", Duration: 24 * time.Hour, BinanceInterval: "1d", YahooInterval: "1d"},
	"1w":  {Key: "1w", Duration: 7 * 24 * time.Hour, BinanceInterval: "1w", YahooInterval: "1wk"},
}

// ParseTimeframe 返回标准化周期定义。
func ParseTimeframe(input string) (Timeframe, error) {
	key := strings.ToLower(strings.TrimSpace(input))
	tf, ok := supportedTimeframes[key]
	if !ok {
		return Timeframe{}, fmt.Errorf("不支持的周期: %s", input)
	}
	return tf, nil
}

// SupportedTimeframes 返回所有支持的 key（排序后）。
func SupportedTimeframes() []string {
	keys := make([]string, 0, len(supportedTimeframes))
	for k := range supportedTimeframes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AlignRange 将区间对齐到周期网格（UTC），保证 start<=end。
func (tf Timeframe) AlignRange(start, end time.Time) (time.Time, time.Time) {
	if end.Before(start) {
		start, end = end, start
	}
	if tf.Duration <= 0 {
		return start, end
	}
	alStart := start.UTC().Truncate(tf.Duration)
	alEnd := end.UTC().Truncate(tf.Duration)
	if alEnd.Before(alStart) {
		alEnd = alStart
	}
	return alStart, alEnd
}

// ExpectedBars 估算 start~end（含）应有的 K 线数量；日线以上含非交易日，仅作上限参考。
func (tf Timeframe) ExpectedBars(start, end time.Time) int64 {
	if end.Before(start) || tf.Duration <= 0 {
		return 0
	}
	return int64(end.Sub(start)/tf.Duration) + 1
}
