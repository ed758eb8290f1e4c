package market

import (
	"sort"
	"strings"
	"time"
)

// Bar 单个周期的 OHLCV，产出后不再修改。
type Bar struct {
	Symbol string    `json:"symbol"`
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Snapshot 同一时间戳下所有 symbol 的 Bar。
type Snapshot struct {
	Time time.Time      `json:"time"`
	Bars map[string]Bar `json:"bars"`
}

// Close 返回 symbol 在该时间点的收盘价。
func (s Snapshot) Close(symbol string) (float64, bool) {
	bar, ok := s.Bars[symbol]
	if !ok {
		return 0, false
	}
	return bar.Close, true
}

// Symbols 返回快照内的 symbol（排序后）。
func (s Snapshot) Symbols() []string {
	out := make([]string, 0, len(s.Bars))
	for sym := range s.Bars {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// NormalizeSymbol 统一大写并去除空白。
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Closes 提取收盘价序列，供指标计算使用。
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
