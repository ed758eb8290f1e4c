package portfolio

import (
	"time"
)

// Trade 一次完整开平仓的已实现结果。
type Trade struct {
	Symbol     string    `json:"symbol"`
	Profit     float64   `json:"profit"`
	Win        bool      `json:"win"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Quantity   float64   `json:"quantity"`
	Commission float64   `json:"commission"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
}

// EquityPoint 某一步的总权益；种子点的 Time 为零值。
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
	Cash   float64   `json:"cash"`
}

// IsSeed 是否为回放开始前的种子点。
func (p EquityPoint) IsSeed() bool {
	return p.Time.IsZero()
}

// EquityCurve 按时间排序的权益序列。
type EquityCurve []EquityPoint

func (c EquityCurve) Len() int { return len(c) }

func (c EquityCurve) Empty() bool { return len(c) == 0 }

// Values 返回权益值序列。
func (c EquityCurve) Values() []float64 {
	out := make([]float64, len(c))
	for i, p := range c {
		out[i] = p.Equity
	}
	return out
}

// Last 最后一个点；空曲线返回 false。
func (c EquityCurve) Last() (EquityPoint, bool) {
	if len(c) == 0 {
		return EquityPoint{}, false
	}
	return c[len(c)-1], true
}

// WithoutSeed 去掉开头的种子点。
func (c EquityCurve) WithoutSeed() EquityCurve {
	if len(c) > 0 && c[0].IsSeed() {
		c = c[1:]
	}
	out := make(EquityCurve, len(c))
	copy(out, c)
	return out
}
