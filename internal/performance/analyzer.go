// Package performance 根据权益曲线和成交记录计算回测指标。
package performance

import (
	"math"

	"github.com/nongomacoders/stock-analysis-sub001/internal/portfolio"

	"github.com/shopspring/decimal"
)

const (
	// DefaultPeriodsPerYear 日线年化周期数。
	DefaultPeriodsPerYear = 252
	// FlatSharpe 收益无波动（通常是没有交易）时的 Sharpe，优化器会把它排在最后。
	FlatSharpe = -100.0

	daysPerYear = 365.25
)

// TradeStats 交易层面的统计；AverageLoss 为绝对值。
type TradeStats struct {
	TotalTrades  int     `json:"total_trades"`
	WinRate      float64 `json:"win_rate"`
	ProfitFactor float64 `json:"profit_factor"`
	AverageWin   float64 `json:"average_win"`
	AverageLoss  float64 `json:"average_loss"`
}

// Summary 汇总所有指标，存储/HTTP/优化器共用。
type Summary struct {
	InitialCash float64    `json:"initial_cash"`
	FinalEquity float64    `json:"final_equity"`
	TotalReturn float64    `json:"total_return"`
	CAGR        float64    `json:"cagr"`
	Sharpe      float64    `json:"sharpe"`
	MaxDrawdown float64    `json:"max_drawdown"`
	Bars        int        `json:"bars"`
	Trades      TradeStats `json:"trades"`
}

type Analyzer struct {
	curve       portfolio.EquityCurve
	initialCash float64
	trades      []portfolio.Trade
	returns     []float64
}

func NewAnalyzer(curve portfolio.EquityCurve, initialCash float64, trades []portfolio.Trade) *Analyzer {
	return &Analyzer{
		curve:       curve,
		initialCash: initialCash,
		trades:      trades,
		returns:     pctChange(curve.Values()),
	}
}

// pctChange 相邻权益的变化率，非有限值（零基数）被丢弃。
func pctChange(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		r := values[i]/values[i-1] - 1
		if math.IsNaN(r) || math.IsInf(r, 0) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Returns 逐期收益率。
func (a *Analyzer) Returns() []float64 {
	return append([]float64(nil), a.returns...)
}

// Sharpe 无风险利率 0、252 期年化。
func (a *Analyzer) Sharpe() float64 {
	return a.SharpeRatio(0, DefaultPeriodsPerYear)
}

// SharpeRatio 年化 Sharpe：mean(excess)/std(excess)*sqrt(periods)。
// 收益少于两期或样本标准差为 0 时返回 FlatSharpe。
func (a *Analyzer) SharpeRatio(riskFree float64, periodsPerYear int) float64 {
	if periodsPerYear <= 0 {
		periodsPerYear = DefaultPeriodsPerYear
	}
	if len(a.returns) < 2 || stddev(a.returns, 1) == 0 {
		return FlatSharpe
	}
	perPeriod := riskFree / float64(periodsPerYear)
	excess := make([]float64, len(a.returns))
	for i, r := range a.returns {
		excess[i] = r - perPeriod
	}
	sd := stddev(excess, 0)
	if sd == 0 {
		return FlatSharpe
	}
	return mean(excess) / sd * math.Sqrt(float64(periodsPerYear))
}

// MaxDrawdown 最大回撤（负百分比）。
func (a *Analyzer) MaxDrawdown() float64 {
	if a.curve.Empty() {
		return 0
	}
	peak := math.Inf(-1)
	worst := 0.0
	for _, p := range a.curve {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak == 0 {
			continue
		}
		if dd := (p.Equity - peak) / peak; dd < worst {
			worst = dd
		}
	}
	return worst * 100
}

// CAGR 年化复合增长率（百分比），按首尾相差的整天数计算年数。
func (a *Analyzer) CAGR() float64 {
	if a.curve.Empty() || a.initialCash <= 0 {
		return 0
	}
	first, last := a.curve[0], a.curve[len(a.curve)-1]
	days := int(last.Time.Sub(first.Time).Hours() / 24)
	years := float64(days) / daysPerYear
	if years == 0 {
		return 0
	}
	return (math.Pow(last.Equity/a.initialCash, 1/years) - 1) * 100
}

// TotalReturn 总收益率（百分比）。
func (a *Analyzer) TotalReturn() float64 {
	last, ok := a.curve.Last()
	if !ok || a.initialCash == 0 {
		return 0
	}
	return (last.Equity/a.initialCash - 1) * 100
}

// TradeStats 盈利 >0 记为胜，<=0 记为负；没有亏损时 ProfitFactor 为 0。
func (a *Analyzer) TradeStats() TradeStats {
	if len(a.trades) == 0 {
		return TradeStats{}
	}
	var (
		grossProfit = decimal.Zero
		grossLoss   = decimal.Zero
		wins        int
		losses      int
	)
	for _, t := range a.trades {
		profit := decimal.NewFromFloat(t.Profit)
		if t.Profit > 0 {
			grossProfit = grossProfit.Add(profit)
			wins++
		} else {
			grossLoss = grossLoss.Add(profit)
			losses++
		}
	}
	grossLoss = grossLoss.Abs()

	stats := TradeStats{
		TotalTrades: len(a.trades),
		WinRate:     float64(wins) / float64(len(a.trades)) * 100,
	}
	if grossLoss.IsPositive() {
		stats.ProfitFactor = grossProfit.Div(grossLoss).InexactFloat64()
	}
	if wins > 0 {
		stats.AverageWin = grossProfit.Div(decimal.NewFromInt(int64(wins))).InexactFloat64()
	}
	if losses > 0 {
		stats.AverageLoss = grossLoss.Div(decimal.NewFromInt(int64(losses))).InexactFloat64()
	}
	return stats
}

func (a *Analyzer) Summary() Summary {
	s := Summary{
		InitialCash: a.initialCash,
		FinalEquity: a.initialCash,
		TotalReturn: a.TotalReturn(),
		CAGR:        a.CAGR(),
		Sharpe:      a.Sharpe(),
		MaxDrawdown: a.MaxDrawdown(),
		Bars:        a.curve.Len(),
		Trades:      a.TradeStats(),
	}
	if last, ok := a.curve.Last(); ok {
		s.FinalEquity = last.Equity
	}
	return s
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev ddof=0 为总体标准差，ddof=1 为样本标准差。
func stddev(xs []float64, ddof int) float64 {
	n := len(xs) - ddof
	if n <= 0 {
		return 0
	}
	m := mean(xs)
	ss := 0.0
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(n))
}
