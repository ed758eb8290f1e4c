package performance

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/nongomacoders/stock-analysis-sub001/internal/portfolio"
)

// WriteEquityCSV 输出 time,equity,cash,drawdown_pct 四列。
func WriteEquityCSV(w io.Writer, curve portfolio.EquityCurve) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "equity", "cash", "drawdown_pct"}); err != nil {
		return err
	}
	peak := 0.0
	for _, p := range curve {
		peak = max(peak, p.Equity)
		dd := 0.0
		if peak > 0 {
			dd = (p.Equity - peak) / peak * 100
		}
		err := cw.Write([]string{
			p.Time.UTC().Format(time.RFC3339),
			strconv.FormatFloat(p.Equity, 'f', 2, 64),
			strconv.FormatFloat(p.Cash, 'f', 2, 64),
			strconv.FormatFloat(dd, 'f', 4, 64),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
