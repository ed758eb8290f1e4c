package optimize

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
)

// WriteTable 输出排名前 top 的组合（top<=0 表示全部）。
func WriteTable(w io.Writer, report Report, top int) error {
	rows := report.Results
	if top > 0 && len(rows) > top {
		rows = rows[:top]
	}
	table := tablewriter.NewWriter(w)
	table.Header("#", "Params", "Sharpe", "Return", "Max DD", "Trades", "Win Rate")
	for i, r := range rows {
		err := table.Append(
			fmt.Sprintf("%d", i+1),
			r.Params.Key(),
			fmt.Sprintf("%.2f", r.Sharpe),
			fmt.Sprintf("%.2f%%", r.Summary.TotalReturn),
			fmt.Sprintf("%.2f%%", r.Summary.MaxDrawdown),
			fmt.Sprintf("%d", r.Summary.Trades.TotalTrades),
			fmt.Sprintf("%.1f%%", r.Summary.Trades.WinRate),
		)
		if err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "total=%d skipped=%d failed=%d\n", report.Total, report.Skipped, report.Failed)
	return err
}
