package performance

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var moneyPrinter = message.NewPrinter(language.English)

const noTradesMessage = "No trades were made. Cannot generate a report."

// WriteReport 以表格输出绩效报告；曲线为空时只输出提示。
func (a *Analyzer) WriteReport(w io.Writer) error {
	if _, err := fmt.Fprintln(w, "\n--- Performance & Risk Analysis ---"); err != nil {
		return err
	}
	if a.curve.Empty() {
		_, err := fmt.Fprintln(w, noTradesMessage)
		return err
	}
	s := a.Summary()

	table := tablewriter.NewWriter(w)
	table.Header("Metric", "Value")
	rows := [][2]string{
		{"Total Return", fmt.Sprintf("%.2f%%", s.TotalReturn)},
		{"CAGR", fmt.Sprintf("%.2f%%", s.CAGR)},
		{"Sharpe Ratio", fmt.Sprintf("%.2f", s.Sharpe)},
		{"Max Drawdown", fmt.Sprintf("%.2f%%", s.MaxDrawdown)},
		{"Final Equity", fmt.Sprintf("$%s", money(s.FinalEquity))},
		{"Total Trades", fmt.Sprintf("%d", s.Trades.TotalTrades)},
		{"Win Rate", fmt.Sprintf("%.2f%%", s.Trades.WinRate)},
		{"Profit Factor", fmt.Sprintf("%.2f", s.Trades.ProfitFactor)},
		{"Average Win", fmt.Sprintf("$%s", money(s.Trades.AverageWin))},
		{"Average Loss", fmt.Sprintf("$%s", money(s.Trades.AverageLoss))},
	}
	for _, row := range rows {
		if err := table.Append(row[0], row[1]); err != nil {
			return err
		}
	}
	return table.Render()
}

// money 千分位两位小数。
func money(v float64) string {
	return moneyPrinter.Sprintf("%.2f", v)
}
