package performance

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/nongomacoders/stock-analysis-sub001/internal/portfolio"

	"github.com/chromedp/chromedp"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorEquity        = "#34d399"
	colorDrawdown      = "#f87171"

	chartWidthPx     = 1400
	equityHeightPx   = 520
	drawdownHeightPx = 240
	screenshotWait   = 1500 * time.Millisecond
	renderTimeout    = 20 * time.Second
)

// RenderEquityHTML 输出权益曲线 + 回撤两张图的 HTML 页面。
func RenderEquityHTML(w io.Writer, title string, curve portfolio.EquityCurve) error {
	if curve.Empty() {
		return fmt.Errorf("equity curve is empty")
	}
	xAxis := make([]string, len(curve))
	equity := make([]opts.LineData, len(curve))
	drawdown := make([]opts.LineData, len(curve))
	peak := math.Inf(-1)
	for i, p := range curve {
		xAxis[i] = p.Time.UTC().Format(time.DateTime)
		equity[i] = opts.LineData{Value: round2(p.Equity)}
		if p.Equity > peak {
			peak = p.Equity
		}
		dd := 0.0
		if peak > 0 {
			dd = (p.Equity - peak) / peak * 100
		}
		drawdown[i] = opts.LineData{Value: round2(dd)}
	}

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.PageTitle = title
	page.AddCharts(
		lineChart(title, "Equity", equityHeightPx, xAxis, equity, colorEquity),
		lineChart("Drawdown %", "Drawdown", drawdownHeightPx, xAxis, drawdown, colorDrawdown),
	)
	return page.Render(w)
}

func lineChart(title, series string, height int, xAxis []string, data []opts.LineData, color string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", height),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{Title: title, Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	line.SetXAxis(xAxis).AddSeries(series, data,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Color: color, Width: 2}),
	)
	return line
}

// RenderEquityPNG 用 headless Chrome 截图，需要本机可用的 Chrome。
func RenderEquityPNG(ctx context.Context, title string, curve portfolio.EquityCurve) ([]byte, error) {
	var buf bytes.Buffer
	if err := RenderEquityHTML(&buf, title, curve); err != nil {
		return nil, err
	}
	return renderHTMLToPNG(ctx, buf.Bytes(), chartWidthPx+40, equityHeightPx+drawdownHeightPx+80)
}

func renderHTMLToPNG(ctx context.Context, html []byte, width, height int) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()

	timeoutCtx, cancelTimeout := context.WithTimeout(parent, renderTimeout)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)
	var shot []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(screenshotWait),
		chromedp.FullScreenshot(&shot, 100),
	}
	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		return nil, fmt.Errorf("render png: %w", err)
	}
	return shot, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
