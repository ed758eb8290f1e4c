package app

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/nongomacoders/stock-analysis-sub001/internal/config"
)

// StartupSummary 启动时打印的配置摘要。
type StartupSummary struct {
	Env        string
	HTTPAddr   string
	Source     string
	Symbols    []string
	Timeframe  string
	Strategy   string
	Params     map[string]any
	Commission string
	Cash       float64
	Results    string
	Telegram   bool
}

func NewStartupSummary(cfg *config.Config) *StartupSummary {
	commission := fmt.Sprintf("percentage %.4g%%", cfg.Broker.CommissionRate)
	if cfg.Broker.CommissionModel == "flat" {
		commission = fmt.Sprintf("flat %.2f", cfg.Broker.FlatFee)
	}
	return &StartupSummary{
		Env:        cfg.App.Env,
		HTTPAddr:   cfg.App.HTTPAddr,
		Source:     cfg.Data.Source,
		Symbols:    cfg.Data.Symbols,
		Timeframe:  cfg.Data.Timeframe,
		Strategy:   cfg.Strategy.Name,
		Params:     cfg.Strategy.Params,
		Commission: commission,
		Cash:       cfg.Portfolio.InitialCash,
		Results:    cfg.Results.Root,
		Telegram:   cfg.Notify.Telegram.Enabled,
	}
}

func (s *StartupSummary) Print() {
	s.Fprint(os.Stdout)
}

func (s *StartupSummary) Fprint(w io.Writer) {
	title := "启动配置摘要 (STARTUP SUMMARY)"
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%*s\n", 40+len(title)/2, title)
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "[服务 (SERVICE)]")
	fmt.Fprintf(w, "  环境: %s\n", s.Env)
	fmt.Fprintf(w, "  HTTP: %s\n", s.HTTPAddr)
	fmt.Fprintf(w, "  结果目录: %s\n", s.Results)
	fmt.Fprintf(w, "  Telegram: %v\n", s.Telegram)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[行情 (DATA)]")
	fmt.Fprintf(w, "  数据源: %s\n", s.Source)
	fmt.Fprintf(w, "  标的: %s\n", formatList(s.Symbols))
	fmt.Fprintf(w, "  周期: %s\n", s.Timeframe)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[默认回测 (DEFAULTS)]")
	fmt.Fprintf(w, "  策略: %s\n", s.Strategy)
	fmt.Fprintf(w, "  参数: %s\n", formatParams(s.Params))
	fmt.Fprintf(w, "  初始资金: %.2f\n", s.Cash)
	fmt.Fprintf(w, "  手续费: %s\n", s.Commission)
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func formatParams(p map[string]any) string {
	if len(p) == 0 {
		return "(默认)"
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, p[k]))
	}
	return strings.Join(parts, " ")
}
