package config

import (
	"strings"
	"time"
)

// Config 是回测器的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Data      DataConfig      `toml:"data"`
	Broker    BrokerConfig    `toml:"broker"`
	Portfolio PortfolioConfig `toml:"portfolio"`
	Strategy  StrategyConfig  `toml:"strategy"`
	Optimize  OptimizeConfig  `toml:"optimize"`
	Results   ResultsConfig   `toml:"results"`
	Report    ReportConfig    `toml:"report"`
	Notify    NotifyConfig    `toml:"notify"`
	Service   ServiceConfig   `toml:"service"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	HTTPAddr string `toml:"http_addr"`
}

// DataConfig 行情来源与回测区间；start/end 接受 2006-01-02、RFC3339 或 unix 秒。
type DataConfig struct {
	Source          string   `toml:"source"`
	CSVDir          string   `toml:"csv_dir"`
	StoreRoot       string   `toml:"store_root"`
	YahooBase       string   `toml:"yahoo_base"`
	BinanceREST     string   `toml:"binance_rest"`
	Symbols         []string `toml:"symbols"`
	Timeframe       string   `toml:"timeframe"`
	Start           string   `toml:"start"`
	End             string   `toml:"end"`
	RateLimitPerMin int      `toml:"rate_limit_per_min"`

	startAt time.Time
	endAt   time.Time
}

// StartTime 校验后的起始时间，未配置时为零值。
func (d DataConfig) StartTime() time.Time { return d.startAt }

// EndTime 校验后的结束时间，零值表示不限制。
func (d DataConfig) EndTime() time.Time { return d.endAt }

type BrokerConfig struct {
	CommissionModel string  `toml:"commission_model"`
	CommissionRate  float64 `toml:"commission_rate"`
	FlatFee         float64 `toml:"flat_fee"`
}

type PortfolioConfig struct {
	InitialCash float64 `toml:"initial_cash"`
}

type StrategyConfig struct {
	Name   string         `toml:"name"`
	Params map[string]any `toml:"params"`
}

type OptimizeConfig struct {
	GridPath string `toml:"grid_path"`
	Workers  int    `toml:"workers"`
}

type ResultsConfig struct {
	Root    string `toml:"root"`
	SweepDB string `toml:"sweep_db"`
}

// ReportConfig CLI run 的可选产物路径，留空则不输出。
type ReportConfig struct {
	ChartHTML string `toml:"chart_html"`
	ChartPNG  string `toml:"chart_png"`
	EquityCSV string `toml:"equity_csv"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type ServiceConfig struct {
	MaxConcurrent int `toml:"max_concurrent"`
}

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
