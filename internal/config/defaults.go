package config

import (
	"runtime"
	"strings"
)

// 默认值常量
const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppHTTPAddr     = ":9991"
	defaultDataSource      = "csv"
	defaultDataCSVDir      = "data/csv"
	defaultDataStoreRoot   = "data/bars"
	defaultDataYahooBase   = "https://query1.finance.yahoo.com"
	defaultDataBinanceREST = "https://fapi.binance.com"
	defaultDataTimeframe   = "1d"
	defaultDataRateLimit   = 60
	defaultCommissionModel = "percentage"
	defaultCommissionRate  = 0.1
	defaultFlatFee         = 1.0
	defaultInitialCash     = 100000.0
	defaultStrategyName    = "sma_cross"
	defaultGridPath        = "configs/grid.yaml"
	defaultResultsRoot     = "data/results"
	defaultSweepDB         = "data/results/sweeps.db"
	defaultMaxConcurrent   = 2
)

// applyDefaults 只为配置文件中未出现的键补默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.Broker.applyDefaults(keys)
	c.Portfolio.applyDefaults(keys)
	c.Strategy.applyDefaults(keys)
	c.Optimize.applyDefaults(keys)
	c.Results.applyDefaults(keys)
	c.Service.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (d *DataConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("data.source", &d.Source, defaultDataSource),
		stringFieldDefault("data.csv_dir", &d.CSVDir, defaultDataCSVDir),
		stringFieldDefault("data.store_root", &d.StoreRoot, defaultDataStoreRoot),
		stringFieldDefault("data.yahoo_base", &d.YahooBase, defaultDataYahooBase),
		stringFieldDefault("data.binance_rest", &d.BinanceREST, defaultDataBinanceREST),
		stringFieldDefault("data.timeframe", &d.Timeframe, defaultDataTimeframe),
		fieldDefault{
			key:   "data.rate_limit_per_min",
			need:  func() bool { return d.RateLimitPerMin <= 0 },
			apply: func() { d.RateLimitPerMin = defaultDataRateLimit },
		},
	)
	d.Source = strings.ToLower(strings.TrimSpace(d.Source))
	d.Timeframe = strings.ToLower(strings.TrimSpace(d.Timeframe))
	d.Symbols = normalizeSymbols(d.Symbols)
}

func (b *BrokerConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("broker.commission_model", &b.CommissionModel, defaultCommissionModel),
		fieldDefault{
			key:   "broker.commission_rate",
			apply: func() { b.CommissionRate = defaultCommissionRate },
		},
		fieldDefault{
			key:   "broker.flat_fee",
			apply: func() { b.FlatFee = defaultFlatFee },
		},
	)
	b.CommissionModel = strings.ToLower(strings.TrimSpace(b.CommissionModel))
}

func (p *PortfolioConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "portfolio.initial_cash",
			apply: func() { p.InitialCash = defaultInitialCash },
		},
	)
}

func (s *StrategyConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("strategy.name", &s.Name, defaultStrategyName),
	)
	if s.Params == nil {
		s.Params = map[string]any{}
	}
}

func (o *OptimizeConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("optimize.grid_path", &o.GridPath, defaultGridPath),
		fieldDefault{
			key:   "optimize.workers",
			apply: func() { o.Workers = runtime.NumCPU() },
		},
	)
}

func (r *ResultsConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("results.root", &r.Root, defaultResultsRoot),
		stringFieldDefault("results.sweep_db", &r.SweepDB, defaultSweepDB),
	)
}

func (s *ServiceConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "service.max_concurrent",
			need:  func() bool { return s.MaxConcurrent <= 0 },
			apply: func() { s.MaxConcurrent = defaultMaxConcurrent },
		},
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func normalizeSymbols(list []string) []string {
	if len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	seen := make(map[string]bool, len(list))
	for _, s := range list {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
