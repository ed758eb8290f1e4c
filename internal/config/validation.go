package config

import (
	"fmt"
	"strings"

	"github.com/nongomacoders/stock-analysis-sub001/internal/datasource"
	"github.com/nongomacoders/stock-analysis-sub001/internal/market"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Data.validate(); err != nil {
		return err
	}
	if err := c.Broker.validate(); err != nil {
		return err
	}
	if c.Portfolio.InitialCash <= 0 {
		return fmt.Errorf("portfolio.initial_cash must be > 0")
	}
	if strings.TrimSpace(c.Strategy.Name) == "" {
		return fmt.Errorf("strategy.name is required")
	}
	if c.Optimize.Workers < 1 {
		return fmt.Errorf("optimize.workers must be >= 1")
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (d *DataConfig) validate() error {
	switch d.Source {
	case "csv", "yahoo", "binance", "store":
	default:
		return fmt.Errorf("data.source must be one of csv|yahoo|binance|store, got %q", d.Source)
	}
	if d.Source == "csv" && strings.TrimSpace(d.CSVDir) == "" {
		return fmt.Errorf("data.csv_dir is required for csv source")
	}
	if d.Source == "store" && strings.TrimSpace(d.StoreRoot) == "" {
		return fmt.Errorf("data.store_root is required for store source")
	}
	if _, err := market.ParseTimeframe(d.Timeframe); err != nil {
		return fmt.Errorf("data.timeframe: %w", err)
	}
	if raw := strings.TrimSpace(d.Start); raw != "" {
		t, err := datasource.ParseTime(raw)
		if err != nil {
			return fmt.Errorf("data.start: %w", err)
		}
		d.startAt = t
	}
	if raw := strings.TrimSpace(d.End); raw != "" {
		t, err := datasource.ParseTime(raw)
		if err != nil {
			return fmt.Errorf("data.end: %w", err)
		}
		d.endAt = t
	}
	if !d.startAt.IsZero() && !d.endAt.IsZero() && !d.startAt.Before(d.endAt) {
		return fmt.Errorf("data.start must be before data.end")
	}
	return nil
}

func (b *BrokerConfig) validate() error {
	switch b.CommissionModel {
	case "percentage", "flat":
	default:
		return fmt.Errorf("broker.commission_model must be percentage or flat, got %q", b.CommissionModel)
	}
	if b.CommissionRate < 0 {
		return fmt.Errorf("broker.commission_rate must be >= 0")
	}
	if b.FlatFee < 0 {
		return fmt.Errorf("broker.flat_fee must be >= 0")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	tg := n.Telegram
	if !tg.Enabled {
		return nil
	}
	if strings.TrimSpace(tg.BotToken) == "" || strings.TrimSpace(tg.ChatID) == "" {
		return fmt.Errorf("notify.telegram enabled but bot_token/chat_id missing (set TELEGRAM_BOT_TOKEN / TELEGRAM_CHAT_ID)")
	}
	return nil
}
