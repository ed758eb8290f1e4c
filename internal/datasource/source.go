// Package datasource 从 CSV、Yahoo、Binance 拉取 K 线，并用 sqlite 做本地缓存。
package datasource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nongomacoders/stock-analysis-sub001/internal/logger"
	"github.com/nongomacoders/stock-analysis-sub001/internal/market"
)

// ErrSymbolNotFound 数据源没有该 symbol。
var ErrSymbolNotFound = errors.New("datasource: symbol not found")

var log = logger.With("datasource")

// FetchRequest 时间区间为 [Start, End)；End 为零值表示不限制。
type FetchRequest struct {
	Symbol    string
	Timeframe market.Timeframe
	Start     time.Time
	End       time.Time
}

func (r FetchRequest) validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("symbol 不能为空")
	}
	if r.Timeframe.Key == "" {
		return fmt.Errorf("timeframe 不能为空")
	}
	if !r.End.IsZero() && !r.End.After(r.Start) {
		return fmt.Errorf("end(%s) 必须晚于 start(%s)", r.End.Format(time.DateOnly), r.Start.Format(time.DateOnly))
	}
	return nil
}

// contains 判断时间是否落在请求区间内。
func (r FetchRequest) contains(ts time.Time) bool {
	if !r.Start.IsZero() && ts.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && !ts.Before(r.End) {
		return false
	}
	return true
}

// Source 统一不同数据源的拉取行为。
type Source interface {
	Name() string
	Fetch(ctx context.Context, req FetchRequest) ([]market.Bar, error)
}
