package broker

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// CommissionModel 计算单笔成交的手续费。
type CommissionModel interface {
	Commission(price, quantity float64) float64
	Name() string
}

var hundred = decimal.NewFromInt(100)

// Percentage 按名义价值百分比收费，Rate=1.0 表示 1%。
type Percentage struct {
	Rate float64
}

func (p Percentage) Commission(price, quantity float64) float64 {
	rate := decimal.NewFromFloat(p.Rate).Div(hundred)
	notional := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(quantity).Abs())
	return rate.Mul(notional).InexactFloat64()
}

func (p Percentage) Name() string {
	return fmt.Sprintf("percentage(%g%%)", p.Rate)
}

// Flat 每笔成交固定费用，与数量无关。
type Flat struct {
	Fee float64
}

func (f Flat) Commission(_, _ float64) float64 {
	return f.Fee
}

func (f Flat) Name() string {
	return fmt.Sprintf("flat(%g)", f.Fee)
}

// NewCommissionModel 根据配置名构造模型：percentage | flat。
func NewCommissionModel(kind string, rate, fee float64) (CommissionModel, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "percentage", "percent":
		if rate < 0 {
			return nil, fmt.Errorf("commission rate 不能为负: %v", rate)
		}
		return Percentage{Rate: rate}, nil
	case "flat":
		if fee < 0 {
			return nil, fmt.Errorf("flat fee 不能为负: %v", fee)
		}
		return Flat{Fee: fee}, nil
	default:
		return nil, fmt.Errorf("未知手续费模型: %s", kind)
	}
}
