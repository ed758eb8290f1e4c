// Package builtin 汇总内置示例策略。
package builtin

import (
	"github.com/nongomacoders/stock-analysis-sub001/internal/strategy"
	"github.com/nongomacoders/stock-analysis-sub001/internal/strategy/rsirevert"
	"github.com/nongomacoders/stock-analysis-sub001/internal/strategy/smacross"
)

// NewRegistry 返回注册了全部内置策略的 Registry。
func NewRegistry() (*strategy.Registry, error) {
	reg := strategy.NewRegistry()
	for _, def := range []strategy.Definition{
		smacross.Definition(),
		rsirevert.Definition(),
	} {
		if err := reg.Register(def); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
