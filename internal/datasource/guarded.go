package datasource

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nongomacoders/stock-analysis-sub001/internal/market"
	"github.com/nongomacoders/stock-analysis-sub001/internal/pkg/circuit"
)

const (
	breakerThreshold = 3
	breakerCooldown  = 30 * time.Second
)

// ErrSourceUnavailable 远端连续失败，熔断期间直接拒绝。
var ErrSourceUnavailable = errors.New("datasource: source unavailable")

// GuardedSource 为远端数据源加熔断；symbol 不存在与 ctx 取消不计失败。
type GuardedSource struct {
	inner   Source
	breaker *circuit.Breaker
}

func NewGuardedSource(inner Source, threshold int, cooldown time.Duration) *GuardedSource {
	b := circuit.New(inner.Name(), threshold, cooldown).Ignore(func(err error) bool {
		return errors.Is(err, ErrSymbolNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	})
	return &GuardedSource{inner: inner, breaker: b}
}

func (g *GuardedSource) Name() string { return g.inner.Name() }

func (g *GuardedSource) Fetch(ctx context.Context, req FetchRequest) ([]market.Bar, error) {
	var bars []market.Bar
	err := g.breaker.Do(func() error {
		var err error
		bars, err = g.inner.Fetch(ctx, req)
		return err
	})
	if errors.Is(err, circuit.ErrOpen) {
		return nil, fmt.Errorf("%w: %s", ErrSourceUnavailable, g.inner.Name())
	}
	return bars, err
}
