// Package circuit 在远端行情源连续失败后短路请求，冷却期后半开试探。
package circuit

import (
	"errors"
	"sync"
	"time"

	"github.com/nongomacoders/stock-analysis-sub001/internal/logger"
)

// ErrOpen 熔断打开期间直接拒绝。
var ErrOpen = errors.New("circuit open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

// Breaker 连续 threshold 次失败后打开，cooldown 后放行一次试探。
type Breaker struct {
	mu        sync.Mutex
	name      string
	state     State
	failures  int
	threshold int
	cooldown  time.Duration
	openedAt  time.Time
	now       func() time.Time
	ignore    func(error) bool
}

// New threshold<=0 时取 1。
func New(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		ignore:    func(error) bool { return false },
	}
}

// Ignore 设置不计入失败次数的错误（如 symbol 不存在、ctx 取消）。
func (b *Breaker) Ignore(fn func(error) bool) *Breaker {
	if fn != nil {
		b.ignore = fn
	}
	return b
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Do 在允许时执行 fn 并记录结果；打开状态返回 ErrOpen。
func (b *Breaker) Do(fn func() error) error {
	if !b.allow() {
		return ErrOpen
	}
	err := fn()
	if err == nil || b.ignore(err) {
		b.success()
		return err
	}
	b.failure()
	return err
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.transition(StateHalfOpen)
		return true
	case StateHalfOpen:
		// 半开期间只放行一个试探请求
		return false
	default:
		return true
	}
}

func (b *Breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

func (b *Breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.openedAt = b.now()
		if b.state != StateOpen {
			b.transition(StateOpen)
		}
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	logger.With("circuit").WithField("name", b.name).Warnf("%s -> %s (failures=%d/%d, cooldown=%s)",
		from, to, b.failures, b.threshold, b.cooldown)
}
