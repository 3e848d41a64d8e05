package httpx

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer 保证同一个 host 的两次调用之间至少间隔 Delay。
//
// 约束：
// - 每个 host 一个 limiter（rate.Every(delay)，burst=1）
// - 第一次调用不等待
// - nil Pacer 或 Delay<=0 时不做任何等待
type Pacer struct {
	delay time.Duration

	mu    sync.Mutex
	hosts map[string]*rate.Limiter
}

func NewPacer(delay time.Duration) *Pacer {
	return &Pacer{delay: delay, hosts: map[string]*rate.Limiter{}}
}

func (p *Pacer) Delay() time.Duration {
	if p == nil {
		return 0
	}
	return p.delay
}

// Wait 阻塞直到该 host 允许下一次调用，或 ctx 结束。
func (p *Pacer) Wait(ctx context.Context, host string) error {
	if p == nil || p.delay <= 0 {
		return ctx.Err()
	}
	return p.limiter(host).Wait(ctx)
}

func (p *Pacer) limiter(host string) *rate.Limiter {
	host = strings.ToLower(strings.TrimSpace(host))
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.hosts[host]
	if !ok {
		l = rate.NewLimiter(rate.Every(p.delay), 1)
		p.hosts[host] = l
	}
	return l
}
