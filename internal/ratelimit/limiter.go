// Package ratelimit 提供按域名隔离的出站限速：每个域名独享
// 令牌桶与并发额度，慢源站不会拖累其他源站的抓取。
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/skoldata/skoldata/internal/metrics"
)

// Options 描述单个域名的预算；零值字段回退到保守默认。
type Options struct {
	RequestsPerSecond float64
	Burst             int
	MaxConcurrent     int
	Recorder          *metrics.Recorder
}

// DomainLimiter 按域名惰性创建并复用限速器。
type DomainLimiter struct {
	mu       sync.Mutex
	domains  map[string]*domainBudget
	opts     Options
	recorder *metrics.Recorder
}

type domainBudget struct {
	limiter *rate.Limiter
	slots   chan struct{}
}

// NewDomainLimiter 创建按域名限速器。
func NewDomainLimiter(opts Options) *DomainLimiter {
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 1
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	return &DomainLimiter{
		domains:  make(map[string]*domainBudget),
		opts:     opts,
		recorder: opts.Recorder,
	}
}

func (l *DomainLimiter) budget(domain string) *domainBudget {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.domains[domain]
	if !ok {
		b = &domainBudget{
			limiter: rate.NewLimiter(rate.Limit(l.opts.RequestsPerSecond), l.opts.Burst),
			slots:   make(chan struct{}, l.opts.MaxConcurrent),
		}
		l.domains[domain] = b
	}
	return b
}

// Acquire 阻塞到 domain 同时拿到并发槽位与令牌，或 ctx 取消。
// 成功时返回的 release 必须在请求结束后调用，且幂等无害。
func (l *DomainLimiter) Acquire(ctx context.Context, domain string) (func(), error) {
	b := l.budget(domain)
	start := time.Now()

	select {
	case b.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := b.limiter.Wait(ctx); err != nil {
		<-b.slots
		return nil, err
	}

	l.recorder.LimiterWait(time.Since(start).Seconds())

	var once sync.Once
	release := func() {
		once.Do(func() { <-b.slots })
	}
	return release, nil
}
