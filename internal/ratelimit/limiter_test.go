package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAcquireAndRelease(t *testing.T) {
	l := NewDomainLimiter(Options{RequestsPerSecond: 100, Burst: 10, MaxConcurrent: 1})

	release, err := l.Acquire(context.Background(), "a.example.com")
	if err != nil {
		t.Fatalf("首次 Acquire 失败: %v", err)
	}
	release()
	// release 幂等：重复调用不应使并发计数失衡。
	release()

	release2, err := l.Acquire(context.Background(), "a.example.com")
	if err != nil {
		t.Fatalf("释放后再次 Acquire 失败: %v", err)
	}
	release2()
}

func TestDomainsAreIndependent(t *testing.T) {
	l := NewDomainLimiter(Options{RequestsPerSecond: 100, Burst: 10, MaxConcurrent: 1})

	// 占满 a 域名的并发槽位，不释放。
	if _, err := l.Acquire(context.Background(), "a.example.com"); err != nil {
		t.Fatalf("占用 a 的槽位失败: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// b 域名应立即获得槽位，不受 a 的饱和影响。
	release, err := l.Acquire(ctx, "b.example.com")
	if err != nil {
		t.Fatalf("b 域名应不受 a 影响: %v", err)
	}
	release()
}

func TestAcquireBlocksWhenSaturated(t *testing.T) {
	l := NewDomainLimiter(Options{RequestsPerSecond: 100, Burst: 10, MaxConcurrent: 1})

	if _, err := l.Acquire(context.Background(), "a.example.com"); err != nil {
		t.Fatalf("占用槽位失败: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if _, err := l.Acquire(ctx, "a.example.com"); err == nil {
		t.Fatalf("槽位占满时 Acquire 应阻塞直至超时")
	}
}

func TestAcquireRespectsContextCancel(t *testing.T) {
	l := NewDomainLimiter(Options{RequestsPerSecond: 0.001, Burst: 1, MaxConcurrent: 2})

	// 耗尽令牌桶。
	release, err := l.Acquire(context.Background(), "a.example.com")
	if err != nil {
		t.Fatalf("首次 Acquire 失败: %v", err)
	}
	release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := l.Acquire(ctx, "a.example.com"); err == nil {
		t.Fatalf("已取消的 ctx 应使 Acquire 失败")
	}
}

func TestZeroOptionsFallBackToDefaults(t *testing.T) {
	l := NewDomainLimiter(Options{})
	release, err := l.Acquire(context.Background(), "a.example.com")
	if err != nil {
		t.Fatalf("默认配置下 Acquire 应成功: %v", err)
	}
	release()
}
