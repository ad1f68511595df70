package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLimiterFixedWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter := NewMemoryLimiter(3, time.Minute).WithClock(func() time.Time { return now })

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "user-a")
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !allowed {
			t.Fatalf("第 %d 次请求不应被限流", i+1)
		}
	}

	allowed, err := limiter.Allow(ctx, "user-a")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if allowed {
		t.Fatal("超出配额后应被限流")
	}

	// 其他 key 不受影响。
	if allowed, _ := limiter.Allow(ctx, "user-b"); !allowed {
		t.Fatal("不同 key 应独立计数")
	}

	// 窗口推进后计数重置。
	now = now.Add(time.Minute)
	if allowed, _ := limiter.Allow(ctx, "user-a"); !allowed {
		t.Fatal("新窗口内应重新放行")
	}
}

func TestNopLimiterAlwaysAllows(t *testing.T) {
	limiter := NopLimiter{}
	for i := 0; i < 100; i++ {
		allowed, err := limiter.Allow(context.Background(), "any")
		if err != nil || !allowed {
			t.Fatalf("NopLimiter 应永远放行: allowed=%v err=%v", allowed, err)
		}
	}
}
