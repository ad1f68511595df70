package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter 是创建类操作前必须咨询的计数器。检查本身出错时调用方必须
// fail-closed（拒绝请求），因此 Allow 将错误与拒绝分开返回。
type Limiter interface {
	// Allow 对 key 记一次访问，返回本窗口内是否仍然允许。
	Allow(ctx context.Context, key string) (bool, error)
	Close() error
}

// NopLimiter 永远放行，用于关闭限流的部署。
type NopLimiter struct{}

// Allow 实现 Limiter 接口。
func (NopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close 实现 Limiter 接口。
func (NopLimiter) Close() error { return nil }

// MemoryLimiter 以固定窗口计数实现限流，主要用于测试与单机部署。
type MemoryLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	windows map[string]*fixedWindow
}

type fixedWindow struct {
	start time.Time
	count int
}

// NewMemoryLimiter 创建内存限流器。
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &MemoryLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		windows: make(map[string]*fixedWindow),
	}
}

// WithClock 覆盖时钟，供测试模拟窗口推进。
func (l *MemoryLimiter) WithClock(now func() time.Time) *MemoryLimiter {
	l.now = now
	return l
}

// Allow 实现 Limiter 接口。
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	win, ok := l.windows[key]
	if !ok || now.Sub(win.start) >= l.window {
		win = &fixedWindow{start: now}
		l.windows[key] = win
	}
	win.count++
	return win.count <= l.limit, nil
}

// Close 实现 Limiter 接口。
func (l *MemoryLimiter) Close() error {
	l.mu.Lock()
	l.windows = make(map[string]*fixedWindow)
	l.mu.Unlock()
	return nil
}

var (
	_ Limiter = (*MemoryLimiter)(nil)
	_ Limiter = NopLimiter{}
)
