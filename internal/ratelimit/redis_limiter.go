package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig 描述 Redis 限流器的连接参数。
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	Limit     int
	Window    time.Duration
}

// RedisLimiter 使用 Redis INCR + EXPIRE 实现跨实例共享的固定窗口计数。
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

// NewRedisLimiter 创建 Redis 限流器实例。
func NewRedisLimiter(cfg RedisConfig) (*RedisLimiter, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "intentchain:ratelimit"
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = 60
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisLimiter{client: client, prefix: prefix, limit: limit, window: window}, nil
}

// Allow 实现 Limiter 接口。计数器检查失败时返回错误，由调用方 fail-closed。
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	counter := l.prefix + ":" + key
	count, err := l.client.Incr(ctx, counter).Result()
	if err != nil {
		return false, fmt.Errorf("Redis 限流计数失败: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, counter, l.window).Err(); err != nil {
			return false, fmt.Errorf("Redis 设置限流窗口失败: %w", err)
		}
	}
	return count <= int64(l.limit), nil
}

// Close 关闭 Redis 连接。
func (l *RedisLimiter) Close() error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Close()
}

var _ Limiter = (*RedisLimiter)(nil)
