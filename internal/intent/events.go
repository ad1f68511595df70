package intent

import (
	"context"
	"sync"
)

// Event 是一次状态变更的通知，投递给下游消费者（通知、对账等）。
type Event struct {
	IntentID     string `json:"intentId"`
	UserID       string `json:"userId"`
	TrustchainID string `json:"trustChainId"`
	Status       Status `json:"status"`
	At           int64  `json:"at"`
}

// Publisher 定义事件投递接口。投递是尽力而为的：发布失败只记日志，
// 不回滚已经落库的状态变更。
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// NopPublisher 丢弃所有事件。
type NopPublisher struct{}

// Publish 实现 Publisher 接口。
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Close 实现 Publisher 接口。
func (NopPublisher) Close() error { return nil }

// MemoryPublisher 在进程内记录事件，用于开发环境与测试断言。
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryPublisher 创建内存事件通道。
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish 记录事件。
func (p *MemoryPublisher) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

// Events 返回已记录事件的副本。
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Close 实现 Publisher 接口。
func (p *MemoryPublisher) Close() error { return nil }

var (
	_ Publisher = NopPublisher{}
	_ Publisher = (*MemoryPublisher)(nil)
)
