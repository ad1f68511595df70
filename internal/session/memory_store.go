package session

import (
	"context"
	"sync"

	xerrors "IntentChain/internal/errors"
)

// MemoryStore 以内存方式保存挑战与会话，主要用于测试。
type MemoryStore struct {
	mu         sync.Mutex
	challenges map[string]*Challenge
	sessions   map[string]*Session
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		challenges: make(map[string]*Challenge),
		sessions:   make(map[string]*Session),
	}
}

// CreateChallenge 实现 Store 接口。
func (s *MemoryStore) CreateChallenge(_ context.Context, c *Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c == nil || c.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "挑战 ID 不能为空")
	}
	if _, ok := s.challenges[c.ID]; ok {
		return xerrors.New(xerrors.CodeStorageFailure, "挑战 ID 重复")
	}
	s.challenges[c.ID] = cloneChallenge(c)
	return nil
}

// GetChallenge 实现 Store 接口。
func (s *MemoryStore) GetChallenge(_ context.Context, id string) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[id]
	if !ok {
		return nil, ErrChallengeConsumed
	}
	return cloneChallenge(c), nil
}

// ConsumeChallenge 实现 Store 接口。持锁完成检查与标记，保证并发下
// 只有一个调用方成功。
func (s *MemoryStore) ConsumeChallenge(_ context.Context, id string, now int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[id]
	if !ok || c.UsedAt != 0 || c.ExpiresAt <= now {
		return ErrChallengeConsumed
	}
	c.UsedAt = now
	return nil
}

// CreateSession 实现 Store 接口。
func (s *MemoryStore) CreateSession(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess == nil || sess.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}
	s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

// GetSession 实现 Store 接口。
func (s *MemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrUnauthorized
	}
	return cloneSession(sess), nil
}

// DeleteSession 实现 Store 接口。
func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Close 对内存存储无需操作。
func (s *MemoryStore) Close() error {
	return nil
}

// SessionCount 返回当前会话数量，供测试断言并发语义。
func (s *MemoryStore) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

var _ Store = (*MemoryStore)(nil)
