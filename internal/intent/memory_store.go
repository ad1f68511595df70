package intent

import (
	"context"
	"sort"
	"sync"

	xerrors "IntentChain/internal/errors"
)

// MemoryStore 是进程内的意图存储，用于开发环境与测试。
type MemoryStore struct {
	mu      sync.RWMutex
	intents map[string]*Intent
}

// NewMemoryStore 创建内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{intents: make(map[string]*Intent)}
}

// Create 保存新意图。
func (s *MemoryStore) Create(_ context.Context, i *Intent) error {
	if i == nil || i.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "意图 ID 不能为空")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.intents[i.ID]; exists {
		return xerrors.New(xerrors.CodeInvalidArgument, "意图 ID 已存在")
	}
	s.intents[i.ID] = i.Clone()
	return nil
}

// Get 返回意图的深拷贝。
func (s *MemoryStore) Get(_ context.Context, id string) (*Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.intents[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	return i.Clone(), nil
}

// UpdateIfStatus 在持锁状态下比较并替换，等价于单行条件 UPDATE。
func (s *MemoryStore) UpdateIfStatus(_ context.Context, id string, expected Status, updated *Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.intents[id]
	if !ok {
		return ErrIntentNotFound
	}
	if current.Status != expected {
		return ErrStatusConflict
	}
	s.intents[id] = updated.Clone()
	return nil
}

// ListByUser 返回用户名下的意图，按创建时间倒序。
func (s *MemoryStore) ListByUser(_ context.Context, userID string, status Status, limit int) ([]*Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Intent, 0)
	for _, i := range s.intents {
		if i.UserID != userID {
			continue
		}
		if status != "" && i.Status != status {
			continue
		}
		out = append(out, i.Clone())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt > out[b].CreatedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping 实现 Store 接口。
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close 实现 Store 接口，无资源可释放。
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
