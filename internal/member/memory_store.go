package member

import (
	"context"
	"sort"
	"sync"

	xerrors "IntentChain/internal/errors"
)

// MemoryStore 以内存方式保存成员记录，主要用于测试与开发环境。
type MemoryStore struct {
	mu      sync.RWMutex
	members map[string]*Member
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{members: make(map[string]*Member)}
}

// Create 实现 Store 接口。
func (s *MemoryStore) Create(_ context.Context, m *Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "member 不能为空")
	}
	if m.ID == "" || m.PublicKeyAddress == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "成员 ID 与公钥地址不能为空")
	}
	if _, ok := s.members[m.ID]; ok {
		return ErrMemberConflict
	}
	for _, existing := range s.members {
		if existing.Active() && existing.PublicKeyAddress == m.PublicKeyAddress {
			return ErrMemberConflict
		}
	}
	s.members[m.ID] = cloneMember(m)
	return nil
}

// FindActiveByAddress 实现 Directory 接口。
func (s *MemoryStore) FindActiveByAddress(_ context.Context, address string) (*Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.members {
		if m.Active() && m.PublicKeyAddress == address {
			return cloneMember(m), nil
		}
	}
	return nil, ErrMemberNotFound
}

// FindByID 实现 Directory 接口。
func (s *MemoryStore) FindByID(_ context.Context, id string) (*Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[id]
	if !ok {
		return nil, ErrMemberNotFound
	}
	return cloneMember(m), nil
}

// Revoke 实现 Store 接口。撤销是单向的，重复撤销视同不存在。
func (s *MemoryStore) Revoke(_ context.Context, id string, revokedAt int64) (*Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	if !ok || !m.Active() {
		return nil, ErrMemberNotFound
	}
	m.RevokedAt = revokedAt
	return cloneMember(m), nil
}

// ListByTrustchain 返回某个 trustchain 下的全部成员（含已撤销），按创建时间倒序。
func (s *MemoryStore) ListByTrustchain(_ context.Context, trustchainID string) ([]*Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Member, 0)
	for _, m := range s.members {
		if m.TrustchainID == trustchainID {
			result = append(result, cloneMember(m))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt == result[j].CreatedAt {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt > result[j].CreatedAt
	})
	return result, nil
}

// Close 对内存存储无需操作。
func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
