package member

import (
	"context"
	"time"

	xerrors "IntentChain/internal/errors"
)

// Member 描述注册在某个 trustchain 下的代理签名身份。
// PublicKeyAddress 是代理签名私钥对应的账户地址，同一地址最多存在一条
// 未撤销的记录。撤销是单向操作，记录永不删除。
type Member struct {
	ID               string `json:"id"`
	TrustchainID     string `json:"trustchainId"`
	PublicKeyAddress string `json:"publicKeyAddress"`
	Label            string `json:"label"`
	CreatedAt        int64  `json:"createdAt"`
	RevokedAt        int64  `json:"revokedAt,omitempty"`
}

// Active 判断成员是否仍然有效。
func (m *Member) Active() bool {
	return m != nil && m.RevokedAt == 0
}

// Directory 是认证路径消费的只读成员目录。
type Directory interface {
	// FindActiveByAddress 按规范化地址查找未撤销的成员，找不到返回 ErrMemberNotFound。
	FindActiveByAddress(ctx context.Context, address string) (*Member, error)
	// FindByID 按 ID 查找成员（含已撤销）。
	FindByID(ctx context.Context, id string) (*Member, error)
}

// Store 在 Directory 之上增加注册与撤销能力。实现必须保证并发安全，
// 且 Create 在已存在同地址活跃成员时返回 ErrMemberConflict。
type Store interface {
	Directory
	Create(ctx context.Context, m *Member) error
	// Revoke 将成员标记为撤销并返回更新后的记录；已撤销或不存在返回 ErrMemberNotFound。
	Revoke(ctx context.Context, id string, revokedAt int64) (*Member, error)
	ListByTrustchain(ctx context.Context, trustchainID string) ([]*Member, error)
	Close() error
}

var (
	// ErrMemberNotFound 表示成员不存在或已撤销。
	ErrMemberNotFound = xerrors.New(xerrors.CodeNotFound, "Agent not found")
	// ErrMemberConflict 表示该公钥地址已存在活跃成员。
	ErrMemberConflict = xerrors.New(CodeMemberConflict, "This agent public key is already registered")
)

// CodeMemberConflict 是成员唯一性冲突的错误码。
const CodeMemberConflict xerrors.Code = "MEMBER_CONFLICT"

func init() {
	xerrors.Register(CodeMemberConflict, xerrors.Attributes{
		Message:   "agent public key already registered",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

func nowUnix() int64 {
	return time.Now().Unix()
}

func cloneMember(m *Member) *Member {
	if m == nil {
		return nil
	}
	clone := *m
	return &clone
}
