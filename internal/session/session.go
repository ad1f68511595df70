package session

import (
	"context"
	"fmt"

	xerrors "IntentChain/internal/errors"
)

// Challenge 是钱包认证时一次性签名的挑战记录。
// 签名对象必须能仅凭 {Nonce, WalletAddress, IssuedAt, ExpiresAt} 逐字节
// 重建，验证阶段不信任客户端回传的任何签名相关字段。
type Challenge struct {
	ID            string `json:"id"`
	WalletAddress string `json:"walletAddress"`
	Nonce         string `json:"nonce"`
	ChainID       int64  `json:"chainId"`
	IssuedAt      int64  `json:"issuedAt"`
	ExpiresAt     int64  `json:"expiresAt"`
	UsedAt        int64  `json:"usedAt,omitempty"`
}

// Session 是挑战验证成功后建立的会话。只读、按时间过期、可显式撤销。
type Session struct {
	ID            string `json:"id"`
	WalletAddress string `json:"walletAddress"`
	CreatedAt     int64  `json:"createdAt"`
	ExpiresAt     int64  `json:"expiresAt"`
}

// Store 抽象挑战与会话的持久化。ConsumeChallenge 必须是条件写：只有
// 尚未使用且未过期的挑战才会被标记，并发争用下恰好一个调用方成功。
type Store interface {
	CreateChallenge(ctx context.Context, c *Challenge) error
	GetChallenge(ctx context.Context, id string) (*Challenge, error)
	// ConsumeChallenge 原子地将挑战标记为已使用。挑战不存在、已使用或
	// 已过期（按 now 判断）都返回 ErrChallengeConsumed。
	ConsumeChallenge(ctx context.Context, id string, now int64) error
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	DeleteSession(ctx context.Context, id string) error
	Close() error
}

var (
	// ErrChallengeConsumed 表示挑战不存在、已被使用或已过期。
	ErrChallengeConsumed = xerrors.New(xerrors.CodeUnauthorized, "Invalid or expired challenge")
	// ErrSignatureMismatch 表示签名者与挑战中的钱包地址不一致。
	ErrSignatureMismatch = xerrors.New(xerrors.CodeUnauthorized, "Signature does not match wallet")
	// ErrUnauthorized 表示会话缺失、不存在或已过期。
	ErrUnauthorized = xerrors.New(xerrors.CodeUnauthorized, "Unauthorized")
)

// BuildChallengeMessage 构造钱包需要签名的欢迎消息。nonce 防止重放，
// 消息在验证阶段由服务端从存储的挑战重建。
func BuildChallengeMessage(appDomain, nonce string) string {
	return fmt.Sprintf("Welcome to %s\n\nNonce: %s", appDomain, nonce)
}

func cloneChallenge(c *Challenge) *Challenge {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

func cloneSession(s *Session) *Session {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}
