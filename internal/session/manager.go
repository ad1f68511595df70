package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"IntentChain/internal/agentauth"
	xerrors "IntentChain/internal/errors"
	"IntentChain/internal/identity"
	"IntentChain/pkg/logger"
)

// ChallengeTTL 是挑战的有效期。
const ChallengeTTL = 300 * time.Second

// SessionTTL 是会话的有效期。
const SessionTTL = 7 * 24 * time.Hour

// Manager 负责钱包挑战-应答登录的完整流程：签发挑战、验证签名并建立
// 会话、按会话 ID 还原用户身份。
type Manager struct {
	store     Store
	appDomain string
	now       func() time.Time
	log       *slog.Logger
	audit     *slog.Logger
}

// Option 定义 Manager 的可选配置。
type Option func(*Manager)

// WithClock 覆盖时钟，供测试模拟过期与并发消费。
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager 构造会话管理器。appDomain 会出现在挑战消息中，
// 供用户在钱包里确认登录目标。
func NewManager(store Store, appDomain string, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		appDomain: appDomain,
		now:       time.Now,
		log:       logger.Component("session"),
		audit:     logger.Audit(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// IssueChallenge 为指定钱包签发一次性挑战，返回挑战记录与待签名消息。
// 消息由服务端字段重建，客户端提交的任何消息文本都不会被采信。
func (m *Manager) IssueChallenge(ctx context.Context, walletAddress string, chainID int64) (*Challenge, string, error) {
	addr, err := identity.NormalizeAddress(walletAddress)
	if err != nil {
		return nil, "", err
	}

	now := m.now().Unix()
	c := &Challenge{
		ID:            uuid.NewString(),
		WalletAddress: addr,
		Nonce:         uuid.NewString(),
		ChainID:       chainID,
		IssuedAt:      now,
		ExpiresAt:     now + int64(ChallengeTTL/time.Second),
	}
	if err := m.store.CreateChallenge(ctx, c); err != nil {
		return nil, "", err
	}

	m.log.Info("已签发登录挑战",
		slog.String("challenge_id", c.ID),
		slog.String("wallet", addr))
	return c, BuildChallengeMessage(m.appDomain, c.Nonce), nil
}

// VerifyAndEstablishSession 校验钱包对挑战消息的签名并建立会话。
// 顺序保证两件事：签名校验在消费之前，签名错误不会烧掉挑战；
// 消费是原子条件更新，并发验证恰好产生一个会话。
func (m *Manager) VerifyAndEstablishSession(ctx context.Context, challengeID, signature string) (*Session, error) {
	c, err := m.store.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}

	now := m.now().Unix()
	if c.UsedAt != 0 || c.ExpiresAt <= now {
		return nil, ErrChallengeConsumed
	}

	message := BuildChallengeMessage(m.appDomain, c.Nonce)
	recovered, err := agentauth.RecoverPersonalSigner(message, signature)
	if err != nil {
		m.log.Warn("挑战签名恢复失败",
			slog.String("challenge_id", challengeID),
			slog.String("cause", err.Error()))
		return nil, ErrSignatureMismatch
	}
	if recovered != c.WalletAddress {
		m.log.Warn("挑战签名地址不匹配",
			slog.String("challenge_id", challengeID),
			slog.String("expected", c.WalletAddress),
			slog.String("recovered", recovered))
		return nil, ErrSignatureMismatch
	}

	if err := m.store.ConsumeChallenge(ctx, challengeID, now); err != nil {
		return nil, err
	}

	sess := &Session{
		ID:            uuid.NewString(),
		WalletAddress: c.WalletAddress,
		CreatedAt:     now,
		ExpiresAt:     now + int64(SessionTTL/time.Second),
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	m.audit.Info("wallet_login",
		slog.String("wallet", c.WalletAddress),
		slog.String("session_id", sess.ID))
	return sess, nil
}

// RequireSession 按会话 ID 还原用户身份。不存在或已过期均返回
// ErrUnauthorized。
func (m *Manager) RequireSession(ctx context.Context, sessionID string) (identity.Identity, error) {
	if sessionID == "" {
		return identity.Identity{}, ErrUnauthorized
	}
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeUnauthorized {
			return identity.Identity{}, err
		}
		return identity.Identity{}, ErrUnauthorized
	}
	if sess.ExpiresAt <= m.now().Unix() {
		return identity.Identity{}, ErrUnauthorized
	}
	return identity.User(sess.WalletAddress), nil
}

// RevokeSession 删除会话，幂等。
func (m *Manager) RevokeSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return m.store.DeleteSession(ctx, sessionID)
}

// Close 释放底层存储。
func (m *Manager) Close() error {
	return m.store.Close()
}
