package member

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	xerrors "IntentChain/internal/errors"
	"IntentChain/internal/identity"
	"IntentChain/internal/ratelimit"
	"IntentChain/pkg/logger"
)

// Service 负责成员的注册、撤销与查询。
type Service struct {
	store   Store
	limiter ratelimit.Limiter
	now     func() int64
	log     *slog.Logger
	audit   *slog.Logger
}

// ServiceOption 定义 Service 的可选配置。
type ServiceOption func(*Service)

// WithClock 覆盖服务时钟，供测试使用。
func WithClock(now func() int64) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService 构造成员服务。
func NewService(store Store, limiter ratelimit.Limiter, opts ...ServiceOption) *Service {
	if limiter == nil {
		limiter = ratelimit.NopLimiter{}
	}
	svc := &Service{
		store:   store,
		limiter: limiter,
		log:     logger.Component("member"),
		audit:   logger.Audit(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

func (s *Service) unix() int64 {
	if s.now != nil {
		return s.now()
	}
	return nowUnix()
}

// RegisterRequest 描述注册一个代理成员所需的字段。
type RegisterRequest struct {
	TrustchainID     string `json:"trustChainId"`
	PublicKeyAddress string `json:"agentPublicKey"`
	Label            string `json:"agentLabel"`
}

// Register 注册一个新的代理成员。限流检查先于任何写入，检查失败按
// fail-closed 拒绝请求。
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Member, error) {
	trustchainID, err := identity.NormalizeAddress(req.TrustchainID)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "trustChainId must be a wallet address")
	}
	address, err := identity.NormalizeAddress(req.PublicKeyAddress)
	if err != nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "agentPublicKey must be a hex-encoded account address (0x-prefixed)")
	}
	label := strings.TrimSpace(req.Label)
	if label == "" {
		label = "Unnamed Agent"
	}

	allowed, err := s.limiter.Allow(ctx, "register:"+trustchainID)
	if err != nil {
		s.log.Error("限流检查失败，按 fail-closed 拒绝注册", slog.Any("error", err))
		return nil, xerrors.Wrap(xerrors.CodeServiceUnavailable, err, "Service temporarily unavailable")
	}
	if !allowed {
		return nil, xerrors.New(xerrors.CodeRateLimited, "Too many registration attempts, try again later")
	}

	m := &Member{
		ID:               uuid.NewString(),
		TrustchainID:     trustchainID,
		PublicKeyAddress: address,
		Label:            label,
		CreatedAt:        s.unix(),
	}
	if err := s.store.Create(ctx, m); err != nil {
		return nil, err
	}
	s.audit.Info("agent_registered",
		slog.String("member_id", m.ID),
		slog.String("trustchain_id", m.TrustchainID),
		slog.String("label", m.Label),
	)
	return m, nil
}

// Revoke 撤销一个成员。调用方钱包必须与成员的 trustchain 一致。
func (s *Service) Revoke(ctx context.Context, memberID string, caller identity.Identity) (*Member, error) {
	if !caller.IsUser() {
		return nil, xerrors.New(xerrors.CodeForbidden, "Only a session-authenticated wallet can revoke agents")
	}
	existing, err := s.store.FindByID(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if existing.TrustchainID != caller.WalletAddress {
		return nil, xerrors.New(xerrors.CodeForbidden, "You can only revoke your own agents")
	}
	revoked, err := s.store.Revoke(ctx, memberID, s.unix())
	if err != nil {
		return nil, err
	}
	s.audit.Info("agent_revoked",
		slog.String("member_id", revoked.ID),
		slog.String("trustchain_id", revoked.TrustchainID),
		slog.String("label", revoked.Label),
	)
	return revoked, nil
}

// Get 返回指定成员，调用方只能查看自己 trustchain 下的成员。
func (s *Service) Get(ctx context.Context, memberID string, caller identity.Identity) (*Member, error) {
	m, err := s.store.FindByID(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if !caller.IsUser() || m.TrustchainID != caller.WalletAddress {
		return nil, xerrors.New(xerrors.CodeForbidden, "You can only view your own agents")
	}
	return m, nil
}

// ListByTrustchain 返回调用方自己 trustchain 下的全部成员。
func (s *Service) ListByTrustchain(ctx context.Context, trustchainID string, caller identity.Identity) ([]*Member, error) {
	normalized := strings.ToLower(strings.TrimSpace(trustchainID))
	if !caller.IsUser() || normalized != caller.WalletAddress {
		return nil, xerrors.New(xerrors.CodeForbidden, "You can only list agents on your own trustchain")
	}
	return s.store.ListByTrustchain(ctx, normalized)
}

// Directory 返回认证路径使用的只读目录视图。
func (s *Service) Directory() Directory {
	return s.store
}

// Close 释放底层资源。
func (s *Service) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}
