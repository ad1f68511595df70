package intent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"IntentChain/internal/chain"
	xerrors "IntentChain/internal/errors"
	"IntentChain/internal/identity"
	"IntentChain/internal/observability/alerting"
	"IntentChain/internal/ratelimit"
	"IntentChain/pkg/logger"
)

// DefaultExpiry 是意图创建后等待处理的默认窗口，MaxExpiry 是请求可以
// 指定的上限。
const (
	DefaultExpiry = 24 * time.Hour
	MaxExpiry     = 7 * 24 * time.Hour
)

const (
	defaultListLimit = 50
	maxListLimit     = 100
)

// Service 是意图生命周期的权威入口：创建、状态转移、读取与列表。
// 所有写路径都要求携带已认证的调用方身份，合法性、归属与并发
// 约束在这里集中裁决。
type Service struct {
	store   Store
	events  Publisher
	limiter ratelimit.Limiter
	chains  *chain.Registry
	alerts  alerting.Dispatcher
	now     func() time.Time
	log     *slog.Logger
	audit   *slog.Logger
}

// ServiceOption 定义 Service 的可选配置。
type ServiceOption func(*Service)

// WithClock 覆盖时钟，供测试模拟过期与并发。
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithAlerts 配置告警分发器。意图进入 failed 状态时触发通知。
func WithAlerts(d alerting.Dispatcher) ServiceOption {
	return func(s *Service) { s.alerts = d }
}

// NewService 构造意图服务。
func NewService(store Store, events Publisher, limiter ratelimit.Limiter, chains *chain.Registry, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		events:  events,
		limiter: limiter,
		chains:  chains,
		now:     time.Now,
		log:     logger.Component("intent"),
		audit:   logger.Audit(),
	}
	if s.events == nil {
		s.events = NopPublisher{}
	}
	if s.limiter == nil {
		s.limiter = ratelimit.NopLimiter{}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// CreateRequest 是创建意图的入参。UserID 仅用于遗留的无认证演示
// 路径；代理认证路径下归属完全来自身份，不采信请求体。
type CreateRequest struct {
	Details Details `json:"details"`
	UserID  string  `json:"userId,omitempty"`
	// ExpiresInMinutes 覆盖默认的 24 小时审批窗口，上限 7 天。
	ExpiresInMinutes int `json:"expiresInMinutes,omitempty"`
}

// UpdateRequest 是状态转移的入参。支付字段只在进入 x402 路径的
// 转移里出现，合并进 details.x402 时不会丢弃已有字段。
type UpdateRequest struct {
	Status                 Status              `json:"status"`
	TxHash                 string              `json:"txHash,omitempty"`
	Note                   string              `json:"note,omitempty"`
	PaymentSignatureHeader string              `json:"paymentSignatureHeader,omitempty"`
	PaymentPayload         *X402PaymentPayload `json:"paymentPayload,omitempty"`
	SettlementReceipt      *X402Receipt        `json:"settlementReceipt,omitempty"`
}

// Create 创建一个待审批的意图。代理身份下归属定格为代理所在的
// trustchain；无身份时走遗留演示路径，归属取请求里的 userId。
func (s *Service) Create(ctx context.Context, caller identity.Identity, req CreateRequest) (*Intent, error) {
	if err := s.validateDetails(req.Details); err != nil {
		return nil, err
	}
	expiry := DefaultExpiry
	if req.ExpiresInMinutes != 0 {
		// 先在整数域校验范围，避免超大取值转 Duration 时回绕成小正数。
		if req.ExpiresInMinutes < 1 || req.ExpiresInMinutes > int(MaxExpiry/time.Minute) {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "expiresInMinutes must be between 1 and 10080")
		}
		expiry = time.Duration(req.ExpiresInMinutes) * time.Minute
	}

	var userID, trustchainID, agentID, memberID string
	switch {
	case caller.IsAgent():
		userID = caller.TrustchainID
		trustchainID = caller.TrustchainID
		agentID = caller.MemberID
		memberID = caller.MemberID
	case caller.IsUser():
		return nil, xerrors.New(xerrors.CodeForbidden, "Intents are created by agents, not user sessions")
	default:
		// 遗留演示路径：无认证调用方自带 userId。
		userID = strings.ToLower(strings.TrimSpace(req.UserID))
		if userID == "" {
			userID = "demo-user"
		}
		trustchainID = userID
	}

	allowed, err := s.limiter.Allow(ctx, "intent:"+userID)
	if err != nil {
		s.log.Error("限流检查失败，拒绝创建", slog.String("user", userID), slog.Any("error", err))
		return nil, xerrors.Wrap(xerrors.CodeServiceUnavailable, err, "Service temporarily unavailable")
	}
	if !allowed {
		return nil, xerrors.New(xerrors.CodeRateLimited, "Too many intents, please slow down")
	}

	now := s.now()
	i := &Intent{
		ID:                newIntentID(now),
		UserID:            userID,
		TrustchainID:      trustchainID,
		AgentID:           agentID,
		CreatedByMemberID: memberID,
		Details:           req.Details,
		Status:            StatusPending,
		StatusHistory: []HistoryEntry{
			{Status: StatusPending, At: now.Unix()},
		},
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(expiry).Unix(),
	}
	if err := s.store.Create(ctx, i); err != nil {
		return nil, err
	}

	s.audit.Info("intent_created",
		slog.String("intent_id", i.ID),
		slog.String("user", userID),
		slog.String("agent", agentID))
	s.publish(ctx, i)
	return i.Clone(), nil
}

// UpdateStatus 执行一次状态转移。校验顺序固定：目标状态可识别 →
// 意图存在 → 身份能力 → 归属 → 转移合法 → 条件写。条件写失败返回
// ErrStatusConflict，调用方应重新拉取后再试。
func (s *Service) UpdateStatus(ctx context.Context, caller identity.Identity, intentID string, req UpdateRequest) (*Intent, error) {
	if !IsValidStatus(req.Status) {
		return nil, ErrInvalidStatus(req.Status)
	}

	current, err := s.store.Get(ctx, intentID)
	if err != nil {
		return nil, err
	}

	switch {
	case caller.IsAgent():
		if !AgentMaySet(req.Status) {
			return nil, ErrCapability("agent", AllowedForAgent())
		}
		if current.TrustchainID != caller.TrustchainID {
			return nil, xerrors.New(xerrors.CodeForbidden, "You can only update intents on your own trustchain")
		}
	case caller.IsUser():
		if !UserMaySet(req.Status) {
			return nil, ErrCapability("user", AllowedForUser())
		}
		if current.UserID != caller.WalletAddress {
			return nil, xerrors.New(xerrors.CodeForbidden, "You can only update your own intents")
		}
	default:
		return nil, xerrors.New(xerrors.CodeUnauthorized, "Authentication required")
	}

	if !CanTransition(current.Status, req.Status) {
		return nil, ErrIllegalTransition(current.Status, req.Status)
	}

	now := s.now()
	// 过期的意图只允许收束到终态。
	if now.Unix() >= current.ExpiresAt && !IsTerminal(req.Status) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Intent has expired")
	}

	updated := current.Clone()
	updated.Status = req.Status
	updated.StatusHistory = append(updated.StatusHistory, HistoryEntry{
		Status: req.Status,
		At:     now.Unix(),
		Note:   req.Note,
	})
	if req.TxHash != "" {
		updated.Details.TxHash = req.TxHash
	}
	mergeX402(&updated.Details, req)

	if err := s.store.UpdateIfStatus(ctx, intentID, current.Status, updated); err != nil {
		return nil, err
	}

	s.audit.Info("intent_status_changed",
		slog.String("intent_id", intentID),
		slog.String("from", string(current.Status)),
		slog.String("to", string(req.Status)),
		slog.String("caller_kind", callerKind(caller)))
	s.publish(ctx, updated)
	if req.Status == StatusFailed {
		s.alertFailure(ctx, updated, req.Note)
	}
	return updated, nil
}

// Get 返回意图，出边界前按调用方身份擦除支付秘密。只有意图归属方
// 可读。
func (s *Service) Get(ctx context.Context, caller identity.Identity, intentID string) (*Intent, error) {
	i, err := s.store.Get(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if !ownsIntent(caller, i) {
		return nil, xerrors.New(xerrors.CodeForbidden, "You can only read your own intents")
	}
	return Sanitize(i, caller), nil
}

// ListByUser 返回用户名下的意图列表，全部经过擦除。status 非空时只返回
// 该状态的意图。
func (s *Service) ListByUser(ctx context.Context, caller identity.Identity, userID string, status Status, limit int) ([]*Intent, error) {
	if status != "" && !IsValidStatus(status) {
		return nil, ErrInvalidStatus(status)
	}
	userID = strings.ToLower(strings.TrimSpace(userID))
	switch {
	case caller.IsUser():
		if caller.WalletAddress != userID {
			return nil, xerrors.New(xerrors.CodeForbidden, "You can only list your own intents")
		}
	case caller.IsAgent():
		if caller.TrustchainID != userID {
			return nil, xerrors.New(xerrors.CodeForbidden, "You can only list intents on your own trustchain")
		}
	default:
		return nil, xerrors.New(xerrors.CodeUnauthorized, "Authentication required")
	}

	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	items, err := s.store.ListByUser(ctx, userID, status, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*Intent, 0, len(items))
	for _, i := range items {
		out = append(out, Sanitize(i, caller))
	}
	return out, nil
}

// Ping 探测底层存储的可用性。
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Close 释放底层存储与事件通道。
func (s *Service) Close() error {
	_ = s.events.Close()
	_ = s.limiter.Close()
	return s.store.Close()
}

func (s *Service) validateDetails(d Details) error {
	if strings.TrimSpace(d.Token) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "Token is required")
	}
	if strings.TrimSpace(d.Recipient) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "Recipient is required")
	}
	if _, err := identity.NormalizeAddress(d.Recipient); err != nil {
		return err
	}
	if !validAmount(d.Amount) {
		return xerrors.New(xerrors.CodeInvalidArgument, "Amount must be a positive decimal string")
	}
	if s.chains != nil {
		if err := s.chains.Validate(d.ChainID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, i *Intent) {
	ev := Event{
		IntentID:     i.ID,
		UserID:       i.UserID,
		TrustchainID: i.TrustchainID,
		Status:       i.Status,
		At:           s.now().Unix(),
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn("事件发布失败", slog.String("intent_id", i.ID), slog.Any("error", err))
	}
}

// alertFailure 把失败的意图广播给告警渠道。通知失败只记日志，不影响
// 已提交的状态转移。
func (s *Service) alertFailure(ctx context.Context, i *Intent, note string) {
	if s.alerts == nil {
		return
	}
	message := note
	if message == "" {
		message = "Intent execution failed"
	}
	ev := alerting.Event{
		Code:       xerrors.CodeUnknown,
		Message:    message,
		Severity:   xerrors.AttributesOf(xerrors.CodeUnknown).Severity,
		IntentID:   i.ID,
		UserID:     i.UserID,
		Status:     string(i.Status),
		OccurredAt: s.now(),
	}
	if err := s.alerts.Notify(ctx, ev); err != nil {
		s.log.Warn("告警发送失败", slog.String("intent_id", i.ID), slog.Any("error", err))
	}
}

// mergeX402 将请求携带的支付字段合并进 details.x402，不触碰已有值。
func mergeX402(d *Details, req UpdateRequest) {
	if req.PaymentSignatureHeader == "" && req.PaymentPayload == nil && req.SettlementReceipt == nil {
		return
	}
	if d.X402 == nil {
		d.X402 = &X402Details{}
	}
	if req.PaymentSignatureHeader != "" {
		d.X402.PaymentSignatureHeader = req.PaymentSignatureHeader
	}
	if req.PaymentPayload != nil {
		p := *req.PaymentPayload
		d.X402.PaymentPayload = &p
	}
	if req.SettlementReceipt != nil {
		r := *req.SettlementReceipt
		d.X402.SettlementReceipt = &r
	}
}

func ownsIntent(caller identity.Identity, i *Intent) bool {
	if caller.IsAgent() {
		return i.TrustchainID == caller.TrustchainID
	}
	if caller.IsUser() {
		return i.UserID == caller.WalletAddress
	}
	return false
}

func callerKind(caller identity.Identity) string {
	switch {
	case caller.IsAgent():
		return "agent"
	case caller.IsUser():
		return "user"
	default:
		return "anonymous"
	}
}

// validAmount 校验十进制金额字符串：非空、至多一个小数点、全数字、
// 不为零。
func validAmount(amount string) bool {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return false
	}
	dots := 0
	digits := 0
	nonZero := false
	for _, r := range amount {
		switch {
		case r == '.':
			dots++
			if dots > 1 {
				return false
			}
		case r >= '0' && r <= '9':
			digits++
			if r != '0' {
				nonZero = true
			}
		default:
			return false
		}
	}
	return digits > 0 && nonZero
}

func newIntentID(now time.Time) string {
	return fmt.Sprintf("int_%d_%s", now.UnixMilli(), uuid.NewString()[:8])
}
