package intent

import (
	"fmt"
	"sort"
	"strings"

	xerrors "IntentChain/internal/errors"
)

// Status 表示意图在生命周期中的位置。
type Status string

const (
	// StatusPending 代理已提交、等待用户审批。
	StatusPending Status = "pending"
	// StatusApproved 用户已批准转账。
	StatusApproved Status = "approved"
	// StatusBroadcasting 交易已由用户签名并广播，直接上链路径。
	StatusBroadcasting Status = "broadcasting"
	// StatusAuthorized 用户已签署 x402 支付授权，等待代理执行。
	StatusAuthorized Status = "authorized"
	// StatusExecuting 代理正在结算 x402 支付。
	StatusExecuting Status = "executing"
	// StatusConfirmed 转账已在链上确认，终态。
	StatusConfirmed Status = "confirmed"
	// StatusRejected 用户拒绝了转账，终态。
	StatusRejected Status = "rejected"
	// StatusFailed 广播或结算失败，终态。
	StatusFailed Status = "failed"
	// StatusExpired 意图超时未处理，终态。
	StatusExpired Status = "expired"
)

// transitions 是唯一权威的状态转移表。broadcasting/confirmed 分支
// 服务直接上链转账，authorized/executing 分支服务 x402 支付授权。
// approved 不能直接到 confirmed，必须经过其中一条路径。
var transitions = map[Status][]Status{
	StatusPending:      {StatusApproved, StatusRejected, StatusExpired},
	StatusApproved:     {StatusBroadcasting, StatusRejected},
	StatusBroadcasting: {StatusAuthorized, StatusConfirmed, StatusFailed},
	StatusAuthorized:   {StatusExecuting, StatusFailed},
	StatusExecuting:    {StatusConfirmed, StatusFailed},
	StatusConfirmed:    nil,
	StatusRejected:     nil,
	StatusFailed:       nil,
	StatusExpired:      nil,
}

// agentStatuses 是代理身份允许设置的目标状态。
var agentStatuses = map[Status]bool{
	StatusExecuting: true,
	StatusConfirmed: true,
	StatusFailed:    true,
}

// userStatuses 是用户会话身份允许设置的目标状态。
var userStatuses = map[Status]bool{
	StatusApproved:     true,
	StatusRejected:     true,
	StatusAuthorized:   true,
	StatusBroadcasting: true,
}

// IsValidStatus 判断给定值是否为可识别的状态。
func IsValidStatus(s Status) bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal 判断状态是否为终态。
func IsTerminal(s Status) bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// CanTransition 判断 from 到 to 是否为合法转移。
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AgentMaySet 判断代理是否可以设置目标状态。
func AgentMaySet(s Status) bool { return agentStatuses[s] }

// UserMaySet 判断用户是否可以设置目标状态。
func UserMaySet(s Status) bool { return userStatuses[s] }

// AllowedForAgent 返回代理可设置状态的有序列表，用于 Forbidden 提示。
func AllowedForAgent() []string { return sortedStatuses(agentStatuses) }

// AllowedForUser 返回用户可设置状态的有序列表，用于 Forbidden 提示。
func AllowedForUser() []string { return sortedStatuses(userStatuses) }

func sortedStatuses(set map[Status]bool) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, string(s))
	}
	sort.Strings(out)
	return out
}

// ErrInvalidStatus 构造无法识别状态值的错误。
func ErrInvalidStatus(s Status) error {
	return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("Unknown intent status: %q", s))
}

// ErrIllegalTransition 构造非法转移的错误。
func ErrIllegalTransition(from, to Status) error {
	return xerrors.New(xerrors.CodeInvalidArgument,
		fmt.Sprintf("Illegal status transition: %s -> %s", from, to))
}

// ErrCapability 构造身份能力不足的错误，消息列出该身份允许的状态集。
func ErrCapability(kind string, allowed []string) error {
	return xerrors.New(xerrors.CodeForbidden,
		fmt.Sprintf("A %s may only set status to one of: %s", kind, strings.Join(allowed, ", ")))
}

// X402Resource 描述被付费访问的资源。
type X402Resource struct {
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`
}

// X402Accepted 描述资源方接受的支付条款。
type X402Accepted struct {
	Network string `json:"network,omitempty"`
	Asset   string `json:"asset,omitempty"`
	Amount  string `json:"amount,omitempty"`
	PayTo   string `json:"payTo,omitempty"`
}

// TransferAuthorization 是 EIP-3009 transferWithAuthorization 的参数。
type TransferAuthorization struct {
	From        string `json:"from,omitempty"`
	To          string `json:"to,omitempty"`
	Value       string `json:"value,omitempty"`
	ValidAfter  int64  `json:"validAfter,omitempty"`
	ValidBefore int64  `json:"validBefore,omitempty"`
	Nonce       string `json:"nonce,omitempty"`
}

// X402PaymentPayload 是用户签署的支付授权。Signature 与外层的
// PaymentSignatureHeader 一样属于支付秘密。
type X402PaymentPayload struct {
	Authorization TransferAuthorization `json:"authorization"`
	Signature     string                `json:"signature,omitempty"`
}

// X402Receipt 是支付结算后的公开回执。
type X402Receipt struct {
	TxHash  string `json:"txHash,omitempty"`
	Network string `json:"network,omitempty"`
}

// X402Details 聚合一次 x402 支付的全部字段。秘密字段只对持有意图的
// 代理可见，其余调用方拿到的是经过擦除的副本。字段集合是封闭的，
// 擦除逻辑按字段名逐个处理而不是遍历开放映射。
type X402Details struct {
	Resource *X402Resource `json:"resource,omitempty"`
	Accepted *X402Accepted `json:"accepted,omitempty"`

	// 支付秘密。
	PaymentSignatureHeader string              `json:"paymentSignatureHeader,omitempty"`
	PaymentPayload         *X402PaymentPayload `json:"paymentPayload,omitempty"`

	// 公开回执。
	SettlementReceipt *X402Receipt `json:"settlementReceipt,omitempty"`
}

// Details 描述意图要执行的转账。Amount 使用十进制字符串，避免
// 浮点精度问题。
type Details struct {
	Token     string       `json:"token"`
	Amount    string       `json:"amount"`
	Recipient string       `json:"recipient"`
	ChainID   int64        `json:"chainId"`
	TxHash    string       `json:"txHash,omitempty"`
	X402      *X402Details `json:"x402,omitempty"`
}

// HistoryEntry 是状态历史中的一条记录。
type HistoryEntry struct {
	Status Status `json:"status"`
	At     int64  `json:"at"`
	Note   string `json:"note,omitempty"`
}

// Intent 是一笔等待人类授权的转账提案。StatusHistory 只追加，
// 最后一条的状态恒等于 Status。
type Intent struct {
	ID                string         `json:"id"`
	UserID            string         `json:"userId"`
	TrustchainID      string         `json:"trustChainId"`
	AgentID           string         `json:"agentId,omitempty"`
	CreatedByMemberID string         `json:"createdByMemberId,omitempty"`
	Details           Details        `json:"details"`
	Status            Status         `json:"status"`
	StatusHistory     []HistoryEntry `json:"statusHistory"`
	CreatedAt         int64          `json:"createdAt"`
	ExpiresAt         int64          `json:"expiresAt"`
}

// Clone 返回意图的深拷贝，包括历史与 x402 子结构。
func (i *Intent) Clone() *Intent {
	if i == nil {
		return nil
	}
	out := *i
	out.StatusHistory = make([]HistoryEntry, len(i.StatusHistory))
	copy(out.StatusHistory, i.StatusHistory)
	out.Details.X402 = i.Details.X402.clone()
	return &out
}

func (x *X402Details) clone() *X402Details {
	if x == nil {
		return nil
	}
	out := *x
	if x.Resource != nil {
		r := *x.Resource
		out.Resource = &r
	}
	if x.Accepted != nil {
		a := *x.Accepted
		out.Accepted = &a
	}
	if x.PaymentPayload != nil {
		p := *x.PaymentPayload
		out.PaymentPayload = &p
	}
	if x.SettlementReceipt != nil {
		s := *x.SettlementReceipt
		out.SettlementReceipt = &s
	}
	return &out
}
