package identity

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	xerrors "IntentChain/internal/errors"
)

// Kind 区分调用方身份的种类。
type Kind string

const (
	// KindAgent 表示通过 AgentAuth 签名头认证的自动化代理。
	KindAgent Kind = "agent"
	// KindUser 表示通过会话 Cookie 认证的人类钱包。
	KindUser Kind = "user"
)

// Identity 是每次请求经过认证后得到的调用方身份。
// Agent 身份携带 MemberID 与 TrustchainID；User 身份携带 WalletAddress。
type Identity struct {
	Kind          Kind
	MemberID      string
	TrustchainID  string
	WalletAddress string
}

// Agent 构造一个代理身份。
func Agent(memberID, trustchainID string) Identity {
	return Identity{Kind: KindAgent, MemberID: memberID, TrustchainID: trustchainID}
}

// User 构造一个钱包用户身份。
func User(walletAddress string) Identity {
	return Identity{Kind: KindUser, WalletAddress: strings.ToLower(walletAddress)}
}

// IsAgent 判断身份是否为代理。
func (id Identity) IsAgent() bool {
	return id.Kind == KindAgent
}

// IsUser 判断身份是否为钱包用户。
func (id Identity) IsUser() bool {
	return id.Kind == KindUser
}

// NormalizeAddress 校验并规范化钱包地址（小写十六进制）。
func NormalizeAddress(addr string) (string, error) {
	trimmed := strings.TrimSpace(addr)
	if !common.IsHexAddress(trimmed) {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "Invalid wallet address")
	}
	return strings.ToLower(trimmed), nil
}
