package agentauth

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "IntentChain/internal/errors"
	"IntentChain/internal/identity"
	"IntentChain/internal/member"
	"IntentChain/pkg/logger"
)

// Scheme 是 Authorization 头使用的认证方案标识。
// 完整格式：`AgentAuth <timestamp>.<bodyHash>.<signature>`，其中
// timestamp 为 Unix 秒，bodyHash 为请求体原始字节的 keccak256（GET/HEAD
// 为 "0x"），signature 为对字符串 "<timestamp>.<bodyHash>" 的 EIP-191
// personal_sign 签名。
const Scheme = "AgentAuth"

// MaxTimestampDrift 是签名时间戳允许的最大偏移（过去与未来各 5 分钟）。
const MaxTimestampDrift = 300 * time.Second

// ErrAuthenticationFailed 是对外统一的认证失败错误。所有校验分支都返回
// 同一个错误，避免调用方借助差异探测内部状态；真实原因仅进日志。
var ErrAuthenticationFailed = xerrors.New(xerrors.CodeAuthenticationFailed, "Authentication failed")

// Verifier 校验代理每次请求附带的 AgentAuth 签名头。无状态，可并发调用。
type Verifier struct {
	dir member.Directory
	now func() time.Time
	log *slog.Logger
}

// Option 定义 Verifier 的可选配置。
type Option func(*Verifier)

// WithClock 覆盖时钟，供测试模拟时间偏移。
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier 构造 AgentAuth 校验器。
func NewVerifier(dir member.Directory, opts ...Option) *Verifier {
	v := &Verifier{
		dir: dir,
		now: time.Now,
		log: logger.Component("agentauth"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// HasScheme 判断 Authorization 头是否声明了 AgentAuth 方案。
func HasScheme(authorization string) bool {
	return strings.HasPrefix(authorization, Scheme+" ")
}

// Verify 校验签名头并返回认证后的代理身份。method 与 body 必须来自原始
// 请求：body 是未经重新序列化的请求体字节，保证签名绑定到这份负载本身。
func (v *Verifier) Verify(ctx context.Context, method string, body []byte, authorization string) (identity.Identity, error) {
	if authorization == "" {
		return v.fail("缺少 Authorization 头")
	}
	if !HasScheme(authorization) {
		return v.fail("Authorization 方案不是 AgentAuth")
	}

	payload := authorization[len(Scheme)+1:]
	parts := strings.Split(payload, ".")
	if len(parts) < 3 {
		return v.fail("AgentAuth 负载段数不足")
	}
	timestamp := parts[0]
	bodyHash := parts[1]
	// 签名本身可能包含分隔符，从第三段起重新拼接。
	signature := strings.Join(parts[2:], ".")

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return v.fail("时间戳不是合法整数")
	}
	// 比较必须停留在整数秒：换算成 time.Duration 会在极端时间戳上溢出。
	// 取绝对值后仍为负说明减法本身已回绕（ts 接近 int64 边界），同样拒绝。
	drift := v.now().Unix() - ts
	if drift < 0 {
		drift = -drift
	}
	if drift < 0 || drift > int64(MaxTimestampDrift/time.Second) {
		return v.fail("时间戳超出允许偏移窗口")
	}

	if method != http.MethodGet && method != http.MethodHead {
		expected := hexutil.Encode(crypto.Keccak256(body))
		if bodyHash != expected {
			return v.fail("请求体哈希不匹配")
		}
	}

	message := timestamp + "." + bodyHash
	recovered, err := RecoverPersonalSigner(message, signature)
	if err != nil {
		return v.fail("签名恢复失败: " + err.Error())
	}
	if !common.IsHexAddress(recovered) {
		return v.fail("恢复出的地址不合法")
	}

	m, err := v.dir.FindActiveByAddress(ctx, recovered)
	if err != nil {
		// 未注册与已撤销同样按签名错误处理，避免形成探测口。
		return v.fail("地址未注册或已撤销")
	}
	return identity.Agent(m.ID, m.TrustchainID), nil
}

func (v *Verifier) fail(cause string) (identity.Identity, error) {
	v.log.Warn("AgentAuth 认证失败", slog.String("cause", cause))
	return identity.Identity{}, ErrAuthenticationFailed
}

// RecoverPersonalSigner 从 EIP-191 personal_sign 签名中恢复签名者地址，
// 返回小写规范化形式。
func RecoverPersonalSigner(message, signature string) (string, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return "", err
	}
	if len(sig) != crypto.SignatureLength {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "签名长度不合法")
	}
	// 钱包产生的 V 为 27/28，恢复前归一化到 0/1。
	normalized := make([]byte, crypto.SignatureLength)
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), normalized)
	if err != nil {
		return "", err
	}
	return strings.ToLower(crypto.PubkeyToAddress(*pub).Hex()), nil
}
