package agentauth

import (
	"crypto/ecdsa"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// EmptyBodyHash 是 GET/HEAD 请求在签名消息中使用的占位哈希。
const EmptyBodyHash = "0x"

// BodyHash 计算请求体在签名消息中使用的哈希段。
func BodyHash(method string, body []byte) string {
	if method == http.MethodGet || method == http.MethodHead {
		return EmptyBodyHash
	}
	return hexutil.Encode(crypto.Keccak256(body))
}

// BuildHeader 用代理私钥构造完整的 Authorization 头。服务端不使用该函数，
// 它服务于 SDK 调用方与测试。
func BuildHeader(key *ecdsa.PrivateKey, method string, body []byte, now time.Time) (string, error) {
	timestamp := fmt.Sprintf("%d", now.Unix())
	message := timestamp + "." + BodyHash(method, body)

	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		return "", fmt.Errorf("签名 AgentAuth 消息失败: %w", err)
	}
	// 与钱包输出保持一致，V 使用 27/28。
	sig[crypto.RecoveryIDOffset] += 27

	return fmt.Sprintf("%s %s.%s", Scheme, message, hexutil.Encode(sig)), nil
}
