package intent

import "IntentChain/internal/identity"

// Sanitize 在意图离开系统边界前擦除支付秘密。持有该意图的代理
// （trustchain 归属一致）拿到原样对象；其余所有调用方拿到深拷贝，
// 其中 paymentSignatureHeader、paymentPayload 被移除，resource、
// accepted、settlementReceipt 保留。纯函数，绝不修改输入。
func Sanitize(i *Intent, caller identity.Identity) *Intent {
	if i == nil {
		return nil
	}
	if caller.IsAgent() && caller.TrustchainID == i.TrustchainID {
		return i
	}

	out := i.Clone()
	if out.Details.X402 != nil {
		out.Details.X402.PaymentSignatureHeader = ""
		out.Details.X402.PaymentPayload = nil
	}
	return out
}
