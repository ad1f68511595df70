package identity

import "context"

// identityKey 是上下文中存储 Identity 的键类型。
type identityKey struct{}

// WithIdentity 将经过认证的调用方身份存储到上下文中。
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext 从上下文中提取调用方身份。
func FromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
