package intent

import (
	"context"

	xerrors "IntentChain/internal/errors"
)

// ErrIntentNotFound 表示意图不存在。
var ErrIntentNotFound = xerrors.New(xerrors.CodeNotFound, "Intent not found")

// ErrStatusConflict 表示写入时状态已被其它写入方修改。这是唯一
// 期望调用方针对性处理的错误：重新拉取意图后再试。
var ErrStatusConflict = xerrors.New(xerrors.CodeStatusConflict, "Intent status has changed, please refresh")

// Store 定义意图的持久化接口。UpdateIfStatus 是条件写：仅当存储中
// 的当前状态等于 expected 时才以 updated 覆盖记录，否则返回
// ErrStatusConflict。并发转移靠它串行化，恰好一个写入方获胜。
// ListByUser 的 status 为空时不过滤。
type Store interface {
	Create(ctx context.Context, i *Intent) error
	Get(ctx context.Context, id string) (*Intent, error)
	UpdateIfStatus(ctx context.Context, id string, expected Status, updated *Intent) error
	ListByUser(ctx context.Context, userID string, status Status, limit int) ([]*Intent, error)
	Ping(ctx context.Context) error
	Close() error
}
