package intent

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	xerrors "IntentChain/internal/errors"
	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore 使用 MySQL 保存意图。details 与 status_history 存为
// JSON 列，状态条件写依赖 `WHERE status = ?` 加 RowsAffected 裁决。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const stmt = `CREATE TABLE IF NOT EXISTS intents (
        id VARCHAR(64) PRIMARY KEY,
        user_id VARCHAR(64) NOT NULL,
        trustchain_id VARCHAR(64) NOT NULL,
        agent_id VARCHAR(64) NOT NULL DEFAULT '',
        created_by_member_id VARCHAR(64) NOT NULL DEFAULT '',
        details JSON NOT NULL,
        status VARCHAR(32) NOT NULL,
        status_history JSON NOT NULL,
        created_at BIGINT NOT NULL,
        expires_at BIGINT NOT NULL,
        INDEX idx_intent_user (user_id, created_at),
        INDEX idx_intent_trustchain (trustchain_id)
)`
	if _, err := s.db.Exec(stmt); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 intents 表失败")
	}
	return nil
}

// Create 插入新意图。
func (s *MySQLStore) Create(ctx context.Context, i *Intent) error {
	if i == nil || i.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "意图 ID 不能为空")
	}

	details, err := json.Marshal(i.Details)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化意图详情失败")
	}
	history, err := json.Marshal(i.StatusHistory)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化状态历史失败")
	}

	const stmt = `INSERT INTO intents
        (id, user_id, trustchain_id, agent_id, created_by_member_id, details, status, status_history, created_at, expires_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt,
		i.ID, i.UserID, i.TrustchainID, i.AgentID, i.CreatedByMemberID,
		details, string(i.Status), history, i.CreatedAt, i.ExpiresAt,
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入意图失败")
	}
	return nil
}

// Get 查询意图。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Intent, error) {
	const stmt = `SELECT id, user_id, trustchain_id, agent_id, created_by_member_id,
        details, status, status_history, created_at, expires_at
        FROM intents WHERE id = ?`
	row := s.db.QueryRowContext(ctx, stmt, id)
	return scanIntent(row)
}

// UpdateIfStatus 条件更新：仅当存储中的状态仍为 expected 时写入。
// 并发写入方中恰好一个观察到 affected = 1，其余拿到 ErrStatusConflict。
func (s *MySQLStore) UpdateIfStatus(ctx context.Context, id string, expected Status, updated *Intent) error {
	details, err := json.Marshal(updated.Details)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化意图详情失败")
	}
	history, err := json.Marshal(updated.StatusHistory)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化状态历史失败")
	}

	const stmt = `UPDATE intents SET details = ?, status = ?, status_history = ?
        WHERE id = ? AND status = ?`
	res, err := s.db.ExecContext(ctx, stmt, details, string(updated.Status), history, id, string(expected))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新意图失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		// 区分不存在与状态竞争。
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM intents WHERE id = ?`, id).Scan(&exists); err != nil {
			if stdErrors.Is(err, sql.ErrNoRows) {
				return ErrIntentNotFound
			}
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询意图失败")
		}
		return ErrStatusConflict
	}
	return nil
}

// ListByUser 返回用户名下的意图，按创建时间倒序。status 非空时附加
// 状态过滤。
func (s *MySQLStore) ListByUser(ctx context.Context, userID string, status Status, limit int) ([]*Intent, error) {
	stmt := `SELECT id, user_id, trustchain_id, agent_id, created_by_member_id,
        details, status, status_history, created_at, expires_at
        FROM intents WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		stmt += ` AND status = ?`
		args = append(args, string(status))
	}
	stmt += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询意图列表失败")
	}
	defer rows.Close()

	out := make([]*Intent, 0)
	for rows.Next() {
		i, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历意图列表失败")
	}
	return out, nil
}

// Ping 探测数据库连通性，供健康检查使用。
func (s *MySQLStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "MySQL 探活失败")
	}
	return nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntent(row rowScanner) (*Intent, error) {
	var (
		i       Intent
		details []byte
		history []byte
		status  string
	)
	if err := row.Scan(
		&i.ID, &i.UserID, &i.TrustchainID, &i.AgentID, &i.CreatedByMemberID,
		&details, &status, &history, &i.CreatedAt, &i.ExpiresAt,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrIntentNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取意图记录失败")
	}
	i.Status = Status(status)
	if err := json.Unmarshal(details, &i.Details); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析意图详情失败")
	}
	if err := json.Unmarshal(history, &i.StatusHistory); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析状态历史失败")
	}
	return &i, nil
}

var _ Store = (*MySQLStore)(nil)
