package session

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	xerrors "IntentChain/internal/errors"
	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore 使用 MySQL 保存挑战与会话。
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
	const challenges = `CREATE TABLE IF NOT EXISTS auth_challenges (
        id VARCHAR(64) PRIMARY KEY,
        wallet_address VARCHAR(64) NOT NULL,
        nonce VARCHAR(64) NOT NULL,
        chain_id BIGINT NOT NULL DEFAULT 0,
        issued_at BIGINT NOT NULL,
        expires_at BIGINT NOT NULL,
        used_at BIGINT NOT NULL DEFAULT 0,
        INDEX idx_challenge_wallet (wallet_address)
)`
	const sessions = `CREATE TABLE IF NOT EXISTS auth_sessions (
        id VARCHAR(64) PRIMARY KEY,
        wallet_address VARCHAR(64) NOT NULL,
        created_at BIGINT NOT NULL,
        expires_at BIGINT NOT NULL,
        INDEX idx_session_wallet (wallet_address)
)`

	if _, err := s.db.Exec(challenges); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 auth_challenges 表失败")
	}
	if _, err := s.db.Exec(sessions); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 auth_sessions 表失败")
	}
	return nil
}

// CreateChallenge 插入新的挑战记录。
func (s *MySQLStore) CreateChallenge(ctx context.Context, c *Challenge) error {
	if c == nil || c.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "挑战 ID 不能为空")
	}
	const stmt = `INSERT INTO auth_challenges
        (id, wallet_address, nonce, chain_id, issued_at, expires_at, used_at)
        VALUES (?, ?, ?, ?, ?, ?, 0)`
	if _, err := s.db.ExecContext(ctx, stmt, c.ID, c.WalletAddress, c.Nonce, c.ChainID, c.IssuedAt, c.ExpiresAt); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入挑战失败")
	}
	return nil
}

// GetChallenge 查询挑战。
func (s *MySQLStore) GetChallenge(ctx context.Context, id string) (*Challenge, error) {
	const stmt = `SELECT id, wallet_address, nonce, chain_id, issued_at, expires_at, used_at
        FROM auth_challenges WHERE id = ?`
	var c Challenge
	if err := s.db.QueryRowContext(ctx, stmt, id).Scan(
		&c.ID, &c.WalletAddress, &c.Nonce, &c.ChainID, &c.IssuedAt, &c.ExpiresAt, &c.UsedAt,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrChallengeConsumed
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询挑战失败")
	}
	return &c, nil
}

// ConsumeChallenge 条件更新 used_at。并发争用由 RowsAffected 裁决，
// 恰好一个写入方观察到 affected = 1。
func (s *MySQLStore) ConsumeChallenge(ctx context.Context, id string, now int64) error {
	const stmt = `UPDATE auth_challenges SET used_at = ?
        WHERE id = ? AND used_at = 0 AND expires_at > ?`

	res, err := s.db.ExecContext(ctx, stmt, now, id, now)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记挑战已使用失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		return ErrChallengeConsumed
	}
	return nil
}

// CreateSession 插入新的会话记录。
func (s *MySQLStore) CreateSession(ctx context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}
	const stmt = `INSERT INTO auth_sessions (id, wallet_address, created_at, expires_at)
        VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt, sess.ID, sess.WalletAddress, sess.CreatedAt, sess.ExpiresAt); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入会话失败")
	}
	return nil
}

// GetSession 查询会话。
func (s *MySQLStore) GetSession(ctx context.Context, id string) (*Session, error) {
	const stmt = `SELECT id, wallet_address, created_at, expires_at FROM auth_sessions WHERE id = ?`
	var sess Session
	if err := s.db.QueryRowContext(ctx, stmt, id).Scan(&sess.ID, &sess.WalletAddress, &sess.CreatedAt, &sess.ExpiresAt); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrUnauthorized
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话失败")
	}
	return &sess, nil
}

// DeleteSession 删除会话（显式登出）。
func (s *MySQLStore) DeleteSession(ctx context.Context, id string) error {
	const stmt = `DELETE FROM auth_sessions WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, stmt, id); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除会话失败")
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

var _ Store = (*MySQLStore)(nil)
