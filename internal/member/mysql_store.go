package member

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	xerrors "IntentChain/internal/errors"
	"github.com/go-sql-driver/mysql"
)

// MySQLStore 使用 MySQL 保存成员记录。
//
// 唯一性约束通过 active_key 列实现：成员活跃时 active_key 等于公钥地址，
// 撤销后置为 NULL。UNIQUE(active_key) 在数据库层保证同一地址最多一条活跃
// 记录，并发注册竞争由唯一键冲突（1062）裁决。
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
	const schema = `CREATE TABLE IF NOT EXISTS trustchain_members (
        id VARCHAR(64) PRIMARY KEY,
        trustchain_id VARCHAR(64) NOT NULL,
        public_key_address VARCHAR(64) NOT NULL,
        active_key VARCHAR(64) NULL,
        label VARCHAR(255) NOT NULL DEFAULT '',
        created_at BIGINT NOT NULL,
        revoked_at BIGINT NOT NULL DEFAULT 0,
        UNIQUE KEY uniq_member_active_key (active_key),
        INDEX idx_member_trustchain (trustchain_id)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 trustchain_members 表失败")
	}
	return nil
}

// Create 插入新的成员记录。同地址已有活跃成员时返回 ErrMemberConflict。
func (s *MySQLStore) Create(ctx context.Context, m *Member) error {
	if m == nil || m.ID == "" || m.PublicKeyAddress == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "成员 ID 与公钥地址不能为空")
	}

	const stmt = `INSERT INTO trustchain_members
        (id, trustchain_id, public_key_address, active_key, label, created_at, revoked_at)
        VALUES (?, ?, ?, ?, ?, ?, 0)`

	_, err := s.db.ExecContext(ctx, stmt,
		m.ID,
		m.TrustchainID,
		m.PublicKeyAddress,
		m.PublicKeyAddress,
		m.Label,
		m.CreatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrMemberConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入成员失败")
	}
	return nil
}

// FindActiveByAddress 查找未撤销的成员。
func (s *MySQLStore) FindActiveByAddress(ctx context.Context, address string) (*Member, error) {
	const stmt = `SELECT id, trustchain_id, public_key_address, label, created_at, revoked_at
        FROM trustchain_members WHERE active_key = ?`
	return s.scanOne(s.db.QueryRowContext(ctx, stmt, address))
}

// FindByID 按 ID 查找成员。
func (s *MySQLStore) FindByID(ctx context.Context, id string) (*Member, error) {
	const stmt = `SELECT id, trustchain_id, public_key_address, label, created_at, revoked_at
        FROM trustchain_members WHERE id = ?`
	return s.scanOne(s.db.QueryRowContext(ctx, stmt, id))
}

// Revoke 将成员置为撤销状态。条件更新保证并发下只有一次撤销生效。
func (s *MySQLStore) Revoke(ctx context.Context, id string, revokedAt int64) (*Member, error) {
	const stmt = `UPDATE trustchain_members SET revoked_at = ?, active_key = NULL
        WHERE id = ? AND revoked_at = 0`

	res, err := s.db.ExecContext(ctx, stmt, revokedAt, id)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "撤销成员失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		return nil, ErrMemberNotFound
	}
	return s.FindByID(ctx, id)
}

// ListByTrustchain 返回某个 trustchain 下的成员，按创建时间倒序。
func (s *MySQLStore) ListByTrustchain(ctx context.Context, trustchainID string) ([]*Member, error) {
	const stmt = `SELECT id, trustchain_id, public_key_address, label, created_at, revoked_at
        FROM trustchain_members WHERE trustchain_id = ?
        ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, stmt, trustchainID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询成员列表失败")
	}
	defer rows.Close()

	members := make([]*Member, 0)
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.TrustchainID, &m.PublicKeyAddress, &m.Label, &m.CreatedAt, &m.RevokedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析成员记录失败")
		}
		memberCopy := m
		members = append(members, &memberCopy)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历成员失败")
	}
	return members, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *MySQLStore) scanOne(row *sql.Row) (*Member, error) {
	var m Member
	if err := row.Scan(&m.ID, &m.TrustchainID, &m.PublicKeyAddress, &m.Label, &m.CreatedAt, &m.RevokedAt); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询成员失败")
	}
	return &m, nil
}

var _ Store = (*MySQLStore)(nil)
