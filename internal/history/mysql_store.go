package history

import (
	"context"
	"database/sql"
	"strings"
	"time"

	xerrors "AgentVault/internal/errors"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

// MySQLConfig 描述 MySQL 留痕存储的连接参数。
type MySQLConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// MySQLStore 使用 MySQL 持久化决策留痕。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建 MySQL 留痕存储并初始化表结构。
func NewMySQLStore(cfg MySQLConfig) (*MySQLStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 20
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
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
	const schema = `CREATE TABLE IF NOT EXISTS decision_records (
        id VARCHAR(64) PRIMARY KEY,
        agent_id VARCHAR(128) NOT NULL,
        cycle BIGINT UNSIGNED NOT NULL,
        action VARCHAR(16) NOT NULL,
        target VARCHAR(255) DEFAULT '',
        amount DOUBLE NOT NULL DEFAULT 0,
        source VARCHAR(16) NOT NULL,
        reason TEXT,
        tx_hash VARCHAR(128) DEFAULT '',
        created_at BIGINT NOT NULL,
        INDEX idx_record_agent (agent_id),
        INDEX idx_record_created (created_at)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 decision_records 表失败")
	}
	return nil
}

// Append 实现 Store。
func (s *MySQLStore) Append(ctx context.Context, record Record) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	const stmt = `INSERT INTO decision_records
        (id, agent_id, cycle, action, target, amount, source, reason, tx_hash, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		record.ID,
		record.AgentID,
		record.Cycle,
		record.Action,
		record.Target,
		record.Amount,
		record.Source,
		record.Reason,
		record.TxHash,
		record.CreatedAt.Unix(),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入决策留痕失败")
	}
	return nil
}

// ListRecent 实现 Store。
func (s *MySQLStore) ListRecent(ctx context.Context, agentID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT id, agent_id, cycle, action, target, amount, source, reason, tx_hash, created_at
        FROM decision_records`
	args := make([]any, 0, 2)
	if agentID != "" {
		query += ` WHERE agent_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询决策留痕失败")
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		var record Record
		var createdAt int64
		if err := rows.Scan(
			&record.ID,
			&record.AgentID,
			&record.Cycle,
			&record.Action,
			&record.Target,
			&record.Amount,
			&record.Source,
			&record.Reason,
			&record.TxHash,
			&createdAt,
		); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析决策留痕失败")
		}
		record.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历决策留痕失败")
	}
	return out, nil
}

// Close 实现 Store。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*MySQLStore)(nil)
