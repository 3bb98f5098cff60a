package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"

	"wisefido-falltest/internal/models"

	"go.uber.org/zap"
)

// 表名只允许标识符字符（表名来自配置，进 SQL 前校验）
var tablePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresSink 报警记录的 PostgreSQL 后端
// 记录整体序列化进 JSONB data 列，表结构保持最小
type PostgresSink struct {
	db     *sql.DB
	table  string
	logger *zap.Logger
}

// NewPostgresSink 创建 PostgreSQL 后端
func NewPostgresSink(db *sql.DB, table string, logger *zap.Logger) (*PostgresSink, error) {
	if !tablePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name: %q", table)
	}
	return &PostgresSink{
		db:     db,
		table:  table,
		logger: logger,
	}, nil
}

// EnsureTable 建表（幂等，服务启动时调用一次）
func (s *PostgresSink) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			room_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			data JSONB NOT NULL
		)
	`, s.table)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to ensure table %s: %w", s.table, err)
	}
	return nil
}

// Persist 写入一条报警记录
func (s *PostgresSink) Persist(ctx context.Context, record *models.AlertRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal alert record: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (room_id, created_at, data)
		VALUES ($1, $2, $3)
	`, s.table)

	if _, err := s.db.ExecContext(ctx, query, record.RoomID, record.DispatchedAt, data); err != nil {
		return fmt.Errorf("failed to insert alert record: %w", err)
	}

	s.logger.Info("Alert record persisted",
		zap.String("event_id", record.EventID),
		zap.String("room_id", record.RoomID),
		zap.String("source", string(record.Source)),
	)
	return nil
}

// ReadHistory 按写入顺序倒序读取最近 limit 条记录
func (s *PostgresSink) ReadHistory(ctx context.Context, limit int) ([]models.AlertRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("history limit must be positive: %d", limit)
	}

	query := fmt.Sprintf(`
		SELECT data FROM %s
		ORDER BY id DESC
		LIMIT $1
	`, s.table)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert history: %w", err)
	}
	defer rows.Close()

	var records []models.AlertRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan alert history row: %w", err)
		}

		var record models.AlertRecord
		if err := json.Unmarshal(data, &record); err != nil {
			// 损坏的行跳过，不中断整个回读
			s.logger.Warn("Skipping malformed alert history row", zap.Error(err))
			continue
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alert history: %w", err)
	}

	return records, nil
}
