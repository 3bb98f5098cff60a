package sink

import (
	"context"

	"wisefido-falltest/internal/models"
)

// Sink 报警记录的持久化后端
// 后端可替换（PostgreSQL / REST / MQTT），core 只依赖本接口
type Sink interface {
	// Persist 写入一条报警记录，成功返回 nil
	Persist(ctx context.Context, record *models.AlertRecord) error
	// ReadHistory 按时间倒序读取最近的报警记录（最新在前）
	// 不支持回读的后端返回错误
	ReadHistory(ctx context.Context, limit int) ([]models.AlertRecord, error)
}
