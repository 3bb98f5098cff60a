package dispatch

import (
	"context"
	"fmt"
	"time"

	"wisefido-falltest/internal/config"
	"wisefido-falltest/internal/models"
	"wisefido-falltest/internal/sink"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Dispatcher 报警派发器：把胜出信号转为报警记录并写入 Sink
// 只被仲裁器调用，每个会话至多一次（rearm 策略下失败后可能再来）
type Dispatcher struct {
	cfg    *config.Config
	sink   sink.Sink
	logger *zap.Logger
}

// NewDispatcher 创建派发器
func NewDispatcher(cfg *config.Config, s sink.Sink, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:    cfg,
		sink:   s,
		logger: logger,
	}
}

// Dispatch 构造报警记录并持久化
// 记录字段取自会话快照（触发时刻冻结），不再读可变状态
func (d *Dispatcher) Dispatch(ctx context.Context, sess models.Session, sig models.Signal) error {
	at := sess.ElapsedSimTime
	if sess.TriggeredAt != nil {
		at = *sess.TriggeredAt
	}

	record := &models.AlertRecord{
		EventID:        uuid.New().String(),
		RoomID:         d.cfg.Harness.RoomID,
		DeviceID:       d.cfg.Harness.DeviceID,
		SessionTime:    models.FormatSessionTime(at),
		SessionSeconds: at.Seconds(),
		Source:         sig.Source,
		StatusLabel:    models.StatusLabelFall,
		RawPayload:     sig.RawPayload,
		DispatchedAt:   time.Now().UTC(),
	}

	if err := d.sink.Persist(ctx, record); err != nil {
		return fmt.Errorf("failed to persist alert: %w", err)
	}

	d.logger.Info("Alert dispatched",
		zap.String("event_id", record.EventID),
		zap.String("room_id", record.RoomID),
		zap.String("source", string(record.Source)),
		zap.String("session_time", record.SessionTime),
	)
	return nil
}

// History 回读最近的报警记录（最新在前）
func (d *Dispatcher) History(ctx context.Context) ([]models.AlertRecord, error) {
	return d.sink.ReadHistory(ctx, d.cfg.Harness.HistoryLimit)
}
