package sink

import (
	"context"
	"fmt"
	"time"

	"wisefido-falltest/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// alertPath 后端报警接收端点
const alertPath = "/api/test-alarm"

// RESTSink 报警记录的 HTTP 后端（POST 给上游报警服务）
type RESTSink struct {
	client *resty.Client
	logger *zap.Logger
}

// NewRESTSink 创建 HTTP 后端
func NewRESTSink(baseURL string, logger *zap.Logger) *RESTSink {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})

	return &RESTSink{
		client: client,
		logger: logger,
	}
}

// Persist POST 一条报警记录，非 2xx 视为失败
func (s *RESTSink) Persist(ctx context.Context, record *models.AlertRecord) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(record).
		Post(alertPath)
	if err != nil {
		return fmt.Errorf("failed to post alert record: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("alert endpoint returned status %d: %s", resp.StatusCode(), resp.String())
	}

	s.logger.Info("Alert record posted",
		zap.String("event_id", record.EventID),
		zap.Int("status", resp.StatusCode()),
	)
	return nil
}

// ReadHistory HTTP 后端不支持回读
func (s *RESTSink) ReadHistory(ctx context.Context, limit int) ([]models.AlertRecord, error) {
	return nil, fmt.Errorf("rest sink does not support history read-back")
}

// Health 探测上游报警服务是否可用
func (s *RESTSink) Health(ctx context.Context) error {
	resp, err := s.client.R().
		SetContext(ctx).
		Get("/health")
	if err != nil {
		return fmt.Errorf("failed to probe alert endpoint: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("alert endpoint unhealthy, status %d", resp.StatusCode())
	}
	return nil
}
