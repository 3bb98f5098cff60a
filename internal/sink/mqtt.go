package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"wisefido-falltest/internal/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// publisher MQTT 发布能力（mqtt.Client 的最小子集，便于测试替身）
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink 报警记录的 MQTT 后端（发布到报警主题，由下游订阅方消费）
type MQTTSink struct {
	client publisher
	topic  string
	qos    byte
	logger *zap.Logger
}

// NewMQTTSink 创建 MQTT 后端（复用已连接的客户端）
func NewMQTTSink(client mqtt.Client, topic string, qos byte, logger *zap.Logger) *MQTTSink {
	return &MQTTSink{
		client: client,
		topic:  topic,
		qos:    qos,
		logger: logger,
	}
}

// Persist 发布一条报警记录并等待 broker 确认
func (s *MQTTSink) Persist(ctx context.Context, record *models.AlertRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal alert record: %w", err)
	}

	token := s.client.Publish(s.topic, s.qos, false, payload)

	// 等待发布确认，同时尊重调用方的取消
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish cancelled: %w", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish alert record: %w", err)
	}

	s.logger.Info("Alert record published",
		zap.String("event_id", record.EventID),
		zap.String("topic", s.topic),
	)
	return nil
}

// ReadHistory MQTT 后端不支持回读
func (s *MQTTSink) ReadHistory(ctx context.Context, limit int) ([]models.AlertRecord, error) {
	return nil, fmt.Errorf("mqtt sink does not support history read-back")
}
