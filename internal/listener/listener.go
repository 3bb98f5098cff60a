package listener

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"wisefido-falltest/internal/classify"
	"wisefido-falltest/internal/config"
	"wisefido-falltest/internal/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// SignalFunc 跌倒信号的接收方（仲裁器）
type SignalFunc func(models.Signal)

// NotifyFunc 连接状态事件的接收方
type NotifyFunc func(models.Event)

// ElapsedFunc 返回当前模拟时钟位置，用于给信号打时间戳
type ElapsedFunc func() time.Duration

// Listener mmWave 实时推送监听器
// 订阅传感器主题，对每条消息做分类，把跌倒信号转发给仲裁器；
// 非跌倒消息只消费不转发，转发不看会话状态（闸门在仲裁器）
type Listener struct {
	cfg      *config.MQTTConfig
	onSignal SignalFunc
	notify   NotifyFunc
	elapsed  ElapsedFunc
	logger   *zap.Logger

	mu      sync.Mutex
	client  mqtt.Client
	started bool
}

// NewListener 创建实时推送监听器
func NewListener(cfg *config.MQTTConfig, onSignal SignalFunc, notify NotifyFunc, elapsed ElapsedFunc, logger *zap.Logger) *Listener {
	return &Listener{
		cfg:      cfg,
		onSignal: onSignal,
		notify:   notify,
		elapsed:  elapsed,
		logger:   logger,
	}
}

// Start 连接 broker 并订阅传感器主题
// 连接失败不致命：报告状态后返回错误，其余信号来源继续工作
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return fmt.Errorf("listener already started")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(l.cfg.Broker)
	opts.SetClientID(l.cfg.ClientID)
	if l.cfg.Username != "" {
		opts.SetUsername(l.cfg.Username)
	}
	if l.cfg.Password != "" {
		opts.SetPassword(l.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(5 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		l.notify(models.Event{
			Type:      models.EventStatusChanged,
			Component: models.ComponentListener,
			Status:    models.StatusConnected,
			At:        time.Now(),
		})
		// 重连后重新订阅（CleanSession 下订阅不保留）
		if token := client.Subscribe(l.cfg.Topic, l.cfg.QoS, l.handleMessage); token.Wait() && token.Error() != nil {
			l.logger.Error("Failed to subscribe to sensor topic",
				zap.String("topic", l.cfg.Topic),
				zap.Error(token.Error()),
			)
		}
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		l.logger.Warn("MQTT connection lost", zap.Error(err))
		l.notify(models.Event{
			Type:      models.EventStatusChanged,
			Component: models.ComponentListener,
			Status:    models.StatusDisconnected,
			Err:       err.Error(),
			At:        time.Now(),
		})
	})
	opts.SetReconnectingHandler(func(client mqtt.Client, o *mqtt.ClientOptions) {
		l.notify(models.Event{
			Type:      models.EventStatusChanged,
			Component: models.ComponentListener,
			Status:    models.StatusReconnecting,
			At:        time.Now(),
		})
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		l.notify(models.Event{
			Type:      models.EventStatusChanged,
			Component: models.ComponentListener,
			Status:    models.StatusConnectFailed,
			Err:       token.Error().Error(),
			At:        time.Now(),
		})
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	l.client = client
	l.started = true

	l.logger.Info("Live feed listener started",
		zap.String("broker", l.cfg.Broker),
		zap.String("topic", l.cfg.Topic),
	)
	return nil
}

// handleMessage 处理一条传感器消息：容错解析 → 分类 → 跌倒才转发
func (l *Listener) handleMessage(client mqtt.Client, msg mqtt.Message) {
	payload := ParsePayload(msg.Payload())

	if !classify.IsFall(payload) {
		return
	}

	l.logger.Info("Fall signal from live feed",
		zap.String("topic", msg.Topic()),
	)
	l.onSignal(models.Signal{
		Source:     models.SourceLiveFeed,
		IsFall:     true,
		RawPayload: payload,
		ObservedAt: l.elapsed(),
	})
}

// Reconnect 手动重连：断开现有连接后重新建立
func (l *Listener) Reconnect() error {
	l.mu.Lock()
	if l.client != nil {
		l.client.Disconnect(250)
		l.client = nil
	}
	l.started = false
	l.mu.Unlock()

	l.notify(models.Event{
		Type:      models.EventStatusChanged,
		Component: models.ComponentListener,
		Status:    models.StatusReconnecting,
		At:        time.Now(),
	})
	return l.Start()
}

// IsConnected 当前是否连接
func (l *Listener) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.client != nil && l.client.IsConnected()
}

// Stop 断开连接
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.client != nil {
		l.client.Disconnect(250)
		l.client = nil
	}
	l.started = false
}

// ParsePayload 容错解析传感器负载
// 合法 JSON 对象原样返回；其他内容包成 {"raw": 文本}，分类器照常评估
func ParsePayload(data []byte) map[string]any {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err == nil && payload != nil {
		return payload
	}
	return map[string]any{"raw": string(data)}
}
