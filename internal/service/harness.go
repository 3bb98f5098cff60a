package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"wisefido-falltest/internal/config"
	"wisefido-falltest/internal/dispatch"
	"wisefido-falltest/internal/listener"
	"wisefido-falltest/internal/models"
	"wisefido-falltest/internal/playback"
	"wisefido-falltest/internal/poller"
	"wisefido-falltest/internal/session"
	"wisefido-falltest/internal/sink"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	_ "github.com/lib/pq"
)

// HarnessService 跌倒检测测试台服务（整合各层）
// 三个信号来源汇入同一个仲裁器，胜出信号经派发器写入 Sink；
// 表现层通过事件通道消费状态，不直接触碰内部组件
type HarnessService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  mqtt.Client
	logger      *zap.Logger

	// 各层组件
	alertSink  sink.Sink
	dispatcher *dispatch.Dispatcher
	sessions   *session.Manager
	feed       *listener.Listener
	statusPoll *poller.Poller

	events chan models.Event

	// 播放时钟按运行创建，停止后留位置供续播
	mu               sync.Mutex
	clock            *playback.Clock
	resumeFrame      int64
	alreadyTriggered bool
}

// NewHarnessService 创建测试台服务
func NewHarnessService(cfg *config.Config, logger *zap.Logger) (*HarnessService, error) {
	s := &HarnessService{
		config: cfg,
		logger: logger,
		events: make(chan models.Event, cfg.Harness.EventBufferSize),
	}

	// 1. 连接 Redis（状态轮询器）
	s.redisClient = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx := context.Background()
	if err := s.redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 2. 创建 Sink（按配置选择后端）
	alertSink, err := s.buildSink(ctx)
	if err != nil {
		return nil, err
	}
	s.alertSink = alertSink

	// 3. 创建派发器与会话管理器
	s.dispatcher = dispatch.NewDispatcher(cfg, s.alertSink, logger)
	s.sessions = session.NewManager(cfg, s.dispatcher, s.notify, logger)

	// 4. 创建信号来源
	s.feed = listener.NewListener(&cfg.MQTT, s.acceptSignal, s.notify, s.Elapsed, logger)
	s.statusPoll = poller.NewPoller(s.redisClient, cfg, s.acceptSignal, s.notify, s.Elapsed, logger)

	return s, nil
}

// buildSink 按配置创建报警记录后端
func (s *HarnessService) buildSink(ctx context.Context) (sink.Sink, error) {
	cfg := s.config

	switch cfg.Harness.SinkBackend {
	case "postgres":
		db, err := sql.Open("postgres", cfg.Database.GetDSN())
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		s.db = db

		pg, err := sink.NewPostgresSink(db, cfg.Harness.TableName, s.logger)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureTable(ctx); err != nil {
			return nil, err
		}
		return pg, nil

	case "rest":
		return sink.NewRESTSink(cfg.Harness.RESTBaseURL, s.logger), nil

	case "mqtt":
		opts := mqtt.NewClientOptions()
		opts.AddBroker(cfg.MQTT.Broker)
		opts.SetClientID(cfg.MQTT.ClientID + "-sink")
		if cfg.MQTT.Username != "" {
			opts.SetUsername(cfg.MQTT.Username)
		}
		if cfg.MQTT.Password != "" {
			opts.SetPassword(cfg.MQTT.Password)
		}
		opts.SetAutoReconnect(true)

		client := mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			return nil, fmt.Errorf("failed to connect mqtt sink: %w", token.Error())
		}
		s.mqttClient = client
		return sink.NewMQTTSink(client, cfg.MQTT.AlertTopic, cfg.MQTT.QoS, s.logger), nil

	default:
		return nil, fmt.Errorf("unknown sink backend: %s", cfg.Harness.SinkBackend)
	}
}

// Start 启动后台信号来源
// 实时推送连接失败不致命：其余来源照常工作，可手动重连
func (s *HarnessService) Start(ctx context.Context) error {
	s.logger.Info("Starting fall test harness",
		zap.String("room_id", s.config.Harness.RoomID),
		zap.String("sink_backend", s.config.Harness.SinkBackend),
	)

	if err := s.feed.Start(); err != nil {
		s.logger.Warn("Live feed unavailable, continuing without it", zap.Error(err))
	}

	if err := s.statusPoll.Start(ctx); err != nil {
		return fmt.Errorf("failed to start status poller: %w", err)
	}

	return nil
}

// Events 对外事件通道（表现层消费）
func (s *HarnessService) Events() <-chan models.Event {
	return s.events
}

// notify 非阻塞投递事件：表现层消费不过来时丢弃，core 绝不被拖住
func (s *HarnessService) notify(ev models.Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Debug("Event channel full, dropping event",
			zap.String("type", string(ev.Type)),
		)
	}
}

// acceptSignal 信号来源的统一入口
func (s *HarnessService) acceptSignal(sig models.Signal) {
	s.sessions.Accept(context.Background(), sig)
}

// onClockEvent 播放时钟事件：先同步会话时钟位置，再转发给表现层
func (s *HarnessService) onClockEvent(ev models.Event) {
	if ev.Type == models.EventTimeAdvanced {
		s.sessions.Advance(ev.Elapsed)
	}
	s.notify(ev)
}

// Arm 布防：开始一次监控会话
// 布防后设置触发回调，外部信号胜出时抑制当前播放时钟的阈值
func (s *HarnessService) Arm() error {
	threshold := time.Duration(s.config.Harness.FallbackThresholdSec) * time.Second

	if err := s.sessions.Arm(threshold, s.Elapsed()); err != nil {
		return err
	}

	s.mu.Lock()
	s.alreadyTriggered = false
	s.mu.Unlock()

	s.sessions.SetTriggerHook(func() {
		s.mu.Lock()
		clock := s.clock
		s.alreadyTriggered = true
		s.mu.Unlock()
		if clock != nil {
			clock.MarkTriggered()
		}
	})
	return nil
}

// StartPlayback 启动一次播放运行
// source 为 nil 时使用配置帧率的自由运行节拍器；
// 续播时从上次停止的帧位置继续，已触发标志一并携带
func (s *HarnessService) StartPlayback(source playback.FrameSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clock != nil {
		return fmt.Errorf("playback already running")
	}

	if source == nil {
		source = playback.NewTickSource(s.config.Harness.FrameRate, 0)
	}

	threshold := time.Duration(s.config.Harness.FallbackThresholdSec) * time.Second
	opts := playback.Options{
		StartFrame:       s.resumeFrame,
		AlreadyTriggered: s.alreadyTriggered,
	}

	clock := playback.NewClock(source, threshold, opts, s.acceptSignal, s.onClockEvent, s.logger)
	if err := clock.Start(); err != nil {
		return err
	}

	s.clock = clock
	return nil
}

// PausePlayback 暂停播放（模拟时钟冻结）
func (s *HarnessService) PausePlayback() {
	if c := s.currentClock(); c != nil {
		c.Pause()
	}
}

// ResumePlayback 恢复播放
func (s *HarnessService) ResumePlayback() {
	if c := s.currentClock(); c != nil {
		c.Resume()
	}
}

// TogglePause 暂停/恢复切换
func (s *HarnessService) TogglePause() {
	if c := s.currentClock(); c != nil {
		c.TogglePause()
	}
}

// IsPaused 播放是否处于暂停
func (s *HarnessService) IsPaused() bool {
	if c := s.currentClock(); c != nil {
		return c.IsPaused()
	}
	return false
}

// StopPlayback 停止播放但保留会话：帧位置留作续播起点
func (s *HarnessService) StopPlayback() {
	s.mu.Lock()
	clock := s.clock
	s.clock = nil
	s.mu.Unlock()

	if clock == nil {
		return
	}

	clock.Stop()

	s.mu.Lock()
	s.resumeFrame = clock.CurrentFrame()
	s.mu.Unlock()
}

// StopSession 撤防：停止会话与播放，模拟时钟归零
func (s *HarnessService) StopSession() {
	s.StopPlayback()
	s.sessions.Stop()

	s.mu.Lock()
	s.resumeFrame = 0
	s.alreadyTriggered = false
	s.mu.Unlock()
}

// Reconnect 手动重连实时推送
func (s *HarnessService) Reconnect() error {
	return s.feed.Reconnect()
}

// Elapsed 当前模拟时钟位置
// 播放中取时钟实时值，已停止取会话记录的位置
func (s *HarnessService) Elapsed() time.Duration {
	if c := s.currentClock(); c != nil {
		return c.Elapsed()
	}
	return s.sessions.Snapshot().ElapsedSimTime
}

// Session 当前会话快照
func (s *HarnessService) Session() models.Session {
	return s.sessions.Snapshot()
}

// History 回读最近的报警记录
func (s *HarnessService) History(ctx context.Context) ([]models.AlertRecord, error) {
	return s.dispatcher.History(ctx)
}

func (s *HarnessService) currentClock() *playback.Clock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

// Stop 停止服务并释放连接
func (s *HarnessService) Stop() error {
	s.logger.Info("Stopping fall test harness")

	s.StopSession()
	s.statusPoll.Stop()
	s.feed.Stop()

	if s.mqttClient != nil {
		s.mqttClient.Disconnect(250)
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close database", zap.Error(err))
		}
	}

	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}

	return nil
}
