package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"wisefido-falltest/internal/classify"
	"wisefido-falltest/internal/config"
	"wisefido-falltest/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// SignalFunc 跌倒信号的接收方（仲裁器）
type SignalFunc func(models.Signal)

// NotifyFunc 运行状态事件的接收方
type NotifyFunc func(models.Event)

// ElapsedFunc 返回当前模拟时钟位置，用于给信号打时间戳
type ElapsedFunc func() time.Duration

// Poller 房间状态轮询器
// 定期读取状态键，边沿触发：只有 updated_at 变化且分类为跌倒时才产生信号，
// 同一条状态记录绝不重复触发
type Poller struct {
	rdb      redis.Cmdable
	key      string
	interval time.Duration
	onSignal SignalFunc
	notify   NotifyFunc
	elapsed  ElapsedFunc
	logger   *zap.Logger

	mu          sync.Mutex
	lastUpdated string
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewPoller 创建状态轮询器
func NewPoller(rdb redis.Cmdable, cfg *config.Config, onSignal SignalFunc, notify NotifyFunc, elapsed ElapsedFunc, logger *zap.Logger) *Poller {
	key := cfg.Harness.StatusKeyPrefix + cfg.Harness.RoomID + cfg.Harness.StatusKeySuffix
	interval := time.Duration(cfg.Harness.PollIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Second
	}

	return &Poller{
		rdb:      rdb,
		key:      key,
		interval: interval,
		onSignal: onSignal,
		notify:   notify,
		elapsed:  elapsed,
		logger:   logger,
	}
}

// Start 启动轮询循环
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("poller already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	p.logger.Info("Status poller started",
		zap.String("key", p.key),
		zap.Duration("interval", p.interval),
	)

	go p.run(ctx)
	return nil
}

// run 轮询循环：每个间隔读一次状态键
// 读取失败只记日志，等满一个间隔后重试，不影响其他信号来源
func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

// pollOnce 读取并评估一次状态记录
func (p *Poller) pollOnce(ctx context.Context) {
	val, err := p.rdb.Get(ctx, p.key).Result()
	if err == redis.Nil {
		return
	}
	if err != nil {
		p.logger.Warn("Failed to read status record",
			zap.String("key", p.key),
			zap.Error(err),
		)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(val), &payload); err != nil {
		p.logger.Warn("Malformed status record",
			zap.String("key", p.key),
			zap.Error(err),
		)
		return
	}

	// updated_at 可能是字符串时间戳也可能是数字，统一成文本后比较
	updatedAt := fmt.Sprint(payload["updated_at"])

	p.mu.Lock()
	changed := updatedAt != p.lastUpdated
	if changed {
		p.lastUpdated = updatedAt
	}
	p.mu.Unlock()

	// 边沿触发：同一条记录只评估一次
	if !changed {
		return
	}

	if !classify.IsFall(payload) {
		return
	}

	p.logger.Info("Fall signal from status record",
		zap.String("key", p.key),
		zap.String("updated_at", updatedAt),
	)
	p.onSignal(models.Signal{
		Source:     models.SourcePolledStatus,
		IsFall:     true,
		RawPayload: payload,
		ObservedAt: p.elapsed(),
	})
}

// Stop 停止轮询并等待循环退出
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	<-done
}
