package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wisefido-falltest/internal/config"
	"wisefido-falltest/internal/models"

	"go.uber.org/zap"
)

// Dispatcher 报警派发器接口（session → dispatch 的出边）
type Dispatcher interface {
	// Dispatch 把胜出信号转为报警记录并写入 Sink
	Dispatch(ctx context.Context, sess models.Session, sig models.Signal) error
}

// NotifyFunc 对外通知事件的接收方
type NotifyFunc func(models.Event)

// Manager 会话状态机 + 事件仲裁器
// 持有唯一的 Session，所有字段只在持锁时修改；
// Accept 的 check-and-set 在同一把锁下完成，保证并发信号恰好一个胜出
type Manager struct {
	cfg        *config.Config
	dispatcher Dispatcher
	notify     NotifyFunc
	logger     *zap.Logger

	mu   sync.Mutex
	sess models.Session

	// onTriggered 信号胜出后的回调（用于抑制播放时钟的阈值闩锁），每次布防时设置
	onTriggered func()
}

// NewManager 创建会话管理器
func NewManager(cfg *config.Config, dispatcher Dispatcher, notify NotifyFunc, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:        cfg,
		dispatcher: dispatcher,
		notify:     notify,
		logger:     logger,
		sess: models.Session{
			State: models.StateIdle,
		},
	}
}

// Arm 布防：Idle→Armed
// carryOver 为播放时钟当前位置（支持视频停止后续播，区别于会话停止）
func (m *Manager) Arm(threshold, carryOver time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess.State != models.StateIdle {
		// 非法命令按空操作处理，不致命
		return fmt.Errorf("cannot arm session in state %s", m.sess.State)
	}

	m.sess = models.Session{
		State:             models.StateArmed,
		ElapsedSimTime:    carryOver,
		FallbackThreshold: threshold,
	}

	m.logger.Info("Session armed",
		zap.Duration("fallback_threshold", threshold),
		zap.Duration("carry_over", carryOver),
	)
	return nil
}

// Stop 撤防：Armed/Triggered→Idle，模拟时钟归零
// Idle 下调用为空操作
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess.State == models.StateIdle {
		return
	}

	m.logger.Info("Session stopped",
		zap.String("state", string(m.sess.State)),
		zap.Duration("elapsed", m.sess.ElapsedSimTime),
	)

	m.sess = models.Session{
		State: models.StateIdle,
	}
	m.onTriggered = nil
}

// SetTriggerHook 设置信号胜出后的回调（布防后、启动时钟前调用）
func (m *Manager) SetTriggerHook(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTriggered = fn
}

// Advance 记录播放时钟位置（暂停时时钟不产生前进，位置自然冻结）
func (m *Manager) Advance(elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess.State == models.StateIdle {
		return
	}
	// 单调不减，停止前不回退
	if elapsed > m.sess.ElapsedSimTime {
		m.sess.ElapsedSimTime = elapsed
	}
}

// State 当前会话状态
func (m *Manager) State() models.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess.State
}

// Snapshot 当前会话快照
func (m *Manager) Snapshot() models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess
}

// Accept 仲裁入口：并发安全，恰好一个信号胜出
// 锁内 check-and-set：非 Armed 直接丢弃；Armed 则原子置为 Triggered，
// 锁外恰好调用一次派发器
func (m *Manager) Accept(ctx context.Context, sig models.Signal) bool {
	if !sig.IsFall {
		return false
	}

	m.mu.Lock()
	if m.sess.State != models.StateArmed {
		state := m.sess.State
		m.mu.Unlock()
		m.logger.Debug("Signal dropped, session not armed",
			zap.String("source", string(sig.Source)),
			zap.String("state", string(state)),
		)
		return false
	}

	m.sess.State = models.StateTriggered
	src := sig.Source
	at := sig.ObservedAt
	if at <= 0 {
		at = m.sess.ElapsedSimTime
	}
	m.sess.TriggeredSource = &src
	m.sess.TriggeredAt = &at
	snapshot := m.sess
	hook := m.onTriggered
	m.mu.Unlock()

	if hook != nil {
		hook()
	}

	m.logger.Info("Signal accepted",
		zap.String("source", string(sig.Source)),
		zap.Duration("triggered_at", at),
	)
	m.notify(models.Event{
		Type:    models.EventTriggered,
		Source:  sig.Source,
		Elapsed: at,
		At:      time.Now(),
	})

	if err := m.dispatcher.Dispatch(ctx, snapshot, sig); err != nil {
		m.logger.Error("Failed to dispatch alert",
			zap.String("source", string(sig.Source)),
			zap.Error(err),
		)
		m.notify(models.Event{
			Type:   models.EventDispatchFailed,
			Source: sig.Source,
			Err:    err.Error(),
			At:     time.Now(),
		})
		m.handleDispatchFailure()
	} else {
		m.notify(models.Event{
			Type:    models.EventDispatched,
			Source:  sig.Source,
			Elapsed: at,
			At:      time.Now(),
		})
	}

	return true
}

// handleDispatchFailure 按配置策略处理派发失败
// stay_triggered：保持 Triggered（绝不为同一次跌倒报警两次）
// rearm：回到 Armed，允许后续信号重试
func (m *Manager) handleDispatchFailure() {
	if m.cfg.Harness.FailurePolicy != config.PolicyRearm {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sess.State != models.StateTriggered {
		return
	}
	m.sess.State = models.StateArmed
	m.sess.TriggeredSource = nil
	m.sess.TriggeredAt = nil

	m.logger.Warn("Session re-armed after dispatch failure")
}
