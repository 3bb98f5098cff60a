package playback

import (
	"fmt"
	"sync"
	"time"

	"wisefido-falltest/internal/models"

	"go.uber.org/zap"
)

// stopJoinBudget Stop 等待播放循环退出的最长时间
const stopJoinBudget = time.Second

// SignalFunc 阈值穿越信号的接收方（仲裁器）
type SignalFunc func(models.Signal)

// NotifyFunc 对外通知事件的接收方（表现层）
type NotifyFunc func(models.Event)

// Options 单次播放运行的选项
type Options struct {
	// StartFrame 起始帧（支持视频停止后从暂停位置续播）
	StartFrame int64
	// AlreadyTriggered 本次运行开始前阈值信号是否已触发过（续播时携带）
	AlreadyTriggered bool
}

// Clock 播放时钟：驱动一次模拟时间流的播放运行
// 每次运行创建一个新的 Clock；Stopped 是终态
type Clock struct {
	source    FrameSource
	threshold time.Duration
	opts      Options
	onSignal  SignalFunc
	notify    NotifyFunc
	logger    *zap.Logger

	mu            sync.Mutex
	cond          *sync.Cond
	paused        bool
	stopped       bool
	started       bool
	fps           float64
	currentFrame  int64
	fallTriggered bool // 阈值信号的一次性闩锁

	done chan struct{}
}

// NewClock 创建播放时钟
func NewClock(
	source FrameSource,
	threshold time.Duration,
	opts Options,
	onSignal SignalFunc,
	notify NotifyFunc,
	logger *zap.Logger,
) *Clock {
	c := &Clock{
		source:        source,
		threshold:     threshold,
		opts:          opts,
		onSignal:      onSignal,
		notify:        notify,
		logger:        logger,
		currentFrame:  opts.StartFrame,
		fallTriggered: opts.AlreadyTriggered,
		done:          make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Start 打开帧源并启动播放循环
// 一个 Clock 只能启动一次
func (c *Clock) Start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("clock already started")
	}
	c.started = true
	c.mu.Unlock()

	info, err := c.source.Open()
	if err != nil {
		close(c.done)
		return fmt.Errorf("failed to open frame source: %w", err)
	}
	if info.FPS <= 0 {
		close(c.done)
		return fmt.Errorf("frame source reported invalid fps: %f", info.FPS)
	}

	c.mu.Lock()
	c.fps = info.FPS
	c.mu.Unlock()

	c.logger.Info("Playback clock started",
		zap.Float64("fps", info.FPS),
		zap.Int64("total_frames", info.TotalFrames),
		zap.Int64("start_frame", c.opts.StartFrame),
		zap.Duration("fallback_threshold", c.threshold),
	)

	go c.run(info)
	return nil
}

// run 播放循环（单 goroutine）
// 每轮先过暂停闸门（条件变量阻塞，不忙等），再读下一帧
func (c *Clock) run(info StreamInfo) {
	defer close(c.done)
	defer c.source.Close()

	total := info.TotalDuration()

	for {
		c.mu.Lock()
		for c.paused && !c.stopped {
			c.cond.Wait()
		}
		shouldStop := c.stopped
		c.mu.Unlock()

		if shouldStop {
			return
		}

		if !c.source.Next() {
			c.notify(models.Event{
				Type:      models.EventPlaybackFinished,
				Component: models.ComponentPlayback,
				At:        time.Now(),
			})
			return
		}

		c.mu.Lock()
		elapsed := time.Duration(float64(c.currentFrame) / c.fps * float64(time.Second))
		fire := !c.fallTriggered && elapsed >= c.threshold
		if fire {
			c.fallTriggered = true
		}
		c.currentFrame++
		c.mu.Unlock()

		c.notify(models.Event{
			Type:      models.EventTimeAdvanced,
			Component: models.ComponentPlayback,
			Elapsed:   elapsed,
			Total:     total,
			At:        time.Now(),
		})

		if fire {
			c.logger.Info("Fallback threshold crossed",
				zap.Duration("elapsed", elapsed),
				zap.Duration("threshold", c.threshold),
			)
			c.onSignal(models.Signal{
				Source:     models.SourceFallbackTimer,
				IsFall:     true,
				RawPayload: map[string]any{"fall_at_sec": c.threshold.Seconds()},
				ObservedAt: elapsed,
			})
		}
	}
}

// Pause 暂停播放（时钟冻结，已暂停时为空操作）
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.paused = true
}

// Resume 恢复播放（从暂停位置继续，不重置时钟）
func (c *Clock) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	if c.paused {
		c.paused = false
		c.cond.Broadcast()
	}
}

// TogglePause 暂停/恢复切换
func (c *Clock) TogglePause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.paused = !c.paused
	if !c.paused {
		c.cond.Broadcast()
	}
}

// IsPaused 是否处于暂停
func (c *Clock) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Stop 停止播放：置位停止标志并唤醒暂停等待，限时等待循环退出
// 超过预算则放弃等待，不无限阻塞调用方
func (c *Clock) Stop() {
	c.mu.Lock()
	if !c.started {
		c.started = true
		c.stopped = true
		close(c.done)
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.paused = false
	c.cond.Broadcast()
	c.mu.Unlock()

	select {
	case <-c.done:
	case <-time.After(stopJoinBudget):
		c.logger.Warn("Playback loop did not exit within budget",
			zap.Duration("budget", stopJoinBudget),
		)
	}
}

// MarkTriggered 外部信号胜出后抑制阈值信号（一次性闩锁置位）
func (c *Clock) MarkTriggered() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallTriggered = true
}

// Elapsed 当前模拟时钟位置
func (c *Clock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fps <= 0 {
		return 0
	}
	return time.Duration(float64(c.currentFrame) / c.fps * float64(time.Second))
}

// CurrentFrame 当前帧序号（停止后用于续播）
func (c *Clock) CurrentFrame() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentFrame
}

// Done 播放循环退出后关闭
func (c *Clock) Done() <-chan struct{} {
	return c.done
}
