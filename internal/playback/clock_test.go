package playback

import (
	"sync"
	"testing"
	"time"

	"wisefido-falltest/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stepSource 由测试逐帧供给的帧源（Next 阻塞等待 step 令牌，通道关闭即流结束）
type stepSource struct {
	fps  float64
	step chan struct{}
}

func newStepSource(fps float64) *stepSource {
	return &stepSource{
		fps:  fps,
		step: make(chan struct{}, 64),
	}
}

func (s *stepSource) Open() (StreamInfo, error) {
	return StreamInfo{FPS: s.fps}, nil
}

func (s *stepSource) Next() bool {
	_, ok := <-s.step
	return ok
}

func (s *stepSource) Close() error { return nil }

// feed 供给 n 帧
func (s *stepSource) feed(n int) {
	for i := 0; i < n; i++ {
		s.step <- struct{}{}
	}
}

// recorder 线程安全地收集信号与事件
type recorder struct {
	mu      sync.Mutex
	signals []models.Signal
	events  []models.Event
}

func (r *recorder) onSignal(sig models.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, sig)
}

func (r *recorder) notify(ev models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) signalCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.signals)
}

func (r *recorder) eventCount(typ models.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func (r *recorder) lastSignal() models.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.signals[len(r.signals)-1]
}

func TestClock_ThresholdInclusive(t *testing.T) {
	// 场景A：阈值10秒，1秒/帧，无其他信号 → 第10秒触发 fallback_timer
	src := newStepSource(1)
	rec := &recorder{}

	clock := NewClock(src, 10*time.Second, Options{}, rec.onSignal, rec.notify, zap.NewNop())
	require.NoError(t, clock.Start())

	// 帧0..9 为 0s..9s，不触发
	src.feed(10)
	require.Eventually(t, func() bool {
		return rec.eventCount(models.EventTimeAdvanced) == 10
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, rec.signalCount())

	// 第11帧 elapsed == 10s，包含式比较，恰好到达即触发
	src.feed(1)
	require.Eventually(t, func() bool {
		return rec.signalCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	sig := rec.lastSignal()
	assert.Equal(t, models.SourceFallbackTimer, sig.Source)
	assert.True(t, sig.IsFall)
	assert.Equal(t, 10*time.Second, sig.ObservedAt)

	close(src.step)
	clock.Stop()
}

func TestClock_ThresholdFiresOnce(t *testing.T) {
	src := newStepSource(1)
	rec := &recorder{}

	clock := NewClock(src, 2*time.Second, Options{}, rec.onSignal, rec.notify, zap.NewNop())
	require.NoError(t, clock.Start())

	// 越过阈值后继续前进，一次性闩锁保证只触发一次
	src.feed(8)
	require.Eventually(t, func() bool {
		return rec.eventCount(models.EventTimeAdvanced) == 8
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, rec.signalCount())

	close(src.step)
	clock.Stop()
}

func TestClock_AlreadyTriggeredSuppressesSignal(t *testing.T) {
	// 续播携带已触发标志，阈值不再触发
	src := newStepSource(1)
	rec := &recorder{}

	clock := NewClock(src, 1*time.Second, Options{AlreadyTriggered: true}, rec.onSignal, rec.notify, zap.NewNop())
	require.NoError(t, clock.Start())

	src.feed(5)
	require.Eventually(t, func() bool {
		return rec.eventCount(models.EventTimeAdvanced) == 5
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, rec.signalCount())

	close(src.step)
	clock.Stop()
}

func TestClock_MarkTriggeredSuppressesThreshold(t *testing.T) {
	// 场景B的时钟侧：外部信号胜出后，阈值到达不再产生第二个信号
	src := newStepSource(1)
	rec := &recorder{}

	clock := NewClock(src, 3*time.Second, Options{}, rec.onSignal, rec.notify, zap.NewNop())
	require.NoError(t, clock.Start())

	clock.MarkTriggered()

	src.feed(6)
	require.Eventually(t, func() bool {
		return rec.eventCount(models.EventTimeAdvanced) == 6
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, rec.signalCount())

	close(src.step)
	clock.Stop()
}

func TestClock_PauseFreezesElapsed(t *testing.T) {
	src := newStepSource(1)
	rec := &recorder{}

	clock := NewClock(src, time.Hour, Options{}, rec.onSignal, rec.notify, zap.NewNop())
	require.NoError(t, clock.Start())

	src.feed(3)
	require.Eventually(t, func() bool {
		return rec.eventCount(models.EventTimeAdvanced) == 3
	}, 2*time.Second, 5*time.Millisecond)

	clock.Pause()
	assert.True(t, clock.IsPaused())
	frozen := clock.Elapsed()

	// 暂停后供帧：暂停闸门最多放过已在途的一帧，之后时钟冻结
	src.feed(3)
	time.Sleep(100 * time.Millisecond)

	drift := clock.Elapsed() - frozen
	assert.LessOrEqual(t, drift, time.Second, "elapsed must freeze while paused")

	// 恢复后从冻结值继续，不重置
	clock.Resume()
	assert.False(t, clock.IsPaused())

	require.Eventually(t, func() bool {
		return rec.eventCount(models.EventTimeAdvanced) == 6
	}, 2*time.Second, 5*time.Millisecond)

	assert.GreaterOrEqual(t, clock.Elapsed(), frozen)

	close(src.step)
	clock.Stop()
}

func TestClock_StopWakesParkedPause(t *testing.T) {
	src := newStepSource(1)
	rec := &recorder{}

	clock := NewClock(src, time.Hour, Options{}, rec.onSignal, rec.notify, zap.NewNop())
	require.NoError(t, clock.Start())

	src.feed(1)
	require.Eventually(t, func() bool {
		return rec.eventCount(models.EventTimeAdvanced) == 1
	}, 2*time.Second, 5*time.Millisecond)

	clock.Pause()
	// 循环阻塞在条件变量上，Stop 必须将其唤醒并退出
	done := make(chan struct{})
	go func() {
		clock.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}

	select {
	case <-clock.Done():
	case <-time.After(time.Second):
		t.Fatal("playback loop did not exit after Stop")
	}

	assert.Equal(t, 0, rec.signalCount())
}

func TestClock_EndOfStreamEmitsFinished(t *testing.T) {
	src := newStepSource(1)
	rec := &recorder{}

	clock := NewClock(src, time.Hour, Options{}, rec.onSignal, rec.notify, zap.NewNop())
	require.NoError(t, clock.Start())

	src.feed(2)
	close(src.step)

	require.Eventually(t, func() bool {
		return rec.eventCount(models.EventPlaybackFinished) == 1
	}, 2*time.Second, 5*time.Millisecond)

	select {
	case <-clock.Done():
	case <-time.After(time.Second):
		t.Fatal("playback loop did not exit at end of stream")
	}
}

func TestClock_StartFrameCarryOver(t *testing.T) {
	// 从第5帧续播：elapsed 从 5s 起步
	src := newStepSource(1)
	rec := &recorder{}

	clock := NewClock(src, time.Hour, Options{StartFrame: 5}, rec.onSignal, rec.notify, zap.NewNop())
	require.NoError(t, clock.Start())

	src.feed(1)
	require.Eventually(t, func() bool {
		return rec.eventCount(models.EventTimeAdvanced) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, int64(6), clock.CurrentFrame())
	assert.Equal(t, 6*time.Second, clock.Elapsed())

	close(src.step)
	clock.Stop()
}

func TestClock_StartTwiceFails(t *testing.T) {
	src := newStepSource(1)
	rec := &recorder{}

	clock := NewClock(src, time.Second, Options{}, rec.onSignal, rec.notify, zap.NewNop())
	require.NoError(t, clock.Start())

	err := clock.Start()
	assert.Error(t, err)

	close(src.step)
	clock.Stop()
}

func TestTickSource_BoundedStream(t *testing.T) {
	src := NewTickSource(1000, 3)

	info, err := src.Open()
	require.NoError(t, err)
	assert.Equal(t, float64(1000), info.FPS)
	assert.Equal(t, int64(3), info.TotalFrames)

	assert.True(t, src.Next())
	assert.True(t, src.Next())
	assert.True(t, src.Next())
	assert.False(t, src.Next())

	require.NoError(t, src.Close())
}

func TestTickSource_InvalidFPS(t *testing.T) {
	src := NewTickSource(0, 0)
	_, err := src.Open()
	assert.Error(t, err)
}
