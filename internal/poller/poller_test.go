package poller

import (
	"context"
	"sync"
	"testing"
	"time"

	"wisefido-falltest/internal/config"
	"wisefido-falltest/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type signalRecorder struct {
	mu      sync.Mutex
	signals []models.Signal
}

func (r *signalRecorder) onSignal(sig models.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, sig)
}

func (r *signalRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.signals)
}

func (r *signalRecorder) last() models.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.signals[len(r.signals)-1]
}

func setupPoller(t *testing.T) (*miniredis.Miniredis, *signalRecorder, *Poller) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := &config.Config{}
	cfg.Harness.RoomID = "ROOM_01"
	cfg.Harness.StatusKeyPrefix = "falltest:room:"
	cfg.Harness.StatusKeySuffix = ":status"
	cfg.Harness.PollIntervalSec = 1

	rec := &signalRecorder{}
	p := NewPoller(rdb, cfg, rec.onSignal,
		func(models.Event) {},
		func() time.Duration { return 30 * time.Second },
		zap.NewNop())

	return mr, rec, p
}

const statusKey = "falltest:room:ROOM_01:status"

func TestPoller_FallRecordProducesSignal(t *testing.T) {
	mr, rec, p := setupPoller(t)
	ctx := context.Background()

	require.NoError(t, mr.Set(statusKey, `{"fall_detected": 1, "status": "PEOPLE_FALL", "updated_at": "2026-08-23T10:00:00Z"}`))

	p.pollOnce(ctx)
	require.Equal(t, 1, rec.count())

	sig := rec.last()
	assert.Equal(t, models.SourcePolledStatus, sig.Source)
	assert.True(t, sig.IsFall)
	assert.Equal(t, 30*time.Second, sig.ObservedAt)
	assert.Equal(t, "PEOPLE_FALL", sig.RawPayload["status"])
}

func TestPoller_EdgeTriggeredNoRepeat(t *testing.T) {
	// 同一条状态记录（updated_at 不变）绝不重复触发
	mr, rec, p := setupPoller(t)
	ctx := context.Background()

	require.NoError(t, mr.Set(statusKey, `{"fall_detected": 1, "updated_at": "2026-08-23T10:00:00Z"}`))

	p.pollOnce(ctx)
	p.pollOnce(ctx)
	p.pollOnce(ctx)
	assert.Equal(t, 1, rec.count())

	// updated_at 变化后是新记录，重新评估
	require.NoError(t, mr.Set(statusKey, `{"fall_detected": 1, "updated_at": "2026-08-23T10:00:05Z"}`))
	p.pollOnce(ctx)
	assert.Equal(t, 2, rec.count())
}

func TestPoller_NumericUpdatedAt(t *testing.T) {
	// updated_at 为 Unix 时间戳（数字）时边沿判定同样生效
	mr, rec, p := setupPoller(t)
	ctx := context.Background()

	require.NoError(t, mr.Set(statusKey, `{"fall_detected": 1, "updated_at": 1724400000}`))
	p.pollOnce(ctx)
	p.pollOnce(ctx)
	assert.Equal(t, 1, rec.count())

	require.NoError(t, mr.Set(statusKey, `{"fall_detected": 1, "updated_at": 1724400005}`))
	p.pollOnce(ctx)
	assert.Equal(t, 2, rec.count())
}

func TestPoller_NonFallRecordConsumesEdge(t *testing.T) {
	mr, rec, p := setupPoller(t)
	ctx := context.Background()

	require.NoError(t, mr.Set(statusKey, `{"fall_detected": 0, "status": "PEOPLE", "updated_at": "2026-08-23T10:00:00Z"}`))
	p.pollOnce(ctx)
	assert.Equal(t, 0, rec.count())

	// 同一条非跌倒记录不再评估
	p.pollOnce(ctx)
	assert.Equal(t, 0, rec.count())

	// 后续跌倒记录照常触发
	require.NoError(t, mr.Set(statusKey, `{"fall_detected": 1, "updated_at": "2026-08-23T10:00:10Z"}`))
	p.pollOnce(ctx)
	assert.Equal(t, 1, rec.count())
}

func TestPoller_MissingKeyIsQuiet(t *testing.T) {
	_, rec, p := setupPoller(t)

	p.pollOnce(context.Background())
	assert.Equal(t, 0, rec.count())
}

func TestPoller_MalformedRecordIsSwallowed(t *testing.T) {
	mr, rec, p := setupPoller(t)
	ctx := context.Background()

	require.NoError(t, mr.Set(statusKey, `{not valid json`))
	p.pollOnce(ctx)
	assert.Equal(t, 0, rec.count())

	// 损坏记录不消费边沿：修复后的记录照常触发
	require.NoError(t, mr.Set(statusKey, `{"fall_detected": 1, "updated_at": "2026-08-23T10:00:00Z"}`))
	p.pollOnce(ctx)
	assert.Equal(t, 1, rec.count())
}

func TestPoller_ReadErrorIsSwallowed(t *testing.T) {
	mr, rec, p := setupPoller(t)
	ctx := context.Background()

	// 服务端故障只记日志，循环继续
	mr.SetError("connection refused")
	p.pollOnce(ctx)
	assert.Equal(t, 0, rec.count())

	mr.SetError("")
	require.NoError(t, mr.Set(statusKey, `{"fall_detected": 1, "updated_at": "2026-08-23T10:00:00Z"}`))
	p.pollOnce(ctx)
	assert.Equal(t, 1, rec.count())
}

func TestPoller_StartStop(t *testing.T) {
	mr, rec, p := setupPoller(t)

	require.NoError(t, mr.Set(statusKey, `{"fall_detected": 1, "updated_at": "2026-08-23T10:00:00Z"}`))

	require.NoError(t, p.Start(context.Background()))
	assert.Error(t, p.Start(context.Background()))

	require.Eventually(t, func() bool {
		return rec.count() == 1
	}, 3*time.Second, 20*time.Millisecond)

	p.Stop()
	// 停止后幂等
	p.Stop()
}
