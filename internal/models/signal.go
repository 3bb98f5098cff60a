package models

import (
	"fmt"
	"time"
)

// SignalSource 信号来源
type SignalSource string

const (
	SourceFallbackTimer SignalSource = "fallback_timer" // 回退定时器（视频时钟到达阈值）
	SourceLiveFeed      SignalSource = "live_feed"      // mmWave 实时推送（MQTT）
	SourcePolledStatus  SignalSource = "polled_status"  // 轮询状态记录（Redis）
)

// SessionState 监控会话状态
type SessionState string

const (
	StateIdle      SessionState = "idle"      // 空闲，不接受任何信号
	StateArmed     SessionState = "armed"     // 已布防，接受第一个跌倒信号
	StateTriggered SessionState = "triggered" // 已触发，后续信号全部丢弃直到重新布防
)

// Signal 跌倒事件候选信号（由来源组件生产，仲裁器消费一次后即丢弃）
// 构造后不可变，可跨 goroutine 传递
type Signal struct {
	Source     SignalSource   `json:"source"`
	IsFall     bool           `json:"is_fall"`
	RawPayload map[string]any `json:"raw_payload"`
	ObservedAt time.Duration  `json:"observed_at"` // 信号产生时的模拟时钟位置
}

// Session 一次布防到触发/停止的监控运行
type Session struct {
	State             SessionState   `json:"state"`
	ElapsedSimTime    time.Duration  `json:"elapsed_sim_time"`
	FallbackThreshold time.Duration  `json:"fallback_threshold"`
	TriggeredSource   *SignalSource  `json:"triggered_source,omitempty"`
	TriggeredAt       *time.Duration `json:"triggered_at,omitempty"`
}

// AlertRecord 发给 Sink 的报警记录（JSONB data 列的内容）
// 构造后不可变
type AlertRecord struct {
	EventID        string         `json:"event_id"`
	RoomID         string         `json:"room_id"`
	DeviceID       string         `json:"device_id"`
	SessionTime    string         `json:"session_time"` // mm:ss 格式
	SessionSeconds float64        `json:"session_seconds"`
	Source         SignalSource   `json:"source"`
	StatusLabel    string         `json:"status_label"` // 如 "FALL DETECTED"
	RawPayload     map[string]any `json:"raw_payload"`
	DispatchedAt   time.Time      `json:"dispatched_at"`
}

// StatusLabelFall 跌倒报警的状态标签
const StatusLabelFall = "FALL DETECTED"

// 房间状态标签（对应数据配置的 status 字段）
const (
	StatusPeople     = "PEOPLE"
	StatusPeopleFall = "PEOPLE_FALL"
	StatusNoPeople   = "NO_PEOPLE"
)

// FormatSessionTime 格式化模拟时钟位置为 mm:ss
func FormatSessionTime(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
