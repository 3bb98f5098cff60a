package models

import (
	"time"
)

// EventType 对外通知事件类型（core → 表现层）
type EventType string

const (
	EventTimeAdvanced     EventType = "time_advanced"     // 模拟时钟前进
	EventStatusChanged    EventType = "status_changed"    // 组件连接/运行状态变化
	EventTriggered        EventType = "triggered"         // 仲裁器接受了一个信号
	EventDispatched       EventType = "dispatched"        // 报警记录已成功写入 Sink
	EventDispatchFailed   EventType = "dispatch_failed"   // Sink 写入失败
	EventPlaybackFinished EventType = "playback_finished" // 帧源耗尽，本次播放结束
)

// ComponentName 事件来源组件
type ComponentName string

const (
	ComponentPlayback ComponentName = "playback_clock"
	ComponentListener ComponentName = "live_feed"
	ComponentPoller   ComponentName = "status_poller"
	ComponentSink     ComponentName = "sink"
)

// Event 对外通知事件
// core 不假设任何 UI 框架，表现层通过事件通道消费
type Event struct {
	Type      EventType     `json:"type"`
	Component ComponentName `json:"component,omitempty"`
	Status    string        `json:"status,omitempty"` // status_changed 的状态文本
	Elapsed   time.Duration `json:"elapsed,omitempty"`
	Total     time.Duration `json:"total,omitempty"`
	Source    SignalSource  `json:"source,omitempty"` // triggered/dispatched 的信号来源
	Err       string        `json:"error,omitempty"`  // dispatch_failed 等的错误文本
	At        time.Time     `json:"at"`
}

// 组件状态文本（status_changed 事件的 Status 字段取值）
const (
	StatusConnected     = "connected"
	StatusConnectFailed = "connect_failed"
	StatusDisconnected  = "disconnected"
	StatusReconnecting  = "reconnecting"
)
