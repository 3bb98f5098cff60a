package playback

import (
	"fmt"
	"time"
)

// StreamInfo 帧源元信息
type StreamInfo struct {
	FPS         float64
	TotalFrames int64 // 0 表示无界（自由运行）
}

// TotalDuration 总时长（无界帧源返回 0）
func (i StreamInfo) TotalDuration() time.Duration {
	if i.TotalFrames <= 0 || i.FPS <= 0 {
		return 0
	}
	return time.Duration(float64(i.TotalFrames) / i.FPS * float64(time.Second))
}

// FrameSource 帧源（视频文件、或无媒体时的固定节拍器）
// core 只需要单调的位置和速率，不关心媒体格式
type FrameSource interface {
	// Open 打开帧源，返回元信息
	Open() (StreamInfo, error)
	// Next 推进到下一帧；返回 false 表示流结束
	Next() bool
	// Close 释放帧源
	Close() error
}

// TickSource 自由运行的固定节拍帧源（无视频时使用）
// 每帧阻塞约 1/fps 的真实时间，TotalFrames=0 时永不结束
type TickSource struct {
	fps         float64
	totalFrames int64
	emitted     int64
	opened      bool
}

// NewTickSource 创建固定节拍帧源
// totalFrames 为 0 表示无界
func NewTickSource(fps float64, totalFrames int64) *TickSource {
	return &TickSource{
		fps:         fps,
		totalFrames: totalFrames,
	}
}

// Open 打开节拍器
func (s *TickSource) Open() (StreamInfo, error) {
	if s.fps <= 0 {
		return StreamInfo{}, fmt.Errorf("invalid frame rate: %f", s.fps)
	}
	s.opened = true
	return StreamInfo{FPS: s.fps, TotalFrames: s.totalFrames}, nil
}

// Next 阻塞一个帧周期
func (s *TickSource) Next() bool {
	if !s.opened {
		return false
	}
	if s.totalFrames > 0 && s.emitted >= s.totalFrames {
		return false
	}

	interval := time.Duration(float64(time.Second) / s.fps)
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	time.Sleep(interval)

	s.emitted++
	return true
}

// Close 关闭节拍器
func (s *TickSource) Close() error {
	s.opened = false
	return nil
}
