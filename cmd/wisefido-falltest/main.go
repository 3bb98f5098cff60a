package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"wisefido-falltest/internal/config"
	"wisefido-falltest/internal/logger"
	"wisefido-falltest/internal/models"
	"wisefido-falltest/internal/service"

	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-falltest")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. 创建服务
	harness, err := service.NewHarnessService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create harness service",
			zap.Error(err),
		)
	}
	defer harness.Stop()

	// 4. 创建上下文（支持优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. 启动后台信号来源
	if err := harness.Start(ctx); err != nil {
		log.Fatal("Failed to start harness service",
			zap.Error(err),
		)
	}

	// 6. 布防并启动播放（无媒体时为固定节拍的模拟时钟）
	if err := harness.Arm(); err != nil {
		log.Fatal("Failed to arm session",
			zap.Error(err),
		)
	}
	if err := harness.StartPlayback(nil); err != nil {
		log.Fatal("Failed to start playback",
			zap.Error(err),
		)
	}

	// 7. 消费事件直到触发或收到信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case sig := <-sigChan:
			log.Info("Received signal, shutting down",
				zap.String("signal", sig.String()),
			)
			harness.StopSession()
			return

		case ev := <-harness.Events():
			switch ev.Type {
			case models.EventTriggered:
				log.Info("Fall alert triggered",
					zap.String("source", string(ev.Source)),
					zap.String("session_time", models.FormatSessionTime(ev.Elapsed)),
				)
			case models.EventDispatched:
				log.Info("Alert dispatched, session complete",
					zap.String("source", string(ev.Source)),
				)
				harness.StopSession()
				return
			case models.EventDispatchFailed:
				log.Error("Alert dispatch failed",
					zap.String("error", ev.Err),
				)
			case models.EventStatusChanged:
				log.Info("Component status changed",
					zap.String("component", string(ev.Component)),
					zap.String("status", ev.Status),
				)
			case models.EventPlaybackFinished:
				log.Info("Playback finished without trigger")
				harness.StopSession()
				return
			}
		}
	}
}
