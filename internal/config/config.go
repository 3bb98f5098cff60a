package config

import (
	"fmt"
	"os"
	"strconv"
)

// DatabaseConfig PostgreSQL 配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT 配置
type MQTTConfig struct {
	Broker     string // 如 "tcp://localhost:1883"
	ClientID   string
	Username   string
	Password   string
	Topic      string // 订阅的 mmWave 数据主题
	AlertTopic string // MQTT Sink 发布报警的主题
	QoS        byte
}

// DispatchFailurePolicy 派发失败后的会话策略
type DispatchFailurePolicy string

const (
	// PolicyStayTriggered 保持 Triggered（原始行为：一次跌倒绝不重复报警）
	PolicyStayTriggered DispatchFailurePolicy = "stay_triggered"
	// PolicyRearm 回到 Armed，允许后续信号重试
	PolicyRearm DispatchFailurePolicy = "rearm"
)

// Config 测试台服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig

	// 测试台特定配置
	Harness struct {
		RoomID   string
		DeviceID string

		TableName string // 报警事件表名

		FallbackThresholdSec int     // 回退定时器阈值（秒）
		FrameRate            float64 // 无帧源时自由运行时钟的帧率

		PollIntervalSec int    // 状态轮询间隔（秒）
		StatusKeyPrefix string // 状态记录键前缀，如 "falltest:room:"
		StatusKeySuffix string // 状态记录键后缀，如 ":status"

		SinkBackend     string // "postgres" | "rest" | "mqtt"
		RESTBaseURL     string
		HistoryLimit    int
		FailurePolicy   DispatchFailurePolicy
		EventBufferSize int // 对外事件通道缓冲
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置（从环境变量，带默认值）
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "fall_detection")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "wisefido-falltest")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.Topic = getEnv("MQTT_TOPIC", "rsi/mmwave/#")
	cfg.MQTT.AlertTopic = getEnv("MQTT_ALERT_TOPIC", "fall_detection/alerts")
	cfg.MQTT.QoS = 1

	cfg.Harness.RoomID = getEnv("ROOM_ID", "ROOM_01")
	cfg.Harness.DeviceID = getEnv("DEVICE_ID", "CAM_001")
	cfg.Harness.TableName = getEnv("TABLE_NAME", "fall_events")
	cfg.Harness.FallbackThresholdSec = getEnvInt("FALLBACK_THRESHOLD_SEC", 10)
	cfg.Harness.FrameRate = 30
	cfg.Harness.PollIntervalSec = getEnvInt("POLL_INTERVAL_SEC", 1)
	cfg.Harness.StatusKeyPrefix = getEnv("STATUS_KEY_PREFIX", "falltest:room:")
	cfg.Harness.StatusKeySuffix = ":status"
	cfg.Harness.SinkBackend = getEnv("SINK_BACKEND", "postgres")
	cfg.Harness.RESTBaseURL = getEnv("REST_BASE_URL", "http://localhost:8000")
	cfg.Harness.HistoryLimit = 200
	cfg.Harness.FailurePolicy = DispatchFailurePolicy(getEnv("DISPATCH_FAILURE_POLICY", string(PolicyStayTriggered)))
	cfg.Harness.EventBufferSize = 256

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	// 校验派发失败策略
	switch cfg.Harness.FailurePolicy {
	case PolicyStayTriggered, PolicyRearm:
	default:
		return nil, fmt.Errorf("invalid dispatch failure policy: %s", cfg.Harness.FailurePolicy)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
