package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// AppConfig 聚合运行时配置，全部通过环境变量注入，避免硬编码。
type AppConfig struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	// DBDriver 取 sqlite（本地/测试）或 postgres（生产）
	DBDriver string `env:"DB_DRIVER" envDefault:"sqlite"`
	DBDSN    string `env:"DB_DSN" envDefault:"food_order.db"`

	// Redis 可选：关闭后不限流、不加下单锁、不做幂等
	RedisEnabled bool   `env:"REDIS_ENABLED" envDefault:"true"`
	RedisAddr    string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB      int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka 集群地址（逗号分隔）、事件 Topic、状态指令 Topic、消费者组
	KafkaEnabled      bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers      []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaEventTopic   string   `env:"KAFKA_EVENT_TOPIC" envDefault:"food-order-events"`
	KafkaCommandTopic string   `env:"KAFKA_COMMAND_TOPIC" envDefault:"food-order-status-commands"`
	KafkaGroupID      string   `env:"KAFKA_GROUP_ID" envDefault:"food-order-status-consumer"`

	// 下单接口限流、用户级下单锁、幂等键保留时间
	CheckoutRateLimit  int           `env:"CHECKOUT_RATE_LIMIT" envDefault:"20"`
	CheckoutRateWindow time.Duration `env:"CHECKOUT_RATE_WINDOW" envDefault:"1s"`
	CheckoutLockTTL    time.Duration `env:"CHECKOUT_LOCK_TTL" envDefault:"10s"`
	IdempotencyTTL     time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`

	// outbox relay 轮询间隔与每批条数
	RelayInterval  time.Duration `env:"RELAY_INTERVAL" envDefault:"500ms"`
	RelayBatchSize int           `env:"RELAY_BATCH_SIZE" envDefault:"100"`

	// 管理接口的简单令牌（demo 级别保护）
	AdminToken string `env:"ADMIN_TOKEN" envDefault:"dev-admin-token"`
}

// Load 读取并校验配置，缺失时使用默认值。
func Load() (AppConfig, error) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		return AppConfig{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.KafkaBrokers = trimAll(cfg.KafkaBrokers)

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate 检查取值范围；只在对应组件启用时才校验其配置。
func (c AppConfig) Validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return fmt.Errorf("DB_DSN must not be empty")
	}

	if c.RedisEnabled {
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR must not be empty")
		}
		if c.CheckoutRateLimit <= 0 {
			return fmt.Errorf("CHECKOUT_RATE_LIMIT must be > 0")
		}
		if c.CheckoutRateWindow <= 0 {
			return fmt.Errorf("CHECKOUT_RATE_WINDOW must be > 0")
		}
		if c.CheckoutLockTTL <= 0 {
			return fmt.Errorf("CHECKOUT_LOCK_TTL must be > 0")
		}
		if c.IdempotencyTTL <= 0 {
			return fmt.Errorf("IDEMPOTENCY_TTL must be > 0")
		}
	}

	if c.KafkaEnabled {
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS must not be empty")
		}
		if c.KafkaEventTopic == "" {
			return fmt.Errorf("KAFKA_EVENT_TOPIC must not be empty")
		}
		if c.KafkaCommandTopic == "" {
			return fmt.Errorf("KAFKA_COMMAND_TOPIC must not be empty")
		}
		if c.KafkaGroupID == "" {
			return fmt.Errorf("KAFKA_GROUP_ID must not be empty")
		}
		if c.RelayInterval <= 0 {
			return fmt.Errorf("RELAY_INTERVAL must be > 0")
		}
		if c.RelayBatchSize <= 0 {
			return fmt.Errorf("RELAY_BATCH_SIZE must be > 0")
		}
	}

	if c.AdminToken == "" {
		return fmt.Errorf("ADMIN_TOKEN must not be empty")
	}
	return nil
}

// trimAll 去掉逗号分隔后两侧的空白和空项。
func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		s := strings.TrimSpace(v)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
