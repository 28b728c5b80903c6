// services/price-relay/internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/YaganovValera/crypto-relay/common/configloader"
	"github.com/YaganovValera/crypto-relay/common/httpserver"
	producer "github.com/YaganovValera/crypto-relay/common/kafka/producer"
	"github.com/YaganovValera/crypto-relay/common/logger"
	commonredis "github.com/YaganovValera/crypto-relay/common/redis"
	"github.com/YaganovValera/crypto-relay/common/telemetry"
	"github.com/YaganovValera/crypto-relay/services/price-relay/internal/auth"
	"github.com/YaganovValera/crypto-relay/services/price-relay/internal/relay"
	"github.com/YaganovValera/crypto-relay/services/price-relay/internal/transport/ws"
	"github.com/YaganovValera/crypto-relay/services/price-relay/internal/upstream"
)

// EnvPrefix — префикс переменных окружения сервиса (RELAY_UPSTREAM_URL и т.д.).
const EnvPrefix = "RELAY"

/*
   --------------------------------------------------------------------------
   СТРУКТУРЫ
   --------------------------------------------------------------------------
*/

// Config — все настройки сервиса.
type Config struct {
	ServiceName    string            `mapstructure:"service_name"`
	ServiceVersion string            `mapstructure:"service_version"`
	Logging        logger.Config     `mapstructure:"logging"`
	Telemetry      telemetry.Config  `mapstructure:"telemetry"`
	HTTP           httpserver.Config `mapstructure:"http"`
	Upstream       upstream.Config   `mapstructure:"upstream"`
	Relay          RelayConfig       `mapstructure:"relay"`
	Auth           auth.Config       `mapstructure:"auth"`
	Redis          RedisConfig       `mapstructure:"redis"`
	Kafka          KafkaConfig       `mapstructure:"kafka"`
}

// RelayConfig — очереди hub и параметры клиентских соединений.
type RelayConfig struct {
	Hub relay.HubConfig `mapstructure:",squash"`
	WS  ws.Config       `mapstructure:",squash"`
}

// RedisConfig — кэш последних цен (снимок для новых подписчиков).
type RedisConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	TTL                time.Duration `mapstructure:"ttl"`
	Buffer             int           `mapstructure:"buffer"`
	commonredis.Config `mapstructure:",squash"`
}

// KafkaConfig — архив тиков.
type KafkaConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Topic           string `mapstructure:"topic"`
	Buffer          int    `mapstructure:"buffer"`
	producer.Config `mapstructure:",squash"`
}

/*
   --------------------------------------------------------------------------
   LOADER
   --------------------------------------------------------------------------
*/

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"service_name":    "price-relay",
		"service_version": "v1.0.0",

		// Logging
		"logging.level":    "info",
		"logging.dev_mode": false,

		// Telemetry
		"telemetry.enabled":       false,
		"telemetry.endpoint":      "otel-collector:4317",
		"telemetry.insecure":      true,
		"telemetry.timeout":       "5s",
		"telemetry.sampler_ratio": 1.0,

		// HTTP
		"http.port":             8080,
		"http.read_timeout":     "10s",
		"http.write_timeout":    "15s",
		"http.idle_timeout":     "60s",
		"http.shutdown_timeout": "5s",
		"http.metrics_path":     "/metrics",
		"http.healthz_path":     "/healthz",
		"http.readyz_path":      "/readyz",

		// Upstream
		"upstream.url":               "wss://stream.binance.com:9443/ws",
		"upstream.reconnect_delay":   "5s",
		"upstream.max_reconnects":    5,
		"upstream.read_timeout":      "30s",
		"upstream.write_timeout":     "5s",
		"upstream.handshake_timeout": "10s",
		"upstream.buffer_size":       1024,
		"upstream.subscribe_chunk":   100,

		// Relay
		"relay.event_buffer":     256,
		"relay.tick_buffer":      1024,
		"relay.path":             "/ws",
		"relay.stats_path":       "/stats",
		"relay.send_buffer":      256,
		"relay.rate_limit":       20.0,
		"relay.rate_burst":       40,
		"relay.write_wait":       "10s",
		"relay.pong_wait":        "60s",
		"relay.max_message_size": 4096,
		"relay.allowed_origins":  []string{},

		// Auth
		"auth.enabled":  false,
		"auth.secret":   "",
		"auth.issuer":   "",
		"auth.audience": "",
		"auth.leeway":   "30s",

		// Redis
		"redis.enabled":                    false,
		"redis.ttl":                        "10m",
		"redis.buffer":                     1024,
		"redis.addr":                       "localhost:6379",
		"redis.password":                   "",
		"redis.db":                         0,
		"redis.pool_size":                  10,
		"redis.dial_timeout":               "3s",
		"redis.read_timeout":               "1s",
		"redis.write_timeout":              "1s",
		"redis.backoff.max_elapsed_time":   "30s",
		"redis.backoff.initial_interval":   "500ms",

		// Kafka
		"kafka.enabled":                  false,
		"kafka.topic":                    "relay.ticks",
		"kafka.buffer":                   4096,
		"kafka.brokers":                  []string{"localhost:9092"},
		"kafka.client_id":                "price-relay",
		"kafka.required_acks":            "leader",
		"kafka.timeout":                  "5s",
		"kafka.compression":              "snappy",
		"kafka.flush_frequency":          "100ms",
		"kafka.flush_messages":           0,
		"kafka.backoff.max_elapsed_time": "30s",
		"kafka.backoff.initial_interval": "500ms",
	}
}

// Load загружает и валидирует конфиг: defaults → .env → ENV (RELAY_*) → YAML.
// Пустые path и envFile пропускаются.
func Load(path, envFile string) (*Config, error) {
	var cfg Config
	if err := configloader.Load(configloader.Options{
		Path:      path,
		EnvFile:   envFile,
		EnvPrefix: EnvPrefix,
		Out:       &cfg,
		Defaults:  defaults(),
	}); err != nil {
		return nil, err
	}
	return &cfg, nil
}

/*
   --------------------------------------------------------------------------
   VALIDATION
   --------------------------------------------------------------------------
*/

// Validate применяет дефолты секций и проверяет их.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service_version is required")
	}

	c.Logging.ApplyDefaults()
	if err := c.Logging.Validate(); err != nil {
		return err
	}

	c.Telemetry.ServiceName = c.ServiceName
	c.Telemetry.ServiceVersion = c.ServiceVersion
	c.Telemetry.ApplyDefaults()
	if err := c.Telemetry.Validate(); err != nil {
		return err
	}

	c.HTTP.ApplyDefaults()
	if err := c.HTTP.Validate(); err != nil {
		return err
	}

	c.Upstream.ApplyDefaults()
	if err := c.Upstream.Validate(); err != nil {
		return err
	}

	c.Relay.Hub.ApplyDefaults()
	c.Relay.WS.ApplyDefaults()
	if err := c.Relay.WS.Validate(); err != nil {
		return err
	}
	for _, p := range []string{c.HTTP.MetricsPath, c.HTTP.HealthzPath, c.HTTP.ReadyzPath} {
		if p == c.Relay.WS.Path || p == c.Relay.WS.StatsPath {
			return fmt.Errorf("relay path %q collides with http service path", p)
		}
	}

	if err := c.Auth.Validate(); err != nil {
		return err
	}

	if c.Redis.Enabled {
		c.Redis.Config.ApplyDefaults()
		if err := c.Redis.Config.Validate(); err != nil {
			return err
		}
		if c.Redis.TTL < 0 {
			return fmt.Errorf("redis.ttl must be >= 0")
		}
	}

	if c.Kafka.Enabled {
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka.topic is required when kafka is enabled")
		}
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required when kafka is enabled")
		}
		switch strings.ToLower(c.Kafka.RequiredAcks) {
		case "all", "leader", "none":
		default:
			return fmt.Errorf("kafka.required_acks must be one of [all, leader, none]")
		}
		switch strings.ToLower(c.Kafka.Compression) {
		case "none", "gzip", "snappy", "lz4", "zstd":
		default:
			return fmt.Errorf("kafka.compression must be one of [none, gzip, snappy, lz4, zstd]")
		}
	}
	return nil
}

/*
   --------------------------------------------------------------------------
   DEBUG PRINT
   --------------------------------------------------------------------------
*/

// Print выводит текущий конфиг в JSON (удобно в DevMode). Секреты скрыты тегами json:"-".
func (c *Config) Print() {
	configloader.PrintConfig(c)
}
