package ws

import (
	"fmt"
	"strings"
	"time"
)

// Config — параметры клиентских WebSocket-соединений.
type Config struct {
	Path           string        `mapstructure:"path"`
	StatsPath      string        `mapstructure:"stats_path"`
	SendBuffer     int           `mapstructure:"send_buffer"`      // кадров в очереди на клиента
	RateLimit      float64       `mapstructure:"rate_limit"`       // входящих сообщений в секунду
	RateBurst      int           `mapstructure:"rate_burst"`       // допустимый всплеск
	WriteWait      time.Duration `mapstructure:"write_wait"`       // дедлайн одной записи
	PongWait       time.Duration `mapstructure:"pong_wait"`        // ожидание pong; ping каждые 9/10
	MaxMessageSize int64         `mapstructure:"max_message_size"` // байт во входящем кадре
	AllowedOrigins []string      `mapstructure:"allowed_origins"`  // пусто или "*" — любой Origin
}

// ApplyDefaults заполняет пустые поля.
func (c *Config) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "/ws"
	}
	if c.StatsPath == "" {
		c.StatsPath = "/stats"
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 20
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 40
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 4096
	}
}

// Validate проверяет согласованность полей.
func (c Config) Validate() error {
	var errs []string
	if !strings.HasPrefix(c.Path, "/") {
		errs = append(errs, "path must start with /")
	}
	if c.StatsPath != "" && !strings.HasPrefix(c.StatsPath, "/") {
		errs = append(errs, "stats_path must start with /")
	}
	if c.StatsPath == c.Path {
		errs = append(errs, "stats_path must differ from path")
	}
	if len(errs) > 0 {
		return fmt.Errorf("ws config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c Config) pingPeriod() time.Duration { return c.PongWait * 9 / 10 }
