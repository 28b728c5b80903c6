// services/price-relay/internal/upstream/config.go
package upstream

import (
	"fmt"
	"strings"
	"time"

	"github.com/YaganovValera/crypto-relay/common/backoff"
)

// Config задаёт параметры подключения к апстрим-фиду.
type Config struct {
	URL              string        `mapstructure:"url"`               // например "wss://stream.binance.com:9443/ws"
	ReconnectDelay   time.Duration `mapstructure:"reconnect_delay"`   // фиксированная пауза между попытками
	MaxReconnects    int           `mapstructure:"max_reconnects"`    // 0 — без ограничения
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`      // ReadDeadline; ping каждые ReadTimeout/3
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`     // дедлайн управляющих сообщений
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"` // таймаут WebSocket-рукопожатия
	BufferSize       int           `mapstructure:"buffer_size"`       // размер канала RawMessage
	SubscribeChunk   int           `mapstructure:"subscribe_chunk"`   // стримов в одном SUBSCRIBE при resync
}

// ApplyDefaults заполняет пустые поля.
func (c *Config) ApplyDefaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1024
	}
	if c.SubscribeChunk <= 0 {
		c.SubscribeChunk = 100
	}
}

// Validate проверяет обязательные поля.
func (c Config) Validate() error {
	var errs []string
	if c.URL == "" {
		errs = append(errs, "url is required")
	} else if !strings.HasPrefix(c.URL, "ws://") && !strings.HasPrefix(c.URL, "wss://") {
		errs = append(errs, "url must start with ws:// or wss://")
	}
	if c.MaxReconnects < 0 {
		errs = append(errs, "max_reconnects must be >= 0")
	}
	if len(errs) > 0 {
		return fmt.Errorf("upstream config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// retryPolicy — постоянная пауза ReconnectDelay, не более MaxReconnects повторов.
func (c Config) retryPolicy() backoff.Config {
	return backoff.Config{
		Strategy:        backoff.StrategyConstant,
		InitialInterval: c.ReconnectDelay,
		MaxRetries:      c.MaxReconnects,
	}
}
