// common/redis/config.go
package redis

import (
	"fmt"
	"time"

	"github.com/YaganovValera/crypto-relay/common/backoff"
)

// Config описывает подключение к Redis.
type Config struct {
	Addr         string         `mapstructure:"addr"`
	Password     string         `mapstructure:"password" json:"-"`
	DB           int            `mapstructure:"db"`
	PoolSize     int            `mapstructure:"pool_size"`
	DialTimeout  time.Duration  `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration  `mapstructure:"read_timeout"`
	WriteTimeout time.Duration  `mapstructure:"write_timeout"`
	Backoff      backoff.Config `mapstructure:"backoff"`
}

// ApplyDefaults заполняет пустые поля.
func (c *Config) ApplyDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 3 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = time.Second
	}
	if c.Backoff.MaxElapsedTime <= 0 {
		c.Backoff.MaxElapsedTime = 30 * time.Second
	}
}

// Validate проверяет обязательные поля.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("redis: addr is required")
	}
	if c.DB < 0 {
		return fmt.Errorf("redis: db must be ≥ 0")
	}
	return nil
}
