// common/redis/client.go
package redis

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/YaganovValera/crypto-relay/common/backoff"
	"github.com/YaganovValera/crypto-relay/common/logger"
)

// New создаёт клиента и дожидается первого успешного PING с back-off.
func New(ctx context.Context, cfg Config, log *logger.Logger) (*goredis.Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = log.Named("redis")

	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ping := func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
	if err := backoff.Execute(ctx, cfg.Backoff, log, ping); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}

	log.Info("redis ready", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	return rdb, nil
}
