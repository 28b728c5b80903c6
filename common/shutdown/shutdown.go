package shutdown

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/YaganovValera/crypto-relay/common/logger"
)

// GracefulShutdown выполняет shutdown-функцию с собственным таймаутом,
// независимым от уже отменённого контекста сервиса.
func GracefulShutdown(name string, timeout time.Duration, fn func(ctx context.Context) error, log *logger.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log.Info("shutdown: stopping", zap.String("component", name))
	if err := fn(ctx); err != nil {
		log.Error("shutdown: component stopped with error", zap.String("component", name), zap.Error(err))
		return err
	}
	log.Info("shutdown: stopped cleanly", zap.String("component", name))
	return nil
}

// Closer адаптирует Close() error к сигнатуре GracefulShutdown.
func Closer(close func() error) func(context.Context) error {
	return func(context.Context) error { return close() }
}
