package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/YaganovValera/crypto-relay/common/logger"
)

// RequestLogger логирует входящие HTTP-запросы с контекстом.
// Долгоживущие WebSocket-соединения попадают в лог по завершении со статусом 101.
func RequestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := wrapWriter(w)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Float64("latency_ms", float64(time.Since(start).Milliseconds())),
			}

			entry := log.WithContext(r.Context())
			switch {
			case status >= 500:
				entry.Error("HTTP request", fields...)
			case status >= 400:
				entry.Warn("HTTP request", fields...)
			default:
				entry.Debug("HTTP request", fields...)
			}
		})
	}
}
