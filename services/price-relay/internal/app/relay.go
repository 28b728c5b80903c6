// services/price-relay/internal/app/relay.go
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/YaganovValera/crypto-relay/common"
	"github.com/YaganovValera/crypto-relay/common/httpserver"
	producer "github.com/YaganovValera/crypto-relay/common/kafka/producer"
	"github.com/YaganovValera/crypto-relay/common/logger"
	"github.com/YaganovValera/crypto-relay/common/middleware"
	commonredis "github.com/YaganovValera/crypto-relay/common/redis"
	"github.com/YaganovValera/crypto-relay/common/shutdown"
	"github.com/YaganovValera/crypto-relay/common/telemetry"

	"github.com/YaganovValera/crypto-relay/services/price-relay/internal/auth"
	"github.com/YaganovValera/crypto-relay/services/price-relay/internal/config"
	"github.com/YaganovValera/crypto-relay/services/price-relay/internal/metrics"
	"github.com/YaganovValera/crypto-relay/services/price-relay/internal/processor"
	"github.com/YaganovValera/crypto-relay/services/price-relay/internal/relay"
	"github.com/YaganovValera/crypto-relay/services/price-relay/internal/sink"
	"github.com/YaganovValera/crypto-relay/services/price-relay/internal/transport/ws"
	"github.com/YaganovValera/crypto-relay/services/price-relay/internal/upstream"
)

const (
	readinessTimeout = 2 * time.Second
	closeTimeout     = 5 * time.Second
)

// Run собирает сервис и блокируется до отмены ctx или фатальной ошибки
// одного из компонентов (например, исчерпания попыток переподключения).
func Run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	common.InitServiceName(cfg.ServiceName)
	metrics.Register(nil)
	upstream.RegisterMetrics(nil)

	// Инициализируем трассировку
	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Telemetry, log)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() { _ = shutdown.GracefulShutdown("telemetry", closeTimeout, shutdownTracer, log) }()

	var (
		sinks       []*sink.Async
		snapshots   relay.Snapshotter
		readyChecks []func(context.Context) error
	)

	// 1) Redis: кэш последних цен и снимки для новых подписчиков
	if cfg.Redis.Enabled {
		rdb, err := commonredis.New(ctx, cfg.Redis.Config, log)
		if err != nil {
			return fmt.Errorf("redis init: %w", err)
		}
		defer func() { _ = shutdown.GracefulShutdown("redis", closeTimeout, shutdown.Closer(rdb.Close), log) }()

		cache := sink.NewPriceCache(rdb, cfg.Redis.TTL)
		snapshots = cache
		sinks = append(sinks, sink.NewAsync(cache, cfg.Redis.Buffer, log))
		readyChecks = append(readyChecks, cache.Ping)
	}

	// 2) Kafka: архив тиков
	if cfg.Kafka.Enabled {
		kafkaProd, err := producer.New(ctx, cfg.Kafka.Config, log)
		if err != nil {
			return fmt.Errorf("kafka producer init: %w", err)
		}
		defer func() { _ = shutdown.GracefulShutdown("kafka-producer", closeTimeout, shutdown.Closer(kafkaProd.Close), log) }()

		sinks = append(sinks, sink.NewAsync(sink.NewArchive(kafkaProd, cfg.Kafka.Topic), cfg.Kafka.Buffer, log))
		readyChecks = append(readyChecks, kafkaProd.Ping)
	}

	// 3) Upstream и hub ссылаются друг на друга: hub подписывает через
	// коннектор, коннектор после каждого подключения просит hub о resync.
	var hub *relay.Hub
	conn, err := upstream.NewConnector(cfg.Upstream, func() { hub.Resync() }, log)
	if err != nil {
		return fmt.Errorf("upstream connector init: %w", err)
	}
	hub = relay.NewHub(cfg.Relay.Hub, conn, snapshots, log)
	readyChecks = append([]func(context.Context) error{conn.Ready}, readyChecks...)

	// 4) Маршрутизатор: trade → hub и sinks
	tickSinks := []processor.TickSink{hub}
	for _, s := range sinks {
		tickSinks = append(tickSinks, s)
	}
	router := processor.NewRouter(log)
	router.Register(processor.EventTypeTrade, processor.NewTradeProcessor(log, tickSinks...))

	// 5) Клиентский WebSocket
	verifier, err := auth.NewVerifier(cfg.Auth)
	if err != nil {
		return fmt.Errorf("auth init: %w", err)
	}
	if !verifier.Enabled() {
		log.Warn("authentication disabled, clients connect anonymously")
	}
	wsHandler, err := ws.NewHandler(cfg.Relay.WS, hub, verifier, log)
	if err != nil {
		return fmt.Errorf("ws handler init: %w", err)
	}

	// HTTP-сервер
	httpSrv, err := httpserver.New(
		cfg.HTTP,
		readiness(readyChecks),
		log,
		wsHandler.Routes(),
		httpserver.RecoverMiddleware(log),
		httpserver.CORSMiddleware(cfg.Relay.WS.AllowedOrigins...),
		middleware.Compose(middleware.RequestID(), middleware.RequestLogger(log), middleware.Metrics()),
	)
	if err != nil {
		return fmt.Errorf("httpserver init: %w", err)
	}

	log.Info("price relay starting",
		zap.String("upstream", cfg.Upstream.URL),
		zap.String("ws.path", cfg.Relay.WS.Path),
		zap.Bool("redis", cfg.Redis.Enabled),
		zap.Bool("kafka", cfg.Kafka.Enabled),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpSrv.Run(ctx) })
	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return conn.Run(ctx) })
	g.Go(func() error { return router.Run(ctx, conn.Messages()) })
	for _, s := range sinks {
		g.Go(func() error { return s.Run(ctx) })
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("price relay stopped by context")
			return nil
		}
		return err
	}
	return nil
}

// readiness готов, когда апстрим подключён и все включённые хранилища отвечают.
func readiness(checks []func(context.Context) error) httpserver.ReadyChecker {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), readinessTimeout)
		defer cancel()
		for _, check := range checks {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

