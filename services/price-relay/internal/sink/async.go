// Package sink доставляет тики во внешние хранилища (Redis, Kafka) в фоне,
// не задерживая рассылку клиентам.
package sink

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/YaganovValera/crypto-relay/common/logger"
	"github.com/YaganovValera/crypto-relay/common/telemetry"
	"github.com/YaganovValera/crypto-relay/services/price-relay/internal/metrics"
	"github.com/YaganovValera/crypto-relay/services/price-relay/internal/relay"
)

var tracer = telemetry.Tracer("relay/sink")

// Writer записывает один тик во внешнее хранилище.
type Writer interface {
	Write(ctx context.Context, t relay.Tick) error
	Name() string
}

// Async — буферизованная очередь перед Writer с одним рабочим.
// При переполнении тик отбрасывается: следующий всё равно его заменит.
type Async struct {
	w   Writer
	ch  chan relay.Tick
	log *logger.Logger
}

// NewAsync создаёт очередь ёмкостью buffer.
func NewAsync(w Writer, buffer int, log *logger.Logger) *Async {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Async{
		w:   w,
		ch:  make(chan relay.Tick, buffer),
		log: log.Named("sink").With(zap.String("sink", w.Name())),
	}
}

// Publish ставит тик в очередь без блокировки.
func (a *Async) Publish(t relay.Tick) {
	select {
	case a.ch <- t:
	default:
		metrics.SinkDrops.WithLabelValues(a.w.Name()).Inc()
	}
}

// Run пишет тики до отмены ctx.
func (a *Async) Run(ctx context.Context) error {
	a.log.Info("sink started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-a.ch:
			a.write(ctx, t)
		}
	}
}

func (a *Async) write(ctx context.Context, t relay.Tick) {
	ctx, span := tracer.Start(ctx, "sink.write")
	defer span.End()
	span.SetAttributes(
		attribute.String("sink", a.w.Name()),
		attribute.String("symbol", t.Symbol),
	)

	if err := a.w.Write(ctx, t); err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.SinkErrors.WithLabelValues(a.w.Name()).Inc()
		span.RecordError(err)
		a.log.WithContext(ctx).Warn("sink write failed",
			zap.String("symbol", t.Symbol),
			zap.Error(err),
		)
	}
}
