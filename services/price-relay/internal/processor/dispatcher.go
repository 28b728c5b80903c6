// services/price-relay/internal/processor/dispatcher.go
package processor

import (
	"context"

	"go.uber.org/zap"

	"github.com/YaganovValera/crypto-relay/common/logger"
	"github.com/YaganovValera/crypto-relay/common/telemetry"
	"github.com/YaganovValera/crypto-relay/services/price-relay/internal/upstream"
)

var dispatcherTracer = telemetry.Tracer("relay/processor/dispatcher")

// DispatchRouter маршрутизирует входящие сообщения по типу события.
type DispatchRouter struct {
	processors map[string]Processor
	log        *logger.Logger
}

// NewRouter создает маршрутизатор с логгером.
func NewRouter(log *logger.Logger) *DispatchRouter {
	return &DispatchRouter{
		processors: make(map[string]Processor),
		log:        log.Named("router"),
	}
}

// Register добавляет обработчик для заданного типа событий.
func (r *DispatchRouter) Register(eventType string, proc Processor) {
	r.processors[eventType] = proc
}

// Run обрабатывает сообщения, пока канал in не закрыт или ctx не отменён.
func (r *DispatchRouter) Run(ctx context.Context, in <-chan upstream.RawMessage) error {
	ctx, span := dispatcherTracer.Start(ctx, "DispatchRouter.Run")
	defer span.End()

	for {
		var msg upstream.RawMessage
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok = <-in:
			if !ok {
				return nil
			}
		}

		proc, found := r.processors[msg.Type]
		if !found {
			r.log.WithContext(ctx).Debug("unsupported event type",
				zap.String("event_type", msg.Type),
			)
			continue
		}

		if err := proc.Process(ctx, msg); err != nil {
			r.log.WithContext(ctx).Error("event processing failed",
				zap.String("event_type", msg.Type),
				zap.Error(err),
			)
		}
	}
}
