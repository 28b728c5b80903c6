package processor

import (
	"context"

	"github.com/YaganovValera/crypto-relay/services/price-relay/internal/relay"
	"github.com/YaganovValera/crypto-relay/services/price-relay/internal/upstream"
)

// Processor определяет контракт на обработку сырых WS-сообщений апстрима.
type Processor interface {
	// Process разбирает одно сообщение и передаёт результат получателям.
	Process(ctx context.Context, raw upstream.RawMessage) error
}

// TickSink получает разобранные тики. Publish не должен блокироваться:
// его вызывает единственная goroutine маршрутизатора.
type TickSink interface {
	Publish(t relay.Tick)
}
