// services/price-relay/internal/processor/trade.go
package processor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/YaganovValera/crypto-relay/common/logger"
	"github.com/YaganovValera/crypto-relay/common/telemetry"
	"github.com/YaganovValera/crypto-relay/services/price-relay/internal/metrics"
	"github.com/YaganovValera/crypto-relay/services/price-relay/internal/relay"
	"github.com/YaganovValera/crypto-relay/services/price-relay/internal/upstream"
)

const EventTypeTrade = "trade"

var tradeTracer = telemetry.Tracer("relay/processor/trade")

// tradeEvent — сделка апстрима в формате Binance trade stream.
type tradeEvent struct {
	EventType  string `json:"e"` // тип события (должен быть "trade")
	EventTime  int64  `json:"E"` // event time (Unix ms)
	Symbol     string `json:"s"` // символ
	Price      string `json:"p"` // цена
	Quantity   string `json:"q"` // объём
	TradeTime  int64  `json:"T"` // trade time (Unix ms)
	BuyerMaker bool   `json:"m"` // покупатель — мейкер
}

type tradeProcessor struct {
	sinks []TickSink
	log   *logger.Logger
}

// NewTradeProcessor разбирает trade-события и рассылает тики всем sinks.
func NewTradeProcessor(log *logger.Logger, sinks ...TickSink) Processor {
	return &tradeProcessor{sinks: sinks, log: log.Named("trade")}
}

func (tp *tradeProcessor) Process(ctx context.Context, raw upstream.RawMessage) error {
	if raw.Type != EventTypeTrade {
		return nil
	}

	ctx, span := tradeTracer.Start(ctx, "Process")
	defer span.End()

	tick, err := ParseTrade(raw.Data)
	if err != nil {
		metrics.ParseErrors.Inc()
		tp.log.WithContext(ctx).Error("failed to parse trade",
			zap.ByteString("raw", raw.Data),
			zap.Error(err),
		)
		span.RecordError(err)
		// битое событие не повод останавливать поток
		return nil
	}
	span.SetAttributes(attribute.String("symbol", tick.Symbol))
	metrics.TicksReceived.Inc()

	for _, s := range tp.sinks {
		s.Publish(tick)
	}
	return nil
}

// ParseTrade превращает trade-событие в relay.Tick. Цена и объём разбираются
// как десятичные строки; timestamp — время сделки, либо время события, если его нет.
func ParseTrade(data []byte) (relay.Tick, error) {
	var evt tradeEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return relay.Tick{}, fmt.Errorf("unmarshal trade: %w", err)
	}
	if evt.Symbol == "" {
		return relay.Tick{}, fmt.Errorf("trade without symbol")
	}

	price, err := decimal.NewFromString(evt.Price)
	if err != nil {
		return relay.Tick{}, fmt.Errorf("invalid price %q: %w", evt.Price, err)
	}
	qty, err := decimal.NewFromString(evt.Quantity)
	if err != nil {
		return relay.Tick{}, fmt.Errorf("invalid quantity %q: %w", evt.Quantity, err)
	}
	if price.IsNegative() || qty.IsNegative() {
		return relay.Tick{}, fmt.Errorf("negative price or quantity: %s/%s", evt.Price, evt.Quantity)
	}

	ts := evt.TradeTime
	if ts == 0 {
		ts = evt.EventTime
	}

	p, _ := price.Float64()
	q, _ := qty.Float64()
	return relay.Tick{
		Symbol:     evt.Symbol,
		Price:      p,
		Quantity:   q,
		Timestamp:  ts,
		BuyerMaker: evt.BuyerMaker,
	}, nil
}
