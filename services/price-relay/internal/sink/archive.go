package sink

import (
	"context"
	"encoding/json"
	"fmt"

	commonkafka "github.com/YaganovValera/crypto-relay/common/kafka"
	"github.com/YaganovValera/crypto-relay/services/price-relay/internal/relay"
)

// Archive публикует каждый тик в Kafka-топик; ключ — символ, чтобы
// тики одного инструмента попадали в одну партицию.
type Archive struct {
	producer commonkafka.Producer
	topic    string
}

// NewArchive создаёт архив поверх producer.
func NewArchive(p commonkafka.Producer, topic string) *Archive {
	return &Archive{producer: p, topic: topic}
}

// Name — метка в метриках.
func (a *Archive) Name() string { return "kafka" }

// Write публикует тик в JSON.
func (a *Archive) Write(ctx context.Context, t relay.Tick) error {
	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode tick: %w", err)
	}
	return a.producer.Publish(ctx, a.topic, []byte(t.Key()), b)
}
