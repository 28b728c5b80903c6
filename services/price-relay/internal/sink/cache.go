package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/YaganovValera/crypto-relay/services/price-relay/internal/relay"
)

const cacheKeyPrefix = "price:"

// PriceCache хранит последний тик каждого символа в Redis и отдаёт его
// как снимок новым подписчикам.
type PriceCache struct {
	client goredis.Cmdable
	ttl    time.Duration
}

// NewPriceCache создаёт кэш; ttl == 0 — без истечения.
func NewPriceCache(client goredis.Cmdable, ttl time.Duration) *PriceCache {
	return &PriceCache{client: client, ttl: ttl}
}

// Name — метка в метриках.
func (c *PriceCache) Name() string { return "redis" }

// Write сохраняет тик как последнюю цену символа.
func (c *PriceCache) Write(ctx context.Context, t relay.Tick) error {
	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode tick: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(t.Key()), b, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Latest возвращает последний сохранённый тик; false — символа нет в кэше.
func (c *PriceCache) Latest(ctx context.Context, symbol relay.Symbol) (relay.Tick, bool, error) {
	b, err := c.client.Get(ctx, cacheKey(symbol)).Bytes()
	switch {
	case errors.Is(err, goredis.Nil):
		return relay.Tick{}, false, nil
	case err != nil:
		return relay.Tick{}, false, fmt.Errorf("redis get: %w", err)
	}
	var t relay.Tick
	if err := json.Unmarshal(b, &t); err != nil {
		return relay.Tick{}, false, fmt.Errorf("decode cached tick: %w", err)
	}
	return t, true, nil
}

// Ping — readiness-проверка.
func (c *PriceCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func cacheKey(s relay.Symbol) string { return cacheKeyPrefix + string(s) }
