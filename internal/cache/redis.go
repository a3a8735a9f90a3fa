// Package cache хранит рассчитанную сводку по проездам в Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mmeshcher/tollgate/internal/model"
)

// StatsKey задаёт ключ сводки в Redis.
const StatsKey = "tollgate:stats"

const pingTimeout = 2 * time.Second

// NewRedisClient подключается к Redis и проверяет соединение.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RedisCache реализует кэш сводки поверх Redis.
type RedisCache struct {
	client redis.Cmdable
	key    string
}

// NewRedisCache создаёт кэш поверх готового клиента.
func NewRedisCache(client redis.Cmdable) *RedisCache {
	return &RedisCache{client: client, key: StatsKey}
}

// GetStats возвращает сводку из кэша. Отсутствие значения не является ошибкой: возвращается nil.
func (c *RedisCache) GetStats(ctx context.Context) (*model.UsageStats, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}

	return decodeStats(data)
}

// SetStats сохраняет сводку на время ttl.
func (c *RedisCache) SetStats(ctx context.Context, stats *model.UsageStats, ttl time.Duration) error {
	data, err := encodeStats(stats)
	if err != nil {
		return err
	}

	if err := c.client.Set(ctx, c.key, data, ttl).Err(); err != nil {
		return fmt.Errorf("set stats: %w", err)
	}
	return nil
}

func encodeStats(stats *model.UsageStats) ([]byte, error) {
	if stats == nil {
		return nil, errors.New("nil stats")
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return nil, fmt.Errorf("marshal stats: %w", err)
	}
	return data, nil
}

func decodeStats(data []byte) (*model.UsageStats, error) {
	var stats model.UsageStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("unmarshal stats: %w", err)
	}
	return &stats, nil
}
