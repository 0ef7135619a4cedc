package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/linemk/resale-orders/internal/domain/models"
	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("cache miss")

// Cache - хранилище ответов трекинга с TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache {
	return &RedisCache{rdb: rdb}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return b, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// CachedGateway кеширует ответы Track; остальные вызовы идут напрямую.
// Сбои кеша не ломают запрос.
type CachedGateway struct {
	Gateway
	log   *slog.Logger
	cache Cache
	ttl   time.Duration
}

func NewCachedGateway(log *slog.Logger, next Gateway, cache Cache, ttl time.Duration) *CachedGateway {
	return &CachedGateway{Gateway: next, log: log, cache: cache, ttl: ttl}
}

func trackingKey(code string) string {
	return "tracking:" + code
}

func (g *CachedGateway) Track(ctx context.Context, trackingCode string) (*models.Tracking, error) {
	const op = "shipping.CachedGateway.Track"
	logger := g.log.With(slog.String("op", op), slog.String("tracking_code", trackingCode))

	key := trackingKey(trackingCode)
	raw, err := g.cache.Get(ctx, key)
	switch {
	case err == nil:
		var t models.Tracking
		uerr := json.Unmarshal(raw, &t)
		if uerr == nil {
			return &t, nil
		}
		logger.Warn("corrupted tracking cache entry", slog.Any("error", uerr))
	case !errors.Is(err, ErrCacheMiss):
		logger.Warn("tracking cache read failed", slog.Any("error", err))
	}

	t, err := g.Gateway.Track(ctx, trackingCode)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(t); err == nil {
		if err := g.cache.Set(ctx, key, payload, g.ttl); err != nil {
			logger.Warn("tracking cache write failed", slog.String("error", err.Error()))
		}
	}
	return t, nil
}
