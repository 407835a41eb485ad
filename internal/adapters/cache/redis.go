package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cristian-anAI/stock-analyzer-sub000/internal/domain"
	"github.com/cristian-anAI/stock-analyzer-sub000/internal/ports"
)

const keyPrefix = "snapshot:"

// RedisConfig son los parámetros de conexión.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// Redis guarda cada snapshot como JSON en "snapshot:{symbol}" con expiración nativa.
// Permite compartir la cache entre varios procesos del engine.
type Redis struct {
	rdb *redis.Client
}

// NewRedis conecta y verifica con PING.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("cache.NewRedis: ping %s: %w", cfg.Addr, err)
	}
	return &Redis{rdb: rdb}, nil
}

// NewRedisFromClient envuelve un cliente ya creado.
func NewRedisFromClient(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func snapshotKey(symbol string) string { return keyPrefix + symbol }

// IsFresh indica si la clave existe (Redis ya expiró las viejas).
func (r *Redis) IsFresh(ctx context.Context, symbol string) bool {
	n, err := r.rdb.Exists(ctx, snapshotKey(symbol)).Result()
	return err == nil && n > 0
}

// Get devuelve el snapshot o domain.ErrNotFound.
func (r *Redis) Get(ctx context.Context, symbol string) (domain.MarketSnapshot, error) {
	raw, err := r.rdb.Get(ctx, snapshotKey(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.MarketSnapshot{}, fmt.Errorf("cache.Get: %s: %w", symbol, domain.ErrNotFound)
	}
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("cache.Get: %s: %w", symbol, err)
	}
	var snap domain.MarketSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("cache.Get: %s: decode: %w", symbol, err)
	}
	return snap, nil
}

// Put guarda el snapshot con expiración ttl.
func (r *Redis) Put(ctx context.Context, snap domain.MarketSnapshot, ttl time.Duration) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("cache.Put: %s: encode: %w", snap.Symbol, err)
	}
	if err := r.rdb.Set(ctx, snapshotKey(snap.Symbol), raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache.Put: %s: %w", snap.Symbol, err)
	}
	return nil
}

// Close cierra la conexión.
func (r *Redis) Close() error { return r.rdb.Close() }

var _ ports.SnapshotCache = (*Redis)(nil)
