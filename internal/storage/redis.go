package storage

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"github.com/portfolio-aggregator/internal/config"
	"github.com/portfolio-aggregator/internal/price"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RedisCache wraps the Redis client
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache connection
func NewRedisCache(cfg *config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Client returns the underlying Redis client
func (r *RedisCache) Client() *redis.Client {
	return r.client
}

// Ping checks if Redis is reachable
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// PriceStore mirrors the price cache as one Redis hash of symbol to JSON
// entry. It implements price.Store.
type PriceStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// DefaultPriceKey is the hash holding mirrored prices
const DefaultPriceKey = "prices:usd"

// PriceStore returns a store writing under DefaultPriceKey with the given TTL
func (r *RedisCache) PriceStore(ttl time.Duration) *PriceStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &PriceStore{client: r.client, key: DefaultPriceKey, ttl: ttl}
}

// Save replaces the mirrored hash in a single transaction
func (s *PriceStore) Save(ctx context.Context, entries map[string]price.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	fields := make(map[string]interface{}, len(entries))
	for symbol, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal price for %s: %w", symbol, err)
		}
		fields[symbol] = data
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key)
	pipe.HSet(ctx, s.key, fields)
	pipe.Expire(ctx, s.key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mirror prices: %w", err)
	}
	return nil
}

// Load returns the mirrored entries, or an empty map when the hash has
// expired. Undecodable fields are skipped.
func (s *PriceStore) Load(ctx context.Context) (map[string]price.Entry, error) {
	raw, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load mirrored prices: %w", err)
	}

	out := make(map[string]price.Entry, len(raw))
	for symbol, data := range raw {
		var e price.Entry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			continue
		}
		out[symbol] = e
	}
	return out, nil
}
