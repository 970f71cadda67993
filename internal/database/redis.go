package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const connectTimeout = 3 * time.Second

// RedisConfig describes the connection to the hash store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// OpenRedis establishes a redis connection and verifies connectivity.
func OpenRedis(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	if logger != nil {
		logger.Info("redis connected", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	}
	return client, nil
}

// RedisHashStore adapts a redis client to the session store's persistence
// contract. Every hash-field write is atomic on the server side; there is
// no multi-key transaction.
type RedisHashStore struct {
	client *redis.Client
}

// NewRedisHashStore wraps an established redis client.
func NewRedisHashStore(client *redis.Client) *RedisHashStore {
	return &RedisHashStore{client: client}
}

func (s *RedisHashStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.client.HGetAll(ctx, key).Result()
}

func (s *RedisHashStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	flattened := make([]interface{}, 0, len(fields)*2)
	for name, value := range fields {
		flattened = append(flattened, name, value)
	}
	return s.client.HSet(ctx, key, flattened...).Err()
}

// HGetAllMulti reads several hashes in one pipelined round trip.
func (s *RedisHashStore) HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error) {
	if len(keys) == 0 {
		return []map[string]string{}, nil
	}
	pipeline := s.client.Pipeline()
	commands := make([]*redis.MapStringStringCmd, 0, len(keys))
	for _, key := range keys {
		commands = append(commands, pipeline.HGetAll(ctx, key))
	}
	if _, err := pipeline.Exec(ctx); err != nil {
		return nil, err
	}
	results := make([]map[string]string, 0, len(commands))
	for _, command := range commands {
		fields, err := command.Result()
		if err != nil {
			return nil, err
		}
		results = append(results, fields)
	}
	return results, nil
}

func (s *RedisHashStore) Del(ctx context.Context, keys ...string) error {
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisHashStore) Exists(ctx context.Context, keys ...string) (int64, error) {
	return s.client.Exists(ctx, keys...).Result()
}

func (s *RedisHashStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	return s.client.Keys(ctx, pattern).Result()
}
