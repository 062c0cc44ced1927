package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisStore is a Store backed by Redis, for deployments running more than
// one server replica (the in-memory store would give each replica its own
// view of invalidation otherwise). Selected when REDIS_URL is set.
type RedisStore struct {
	client *redis.Client
	logger zerolog.Logger
}

func NewRedisStore(ctx context.Context, redisURL string, logger zerolog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisStore{client: client, logger: logger}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("cache get failed")
		}
		return nil, false
	}
	return data, true
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache set failed")
	}
}

func (s *RedisStore) Delete(ctx context.Context, key string) {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache delete failed")
	}
}

// Invalidate scans for keys under the prefix and deletes them in batches.
// SCAN keeps this incremental; the key scheme scopes the prefix to one
// (tenant, provider), so the match set stays small.
func (s *RedisStore) Invalidate(ctx context.Context, prefix string) int {
	removed := 0
	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()

	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 100 {
			removed += s.deleteBatch(ctx, batch)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		removed += s.deleteBatch(ctx, batch)
	}
	if err := iter.Err(); err != nil {
		s.logger.Warn().Err(err).Str("prefix", prefix).Msg("cache invalidate scan failed")
	}
	return removed
}

func (s *RedisStore) deleteBatch(ctx context.Context, keys []string) int {
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		s.logger.Warn().Err(err).Msg("cache invalidate delete failed")
		return 0
	}
	return int(n)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
