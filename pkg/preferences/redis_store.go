package preferences

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps preferences in Redis under a common key prefix.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + key
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Set stores value without expiry.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	return s.rdb.Set(ctx, s.key(key), value, 0).Err()
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.key(key)).Err()
}

// Close releases the Redis connection pool.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
