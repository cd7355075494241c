package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "acp:nonce:"

// RedisStore shares consumed nonces between processes through SET NX.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func (s *RedisStore) Consume(ctx context.Context, nonce string, ttl time.Duration) error {
	stored, err := s.client.SetNX(ctx, keyPrefix+nonce, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return fmt.Errorf("redis nonce store: %w", err)
	}
	if !stored {
		return ErrReplayed
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
