package watermark

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/redis"
)

type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "fern:watermark:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) key(kind models.Kind) string {
	return s.keyPrefix + string(kind)
}

func (s *RedisStore) Get(ctx context.Context, kind models.Kind) (time.Time, error) {
	value, err := s.client.Get(ctx, s.key(kind))
	if errors.Is(err, redis.ErrNotFound) {
		// SETNX keeps a concurrent first writer's value
		if _, err := s.client.SetNX(ctx, s.key(kind), format(Min), 0); err != nil {
			return Min, fmt.Errorf("failed to initialize watermark for %s: %w", kind, err)
		}
		value, err = s.client.Get(ctx, s.key(kind))
	}
	if err != nil {
		return Min, fmt.Errorf("failed to read watermark for %s: %w", kind, err)
	}
	return parse(kind, value)
}

func (s *RedisStore) Set(ctx context.Context, kind models.Kind, ts time.Time) error {
	if err := s.client.Set(ctx, s.key(kind), format(ts), 0); err != nil {
		return fmt.Errorf("failed to write watermark for %s: %w", kind, err)
	}
	return nil
}
