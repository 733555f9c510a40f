package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each counter as a sorted set of event IDs scored by
// their time in milliseconds, and each lock as a string holding its
// deadline. Pruning, recording and counting run in one MULTI block.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore namespaces keys under prefix + "ratelimit:".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix + "ratelimit:"}
}

func (s *RedisStore) Increment(ctx context.Context, key string, at time.Time, window time.Duration) (int64, error) {
	if err := checkArgs(key, window); err != nil {
		return 0, err
	}
	k := s.counterKey(key)
	cutoff := strconv.FormatInt(at.Add(-window).UnixMilli(), 10)

	var card *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, k, "-inf", cutoff)
		p.ZAdd(ctx, k, redis.Z{Score: float64(at.UnixMilli()), Member: uuid.NewString()})
		card = p.ZCount(ctx, k, "("+cutoff, strconv.FormatInt(at.UnixMilli(), 10))
		p.PExpire(ctx, k, window)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return card.Val(), nil
}

func (s *RedisStore) Get(ctx context.Context, key string, at time.Time, window time.Duration) (int64, error) {
	if err := checkArgs(key, window); err != nil {
		return 0, err
	}
	return s.client.ZCount(ctx, s.counterKey(key),
		"("+strconv.FormatInt(at.Add(-window).UnixMilli(), 10),
		strconv.FormatInt(at.UnixMilli(), 10),
	).Result()
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.counterKey(key)).Err()
}

func (s *RedisStore) Lock(ctx context.Context, key string, at, until time.Time) error {
	if key == "" {
		return ErrKeyRequired
	}
	ttl := until.Sub(at)
	if ttl <= 0 {
		return ErrInvalidLockTTL
	}
	return s.client.Set(ctx, s.lockKey(key), until.UnixMilli(), ttl).Err()
}

func (s *RedisStore) LockedUntil(ctx context.Context, key string, at time.Time) (time.Time, error) {
	ms, err := s.client.Get(ctx, s.lockKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	until := time.UnixMilli(ms).UTC()
	if !until.After(at) {
		return time.Time{}, nil
	}
	return until, nil
}

func (s *RedisStore) Unlock(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.lockKey(key)).Err()
}

func (s *RedisStore) counterKey(key string) string { return s.prefix + "count:" + key }

func (s *RedisStore) lockKey(key string) string { return s.prefix + "lock:" + key }
