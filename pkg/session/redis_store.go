package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const watchRetries = 5

// RedisStore keeps each session as a JSON value with a per-user index set
// and a sorted set of active sessions scored by expiry. Deactivated sessions
// stay readable for the retention period and then expire on their own.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

var _ Store = (*RedisStore)(nil)

type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces every key.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithRetention sets how long a session outlives its expiry or revocation.
func WithRetention(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithRedisClock sets the time source used to compute key TTLs.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(s *RedisStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		prefix:    "gatekeeper:",
		retention: 24 * time.Hour,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (r *RedisStore) Create(ctx context.Context, s *Session) error {
	if err := validate(s); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	ok, err := r.client.SetNX(ctx, r.sessionKey(s.ID), data, r.ttl(s)).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrDuplicate
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, r.userKey(s.UserID), s.ID.String())
		if s.IsActive {
			p.ZAdd(ctx, r.expiryKey(), redis.Z{Score: score(s.ExpiresAt), Member: s.ID.String()})
		}
		return nil
	})
	return err
}

func (r *RedisStore) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	return r.load(ctx, r.client, id)
}

func (r *RedisStore) Rotate(ctx context.Context, next *Session, refreshHash string, now time.Time) error {
	if err := validate(next); err != nil {
		return err
	}
	return r.mutate(ctx, next.ID, func(cur *Session) (bool, error) {
		if err := cur.rotatable(next, refreshHash, now); err != nil {
			return false, err
		}
		*cur = *next.clone()
		return true, nil
	})
}

func (r *RedisStore) Touch(ctx context.Context, id uuid.UUID, at time.Time, ip string) error {
	return r.mutate(ctx, id, func(s *Session) (bool, error) {
		if !s.IsActive {
			return false, ErrSessionRevoked
		}
		if at.After(s.LastActivityAt) {
			s.LastActivityAt = at
		}
		if ip != "" {
			s.IPAddress = ip
		}
		return true, nil
	})
}

func (r *RedisStore) Revoke(ctx context.Context, id uuid.UUID, at time.Time, reason string) (bool, error) {
	var changed bool
	err := r.mutate(ctx, id, func(s *Session) (bool, error) {
		changed = s.deactivate(at, reason)
		return changed, nil
	})
	return changed, err
}

func (r *RedisStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]Session, error) {
	ids, err := r.client.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	list, missing, err := r.loadMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		if err := r.client.SRem(ctx, r.userKey(userID), missing...).Err(); err != nil {
			return nil, err
		}
	}
	sortByCreation(list)
	return list, nil
}

func (r *RedisStore) ExpireBefore(ctx context.Context, now time.Time) (int, error) {
	ids, err := r.client.ZRangeByScore(ctx, r.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatFloat(score(now), 'f', 0, 64),
	}).Result()
	if err != nil {
		return 0, err
	}

	n := 0
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			_ = r.client.ZRem(ctx, r.expiryKey(), raw).Err()
			continue
		}
		var changed bool
		err = r.mutate(ctx, id, func(s *Session) (bool, error) {
			if now.Before(s.ExpiresAt) {
				return false, nil
			}
			changed = s.deactivate(now, ReasonExpired)
			return changed, nil
		})
		switch {
		case errors.Is(err, ErrSessionNotFound):
			_ = r.client.ZRem(ctx, r.expiryKey(), raw).Err()
		case err != nil:
			return n, err
		case changed:
			n++
		}
	}
	return n, nil
}

// Purge is a no-op: inactive sessions leave Redis through key expiry.
func (r *RedisStore) Purge(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (r *RedisStore) Stats(ctx context.Context, now time.Time) (Stats, error) {
	st := Stats{ActiveByUser: make(map[uuid.UUID]int)}
	iter := r.client.Scan(ctx, 0, r.prefix+"session:*", 500).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return st, err
	}
	if len(keys) == 0 {
		return st, nil
	}

	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return st, err
	}
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var s Session
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return st, fmt.Errorf("decode session: %w", err)
		}
		st.add(&s, now)
	}
	return st, nil
}

// mutate applies fn to the stored session under WATCH and writes it back
// when fn reports a change. Concurrent writers cause a bounded retry.
func (r *RedisStore) mutate(ctx context.Context, id uuid.UUID, fn func(*Session) (bool, error)) error {
	key := r.sessionKey(id)
	txf := func(tx *redis.Tx) error {
		s, err := r.load(ctx, tx, id)
		if err != nil {
			return err
		}
		changed, err := fn(s)
		if err != nil || !changed {
			return err
		}
		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, data, r.ttl(s))
			if s.IsActive {
				p.ZAdd(ctx, r.expiryKey(), redis.Z{Score: score(s.ExpiresAt), Member: id.String()})
			} else {
				p.ZRem(ctx, r.expiryKey(), id.String())
			}
			return nil
		})
		return err
	}

	for range watchRetries {
		err := r.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("session %s: %w", id, redis.TxFailedErr)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisStore) load(ctx context.Context, c getter, id uuid.UUID) (*Session, error) {
	raw, err := c.Get(ctx, r.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

func (r *RedisStore) loadMany(ctx context.Context, ids []string) (list []Session, missing []any, err error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.prefix + "session:" + id
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, nil, err
	}
	list = make([]Session, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			missing = append(missing, ids[i])
			continue
		}
		var s Session
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, nil, fmt.Errorf("decode session: %w", err)
		}
		list = append(list, s)
	}
	return list, missing, nil
}

// ttl keeps active sessions until expiry plus retention and inactive ones
// for the retention period.
func (r *RedisStore) ttl(s *Session) time.Duration {
	if !s.IsActive {
		return r.retention
	}
	return max(s.ExpiresAt.Sub(r.now()), 0) + r.retention
}

func (r *RedisStore) sessionKey(id uuid.UUID) string { return r.prefix + "session:" + id.String() }

func (r *RedisStore) userKey(userID uuid.UUID) string {
	return r.prefix + "user_sessions:" + userID.String()
}

func (r *RedisStore) expiryKey() string { return r.prefix + "session_expiry" }

func score(t time.Time) float64 { return float64(t.UnixMilli()) }
