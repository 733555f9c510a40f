// Package ratelimit provides the sliding-window counters and time-bounded
// locks behind login throttling.
//
// Counter implementations record one event per Increment and count events
// in the half-open window (at-window, at]. Callers pass the time explicitly,
// which keeps the stores deterministic under test clocks. Locker holds a
// key until a deadline.
//
// MemoryStore guards each key with its own mutex and suits single
// instances. RedisStore keeps a sorted set per counter so several instances
// share state:
//
//	store := ratelimit.NewRedisStore(client, "gatekeeper:")
//	n, err := store.Increment(ctx, ratelimit.Key("login", ip), time.Now(), 15*time.Minute)
//
// Key joins key parts and hashes long results.
package ratelimit
