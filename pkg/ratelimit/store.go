package ratelimit

import (
	"context"
	"time"
)

// Counter counts events per key over a sliding window. Each Increment is
// one event; counts cover the interval (at-window, at].
type Counter interface {
	// Increment records one event at at and returns the count including it.
	Increment(ctx context.Context, key string, at time.Time, window time.Duration) (int64, error)
	// Get returns the count without recording anything.
	Get(ctx context.Context, key string, at time.Time, window time.Duration) (int64, error)
	// Reset forgets every event of key.
	Reset(ctx context.Context, key string) error
}

// Locker holds time-bounded locks on keys.
type Locker interface {
	// Lock holds key until until. A later call replaces the deadline.
	Lock(ctx context.Context, key string, at, until time.Time) error
	// LockedUntil returns the lock deadline, or the zero time when key is
	// not locked at at.
	LockedUntil(ctx context.Context, key string, at time.Time) (time.Time, error)
	Unlock(ctx context.Context, key string) error
}

// Store is a Counter and a Locker over the same backend.
type Store interface {
	Counter
	Locker
}
