package ratelimit

import (
	"errors"
	"time"
)

var (
	ErrKeyRequired    = errors.New("ratelimit.key_required")
	ErrInvalidWindow  = errors.New("ratelimit.invalid_window")
	ErrInvalidLimit   = errors.New("ratelimit.invalid_limit")
	ErrInvalidLockTTL = errors.New("ratelimit.invalid_lock_ttl")
)

func checkArgs(key string, window time.Duration) error {
	if key == "" {
		return ErrKeyRequired
	}
	if window <= 0 {
		return ErrInvalidWindow
	}
	return nil
}
