package session

import "time"

type Config struct {
	// ActivityBuffer is the capacity of the activity touch queue. Touches
	// beyond it are dropped.
	ActivityBuffer int `env:"SESSION_ACTIVITY_BUFFER" envDefault:"1000"`
	// TouchThreshold is the minimum time between two recorded touches of
	// the same session from the same IP.
	TouchThreshold time.Duration `env:"SESSION_TOUCH_THRESHOLD" envDefault:"1m"`
	// Retention is how long deactivated sessions are kept for audit.
	Retention time.Duration `env:"SESSION_RETENTION" envDefault:"168h"`
	// StoreTimeout bounds each background store write.
	StoreTimeout time.Duration `env:"SESSION_STORE_TIMEOUT" envDefault:"2s"`
	// RedisPrefix namespaces RedisStore keys.
	RedisPrefix string `env:"SESSION_REDIS_PREFIX" envDefault:"gatekeeper:"`
}

func DefaultConfig() Config {
	return Config{
		ActivityBuffer: 1000,
		TouchThreshold: time.Minute,
		Retention:      7 * 24 * time.Hour,
		StoreTimeout:   2 * time.Second,
		RedisPrefix:    "gatekeeper:",
	}
}
