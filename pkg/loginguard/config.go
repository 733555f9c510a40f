package loginguard

import (
	"fmt"
	"time"
)

type Config struct {
	// MaxAttempts is the number of failures for one identifier from one IP
	// within Window that triggers a lockout.
	MaxAttempts int `env:"LOGIN_GUARD_MAX_ATTEMPTS" envDefault:"5"`
	// IPMaxAttempts is the number of failures from one IP, across all
	// identifiers, within Window that locks the IP out. Zero disables it.
	IPMaxAttempts   int           `env:"LOGIN_GUARD_IP_MAX_ATTEMPTS" envDefault:"20"`
	Window          time.Duration `env:"LOGIN_GUARD_WINDOW" envDefault:"15m"`
	LockoutDuration time.Duration `env:"LOGIN_GUARD_LOCKOUT" envDefault:"15m"`
	KeyPrefix       string        `env:"LOGIN_GUARD_KEY_PREFIX" envDefault:"login"`
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:     5,
		IPMaxAttempts:   20,
		Window:          15 * time.Minute,
		LockoutDuration: 15 * time.Minute,
		KeyPrefix:       "login",
	}
}

func (c Config) validate() error {
	switch {
	case c.MaxAttempts <= 0:
		return fmt.Errorf("%w: max attempts must be positive", ErrInvalidConfig)
	case c.IPMaxAttempts < 0:
		return fmt.Errorf("%w: ip max attempts must not be negative", ErrInvalidConfig)
	case c.Window <= 0:
		return fmt.Errorf("%w: window must be positive", ErrInvalidConfig)
	case c.LockoutDuration <= 0:
		return fmt.Errorf("%w: lockout duration must be positive", ErrInvalidConfig)
	}
	return nil
}
