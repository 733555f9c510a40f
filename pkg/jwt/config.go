package jwt

import "time"

// MinKeyLength is the minimum HMAC key size in bytes.
const MinKeyLength = 32

type Config struct {
	AccessSecret  string        `env:"JWT_ACCESS_SECRET,required"`
	RefreshSecret string        `env:"JWT_REFRESH_SECRET,required"`
	Issuer        string        `env:"JWT_ISSUER" envDefault:"gatekeeper"`
	AccessTTL     time.Duration `env:"JWT_ACCESS_TTL" envDefault:"15m"`
	Leeway        time.Duration `env:"JWT_LEEWAY" envDefault:"0s"`
}

type Option func(*Service)

// WithClock sets the time source used to stamp and verify tokens.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}
