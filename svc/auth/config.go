package auth

import (
	"fmt"
	"time"
)

// SessionLimitPolicy decides what happens when a login would exceed
// MaxSessions.
type SessionLimitPolicy string

const (
	// RevokeOldest revokes the least recently created sessions other than
	// the new one.
	RevokeOldest SessionLimitPolicy = "revoke_oldest"
	// Reject refuses the login with ErrSessionLimitReached.
	Reject SessionLimitPolicy = "reject"
)

// AuthorizationPolicy selects where Authorize reads permissions from.
type AuthorizationPolicy string

const (
	// AuthorizationLive resolves permissions from storage on every call.
	// Grants and revocations take effect immediately.
	AuthorizationLive AuthorizationPolicy = "live"
	// AuthorizationSnapshot trusts the permission names embedded in the
	// access token. No storage lookup, but changes are only seen once the
	// token is refreshed, at most one access TTL later.
	AuthorizationSnapshot AuthorizationPolicy = "snapshot"
)

type Config struct {
	RefreshTTL          time.Duration       `env:"AUTH_REFRESH_TTL" envDefault:"24h"`
	RememberMeTTL       time.Duration       `env:"AUTH_REMEMBER_ME_TTL" envDefault:"720h"`
	MaxSessions         int                 `env:"AUTH_MAX_SESSIONS" envDefault:"5"`
	SessionLimitPolicy  SessionLimitPolicy  `env:"AUTH_SESSION_LIMIT_POLICY" envDefault:"revoke_oldest"`
	AuthorizationPolicy AuthorizationPolicy `env:"AUTH_AUTHORIZATION_POLICY" envDefault:"live"`
	// EmbedPermissions puts a permission snapshot into access tokens. The
	// snapshot policy turns it on regardless.
	EmbedPermissions bool `env:"AUTH_EMBED_PERMISSIONS" envDefault:"false"`
	RefreshRotation  bool `env:"AUTH_REFRESH_ROTATION" envDefault:"true"`
}

func DefaultConfig() Config {
	return Config{
		RefreshTTL:          24 * time.Hour,
		RememberMeTTL:       30 * 24 * time.Hour,
		MaxSessions:         5,
		SessionLimitPolicy:  RevokeOldest,
		AuthorizationPolicy: AuthorizationLive,
		RefreshRotation:     true,
	}
}

func (c Config) validate() error {
	switch {
	case c.RefreshTTL <= 0:
		return fmt.Errorf("%w: refresh ttl must be positive", ErrInvalidConfig)
	case c.RememberMeTTL < c.RefreshTTL:
		return fmt.Errorf("%w: remember-me ttl shorter than refresh ttl", ErrInvalidConfig)
	case c.MaxSessions < 0:
		return fmt.Errorf("%w: max sessions must not be negative", ErrInvalidConfig)
	}
	switch c.SessionLimitPolicy {
	case RevokeOldest, Reject:
	default:
		return fmt.Errorf("%w: session limit policy %q", ErrInvalidConfig, c.SessionLimitPolicy)
	}
	switch c.AuthorizationPolicy {
	case AuthorizationLive, AuthorizationSnapshot:
	default:
		return fmt.Errorf("%w: authorization policy %q", ErrInvalidConfig, c.AuthorizationPolicy)
	}
	return nil
}

func (c Config) embedPermissions() bool {
	return c.EmbedPermissions || c.AuthorizationPolicy == AuthorizationSnapshot
}
