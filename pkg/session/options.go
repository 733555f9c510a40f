package session

import (
	"log/slog"
	"time"
)

type Option func(*Manager)

// WithConfig replaces the manager configuration. Zero fields keep defaults.
func WithConfig(cfg Config) Option {
	return func(m *Manager) {
		def := DefaultConfig()
		if cfg.ActivityBuffer <= 0 {
			cfg.ActivityBuffer = def.ActivityBuffer
		}
		if cfg.TouchThreshold < 0 {
			cfg.TouchThreshold = def.TouchThreshold
		}
		if cfg.Retention <= 0 {
			cfg.Retention = def.Retention
		}
		if cfg.StoreTimeout <= 0 {
			cfg.StoreTimeout = def.StoreTimeout
		}
		m.cfg = cfg
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}
