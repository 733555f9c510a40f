package auth

import (
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/gatekeeper/pkg/jwt"
	"github.com/dmitrymomot/gatekeeper/pkg/loginguard"
	"github.com/dmitrymomot/gatekeeper/pkg/useragent"
)

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithGuard enables login throttling. Without it Login never locks out.
func WithGuard(g *loginguard.Guard) Option {
	return func(s *Service) { s.guard = g }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithUserAgentParser replaces the uncached user agent parser.
func WithUserAgentParser(p *useragent.Parser) Option {
	return func(s *Service) {
		if p != nil {
			s.parseUA = p.Parse
		}
	}
}

// WithTokenExtractor sets how middleware finds the access token. The default
// reads the Authorization bearer header.
func WithTokenExtractor(fn jwt.TokenExtractorFunc) Option {
	return func(s *Service) {
		if fn != nil {
			s.extract = fn
		}
	}
}

// WithErrorHandler sets how middleware reports failures.
func WithErrorHandler(fn func(w http.ResponseWriter, r *http.Request, err error)) Option {
	return func(s *Service) {
		if fn != nil {
			s.onError = fn
		}
	}
}
