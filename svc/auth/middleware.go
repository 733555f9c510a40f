package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/dmitrymomot/gatekeeper/pkg/clientip"
	"github.com/dmitrymomot/gatekeeper/pkg/jwt"
)

// RequireAuth authenticates the request token and stores the principal and
// raw token in the request context.
func (s *Service) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := s.extract(r)
		if err != nil {
			s.onError(w, r, ErrUnauthenticated)
			return
		}
		p, err := s.authenticate(r.Context(), token, clientip.FromContext(r.Context()))
		if err != nil {
			s.onError(w, r, err)
			return
		}
		ctx := WithPrincipal(r.Context(), p)
		ctx = jwt.WithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission lets the request through when the principal holds all
// of permissions. It must run after RequireAuth.
func (s *Service) RequirePermission(permissions ...string) func(http.Handler) http.Handler {
	return s.require(s.Authorize, permissions)
}

// RequireAny lets the request through when the principal holds at least one
// of permissions. It must run after RequireAuth.
func (s *Service) RequireAny(permissions ...string) func(http.Handler) http.Handler {
	return s.require(s.AuthorizeAny, permissions)
}

func (s *Service) require(check func(context.Context, *Principal, ...string) error, permissions []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				s.onError(w, r, ErrUnauthenticated)
				return
			}
			if err := check(r.Context(), p, permissions...); err != nil {
				s.onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func defaultErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		w.Header().Set("WWW-Authenticate", `Bearer realm="gatekeeper"`)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	case errors.Is(err, ErrForbidden):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	default:
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
	}
}
