package auth

import (
	"errors"
	"fmt"

	"github.com/dmitrymomot/gatekeeper/pkg/rbac"
)

var (
	// ErrUnauthenticated is the only outcome callers see for a bad, expired
	// or revoked credential. The precise cause is logged.
	ErrUnauthenticated     = errors.New("auth.unauthenticated")
	ErrInvalidCredentials  = errors.New("auth.invalid_credentials")
	ErrMissingDependency   = errors.New("auth.missing_dependency")
	ErrInvalidConfig       = errors.New("auth.invalid_config")
	ErrRefreshTokenReused  = fmt.Errorf("%w: refresh token reuse", ErrUnauthenticated)
	ErrSessionLimitReached = fmt.Errorf("%w: concurrent session limit reached", rbac.ErrCapacityExceeded)

	// ErrForbidden is returned by Authorize when a permission is missing.
	ErrForbidden = rbac.ErrInsufficientPermissions
)
