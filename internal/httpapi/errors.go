package httpapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dmitrymomot/gatekeeper/pkg/logger"
	"github.com/dmitrymomot/gatekeeper/pkg/loginguard"
	"github.com/dmitrymomot/gatekeeper/pkg/rbac"
	"github.com/dmitrymomot/gatekeeper/pkg/requestid"
	"github.com/dmitrymomot/gatekeeper/pkg/session"
	"github.com/dmitrymomot/gatekeeper/svc/auth"
)

var (
	ErrBadRequest       = errors.New("httpapi.bad_request")
	ErrUnsupportedMedia = errors.New("httpapi.unsupported_media_type")
)

// ValidationError maps request fields to their failed rules.
type ValidationError map[string][]string

func (e ValidationError) Error() string {
	parts := make([]string, 0, len(e))
	for field, msgs := range e {
		parts = append(parts, field+": "+strings.Join(msgs, ", "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func fromValidator(errs validator.ValidationErrors) ValidationError {
	out := make(ValidationError, len(errs))
	for _, fe := range errs {
		msg := fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		out[fe.Field()] = append(out[fe.Field()], msg)
	}
	return out
}

// errorInfo is the HTTP rendering of an error.
type errorInfo struct {
	status  int
	code    string
	message string
	details map[string][]string
	retry   int
}

func classifyError(err error) errorInfo {
	var (
		validation ValidationError
		locked     *loginguard.LockedError
	)
	switch {
	case errors.As(err, &validation):
		return errorInfo{status: http.StatusUnprocessableEntity, code: "validation_failed", message: "request validation failed", details: validation}
	case errors.Is(err, ErrUnsupportedMedia):
		return errorInfo{status: http.StatusUnsupportedMediaType, code: "unsupported_media_type", message: err.Error()}
	case errors.Is(err, ErrBadRequest), errors.Is(err, loginguard.ErrMissingAddress):
		return errorInfo{status: http.StatusBadRequest, code: "bad_request", message: err.Error()}
	case errors.As(err, &locked):
		return errorInfo{
			status:  http.StatusTooManyRequests,
			code:    "locked",
			message: "too many failed attempts",
			retry:   max(1, int(locked.RetryAfter.Seconds())),
		}
	case errors.Is(err, auth.ErrInvalidCredentials):
		return errorInfo{status: http.StatusUnauthorized, code: "invalid_credentials", message: "invalid credentials"}
	case errors.Is(err, auth.ErrUnauthenticated):
		return errorInfo{status: http.StatusUnauthorized, code: "unauthenticated", message: "authentication required"}
	case errors.Is(err, auth.ErrForbidden):
		return errorInfo{status: http.StatusForbidden, code: "forbidden", message: "insufficient permissions"}
	case errors.Is(err, auth.ErrSessionLimitReached):
		return errorInfo{status: http.StatusConflict, code: "session_limit", message: err.Error()}
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, rbac.ErrNotFound):
		return errorInfo{status: http.StatusNotFound, code: "not_found", message: err.Error()}
	case errors.Is(err, rbac.ErrConflict):
		return errorInfo{status: http.StatusConflict, code: "conflict", message: err.Error()}
	case errors.Is(err, rbac.ErrCapacityExceeded):
		return errorInfo{status: http.StatusConflict, code: "capacity_exceeded", message: err.Error()}
	case errors.Is(err, rbac.ErrDependencyViolation):
		return errorInfo{status: http.StatusConflict, code: "dependency_violation", message: err.Error()}
	case errors.Is(err, rbac.ErrExpired), errors.Is(err, rbac.ErrRevoked):
		return errorInfo{status: http.StatusGone, code: "expired", message: err.Error()}
	case errors.Is(err, rbac.ErrInvalidInput):
		return errorInfo{status: http.StatusUnprocessableEntity, code: "invalid_input", message: err.Error()}
	case errors.Is(err, rbac.ErrStorageUnavailable):
		return errorInfo{status: http.StatusServiceUnavailable, code: "unavailable", message: "storage unavailable"}
	default:
		return errorInfo{status: http.StatusInternalServerError, code: "internal", message: "internal server error"}
	}
}

// ErrorHandler renders err as a JSON error envelope. Server errors are
// logged at error level, client errors at debug.
func ErrorHandler(log *slog.Logger) func(http.ResponseWriter, *http.Request, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return func(w http.ResponseWriter, r *http.Request, err error) {
		info := classifyError(err)
		rid := requestid.FromContext(r.Context())

		level := slog.LevelDebug
		if info.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		log.LogAttrs(r.Context(), level, "request failed",
			logger.Error(err),
			slog.Int("status", info.status),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			logger.Component("httpapi"),
		)

		switch info.status {
		case http.StatusUnauthorized:
			w.Header().Set("WWW-Authenticate", `Bearer realm="gatekeeper"`)
		case http.StatusTooManyRequests:
			w.Header().Set("Retry-After", strconv.Itoa(info.retry))
		}
		writeJSON(w, info.status, envelope{Error: &errorDetail{
			Code:      info.code,
			Message:   info.message,
			Details:   info.details,
			RequestID: rid,
		}})
	}
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}
