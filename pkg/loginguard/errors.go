package loginguard

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrLocked         = errors.New("loginguard.locked")
	ErrInvalidConfig  = errors.New("loginguard.invalid_config")
	ErrMissingAddress = errors.New("loginguard.missing_ip")
)

// LockedError carries the lockout deadline. errors.Is(err, ErrLocked)
// holds for it.
type LockedError struct {
	Scope      Scope
	Until      time.Time
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s: %s locked for %s", ErrLocked, e.Scope, e.RetryAfter.Round(time.Second))
}

func (e *LockedError) Is(target error) bool { return target == ErrLocked }
