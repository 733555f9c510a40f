package session

import "errors"

var (
	ErrSessionNotFound = errors.New("session.not_found")
	ErrSessionExpired  = errors.New("session.expired")
	ErrSessionRevoked  = errors.New("session.revoked")
	ErrTokenMismatch   = errors.New("session.token_mismatch")
	ErrRefreshMismatch = errors.New("session.refresh_mismatch")
	ErrInvalidSession  = errors.New("session.invalid")
	ErrDuplicate       = errors.New("session.duplicate")
	ErrManagerClosed   = errors.New("session.manager_closed")
)
