package session

import (
	"crypto/subtle"
	"time"

	"github.com/google/uuid"
)

// State of a session at a point in time. Expired and revoked are terminal.
type State string

const (
	StateActive  State = "active"
	StateExpired State = "expired"
	StateRevoked State = "revoked"
)

// Revocation reasons recorded on deactivated sessions.
const (
	ReasonLogout       = "logout"
	ReasonLogoutAll    = "logout_all"
	ReasonRevoked      = "revoked"
	ReasonSessionLimit = "session_limit"
	ReasonRefreshReuse = "refresh_token_reuse"
	ReasonExpired      = "expired"
)

// Session is one authenticated login. Only hashes of the issued tokens are
// kept.
type Session struct {
	ID                uuid.UUID  `json:"id"`
	UserID            uuid.UUID  `json:"user_id"`
	TokenID           string     `json:"token_id"`
	TokenFingerprint  string     `json:"token_fingerprint"`
	RefreshTokenHash  string     `json:"refresh_token_hash"`
	IPAddress         string     `json:"ip_address,omitempty"`
	UserAgent         string     `json:"user_agent,omitempty"`
	Device            string     `json:"device,omitempty"`
	Browser           string     `json:"browser,omitempty"`
	OS                string     `json:"os,omitempty"`
	Location          string     `json:"location,omitempty"`
	DeviceFingerprint string     `json:"device_fingerprint,omitempty"`
	RememberMe        bool       `json:"remember_me"`
	IsActive          bool       `json:"is_active"`
	CreatedAt         time.Time  `json:"created_at"`
	LastActivityAt    time.Time  `json:"last_activity_at"`
	ExpiresAt         time.Time  `json:"expires_at"`
	RevokedAt         *time.Time `json:"revoked_at,omitempty"`
	RevokedReason     string     `json:"revoked_reason,omitempty"`
}

// State reports the lifecycle state of s at now.
func (s *Session) State(now time.Time) State {
	switch {
	case !s.IsActive && s.RevokedReason == ReasonExpired:
		return StateExpired
	case !s.IsActive:
		return StateRevoked
	case !now.Before(s.ExpiresAt):
		return StateExpired
	default:
		return StateActive
	}
}

// Active reports whether s can still authenticate requests at now.
func (s *Session) Active(now time.Time) bool {
	return s != nil && s.State(now) == StateActive
}

// MatchesRefreshHash compares hash with the stored refresh token hash in
// constant time.
func (s *Session) MatchesRefreshHash(hash string) bool {
	return s.RefreshTokenHash != "" &&
		subtle.ConstantTimeCompare([]byte(s.RefreshTokenHash), []byte(hash)) == 1
}

// rotatable reports why s cannot be replaced by next at now, if it cannot.
func (s *Session) rotatable(next *Session, refreshHash string, now time.Time) error {
	if s.UserID != next.UserID {
		return ErrInvalidSession
	}
	switch s.State(now) {
	case StateRevoked:
		return ErrSessionRevoked
	case StateExpired:
		return ErrSessionExpired
	}
	if !s.MatchesRefreshHash(refreshHash) {
		return ErrRefreshMismatch
	}
	return nil
}

// deactivate moves an active session into a terminal state.
func (s *Session) deactivate(at time.Time, reason string) bool {
	if !s.IsActive {
		return false
	}
	s.IsActive = false
	s.RevokedAt = &at
	s.RevokedReason = reason
	return true
}

func (s *Session) clone() *Session {
	c := *s
	if s.RevokedAt != nil {
		at := *s.RevokedAt
		c.RevokedAt = &at
	}
	return &c
}

// Stats summarises stored sessions.
type Stats struct {
	Total        int               `json:"total"`
	Active       int               `json:"active"`
	Revoked      int               `json:"revoked"`
	Expired      int               `json:"expired"`
	ActiveByUser map[uuid.UUID]int `json:"active_by_user"`
}

func (st *Stats) add(s *Session, now time.Time) {
	st.Total++
	switch s.State(now) {
	case StateActive:
		st.Active++
		st.ActiveByUser[s.UserID]++
	case StateExpired:
		st.Expired++
	case StateRevoked:
		st.Revoked++
	}
}
