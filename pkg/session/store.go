package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists sessions. Implementations return copies; mutating a
// returned session has no effect until it is written back with Rotate.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id uuid.UUID) (*Session, error)
	// Rotate replaces the stored session with next, provided the stored
	// record is still active at now and its RefreshTokenHash equals
	// refreshHash. The check and the write are atomic. It fails with
	// ErrSessionRevoked or ErrSessionExpired for an inactive record and
	// ErrRefreshMismatch when the refresh token has already been rotated.
	Rotate(ctx context.Context, next *Session, refreshHash string, now time.Time) error
	// Touch sets LastActivityAt, and IPAddress when ip is not empty, on an
	// active session.
	Touch(ctx context.Context, id uuid.UUID, at time.Time, ip string) error
	// Revoke deactivates one session. Revoking an inactive session is a
	// no-op reported as false.
	Revoke(ctx context.Context, id uuid.UUID, at time.Time, reason string) (bool, error)
	// ListByUser returns every stored session of userID, oldest first.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Session, error)
	// ExpireBefore deactivates active sessions whose ExpiresAt is not after
	// now, tagging them ReasonExpired.
	ExpireBefore(ctx context.Context, now time.Time) (int, error)
	// Purge deletes inactive sessions deactivated before cutoff.
	Purge(ctx context.Context, cutoff time.Time) (int, error)
	Stats(ctx context.Context, now time.Time) (Stats, error)
}
