package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type touch struct {
	id uuid.UUID
	at time.Time
	ip string
}

// Manager drives session state transitions over a Store and records
// activity through a buffered background worker.
type Manager struct {
	store  Store
	cfg    Config
	now    func() time.Time
	logger *slog.Logger

	activity chan touch
	done     chan struct{}
	stopped  chan struct{}
	once     sync.Once
	dropped  atomic.Int64
}

// NewManager starts the activity worker. Call Close to stop it.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		cfg:     DefaultConfig(),
		now:     time.Now,
		logger:  slog.New(slog.DiscardHandler),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.activity = make(chan touch, m.cfg.ActivityBuffer)

	go m.worker()
	return m
}

// Now returns the manager clock reading.
func (m *Manager) Now() time.Time { return m.now() }

// Create stores s as a new active session.
func (m *Manager) Create(ctx context.Context, s *Session) error {
	now := m.now()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.LastActivityAt.IsZero() {
		s.LastActivityAt = now
	}
	if !s.ExpiresAt.After(now) {
		return ErrSessionExpired
	}
	s.IsActive = true
	return m.store.Create(ctx, s)
}

func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	return m.store.Get(ctx, id)
}

// Rotate stores s in place of the session whose current refresh token hash
// is refreshHash. See Store.Rotate.
func (m *Manager) Rotate(ctx context.Context, s *Session, refreshHash string) error {
	return m.store.Rotate(ctx, s, refreshHash, m.now())
}

// Validate loads a session and requires it to be active with TokenID equal
// to tokenID.
func (m *Manager) Validate(ctx context.Context, id uuid.UUID, tokenID string) (*Session, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch s.State(m.now()) {
	case StateRevoked:
		return s, ErrSessionRevoked
	case StateExpired:
		return s, ErrSessionExpired
	}
	if subtle.ConstantTimeCompare([]byte(s.TokenID), []byte(tokenID)) != 1 {
		return s, ErrTokenMismatch
	}
	return s, nil
}

// Revoke deactivates one session with reason. It reports false when the
// session was already inactive.
func (m *Manager) Revoke(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	changed, err := m.store.Revoke(ctx, id, m.now(), reason)
	if err != nil {
		return false, err
	}
	if changed {
		m.logger.InfoContext(ctx, "session revoked", "session_id", id, "reason", reason)
	}
	return changed, nil
}

// RevokeUser deactivates every active session of userID except the one
// with ID except (uuid.Nil keeps none) and returns how many it revoked.
func (m *Manager) RevokeUser(ctx context.Context, userID, except uuid.UUID, reason string) (int, error) {
	list, err := m.store.ListByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	now := m.now()
	n := 0
	for _, s := range list {
		if s.ID == except || !s.IsActive {
			continue
		}
		changed, err := m.store.Revoke(ctx, s.ID, now, reason)
		if errors.Is(err, ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		if changed {
			n++
		}
	}
	if n > 0 {
		m.logger.InfoContext(ctx, "user sessions revoked", "user_id", userID, "count", n, "reason", reason)
	}
	return n, nil
}

// ListByUser returns the sessions of userID, oldest first. With activeOnly
// it keeps only sessions that can still authenticate.
func (m *Manager) ListByUser(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]Session, error) {
	list, err := m.store.ListByUser(ctx, userID)
	if err != nil || !activeOnly {
		return list, err
	}
	now := m.now()
	active := list[:0]
	for _, s := range list {
		if s.Active(now) {
			active = append(active, s)
		}
	}
	return active, nil
}

// Touch queues an activity update for s without blocking. It skips touches
// within the threshold of the last recorded one from the same IP and drops
// them when the queue is full. It reports whether a touch was queued.
func (m *Manager) Touch(s *Session, ip string) bool {
	now := m.now()
	if (ip == "" || ip == s.IPAddress) && now.Sub(s.LastActivityAt) < m.cfg.TouchThreshold {
		return false
	}
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.activity <- touch{id: s.ID, at: now, ip: ip}:
		return true
	default:
		m.dropped.Add(1)
		return false
	}
}

// TouchNow records activity synchronously.
func (m *Manager) TouchNow(ctx context.Context, id uuid.UUID, ip string) error {
	return m.store.Touch(ctx, id, m.now(), ip)
}

// Dropped returns how many touches were discarded because the queue was full.
func (m *Manager) Dropped() int64 { return m.dropped.Load() }

// ExpireSessions deactivates sessions past their expiry.
func (m *Manager) ExpireSessions(ctx context.Context) (int, error) {
	n, err := m.store.ExpireBefore(ctx, m.now())
	if err == nil && n > 0 {
		m.logger.InfoContext(ctx, "sessions expired", "count", n)
	}
	return n, err
}

// Purge deletes sessions deactivated longer than the retention period ago.
func (m *Manager) Purge(ctx context.Context) (int, error) {
	return m.store.Purge(ctx, m.now().Add(-m.cfg.Retention))
}

func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	return m.store.Stats(ctx, m.now())
}

// Close stops accepting touches and waits for queued ones to be written or
// for ctx to end.
func (m *Manager) Close(ctx context.Context) error {
	m.once.Do(func() { close(m.done) })
	select {
	case <-m.stopped:
		return nil
	case <-ctx.Done():
		return errors.Join(ErrManagerClosed, ctx.Err())
	}
}

func (m *Manager) worker() {
	defer close(m.stopped)
	for {
		select {
		case t := <-m.activity:
			m.apply(t)
		case <-m.done:
			for {
				select {
				case t := <-m.activity:
					m.apply(t)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) apply(t touch) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.StoreTimeout)
	defer cancel()
	if err := m.store.Touch(ctx, t.id, t.at, t.ip); err != nil {
		m.logger.DebugContext(ctx, "session touch skipped", "session_id", t.id, "error", err)
	}
}
