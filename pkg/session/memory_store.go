package session

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps sessions in process memory. It suits tests and single
// instance deployments; state is lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	byUser   map[uuid.UUID]map[uuid.UUID]struct{}
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[uuid.UUID]*Session),
		byUser:   make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

func (m *MemoryStore) Create(_ context.Context, s *Session) error {
	if err := validate(s); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; ok {
		return ErrDuplicate
	}
	m.sessions[s.ID] = s.clone()
	ids, ok := m.byUser[s.UserID]
	if !ok {
		ids = make(map[uuid.UUID]struct{})
		m.byUser[s.UserID] = ids
	}
	ids[s.ID] = struct{}{}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.clone(), nil
}

func (m *MemoryStore) Rotate(_ context.Context, next *Session, refreshHash string, now time.Time) error {
	if err := validate(next); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.sessions[next.ID]
	if !ok {
		return ErrSessionNotFound
	}
	if err := cur.rotatable(next, refreshHash, now); err != nil {
		return err
	}
	m.sessions[next.ID] = next.clone()
	return nil
}

func (m *MemoryStore) Touch(_ context.Context, id uuid.UUID, at time.Time, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if !s.IsActive {
		return ErrSessionRevoked
	}
	if at.After(s.LastActivityAt) {
		s.LastActivityAt = at
	}
	if ip != "" {
		s.IPAddress = ip
	}
	return nil
}

func (m *MemoryStore) Revoke(_ context.Context, id uuid.UUID, at time.Time, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return false, ErrSessionNotFound
	}
	return s.deactivate(at, reason), nil
}

func (m *MemoryStore) ListByUser(_ context.Context, userID uuid.UUID) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Session, 0, len(m.byUser[userID]))
	for id := range m.byUser[userID] {
		out = append(out, *m.sessions[id].clone())
	}
	sortByCreation(out)
	return out, nil
}

func (m *MemoryStore) ExpireBefore(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, s := range m.sessions {
		if s.IsActive && !now.Before(s.ExpiresAt) && s.deactivate(now, ReasonExpired) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Purge(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, s := range m.sessions {
		if s.IsActive || s.RevokedAt == nil || !s.RevokedAt.Before(cutoff) {
			continue
		}
		delete(m.sessions, id)
		if ids := m.byUser[s.UserID]; ids != nil {
			delete(ids, id)
			if len(ids) == 0 {
				delete(m.byUser, s.UserID)
			}
		}
		n++
	}
	return n, nil
}

func (m *MemoryStore) Stats(_ context.Context, now time.Time) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Stats{ActiveByUser: make(map[uuid.UUID]int)}
	for _, s := range m.sessions {
		st.add(s, now)
	}
	return st, nil
}

func validate(s *Session) error {
	if s == nil || s.ID == uuid.Nil || s.UserID == uuid.Nil {
		return ErrInvalidSession
	}
	return nil
}

func sortByCreation(list []Session) {
	slices.SortFunc(list, func(a, b Session) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID.String(), b.ID.String()))
	})
}
