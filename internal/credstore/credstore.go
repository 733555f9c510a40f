// Package credstore keeps login identifiers and bcrypt password hashes for
// the gatekeeper binary. It backs auth.BcryptVerifier; deployments with an
// external identity source plug their own auth.CredentialVerifier instead.
package credstore

import (
	"context"
	"embed"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/gatekeeper/pkg/pg"
	"github.com/dmitrymomot/gatekeeper/svc/auth"
)

// MigrationsDir is the directory inside Migrations holding the schema.
const MigrationsDir = "migrations"

//go:embed migrations/*.sql
var Migrations embed.FS

// Store reads and writes credentials.
type Store interface {
	Lookup(ctx context.Context, identifier string) (auth.Credential, error)
	Put(ctx context.Context, identifier string, cred auth.Credential) error
}

// Normalize lowercases and trims an identifier.
func Normalize(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// Postgres is a Store on the user_credentials table.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Lookup(ctx context.Context, identifier string) (auth.Credential, error) {
	var c auth.Credential
	err := p.pool.QueryRow(ctx, `
		SELECT user_id, password_hash, is_active
		FROM user_credentials
		WHERE identifier = $1`,
		Normalize(identifier),
	).Scan(&c.UserID, &c.Hash, &c.Active)
	if pg.IsNotFoundError(err) {
		return auth.Credential{}, auth.ErrInvalidCredentials
	}
	return c, err
}

func (p *Postgres) Put(ctx context.Context, identifier string, cred auth.Credential) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO user_credentials (identifier, user_id, password_hash, is_active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (identifier) DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			is_active = EXCLUDED.is_active,
			updated_at = now()`,
		Normalize(identifier), cred.UserID, cred.Hash, cred.Active,
	)
	return err
}

// Memory is an in-process Store for development and tests.
type Memory struct {
	mu    sync.RWMutex
	creds map[string]auth.Credential
}

func NewMemory() *Memory {
	return &Memory{creds: make(map[string]auth.Credential)}
}

func (m *Memory) Lookup(_ context.Context, identifier string) (auth.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.creds[Normalize(identifier)]
	if !ok {
		return auth.Credential{}, auth.ErrInvalidCredentials
	}
	return c, nil
}

func (m *Memory) Put(_ context.Context, identifier string, cred auth.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[Normalize(identifier)] = cred
	return nil
}

// Ensure returns the user ID registered for identifier, registering it with
// a fresh ID and secret when it is unknown. An existing entry keeps its
// password.
func Ensure(ctx context.Context, s Store, identifier, secret string) (uuid.UUID, error) {
	c, err := s.Lookup(ctx, identifier)
	if err == nil {
		return c.UserID, nil
	}
	if !errors.Is(err, auth.ErrInvalidCredentials) {
		return uuid.Nil, err
	}
	hash, err := auth.HashSecret(secret, 0)
	if err != nil {
		return uuid.Nil, err
	}
	id := uuid.New()
	if err := s.Put(ctx, identifier, auth.Credential{UserID: id, Hash: hash, Active: true}); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}
