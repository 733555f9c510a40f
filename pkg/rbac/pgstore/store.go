package pgstore

import (
	"context"
	"embed"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/gatekeeper/pkg/pg"
	"github.com/dmitrymomot/gatekeeper/pkg/rbac"
)

// MigrationsDir is the directory inside Migrations holding the schema.
const MigrationsDir = "migrations"

//go:embed migrations/*.sql
var Migrations embed.FS

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a PostgreSQL rbac.Store. The zero value is not usable; call New.
type Store struct {
	pool *pgxpool.Pool
	db   querier
	inTx bool
}

var _ rbac.Store = (*Store)(nil)

// New creates a store over pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// WithTx runs fn in a read-committed transaction. Row locks taken with
// LockRole serialize writers on the same role.
func (s *Store) WithTx(ctx context.Context, fn func(tx rbac.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	err := pg.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&Store{pool: s.pool, db: tx, inTx: true})
	})
	return classify(err, nil)
}

// classify maps driver errors onto the rbac error set. notFound replaces
// pgx.ErrNoRows when given.
func classify(err, notFound error) error {
	switch {
	case err == nil:
		return nil
	case notFound != nil && pg.IsNotFoundError(err):
		return notFound
	case errors.Is(err, rbac.ErrStorageUnavailable):
		return err
	case pg.IsRetryable(err), errors.Is(err, pg.ErrFailedToBeginTx):
		return errors.Join(rbac.ErrStorageUnavailable, err)
	}
	return err
}

func (s *Store) Stats(ctx context.Context, now time.Time) (rbac.Stats, error) {
	const q = `
		SELECT
			(SELECT count(*) FROM rbac_roles),
			(SELECT count(*) FROM rbac_permissions WHERE is_active),
			count(*) FILTER (WHERE is_active),
			count(*) FILTER (WHERE is_active AND NOT is_inherited),
			count(*) FILTER (WHERE is_active AND is_inherited),
			count(*) FILTER (WHERE (is_active AND expires_at <= $1) OR (NOT is_active AND revocation_reason = $2)),
			count(*) FILTER (WHERE NOT is_active AND revocation_reason <> $2),
			(SELECT count(*) FROM rbac_user_roles WHERE is_active AND (expires_at IS NULL OR expires_at > $1))
		FROM rbac_role_permissions`

	var st rbac.Stats
	err := s.db.QueryRow(ctx, q, now, rbac.ReasonExpired).Scan(
		&st.Roles,
		&st.Permissions,
		&st.ActiveAssignments,
		&st.DirectAssignments,
		&st.InheritedAssignments,
		&st.ExpiredAssignments,
		&st.RevokedAssignments,
		&st.ActiveBindings,
	)
	return st, classify(err, nil)
}
