// Package pgstore implements rbac.Store on PostgreSQL with pgx/v5.
//
// The schema ships as goose migrations embedded in Migrations:
//
//	cfg.MigrationsPath = pgstore.MigrationsDir
//	if err := pg.Migrate(ctx, pool, cfg, pgstore.Migrations, log); err != nil {
//	    return err
//	}
//	svc := rbac.New(pgstore.New(pool), rbac.WithLogger(log))
//
// Partial unique indexes enforce one active grant per (role, permission),
// one direct grant per pair, one active primary role per user and one live
// permission per name. Role and permission rows are locked with
// SELECT ... FOR UPDATE; parent changes additionally hold a transaction
// advisory lock. The ancestor walk is a bounded recursive CTE that flags
// cycles instead of looping.
package pgstore
