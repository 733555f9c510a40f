// Package pg bootstraps PostgreSQL access on pgx/v5: a pool that retries
// until the database is reachable, goose migrations from a directory or an
// embedded file system, a transaction helper and error classifiers.
//
//	var cfg pg.Config
//	if err := env.Parse(&cfg); err != nil {
//	    return err
//	}
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, pgstore.Migrations, slog.Default()); err != nil {
//	    return err
//	}
//
//	err = pg.WithTx(ctx, pool, func(tx pgx.Tx) error {
//	    _, err := tx.Exec(ctx, "UPDATE ...")
//	    return err
//	})
//
// IsRetryable tells transport failures and timeouts apart from query errors
// so callers can decide what to retry.
package pg
