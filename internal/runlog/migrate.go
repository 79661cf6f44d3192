// Package runlog bootstraps the warehouse schemas and records the history
// of pipeline runs in staging.pipeline_runs.
package runlog

import (
	"context"
	"embed"
	"io/fs"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/support-elt/internal/db"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const migrationLockID = 7302114

// Migrate applies the pending embedded migrations in name order. Each one
// runs in its own transaction together with its bookkeeping row, and a
// session advisory lock keeps concurrent callers from racing.
func Migrate(ctx context.Context, pool db.Pool) error {
	log := zap.L().With(zap.String("component", "runlog.migrate"))

	if _, err := pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "runlog: acquire migration advisory lock")
	}
	defer func() {
		if _, err := pool.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			log.Warn("runlog: release migration advisory lock", zap.Error(err))
		}
	}()

	if _, err := pool.Exec(ctx, trackingDDL); err != nil {
		return eris.Wrap(err, "runlog: ensure migration table")
	}
	done, err := appliedMigrations(ctx, pool)
	if err != nil {
		return err
	}
	names, err := MigrationNames()
	if err != nil {
		return err
	}

	pending := 0
	for _, name := range names {
		if done[name] {
			continue
		}
		body, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "runlog: read migration %s", name)
		}
		if err := applyMigration(ctx, pool, name, string(body)); err != nil {
			return err
		}
		log.Info("runlog: applied migration", zap.String("file", name))
		pending++
	}
	if pending == 0 {
		log.Debug("runlog: schema up to date", zap.Int("migrations", len(names)))
	}
	return nil
}

func applyMigration(ctx context.Context, pool db.Pool, name, body string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return eris.Wrapf(err, "runlog: begin migration %s", name)
	}
	fail := func(err error, what string) error {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return eris.Wrapf(err, "runlog: %s migration %s", what, name)
	}

	if _, err := tx.Exec(ctx, body); err != nil {
		return fail(err, "apply")
	}
	if _, err := tx.Exec(ctx, "INSERT INTO staging.schema_migrations (filename) VALUES ($1)", name); err != nil {
		return fail(err, "record")
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrapf(err, "runlog: commit migration %s", name)
	}
	return nil
}

// MigrationNames returns the embedded migration files in apply order.
func MigrationNames() ([]string, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, eris.Wrap(err, "runlog: read migration dir")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

const trackingDDL = `
CREATE SCHEMA IF NOT EXISTS staging;
CREATE TABLE IF NOT EXISTS staging.schema_migrations (
	filename   TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

func appliedMigrations(ctx context.Context, pool db.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, "SELECT filename FROM staging.schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "runlog: query applied migrations")
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, eris.Wrap(err, "runlog: scan applied migrations")
	}
	done := make(map[string]bool, len(names))
	for _, n := range names {
		done[n] = true
	}
	return done, nil
}
