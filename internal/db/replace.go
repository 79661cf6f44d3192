package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// ShadowSuffix is appended to a table name to form its staging copy during
// a replacement.
const ShadowSuffix = "__next"

// ReplaceConfig defines the parameters for a whole-table replacement.
type ReplaceConfig struct {
	Schema     string   // target schema (e.g., "staging")
	Table      string   // target table, unqualified (e.g., "raw_customer_support")
	Columns    []string // column names in row order
	ColumnDefs []string // DDL type per column, parallel to Columns (e.g., "TEXT", "BIGINT NOT NULL")
}

// ReplaceTable atomically swaps the contents of a table for rows.
//  1. Drops any leftover shadow table
//  2. Creates the shadow table from ColumnDefs
//  3. COPY rows into the shadow table
//  4. Drops the target and renames the shadow into its place
//
// All four steps run in one transaction, so readers see either the old table
// or the complete new one. On error the transaction is rolled back and the
// previous table is untouched.
func ReplaceTable(ctx context.Context, pool Pool, cfg ReplaceConfig, rows [][]any) (int64, error) {
	if cfg.Table == "" {
		return 0, eris.New("db: replace: no table specified")
	}
	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: replace: no columns specified")
	}
	if len(cfg.ColumnDefs) != len(cfg.Columns) {
		return 0, eris.Errorf("db: replace: %d column defs for %d columns", len(cfg.ColumnDefs), len(cfg.Columns))
	}

	target := qualified(cfg.Schema, cfg.Table)
	shadow := cfg.Table + ShadowSuffix

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrapf(err, "db: replace: begin tx for %s", target)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+identifier(cfg.Schema, shadow).Sanitize()); err != nil {
		return 0, eris.Wrapf(err, "db: replace: drop stale shadow for %s", target)
	}

	createSQL := fmt.Sprintf("CREATE TABLE %s (%s)",
		identifier(cfg.Schema, shadow).Sanitize(),
		columnList(cfg.Columns, cfg.ColumnDefs),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: replace: create shadow for %s", target)
	}

	n, err := CopyFromSchema(ctx, tx, cfg.Schema, shadow, cfg.Columns, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "db: replace: load %s", target)
	}

	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+identifier(cfg.Schema, cfg.Table).Sanitize()); err != nil {
		return 0, eris.Wrapf(err, "db: replace: drop %s", target)
	}

	renameSQL := fmt.Sprintf("ALTER TABLE %s RENAME TO %s",
		identifier(cfg.Schema, shadow).Sanitize(),
		pgx.Identifier{cfg.Table}.Sanitize(),
	)
	if _, err := tx.Exec(ctx, renameSQL); err != nil {
		return 0, eris.Wrapf(err, "db: replace: swap %s", target)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrapf(err, "db: replace: commit %s", target)
	}

	return n, nil
}

// SanitizeTable quotes schema-qualified table names like "staging.dq_results".
func SanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// QuoteAndJoin quotes each column name and joins with commas.
func QuoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

func columnList(cols, defs []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = pgx.Identifier{c}.Sanitize() + " " + defs[i]
	}
	return strings.Join(parts, ", ")
}
