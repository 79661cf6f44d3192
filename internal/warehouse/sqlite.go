package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/support-elt/internal/db"
)

// SQLiteStore implements Store on a single SQLite file. SQLite has no
// schemas, so schema.table is stored as schema__table.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqlDB}, nil
}

// NewSQLiteFromDB wraps an open database handle.
func NewSQLiteFromDB(sqlDB *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: sqlDB}
}

// EnsureSchemas is a no-op; schemas are folded into table names.
func (s *SQLiteStore) EnsureSchemas(_ context.Context, _ ...string) error {
	return nil
}

// Replace swaps the contents of t inside one transaction.
func (s *SQLiteStore) Replace(ctx context.Context, t Table, rows [][]any) (int64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	if err := checkRows(t, rows); err != nil {
		return 0, err
	}

	name := sqliteName(t)
	shadow := name + db.ShadowSuffix

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: begin tx for %s", t.QualifiedName())
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quote(shadow)); err != nil {
		return 0, eris.Wrapf(err, "sqlite: drop stale shadow for %s", t.QualifiedName())
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", quote(shadow), sqliteColumnDefs(t))); err != nil {
		return 0, eris.Wrapf(err, "sqlite: create shadow for %s", t.QualifiedName())
	}

	if len(rows) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(t.Columns)), ", ")
		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			quote(shadow), quoteColumns(t.ColumnNames()), placeholders))
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: prepare insert for %s", t.QualifiedName())
		}
		defer stmt.Close() //nolint:errcheck

		args := make([]any, len(t.Columns))
		for i, row := range rows {
			for j, c := range t.Columns {
				v, err := sqliteValue(c.Type, row[j])
				if err != nil {
					return 0, eris.Wrapf(err, "sqlite: %s row %d column %s", t.QualifiedName(), i, c.Name)
				}
				args[j] = v
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return 0, eris.Wrapf(err, "sqlite: insert %s row %d", t.QualifiedName(), i)
			}
		}
	}

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quote(name)); err != nil {
		return 0, eris.Wrapf(err, "sqlite: drop %s", t.QualifiedName())
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", quote(shadow), quote(name))); err != nil {
		return 0, eris.Wrapf(err, "sqlite: swap %s", t.QualifiedName())
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrapf(err, "sqlite: commit %s", t.QualifiedName())
	}
	return int64(len(rows)), nil
}

// Scan streams every row of t to fn.
func (s *SQLiteStore) Scan(ctx context.Context, t Table, fn func(row []any) error) error {
	if err := t.Validate(); err != nil {
		return err
	}
	name := sqliteName(t)

	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&exists)
	if err != nil {
		return eris.Wrapf(err, "sqlite: lookup %s", t.QualifiedName())
	}
	if exists == 0 {
		return eris.Wrapf(ErrTableNotFound, "sqlite: %s", t.QualifiedName())
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s", quoteColumns(t.ColumnNames()), quote(name)))
	if err != nil {
		return eris.Wrapf(err, "sqlite: scan %s", t.QualifiedName())
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		vals := make([]any, len(t.Columns))
		ptrs := make([]any, len(t.Columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return eris.Wrapf(err, "sqlite: scan %s", t.QualifiedName())
		}
		for i, c := range t.Columns {
			v, err := Normalize(c.Type, vals[i])
			if err != nil {
				return eris.Wrapf(err, "sqlite: scan %s", t.QualifiedName())
			}
			vals[i] = v
		}
		if err := fn(vals); err != nil {
			return err
		}
	}
	return eris.Wrapf(rows.Err(), "sqlite: scan %s", t.QualifiedName())
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func sqliteName(t Table) string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "__" + t.Name
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteColumns(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quote(c)
	}
	return strings.Join(quoted, ", ")
}

func sqliteColumnDefs(t Table) string {
	parts := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		parts[i] = quote(c.Name) + " " + sqliteType(c.Type)
		if c.NotNull {
			parts[i] += " NOT NULL"
		}
	}
	return strings.Join(parts, ", ")
}

func sqliteType(ct ColumnType) string {
	switch ct {
	case Integer:
		return "INTEGER"
	case Real:
		return "REAL"
	default:
		return "TEXT"
	}
}

// sqliteValue encodes v for storage; dates and timestamps become text.
func sqliteValue(ct ColumnType, v any) (any, error) {
	n, err := Normalize(ct, v)
	if err != nil || n == nil {
		return n, err
	}
	switch ct {
	case Date:
		return n.(time.Time).Format(DateLayout), nil
	case Timestamp:
		return n.(time.Time).Format(TimestampLayout), nil
	}
	return n, nil
}
