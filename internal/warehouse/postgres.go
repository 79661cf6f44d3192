package warehouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/support-elt/internal/db"
)

// undefinedTable is the SQLSTATE for a missing relation.
const undefinedTable = "42P01"

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Close does not close it.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need direct
// query access, such as the run log.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

// EnsureSchemas runs CREATE SCHEMA IF NOT EXISTS for each schema.
func (s *PostgresStore) EnsureSchemas(ctx context.Context, schemas ...string) error {
	for _, schema := range schemas {
		if schema == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+db.SanitizeTable(schema)); err != nil {
			return eris.Wrapf(err, "postgres: create schema %s", schema)
		}
	}
	return nil
}

// Replace swaps the contents of t inside one transaction.
func (s *PostgresStore) Replace(ctx context.Context, t Table, rows [][]any) (int64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	if err := checkRows(t, rows); err != nil {
		return 0, err
	}

	n, err := db.ReplaceTable(ctx, s.pool, db.ReplaceConfig{
		Schema:     t.Schema,
		Table:      t.Name,
		Columns:    t.ColumnNames(),
		ColumnDefs: postgresColumnDefs(t),
	}, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: replace %s", t.QualifiedName())
	}
	return n, nil
}

// Scan streams every row of t to fn.
func (s *PostgresStore) Scan(ctx context.Context, t Table, fn func(row []any) error) error {
	if err := t.Validate(); err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT %s FROM %s", db.QuoteAndJoin(t.ColumnNames()), db.SanitizeTable(t.QualifiedName()))
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return pgScanErr(err, t)
	}
	defer rows.Close()

	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return eris.Wrapf(err, "postgres: scan %s", t.QualifiedName())
		}
		if len(vals) != len(t.Columns) {
			return eris.Errorf("postgres: scan %s: got %d values, want %d", t.QualifiedName(), len(vals), len(t.Columns))
		}
		for i, c := range t.Columns {
			v, err := Normalize(c.Type, vals[i])
			if err != nil {
				return eris.Wrapf(err, "postgres: scan %s", t.QualifiedName())
			}
			vals[i] = v
		}
		if err := fn(vals); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return pgScanErr(err, t)
	}
	return nil
}

// Close releases the pool if this store opened it.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func pgScanErr(err error, t Table) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
		return eris.Wrapf(ErrTableNotFound, "postgres: %s", t.QualifiedName())
	}
	return eris.Wrapf(err, "postgres: scan %s", t.QualifiedName())
}

func postgresColumnDefs(t Table) []string {
	defs := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		defs[i] = postgresType(c.Type)
		if c.NotNull {
			defs[i] += " NOT NULL"
		}
	}
	return defs
}

func postgresType(ct ColumnType) string {
	switch ct {
	case Integer:
		return "BIGINT"
	case Real:
		return "DOUBLE PRECISION"
	case Date:
		return "DATE"
	case Timestamp:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}
