package warehouse

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
)

type memTable struct {
	columns []string
	rows    [][]any
}

// MemoryStore is an in-process Store used by dry runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	schemas map[string]bool
	tables  map[string]memTable
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		schemas: make(map[string]bool),
		tables:  make(map[string]memTable),
	}
}

// EnsureSchemas records the schemas.
func (s *MemoryStore) EnsureSchemas(_ context.Context, schemas ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, schema := range schemas {
		s.schemas[schema] = true
	}
	return nil
}

// Replace normalizes a private copy of rows and swaps it in.
func (s *MemoryStore) Replace(ctx context.Context, t Table, rows [][]any) (int64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	if err := checkRows(t, rows); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, eris.Wrapf(err, "memory: replace %s", t.QualifiedName())
	}

	cp := make([][]any, len(rows))
	for i, row := range rows {
		r := append([]any(nil), row...)
		if err := NormalizeRow(t, r); err != nil {
			return 0, err
		}
		cp[i] = r
	}

	s.mu.Lock()
	s.tables[t.QualifiedName()] = memTable{columns: t.ColumnNames(), rows: cp}
	s.mu.Unlock()
	return int64(len(cp)), nil
}

// Scan reads a snapshot of t. Columns are matched by name.
func (s *MemoryStore) Scan(ctx context.Context, t Table, fn func(row []any) error) error {
	if err := t.Validate(); err != nil {
		return err
	}

	s.mu.RLock()
	mt, ok := s.tables[t.QualifiedName()]
	s.mu.RUnlock()
	if !ok {
		return eris.Wrapf(ErrTableNotFound, "memory: %s", t.QualifiedName())
	}

	pos := make([]int, len(t.Columns))
	for i, c := range t.Columns {
		pos[i] = -1
		for j, name := range mt.columns {
			if name == c.Name {
				pos[i] = j
				break
			}
		}
		if pos[i] < 0 {
			return eris.Errorf("memory: scan %s: no column %q", t.QualifiedName(), c.Name)
		}
	}

	for _, row := range mt.rows {
		if err := ctx.Err(); err != nil {
			return eris.Wrapf(err, "memory: scan %s", t.QualifiedName())
		}
		out := make([]any, len(pos))
		for i, p := range pos {
			out[i] = row[p]
		}
		if err := fn(out); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the row count of the named table, or -1 if it does not exist.
func (s *MemoryStore) Len(qualifiedName string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mt, ok := s.tables[qualifiedName]
	if !ok {
		return -1
	}
	return len(mt.rows)
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
