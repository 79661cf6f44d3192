// Package warehouse is the relational store the ELT stages read from and
// write to. Every write is a whole-table replacement.
package warehouse

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
)

// ColumnType is the logical type of a column. Backends map it to their own
// DDL and normalize scanned values to a fixed Go type per ColumnType.
type ColumnType int

const (
	Text      ColumnType = iota // string
	Integer                     // int64
	Real                        // float64
	Date                        // time.Time, UTC midnight
	Timestamp                   // time.Time, UTC
)

// String returns the lower-case type name.
func (c ColumnType) String() string {
	switch c {
	case Text:
		return "text"
	case Integer:
		return "integer"
	case Real:
		return "real"
	case Date:
		return "date"
	case Timestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// Column describes one column of a Table.
type Column struct {
	Name    string
	Type    ColumnType
	NotNull bool
}

// Table is a schema-qualified relation definition.
type Table struct {
	Schema  string
	Name    string
	Columns []Column
}

// QualifiedName returns "schema.name".
func (t Table) QualifiedName() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// ColumnNames returns the column names in declaration order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Validate checks that the definition can be materialized.
func (t Table) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return eris.New("warehouse: table name is empty")
	}
	if len(t.Columns) == 0 {
		return eris.Errorf("warehouse: table %s has no columns", t.QualifiedName())
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name == "" {
			return eris.Errorf("warehouse: table %s has an unnamed column", t.QualifiedName())
		}
		if seen[c.Name] {
			return eris.Errorf("warehouse: table %s has duplicate column %q", t.QualifiedName(), c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}

// ErrTableNotFound is returned by Scan when the table does not exist.
var ErrTableNotFound = eris.New("warehouse: table not found")

// Store is the data-store boundary of the pipeline.
//
// Scanned values are normalized per column type: Text → string,
// Integer → int64, Real → float64, Date and Timestamp → time.Time in UTC.
// SQL NULL is returned as nil.
type Store interface {
	// EnsureSchemas creates the given schemas if the backend has them.
	EnsureSchemas(ctx context.Context, schemas ...string) error

	// Replace atomically swaps the full contents of t for rows. On error the
	// previous contents are left untouched.
	Replace(ctx context.Context, t Table, rows [][]any) (int64, error)

	// Scan calls fn for every row of t, reading the columns of t in order.
	Scan(ctx context.Context, t Table, fn func(row []any) error) error

	Close() error
}

// checkRows verifies that every row has one value per column.
func checkRows(t Table, rows [][]any) error {
	for i, row := range rows {
		if len(row) != len(t.Columns) {
			return eris.Errorf("warehouse: %s row %d has %d values, want %d",
				t.QualifiedName(), i, len(row), len(t.Columns))
		}
	}
	return nil
}

// Index returns the position of the named column, or -1.
func (t Table) Index(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}
