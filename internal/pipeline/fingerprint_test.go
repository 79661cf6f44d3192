package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/support-elt/internal/warehouse"
)

func TestFingerprint(t *testing.T) {
	ctx := context.Background()
	tbl := warehouse.Table{Schema: "staging", Name: "things", Columns: []warehouse.Column{
		{Name: "id", Type: warehouse.Integer},
		{Name: "name", Type: warehouse.Text},
		{Name: "at", Type: warehouse.Timestamp},
	}}
	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	fp := func(rows [][]any, ignore ...string) string {
		store := warehouse.NewMemory()
		_, err := store.Replace(ctx, tbl, rows)
		require.NoError(t, err)
		s, err := Fingerprint(ctx, store, tbl, ignore...)
		require.NoError(t, err)
		return s
	}

	base := fp([][]any{{int64(1), "a", t1}, {int64(2), nil, t1}})
	assert.Len(t, base, 16)
	assert.Equal(t, base, fp([][]any{{int64(2), nil, t1}, {int64(1), "a", t1}}), "row order")
	assert.NotEqual(t, base, fp([][]any{{int64(1), "a", t1}, {int64(2), "", t1}}), "null vs empty")
	assert.NotEqual(t, base, fp([][]any{{int64(1), "a", t2}, {int64(2), nil, t1}}))
	assert.Equal(t,
		fp([][]any{{int64(1), "a", t1}}, "at"),
		fp([][]any{{int64(1), "a", t2}}, "at"),
	)
}

func TestFingerprint_MissingTable(t *testing.T) {
	tbl := warehouse.Table{Name: "nope", Columns: []warehouse.Column{{Name: "id"}}}
	_, err := Fingerprint(context.Background(), warehouse.NewMemory(), tbl)
	assert.ErrorIs(t, err, warehouse.ErrTableNotFound)
}
