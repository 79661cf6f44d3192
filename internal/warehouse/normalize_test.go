package warehouse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	day := time.Date(2021, 3, 22, 0, 0, 0, 0, time.UTC)
	ts := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		ct   ColumnType
		in   any
		want any
	}{
		{"nil", Integer, nil, nil},
		{"text string", Text, "abc", "abc"},
		{"text bytes", Text, []byte("abc"), "abc"},
		{"int", Integer, 7, int64(7)},
		{"int32", Integer, int32(7), int64(7)},
		{"whole float", Integer, float64(3), int64(3)},
		{"int string", Integer, " 42 ", int64(42)},
		{"real from int", Real, int64(2), float64(2)},
		{"real string", Real, "3.5", 3.5},
		{"date from time", Date, time.Date(2021, 3, 22, 17, 4, 0, 0, time.FixedZone("x", 3600)), day},
		{"date string", Date, "2021-03-22", day},
		{"date from timestamp text", Date, "2021-03-22T00:00:00Z", day},
		{"timestamp local", Timestamp, ts.In(time.FixedZone("x", -7200)), ts},
		{"timestamp rfc3339", Timestamp, "2024-05-01T12:30:00Z", ts},
		{"timestamp sqlite", Timestamp, "2024-05-01 12:30:00", ts},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.ct, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_Errors(t *testing.T) {
	tests := []struct {
		name string
		ct   ColumnType
		in   any
	}{
		{"fraction to integer", Integer, 2.5},
		{"word to integer", Integer, "abc"},
		{"bool to text", Text, true},
		{"bad date", Date, "22/03/2021"},
		{"bad timestamp", Timestamp, "yesterday"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.ct, tt.in)
			assert.Error(t, err)
		})
	}
}

func TestNormalizeRow_NotNull(t *testing.T) {
	tbl := Table{Name: "t", Columns: []Column{{Name: "a", Type: Integer, NotNull: true}}}
	err := NormalizeRow(tbl, []any{nil})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "null value in column a")
}
