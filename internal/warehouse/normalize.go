package warehouse

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Text layouts used by backends without native date types.
const (
	DateLayout      = "2006-01-02"
	TimestampLayout = time.RFC3339Nano
)

var timestampFallbacks = []string{
	TimestampLayout,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Normalize converts a driver or caller value to the Go type of ct.
// nil passes through as SQL NULL.
func Normalize(ct ColumnType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch ct {
	case Text:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		}
	case Integer:
		switch x := v.(type) {
		case int64:
			return x, nil
		case int:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case int16:
			return int64(x), nil
		case float64:
			if x == math.Trunc(x) && !math.IsInf(x, 0) {
				return int64(x), nil
			}
		case string:
			return parseInt(x)
		case []byte:
			return parseInt(string(x))
		}
	case Real:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case int:
			return float64(x), nil
		case string:
			return parseFloat(x)
		case []byte:
			return parseFloat(string(x))
		}
	case Date:
		switch x := v.(type) {
		case time.Time:
			return truncateDate(x), nil
		case string:
			return parseDate(x)
		case []byte:
			return parseDate(string(x))
		}
	case Timestamp:
		switch x := v.(type) {
		case time.Time:
			return x.UTC(), nil
		case string:
			return parseTimestamp(x)
		case []byte:
			return parseTimestamp(string(x))
		}
	}
	return nil, eris.Errorf("warehouse: cannot use %T as %s", v, ct)
}

// NormalizeRow normalizes row in place against the columns of t and enforces
// NOT NULL.
func NormalizeRow(t Table, row []any) error {
	for i, c := range t.Columns {
		v, err := Normalize(c.Type, row[i])
		if err != nil {
			return eris.Wrapf(err, "warehouse: %s.%s", t.QualifiedName(), c.Name)
		}
		if v == nil && c.NotNull {
			return eris.Errorf("warehouse: null value in column %s of %s", c.Name, t.QualifiedName())
		}
		row[i] = v
	}
	return nil
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func parseInt(s string) (any, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return nil, eris.Wrapf(err, "warehouse: parse integer %q", s)
	}
	return n, nil
}

func parseFloat(s string) (any, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil, eris.Wrapf(err, "warehouse: parse real %q", s)
	}
	return f, nil
}

func parseDate(s string) (any, error) {
	s = strings.TrimSpace(s)
	if len(s) >= len(DateLayout) {
		if t, err := time.Parse(DateLayout, s[:len(DateLayout)]); err == nil {
			return t, nil
		}
	}
	return nil, eris.Errorf("warehouse: parse date %q", s)
}

func parseTimestamp(s string) (any, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampFallbacks {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return nil, eris.Errorf("warehouse: parse timestamp %q", s)
}
