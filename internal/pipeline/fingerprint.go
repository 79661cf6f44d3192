package pipeline

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/sells-group/support-elt/internal/warehouse"
)

// Fingerprint digests the contents of a table, ignoring the named columns.
// The digest does not depend on scan order, so equal table contents give
// equal fingerprints on every backend.
func Fingerprint(ctx context.Context, store warehouse.Store, t warehouse.Table, ignore ...string) (string, error) {
	skip := make([]bool, len(t.Columns))
	for i, c := range t.Columns {
		skip[i] = slices.Contains(ignore, c.Name)
	}

	var (
		digests []uint64
		buf     []byte
	)
	err := store.Scan(ctx, t, func(row []any) error {
		buf = buf[:0]
		for i, v := range row {
			if skip[i] {
				continue
			}
			buf = appendValue(buf, v)
		}
		digests = append(digests, xxh3.Hash(buf))
		return nil
	})
	if err != nil {
		return "", err
	}

	slices.Sort(digests)
	h := xxh3.New()
	var b [8]byte
	for _, d := range digests {
		binary.LittleEndian.PutUint64(b[:], d)
		_, _ = h.Write(b[:])
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// appendValue writes a type tag and a fixed encoding of v.
func appendValue(buf []byte, v any) []byte {
	switch x := v.(type) {
	case nil:
		return append(buf, 'n')
	case string:
		buf = append(buf, 's')
		buf = binary.LittleEndian.AppendUint64(buf, uint64(len(x)))
		return append(buf, x...)
	case int64:
		buf = append(buf, 'i')
		return binary.LittleEndian.AppendUint64(buf, uint64(x))
	case float64:
		buf = append(buf, 'f')
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(x))
	case time.Time:
		buf = append(buf, 't')
		return binary.LittleEndian.AppendUint64(buf, uint64(x.UnixNano()))
	default:
		s := fmt.Sprint(x)
		buf = append(buf, '?')
		buf = binary.LittleEndian.AppendUint64(buf, uint64(len(s)))
		return append(buf, s...)
	}
}
