package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadCSV parses a delimited file whose first record is the header. Every
// record must have as many fields as the header; a ragged record fails with
// a *csv.ParseError carrying its line. A leading UTF-8 byte-order mark is
// dropped and blank lines are skipped. An empty input yields a nil header.
func ReadCSV(ctx context.Context, r io.Reader, comma rune) ([]string, [][]string, error) {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	if comma != 0 {
		cr.Comma = comma
	}

	var (
		header []string
		rows   [][]string
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, eris.Wrap(err, "csv: read cancelled")
		}
		rec, err := cr.Read()
		if err == io.EOF {
			return header, rows, nil
		}
		if err != nil {
			return nil, nil, eris.Wrapf(err, "csv: record %d", len(rows)+1)
		}
		if header == nil {
			header = rec
			continue
		}
		rows = append(rows, rec)
	}
}
