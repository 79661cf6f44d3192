package fetcher

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// ReadXLSX loads one sheet of a workbook. The first row is the header; data
// rows are padded to the header width and rows with no content are skipped,
// matching how blank lines disappear from CSV input. An empty sheet name
// selects the first sheet.
func ReadXLSX(ctx context.Context, path, sheetName string) ([]string, [][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, nil, eris.Wrap(err, "xlsx: open file")
	}

	var sheet *xlsx.Sheet
	switch {
	case sheetName != "":
		s, ok := f.Sheet[sheetName]
		if !ok {
			return nil, nil, eris.Errorf("xlsx: sheet %q not found", sheetName)
		}
		sheet = s
	case len(f.Sheets) == 0:
		return nil, nil, eris.New("xlsx: workbook has no sheets")
	default:
		sheet = f.Sheets[0]
	}

	var (
		header []string
		rows   [][]string
	)
	for _, row := range sheet.Rows {
		if err := ctx.Err(); err != nil {
			return nil, nil, eris.Wrap(err, "xlsx: read cancelled")
		}
		if row == nil {
			continue
		}
		cells := make([]string, max(len(row.Cells), len(header)))
		blank := true
		for i, c := range row.Cells {
			cells[i] = c.String()
			if strings.TrimSpace(cells[i]) != "" {
				blank = false
			}
		}
		if blank {
			continue
		}
		if header == nil {
			header = cells
			continue
		}
		rows = append(rows, cells)
	}
	return header, rows, nil
}
