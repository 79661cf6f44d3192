// Package source reads the raw ticket export into memory as an ordered
// dataset of raw records.
package source

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"github.com/sells-group/support-elt/internal/fetcher"
	"github.com/sells-group/support-elt/internal/ticket"
)

// Error kinds reported by Read.
var (
	ErrUnavailable = eris.New("source unavailable")
	ErrMalformed   = eris.New("source malformed")
)

// Error is a classified read failure. errors.Is matches both the kind and
// the underlying cause.
type Error struct {
	Kind     error
	Location string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "source: " + e.Kind.Error() + ": " + e.Location
	}
	return "source: " + e.Kind.Error() + ": " + e.Location + ": " + e.Err.Error()
}

// Unwrap exposes the kind and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// File formats.
const (
	FormatAuto = "auto"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// Config describes where and how to read the export.
type Config struct {
	Location  string
	Format    string // auto, csv or xlsx; auto picks xlsx by extension
	Delimiter rune   // CSV only; default ','
	Charset   string // optional WHATWG encoding label, e.g. windows-1252
	Sheet     string // XLSX only; default first sheet
}

// Dataset is the header plus every record of one read, in file order.
type Dataset struct {
	Header  []string
	Records []ticket.RawRecord
}

// Source reads a Dataset from a location. Every Read re-opens the location.
type Source struct {
	cfg     Config
	fetcher fetcher.Fetcher
	enc     encoding.Encoding
	log     *zap.Logger
}

// New validates cfg and returns a Source that opens locations with f.
func New(cfg Config, f fetcher.Fetcher) (*Source, error) {
	if strings.TrimSpace(cfg.Location) == "" {
		return nil, eris.New("source: location is required")
	}
	if f == nil {
		return nil, eris.New("source: fetcher is required")
	}
	switch cfg.Format {
	case "":
		cfg.Format = FormatAuto
	case FormatAuto, FormatCSV, FormatXLSX:
	default:
		return nil, eris.Errorf("source: unknown format %q", cfg.Format)
	}
	if cfg.Delimiter == 0 {
		cfg.Delimiter = ','
	}

	s := &Source{
		cfg:     cfg,
		fetcher: f,
		log:     zap.L().With(zap.String("component", "source")),
	}
	if cfg.Charset != "" {
		enc, err := htmlindex.Get(cfg.Charset)
		if err != nil {
			return nil, eris.Wrapf(err, "source: unknown charset %q", cfg.Charset)
		}
		s.enc = enc
	}
	return s, nil
}

// Location returns the configured location.
func (s *Source) Location() string { return s.cfg.Location }

// Format returns the effective file format.
func (s *Source) Format() string {
	if s.cfg.Format != FormatAuto {
		return s.cfg.Format
	}
	loc := s.cfg.Location
	if i := strings.IndexAny(loc, "?#"); i >= 0 && fetcher.Scheme(loc) != fetcher.SchemeFile {
		loc = loc[:i]
	}
	if strings.EqualFold(filepath.Ext(loc), ".xlsx") {
		return FormatXLSX
	}
	return FormatCSV
}

// Read loads the full dataset. Empty cells are absent keys in each record.
func (s *Source) Read(ctx context.Context) (*Dataset, error) {
	var (
		header []string
		rows   [][]string
		err    error
	)
	if s.Format() == FormatXLSX {
		header, rows, err = s.readXLSX(ctx)
	} else {
		header, rows, err = s.readCSV(ctx)
	}
	if err != nil {
		return nil, err
	}

	ds, err := s.build(header, rows)
	if err != nil {
		return nil, err
	}
	s.log.Debug("source read",
		zap.String("location", s.cfg.Location),
		zap.Int("columns", len(ds.Header)),
		zap.Int("records", len(ds.Records)),
	)
	return ds, nil
}

func (s *Source) readCSV(ctx context.Context) ([]string, [][]string, error) {
	body, err := s.fetcher.Download(ctx, s.cfg.Location)
	if err != nil {
		return nil, nil, s.openErr(ctx, err)
	}
	defer body.Close() //nolint:errcheck

	var r io.Reader = body
	if s.enc != nil {
		r = transform.NewReader(body, s.enc.NewDecoder())
	}

	header, rows, err := fetcher.ReadCSV(ctx, r, s.cfg.Delimiter)
	if err != nil {
		return nil, nil, s.streamErr(ctx, err)
	}
	if header == nil {
		return nil, nil, &Error{Kind: ErrMalformed, Location: s.cfg.Location, Err: eris.New("empty file")}
	}
	return header, rows, nil
}

func (s *Source) readXLSX(ctx context.Context) ([]string, [][]string, error) {
	path := s.cfg.Location
	if fetcher.Scheme(path) != fetcher.SchemeFile {
		tmp, err := os.CreateTemp("", "support-elt-*.xlsx")
		if err != nil {
			return nil, nil, eris.Wrap(err, "source: create temp file")
		}
		_ = tmp.Close()
		defer os.Remove(tmp.Name()) //nolint:errcheck

		if _, err := fetcher.DownloadToFile(ctx, s.fetcher, s.cfg.Location, tmp.Name()); err != nil {
			return nil, nil, s.openErr(ctx, err)
		}
		path = tmp.Name()
	} else {
		path = strings.TrimPrefix(path, "file://")
		if _, err := os.Stat(path); err != nil {
			return nil, nil, s.openErr(ctx, err)
		}
	}

	header, rows, err := fetcher.ReadXLSX(ctx, path, s.cfg.Sheet)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, eris.Wrap(ctx.Err(), "source: read cancelled")
		}
		return nil, nil, &Error{Kind: ErrMalformed, Location: s.cfg.Location, Err: err}
	}
	if header == nil {
		return nil, nil, &Error{Kind: ErrMalformed, Location: s.cfg.Location, Err: eris.New("empty workbook")}
	}
	return header, rows, nil
}

// build checks the header contract and converts rows to records.
func (s *Source) build(header []string, rows [][]string) (*Dataset, error) {
	malformed := func(format string, args ...any) error {
		return &Error{Kind: ErrMalformed, Location: s.cfg.Location, Err: eris.Errorf(format, args...)}
	}

	seen := make(map[string]bool, len(header))
	for i, h := range header {
		if !utf8.ValidString(h) {
			return nil, malformed("header column %d is not valid UTF-8", i+1)
		}
		if h == "" {
			return nil, malformed("header column %d is empty", i+1)
		}
		if seen[h] {
			return nil, malformed("duplicate header column %q", h)
		}
		seen[h] = true
	}
	var missing []string
	for _, col := range ticket.SourceColumns {
		if !seen[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, malformed("missing header columns: %s", strings.Join(missing, ", "))
	}

	records := make([]ticket.RawRecord, 0, len(rows))
	for i, row := range rows {
		n := i + 1
		if len(row) > len(header) {
			for _, extra := range row[len(header):] {
				if extra != "" {
					return nil, malformed("record %d has %d fields, header has %d", n, len(row), len(header))
				}
			}
		}
		rec := make(ticket.RawRecord, len(header))
		for j, h := range header {
			if j >= len(row) || row[j] == "" {
				continue
			}
			if !utf8.ValidString(row[j]) {
				return nil, malformed("record %d column %q is not valid UTF-8", n, h)
			}
			rec[h] = row[j]
		}
		records = append(records, rec)
	}

	return &Dataset{Header: header, Records: records}, nil
}

func (s *Source) openErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return eris.Wrap(ctx.Err(), "source: open cancelled")
	}
	return &Error{Kind: ErrUnavailable, Location: s.cfg.Location, Err: err}
}

func (s *Source) streamErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return eris.Wrap(ctx.Err(), "source: read cancelled")
	}
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return &Error{Kind: ErrMalformed, Location: s.cfg.Location, Err: err}
	}
	return &Error{Kind: ErrUnavailable, Location: s.cfg.Location, Err: err}
}
