// Package transform maps raw staging rows to cleaned, typed and
// privacy-masked canonical tickets.
package transform

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/support-elt/internal/ticket"
	"github.com/sells-group/support-elt/internal/warehouse"
)

// Mask replaces everything after the first character of a name.
const Mask = "***"

// DateLayouts are tried in order when parsing Date of Purchase.
var DateLayouts = []string{"2/1/06", "2006-01-02"}

// Reason says why a row was rejected.
type Reason string

// Rejection reasons.
const (
	ReasonMissingTicketID Reason = "missing_ticket_id"
	ReasonInvalidTicketID Reason = "invalid_ticket_id"
	ReasonInvalidAge      Reason = "invalid_age"
	ReasonInvalidRating   Reason = "invalid_rating"
	ReasonInvalidDate     Reason = "invalid_date"
)

// Rejection describes one dropped row. Row is the 1-based position in the
// staging scan.
type Rejection struct {
	Row      int    `json:"row"`
	TicketID string `json:"ticket_id,omitempty"`
	Reason   Reason `json:"reason"`
	Detail   string `json:"detail"`
}

// Config configures a Transformer.
type Config struct {
	Pepper  string
	Workers int
}

// Transformer applies the cleaning rules. It is safe for concurrent use.
type Transformer struct {
	pepper  string
	workers int
	log     *zap.Logger
}

// New returns a Transformer. A pepper is required.
func New(cfg Config) (*Transformer, error) {
	if cfg.Pepper == "" {
		return nil, eris.New("transform: pepper is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Transformer{
		pepper:  cfg.Pepper,
		workers: cfg.Workers,
		log:     zap.L().With(zap.String("component", "transform")),
	}, nil
}

// Result is the output of one transform pass.
type Result struct {
	RowsIn     int
	Rows       []ticket.Canonical
	Rejections []Rejection
}

// Counts returns the number of rejections per reason.
func (r *Result) Counts() map[Reason]int {
	counts := make(map[Reason]int)
	for _, rej := range r.Rejections {
		counts[rej.Reason]++
	}
	return counts
}

// HashEmail returns hex(sha256(lower(trim(email)) + pepper)), or false for
// a blank email.
func (t *Transformer) HashEmail(email string) (string, bool) {
	norm := strings.ToLower(strings.TrimSpace(email))
	if norm == "" {
		return "", false
	}
	sum := sha256.Sum256([]byte(norm + t.pepper))
	return hex.EncodeToString(sum[:]), true
}

// MaskName keeps the first character of the left-trimmed name.
func MaskName(name string) string {
	name = strings.TrimLeft(name, " \t\r\n")
	if name == "" {
		return Mask
	}
	r, _ := utf8.DecodeRuneInString(name)
	return string(r) + Mask
}

// Map converts one raw record. It returns a non-nil Rejection instead of a
// canonical row when a field cannot be coerced.
func (t *Transformer) Map(rec ticket.RawRecord, processedAt time.Time) (ticket.Canonical, *Rejection) {
	var c ticket.Canonical

	rawID := strings.TrimSpace(rec[ticket.ColTicketID])
	if rawID == "" {
		return c, &Rejection{Reason: ReasonMissingTicketID, Detail: "ticket id is empty"}
	}
	id, err := parseWhole(rawID)
	if err != nil {
		return c, &Rejection{TicketID: rawID, Reason: ReasonInvalidTicketID, Detail: err.Error()}
	}
	c.TicketID = id

	if raw, ok := present(rec, ticket.ColCustomerAge); ok {
		age, err := parseWhole(raw)
		if err != nil {
			return c, &Rejection{TicketID: rawID, Reason: ReasonInvalidAge, Detail: err.Error()}
		}
		c.CustomerAge = &age
	}

	c.CustomerSatisfactionRating = ticket.DefaultRating
	if raw, ok := present(rec, ticket.ColSatisfaction); ok {
		rating, err := parseWhole(raw)
		if err != nil {
			return c, &Rejection{TicketID: rawID, Reason: ReasonInvalidRating, Detail: err.Error()}
		}
		c.CustomerSatisfactionRating = rating
	}

	if raw, ok := present(rec, ticket.ColDateOfPurchase); ok {
		day, err := parseDate(raw)
		if err != nil {
			return c, &Rejection{TicketID: rawID, Reason: ReasonInvalidDate, Detail: err.Error()}
		}
		c.DateOfPurchase = day
	}

	c.CustomerNameMasked = MaskName(rec[ticket.ColCustomerName])
	if hash, ok := t.HashEmail(rec[ticket.ColCustomerEmail]); ok {
		c.CustomerEmailHash = &hash
	}

	c.CustomerGender = orDefault(rec, ticket.ColCustomerGender, ticket.DefaultGender)
	c.ProductPurchased = strings.TrimSpace(rec[ticket.ColProductPurchased])
	c.TicketType = strings.TrimSpace(rec[ticket.ColTicketType])
	c.TicketSubject = strings.TrimSpace(rec[ticket.ColTicketSubject])
	c.TicketStatus = orDefault(rec, ticket.ColTicketStatus, ticket.DefaultStatus)
	c.Resolution = orDefault(rec, ticket.ColResolution, ticket.DefaultResolution)
	c.TicketPriority = orDefault(rec, ticket.ColTicketPriority, ticket.DefaultPriority)
	c.TicketChannel = orDefault(rec, ticket.ColTicketChannel, ticket.DefaultChannel)
	c.ProcessedAt = processedAt.UTC()

	return c, nil
}

// TransformAll maps records on up to Workers goroutines. Accepted rows are
// returned sorted by ticket id; ties keep input order.
func (t *Transformer) TransformAll(ctx context.Context, records []ticket.RawRecord, processedAt time.Time) (*Result, error) {
	n := len(records)
	rows := make([]ticket.Canonical, n)
	rejects := make([]*Rejection, n)

	chunk := (n + t.workers - 1) / t.workers
	if chunk == 0 {
		chunk = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		g.Go(func() error {
			for i := start; i < end; i++ {
				if (i-start)%1024 == 0 && gctx.Err() != nil {
					return eris.Wrap(gctx.Err(), "transform: cancelled")
				}
				rows[i], rejects[i] = t.Map(records[i], processedAt)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{RowsIn: n, Rows: make([]ticket.Canonical, 0, n)}
	for i := range records {
		if rej := rejects[i]; rej != nil {
			rej.Row = i + 1
			res.Rejections = append(res.Rejections, *rej)
			t.log.Debug("row rejected",
				zap.Int("row", rej.Row),
				zap.String("ticket_id", rej.TicketID),
				zap.String("reason", string(rej.Reason)),
				zap.String("detail", rej.Detail),
			)
			continue
		}
		res.Rows = append(res.Rows, rows[i])
	}
	sort.SliceStable(res.Rows, func(i, j int) bool { return res.Rows[i].TicketID < res.Rows[j].TicketID })
	return res, nil
}

// Run reads the staging table, maps every row and replaces the canonical
// table with the accepted rows.
func (t *Transformer) Run(ctx context.Context, store warehouse.Store, tables ticket.Tables, processedAt time.Time) (*Result, error) {
	records, err := ReadRaw(ctx, store, tables.Raw)
	if err != nil {
		return nil, err
	}

	res, err := t.TransformAll(ctx, records, processedAt)
	if err != nil {
		return nil, err
	}

	out := make([][]any, len(res.Rows))
	for i, c := range res.Rows {
		out[i] = c.Row()
	}
	if _, err := store.Replace(ctx, tables.Cleaned, out); err != nil {
		return nil, eris.Wrapf(err, "transform: write %s", tables.Cleaned.QualifiedName())
	}

	t.log.Info("transform complete",
		zap.String("table", tables.Cleaned.QualifiedName()),
		zap.Int("rows_in", res.RowsIn),
		zap.Int("rows_out", len(res.Rows)),
		zap.Int("rejected", len(res.Rejections)),
	)
	return res, nil
}

// ReadRaw scans a staging table back into raw records. NULL cells are
// absent keys.
func ReadRaw(ctx context.Context, store warehouse.Store, raw warehouse.Table) ([]ticket.RawRecord, error) {
	names := raw.ColumnNames()
	var records []ticket.RawRecord
	err := store.Scan(ctx, raw, func(row []any) error {
		rec := make(ticket.RawRecord, len(names))
		for i, v := range row {
			if s, ok := v.(string); ok {
				rec[names[i]] = s
			}
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "transform: read %s", raw.QualifiedName())
	}
	return records, nil
}

// present returns the trimmed value and whether it is non-blank.
func present(rec ticket.RawRecord, col string) (string, bool) {
	v := strings.TrimSpace(rec[col])
	return v, v != ""
}

func orDefault(rec ticket.RawRecord, col, def string) string {
	if v, ok := present(rec, col); ok {
		return v
	}
	return def
}

// parseWhole parses an integer, or a finite decimal rounded half away from
// zero.
func parseWhole(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, eris.Errorf("%q is not a number", s)
	}
	r := math.Round(f)
	if r < math.MinInt64 || r >= math.MaxInt64 {
		return 0, eris.Errorf("%q is out of range", s)
	}
	return int64(r), nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range DateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return d, nil
		}
	}
	return time.Time{}, eris.Errorf("%q does not match %s", s, strings.Join(DateLayouts, " or "))
}
