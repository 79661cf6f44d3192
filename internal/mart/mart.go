// Package mart aggregates canonical tickets into the reporting summary.
package mart

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/support-elt/internal/ticket"
	"github.com/sells-group/support-elt/internal/warehouse"
)

type group struct {
	count int64
	mean  float64
}

// Aggregator accumulates summary groups one ticket at a time.
type Aggregator struct {
	groups map[ticket.SummaryKey]*group
}

// NewAggregator returns an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{groups: make(map[ticket.SummaryKey]*group)}
}

// Add folds one rating into its group using a running mean.
func (a *Aggregator) Add(key ticket.SummaryKey, rating int64) {
	g, ok := a.groups[key]
	if !ok {
		g = &group{}
		a.groups[key] = g
	}
	g.count++
	g.mean += (float64(rating) - g.mean) / float64(g.count)
}

// Rows returns one row per observed key, sorted by key.
func (a *Aggregator) Rows() []ticket.SummaryRow {
	rows := make([]ticket.SummaryRow, 0, len(a.groups))
	for k, g := range a.groups {
		rows = append(rows, ticket.SummaryRow{SummaryKey: k, TotalTickets: g.count, AvgSatisfaction: g.mean})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].SummaryKey.Less(rows[j].SummaryKey) })
	return rows
}

// Build aggregates canonical tickets in memory.
func Build(tickets []ticket.Canonical) []ticket.SummaryRow {
	a := NewAggregator()
	for _, c := range tickets {
		a.Add(KeyOf(c), c.CustomerSatisfactionRating)
	}
	return a.Rows()
}

// KeyOf returns the grouping key of c.
func KeyOf(c ticket.Canonical) ticket.SummaryKey {
	return ticket.SummaryKey{
		DateOfPurchase: c.DateOfPurchase,
		TicketType:     c.TicketType,
		TicketPriority: c.TicketPriority,
		TicketChannel:  c.TicketChannel,
	}
}

// Builder runs the aggregation stage against a store.
type Builder struct {
	log *zap.Logger
}

// NewBuilder returns a Builder.
func NewBuilder() *Builder {
	return &Builder{log: zap.L().With(zap.String("component", "mart"))}
}

// Result reports one aggregation pass.
type Result struct {
	RowsIn int
	Rows   []ticket.SummaryRow
}

// Run reads the canonical table and replaces the summary table.
func (b *Builder) Run(ctx context.Context, store warehouse.Store, tables ticket.Tables) (*Result, error) {
	cl := tables.Cleaned
	var (
		iDate     = cl.Index(ticket.FieldDateOfPurchase)
		iType     = cl.Index(ticket.FieldTicketType)
		iPriority = cl.Index(ticket.FieldTicketPriority)
		iChannel  = cl.Index(ticket.FieldTicketChannel)
		iRating   = cl.Index(ticket.FieldSatisfaction)
	)

	agg := NewAggregator()
	rowsIn := 0
	err := store.Scan(ctx, cl, func(row []any) error {
		rowsIn++
		key := ticket.SummaryKey{
			TicketType:     text(row[iType]),
			TicketPriority: text(row[iPriority]),
			TicketChannel:  text(row[iChannel]),
		}
		if d, ok := row[iDate].(time.Time); ok {
			key.DateOfPurchase = d
		}
		rating, _ := row[iRating].(int64)
		agg.Add(key, rating)
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "mart: read %s", cl.QualifiedName())
	}

	rows := agg.Rows()
	out := make([][]any, len(rows))
	for i, r := range rows {
		out[i] = r.Row()
	}
	if _, err := store.Replace(ctx, tables.Summary, out); err != nil {
		return nil, eris.Wrapf(err, "mart: write %s", tables.Summary.QualifiedName())
	}

	b.log.Info("mart rebuilt",
		zap.String("table", tables.Summary.QualifiedName()),
		zap.Int("rows_in", rowsIn),
		zap.Int("groups", len(rows)),
	)
	return &Result{RowsIn: rowsIn, Rows: rows}, nil
}

func text(v any) string {
	s, _ := v.(string)
	return s
}
