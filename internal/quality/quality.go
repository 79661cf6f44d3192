// Package quality computes data-quality metrics over the canonical table.
package quality

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/support-elt/internal/ticket"
	"github.com/sells-group/support-elt/internal/warehouse"
)

// Counter accumulates metrics in a single pass.
type Counter struct {
	report ticket.QualityReport
}

// Add counts one canonical row. A nil ticketID, emailHash or age is NULL.
func (c *Counter) Add(ticketID *int64, emailHash *string, age *int64, rating int64) {
	c.report.TotalRecords++
	if ticketID == nil {
		c.report.NullTicketID++
	}
	if emailHash == nil {
		c.report.NullEmailHash++
	}
	if age != nil && *age < 0 {
		c.report.InvalidAge++
	}
	if rating < ticket.MinRating || rating > ticket.MaxRating {
		c.report.InvalidRating++
	}
}

// Report returns the metrics stamped with runTime.
func (c *Counter) Report(runTime time.Time) ticket.QualityReport {
	r := c.report
	r.RunTime = runTime.UTC()
	return r
}

// Compute returns the metrics for in-memory tickets.
func Compute(tickets []ticket.Canonical, runTime time.Time) ticket.QualityReport {
	var c Counter
	for i := range tickets {
		t := &tickets[i]
		c.Add(&t.TicketID, t.CustomerEmailHash, t.CustomerAge, t.CustomerSatisfactionRating)
	}
	return c.Report(runTime)
}

// Checker runs the quality stage against a store.
type Checker struct {
	log *zap.Logger
}

// NewChecker returns a Checker.
func NewChecker() *Checker {
	return &Checker{log: zap.L().With(zap.String("component", "quality"))}
}

// Run scans the canonical table once and replaces the quality table with a
// single report row. Metric values never fail the stage.
func (c *Checker) Run(ctx context.Context, store warehouse.Store, tables ticket.Tables, runTime time.Time) (*ticket.QualityReport, error) {
	cl := tables.Cleaned
	var (
		iID     = cl.Index(ticket.FieldTicketID)
		iEmail  = cl.Index(ticket.FieldCustomerEmailHash)
		iAge    = cl.Index(ticket.FieldCustomerAge)
		iRating = cl.Index(ticket.FieldSatisfaction)
	)

	var counter Counter
	err := store.Scan(ctx, cl, func(row []any) error {
		var (
			id    *int64
			email *string
			age   *int64
		)
		if v, ok := row[iID].(int64); ok {
			id = &v
		}
		if v, ok := row[iEmail].(string); ok {
			email = &v
		}
		if v, ok := row[iAge].(int64); ok {
			age = &v
		}
		rating, _ := row[iRating].(int64)
		counter.Add(id, email, age, rating)
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "quality: read %s", cl.QualifiedName())
	}

	report := counter.Report(runTime)
	if _, err := store.Replace(ctx, tables.Quality, [][]any{report.Row()}); err != nil {
		return nil, eris.Wrapf(err, "quality: write %s", tables.Quality.QualifiedName())
	}

	c.log.Info("quality report",
		zap.Int64("total_records", report.TotalRecords),
		zap.Int64("null_email_hash", report.NullEmailHash),
		zap.Int64("null_ticket_id", report.NullTicketID),
		zap.Int64("invalid_age", report.InvalidAge),
		zap.Int64("invalid_rating", report.InvalidRating),
	)
	return &report, nil
}
