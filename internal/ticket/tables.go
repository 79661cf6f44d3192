package ticket

import (
	"github.com/sells-group/support-elt/internal/warehouse"
)

// DefaultDataset is the dataset name used when none is configured.
const DefaultDataset = "customer_support"

// Schemas owned by the pipeline.
const (
	StagingSchema = "staging"
	MartSchema    = "mart"
)

// Canonical column names, in table order.
const (
	FieldTicketID           = "ticket_id"
	FieldCustomerNameMasked = "customer_name_masked"
	FieldCustomerEmailHash  = "customer_email_hash"
	FieldCustomerAge        = "customer_age"
	FieldCustomerGender     = "customer_gender"
	FieldProductPurchased   = "product_purchased"
	FieldDateOfPurchase     = "date_of_purchase"
	FieldTicketType         = "ticket_type"
	FieldTicketSubject      = "ticket_subject"
	FieldTicketStatus       = "ticket_status"
	FieldResolution         = "resolution"
	FieldTicketPriority     = "ticket_priority"
	FieldTicketChannel      = "ticket_channel"
	FieldSatisfaction       = "customer_satisfaction_rating"
	FieldProcessedAt        = "processed_at"
	FieldTotalTickets       = "total_tickets"
	FieldAvgSatisfaction    = "avg_satisfaction"
	FieldTotalRecords       = "total_records"
	FieldNullEmailHash      = "null_email_hash"
	FieldNullTicketID       = "null_ticket_id"
	FieldInvalidAge         = "invalid_age"
	FieldInvalidRating      = "invalid_rating"
	FieldDQRunTime          = "dq_run_time"
)

// Tables names the four relations of one dataset.
type Tables struct {
	Dataset string
	Raw     warehouse.Table
	Cleaned warehouse.Table
	Summary warehouse.Table
	Quality warehouse.Table
}

// TablesFor returns the relation definitions for dataset. The staging table
// takes its columns from header, verbatim and untyped.
func TablesFor(dataset string, header []string) Tables {
	if dataset == "" {
		dataset = DefaultDataset
	}
	return Tables{
		Dataset: dataset,
		Raw:     RawTable(dataset, header),
		Cleaned: CleanedTable(dataset),
		Summary: SummaryTable(dataset),
		Quality: QualityTable(),
	}
}

// RawTable is staging.raw_<dataset> with one TEXT column per header cell.
func RawTable(dataset string, header []string) warehouse.Table {
	cols := make([]warehouse.Column, len(header))
	for i, h := range header {
		cols[i] = warehouse.Column{Name: h, Type: warehouse.Text}
	}
	return warehouse.Table{Schema: StagingSchema, Name: "raw_" + dataset, Columns: cols}
}

// CleanedTable is staging.cleaned_<dataset>.
func CleanedTable(dataset string) warehouse.Table {
	return warehouse.Table{
		Schema: StagingSchema,
		Name:   "cleaned_" + dataset,
		Columns: []warehouse.Column{
			{Name: FieldTicketID, Type: warehouse.Integer},
			{Name: FieldCustomerNameMasked, Type: warehouse.Text, NotNull: true},
			{Name: FieldCustomerEmailHash, Type: warehouse.Text},
			{Name: FieldCustomerAge, Type: warehouse.Integer},
			{Name: FieldCustomerGender, Type: warehouse.Text, NotNull: true},
			{Name: FieldProductPurchased, Type: warehouse.Text, NotNull: true},
			{Name: FieldDateOfPurchase, Type: warehouse.Date},
			{Name: FieldTicketType, Type: warehouse.Text, NotNull: true},
			{Name: FieldTicketSubject, Type: warehouse.Text, NotNull: true},
			{Name: FieldTicketStatus, Type: warehouse.Text, NotNull: true},
			{Name: FieldResolution, Type: warehouse.Text, NotNull: true},
			{Name: FieldTicketPriority, Type: warehouse.Text, NotNull: true},
			{Name: FieldTicketChannel, Type: warehouse.Text, NotNull: true},
			{Name: FieldSatisfaction, Type: warehouse.Integer, NotNull: true},
			{Name: FieldProcessedAt, Type: warehouse.Timestamp, NotNull: true},
		},
	}
}

// SummaryTable is mart.<dataset>_summary.
func SummaryTable(dataset string) warehouse.Table {
	return warehouse.Table{
		Schema: MartSchema,
		Name:   dataset + "_summary",
		Columns: []warehouse.Column{
			{Name: FieldDateOfPurchase, Type: warehouse.Date},
			{Name: FieldTicketType, Type: warehouse.Text},
			{Name: FieldTicketPriority, Type: warehouse.Text},
			{Name: FieldTicketChannel, Type: warehouse.Text},
			{Name: FieldTotalTickets, Type: warehouse.Integer, NotNull: true},
			{Name: FieldAvgSatisfaction, Type: warehouse.Real, NotNull: true},
		},
	}
}

// QualityTable is staging.dq_results.
func QualityTable() warehouse.Table {
	return warehouse.Table{
		Schema: StagingSchema,
		Name:   "dq_results",
		Columns: []warehouse.Column{
			{Name: FieldTotalRecords, Type: warehouse.Integer, NotNull: true},
			{Name: FieldNullEmailHash, Type: warehouse.Integer, NotNull: true},
			{Name: FieldNullTicketID, Type: warehouse.Integer, NotNull: true},
			{Name: FieldInvalidAge, Type: warehouse.Integer, NotNull: true},
			{Name: FieldInvalidRating, Type: warehouse.Integer, NotNull: true},
			{Name: FieldDQRunTime, Type: warehouse.Timestamp, NotNull: true},
		},
	}
}

// Row encodes c in CleanedTable column order.
func (c Canonical) Row() []any {
	var email, age, day any
	if c.CustomerEmailHash != nil {
		email = *c.CustomerEmailHash
	}
	if c.CustomerAge != nil {
		age = *c.CustomerAge
	}
	if !c.DateOfPurchase.IsZero() {
		day = c.DateOfPurchase
	}
	return []any{
		c.TicketID,
		c.CustomerNameMasked,
		email,
		age,
		c.CustomerGender,
		c.ProductPurchased,
		day,
		c.TicketType,
		c.TicketSubject,
		c.TicketStatus,
		c.Resolution,
		c.TicketPriority,
		c.TicketChannel,
		c.CustomerSatisfactionRating,
		c.ProcessedAt,
	}
}

// Row encodes s in SummaryTable column order.
func (s SummaryRow) Row() []any {
	var day any
	if !s.DateOfPurchase.IsZero() {
		day = s.DateOfPurchase
	}
	return []any{
		day,
		s.TicketType,
		s.TicketPriority,
		s.TicketChannel,
		s.TotalTickets,
		s.AvgSatisfaction,
	}
}

// Row encodes q in QualityTable column order.
func (q QualityReport) Row() []any {
	return []any{
		q.TotalRecords,
		q.NullEmailHash,
		q.NullTicketID,
		q.InvalidAge,
		q.InvalidRating,
		q.RunTime,
	}
}
