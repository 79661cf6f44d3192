// Package ticket defines the customer-support records that flow through the
// ELT stages: raw source rows, cleaned canonical tickets, mart summary rows
// and the data-quality report.
package ticket

import "time"

// Source header contract.
const (
	ColTicketID         = "Ticket ID"
	ColCustomerName     = "Customer Name"
	ColCustomerEmail    = "Customer Email"
	ColCustomerAge      = "Customer Age"
	ColCustomerGender   = "Customer Gender"
	ColProductPurchased = "Product Purchased"
	ColDateOfPurchase   = "Date of Purchase"
	ColTicketType       = "Ticket Type"
	ColTicketSubject    = "Ticket Subject"
	ColTicketStatus     = "Ticket Status"
	ColResolution       = "Resolution"
	ColTicketPriority   = "Ticket Priority"
	ColTicketChannel    = "Ticket Channel"
	ColSatisfaction     = "Customer Satisfaction Rating"
)

// SourceColumns lists the columns every input file must carry.
var SourceColumns = []string{
	ColTicketID,
	ColCustomerName,
	ColCustomerEmail,
	ColCustomerAge,
	ColCustomerGender,
	ColProductPurchased,
	ColDateOfPurchase,
	ColTicketType,
	ColTicketSubject,
	ColTicketStatus,
	ColResolution,
	ColTicketPriority,
	ColTicketChannel,
	ColSatisfaction,
}

// Defaults substituted for empty or absent source values.
const (
	DefaultGender     = "Unknown"
	DefaultStatus     = "Open"
	DefaultResolution = "Unresolved"
	DefaultPriority   = "Medium"
	DefaultChannel    = "Unknown"
	DefaultRating     = int64(0)
)

// MinRating and MaxRating bound a valid satisfaction rating.
const (
	MinRating = 0
	MaxRating = 5
)

// RawRecord maps a source column name to its raw text. Empty source cells
// are absent keys, so a lookup distinguishes "absent" from any value.
type RawRecord map[string]string

// Get returns the value for col and whether it was present.
func (r RawRecord) Get(col string) (string, bool) {
	v, ok := r[col]
	return v, ok
}

// Canonical is a cleaned, typed and privacy-masked ticket. A zero
// DateOfPurchase is stored as NULL.
type Canonical struct {
	TicketID                   int64     `json:"ticket_id"`
	CustomerNameMasked         string    `json:"customer_name_masked"`
	CustomerEmailHash          *string   `json:"customer_email_hash"`
	CustomerAge                *int64    `json:"customer_age"`
	CustomerGender             string    `json:"customer_gender"`
	ProductPurchased           string    `json:"product_purchased"`
	DateOfPurchase             time.Time `json:"date_of_purchase"`
	TicketType                 string    `json:"ticket_type"`
	TicketSubject              string    `json:"ticket_subject"`
	TicketStatus               string    `json:"ticket_status"`
	Resolution                 string    `json:"resolution"`
	TicketPriority             string    `json:"ticket_priority"`
	TicketChannel              string    `json:"ticket_channel"`
	CustomerSatisfactionRating int64     `json:"customer_satisfaction_rating"`
	ProcessedAt                time.Time `json:"processed_at"`
}

// SummaryKey is the grouping key of the reporting mart. Rows without a
// purchase date share the zero date.
type SummaryKey struct {
	DateOfPurchase time.Time `json:"date_of_purchase"`
	TicketType     string    `json:"ticket_type"`
	TicketPriority string    `json:"ticket_priority"`
	TicketChannel  string    `json:"ticket_channel"`
}

// Less orders keys by date, then type, priority and channel.
func (k SummaryKey) Less(o SummaryKey) bool {
	if !k.DateOfPurchase.Equal(o.DateOfPurchase) {
		return k.DateOfPurchase.Before(o.DateOfPurchase)
	}
	if k.TicketType != o.TicketType {
		return k.TicketType < o.TicketType
	}
	if k.TicketPriority != o.TicketPriority {
		return k.TicketPriority < o.TicketPriority
	}
	return k.TicketChannel < o.TicketChannel
}

// SummaryRow is one aggregated mart row.
type SummaryRow struct {
	SummaryKey
	TotalTickets    int64   `json:"total_tickets"`
	AvgSatisfaction float64 `json:"avg_satisfaction"`
}

// QualityReport holds the data-quality metrics of one run.
type QualityReport struct {
	TotalRecords  int64     `json:"total_records" yaml:"total_records"`
	NullEmailHash int64     `json:"null_email_hash" yaml:"null_email_hash"`
	NullTicketID  int64     `json:"null_ticket_id" yaml:"null_ticket_id"`
	InvalidAge    int64     `json:"invalid_age" yaml:"invalid_age"`
	InvalidRating int64     `json:"invalid_rating" yaml:"invalid_rating"`
	RunTime       time.Time `json:"dq_run_time" yaml:"dq_run_time"`
}

// Violations returns the number of records breaking a hard constraint.
func (q QualityReport) Violations() int64 {
	return q.NullTicketID + q.InvalidAge + q.InvalidRating
}
