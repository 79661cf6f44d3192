package pipeline

import (
	"time"

	"github.com/sells-group/support-elt/internal/ticket"
)

// StageReport records the row counts and timing of one executed stage.
type StageReport struct {
	Stage    Stage         `json:"stage" yaml:"stage"`
	RowsIn   int           `json:"rows_in" yaml:"rows_in"`
	RowsOut  int           `json:"rows_out" yaml:"rows_out"`
	Rejected int           `json:"rejected" yaml:"rejected"`
	Elapsed  time.Duration `json:"elapsed_ns" yaml:"elapsed"`
	Failed   bool          `json:"failed,omitempty" yaml:"failed,omitempty"`
}

// Outcome is the terminal result of one run.
type Outcome struct {
	RunID        string                `json:"run_id" yaml:"run_id"`
	Pipeline     string                `json:"pipeline" yaml:"pipeline"`
	Dataset      string                `json:"dataset" yaml:"dataset"`
	State        State                 `json:"state" yaml:"state"`
	FailedStage  Stage                 `json:"failed_stage,omitempty" yaml:"failed_stage,omitempty"`
	ErrorKind    Kind                  `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Error        string                `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt    time.Time             `json:"started_at" yaml:"started_at"`
	FinishedAt   time.Time             `json:"finished_at" yaml:"finished_at"`
	Stages       []StageReport         `json:"stages" yaml:"stages"`
	Rejections   map[string]int        `json:"rejections,omitempty" yaml:"rejections,omitempty"`
	Quality      *ticket.QualityReport `json:"quality,omitempty" yaml:"quality,omitempty"`
	Fingerprints map[string]string     `json:"fingerprints,omitempty" yaml:"fingerprints,omitempty"`

	// Err is the failure as an error value; nil on success.
	Err error `json:"-" yaml:"-"`
}

// Succeeded reports whether every stage completed.
func (o *Outcome) Succeeded() bool { return o.State == StateSucceeded }

// Duration returns the wall time of the run.
func (o *Outcome) Duration() time.Duration { return o.FinishedAt.Sub(o.StartedAt) }

// Report returns the report of stage, if it ran.
func (o *Outcome) Report(stage Stage) (StageReport, bool) {
	for _, r := range o.Stages {
		if r.Stage == stage {
			return r, true
		}
	}
	return StageReport{}, false
}

// RejectRate is the share of staged rows the transform dropped.
func (o *Outcome) RejectRate() float64 {
	r, ok := o.Report(StageTransform)
	if !ok || r.RowsIn == 0 {
		return 0
	}
	return float64(r.Rejected) / float64(r.RowsIn)
}
