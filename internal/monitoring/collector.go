package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/support-elt/internal/runlog"
)

// Snapshot summarizes the runs started within a lookback window.
type Snapshot struct {
	Total        int     `json:"total"`
	Succeeded    int     `json:"succeeded"`
	Failed       int     `json:"failed"`
	Running      int     `json:"running"`
	FailRate     float64 `json:"fail_rate"`
	RowsLoaded   int64   `json:"rows_loaded"`
	RowsRejected int64   `json:"rows_rejected"`

	// LastSuccess is the start of the newest succeeded run in the listed
	// history, inside the window or not.
	LastSuccess *time.Time `json:"last_success,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister abstracts the run log reads needed by the collector.
type RunLister interface {
	List(ctx context.Context, limit int) ([]runlog.Entry, error)
}

// historyLimit caps the rows read per collection.
const historyLimit = 1000

// Collector gathers run metrics from the run log.
type Collector struct {
	runs RunLister
	now  func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	entries, err := c.runs.List(ctx, historyLimit)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	for _, e := range entries {
		if e.Status == runlog.StatusSucceeded && (snap.LastSuccess == nil || e.StartedAt.After(*snap.LastSuccess)) {
			started := e.StartedAt
			snap.LastSuccess = &started
		}
		if e.StartedAt.Before(cutoff) {
			continue
		}
		snap.Total++
		switch e.Status {
		case runlog.StatusSucceeded:
			snap.Succeeded++
			snap.RowsLoaded += e.RowsLoaded
			snap.RowsRejected += e.RowsRejected
		case runlog.StatusFailed:
			snap.Failed++
		case runlog.StatusRunning:
			snap.Running++
		}
	}

	if finished := snap.Succeeded + snap.Failed; finished > 0 {
		snap.FailRate = float64(snap.Failed) / float64(finished)
	}
	return snap, nil
}
