package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/support-elt/internal/db"
	"github.com/sells-group/support-elt/internal/pipeline"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Entry is a row of staging.pipeline_runs.
type Entry struct {
	ID           int64          `json:"id" yaml:"id"`
	RunID        string         `json:"run_id" yaml:"run_id"`
	Pipeline     string         `json:"pipeline" yaml:"pipeline"`
	Dataset      string         `json:"dataset" yaml:"dataset"`
	Status       string         `json:"status" yaml:"status"`
	StartedAt    time.Time      `json:"started_at" yaml:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	FailedStage  string         `json:"failed_stage,omitempty" yaml:"failed_stage,omitempty"`
	ErrorKind    string         `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Error        string         `json:"error,omitempty" yaml:"error,omitempty"`
	RowsLoaded   int64          `json:"rows_loaded" yaml:"rows_loaded"`
	RowsCleaned  int64          `json:"rows_cleaned" yaml:"rows_cleaned"`
	RowsRejected int64          `json:"rows_rejected" yaml:"rows_rejected"`
	Metadata     map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Result holds the counters written when a run completes.
type Result struct {
	RowsLoaded   int64
	RowsCleaned  int64
	RowsRejected int64
	Metadata     map[string]any
}

// ResultOf extracts the counters of an outcome.
func ResultOf(out *pipeline.Outcome) *Result {
	res := &Result{Metadata: map[string]any{}}
	if r, ok := out.Report(pipeline.StageLoad); ok {
		res.RowsLoaded = int64(r.RowsOut)
	}
	if r, ok := out.Report(pipeline.StageTransform); ok {
		res.RowsCleaned = int64(r.RowsOut)
		res.RowsRejected = int64(r.Rejected)
	}
	if len(out.Rejections) > 0 {
		res.Metadata["rejections"] = out.Rejections
	}
	if len(out.Fingerprints) > 0 {
		res.Metadata["fingerprints"] = out.Fingerprints
	}
	if out.Quality != nil {
		res.Metadata["quality"] = out.Quality
	}
	return res
}

// RunLog reads and writes staging.pipeline_runs.
type RunLog struct {
	pool db.Pool
}

// New creates a RunLog backed by pool.
func New(pool db.Pool) *RunLog {
	return &RunLog{pool: pool}
}

// Start records the beginning of a run and returns its row ID.
func (l *RunLog) Start(ctx context.Context, runID, pipelineName, dataset string) (int64, error) {
	var id int64
	err := l.pool.QueryRow(ctx,
		`INSERT INTO staging.pipeline_runs (run_id, pipeline, dataset, status, started_at)
		 VALUES ($1, $2, $3, 'running', now()) RETURNING id`,
		runID, pipelineName, dataset,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "runlog: start run %s", runID)
	}
	return id, nil
}

// Complete marks a run as succeeded.
func (l *RunLog) Complete(ctx context.Context, id int64, result *Result) error {
	if result == nil {
		result = &Result{}
	}
	meta, err := marshalMetadata(result.Metadata)
	if err != nil {
		return err
	}

	_, err = l.pool.Exec(ctx,
		`UPDATE staging.pipeline_runs
		 SET status = 'succeeded', completed_at = now(),
		     rows_loaded = $1, rows_cleaned = $2, rows_rejected = $3, metadata = $4
		 WHERE id = $5`,
		result.RowsLoaded, result.RowsCleaned, result.RowsRejected, meta, id,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: complete run %d", id)
	}
	return nil
}

// Fail marks a run as failed.
func (l *RunLog) Fail(ctx context.Context, id int64, stage, kind, errMsg string) error {
	_, err := l.pool.Exec(ctx,
		`UPDATE staging.pipeline_runs
		 SET status = 'failed', completed_at = now(), failed_stage = $1, error_kind = $2, error = $3
		 WHERE id = $4`,
		stage, kind, errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: fail run %d", id)
	}
	return nil
}

// Record writes the terminal state of out to the row started as id.
func (l *RunLog) Record(ctx context.Context, id int64, out *pipeline.Outcome) error {
	if out.Succeeded() {
		return l.Complete(ctx, id, ResultOf(out))
	}
	return l.Fail(ctx, id, string(out.FailedStage), string(out.ErrorKind), out.Error)
}

// LastSuccess returns the start time of the latest succeeded run of a
// pipeline, or nil if it never succeeded.
func (l *RunLog) LastSuccess(ctx context.Context, pipelineName string) (*time.Time, error) {
	var t time.Time
	err := l.pool.QueryRow(ctx,
		`SELECT started_at FROM staging.pipeline_runs
		 WHERE pipeline = $1 AND status = 'succeeded'
		 ORDER BY started_at DESC LIMIT 1`,
		pipelineName,
	).Scan(&t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "runlog: last success for %s", pipelineName)
	}
	return &t, nil
}

// List returns up to limit runs, most recent first. A limit of zero or less
// returns every run.
func (l *RunLog) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT id, run_id, pipeline, dataset, status, started_at, completed_at,
		        COALESCE(failed_stage, ''), COALESCE(error_kind, ''), COALESCE(error, ''), rows_loaded, rows_cleaned, rows_rejected, metadata
		 FROM staging.pipeline_runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list runs")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e    Entry
			meta []byte
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.Pipeline, &e.Dataset, &e.Status, &e.StartedAt, &e.CompletedAt,
			&e.FailedStage, &e.ErrorKind, &e.Error, &e.RowsLoaded, &e.RowsCleaned, &e.RowsRejected, &meta); err != nil {
			return nil, eris.Wrap(err, "runlog: scan run")
		}
		if meta != nil {
			_ = json.Unmarshal(meta, &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: marshal metadata")
	}
	return b, nil
}
