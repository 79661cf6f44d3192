// Package pipeline runs the ELT stages in order as an explicit state
// machine and reports the result of every run as an Outcome.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/support-elt/internal/mart"
	"github.com/sells-group/support-elt/internal/quality"
	"github.com/sells-group/support-elt/internal/source"
	"github.com/sells-group/support-elt/internal/ticket"
	"github.com/sells-group/support-elt/internal/transform"
	"github.com/sells-group/support-elt/internal/warehouse"
)

// DefaultName is the pipeline name used when none is configured.
const DefaultName = "elt_pipeline"

// Reader produces the raw dataset for the load stage. Every call re-reads
// the location from the beginning.
type Reader interface {
	Read(ctx context.Context) (*source.Dataset, error)
}

// Config holds the per-runner settings.
type Config struct {
	Name             string
	Dataset          string
	StageTimeout     time.Duration // zero disables the per-stage deadline
	Pepper           string
	TransformWorkers int
}

// Option customizes a Runner.
type Option func(*Runner)

// WithClock replaces the clock used for processed_at and run timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithTransitionHook registers fn to be called on every state change.
func WithTransitionHook(fn func(from, to State)) Option {
	return func(r *Runner) { r.hooks = append(r.hooks, fn) }
}

// Runner drives one dataset through load, transform, aggregate and quality.
// A Runner holds no per-run state and may be reused, but runs against the
// same tables must not overlap.
type Runner struct {
	cfg         Config
	src         Reader
	store       warehouse.Store
	transformer *transform.Transformer
	builder     *mart.Builder
	checker     *quality.Checker
	now         func() time.Time
	hooks       []func(from, to State)
	log         *zap.Logger
}

// New creates a Runner reading from src and writing to store.
func New(cfg Config, src Reader, store warehouse.Store, opts ...Option) (*Runner, error) {
	if src == nil {
		return nil, eris.New("pipeline: source is required")
	}
	if store == nil {
		return nil, eris.New("pipeline: store is required")
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Dataset == "" {
		cfg.Dataset = ticket.DefaultDataset
	}
	if cfg.StageTimeout < 0 {
		return nil, eris.Errorf("pipeline: negative stage timeout %s", cfg.StageTimeout)
	}

	tr, err := transform.New(transform.Config{Pepper: cfg.Pepper, Workers: cfg.TransformWorkers})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create transformer")
	}

	r := &Runner{
		cfg:         cfg,
		src:         src,
		store:       store,
		transformer: tr,
		builder:     mart.NewBuilder(),
		checker:     quality.NewChecker(),
		now:         time.Now,
		log: zap.L().With(
			zap.String("component", "pipeline"),
			zap.String("pipeline", cfg.Name),
			zap.String("dataset", cfg.Dataset),
		),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Config returns the runner's effective configuration.
func (r *Runner) Config() Config { return r.cfg }

// run carries the state shared by the stages of one execution.
type run struct {
	out         *Outcome
	tables      ticket.Tables
	processedAt time.Time
	log         *zap.Logger
}

// Run executes every stage once, in order, and returns the terminal
// outcome. Run never returns nil; failures are reported in the Outcome.
func (r *Runner) Run(ctx context.Context) *Outcome {
	return r.RunWithID(ctx, uuid.NewString())
}

// RunWithID is Run with a caller-chosen run ID, for callers that record the
// run before it starts.
func (r *Runner) RunWithID(ctx context.Context, runID string) *Outcome {
	started := r.now().UTC()
	out := &Outcome{
		RunID:        runID,
		Pipeline:     r.cfg.Name,
		Dataset:      r.cfg.Dataset,
		State:        StatePending,
		StartedAt:    started,
		Rejections:   make(map[string]int),
		Fingerprints: make(map[string]string),
	}
	rn := &run{
		out:         out,
		processedAt: started,
		log:         r.log.With(zap.String("run_id", out.RunID)),
	}
	rn.log.Info("pipeline: run starting")

	for _, stage := range Stages {
		if err := ctx.Err(); err != nil {
			r.fail(rn, stage, &Error{Kind: KindCancelled, Stage: stage, Err: eris.Wrap(err, "pipeline: cancelled before stage")})
			return out
		}
		r.transition(rn, stage.State())

		if err := r.runStage(ctx, rn, stage); err != nil {
			r.fail(rn, stage, err)
			return out
		}
	}

	r.transition(rn, StateSucceeded)
	out.FinishedAt = r.now().UTC()
	tr, _ := out.Report(StageTransform)
	rn.log.Info("pipeline: run succeeded",
		zap.Duration("duration", out.Duration()),
		zap.Int("rejected", tr.Rejected),
	)
	return out
}

// runStage executes one stage under its deadline and records its report.
func (r *Runner) runStage(ctx context.Context, rn *run, stage Stage) *Error {
	sctx, cancel := r.stageContext(ctx)
	defer cancel()

	start := time.Now()
	var (
		rep StageReport
		err error
	)
	switch stage {
	case StageLoad:
		rep, err = r.load(sctx, rn)
	case StageTransform:
		rep, err = r.transform(sctx, rn)
	case StageAggregate:
		rep, err = r.aggregate(sctx, rn)
	case StageQuality:
		rep, err = r.quality(sctx, rn)
	default:
		err = eris.Errorf("pipeline: unknown stage %q", stage)
	}
	rep.Stage = stage
	rep.Elapsed = time.Since(start)

	var perr *Error
	if err != nil {
		rep.Failed = true
		perr = &Error{Kind: classify(ctx, sctx, stage, err), Stage: stage, Err: err}
	}
	rn.out.Stages = append(rn.out.Stages, rep)

	if perr == nil {
		rn.log.Info("pipeline: stage complete",
			zap.String("stage", string(stage)),
			zap.Int("rows_in", rep.RowsIn),
			zap.Int("rows_out", rep.RowsOut),
			zap.Int("rejected", rep.Rejected),
			zap.Duration("elapsed", rep.Elapsed),
		)
	}
	return perr
}

func (r *Runner) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.StageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.cfg.StageTimeout)
}

// classify maps a stage error to its Kind. A cancelled parent wins over a
// stage deadline, which wins over the stage's own failure kind.
func classify(parent, stageCtx context.Context, stage Stage, err error) Kind {
	if parent.Err() != nil {
		return KindCancelled
	}
	if errors.Is(stageCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return KindStageTimeout
	}
	switch {
	case errors.Is(err, source.ErrUnavailable):
		return KindSourceUnavailable
	case errors.Is(err, source.ErrMalformed):
		return KindSourceMalformed
	}
	switch stage {
	case StageLoad:
		return KindLoadFailed
	case StageTransform:
		return KindTransformFailed
	case StageAggregate:
		return KindAggregationFailed
	default:
		return KindQualityCheckFailed
	}
}

func (r *Runner) transition(rn *run, to State) {
	from := rn.out.State
	if !CanTransition(from, to) {
		rn.log.Error("pipeline: illegal transition",
			zap.String("from", string(from)),
			zap.String("to", string(to)),
		)
		return
	}
	rn.out.State = to
	for _, fn := range r.hooks {
		fn(from, to)
	}
}

func (r *Runner) fail(rn *run, stage Stage, err *Error) {
	r.transition(rn, StateFailed)
	rn.out.FailedStage = stage
	rn.out.ErrorKind = err.Kind
	rn.out.Error = err.Error()
	rn.out.Err = err
	rn.out.FinishedAt = r.now().UTC()
	rn.log.Error("pipeline: run failed",
		zap.String("stage", string(stage)),
		zap.String("kind", string(err.Kind)),
		zap.Error(err.Err),
	)
}

// fingerprint records the digest of a written table. A digest failure is
// logged and does not fail the stage.
func (r *Runner) fingerprint(ctx context.Context, rn *run, t warehouse.Table) {
	fp, err := Fingerprint(ctx, r.store, t, ticket.FieldProcessedAt, ticket.FieldDQRunTime)
	if err != nil {
		rn.log.Warn("pipeline: fingerprint failed", zap.String("table", t.QualifiedName()), zap.Error(err))
		return
	}
	rn.out.Fingerprints[t.QualifiedName()] = fp
}
