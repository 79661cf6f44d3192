package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/support-elt/internal/pipeline"
)

// errRunInProgress is returned when another run holds the pipeline lock.
var errRunInProgress = eris.New("a run of this pipeline is already in progress")

// executeRun runs the pipeline once under the single-flight lock. The run is
// recorded in the run log when one is configured and evaluated for alerts.
// A failed run is reported through the Outcome, not the error.
func executeRun(ctx context.Context, env *eltEnv) (*pipeline.Outcome, error) {
	ok, err := env.Lock.Acquire(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "acquire run lock")
	}
	if !ok {
		return nil, errRunInProgress
	}
	defer func() {
		if err := env.Lock.Release(context.WithoutCancel(ctx)); err != nil {
			zap.L().Warn("release run lock", zap.Error(err))
		}
	}()
	if ext, ok := env.Lock.(extender); ok && env.lockTTL > 0 {
		stop := keepAlive(ctx, ext, env.lockTTL)
		defer stop()
	}

	runID := uuid.NewString()
	cfgp := env.Runner.Config()

	var logID int64
	if env.RunLog != nil {
		logID, err = env.RunLog.Start(ctx, runID, cfgp.Name, cfgp.Dataset)
		if err != nil {
			zap.L().Warn("run log start failed", zap.String("run_id", runID), zap.Error(err))
		}
	}

	out := env.Runner.RunWithID(ctx, runID)

	if logID != 0 {
		if err := env.RunLog.Record(context.WithoutCancel(ctx), logID, out); err != nil {
			zap.L().Warn("run log record failed", zap.String("run_id", runID), zap.Error(err))
		}
	}

	if env.Alerter != nil {
		env.Alerter.SendAlerts(context.WithoutCancel(ctx), env.Alerter.Evaluate(out))
	}
	return out, nil
}

// extender is a lock whose lease expires unless renewed.
type extender interface {
	Extend(ctx context.Context, ttl time.Duration) error
}

// keepAlive renews the lease every ttl/3 until the returned stop is called.
func keepAlive(ctx context.Context, l extender, ttl time.Duration) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := l.Extend(ctx, ttl); err != nil {
					zap.L().Warn("extend run lock", zap.Error(err))
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
