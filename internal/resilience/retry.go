// Package resilience retries whole operations with exponential backoff and
// jitter. The serve scheduler uses it to re-run the pipeline from scratch
// after a transient failure.
package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig is a retry policy. Zero fields take the defaults of
// DefaultRetryConfig.
type RetryConfig struct {
	MaxAttempts    int // total attempts, 1 disables retries
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Jitter spreads each delay by up to ±Jitter of itself. Negative
	// disables it.
	Jitter float64

	// ShouldRetry replaces IsTransient when set.
	ShouldRetry func(err error) bool

	// OnRetry runs before each backoff sleep.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns the scheduler's retry policy: three attempts,
// doubling from 2s up to a minute, with 25% jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     time.Minute,
		Jitter:         0.25,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = max(def.MaxBackoff, c.InitialBackoff)
	}
	if c.Jitter == 0 {
		c.Jitter = def.Jitter
	}
	if c.ShouldRetry == nil {
		c.ShouldRetry = IsTransient
	}
	return c
}

// Backoff returns the sleep after failed attempt n (1-based): the initial
// backoff doubled n-1 times, capped at MaxBackoff, then jittered.
func (c RetryConfig) Backoff(n int) time.Duration {
	d := c.InitialBackoff
	for i := 1; i < n && d < c.MaxBackoff; i++ {
		d *= 2
	}
	d = min(d, c.MaxBackoff)
	if c.Jitter > 0 {
		spread := float64(d) * c.Jitter
		d += time.Duration((rand.Float64()*2 - 1) * spread)
	}
	return max(d, 0)
}

// Retry calls fn until it succeeds, fails with an error ShouldRetry rejects,
// runs out of attempts or ctx ends. fn gets the 1-based attempt number. The
// last result is returned with its error so a caller can inspect a failed
// value.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	for attempt := 1; ; attempt++ {
		val, err := fn(ctx, attempt)
		if err == nil || attempt >= cfg.MaxAttempts || ctx.Err() != nil || !cfg.ShouldRetry(err) {
			return val, err
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}

		wait := time.NewTimer(cfg.Backoff(attempt))
		select {
		case <-ctx.Done():
			wait.Stop()
			return val, err
		case <-wait.C:
		}
	}
}

// Do is Retry for functions without a result.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := Retry(ctx, cfg, func(ctx context.Context, _ int) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryLogger returns an OnRetry hook that logs each failed attempt.
func RetryLogger(component, operation string) func(int, error) {
	log := zap.L().With(zap.String("component", component))
	return func(attempt int, err error) {
		log.Warn("retrying after failure",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
