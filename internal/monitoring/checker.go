package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/support-elt/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker evaluates run history on an interval. An alert type that fired
// is not resent until the lookback window has passed.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int
	now       func() time.Time
	lastSent  map[AlertType]time.Time
	log       *zap.Logger
}

// NewChecker creates a history checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	lookback := cfg.LookbackWindowHours
	if lookback <= 0 {
		lookback = 24
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  lookback,
		now:       time.Now,
		lastSent:  make(map[AlertType]time.Time),
		log:       zap.L().With(zap.String("component", "monitoring.checker")),
	}
}

// Run checks once per interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	c.log.Info("monitoring: checker started",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("monitoring: checker stopped")
			return
		case <-ticker.C:
			c.check(ctx)
		}
	}
}

// check collects a snapshot and sends the alerts not sent recently. It
// returns the number delivered.
func (c *Checker) check(ctx context.Context) int {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		c.log.Error("monitoring: collect failed", zap.Error(err))
		return 0
	}

	now := c.now()
	window := time.Duration(c.lookback) * time.Hour
	var fresh []Alert
	for _, a := range c.alerter.EvaluateHistory(snap) {
		if last, ok := c.lastSent[a.Type]; ok && now.Sub(last) < window {
			continue
		}
		fresh = append(fresh, a)
	}
	if len(fresh) == 0 {
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, fresh)
	if sent > 0 {
		for _, a := range fresh {
			c.lastSent[a.Type] = now
		}
	}
	c.log.Info("monitoring: history alerts",
		zap.Int("triggered", len(fresh)),
		zap.Int("sent", sent),
		zap.Float64("fail_rate", snap.FailRate),
	)
	return sent
}
