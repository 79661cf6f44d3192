package resilience

import (
	"time"

	"github.com/sells-group/support-elt/internal/config"
)

// FromScheduleConfig builds the scheduler's retry policy. Zero values keep
// the defaults.
func FromScheduleConfig(c config.ScheduleConfig) RetryConfig {
	cfg := DefaultRetryConfig()
	if c.MaxAttempts > 0 {
		cfg.MaxAttempts = c.MaxAttempts
	}
	if c.InitialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(c.InitialBackoffMs) * time.Millisecond
	}
	if c.MaxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(c.MaxBackoffMs) * time.Millisecond
	}
	return cfg
}
