package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(4), cfg.Store.MaxConns)
	assert.Equal(t, "data/raw/customer_support_tickets.csv", cfg.Source.Location)
	assert.Equal(t, "auto", cfg.Source.Format)
	assert.Equal(t, ",", cfg.Source.Delimiter)
	assert.Equal(t, 60, cfg.Source.TimeoutSecs)
	assert.Equal(t, "us-east-1", cfg.Source.S3Region)
	assert.Equal(t, "elt_pipeline", cfg.Pipeline.Name)
	assert.Equal(t, "customer_support", cfg.Pipeline.Dataset)
	assert.Empty(t, cfg.Pipeline.Pepper)
	assert.Equal(t, 5*time.Minute, cfg.Pipeline.StageTimeout())
	assert.Equal(t, 4, cfg.Pipeline.TransformWorkers)
	assert.Equal(t, "local", cfg.Lock.Driver)
	assert.Equal(t, 3600, cfg.Lock.TTLSecs)
	assert.Equal(t, 60, cfg.Schedule.IntervalMins)
	assert.Equal(t, 3, cfg.Schedule.MaxAttempts)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 6, cfg.Server.TriggerRatePerMin)
	assert.InDelta(t, 0.05, cfg.Monitoring.RejectRateThreshold, 0.0001)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: warehouse.db
source:
  location: s3://bucket/tickets.xlsx
  sheet: Tickets
log:
  level: debug
  format: console
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "warehouse.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "s3://bucket/tickets.xlsx", cfg.Source.Location)
	assert.Equal(t, "Tickets", cfg.Source.Sheet)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Defaults still apply for unset values
	assert.Equal(t, 300, cfg.Pipeline.StageTimeoutSecs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("SUPPORT_ELT_STORE_DRIVER", "postgres")
	t.Setenv("SUPPORT_ELT_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadSecretsFromEnv(t *testing.T) {
	chdirTemp(t)

	t.Setenv("SUPPORT_ELT_PIPELINE_PEPPER", "s3cret")
	t.Setenv("SUPPORT_ELT_STORE_DATABASE_URL", "postgres://localhost/elt")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Pipeline.Pepper)
	assert.Equal(t, "postgres://localhost/elt", cfg.Store.DatabaseURL)
	assert.NoError(t, cfg.Validate("run"))
}

func TestLoadBadYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [\n"), 0o644))

	_, err := Load()
	assert.ErrorContains(t, err, "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config that passes every mode.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/test"
	cfg.Source.Location = "tickets.csv"
	cfg.Source.Delimiter = ","
	cfg.Pipeline.Pepper = "pepper"
	cfg.Pipeline.TransformWorkers = 4
	cfg.Lock.Driver = "local"
	cfg.Schedule.IntervalMins = 60
	cfg.Schedule.MaxAttempts = 3
	cfg.Server.Port = 8080
	return cfg
}

func TestValidate_AllModes(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{"run", "serve", "migrate"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidateRun_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Pipeline.Pepper = ""
	cfg.Store.DatabaseURL = ""
	cfg.Source.Location = ""

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline.pepper is required")
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "source.location is required")
}

func TestValidateRun_Drivers(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	assert.ErrorContains(t, cfg.Validate("run"), `unknown store.driver "mysql"`)

	cfg.Store.Driver = "memory"
	cfg.Store.DatabaseURL = ""
	assert.NoError(t, cfg.Validate("run"))

	cfg.Lock.Driver = "redis"
	assert.ErrorContains(t, cfg.Validate("run"), "lock.redis_url is required")
	cfg.Lock.RedisURL = "redis://localhost:6379/0"
	assert.NoError(t, cfg.Validate("run"))

	cfg.Lock.Driver = "zookeeper"
	assert.ErrorContains(t, cfg.Validate("run"), "unknown lock.driver")
}

func TestValidateRun_Bounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Source.Delimiter = ";;"
	assert.ErrorContains(t, cfg.Validate("run"), "single character")

	cfg = validDefaults()
	cfg.Source.Delimiter = ""
	assert.NoError(t, cfg.Validate("run"))

	cfg.Pipeline.TransformWorkers = 0
	assert.ErrorContains(t, cfg.Validate("run"), "transform_workers must be between 1 and 64")

	cfg.Pipeline.TransformWorkers = 2
	cfg.Pipeline.StageTimeoutSecs = -1
	assert.ErrorContains(t, cfg.Validate("run"), "stage_timeout_secs")
}

func TestValidateServe(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0
	cfg.Schedule.IntervalMins = 0
	cfg.Schedule.MaxAttempts = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
	assert.Contains(t, err.Error(), "schedule.interval_mins must be > 0")
	assert.Contains(t, err.Error(), "schedule.max_attempts must be >= 1")
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateMigrate(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "sqlite"
	assert.ErrorContains(t, cfg.Validate("migrate"), "postgres store driver")

	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = ""
	assert.ErrorContains(t, cfg.Validate("migrate"), "store.database_url is required")
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	assert.ErrorContains(t, err, "unknown mode")
}
