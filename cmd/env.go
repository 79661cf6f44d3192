package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/support-elt/internal/fetcher"
	"github.com/sells-group/support-elt/internal/lock"
	"github.com/sells-group/support-elt/internal/monitoring"
	"github.com/sells-group/support-elt/internal/pipeline"
	"github.com/sells-group/support-elt/internal/runlog"
	"github.com/sells-group/support-elt/internal/source"
	"github.com/sells-group/support-elt/internal/warehouse"
)

// eltEnv holds everything the run and serve commands need to execute the
// pipeline.
type eltEnv struct {
	Store   warehouse.Store
	Runner  *pipeline.Runner
	Lock    lock.Lock
	RunLog  *runlog.RunLog // nil unless the store is Postgres
	Alerter *monitoring.Alerter

	redis   *redis.Client
	lockTTL time.Duration
}

// Close releases resources held by the environment.
func (e *eltEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
	if e.redis != nil {
		_ = e.redis.Close()
	}
}

// envOptions adjusts initEnv for a single invocation.
type envOptions struct {
	Mode   string // config validation mode: "run" or "serve"
	DryRun bool   // use the in-memory store
}

// initEnv validates the config and builds the store, source, runner, lock,
// run log and alerter. Callers should defer env.Close().
func initEnv(ctx context.Context, opts envOptions) (*eltEnv, error) {
	if opts.DryRun {
		cfg.Store.Driver = warehouse.DriverMemory
	}
	if err := cfg.Validate(opts.Mode); err != nil {
		return nil, err
	}

	st, err := warehouse.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, &warehouse.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	env := &eltEnv{
		Store:   st,
		Alerter: monitoring.NewAlerter(cfg.Monitoring),
	}

	if pg, ok := st.(*warehouse.PostgresStore); ok {
		if err := runlog.Migrate(ctx, pg.Pool()); err != nil {
			env.Close()
			return nil, eris.Wrap(err, "migrate run log")
		}
		env.RunLog = runlog.New(pg.Pool())
	}

	f, err := initFetcher(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}

	var delim rune
	for _, r := range cfg.Source.Delimiter {
		delim = r
		break
	}
	src, err := source.New(source.Config{
		Location:  cfg.Source.Location,
		Format:    cfg.Source.Format,
		Delimiter: delim,
		Charset:   cfg.Source.Charset,
		Sheet:     cfg.Source.Sheet,
	}, f)
	if err != nil {
		env.Close()
		return nil, err
	}

	env.Runner, err = pipeline.New(pipeline.Config{
		Name:             cfg.Pipeline.Name,
		Dataset:          cfg.Pipeline.Dataset,
		StageTimeout:     cfg.Pipeline.StageTimeout(),
		Pepper:           cfg.Pipeline.Pepper,
		TransformWorkers: cfg.Pipeline.TransformWorkers,
	}, src, st)
	if err != nil {
		env.Close()
		return nil, err
	}

	if err := initLock(env); err != nil {
		env.Close()
		return nil, err
	}

	zap.L().Debug("environment ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("lock", cfg.Lock.Driver),
		zap.String("location", cfg.Source.Location),
		zap.Bool("run_log", env.RunLog != nil),
	)
	return env, nil
}

// initFetcher builds the scheme router. The S3 client is only created when
// the location needs it, since it loads AWS credentials.
func initFetcher(ctx context.Context) (*fetcher.Router, error) {
	timeout := time.Duration(cfg.Source.TimeoutSecs) * time.Second
	router := fetcher.NewRouter(
		fetcher.HTTPOptions{UserAgent: cfg.Source.UserAgent, Timeout: timeout},
		fetcher.FTPOptions{Timeout: timeout},
	)
	if fetcher.Scheme(cfg.Source.Location) == fetcher.SchemeS3 {
		s3f, err := fetcher.NewS3Fetcher(ctx, cfg.Source.S3Region)
		if err != nil {
			return nil, err
		}
		router.S3 = s3f
	}
	return router, nil
}

func initLock(env *eltEnv) error {
	key := cfg.Pipeline.Name + ":" + cfg.Pipeline.Dataset
	ttl := time.Duration(cfg.Lock.TTLSecs) * time.Second
	env.lockTTL = ttl

	if cfg.Lock.Driver != lock.DriverRedis {
		env.Lock = lock.New(nil, key, ttl)
		return nil
	}

	opts, err := redis.ParseURL(cfg.Lock.RedisURL)
	if err != nil {
		return eris.Wrap(err, "parse lock.redis_url")
	}
	env.redis = redis.NewClient(opts)
	env.Lock = lock.New(env.redis, key, ttl)
	return nil
}
