package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/support-elt/internal/monitoring"
	"github.com/sells-group/support-elt/internal/pipeline"
	"github.com/sells-group/support-elt/internal/resilience"
	"github.com/sells-group/support-elt/internal/runlog"
)

var (
	servePort       int
	serveRunOnStart bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline on a schedule and expose the trigger API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, envOptions{Mode: "serve"})
		if err != nil {
			return err
		}
		defer env.Close()

		srv := newRunServer(ctx, env, resilience.FromScheduleConfig(cfg.Schedule), cfg.Server.TriggerRatePerMin)

		if env.RunLog != nil {
			checker := monitoring.NewChecker(monitoring.NewCollector(env.RunLog), env.Alerter, cfg.Monitoring)
			go checker.Run(ctx)
		}

		interval := time.Duration(cfg.Schedule.IntervalMins) * time.Minute
		go srv.schedule(ctx, interval, serveRunOnStart)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           srv.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server",
			zap.Int("port", port),
			zap.Duration("interval", interval),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		srv.wait()
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveRunOnStart, "run-on-start", false, "start a run immediately instead of waiting one interval")
	rootCmd.AddCommand(serveCmd)
}

// runServer schedules runs and serves the trigger API. At most one run is in
// flight per process; the pipeline lock guards across processes.
type runServer struct {
	ctx     context.Context
	execute func(ctx context.Context) (*pipeline.Outcome, error)
	history func(ctx context.Context, limit int) ([]runlog.Entry, error)
	retry   resilience.RetryConfig
	limiter *rate.Limiter

	running atomic.Bool
	wg      sync.WaitGroup

	mu     sync.RWMutex
	latest *pipeline.Outcome
}

// newRunServer creates a runServer whose runs live as long as ctx.
// ratePerMin limits POST /runs; zero or less disables the limit.
func newRunServer(ctx context.Context, env *eltEnv, retry resilience.RetryConfig, ratePerMin int) *runServer {
	s := &runServer{
		ctx: ctx,
		execute: func(ctx context.Context) (*pipeline.Outcome, error) {
			return executeRun(ctx, env)
		},
		retry:   retry,
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
	if env.RunLog != nil {
		s.history = env.RunLog.List
	}
	if ratePerMin > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(float64(ratePerMin)/60), ratePerMin)
	}
	return s
}

func (s *runServer) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/runs", s.handleTrigger)
	r.Get("/runs", s.handleList)
	r.Get("/runs/latest", s.handleLatest)
	return r
}

func (s *runServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"running": s.running.Load(),
	})
}

func (s *runServer) handleTrigger(w http.ResponseWriter, _ *http.Request) {
	if !s.limiter.Allow() {
		respondError(w, http.StatusTooManyRequests, "trigger rate exceeded")
		return
	}
	if !s.start("api", false) {
		respondError(w, http.StatusConflict, errRunInProgress.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *runServer) handleLatest(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	out := s.latest
	s.mu.RUnlock()
	if out == nil {
		respondError(w, http.StatusNotFound, "no run has finished yet")
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *runServer) handleList(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusNotImplemented, "run history requires the postgres store")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := s.history(r.Context(), limit)
	if err != nil {
		zap.L().Error("list runs", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if entries == nil {
		entries = []runlog.Entry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

// schedule starts a run every interval until ctx ends. A tick that finds a
// run in flight is skipped.
func (s *runServer) schedule(ctx context.Context, interval time.Duration, now bool) {
	if now {
		s.start("schedule", true)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.start("schedule", true) {
				zap.L().Info("scheduled run skipped, previous run still in flight")
			}
		}
	}
}

// start launches a run in the background and reports whether it did.
// Scheduled runs retry transient failures with a fresh full run.
func (s *runServer) start(trigger string, retry bool) bool {
	if !s.running.CompareAndSwap(false, true) {
		return false
	}
	rc := s.retry
	if !retry {
		rc.MaxAttempts = 1
	}
	rc.OnRetry = resilience.RetryLogger("serve", "pipeline run")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.runWithRetry(trigger, rc)
	}()
	return true
}

func (s *runServer) runWithRetry(trigger string, rc resilience.RetryConfig) {
	log := zap.L().With(zap.String("component", "serve"), zap.String("trigger", trigger))

	out, err := resilience.Retry(s.ctx, rc, func(ctx context.Context, _ int) (*pipeline.Outcome, error) {
		out, err := s.execute(ctx)
		if err != nil {
			return nil, err
		}
		if !out.Succeeded() {
			return out, out.Err
		}
		return out, nil
	})
	if out != nil {
		s.mu.Lock()
		s.latest = out
		s.mu.Unlock()
	}
	if err != nil {
		log.Error("pipeline run failed", zap.Error(err))
		return
	}
	log.Info("pipeline run succeeded",
		zap.String("run_id", out.RunID),
		zap.Duration("duration", out.Duration()),
	)
}

// wait blocks until the in-flight run, if any, has returned.
func (s *runServer) wait() {
	s.wg.Wait()
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
