package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/lessonpath/internal/config"
	"github.com/stemsi/lessonpath/internal/database"
	"github.com/stemsi/lessonpath/internal/handler"
	"github.com/stemsi/lessonpath/internal/logger"
	"github.com/stemsi/lessonpath/internal/repository"
	"github.com/stemsi/lessonpath/internal/router"
	"github.com/stemsi/lessonpath/internal/service"
	"github.com/stemsi/lessonpath/internal/validator"
	"github.com/stemsi/lessonpath/internal/worker"
)

// backingStore is what the server needs from either database driver.
type backingStore interface {
	service.Store
	handler.Pinger
}

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Str("db_driver", cfg.DBDriver).
		Msg("Starting Lessonpath")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to Database ───────────────────────────────────────────
	store, closer := openStore(ctx, cfg, log)
	defer closer.Close()

	// ─── Connect to Redis (optional) ───────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// ─── Initialize Services ──────────────────────────────────────────
	var (
		progressCache interface {
			service.ProgressCache
			service.QuizPayloadCache
		}
		events      service.EventPublisher
		streamLocks service.StreamLock
	)
	if rdb != nil {
		progressCache = service.NewRedisCache(rdb, cfg.ProgressCacheTTL)
		events = service.NewRedisEventPublisher(rdb)
		// A crashed node holds an attempt no longer than the attempt can live.
		streamLocks = service.NewRedisStreamLock(rdb, cfg.AttemptDuration+cfg.ReconcileGrace)
	} else {
		progressCache = service.NopCache{}
		events = service.NewDirectEventPublisher(store)
		streamLocks = service.NewLocalStreamLock()
	}

	authService := service.NewAuthService(cfg)
	progressService := service.NewProgressService(store, store, progressCache, events, log)
	attemptService := service.NewAttemptService(store, store, progressService, progressCache, cfg, log)
	evaluator := service.NewEvaluator(store, progressCache, events, cfg, log)
	activityService := service.NewActivityService(store)
	reconciler := service.NewReconciler(store, evaluator, cfg, log)

	log.Info().
		Int("attempt_duration_seconds", attemptService.Duration()).
		Int("max_attempts", config.MaxQuizAttempts).
		Msg("Quiz attempt policy")

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Progress: handler.NewProgressHandler(progressService, log),
		Attempt:  handler.NewAttemptHandler(attemptService, evaluator, log),
		Activity: handler.NewActivityHandler(activityService, log),
		WS:       handler.NewWSHandler(attemptService, evaluator, cfg, log),
		System:   handler.NewSystemHandler(store, rdb, cfg, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workerDone := make(chan struct{})

	if rdb != nil {
		activityWorker := worker.NewActivityWorker(store, progressCache, rdb, log)
		go func() {
			defer close(workerDone)
			activityWorker.Start(workerCtx)
		}()
	} else {
		close(workerDone)
	}

	// Finalize anything left over from a previous run before serving.
	if n, err := reconciler.Sweep(ctx); err != nil {
		log.Warn().Err(err).Msg("Startup reconcile failed")
	} else if n > 0 {
		log.Info().Int("finalized", n).Msg("Stale attempts finalized on startup")
	}

	scheduler, err := reconciler.Schedule(cfg.ReconcileCron)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule reconciler")
	}
	scheduler.Start()

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, streamLocks, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the reconciler, waiting for a running sweep.
	<-scheduler.Stop().Done()

	// 3. Stop background workers and wait for the queue to drain.
	workerCancel()
	select {
	case <-workerDone:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Activity worker did not drain in time")
	}

	log.Info().Msg("Shutdown complete")
}

// openStore connects the configured database driver.
func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (backingStore, io.Closer) {
	switch cfg.DBDriver {
	case config.DriverSQLite:
		store, err := database.NewSQLiteStore(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open SQLite")
		}
		return store, store

	case config.DriverPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		return pgStore{Store: repository.NewStore(pool), ping: pool.Ping}, closerFunc(func() error {
			pool.Close()
			return nil
		})

	default:
		log.Fatal().Str("driver", cfg.DBDriver).Msg("Unknown DB_DRIVER")
		return nil, nil
	}
}

// pgStore adds a health check to the repository bundle.
type pgStore struct {
	*repository.Store
	ping func(ctx context.Context) error
}

func (s pgStore) Ping(ctx context.Context) error { return s.ping(ctx) }

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

