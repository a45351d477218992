package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/jobportal-backend/internal/config"
	"github.com/stemsi/jobportal-backend/internal/database"
	"github.com/stemsi/jobportal-backend/internal/handler"
	"github.com/stemsi/jobportal-backend/internal/logger"
	"github.com/stemsi/jobportal-backend/internal/middleware"
	"github.com/stemsi/jobportal-backend/internal/repository"
	"github.com/stemsi/jobportal-backend/internal/router"
	"github.com/stemsi/jobportal-backend/internal/service"
	"github.com/stemsi/jobportal-backend/internal/validator"
	"github.com/stemsi/jobportal-backend/internal/worker"
	"golang.org/x/sync/errgroup"
)

const janitorInterval = time.Minute

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Dur("tick", cfg.TickInterval).
		Msg("Starting test session server")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─── Connect to PostgreSQL and Redis ───────────────────────────────
	stores, err := database.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to data stores")
	}
	defer stores.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	testRepo := repository.NewTestRepository(stores.Pool)
	resultRepo := repository.NewResultRepository(stores.Pool)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	testProvider := service.NewTestProvider(authService, testRepo, stores.Redis, cfg.TestCacheTTL, log)
	resultSink := service.NewQueueResultSink(authService, stores.Redis, log)
	resultService := service.NewResultService(testProvider, resultSink, resultRepo, log)
	sessionService := service.NewSessionService(testProvider, resultSink, stores.Redis, cfg.TickInterval, cfg.SessionTTL, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		TestSession: handler.NewTestSessionHandler(sessionService),
		Result:      handler.NewResultHandler(testProvider, resultService),
		WS:          handler.NewWSHandler(sessionService, log, cfg.AllowedOrigins),
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute, middleware.CandidateKey)

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, limiter, cfg, log)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Background Workers ────────────────────────────────────────────
	// The worker gets its own context so it keeps draining while HTTP shuts down.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	resultWorker := worker.NewResultWorker(resultRepo, stores.Redis, cfg.ResultBatchSize, log)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		resultWorker.Start(workerCtx)
		return nil
	})

	g.Go(func() error {
		sessionService.RunJanitor(gctx, janitorInterval)
		return nil
	})

	g.Go(func() error {
		limiter.RunCleanup(gctx)
		return nil
	})

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down gracefully...")

		// 1. Stop accepting new HTTP requests (5s timeout).
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}

		// 2. Cancel every running timer; unsubmitted attempts are discarded.
		sessionService.CloseAll(context.Background())

		// 3. Let the worker flush what the sessions queued.
		workerCancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
