package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-station/internal/config"
	"github.com/stemsi/exstem-station/internal/database"
	"github.com/stemsi/exstem-station/internal/exam"
	"github.com/stemsi/exstem-station/internal/handler"
	"github.com/stemsi/exstem-station/internal/logger"
	"github.com/stemsi/exstem-station/internal/platform"
	"github.com/stemsi/exstem-station/internal/repository"
	"github.com/stemsi/exstem-station/internal/router"
	"github.com/stemsi/exstem-station/internal/service"
	"github.com/stemsi/exstem-station/internal/validator"
	"github.com/stemsi/exstem-station/internal/websocket"
	"github.com/stemsi/exstem-station/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("platform", cfg.PlatformBaseURL).
		Msg("Starting ExStem Station")

	if cfg.StationSecretHash == "" {
		log.Fatal().Msg("STATION_SECRET_HASH is not set; generate one with cmd/hash-secret")
	}

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	stateRepo := repository.NewSessionStateRepository(rdb, cfg.StateTTL)
	queueRepo := repository.NewQueueRepository(rdb)
	rendererRepo := repository.NewRendererSessionRepository(rdb)
	resultRepo := repository.NewResultRepository(pool)

	platformClient := platform.New(cfg.PlatformBaseURL, cfg.RequestTimeout)

	// ─── Event Hub ─────────────────────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	hub := websocket.NewHub(rdb, log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(workerCtx)
	}()

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, rendererRepo)
	stationService := service.NewStationService(exam.Deps{
		Platform:               platformClient,
		Store:                  stateRepo,
		Events:                 hub,
		RequestTimeout:         cfg.RequestTimeout,
		AnswerTimeout:          cfg.AnswerTimeout,
		DefaultDurationSeconds: cfg.DefaultDurationSeconds,
	}, queueRepo, log)
	defer stationService.Close()

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:   handler.NewAuthHandler(authService, log),
		Exam:   handler.NewExamHandler(stationService, log),
		WS:     handler.NewWSHandler(hub, stationService, log, cfg.AllowedOrigins),
		System: handler.NewSystemHandler(queueRepo, stationService, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	retryWorker := worker.NewAnswerRetryWorker(rdb, platformClient, stateRepo, cfg.AnswerRetryLimit, log)
	archiveWorker := worker.NewResultArchiveWorker(rdb, resultRepo, log)

	wg.Add(2)
	go func() {
		defer wg.Done()
		retryWorker.Start(workerCtx)
	}()
	go func() {
		defer wg.Done()
		archiveWorker.Start(workerCtx)
	}()

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Station listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting renderer requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the attempt's timer and outbox. Session state stays in Redis
	// so the next start can resume it.
	stationService.Close()

	// 3. Stop background workers and wait for their drain.
	workerCancel()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Warn().Msg("Workers did not drain in time")
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
