// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"bp-api-service/internal/config"
	"bp-api-service/internal/domain/ports/storage"
	"bp-api-service/internal/infra/bp"
	pg "bp-api-service/internal/infra/db/postgres"
	"bp-api-service/internal/infra/logging"
	"bp-api-service/internal/infra/media"
	"bp-api-service/internal/infra/metrics"
	red "bp-api-service/internal/infra/redis"
	"bp-api-service/internal/infra/sched"
	"bp-api-service/internal/infra/web"
	"bp-api-service/internal/infra/worker"
	"bp-api-service/internal/infra/ws"
	"bp-api-service/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	tunablesPath := flag.String("config", "config.yaml", "path to optional tunables file")
	flag.Parse()

	// A .env file is a development convenience; the real contract is the
	// process environment.
	_ = godotenv.Load()

	cfg, err := config.Load(*tunablesPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log)
	logger.Info().Bool("process_hard", cfg.ProcessHard).Str("bind", cfg.ServerHost).Msg("starting")

	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.PostgresURL, 10)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	txm := pg.NewTxManager(pool)
	jobRepo := pg.NewJobRepo(pool, txm)
	if err := jobRepo.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("schema")
	}

	// ---- Media store ----
	var store storage.MediaStore
	if cfg.S3.Enabled() {
		store, err = media.NewS3Store(ctx, cfg.S3, cfg.MediaServeHost, cfg.MediaURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("s3 media store")
		}
		logger.Info().Str("bucket", cfg.S3.Bucket).Msg("media backend: s3")
	} else {
		store, err = media.NewFilesystemStore(cfg.MediaRoot, cfg.MediaServeHost, cfg.MediaURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("filesystem media store")
		}
		logger.Info().Str("root", cfg.MediaRoot).Msg("media backend: filesystem")
	}

	// ---- Background-removal worker client ----
	remover, err := bp.NewClient(cfg.WorkerURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker client")
	}

	// ---- Use cases ----
	classifier := usecase.NewClassifier(cfg.ProcessHard, cfg.Classifier.MaxBytes, cfg.Classifier.MaxPixels)
	jobUC := usecase.NewJobUseCase(jobRepo, store, classifier, logger)

	// ---- Status push ----
	hub := ws.NewHub(store, logger)
	notifiers := worker.MultiNotifier{hub}

	// ---- Redis (optional) ----
	srv := web.NewServer(jobUC, store, cfg.AuthToken, logger)
	if cfg.RedisURL != "" {
		redisClient, err := red.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
		srv.SetRateLimiter(red.NewRateLimiter(redisClient), cfg.RateLimit)
		notifiers = append(notifiers, red.NewNotifier(redisClient, logger))
		logger.Info().Msg("redis: rate limiting and transition publishing enabled")
	}

	// ---- Dispatcher ----
	workers := worker.NewPool(cfg.Dispatcher.Workers, logger)
	workers.Start(ctx)
	dispatcher := worker.NewDispatcher(jobRepo, store, remover, notifiers, cfg.Dispatcher, logger)
	go dispatcher.Start(ctx, workers)

	// ---- Media reaper ----
	reaper := sched.NewMediaReaper(jobRepo, store, cfg.Reaper, logger)
	go func() { _ = reaper.Run(ctx) }()

	// ---- HTTP server ----
	server := &http.Server{
		Addr:              cfg.ServerHost,
		Handler:           srv.Routes(hub),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("gateway listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	cancel()
	workers.Stop()
}
