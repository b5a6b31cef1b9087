package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/campaignforge/dispatch/internal/api"
	"github.com/campaignforge/dispatch/internal/audit"
	"github.com/campaignforge/dispatch/internal/config"
	"github.com/campaignforge/dispatch/internal/domain"
	"github.com/campaignforge/dispatch/internal/engine"
	"github.com/campaignforge/dispatch/internal/store"
	"github.com/campaignforge/dispatch/internal/template"
	"github.com/campaignforge/dispatch/internal/transport"
	"github.com/campaignforge/dispatch/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize PostgreSQL
	ctx := context.Background()
	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()
	logger.Info("connected to PostgreSQL")

	// Run database migrations
	if err := pgStore.RunMigrations(ctx, "migrations"); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	// Initialize Redis
	redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()
	logger.Info("connected to Redis")

	// SMTP transport: persisted settings with env fallback
	fallback := transport.Config{
		Host:        cfg.SMTPHost,
		Port:        cfg.SMTPPort,
		Username:    cfg.SMTPUser,
		Password:    cfg.SMTPPassword,
		FromAddress: cfg.SMTPFrom,
		FromName:    cfg.SMTPFromName,
	}
	manager := transport.NewManager(pgStore, fallback, cfg.NumWorkers, logger)
	pgStore.OnSettingsUpdate(func() { manager.Refresh(ctx) })

	// Queue engine
	initial := domain.DefaultQueueConfig()
	initial.RateLimitPerMinute = cfg.RateLimitPerMinute
	initial.MaxRetryAttempts = cfg.MaxRetryAttempts
	initial.WorkerPoolSize = cfg.NumWorkers

	limiter := engine.NewRateLimiter(initial.RateLimitPerMinute)
	tracker := engine.NewCompletionTracker(redisStore.Client(), logger)
	ctrl := engine.NewController(pgStore, limiter, tracker, pgStore, initial, logger)
	if err := ctrl.LoadPersisted(ctx); err != nil {
		logger.Warn("failed to load persisted queue config, using defaults", "error", err)
	}

	campaigns := engine.NewCampaignEngine(pgStore, pgStore, ctrl, logger)

	resolver := &template.Resolver{
		CompanyName:        cfg.CompanyName,
		SupportEmail:       cfg.SupportEmail,
		WebsiteURL:         cfg.WebsiteURL,
		UnsubscribeBaseURL: cfg.UnsubscribeBaseURL,
	}

	// Audit sink drains in the background; dropped entries never block sends.
	sink := audit.NewSink(pgStore, logger)
	sink.Start(ctx)

	// Worker pipeline
	deliverer := worker.NewDeliverer(pgStore, pgStore, resolver, manager, limiter, tracker, sink, ctrl, logger)
	pool := worker.NewPool(cfg.NumWorkers, deliverer, logger)
	dispatcher := worker.NewDispatcher(pgStore, ctrl, pool, logger)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	pool.Start(workerCtx)
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		dispatcher.Start(workerCtx)
	}()

	// Setup router
	router := api.NewRouter(pgStore, ctrl, campaigns, manager)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Stop claiming new jobs, let in-flight deliveries finish, then flush audit.
	stopWorkers()
	<-dispatcherDone
	pool.Stop()
	sink.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
