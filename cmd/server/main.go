// Package main is the entrypoint for the Imagine API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/obvyai/imagine/internal/admission"
	"github.com/obvyai/imagine/internal/api"
	"github.com/obvyai/imagine/internal/api/handler"
	mw "github.com/obvyai/imagine/internal/api/middleware"
	"github.com/obvyai/imagine/internal/artifact"
	"github.com/obvyai/imagine/internal/cache"
	"github.com/obvyai/imagine/internal/config"
	"github.com/obvyai/imagine/internal/dispatch"
	"github.com/obvyai/imagine/internal/reaper"
	"github.com/obvyai/imagine/internal/reconcile"
	"github.com/obvyai/imagine/internal/store"
	"github.com/obvyai/imagine/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "model", cfg.Worker.ModelID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Artifact storage and URL signing
	artifacts, err := artifact.NewFileStore(cfg.Artifacts.Root)
	if err != nil {
		return fmt.Errorf("create artifact store: %w", err)
	}
	signer := artifact.NewSigner(cfg.Artifacts.SigningSecret, cfg.Artifacts.BaseURL, cfg.Artifacts.SignedURLTTL)

	// 6. Worker pool client
	invoker := worker.NewHTTPInvoker(cfg.Worker.BaseURL, &http.Client{
		Timeout: cfg.Worker.SyncTimeout + 10*time.Second,
	})
	slog.Info("worker pool client initialized", "pool", invoker.Name())

	// 7. Core services
	pgStore := store.NewPostgresStore(pool)
	logger := slog.Default()

	adm := admission.NewService(pgStore)
	disp := dispatch.New(pgStore, redisCache, invoker, artifacts, logger,
		cfg.Worker.MaxConcurrency, cfg.Worker.SyncTimeout)
	rec := reconcile.New(pgStore, artifacts, disp, redisCache, logger)
	ret := reaper.New(pgStore, redisCache, artifacts, logger,
		cfg.Retention.MaxAge, cfg.Retention.Interval)

	// Background loops: queued async dispatch and retention reaping.
	go disp.RunQueue(ctx)
	go ret.Run(ctx)

	// 8. Build router with dependencies
	auth := mw.NewAuth(pgStore)
	rateLimit := mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMin)

	deps := api.Dependencies{
		Auth:      auth,
		RateLimit: rateLimit,

		HealthHandler:     handler.NewHealthHandler(pgStore, redisCache),
		SubmitHandler:     handler.NewSubmitHandler(adm, disp, signer),
		GetJobHandler:     handler.NewGetJobHandler(pgStore, redisCache, signer),
		ListJobsHandler:   handler.NewListJobsHandler(pgStore, signer),
		ModelsHandler:     handler.NewModelsHandler(cfg.Worker.ModelID),
		CompletionHandler: handler.NewCompletionHandler(cfg.Server.CallbackToken, rec),
		ArtifactHandler:   handler.NewArtifactHandler(signer, artifacts),
		CreateKeyHandler:  handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:   handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler:  handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Worker.SyncTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
