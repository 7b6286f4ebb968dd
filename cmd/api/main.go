package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drippay/backend/internal/cache"
	"github.com/drippay/backend/internal/chain"
	"github.com/drippay/backend/internal/config"
	"github.com/drippay/backend/internal/database"
	"github.com/drippay/backend/internal/instant"
	"github.com/drippay/backend/internal/logging"
	"github.com/drippay/backend/internal/monitoring"
	"github.com/drippay/backend/internal/reconcile"
	"github.com/drippay/backend/internal/server"
	"github.com/drippay/backend/internal/stream"
	"github.com/drippay/backend/internal/submission"
	"github.com/drippay/backend/internal/user"
	"github.com/drippay/backend/migrations"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration first
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logging
	logging.Setup(&cfg.Logging, cfg.Server.Env)

	log.Info().
		Str("env", cfg.Server.Env).
		Str("name", cfg.Server.Name).
		Msg("Starting DripPay API server")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(cfg.Database.URL, migrations.FS, "."); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
		log.Info().Msg("Migrations applied")
	}

	// Initialize database connection
	db, err := database.New(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	redis, err := cache.New(ctx, cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to redis")
	}
	defer redis.Close()
	if redis == nil {
		log.Warn().Msg("REDIS_URL not set, profile cache and rate limiting disabled")
	}

	// Initialize Prometheus metrics
	monitoring.Init()
	log.Info().Msg("Prometheus metrics initialized")

	// Start metrics server if enabled
	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(cfg.Monitoring.PrometheusPort)
	}

	users := user.NewService(db.Pool, cache.NewJSONCache(redis, "profile", cfg.Redis.CacheTTL))
	instants := instant.NewService(db.Pool)
	streams := stream.NewService(db.Pool, users)

	// Receipts are only read from configured chains, so the journal refuses the others
	receipts := chain.NewClient(cfg.Chain.RPCURLs, cfg.Chain.RequestTimeout, nil)
	var supports func(chainID string) bool
	if cfg.Reconcile.Enabled && len(cfg.Chain.RPCURLs) > 0 {
		supports = receipts.Supports
	}
	submissions := submission.NewService(db.Pool, supports)

	var limiter *cache.RateLimiter
	if redis != nil {
		limiter = cache.NewRateLimiter(redis, cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.WindowSeconds)
	}

	srv, err := server.NewAPIServer(cfg, server.Services{
		Users:       users,
		Instants:    instants,
		Streams:     streams,
		Submissions: submissions,
		DB:          db,
	}, limiter)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create API server")
	}

	// Start reconciliation of journaled submissions
	var scheduler *reconcile.Scheduler
	if cfg.Reconcile.Enabled {
		if len(cfg.Chain.RPCURLs) == 0 {
			log.Warn().Msg("CHAIN_RPC_URLS not set, pending submissions will not be reconciled")
		}
		reconciler, err := reconcile.NewService(submissions, receipts, instants, streams, &cfg.Reconcile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create reconciliation service")
		}
		scheduler = reconcile.NewScheduler(reconciler, cfg.Reconcile.Interval)
		if err := scheduler.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to start reconciliation scheduler")
		}
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Int("port", cfg.Server.Port).
			Msg("API server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().
		Str("signal", sig.String()).
		Msg("Shutdown signal received, gracefully shutting down...")

	if scheduler != nil {
		scheduler.Stop()
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited gracefully")
}

func startMetricsServer(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", monitoring.Handler())

	metricsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Info().
		Int("port", port).
		Msg("Prometheus metrics server listening")

	if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Metrics server error")
	}
}
