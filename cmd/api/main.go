package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/carebook/clinic-scheduler/internal/api/router"
	"github.com/carebook/clinic-scheduler/internal/cache"
	appconfig "github.com/carebook/clinic-scheduler/internal/config"
	"github.com/carebook/clinic-scheduler/internal/events"
	"github.com/carebook/clinic-scheduler/internal/gateway"
	"github.com/carebook/clinic-scheduler/internal/http/handlers"
	"github.com/carebook/clinic-scheduler/internal/locking"
	"github.com/carebook/clinic-scheduler/internal/notify"
	"github.com/carebook/clinic-scheduler/internal/observability/metrics"
	"github.com/carebook/clinic-scheduler/internal/reorder"
	"github.com/carebook/clinic-scheduler/internal/reply"
	"github.com/carebook/clinic-scheduler/internal/resolver"
	"github.com/carebook/clinic-scheduler/internal/schedule"
	"github.com/carebook/clinic-scheduler/pkg/logging"
)

func main() {
	// .env is optional; real deployments configure through the environment.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic-scheduler API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	pool, err := pgxpool.New(rootCtx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create pgx pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisOpts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() { _ = redisClient.Close() }()

	reg := prometheus.NewRegistry()
	schedMetrics := metrics.NewSchedulerMetrics(reg)

	store := schedule.NewStore(pool)
	processed := events.NewProcessedStore(pool)
	retryStore := events.NewRetryStore(pool)

	gatewayClient := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey, logger)
	directory := gateway.NewCachedDirectory(gatewayClient, cache.NewRedis(redisClient, "scheduler"), cfg.DirectoryCacheTTL)
	locker := locking.NewRedisLocker(redisClient, cfg.LockTTL)
	hub := notify.NewHub(logger)

	classifier := reply.NewKeywordClassifier(reply.DefaultKeywordSets())
	correlator := reply.NewCorrelator(gatewayClient, classifier, logger).
		WithLookback(cfg.CorrelationLookback).
		WithMaxProposalAge(cfg.ProposalMaxAge)

	resolverSvc := resolver.NewService(store, gatewayClient, locker, hub, retryStore, schedMetrics, logger)
	reorderSvc := reorder.NewService(store, hub, schedMetrics, logger)

	// Redrive failed outbound sends in the background.
	deliverer := events.NewDeliverer(retryStore, gatewayClient, resolverSvc, logger).
		WithInterval(cfg.RetryPollInterval)
	go deliverer.Run(rootCtx)

	schedulingHandler := handlers.NewSchedulingHandler(handlers.SchedulingConfig{
		Store:     store,
		Resolver:  resolverSvc,
		Reorder:   reorderSvc,
		Directory: directory,
		Metrics:   schedMetrics,
		Logger:    logger,
	})
	webhookHandler := handlers.NewGatewayWebhookHandler(handlers.GatewayWebhookConfig{
		Store:      store,
		Processed:  processed,
		Correlator: correlator,
		Resolver:   resolverSvc,
		Publisher:  hub,
		Metrics:    schedMetrics,
		Logger:     logger,
	})

	r := router.New(&router.Config{
		Logger:             logger,
		Scheduling:         schedulingHandler,
		GatewayWebhooks:    webhookHandler,
		Hub:                hub,
		MetricsHandler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: strings.Split(cfg.AllowedOrigins, ","),
		APIRatePerSecond:   20,
		APIBurst:           40,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
