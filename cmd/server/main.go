// Package main provides the entry point for the mistsync server.
// It syncs Juniper Mist device inventory into the CMDB and turns Mist
// alarm webhooks into incident tickets.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lvonguyen/mistsync/internal/api/gateway"
	"github.com/lvonguyen/mistsync/internal/config"
	"github.com/lvonguyen/mistsync/internal/devices/correlation"
	"github.com/lvonguyen/mistsync/internal/devices/ingestion"
	"github.com/lvonguyen/mistsync/internal/export"
	"github.com/lvonguyen/mistsync/internal/observability"
	"github.com/lvonguyen/mistsync/internal/repository"
	"github.com/lvonguyen/mistsync/internal/syncer"
	"github.com/lvonguyen/mistsync/internal/webhook"
)

// Version information (injected at build time via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

type ticketStore interface {
	correlation.TicketStore
	TicketLister
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("mistsync %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	cfg.Observability.ServiceVersion = Version

	logger, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "building logger: %v\n", err)
		os.Exit(1)
	}
	logger.Info("starting mistsync", zap.String("version", Version), zap.String("config", *configPath))

	telemetry := observability.New(cfg.Observability, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage: Redis when configured, otherwise process memory.
	var (
		store   repository.Store
		tickets ticketStore
		queue   repository.SyncQueue
		client  *redis.Client
	)
	if cfg.Redis.Addr != "" {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: os.Getenv(cfg.Redis.PasswordEnv),
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis unavailable", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		store = repository.NewRedisStore(client, cfg.Redis.KeyPrefix)
		tickets = repository.NewRedisTicketStore(client, cfg.Redis.KeyPrefix)
		queue = repository.NewRedisQueue(client, cfg.Redis.KeyPrefix)
	} else {
		logger.Warn("no redis configured, state is kept in memory")
		store = repository.NewMemoryStore()
		tickets = repository.NewMemoryTicketStore()
		queue = repository.NewMemoryQueue()
	}

	mist, err := ingestion.NewClient(cfg.Mist, logger)
	if err != nil {
		logger.Fatal("mist client initialization failed", zap.Error(err))
	}
	if err := mist.HealthCheck(ctx); err != nil {
		logger.Warn("mist API check failed", zap.Error(err))
	}

	opts := []syncer.Option{
		syncer.WithQueue(queue),
		syncer.WithTelemetry(telemetry.Metrics(), telemetry.Tracer()),
	}
	if cfg.CMDB.Enabled {
		sender, err := export.NewSender(cfg.CMDB, logger.Named("cmdb"))
		if err != nil {
			logger.Fatal("cmdb sender initialization failed", zap.Error(err))
		}
		if err := sender.HealthCheck(ctx); err != nil {
			logger.Warn("cmdb check failed", zap.Error(err))
		}
		opts = append(opts, syncer.WithExporter(sender))
	}
	syncService := syncer.NewService(cfg, mist, store, logger.Named("sync"), opts...)

	srv := &server{
		store:     store,
		tickets:   tickets,
		syncer:    syncService,
		telemetry: telemetry,
		logger:    logger,
		runCtx:    ctx,
	}
	if cfg.Alarms.Enabled {
		correlator := correlation.NewCorrelator(cfg.CorrelationConfig(), store, tickets, logger.Named("alarms"))
		srv.webhook = webhook.NewReceiver(cfg.WebhookConfig(), meteredCorrelator{correlator, telemetry.Metrics()}, logger.Named("webhook"))
	}
	if client != nil && cfg.RateLimit.Enabled {
		srv.limiter = gateway.NewRateLimiter(client, cfg.RateLimit, logger.Named("ratelimit"))
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go syncService.Start(ctx)

	go func() {
		logger.Info("server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("shutting down", zap.String("signal", sig.String()))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		logger.Error("telemetry shutdown error", zap.Error(err))
	}

	logger.Info("server stopped")
}
