package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/eeca-nz/evroam-ingest/internal/aggregate"
	"github.com/eeca-nz/evroam-ingest/internal/config"
	"github.com/eeca-nz/evroam-ingest/internal/entity"
	_ "github.com/eeca-nz/evroam-ingest/internal/entity/evroam" // Register all entities
	"github.com/eeca-nz/evroam-ingest/internal/fetch"
	"github.com/eeca-nz/evroam-ingest/internal/listener"
	"github.com/eeca-nz/evroam-ingest/internal/logging"
	"github.com/eeca-nz/evroam-ingest/internal/pipeline"
	"github.com/eeca-nz/evroam-ingest/internal/scd"
	"github.com/eeca-nz/evroam-ingest/internal/store"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"fetch_enabled", cfg.Fetch.Enabled,
		"aggregate_enabled", cfg.Aggregate.Enabled,
	)

	// Parse and configure connection pool
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		slog.Error("failed to parse database URL", "error", err)
		os.Exit(1)
	}

	// Apply pool configuration from config
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	// Connect to database
	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		slog.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	// Log which database we connected to
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		dbName := strings.TrimPrefix(u.Path, "/")
		slog.Info("connected to database", "name", dbName)
	} else {
		slog.Info("connected to database")
	}

	// Bring the entity-store schema up to date
	if cfg.Database.MigrateOnStart {
		if err := store.MigrateUp(cfg.Database.URL); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		slog.Info("migrations applied")
	}

	slog.Info("entities registered", "count", entity.Count())

	// Wire the ingestion pipeline
	pgStore := store.NewPgStore(pool)
	engine := scd.NewEngine(pgStore, scd.RetryPolicy{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
	})
	pipe := pipeline.New(engine)

	// Webhook listener
	eventFetcher := &http.Client{Timeout: cfg.Webhook.EventFetchTimeout}
	server := listener.NewServer(pipe, eventFetcher, cfg.Webhook, cfg.Server)

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())

	// Scheduled pollers
	if cfg.Fetch.Enabled {
		client := fetch.NewClient(cfg.Fetch.BaseURL, cfg.Fetch.SubscriptionKey, cfg.Fetch.Timeout)
		poller := fetch.NewPoller(client, pipe, cfg.Fetch.Feeds, cfg.Fetch.Interval)
		go poller.Run(jobCtx)
	}

	// Staging aggregator
	if cfg.Aggregate.Enabled {
		staging := aggregate.NewFSBlobStore(cfg.Aggregate.StagingDir)
		var exporter *aggregate.Exporter
		if cfg.Aggregate.ExportDir != "" {
			exporter = aggregate.NewExporter(pgStore, aggregate.NewFSBlobStore(cfg.Aggregate.ExportDir))
		}
		agg := aggregate.New(staging, pipe, exporter, cfg.Aggregate.MaxBlobs, cfg.Aggregate.Interval)
		go agg.Run(jobCtx)
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		// Stop background jobs
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	// Start server (uses addr from config internally)
	if err := server.Start(cfg.Server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
