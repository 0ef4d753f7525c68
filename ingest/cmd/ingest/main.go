package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/convohook/convohook/common/database"
	"github.com/convohook/convohook/common/logging"
	"github.com/convohook/convohook/ingest/internal/authn"
	"github.com/convohook/convohook/ingest/internal/config"
	"github.com/convohook/convohook/ingest/internal/directory"
	"github.com/convohook/convohook/ingest/internal/dlq"
	"github.com/convohook/convohook/ingest/internal/events"
	"github.com/convohook/convohook/ingest/internal/handlers"
	"github.com/convohook/convohook/ingest/internal/metrics"
	"github.com/convohook/convohook/ingest/internal/models"
	"github.com/convohook/convohook/ingest/internal/processor"
	"github.com/convohook/convohook/ingest/internal/queue"
	"github.com/convohook/convohook/ingest/internal/ratelimit"
	"github.com/convohook/convohook/ingest/internal/repository"
	"github.com/convohook/convohook/ingest/internal/search"
	"github.com/convohook/convohook/ingest/internal/server"
	"github.com/convohook/convohook/ingest/internal/service"

	natsclient "github.com/convohook/convohook/common/messaging/nats"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("ingest"))
	logging.SetDefault(logger)

	slog.Info("Starting ingest service",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Logging.Level),
		slog.String("directory_backend", cfg.Directory.Backend),
		slog.String("database_backend", cfg.Database.Backend),
	)

	ctx := context.Background()
	checks := map[string]handlers.Pinger{}

	// Shared database/sql handle for migrations and the instance directory
	var db *sql.DB
	if cfg.Database.Backend == "postgres" || cfg.Directory.Backend == "postgres" {
		db, err = sql.Open("pgx", cfg.Database.URL)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer db.Close()

		if cfg.Database.AutoMigrate {
			if err := runMigrations(db, cfg.Database.MigrationsPath); err != nil {
				log.Fatalf("Failed to run migrations: %v", err)
			}
			slog.Info("Database migrations applied", slog.String("path", cfg.Database.MigrationsPath))
		}
	}

	// Message store
	var store repository.Store
	switch cfg.Database.Backend {
	case "postgres":
		pg, err := repository.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		store = pg
		checks["postgres"] = pg
	default:
		slog.Warn("Using in-memory message store; messages are lost on restart")
		store = repository.NewMemoryStore()
	}
	defer store.Close()

	// Instance directory
	var lookup directory.Lookup
	switch cfg.Directory.Backend {
	case "postgres":
		sqlDir := directory.NewSQLDirectory(db, database.DefaultQueryTimeout)
		lookup = sqlDir
		checks["directory"] = sqlDir
	default:
		lookup = directory.NewStaticDirectory(staticInstances(cfg.Directory.Instances))
		slog.Info("Using static instance directory", slog.Int("instances", len(cfg.Directory.Instances)))
	}
	if cfg.Directory.CacheTTL > 0 {
		lookup = directory.NewCachedDirectory(lookup, cfg.Directory.CacheTTL)
	}
	authenticator := authn.New(lookup, cfg.Webhook.Provider)

	// Durable queue; one client per process
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("Invalid redis.url: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	jobQueue := queue.New(redisClient, cfg.Queue.Prefix)
	checks["redis"] = jobQueue

	// Rate limiter
	var rateLimiter ratelimit.RateLimiter = &ratelimit.NoOpRateLimiter{}
	if cfg.RateLimit.Enabled {
		limiter, err := ratelimit.NewRedisRateLimiter(redisClient, cfg.Queue.Prefix+":ratelimit", cfg.RateLimit.Requests, cfg.RateLimit.Window)
		if err != nil {
			log.Fatalf("Failed to initialize rate limiter: %v", err)
		}
		rateLimiter = limiter
		slog.Info("Rate limiting enabled",
			slog.Int("requests", cfg.RateLimit.Requests),
			slog.Duration("window", cfg.RateLimit.Window),
		)
	}
	defer rateLimiter.Close()

	// Best-effort sinks for persisted messages
	var sinks []processor.Sink
	var serviceOpts []service.Option
	sinkStats := map[string]handlers.StatsSource{}
	serviceOpts = append(serviceOpts, service.WithLogger(logger))

	if cfg.NATS.Enabled {
		natsCfg := natsclient.DefaultConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.Name = "convohook-ingest"
		nc, err := natsclient.NewClient(natsCfg)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer nc.Close()
		checks["nats"] = nc

		publisher := events.NewPublisher(nc, logger)
		publisher.OnError(func(subject string) {
			metrics.PublishErrors.WithLabelValues(subject).Inc()
		})
		sinks = append(sinks, publisher)
		mirror := dlq.NewMirror(nc)
		serviceOpts = append(serviceOpts, service.WithDeadLetterMirror(mirror))
		sinkStats["deadletter_mirror"] = mirror
		slog.Info("NATS event publication enabled", slog.String("url", cfg.NATS.URL))
	}

	if cfg.OpenSearch.Enabled {
		searchCfg := search.DefaultConfig()
		searchCfg.URL = cfg.OpenSearch.URL
		searchCfg.Username = cfg.OpenSearch.Username
		searchCfg.Password = cfg.OpenSearch.Password
		searchCfg.TLSSkipVerify = cfg.OpenSearch.TLSSkipVerify
		searchCfg.Index = cfg.OpenSearch.Index
		searchCfg.FlushInterval = cfg.OpenSearch.BulkFlushInterval

		indexer, err := search.NewIndexer(searchCfg, logger)
		if err != nil {
			log.Fatalf("Failed to create OpenSearch indexer: %v", err)
		}
		initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := indexer.Initialize(initCtx); err != nil {
			slog.Warn("Failed to initialize OpenSearch; documents may fail to index", logging.Error(err))
		}
		cancel()
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := indexer.Close(closeCtx); err != nil {
				slog.Error("Failed to flush search indexer", logging.Error(err))
			}
			stats := indexer.Stats()
			slog.Info("Search indexer stopped",
				slog.Uint64("indexed", stats["indexed"]),
				slog.Uint64("failed", stats["failed"]),
			)
		}()
		sinks = append(sinks, indexer)
		sinkStats["search"] = indexer
		slog.Info("OpenSearch indexing enabled", slog.String("index", searchCfg.Index))
	}

	ingestService := service.NewIngestService(jobQueue, processor.New(store, sinks...), serviceOpts...)

	// Initialize HTTP handlers
	webhookHandler := handlers.NewWebhookHandler(authenticator, ingestService, rateLimiter, cfg.Webhook.MaxBodySize, logger)
	healthHandler := handlers.NewHealthHandler(ingestService, checks)
	var adminHandler *handlers.AdminHandler
	if cfg.Admin.Token != "" {
		adminHandler = handlers.NewAdminHandler(jobQueue, ingestService, cfg.Admin.Token, logger)
		for name, src := range sinkStats {
			adminHandler.AddSinkStats(name, src)
		}
	} else {
		slog.Info("Admin API disabled; set admin.token to enable it")
	}
	router := server.NewRouter(webhookHandler, adminHandler, healthHandler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		slog.Info("Ingest service listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", logging.Error(err))
	}

	slog.Info("Server stopped")
}

func runMigrations(db *sql.DB, path string) error {
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up: %w", err)
	}
	return nil
}

func staticInstances(in []config.StaticInstance) []models.Instance {
	out := make([]models.Instance, 0, len(in))
	for _, inst := range in {
		out = append(out, models.Instance{
			ID:         inst.ID,
			TenantID:   inst.TenantID,
			Name:       inst.Name,
			Credential: inst.Credential,
			Active:     inst.Active,
		})
	}
	return out
}
