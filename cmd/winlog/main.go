package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/redis/go-redis/v9"
	"github.com/winlog-collector/winlog/internal/config"
	"github.com/winlog-collector/winlog/internal/correlation"
	"github.com/winlog-collector/winlog/internal/handlers"
	"github.com/winlog-collector/winlog/internal/keylock"
	"github.com/winlog-collector/winlog/internal/logging"
	"github.com/winlog-collector/winlog/internal/notify"
	"github.com/winlog-collector/winlog/internal/ratelimit"
	"github.com/winlog-collector/winlog/internal/repository"
	"github.com/winlog-collector/winlog/internal/server"
	"github.com/winlog-collector/winlog/internal/service"
	"github.com/winlog-collector/winlog/internal/sink"
	"github.com/winlog-collector/winlog/internal/validator"
)

var version = "0.1.0"

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
	).With(logging.Service("winlog"))
	logging.SetDefault(logger)

	slog.Info("Starting Winlog collector",
		slog.String("version", version),
		slog.Int("port", cfg.Server.Port),
		slog.String("storage", cfg.Database.Type),
		slog.String("log_level", cfg.Logging.Level),
	)
	if *configPath != "" {
		slog.Info("Loaded configuration", slog.String("config_path", *configPath))
	}

	loc, err := cfg.Correlation.Location()
	if err != nil {
		fatal("Invalid correlation timezone", err)
	}

	opts := service.Options{
		Validator: validator.New(cfg.Security.ValidActions),
		Logger:    logger,
	}

	// Initialize storage backend
	switch cfg.Database.Type {
	case config.BackendPostgres:
		connString := cfg.Database.Postgres.ConnString()

		if cfg.Database.AutoMigrate {
			runMigrations(cfg.Database.MigrationsPath, connString)
		}

		slog.Info("Connecting to PostgreSQL",
			slog.String("host", cfg.Database.Postgres.Host),
			slog.Int("port", cfg.Database.Postgres.Port),
			slog.String("database", cfg.Database.Postgres.Database),
		)
		pgOpts := repository.DefaultPostgresOptions()
		pgOpts.MaxConns = cfg.Database.Postgres.MaxConns
		pgOpts.MinConns = cfg.Database.Postgres.MinConns
		pgOpts.TimeZone = loc.String()

		pgRepo, err := repository.NewPostgresRepository(context.Background(), connString, pgOpts)
		if err != nil {
			fatal("Failed to connect to PostgreSQL", err)
		}
		defer pgRepo.Close()
		opts.Repository = pgRepo
		slog.Info("Connected to PostgreSQL")

	case config.BackendMemory:
		slog.Warn("Using in-memory event store (development only, events are lost on restart)")
		opts.Repository = repository.NewMemoryRepository(loc)

	case config.BackendFile:
		fileSink, err := sink.NewFileSink(cfg.Database.File.Path)
		if err != nil {
			fatal("Failed to open event file", err)
		}
		defer fileSink.Close()
		opts.Sink = fileSink
		slog.Warn("Using file storage: session correlation is disabled",
			slog.String("path", cfg.Database.File.Path))
	}

	if opts.Repository != nil {
		opts.Engine = correlation.NewEngine(opts.Repository, correlation.WithLocation(loc))
	}

	// Redis backs the distributed lock and the rate limiter
	var redisClient *redis.Client
	if cfg.Correlation.LockMode == keylock.ModeRedis || cfg.RateLimit.Enabled {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			fatal("Invalid redis.url", err)
		}
		redisClient = redis.NewClient(redisOpts)
		defer redisClient.Close()

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ReadTimeout)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.Warn("Redis is not reachable yet", logging.Error(err))
		}
		cancel()
	}

	switch cfg.Correlation.LockMode {
	case keylock.ModeRedis:
		opts.Locker = keylock.NewRedisLocker(redisClient, cfg.Correlation.LockTTL, cfg.Correlation.LockRetry)
	case keylock.ModeNone:
		slog.Warn("Session key locking disabled: concurrent connects may leave several sessions open")
		opts.Locker = keylock.NoopLocker{}
	default:
		opts.Locker = keylock.NewLocalLocker()
	}
	slog.Info("Session key locking configured", slog.String("mode", opts.Locker.Mode()))

	var rateLimiter ratelimit.RateLimiter = &ratelimit.NoOpRateLimiter{}
	if cfg.RateLimit.Enabled {
		rateLimiter = ratelimit.NewRedisRateLimiter(redisClient, cfg.RateLimit.Requests, cfg.RateLimit.Window)
		slog.Info("Rate limiting enabled",
			slog.Int("requests", cfg.RateLimit.Requests),
			slog.Duration("window", cfg.RateLimit.Window),
		)
	}
	defer rateLimiter.Close()

	// Lifecycle notifications
	if cfg.NATS.Enabled {
		natsCfg := notify.DefaultConfig()
		natsCfg.URL = cfg.NATS.URL
		natsCfg.Token = cfg.NATS.Token
		conn, err := notify.Connect(natsCfg, logger.Logger)
		if err != nil {
			slog.Warn("NATS unavailable, session notifications disabled", logging.Error(err))
		} else {
			publisher := notify.NewPublisher(conn)
			defer publisher.Close()
			opts.Notifier = publisher
			slog.Info("Session notifications enabled", slog.String("nats_url", cfg.NATS.URL))
		}
	}

	ingestService, err := service.New(opts)
	if err != nil {
		fatal("Failed to create ingestion service", err)
	}

	// Initialize HTTP handlers
	handler := handlers.NewHandler(ingestService, rateLimiter, handlers.Config{
		ExpectedUserAgent: cfg.Security.ExpectedUserAgent,
		SharedSecretHash:  cfg.Security.SharedSecretHash,
		MaxBodyBytes:      cfg.Server.MaxBodyBytes,
		Version:           version,
	}, logger)
	router := server.NewRouter(handler, logger)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		slog.Info("Winlog collector listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal("Server error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", logging.Error(err))
	}

	slog.Info("Server stopped gracefully")
}

func runMigrations(sourceURL, connString string) {
	slog.Info("Running database migrations", slog.String("source", sourceURL))
	m, err := migrate.New(sourceURL, connString)
	if err != nil {
		fatal("Failed to initialize migrations", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		fatal("Failed to run migrations", err)
	}

	current, dirty, err := m.Version()
	if err != nil {
		slog.Warn("Could not get migration version", logging.Error(err))
		return
	}
	slog.Info("Database migration complete",
		slog.Uint64("version", uint64(current)),
		slog.Bool("dirty", dirty),
	)
}

func fatal(msg string, err error) {
	slog.Error(msg, logging.Error(err))
	os.Exit(1)
}
