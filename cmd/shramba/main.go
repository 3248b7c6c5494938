package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/erazemk/shramba/internal/api"
	"github.com/erazemk/shramba/internal/auth"
	"github.com/erazemk/shramba/internal/classify"
	"github.com/erazemk/shramba/internal/config"
	"github.com/erazemk/shramba/internal/db"
	"github.com/erazemk/shramba/internal/events"
	"github.com/erazemk/shramba/internal/inventory"
	"github.com/erazemk/shramba/internal/logging"
	"github.com/erazemk/shramba/internal/rediscoll"
	"github.com/erazemk/shramba/internal/store"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fs := flag.NewFlagSet("shramba", flag.ContinueOnError)
	cfg.BindFlags(fs)
	fs.Usage = func() {
		fmt.Fprint(os.Stdout, `Usage: shramba [flags]

Flags:
  -d, -db <path>          SQLite database path (default: shramba.sqlite3)
  -a, -addr <host:port>   listen address (default: :8080)
  -b, -backend <name>     item collection backend: sqlite or redis (default: sqlite)
  -l, -log <path>         log file path (default: no file, stdout/stderr only)
  -h, -help               show this help and exit

Environment (also read from .env):
  SHRAMBA_DB, SHRAMBA_ADDR, SHRAMBA_BACKEND, SHRAMBA_LOG,
  SHRAMBA_LOG_LEVEL, SHRAMBA_LOG_FORMAT,
  SHRAMBA_REDIS_ADDR, SHRAMBA_REDIS_PREFIX,
  SHRAMBA_GEMINI_API_KEY, SHRAMBA_GEMINI_MODEL,
  SHRAMBA_ALLOWED_ORIGINS (comma-separated origin hosts for /api/events)
`)
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "unexpected argument: %s\n", fs.Arg(0))
		fs.Usage()
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	closeLog, err := logging.Setup(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Path:   cfg.LogPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	if err := run(cfg); err != nil {
		slog.Error("server failed", "error", err)
		closeLog()
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx := context.Background()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}
	slog.Info("database ready", "path", cfg.DBPath)

	if n, err := store.PurgeExpiredTokens(ctx, database, time.Now()); err != nil {
		slog.Warn("failed to purge revoked tokens", "error", err)
	} else if n > 0 {
		slog.Info("purged expired revoked tokens", "count", n)
	}

	jwtSecret, err := store.GetJWTSecret(ctx, database)
	if err != nil {
		return fmt.Errorf("loading JWT secret: %w", err)
	}

	coll, closeColl, err := openCollection(ctx, cfg, database)
	if err != nil {
		return err
	}
	defer closeColl()

	hub := events.NewHub()
	opts := []inventory.Option{inventory.WithNotifier(hub)}
	if cfg.ClassifierEnabled() {
		gemini, err := classify.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return fmt.Errorf("creating classifier: %w", err)
		}
		defer gemini.Close()
		opts = append(opts, inventory.WithClassifier(gemini))
		slog.Info("image classification enabled")
	}

	registry := inventory.NewRegistry(coll, opts...)
	bus := auth.NewBus()
	bus.Subscribe(registry.HandleIdentity)

	handler := api.NewRouter(api.Deps{
		DB:        database,
		JWTSecret: jwtSecret,
		Bus:       bus,
		Registry:  registry,
		Hub:       hub,

		AllowedOrigins: cfg.AllowedOrigins,
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-quit
		slog.Info("shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}()

	slog.Info("server started", "addr", cfg.Addr, "backend", cfg.Backend)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving: %w", err)
	}

	slog.Info("server stopped, closing database")
	return nil
}

// openCollection returns the item collection for the configured backend and
// a function releasing its resources.
func openCollection(ctx context.Context, cfg config.Config, database *sql.DB) (inventory.Collection, func(), error) {
	if cfg.Backend != config.BackendRedis {
		return store.NewCollection(database), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
	}
	slog.Info("redis collection ready", "addr", cfg.RedisAddr)
	return rediscoll.New(client, cfg.RedisPrefix), func() { client.Close() }, nil
}
