/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the reception back-office server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present), YAML config, environment, flags
  2. Build the zap logger
  3. Initialize SQLite store
  4. Wire the safe service and the timeline watcher
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (optional)
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: reception.db)
           Use ":memory:" for an in-memory database
  -beds    Beds per room for the booking grid (default: 2)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the timeline watcher
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/reception.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Run with a config file
  ./server -config=./reception.yaml

ENVIRONMENT:
  PORT, DB_PATH, BED_COUNT, ALLOWED_ORIGINS, LOG_LEVEL override the
  YAML file; flags override everything. A .env file is loaded first.

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/almhof/reception-engine/api"
	"github.com/almhof/reception-engine/config"
	"github.com/almhof/reception-engine/safe"
	"github.com/almhof/reception-engine/store/sqlite"
)

func main() {
	// .env first so config.Load sees its variables.
	_ = godotenv.Load()

	// Flags
	configPath := flag.String("config", "", "path to YAML config file")
	port := flag.Int("port", 0, "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	beds := flag.Int("beds", 0, "beds per room for the booking grid")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *beds != 0 {
		cfg.BedCount = *beds
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	// Initialize store
	store, err := sqlite.New(cfg.DBPath, logger)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	// Wire the domain service and the timeline watcher
	service := safe.NewService(store, store, store, store.Drawer(), store.AuditTrail(), logger)
	watcher := safe.NewWatcher(logger)

	watchCtx, stopWatcher := context.WithCancel(context.Background())
	defer stopWatcher()
	go func() {
		if err := watcher.Run(watchCtx, store); err != nil {
			logger.Error("timeline watcher stopped", zap.Error(err))
		}
	}()

	// Initialize handler and router
	handler := api.NewHandler(service, watcher, store, cfg.BedCount, logger)
	router := api.NewRouter(handler, cfg.AllowedOrigins)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Port),
			zap.String("db", cfg.DBPath),
			zap.Int("beds", cfg.BedCount))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}
	stopWatcher()

	logger.Info("server stopped")
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
