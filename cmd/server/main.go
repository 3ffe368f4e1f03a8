/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the billing engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load TOML configuration
  3. Initialize SQLite store
  4. Create API handler with dependencies
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  TOML config file path (optional, defaults apply)
  -port    HTTP server port override
  -db      SQLite database path override
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/billing.db"

  # Run with a config file
  ./server -config=billing.toml

ENVIRONMENT:
  LOG_LEVEL: debug, info, warn, error (default: info)

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - config/config.go: TOML configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vecinal/billing-engine/api"
	"github.com/vecinal/billing-engine/config"
	"github.com/vecinal/billing-engine/pkg/logging"
	"github.com/vecinal/billing-engine/store/sqlite"
)

func main() {
	logging.Setup()

	// Flags
	configPath := flag.String("config", "", "TOML config file path")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Storage.Path = *dbPath
	}

	// Initialize store
	store, err := sqlite.New(cfg.Storage.Path)
	if err != nil {
		slog.Error("failed to initialize database", "path", cfg.Storage.Path, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Initialize handler and router
	handler := api.NewHandler(store, cfg.ModulePriority(), cfg.FiscalCalendar())
	router := api.NewRouter(handler, cfg.Server.AllowedOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("server starting", "addr", fmt.Sprintf("http://localhost:%d", cfg.Server.Port), "db", cfg.Storage.Path)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}
