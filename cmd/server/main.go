/*
main.go - Application entry point

PURPOSE:
  Starts the progress tracker server. Handles configuration, dependency
  injection and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (config.yaml, .env, PROGRESS_* variables)
  2. Build the logger
  3. Open the store for store.driver (sqlite or postgres)
  4. Connect the Redis publisher when redis.enabled
  5. Create the service, the rollover scheduler and the router
  6. Serve until SIGINT/SIGTERM

COMMAND-LINE FLAGS:
  -config        Path to a YAML config file (optional)
  -issue-token   Print a bearer token for the given user id and exit

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for a running rollover)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the publisher and the store

EXAMPLES:
  # Embedded SQLite in ./progress.db
  PROGRESS_AUTH_JWT_SECRET=dev ./server

  # PostgreSQL
  PROGRESS_STORE_DRIVER=postgres \
  PROGRESS_STORE_DSN="host=localhost user=progress dbname=progress sslmode=disable" \
  ./server -config=config.yaml

  # A token for local testing
  ./server -issue-token=user-1

SEE ALSO:
  - config/config.go: Settings and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/progress-engine/api"
	"github.com/warp/progress-engine/config"
	"github.com/warp/progress-engine/events"
	"github.com/warp/progress-engine/logger"
	"github.com/warp/progress-engine/store/gormdb"
	"github.com/warp/progress-engine/store/sqlite"
	"github.com/warp/progress-engine/tracker"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	issueToken := flag.String("issue-token", "", "print a bearer token for this user id and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	identity := api.NewIdentity(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	if *issueToken != "" {
		token, err := identity.IssueToken(*issueToken, 24*time.Hour)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to issue token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	log, err := newLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	store, err := openStore(cfg.Store)
	if err != nil {
		log.Fatal("failed to open store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	defer store.Close()

	opts := []tracker.Option{
		tracker.WithLogger(log),
		tracker.WithStoreTimeout(cfg.Store.Timeout),
	}
	if cfg.Redis.Enabled {
		publisher, err := events.NewRedisPublisher(context.Background(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal("failed to connect publisher", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		defer publisher.Close()
		opts = append(opts, tracker.WithPublisher(publisher))
	}
	svc := tracker.NewService(store, opts...)

	var scheduler *api.RolloverScheduler
	if cfg.Scheduler.Enabled {
		scheduler, err = api.NewRolloverScheduler(svc, log, cfg.Scheduler.Spec)
		if err != nil {
			log.Fatal("failed to create scheduler", zap.Error(err))
		}
		scheduler.Start()
	}

	router := api.NewRouter(api.NewHandler(svc, log, cfg.Auth.AdminUsers...), identity, cfg.CORS.AllowedOrigins)
	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting", zap.String("addr", server.Addr), zap.String("store", cfg.Store.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	if scheduler != nil {
		scheduler.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	log.Info("server stopped")
}

type closableStore interface {
	tracker.TxStore
	io.Closer
}

func openStore(cfg config.StoreConfig) (closableStore, error) {
	switch cfg.Driver {
	case "postgres":
		return gormdb.OpenPostgres(cfg.DSN, cfg.MaxOpenConns)
	case "sqlite":
		return sqlite.New(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func newLogger(cfg config.LoggingConfig) (*logger.Logger, error) {
	if cfg.Mode == "console" {
		return logger.NewDevelopment(), nil
	}
	return logger.New(cfg.Level)
}
