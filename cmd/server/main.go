/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the gold ownership and cost accounting server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load .env and environment
  2. Build the zap logger
  3. Open the store (memory, sqlite or postgres)
  4. Connect Redis when REDIS_ADDR is set (locks, rate cache, alert feed)
  5. Build the karat rate provider (HTTP source or static table)
  6. Wire the gold services, scheduler and HTTP router
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -env     Path to an env file (default: .env, optional)
  -port    HTTP server port, overrides APP_PORT

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler, waiting for a running job
  4. Close Redis and the database
  5. Exit

EXAMPLES:
  # SQLite file database
  DATABASE_URL=./data/gold.db ./server

  # In-memory store
  DATABASE_DRIVER=memory ./server -port=3000

  # PostgreSQL with Redis
  DATABASE_DRIVER=postgres DATABASE_URL=postgres://... REDIS_ADDR=localhost:6379 ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/gold-engine/api"
	"github.com/warp/gold-engine/config"
	"github.com/warp/gold-engine/feed"
	"github.com/warp/gold-engine/gold"
	memstore "github.com/warp/gold-engine/gold/store"
	"github.com/warp/gold-engine/lock"
	"github.com/warp/gold-engine/pkg/logger"
	"github.com/warp/gold-engine/rates"
	"github.com/warp/gold-engine/scheduler"
	"github.com/warp/gold-engine/store/sqlstore"
)

const defaultStaticRates = "18k=80,21k=100,22k=105,24k=115"

// txStore is what the server needs from a store.
type txStore interface {
	gold.TxStore
	api.Resetter
}

func main() {
	envFile := flag.String("env", "", "Path to env file")
	port := flag.String("port", "", "HTTP server port (overrides APP_PORT)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}

	log := logger.Must(logger.New(cfg.LogLevel))
	defer log.Sync()

	ctx := context.Background()

	store, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		log.Fatal("failed to initialize store", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	defer closeStore()

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatal("failed to connect to redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		defer rdb.Close()
		log.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
	}

	// Locking: process-local unless Redis is shared between instances.
	var locker gold.KeyLocker = gold.NewLocalLocker(cfg.Concurrency.LockTimeout)
	if rdb != nil {
		locker = lock.NewRedisLocker(rdb, cfg.Concurrency.LockTimeout, logger.Named(log, "lock"))
	}
	retry := gold.DefaultRetryPolicy
	retry.MaxAttempts = cfg.Concurrency.MaxRetryAttempts
	exec := gold.NewExecutor(store, locker, retry, logger.Named(log, "executor"))

	rateProvider, err := buildRates(cfg.Rates, rdb, log)
	if err != nil {
		log.Fatal("failed to build rate provider", zap.Error(err))
	}

	var alertFeed gold.AlertFeed = gold.NewMemoryFeed(0)
	if rdb != nil {
		alertFeed = feed.NewRedisFeed(rdb, 0)
	}

	// TODO: replace StaticInventory with the inventory service client once its API is published.
	inventory := gold.NewStaticInventory()

	tracker := gold.NewOwnershipTracker(exec, inventory, gold.SystemClock, logger.Named(log, "ownership"))
	tracker.LowOwnershipThreshold = cfg.Jobs.AlertThreshold
	alerts := gold.NewAlertGenerator(store, alertFeed, gold.SystemClock, logger.Named(log, "alerts"))
	alerts.Threshold = cfg.Jobs.AlertThreshold
	consolidation := gold.NewConsolidationService(exec, gold.SystemClock, logger.Named(log, "consolidation"))

	services := api.Services{
		Ownership:     tracker,
		Costing:       gold.NewCostingEngine(store),
		CostLedger:    gold.NewCostLedger(exec, gold.SystemClock, logger.Named(log, "costing")),
		Gold:          gold.NewGoldBalanceLedger(exec, rateProvider, gold.SystemClock, logger.Named(log, "gold")),
		Consolidation: consolidation,
		Alerts:        alerts,
		Reset:         store,
	}

	sched := scheduler.New(alerts, consolidation, logger.Named(log, "scheduler"))
	if err := sched.Schedule(cfg.Jobs.AlertCron, cfg.Jobs.ConsolidationCron); err != nil {
		log.Fatal("failed to schedule jobs", zap.Error(err))
	}
	sched.Start()

	handler := api.NewHandler(services, sched, logger.Named(log, "http"))
	router := api.NewRouter(handler, cfg.Server.AllowedOrigins)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting",
			zap.String("addr", server.Addr),
			zap.String("store", cfg.Database.Driver),
			zap.Bool("redis", rdb != nil))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	sched.Stop()

	log.Info("server stopped")
}

func openStore(ctx context.Context, db config.DatabaseConfig) (txStore, func(), error) {
	switch db.Driver {
	case "memory":
		return memstore.NewMemory(), func() {}, nil
	case "sqlite":
		if dir := filepath.Dir(db.URL); db.URL != ":memory:" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		s, err := sqlstore.OpenSQLite(db.URL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	case "postgres":
		s, err := sqlstore.OpenPostgres(ctx, db.URL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", db.Driver)
	}
}

// buildRates picks the HTTP rate source when configured, else a static
// table. With Redis the HTTP source is cached.
func buildRates(cfg config.RatesConfig, rdb *redis.Client, log *zap.Logger) (gold.KaratRateProvider, error) {
	if cfg.SourceURL != "" {
		var p gold.KaratRateProvider = rates.NewHTTPProvider(cfg.SourceURL, 10*time.Second)
		if rdb != nil {
			p = rates.NewCachedProvider(p, rates.NewRedisCache(rdb), cfg.CacheTTL, gold.SystemClock, logger.Named(log, "rates"))
		}
		log.Info("using HTTP karat rates", zap.String("url", cfg.SourceURL), zap.Bool("cached", rdb != nil))
		return p, nil
	}

	spec := cfg.Static
	if spec == "" {
		log.Warn("no rate source configured, using default static rates", zap.String("rates", defaultStaticRates))
		spec = defaultStaticRates
	}
	static, err := rates.ParseStatic(spec)
	if err != nil {
		return nil, err
	}
	return static, nil
}
