/*
main.go - Billing worker entry point

PURPOSE:

	Runs the monthly invoice pass against the SQLite store, either once or on
	the configured cron schedule.

STARTUP SEQUENCE:
 1. Parse command-line flags and load config (config.toml + RENT_* env)
 2. Build the logger
 3. Open the SQLite store (migrations run on open)
 4. Pick the invoice-number lock: Redis when enabled, else in-process
 5. Run once, or start the scheduler and wait for a signal

COMMAND-LINE FLAGS:

	-config  Path to a config file (default: ./config.toml if present)
	-db      Override database.path
	-once    Run a single billing pass and exit
	-month   Month to bill with -once, YYYY-MM (default: previous month)

GRACEFUL SHUTDOWN:

	On SIGINT/SIGTERM the running pass is cancelled, the scheduler waits for it
	to return, and the database is closed.

EXAMPLES:

	./billing-worker -once -month=2026-01
	RENT_REDIS_ENABLED=true ./billing-worker
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/warp/rent-billing/config"
	"github.com/warp/rent-billing/generic"
	"github.com/warp/rent-billing/locker"
	"github.com/warp/rent-billing/logging"
	"github.com/warp/rent-billing/rental"
	"github.com/warp/rent-billing/store/sqlite"
	"github.com/warp/rent-billing/worker"
)

func main() {
	configPath := flag.String("config", "", "config file path")
	dbPath := flag.String("db", "", "SQLite database path (overrides database.path)")
	once := flag.Bool("once", false, "run a single billing pass and exit")
	month := flag.String("month", "", "month to bill with -once (YYYY-MM)")
	flag.Parse()

	if err := run(*configPath, *dbPath, *once, *month); err != nil {
		fmt.Fprintf(os.Stderr, "billing-worker: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, dbPath string, once bool, month string) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}

	logger, err := logging.New(&logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck
	logger = logger.With(zap.String("app", cfg.App.Name), zap.String("env", cfg.App.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := sqlite.New(cfg.Database.Path, logger.Named("sqlite"))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	opts := rental.DefaultOptions()
	opts.Currency = cfg.App.Currency
	opts.DueDays = cfg.Billing.DueDays
	opts.PreviewIncludesBalance = cfg.Billing.IncludeBalance
	opts.SequenceRetries = cfg.Billing.SequenceRetries
	opts.Logger = logger

	if cfg.Redis.Enabled {
		rcfg := locker.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.LockTTL,
		}
		rdb, err := locker.DialRedis(ctx, rcfg)
		if err != nil {
			return err
		}
		defer rdb.Close()
		opts.Locker = locker.NewRedis(rdb, rcfg, logger.Named("locker"))
		logger.Info("Using redis invoice lock", zap.String("addr", cfg.Redis.Addr))
	}

	invoices := rental.NewInvoiceService(store, opts)
	scheduler := worker.NewBillingScheduler(store, invoices, logger)
	scheduler.Schedule = cfg.Billing.Schedule
	scheduler.Workers = cfg.Billing.Workers

	if once {
		var result worker.RunResult
		if month == "" {
			result = scheduler.RunNow(ctx)
		} else {
			ym, err := generic.ParseYearMonth(month)
			if err != nil {
				return err
			}
			result = scheduler.RunOnce(ctx, ym)
		}
		if result.Failed > 0 {
			return fmt.Errorf("%d of %d invoices failed for %s", result.Failed, result.Leases, result.Month)
		}
		return nil
	}

	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	logger.Info("Billing worker running", zap.String("db", cfg.Database.Path))

	<-ctx.Done()
	logger.Info("Shutting down billing worker...")
	scheduler.Stop()
	logger.Info("Billing worker stopped")
	return nil
}
