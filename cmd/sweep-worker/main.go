package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"fintrack/internal/config"
	"fintrack/internal/log"
	"fintrack/internal/services"
	"fintrack/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()

	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Component: log.ComponentSweeper,
	})
	log.SetDefault(logger)

	logger.Info("Starting sweep worker",
		"sweep_interval", cfg.SweepInterval.String(),
		"drift_check_interval", cfg.DriftCheckInterval.String(),
		"max_catch_up", cfg.SweepMaxCatchUp)

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.New(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to open ledger store", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	reconciler := services.NewReconciler(repo, cfg.DriftToleranceCents)
	// The worker materializes occurrences directly, no event stream.
	transactions := services.NewTransactionService(repo, reconciler, nil, services.Options{
		RetryAttempts: cfg.LockRetryAttempts,
		RetryBackoff:  cfg.LockRetryBackoff,
		StoreTimeout:  cfg.StoreTimeout,
	})
	scheduler := services.NewScheduler(repo, transactions, cfg.SweepMaxCatchUp)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		runSweep(ctx, logger, scheduler)

		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				runSweep(ctx, logger, scheduler)
			}
		}
	})

	g.Go(func() error {
		driftLogger := logger.WithComponent(log.ComponentReconciler)
		runDriftCheck(ctx, driftLogger, repo, reconciler)

		ticker := time.NewTicker(cfg.DriftCheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				runDriftCheck(ctx, driftLogger, repo, reconciler)
			}
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("Worker error", "error", err)
		os.Exit(1)
	}

	logger.Info("Sweep worker stopped gracefully")
}

func runSweep(ctx context.Context, logger *log.Logger, scheduler *services.Scheduler) {
	start := time.Now()
	created, err := scheduler.Sweep(ctx, start)
	if err != nil {
		logger.ErrorContext(ctx, "Sweep failed", log.FieldOperation, log.OpSweep, "error", err)
		return
	}
	logger.InfoContext(ctx, "Sweep completed",
		log.FieldOperation, log.OpSweep,
		"occurrences_created", created,
		log.FieldDuration, time.Since(start).Milliseconds())
}

func runDriftCheck(ctx context.Context, logger *log.Logger, repo *storage.Repository, reconciler *services.Reconciler) {
	accountIDs, err := repo.ListAccountIDs(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to list accounts for drift check", "error", err)
		return
	}

	repairs := 0
	for _, id := range accountIDs {
		drift, repaired, err := reconciler.CheckDrift(ctx, id)
		if err != nil {
			logger.ErrorContext(ctx, "Drift check failed",
				log.FieldOperation, log.OpReconcile,
				log.FieldAccountID, id,
				"error", err)
			continue
		}
		if repaired {
			repairs++
			logger.WarnContext(ctx, "Balance drift repaired",
				log.FieldOperation, log.OpReconcile,
				log.FieldAccountID, id,
				log.FieldDriftCents, drift)
		}
	}

	logger.InfoContext(ctx, "Drift check completed",
		log.FieldOperation, log.OpReconcile,
		"accounts_checked", len(accountIDs),
		"repairs", repairs)
}
