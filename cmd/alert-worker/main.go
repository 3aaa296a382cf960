package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"fintrack/internal/amqp"
	"fintrack/internal/config"
	"fintrack/internal/log"
	"fintrack/internal/services"
	"fintrack/internal/storage"
	"fintrack/internal/worker"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()

	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Component: log.ComponentAlerts,
	})
	log.SetDefault(logger)

	logger.Info("Starting budget alert worker", "threshold_pct", cfg.BudgetAlertThresholdPct)

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the alert worker")
		os.Exit(1)
	}

	repo, err := storage.New(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to open ledger store", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	events, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer events.Close()

	aggregator := services.NewAggregator(repo)
	alerts := worker.NewAlertWorker(repo, aggregator, nil, cfg.BudgetAlertThresholdPct)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	logger.Info("Waiting for transaction events", "queue", cfg.AMQPQueue)
	if err := alerts.Run(ctx, events); err != nil && err != context.Canceled {
		logger.Error("Alert worker error", "error", err)
		os.Exit(1)
	}

	logger.Info("Alert worker stopped gracefully")
}
