package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"membership_checkout/internal/config"
	"membership_checkout/internal/services"
	"membership_checkout/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := services.NewLogger(cfg.AppEnv)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := services.InitDB(cfg.DatabaseURL, cfg.IsProduction(), logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}

	backing := services.NewBacking(cfg, logger)
	defer backing.Close()

	gateway, err := services.NewGateway(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create payment gateway", zap.Error(err))
	}

	store := services.NewGormOrderStore(db)
	lifecycle := services.NewOrderLifecycle(
		services.NewGormCatalog(db, backing.Cache, 10*time.Minute),
		gateway,
		store,
		backing.Idempotency,
		backing.Deferred,
		logger.Named("orders"),
		services.LifecycleOptions{
			RetryAttempts:  cfg.GatewayRetryAttempts,
			IdempotencyTTL: cfg.IdempotencyTTL,
		},
	)

	registry := tasks.NewRegistry()
	tasks.DefineTasks(registry, tasks.Deps{
		Orders:      lifecycle,
		Finder:      store,
		Mailer:      services.NewEmailService(cfg),
		StaleAfter:  cfg.StaleOrderAfter,
		Logger:      logger.Named("tasks"),
		SharedQueue: backing.Cache != nil,
	})
	if backing.Cache == nil {
		logger.Warn("REDIS_URL not set; flush_deferred_orders is skipped in the worker and the server flushes its own queue")
	}

	for _, rt := range tasks.RecurringTasks {
		created, err := tasks.EnsureRecurring(ctx, db, rt.Name, rt.Rule, map[string]interface{}{}, time.Now())
		if err != nil {
			logger.Error("Failed to ensure recurring task", zap.String("task", rt.Name), zap.Error(err))
			continue
		}
		if created {
			logger.Info("Recurring task scheduled", zap.String("task", rt.Name), zap.String("rule", rt.Rule))
		}
	}

	runner := tasks.NewRunner(db, registry, logger.Named("runner"))

	interval := cfg.WorkerPollInterval
	if interval <= 0 {
		interval = time.Minute
	}
	logger.Info("Worker started", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runOnce(ctx, runner, logger)
	for {
		select {
		case <-ticker.C:
			runOnce(ctx, runner, logger)
		case <-ctx.Done():
			logger.Info("Shutting down worker...")
			return
		}
	}
}

func runOnce(ctx context.Context, runner *tasks.Runner, logger *zap.Logger) {
	if _, err := runner.ProcessDue(ctx); err != nil && ctx.Err() == nil {
		logger.Error("Error processing scheduled tasks", zap.Error(err))
	}
}
