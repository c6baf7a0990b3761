package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"membership_checkout/internal/config"
	"membership_checkout/internal/services"
)

func main() {
	orderID := flag.String("order", "", "Reconcile a single order by id")
	stale := flag.Bool("stale", false, "Reconcile all stale PENDING orders")
	olderThan := flag.Duration("older_than", 0, "Stale threshold (default: STALE_ORDER_AFTER)")
	limit := flag.Int("limit", 100, "Maximum stale orders to check")
	flush := flag.Bool("flush", false, "Flush deferred order inserts first")
	flag.Parse()

	if *orderID == "" && !*stale && !*flush {
		log.Fatal("Provide -order <id>, -stale or -flush")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := services.NewLogger(cfg.AppEnv)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	db, err := services.InitDB(cfg.DatabaseURL, true, logger)
	if err != nil {
		log.Fatalf("Failed to connect DB: %v", err)
	}

	backing := services.NewBacking(cfg, logger)
	defer backing.Close()

	gateway, err := services.NewGateway(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to create gateway: %v", err)
	}

	lifecycle := services.NewOrderLifecycle(
		services.NewGormCatalog(db, backing.Cache, time.Minute),
		gateway,
		services.NewGormOrderStore(db),
		backing.Idempotency,
		backing.Deferred,
		logger,
		services.LifecycleOptions{RetryAttempts: cfg.GatewayRetryAttempts},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if *flush {
		n, err := lifecycle.FlushDeferred(ctx, 1000)
		if err != nil {
			log.Printf("Flush stopped early: %v", err)
		}
		log.Printf("Flushed %d deferred orders", n)
	}

	if *orderID != "" {
		res, err := lifecycle.Reconcile(ctx, *orderID)
		if err != nil {
			log.Fatalf("Failed to reconcile order %s: %v", *orderID, err)
		}
		enc.Encode(map[string]interface{}{
			"order_id": res.Order.OrderID,
			"status":   res.Order.Status,
			"applied":  res.Applied,
		})
	}

	if *stale {
		threshold := *olderThan
		if threshold == 0 {
			threshold = cfg.StaleOrderAfter
		}
		summary, err := lifecycle.ReconcileStale(ctx, threshold, *limit)
		if err != nil {
			log.Fatalf("Stale reconcile failed: %v", err)
		}
		enc.Encode(summary)
	}
}
