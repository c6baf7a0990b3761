package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"membership_checkout/internal/config"
	"membership_checkout/internal/handlers"
	authMiddleware "membership_checkout/internal/middleware"
	"membership_checkout/internal/models"
	"membership_checkout/internal/services"
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

	authClient, err := services.InitFirebase(ctx, cfg.FirebaseCredentialsPath)
	if err != nil {
		logger.Warn("Firebase initialization failed; authenticated routes will reject requests", zap.Error(err))
	}
	var verifier services.TokenVerifier
	if authClient != nil {
		verifier = authClient
	}

	db, err := services.InitDB(cfg.DatabaseURL, cfg.IsProduction(), logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := services.AutoMigrate(db, logger); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}
	if err := services.SeedPackages(db, defaultPackages(cfg.DefaultCurrency)); err != nil {
		logger.Fatal("Failed to seed packages", zap.Error(err))
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

	var midtransVerifier handlers.SignatureVerifier
	if mg, ok := gateway.(*services.MidtransGateway); ok {
		midtransVerifier = mg
	}

	orderHandler := handlers.NewOrderHandler(lifecycle)
	webhookHandler := handlers.NewWebhookHandler(
		lifecycle,
		services.NewGormCallbackRecorder(db),
		cfg.StripeWebhookSecret,
		midtransVerifier,
		logger.Named("webhooks"),
	)
	authHandler := handlers.NewAuthHandler(verifier, cfg.IsProduction())

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = authMiddleware.NewErrorHandler(logger)

	e.Use(echomw.RequestID())
	e.Use(authMiddleware.RequestLogger(logger))
	e.Use(echomw.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	e.POST("/auth/login", authHandler.HandleLogin)
	e.POST("/auth/logout", authHandler.HandleLogout)

	e.POST("/webhooks/stripe", webhookHandler.StripeWebhook)
	e.POST("/webhooks/midtrans", webhookHandler.MidtransWebhook)

	api := e.Group("/api")
	api.Use(authMiddleware.RequireAuth(verifier))
	api.POST("/payment-intent", orderHandler.CreatePaymentIntent)
	api.POST("/payment-status", orderHandler.ReportPaymentStatus)
	api.GET("/reconcile/:orderId", orderHandler.ReconcileOrder)
	api.GET("/orders/:id", orderHandler.GetOrder)

	go flushDeferredLoop(ctx, lifecycle, cfg.DeferredFlushInterval, logger)

	go func() {
		logger.Info("Server starting", zap.String("port", cfg.Port), zap.String("gateway", cfg.GatewayProvider))
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}

	finalFlush(lifecycle, 10*time.Second, logger)
}

type deferredFlusher interface {
	FlushDeferred(ctx context.Context, max int) (int, error)
}

// finalFlush gives orders that are only held in memory one last insert attempt.
// It gets its own budget, independent of the HTTP shutdown.
func finalFlush(f deferredFlusher, timeout time.Duration, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	n, err := f.FlushDeferred(ctx, 1000)
	if err != nil {
		logger.Error("Final deferred flush incomplete", zap.Int("flushed", n), zap.Error(err))
		return
	}
	if n > 0 {
		logger.Info("Final deferred flush", zap.Int("flushed", n))
	}
}

func flushDeferredLoop(ctx context.Context, lifecycle *services.OrderLifecycle, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := lifecycle.FlushDeferred(ctx, 50)
			if err != nil {
				logger.Warn("Deferred order flush incomplete", zap.Int("flushed", n), zap.Error(err))
			}
		}
	}
}

func defaultPackages(currency string) []models.Package {
	pkgs := make([]models.Package, len(services.DefaultPackages))
	copy(pkgs, services.DefaultPackages)
	for i := range pkgs {
		pkgs[i].Currency = currency
	}
	return pkgs
}
