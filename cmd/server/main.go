package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"aquabill/internal/app"
	"aquabill/internal/audit"
	"aquabill/internal/config"
	"aquabill/internal/gateway"
	"aquabill/internal/handler"
	"aquabill/internal/logging"
	"aquabill/internal/middleware"
	"aquabill/internal/repository/postgres"
	"aquabill/internal/service"
)

func main() {
	// Load configuration.
	cfg := config.Load()

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			logger.Warn("failed to initialize New Relic", zap.Error(err))
		} else {
			logger.Info("New Relic enabled", zap.String("app", cfg.NewRelic.AppName))
		}
	}

	db, err := app.NewDatabase(ctx, cfg.Database, nrApp)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := postgres.Migrate(ctx, db); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}
	logger.Info("connected to PostgreSQL", zap.String("db", cfg.Database.DBName))

	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, nrApp)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

	rates, err := config.LoadRates(cfg.RatesFile)
	if err != nil {
		logger.Fatal("failed to load conversion rates", zap.Error(err))
	}

	auditStore, err := audit.Open(ctx, cfg.Audit.Path)
	if err != nil {
		logger.Fatal("failed to open audit store", zap.Error(err))
	}
	defer auditStore.Close()

	server, poller := wireServer(db, redisClient, nrApp, rates, auditStore, cfg, logger)

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	if cfg.Poller.Enabled {
		go func() {
			if err := poller.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("poller stopped", zap.Error(err))
			}
		}()
	}

	// Start server in goroutine.
	go func() {
		logger.Info("starting server", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")
	stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}

	logger.Info("server exited")
}

// wireServer wires all dependencies and returns the HTTP server and the
// status poller.
func wireServer(
	db *sql.DB,
	redisClient *redis.Client,
	nrApp *newrelic.Application,
	rates *gateway.RateTable,
	auditStore *audit.Store,
	cfg *config.Config,
	logger *zap.Logger,
) (*http.Server, *service.Poller) {
	gateways := app.NewGateways(cfg.Providers, rates, logger)
	logger.Info("payment providers enabled", zap.Any("providers", gateways.Registry.Providers()))

	services := app.NewServices(db, redisClient, gateways, auditStore, cfg, logger)

	// Initialize handlers.
	webhookHandler := gateways.Bind(handler.NewWebhookHandler(services.Reconciler, cfg.Portal.ResultURL, logger))

	router := app.NewRouter(app.RouterDeps{
		PaymentHandler:   handler.NewPaymentHandler(services.Payments),
		InvoiceHandler:   handler.NewInvoiceHandler(services.Invoices),
		WebhookHandler:   webhookHandler,
		IdempotencyStore: middleware.NewRedisIdempotencyStore(redisClient),
		AllowedOrigins:   cfg.Portal.AllowedOrigins,
		NewRelicApp:      nrApp,
		Logger:           logger,
	})

	// Create HTTP server.
	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, services.Poller
}
