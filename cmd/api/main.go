package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/leaflabhq/leaflab-backend/api/routes"
	"github.com/leaflabhq/leaflab-backend/internal/billing"
	"github.com/leaflabhq/leaflab-backend/internal/entitlements"
	"github.com/leaflabhq/leaflab-backend/internal/subscriptions"
	"github.com/leaflabhq/leaflab-backend/internal/usage"
	"github.com/leaflabhq/leaflab-backend/internal/users"
	stripewebhook "github.com/leaflabhq/leaflab-backend/internal/webhooks/stripe"
	"github.com/leaflabhq/leaflab-backend/pkg/config"
	"github.com/leaflabhq/leaflab-backend/pkg/db"
	"github.com/leaflabhq/leaflab-backend/pkg/logger"
	"github.com/leaflabhq/leaflab-backend/pkg/metrics"
	"github.com/leaflabhq/leaflab-backend/pkg/migrate"
	"github.com/leaflabhq/leaflab-backend/pkg/outbox"
	"github.com/leaflabhq/leaflab-backend/pkg/redis"
	"github.com/leaflabhq/leaflab-backend/pkg/stripe"
)

const (
	// Stripe redelivers failed events for up to three days; the claim must
	// outlive that window or a redelivery races the durable log.
	stripeWebhookClaimTTL = 72 * time.Hour
	stripeWebhookScope    = "stripe-webhook"

	shutdownTimeout = 15 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	usersRepo := users.NewRepository(dbClient.DB())
	billingRepo := billing.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	entitlementService, err := entitlements.NewService(entitlements.ServiceParams{
		Users:  usersRepo,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create entitlement service", err)
		os.Exit(1)
	}

	usageService, err := usage.NewService(usage.ServiceParams{
		Users:  usersRepo,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create usage service", err)
		os.Exit(1)
	}

	billingService, err := billing.NewService(billing.ServiceParams{Repo: billingRepo})
	if err != nil {
		logg.Error(context.Background(), "failed to create billing service", err)
		os.Exit(1)
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		BillingRepo:       billingRepo,
		Users:             usersRepo,
		Entitlements:      entitlementService,
		StripeClient:      subscriptions.NewStripeClient(stripeClient),
		Outbox:            outboxService,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook service", err)
		os.Exit(1)
	}

	webhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, stripeWebhookClaimTTL, stripeWebhookScope)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook idempotency guard", err)
		os.Exit(1)
	}

	webhookMetrics := metrics.NewWebhookMetrics(prometheus.DefaultRegisterer)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			usageService,
			billingService,
			stripeClient,
			webhookService,
			webhookGuard,
			webhookMetrics,
			prometheus.DefaultGatherer,
		),
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown error", err)
			os.Exit(1)
		}
	}

	logg.Info(ctx, "api server shutting down gracefully")
}
