package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leaflabhq/leaflab-backend/api/controllers"
	billingcontrollers "github.com/leaflabhq/leaflab-backend/api/controllers/billing"
	webhookcontrollers "github.com/leaflabhq/leaflab-backend/api/controllers/webhooks"
	"github.com/leaflabhq/leaflab-backend/api/middleware"
	stripewebhook "github.com/leaflabhq/leaflab-backend/internal/webhooks/stripe"
	"github.com/leaflabhq/leaflab-backend/pkg/config"
	"github.com/leaflabhq/leaflab-backend/pkg/db"
	"github.com/leaflabhq/leaflab-backend/pkg/enums"
	"github.com/leaflabhq/leaflab-backend/pkg/logger"
	pkgmetrics "github.com/leaflabhq/leaflab-backend/pkg/metrics"
	"github.com/leaflabhq/leaflab-backend/pkg/redis"
	"github.com/leaflabhq/leaflab-backend/pkg/stripe"
)

// billingService is everything the public catalog and the admin audit
// endpoints need from internal/billing.
type billingService interface {
	billingcontrollers.PlanCatalogService
	controllers.BillingAuditService
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	usageService controllers.UsageService,
	billingSvc billingService,
	stripeClient *stripe.Client,
	stripeWebhookService webhookcontrollers.StripeWebhookService,
	stripeWebhookGuard *stripewebhook.IdempotencyGuard,
	webhookMetrics *pkgmetrics.WebhookMetrics,
	metricsGatherer prometheus.Gatherer,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	// A nil *redis.Client stuffed into an interface would dodge the nil
	// checks downstream, so convert only when the client exists.
	var cachePinger controllers.Pinger
	var idempotencyStore redis.IdempotencyStore
	if redisClient != nil {
		cachePinger = redisClient
		idempotencyStore = redisClient
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, dbP, cachePinger, logg))
	})

	if metricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metricsGatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/public", func(r chi.Router) {
		r.Use(middleware.AppCORS())
		r.Get("/ping", controllers.PublicPing())
	})

	r.Route("/api/v1/billing", func(r chi.Router) {
		r.Use(middleware.AppCORS())
		r.Get("/plans", billingcontrollers.PublicPlans(billingSvc, logg))
	})

	// Provider callbacks, not browser traffic: no origin restrictions here.
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Use(middleware.WebhookCORS())
		r.Post("/stripe", webhookcontrollers.StripeWebhook(stripeWebhookService, stripeClient, stripeWebhookGuard, webhookMetrics, logg))
	})

	r.Route("/api/v1/account", func(r chi.Router) {
		r.Use(middleware.AppCORS())
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Get("/ping", controllers.PrivatePing())
		r.Get("/entitlements", controllers.AccountEntitlements(usageService, logg))
		r.With(middleware.Idempotency(idempotencyStore, logg)).
			Post("/generations", controllers.AccountConsumeGeneration(usageService, logg))
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.AppCORS())
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(enums.SystemRoleAdmin, logg))
		r.Get("/ping", controllers.PrivatePing())
		r.Route("/v1/billing", func(r chi.Router) {
			r.Get("/webhook-events", controllers.AdminWebhookEvents(billingSvc, logg))
			r.Post("/webhook-events/{eventId}/replay", controllers.AdminWebhookEventReplay(billingSvc, stripeWebhookService, logg))
			r.Get("/events", controllers.AdminBillingEvents(billingSvc, logg))
		})
	})

	return r
}
