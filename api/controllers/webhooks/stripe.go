package webhooks

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/leaflabhq/leaflab-backend/api/responses"
	stripewebhook "github.com/leaflabhq/leaflab-backend/internal/webhooks/stripe"
	pkgerrors "github.com/leaflabhq/leaflab-backend/pkg/errors"
	"github.com/leaflabhq/leaflab-backend/pkg/logger"
	pkgmetrics "github.com/leaflabhq/leaflab-backend/pkg/metrics"
)

type StripeWebhookService interface {
	RecordEvent(ctx context.Context, event *stripe.Event, payload []byte) (bool, error)
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

type stripeWebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type stripeClient interface {
	SigningSecret() string
}

// StripeWebhook verifies, records and dispatches Stripe billing events.
// Success and intentionally-ignored kinds return 200; verification failures
// return 4xx; store failures return 5xx so Stripe redelivers.
func StripeWebhook(svc StripeWebhookService, client stripeClient, guard stripeWebhookGuard, metrics *pkgmetrics.WebhookMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if client == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe client unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			metrics.IncReceived("", pkgmetrics.WebhookOutcomeRejected)
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing"))
			return
		}

		event, err := webhook.ConstructEvent(payload, sigHeader, client.SigningSecret())
		if err != nil {
			metrics.IncReceived("", pkgmetrics.WebhookOutcomeRejected)
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "verify signature"))
			return
		}
		eventType := string(event.Type)

		alreadyProcessed, err := guard.CheckAndMark(ctx, event.ID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if alreadyProcessed {
			metrics.IncReceived(eventType, pkgmetrics.WebhookOutcomeDuplicate)
			responses.WriteSuccess(w, nil)
			return
		}

		inserted, err := svc.RecordEvent(ctx, &event, payload)
		if err != nil {
			// Release the guard: the audit row is missing, so the
			// redelivery must reach the store again.
			_ = guard.Delete(ctx, event.ID)
			metrics.IncReceived(eventType, pkgmetrics.WebhookOutcomeFailed)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		started := time.Now()
		handleErr := svc.HandleEvent(ctx, &event)
		metrics.ObserveHandlerDuration(eventType, time.Since(started))
		if handleErr != nil {
			_ = guard.Delete(ctx, event.ID)
			metrics.IncReceived(eventType, pkgmetrics.WebhookOutcomeFailed)
			responses.WriteError(ctx, logg, w, handleErr)
			return
		}

		outcome := pkgmetrics.WebhookOutcomeProcessed
		if !stripewebhook.IsHandledEventType(event.Type) {
			outcome = pkgmetrics.WebhookOutcomeIgnored
		}
		metrics.IncReceived(eventType, outcome)

		if logg != nil {
			msg := fmt.Sprintf("stripe event %s processed", event.ID)
			if !inserted {
				msg = fmt.Sprintf("stripe event %s reprocessed", event.ID)
			}
			logg.Info(ctx, msg)
		}
		responses.WriteSuccess(w, nil)
	}
}
