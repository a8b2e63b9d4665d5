package stripewebhook

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/leaflabhq/leaflab-backend/internal/billing"
	"github.com/leaflabhq/leaflab-backend/internal/entitlements"
	"github.com/leaflabhq/leaflab-backend/internal/subscriptions"
	"github.com/leaflabhq/leaflab-backend/pkg/db/models"
	"github.com/leaflabhq/leaflab-backend/pkg/enums"
	pkgerrors "github.com/leaflabhq/leaflab-backend/pkg/errors"
	"github.com/leaflabhq/leaflab-backend/pkg/logger"
	"github.com/leaflabhq/leaflab-backend/pkg/outbox"
)

type userRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error)
	SetStripeCustomerID(ctx context.Context, id uuid.UUID, customerID string) error
}

type entitlementReconciler interface {
	Reconcile(ctx context.Context, params entitlements.ReconcileParams) (entitlements.ApplyOutcome, error)
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	BillingRepo       billing.Repository
	Users             userRepository
	Entitlements      entitlementReconciler
	StripeClient      subscriptions.StripeSubscriptionClient
	Outbox            outboxEmitter
	TransactionRunner txRunner
	Logger            *logger.Logger
}

// Service reconciles Stripe billing events into local subscription,
// entitlement and audit state. Every handler is idempotent: Stripe delivers
// at-least-once and may redeliver concurrently.
type Service struct {
	billingRepo  billing.Repository
	users        userRepository
	entitlements entitlementReconciler
	stripe       subscriptions.StripeSubscriptionClient
	outbox       outboxEmitter
	txRunner     txRunner
	logg         *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.BillingRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing repo required")
	}
	if params.Users == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "users repo required")
	}
	if params.Entitlements == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "entitlements service required")
	}
	if params.StripeClient == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox service required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		billingRepo:  params.BillingRepo,
		users:        params.Users,
		entitlements: params.Entitlements,
		stripe:       params.StripeClient,
		outbox:       params.Outbox,
		txRunner:     params.TransactionRunner,
		logg:         params.Logger,
	}, nil
}

// RecordEvent appends the verified event to the durable audit log before any
// handler runs. The insert is idempotent on the provider event id; the bool
// reports whether this delivery was the first one seen.
func (s *Service) RecordEvent(ctx context.Context, event *stripe.Event, payload []byte) (bool, error) {
	if event == nil || event.ID == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "stripe event id required")
	}
	if len(payload) == 0 {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "stripe event payload required")
	}

	record := &models.WebhookEvent{
		ID:                uuid.New(),
		StripeEventID:     event.ID,
		EventType:         string(event.Type),
		EventCategory:     eventCategory(string(event.Type)),
		Livemode:          event.Livemode,
		ProviderCreatedAt: time.Unix(event.Created, 0).UTC(),
		Payload:           json.RawMessage(payload),
	}
	inserted, err := s.billingRepo.InsertWebhookEvent(ctx, record)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist webhook event")
	}
	return inserted, nil
}

// HandleEvent dispatches a verified event to exactly one handler. Kinds
// outside the closed set are acknowledged without side effects so Stripe does
// not redeliver them forever.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	eventAt := time.Unix(event.Created, 0).UTC()
	ctx = s.logg.WithFields(ctx, map[string]any{
		"stripe_event_id": event.ID,
		"event_type":      string(event.Type),
	})

	switch event.Type {
	case stripe.EventTypeCustomerSubscriptionCreated:
		stripeSub, err := decodeSubscription(event)
		if err != nil {
			return err
		}
		return s.handleSubscriptionCreated(ctx, stripeSub, eventAt)
	case stripe.EventTypeCustomerSubscriptionUpdated:
		stripeSub, err := decodeSubscription(event)
		if err != nil {
			return err
		}
		return s.handleSubscriptionUpdated(ctx, stripeSub, eventAt)
	case stripe.EventTypeCustomerSubscriptionDeleted:
		stripeSub, err := decodeSubscription(event)
		if err != nil {
			return err
		}
		return s.handleSubscriptionDeleted(ctx, stripeSub, eventAt)
	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode checkout session event")
		}
		return s.handleCheckoutCompleted(ctx, &session, eventAt)
	case stripe.EventTypeInvoicePaymentSucceeded:
		return s.handleInvoice(ctx, event, enums.BillingEventPaymentSucceeded, eventAt)
	case stripe.EventTypeInvoicePaymentFailed:
		return s.handleInvoice(ctx, event, enums.BillingEventPaymentFailed, eventAt)
	default:
		s.logg.Info(ctx, "ignoring unhandled stripe event type")
		return nil
	}
}

// IsHandledEventType reports whether the dispatcher has a handler for the
// kind. Anything else is acknowledged and logged only.
func IsHandledEventType(eventType stripe.EventType) bool {
	switch eventType {
	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted,
		stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeInvoicePaymentSucceeded,
		stripe.EventTypeInvoicePaymentFailed:
		return true
	default:
		return false
	}
}

func decodeSubscription(event *stripe.Event) (*stripe.Subscription, error) {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode subscription event")
	}
	if stripeSub.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription id missing from event")
	}
	return &stripeSub, nil
}

// eventCategory strips the final segment from a Stripe event type, e.g.
// customer.subscription.created -> customer.subscription.
func eventCategory(eventType string) string {
	if idx := strings.LastIndex(eventType, "."); idx > 0 {
		return eventType[:idx]
	}
	return eventType
}
