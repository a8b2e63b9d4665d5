package stripewebhook

import (
	"context"
	"errors"
	"time"

	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/leaflabhq/leaflab-backend/internal/entitlements"
	"github.com/leaflabhq/leaflab-backend/internal/subscriptions"
	"github.com/leaflabhq/leaflab-backend/pkg/db/models"
	"github.com/leaflabhq/leaflab-backend/pkg/enums"
	pkgerrors "github.com/leaflabhq/leaflab-backend/pkg/errors"
	"github.com/leaflabhq/leaflab-backend/pkg/outbox"
	"github.com/leaflabhq/leaflab-backend/pkg/outbox/payloads"
)

// handleSubscriptionCreated mirrors a new provider subscription locally and
// grants the matching entitlement. User resolution failure is fatal to the
// handler so Stripe redelivers until the linkage is fixed.
func (s *Service) handleSubscriptionCreated(ctx context.Context, stripeSub *stripe.Subscription, eventAt time.Time) error {
	ctx = s.logg.WithField(ctx, "stripe_subscription_id", stripeSub.ID)

	user, err := s.resolveSubscriptionUser(ctx, stripeSub)
	if err != nil {
		return err
	}
	if user == nil {
		resolutionErr := pkgerrors.New(pkgerrors.CodeInternal, "subscription user resolution failed")
		s.logg.Error(ctx, "no local user resolves subscription ownership; manual follow-up required", resolutionErr)
		return resolutionErr
	}
	ctx = s.logg.WithUserID(ctx, user.ID.String())

	built, err := subscriptions.BuildSubscriptionFromStripe(stripeSub, &user.ID, &eventAt, nil)
	if err != nil {
		return err
	}

	var stale bool
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		stored, err := repo.FindSubscriptionByStripeID(ctx, stripeSub.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
		}
		if isStaleEvent(stored, eventAt) {
			stale = true
			return nil
		}
		if err := repo.UpsertSubscription(ctx, built); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert subscription")
		}
		return nil
	})
	if err != nil {
		return err
	}
	if stale {
		s.logg.Info(ctx, "skipping stale subscription created event")
		return nil
	}

	s.backfillStripeCustomerID(ctx, user, subscriptionCustomerID(stripeSub))

	item := subscriptions.ItemFromSubscription(stripeSub)
	s.applyEntitlement(ctx, user, built.Status, item.AmountCents, stripeSub.ID, string(stripe.EventTypeCustomerSubscriptionCreated))
	return nil
}

// handleSubscriptionUpdated merges status, period bounds, cancel flags,
// metadata and lifecycle timestamps onto the stored row. Entitlements are
// untouched here; plan changes flow through created and checkout only.
func (s *Service) handleSubscriptionUpdated(ctx context.Context, stripeSub *stripe.Subscription, eventAt time.Time) error {
	ctx = s.logg.WithField(ctx, "stripe_subscription_id", stripeSub.ID)

	var missing, stale bool
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		stored, err := repo.FindSubscriptionByStripeID(ctx, stripeSub.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
		}
		if stored == nil {
			missing = true
			return nil
		}
		if isStaleEvent(stored, eventAt) {
			stale = true
			return nil
		}
		if err := subscriptions.ApplySubscriptionUpdate(stored, stripeSub, &eventAt); err != nil {
			return err
		}
		if err := repo.UpdateSubscription(ctx, stored); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update subscription")
		}
		return nil
	})
	if err != nil {
		return err
	}
	if missing {
		// Out-of-order delivery: the created event has not landed yet.
		s.logg.Warn(ctx, "subscription update for unknown subscription; skipping")
		return nil
	}
	if stale {
		s.logg.Info(ctx, "skipping stale subscription updated event")
	}
	return nil
}

// handleSubscriptionDeleted marks the row canceled (never deletes it), queues
// the cancellation notice, and downgrades the user named by metadata email.
func (s *Service) handleSubscriptionDeleted(ctx context.Context, stripeSub *stripe.Subscription, eventAt time.Time) error {
	ctx = s.logg.WithField(ctx, "stripe_subscription_id", stripeSub.ID)

	var missing, stale bool
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		stored, err := repo.FindSubscriptionByStripeID(ctx, stripeSub.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
		}
		if stored == nil {
			missing = true
			return nil
		}
		if isStaleEvent(stored, eventAt) {
			stale = true
			return nil
		}

		canceledAt := eventAt
		if stripeSub.CanceledAt != 0 {
			canceledAt = time.Unix(stripeSub.CanceledAt, 0).UTC()
		}
		stored.Status = enums.SubscriptionStatusCanceled
		stored.CancelAtPeriodEnd = stripeSub.CancelAtPeriodEnd
		stored.CanceledAt = &canceledAt
		if stripeSub.EndedAt != 0 {
			endedAt := time.Unix(stripeSub.EndedAt, 0).UTC()
			stored.EndedAt = &endedAt
		}
		stored.LastEventAt = &eventAt
		if err := repo.UpdateSubscription(ctx, stored); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel subscription")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSubscriptionCanceled,
			AggregateType: enums.AggregateSubscription,
			AggregateID:   stored.ID,
			Data: payloads.SubscriptionCanceledEvent{
				SubscriptionID:       stored.ID,
				UserID:               stored.UserID,
				StripeSubscriptionID: stored.StripeSubscriptionID,
				CanceledAt:           canceledAt,
				EndedAt:              stored.EndedAt,
			},
			OccurredAt: eventAt,
		})
	})
	if err != nil {
		return err
	}
	if missing {
		s.logg.Warn(ctx, "subscription delete for unknown subscription; skipping")
		return nil
	}
	if stale {
		s.logg.Info(ctx, "skipping stale subscription deleted event")
		return nil
	}

	s.downgradeCanceledUser(ctx, stripeSub)
	return nil
}

// resolveSubscriptionUser maps a provider subscription to a local user:
// metadata user_id first, then an existing customer linkage, then the
// customer's email fetched from Stripe.
func (s *Service) resolveSubscriptionUser(ctx context.Context, stripeSub *stripe.Subscription) (*models.User, error) {
	userID, err := subscriptions.UserIDFromMetadata(stripeSub.Metadata)
	if err != nil {
		warnCtx := s.logg.WithField(ctx, "error", err.Error())
		s.logg.Warn(warnCtx, "malformed user_id metadata on subscription")
	}
	if userID != nil {
		user, err := s.users.FindByID(ctx, *userID)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find user by id")
		}
		warnCtx := s.logg.WithField(ctx, "metadata_user_id", userID.String())
		s.logg.Warn(warnCtx, "metadata user_id matches no local user")
	}

	customerID := subscriptionCustomerID(stripeSub)
	if customerID == "" {
		return nil, nil
	}

	user, err := s.users.FindByStripeCustomerID(ctx, customerID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find user by stripe customer")
	}

	customer, err := s.stripe.GetCustomer(ctx, customerID, &stripe.CustomerParams{})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe customer")
	}
	if customer == nil || customer.Email == "" {
		return nil, nil
	}
	user, err = s.users.FindByEmail(ctx, customer.Email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find user by email")
	}
	return nil, nil
}

// downgradeCanceledUser clears the plan for the user named by the event's
// metadata email. Checkout stamps the email there so cancellations can reach
// the entitlement even when the subscription row lost its user linkage.
func (s *Service) downgradeCanceledUser(ctx context.Context, stripeSub *stripe.Subscription) {
	email := subscriptions.EmailFromMetadata(stripeSub.Metadata)
	if email == "" {
		return
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logg.Warn(ctx, "cancellation metadata email matches no local user")
			return
		}
		warnCtx := s.logg.WithField(ctx, "error", err.Error())
		s.logg.Warn(warnCtx, "find user for cancellation downgrade failed")
		return
	}
	s.applyEntitlement(ctx, user, enums.SubscriptionStatusCanceled, 0, stripeSub.ID, string(stripe.EventTypeCustomerSubscriptionDeleted))
}

// applyEntitlement reconciles plan/quota for the resolved user and queues the
// change notification when the plan moved. Failures are logged, never
// returned: a deterministically failing entitlement write must not hold the
// provider in a redelivery loop.
func (s *Service) applyEntitlement(ctx context.Context, user *models.User, status enums.SubscriptionStatus, amountCents int64, stripeSubscriptionID, source string) {
	outcome, err := s.entitlements.Reconcile(ctx, entitlements.ReconcileParams{
		UserID:      user.ID,
		CurrentPlan: user.Plan,
		Status:      status,
		AmountCents: amountCents,
	})
	if err != nil {
		s.logg.Error(ctx, "entitlement reconciliation failed after fallback", err)
		return
	}
	if outcome.Plan == user.Plan {
		return
	}
	s.emitEntitlementChanged(ctx, user, outcome, stripeSubscriptionID, source)
}

func (s *Service) emitEntitlementChanged(ctx context.Context, user *models.User, outcome entitlements.ApplyOutcome, stripeSubscriptionID, source string) {
	previous := user.Plan
	data := payloads.EntitlementChangedEvent{
		UserID:          user.ID,
		Plan:            outcome.Plan,
		PreviousPlan:    &previous,
		GenerationQuota: outcome.Quota,
		Source:          source,
	}
	if stripeSubscriptionID != "" {
		data.StripeSubscriptionID = &stripeSubscriptionID
	}
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventEntitlementChanged,
			AggregateType: enums.AggregateUser,
			AggregateID:   user.ID,
			Data:          data,
			OccurredAt:    time.Now().UTC(),
		})
	})
	if err != nil {
		s.logg.Error(ctx, "queue entitlement changed notification failed", err)
	}
}

// backfillStripeCustomerID links the Stripe customer to the user row the
// first time an event reveals the pairing. Best effort; an existing linkage
// is never overwritten.
func (s *Service) backfillStripeCustomerID(ctx context.Context, user *models.User, stripeCustomerID string) {
	if user == nil || stripeCustomerID == "" {
		return
	}
	if user.StripeCustomerID != nil && *user.StripeCustomerID != "" {
		return
	}
	if err := s.users.SetStripeCustomerID(ctx, user.ID, stripeCustomerID); err != nil {
		warnCtx := s.logg.WithField(ctx, "error", err.Error())
		s.logg.Warn(warnCtx, "stripe customer id backfill failed")
	}
}

// isStaleEvent reports whether the stored row already reflects a newer
// provider event. Equal timestamps re-apply: Stripe emits multiple events in
// the same second and redeliveries must stay idempotent.
func isStaleEvent(stored *models.Subscription, eventAt time.Time) bool {
	return stored != nil && stored.LastEventAt != nil && eventAt.Before(*stored.LastEventAt)
}

func subscriptionCustomerID(sub *stripe.Subscription) string {
	if sub == nil || sub.Customer == nil {
		return ""
	}
	return sub.Customer.ID
}
