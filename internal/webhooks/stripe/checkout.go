package stripewebhook

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/leaflabhq/leaflab-backend/internal/subscriptions"
	"github.com/leaflabhq/leaflab-backend/pkg/db/models"
	pkgerrors "github.com/leaflabhq/leaflab-backend/pkg/errors"
)

// handleCheckoutCompleted bridges an ephemeral checkout session to durable
// subscription and entitlement state. Session-embedded subscription data may
// be stale, so the authoritative object is re-fetched before any plan
// decision. A failed entitlement write never blocks the acknowledgment once
// the subscription row is persisted.
func (s *Service) handleCheckoutCompleted(ctx context.Context, session *stripe.CheckoutSession, eventAt time.Time) error {
	if session == nil || session.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "checkout session id missing from event")
	}
	ctx = s.logg.WithField(ctx, "checkout_session_id", session.ID)

	subscriptionID := sessionSubscriptionID(session)
	if subscriptionID == "" {
		// One-time payments carry no subscription and grant no entitlement.
		s.logg.Info(ctx, "checkout session has no subscription; nothing to reconcile")
		return nil
	}
	ctx = s.logg.WithField(ctx, "stripe_subscription_id", subscriptionID)

	freshSub, err := s.stripe.Get(ctx, subscriptionID, &stripe.SubscriptionParams{})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe subscription")
	}

	user, err := s.resolveCheckoutUser(ctx, session, freshSub)
	if err != nil {
		return err
	}

	extras := make(map[string]string, len(session.Metadata)+1)
	for k, v := range session.Metadata {
		extras[k] = v
	}
	extras["checkout_session_id"] = session.ID

	var userID *uuid.UUID
	if user != nil {
		userID = &user.ID
	}
	built, err := subscriptions.BuildSubscriptionFromStripe(freshSub, userID, &eventAt, extras)
	if err != nil {
		return err
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		stored, err := repo.FindSubscriptionByStripeID(ctx, freshSub.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
		}
		if stored != nil && built.UserID == nil {
			// Keep an earlier linkage instead of wiping it with an
			// unresolved checkout.
			built.UserID = stored.UserID
		}
		if err := repo.UpsertSubscription(ctx, built); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert subscription")
		}
		return nil
	})
	if err != nil {
		return err
	}

	if user == nil {
		s.logg.Warn(ctx, "checkout completed without a resolvable user; entitlement skipped")
		return nil
	}
	ctx = s.logg.WithUserID(ctx, user.ID.String())

	s.backfillStripeCustomerID(ctx, user, checkoutCustomerID(session, freshSub))

	item := subscriptions.ItemFromSubscription(freshSub)
	s.applyEntitlement(ctx, user, built.Status, item.AmountCents, freshSub.ID, string(stripe.EventTypeCheckoutSessionCompleted))
	return nil
}

// resolveCheckoutUser is best effort: metadata user_id from the session or
// the re-fetched subscription, then the customer linkage, then the session
// email. Only store failures surface; an unmatched user returns nil.
func (s *Service) resolveCheckoutUser(ctx context.Context, session *stripe.CheckoutSession, freshSub *stripe.Subscription) (*models.User, error) {
	for _, metadata := range []map[string]string{session.Metadata, freshSub.Metadata} {
		userID, err := subscriptions.UserIDFromMetadata(metadata)
		if err != nil {
			warnCtx := s.logg.WithField(ctx, "error", err.Error())
			s.logg.Warn(warnCtx, "malformed user_id metadata on checkout")
			continue
		}
		if userID == nil {
			continue
		}
		user, err := s.users.FindByID(ctx, *userID)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find user by id")
		}
	}

	if customerID := sessionCustomerID(session); customerID != "" {
		user, err := s.users.FindByStripeCustomerID(ctx, customerID)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find user by stripe customer")
		}
	}

	if email := sessionCustomerEmail(session); email != "" {
		user, err := s.users.FindByEmail(ctx, email)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find user by email")
		}
	}
	return nil, nil
}

func sessionSubscriptionID(session *stripe.CheckoutSession) string {
	if session.Subscription == nil {
		return ""
	}
	return session.Subscription.ID
}

func sessionCustomerID(session *stripe.CheckoutSession) string {
	if session.Customer == nil {
		return ""
	}
	return session.Customer.ID
}

func sessionCustomerEmail(session *stripe.CheckoutSession) string {
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		return strings.TrimSpace(session.CustomerDetails.Email)
	}
	return strings.TrimSpace(session.CustomerEmail)
}

func checkoutCustomerID(session *stripe.CheckoutSession, sub *stripe.Subscription) string {
	if id := sessionCustomerID(session); id != "" {
		return id
	}
	return subscriptionCustomerID(sub)
}
