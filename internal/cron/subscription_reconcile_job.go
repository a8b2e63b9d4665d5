package cron

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/leaflabhq/leaflab-backend/internal/billing"
	"github.com/leaflabhq/leaflab-backend/internal/entitlements"
	"github.com/leaflabhq/leaflab-backend/internal/subscriptions"
	"github.com/leaflabhq/leaflab-backend/pkg/db/models"
	"github.com/leaflabhq/leaflab-backend/pkg/enums"
	"github.com/leaflabhq/leaflab-backend/pkg/logger"
)

const (
	defaultReconcileLimit    = 250
	defaultReconcileLookback = 7 * 24 * time.Hour
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type userFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type entitlementReconciler interface {
	Reconcile(ctx context.Context, params entitlements.ReconcileParams) (entitlements.ApplyOutcome, error)
}

// SubscriptionReconcileJobParams configures the subscription drift-repair job.
type SubscriptionReconcileJobParams struct {
	Logger       *logger.Logger
	DB           txRunner
	BillingRepo  billing.Repository
	Users        userFinder
	Entitlements entitlementReconciler
	StripeClient subscriptions.StripeSubscriptionClient
	Limit        int
	Lookback     time.Duration
	Now          func() time.Time
}

// NewSubscriptionReconcileJob builds the job that re-fetches live provider
// state for recently active subscriptions and repairs local drift from lost
// or out-of-order webhook deliveries.
func NewSubscriptionReconcileJob(params SubscriptionReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.BillingRepo == nil {
		return nil, fmt.Errorf("billing repository required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("users repository required")
	}
	if params.Entitlements == nil {
		return nil, fmt.Errorf("entitlement service required")
	}
	if params.StripeClient == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	lookback := params.Lookback
	if lookback <= 0 {
		lookback = defaultReconcileLookback
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	return &subscriptionReconcileJob{
		logg:         params.Logger,
		db:           params.DB,
		billingRepo:  params.BillingRepo,
		users:        params.Users,
		entitlements: params.Entitlements,
		stripe:       params.StripeClient,
		now:          now,
		limit:        limit,
		lookback:     lookback,
	}, nil
}

type subscriptionReconcileJob struct {
	logg         *logger.Logger
	db           txRunner
	billingRepo  billing.Repository
	users        userFinder
	entitlements entitlementReconciler
	stripe       subscriptions.StripeSubscriptionClient
	now          func() time.Time
	limit        int
	lookback     time.Duration
}

func (j *subscriptionReconcileJob) Name() string { return "subscription-reconcile" }

func (j *subscriptionReconcileJob) Run(ctx context.Context) error {
	snapshot, err := j.billingRepo.ListSubscriptionsForReconciliation(ctx, j.limit, j.lookback)
	if err != nil {
		return fmt.Errorf("list subscriptions for reconciliation: %w", err)
	}
	var errs error
	scanned := len(snapshot)
	synced := 0
	for i := range snapshot {
		if err := j.reconcileSubscription(ctx, &snapshot[i]); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		synced++
	}
	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": scanned,
		"synced":     synced,
	})
	j.logg.Info(reportCtx, "subscription reconcile loop complete")
	return errs
}

func (j *subscriptionReconcileJob) reconcileSubscription(ctx context.Context, sub *models.Subscription) error {
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"subscription_id":        sub.ID,
		"stripe_subscription_id": sub.StripeSubscriptionID,
	})
	if strings.TrimSpace(sub.StripeSubscriptionID) == "" {
		j.logg.Info(logCtx, "subscription missing stripe id; skipping")
		return nil
	}

	live, err := j.stripe.Get(logCtx, sub.StripeSubscriptionID, nil)
	if err != nil {
		if isResourceMissing(err) {
			return j.markGoneFromProvider(logCtx, sub)
		}
		return fmt.Errorf("fetch stripe subscription %s: %w", sub.StripeSubscriptionID, err)
	}
	if live == nil {
		j.logg.Info(logCtx, "stripe subscription not found; skipping")
		return nil
	}

	// The live fetch supersedes any event created before it, so its
	// observation time becomes the row's last_event_at watermark.
	observedAt := j.now().UTC()
	var updated *models.Subscription
	if err := j.db.WithTx(logCtx, func(tx *gorm.DB) error {
		repo := j.billingRepo.WithTx(tx)
		stored, err := repo.FindSubscriptionByStripeID(logCtx, live.ID)
		if err != nil {
			return err
		}
		if stored == nil {
			j.logg.Info(logCtx, "subscription removed from db; skipping")
			return nil
		}
		if err := subscriptions.ApplySubscriptionUpdate(stored, live, &observedAt); err != nil {
			return err
		}
		if err := repo.UpdateSubscription(logCtx, stored); err != nil {
			return err
		}
		updated = stored
		return nil
	}); err != nil {
		return fmt.Errorf("persist subscription reconciliation: %w", err)
	}
	if updated == nil {
		return nil
	}

	item := subscriptions.ItemFromSubscription(live)
	j.repairEntitlement(logCtx, updated, item.AmountCents)
	return nil
}

// markGoneFromProvider handles a subscription the provider no longer knows:
// the deleted event never arrived. The row is marked canceled and the owner's
// entitlement is downgraded through the shared reconcile path.
func (j *subscriptionReconcileJob) markGoneFromProvider(ctx context.Context, sub *models.Subscription) error {
	observedAt := j.now().UTC()
	var updated *models.Subscription
	if err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := j.billingRepo.WithTx(tx)
		stored, err := repo.FindSubscriptionByStripeID(ctx, sub.StripeSubscriptionID)
		if err != nil {
			return err
		}
		if stored == nil {
			return nil
		}
		stored.Status = enums.SubscriptionStatusCanceled
		stored.CanceledAt = &observedAt
		stored.LastEventAt = &observedAt
		if err := repo.UpdateSubscription(ctx, stored); err != nil {
			return err
		}
		updated = stored
		return nil
	}); err != nil {
		return fmt.Errorf("mark subscription gone: %w", err)
	}
	if updated == nil {
		return nil
	}
	j.logg.Warn(ctx, "subscription gone from provider; marked canceled")
	j.repairEntitlement(ctx, updated, 0)
	return nil
}

// repairEntitlement re-runs the shared plan/quota reconciliation for the
// subscription owner. Failures are logged, never returned: the subscription
// row is already in sync and the next sweep retries the entitlement.
func (j *subscriptionReconcileJob) repairEntitlement(ctx context.Context, sub *models.Subscription, amountCents int64) {
	if sub.UserID == nil {
		j.logg.Warn(ctx, "subscription has no user linkage; entitlement not repaired")
		return
	}
	user, err := j.users.FindByID(ctx, *sub.UserID)
	if err != nil {
		warnCtx := j.logg.WithField(ctx, "error", err.Error())
		j.logg.Warn(warnCtx, "load subscription owner failed; entitlement not repaired")
		return
	}
	outcome, err := j.entitlements.Reconcile(ctx, entitlements.ReconcileParams{
		UserID:      user.ID,
		CurrentPlan: user.Plan,
		Status:      sub.Status,
		AmountCents: amountCents,
	})
	if err != nil {
		j.logg.Error(ctx, "entitlement repair failed", err)
		return
	}
	if outcome.Plan == user.Plan {
		return
	}
	changeCtx := j.logg.WithFields(ctx, map[string]any{
		"user_id":       user.ID,
		"previous_plan": user.Plan,
		"plan":          outcome.Plan,
		"used_fallback": outcome.UsedFallback,
	})
	j.logg.Info(changeCtx, "entitlement drift repaired")
}

func isResourceMissing(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.Code == stripe.ErrorCodeResourceMissing
	}
	return false
}
