package entitlements

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/leaflabhq/leaflab-backend/pkg/enums"
	pkgerrors "github.com/leaflabhq/leaflab-backend/pkg/errors"
	"github.com/leaflabhq/leaflab-backend/pkg/logger"
)

// UserStore is the slice of the users repository the reconciler writes
// through: the direct column update and the definer-rights fallback.
type UserStore interface {
	ApplyEntitlement(ctx context.Context, id uuid.UUID, plan enums.Plan, quota int, resetUsed bool) error
	ApplyEntitlementPrivileged(ctx context.Context, id uuid.UUID, plan enums.Plan, quota int, resetUsed bool) error
}

// ServiceParams groups dependencies for the entitlement service.
type ServiceParams struct {
	Users  UserStore
	Logger *logger.Logger
}

// Service reconciles a user's plan and quota columns with their subscription
// state.
type Service struct {
	users UserStore
	logg  *logger.Logger
}

// ReconcileParams carries the subscription snapshot driving the update.
// CurrentPlan is the plan on the user row before reconciliation; the consumed
// counter resets only when the inferred plan differs from it.
type ReconcileParams struct {
	UserID      uuid.UUID
	CurrentPlan enums.Plan
	Status      enums.SubscriptionStatus
	AmountCents int64
}

// ApplyOutcome reports what the reconciliation decided and which write path
// landed it.
type ApplyOutcome struct {
	Plan         enums.Plan
	Quota        int
	UsedFallback bool
}

// NewService builds an entitlement service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Users == nil {
		return nil, errors.New("user store is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{users: params.Users, logg: params.Logger}, nil
}

// Reconcile infers the target plan and writes it to the user row. When the
// direct update fails it retries through the privileged database function;
// both errors are combined when neither path lands.
func (s *Service) Reconcile(ctx context.Context, params ReconcileParams) (ApplyOutcome, error) {
	plan, quota := InferPlan(params.Status, params.AmountCents)
	resetUsed := plan != params.CurrentPlan
	outcome := ApplyOutcome{Plan: plan, Quota: quota}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"user_id":    params.UserID,
		"plan":       plan,
		"quota":      quota,
		"reset_used": resetUsed,
	})

	primaryErr := s.users.ApplyEntitlement(logCtx, params.UserID, plan, quota, resetUsed)
	if primaryErr == nil {
		s.logg.Info(logCtx, "entitlement reconciled")
		return outcome, nil
	}

	warnCtx := s.logg.WithField(logCtx, "error", primaryErr.Error())
	s.logg.Warn(warnCtx, "direct entitlement update failed; trying privileged fallback")

	if fallbackErr := s.users.ApplyEntitlementPrivileged(logCtx, params.UserID, plan, quota, resetUsed); fallbackErr != nil {
		combined := multierr.Combine(primaryErr, fallbackErr)
		return outcome, pkgerrors.Wrap(pkgerrors.CodeInternal, combined, "apply entitlement")
	}

	outcome.UsedFallback = true
	s.logg.Info(logCtx, "entitlement reconciled via privileged fallback")
	return outcome, nil
}
