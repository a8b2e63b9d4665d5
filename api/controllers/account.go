package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/leaflabhq/leaflab-backend/api/middleware"
	"github.com/leaflabhq/leaflab-backend/api/responses"
	"github.com/leaflabhq/leaflab-backend/internal/users"
	pkgerrors "github.com/leaflabhq/leaflab-backend/pkg/errors"
	"github.com/leaflabhq/leaflab-backend/pkg/logger"
)

// UsageService exposes the entitlement reads and the generation spend used by
// the account endpoints.
type UsageService interface {
	Snapshot(ctx context.Context, userID uuid.UUID) (*users.EntitlementDTO, error)
	Consume(ctx context.Context, userID uuid.UUID) (*users.EntitlementDTO, error)
}

// AccountEntitlements returns the caller's plan, quota and usage.
func AccountEntitlements(svc UsageService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "usage service unavailable"))
			return
		}

		userID, err := requestUserID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		snapshot, err := svc.Snapshot(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, snapshot)
	}
}

// AccountConsumeGeneration spends one generation against the caller's quota
// and returns the updated snapshot.
func AccountConsumeGeneration(svc UsageService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "usage service unavailable"))
			return
		}

		userID, err := requestUserID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		snapshot, err := svc.Consume(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, snapshot)
	}
}

func requestUserID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id")
	}
	return userID, nil
}
