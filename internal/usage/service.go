package usage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/leaflabhq/leaflab-backend/internal/users"
	"github.com/leaflabhq/leaflab-backend/pkg/db/models"
	pkgerrors "github.com/leaflabhq/leaflab-backend/pkg/errors"
	"github.com/leaflabhq/leaflab-backend/pkg/logger"
)

// UserStore is the slice of the users repository the usage service reads and
// spends quota through.
type UserStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	ConsumeGeneration(ctx context.Context, id uuid.UUID) (bool, error)
}

// ServiceParams groups dependencies for the usage service.
type ServiceParams struct {
	Users  UserStore
	Logger *logger.Logger
}

// Service guards the generation allowance: reads the snapshot and spends
// units against the per-plan quota.
type Service struct {
	users UserStore
	logg  *logger.Logger
}

// NewService builds a usage service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Users == nil {
		return nil, errors.New("user store is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{users: params.Users, logg: params.Logger}, nil
}

// Snapshot returns the caller's current entitlement state.
func (s *Service) Snapshot(ctx context.Context, userID uuid.UUID) (*users.EntitlementDTO, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load user")
	}
	return users.EntitlementFromModel(user), nil
}

// Consume spends one generation. The decrement is a single conditional
// update, so concurrent requests race safely; when it does not land the
// follow-up read explains why.
func (s *Service) Consume(ctx context.Context, userID uuid.UUID) (*users.EntitlementDTO, error) {
	ok, err := s.users.ConsumeGeneration(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "consume generation")
	}
	if ok {
		return s.Snapshot(ctx, userID)
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load user")
	}
	if !user.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "account is inactive")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"user_id": userID,
		"plan":    user.Plan,
		"quota":   user.GenerationQuota,
		"used":    user.GenerationsUsed,
	})
	s.logg.Info(logCtx, "generation quota exhausted")
	return nil, pkgerrors.New(pkgerrors.CodeQuotaExceeded, "generation quota exhausted").
		WithDetails(map[string]any{
			"plan":             user.Plan,
			"generation_quota": user.GenerationQuota,
			"generations_used": user.GenerationsUsed,
		})
}
