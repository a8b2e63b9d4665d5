package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/leaflabhq/leaflab-backend/pkg/db/models"
	"github.com/leaflabhq/leaflab-backend/pkg/enums"
	pkgerrors "github.com/leaflabhq/leaflab-backend/pkg/errors"
	"github.com/leaflabhq/leaflab-backend/pkg/pagination"
)

// ServiceParams groups dependencies for the billing service.
type ServiceParams struct {
	Repo Repository
}

// Service orchestrates billing reads: the public plan catalog and the admin
// views over the webhook event log and billing events.
type Service struct {
	repo Repository
}

// NewService builds a billing service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	return &Service{repo: params.Repo}, nil
}

// ListActivePlans returns the sellable plan catalog ordered by price.
func (s *Service) ListActivePlans(ctx context.Context) ([]models.BillingPlan, error) {
	status := enums.PlanStatusActive
	return s.repo.ListBillingPlans(ctx, ListBillingPlansQuery{Status: &status})
}

// ListWebhookEvents pages through the append-only webhook event log.
func (s *Service) ListWebhookEvents(ctx context.Context, params ListWebhookEventsQuery) ([]models.WebhookEvent, *pagination.Cursor, error) {
	return s.repo.ListWebhookEvents(ctx, params)
}

// GetWebhookEvent loads a single stored event by its local identifier.
func (s *Service) GetWebhookEvent(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	event, err := s.repo.FindWebhookEventByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "webhook event not found")
	}
	return event, nil
}

// ListBillingEvents pages through the billing audit trail.
func (s *Service) ListBillingEvents(ctx context.Context, params ListBillingEventsQuery) ([]models.BillingEvent, *pagination.Cursor, error) {
	return s.repo.ListBillingEvents(ctx, params)
}
