package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/leaflabhq/leaflab-backend/api/middleware"
	"github.com/leaflabhq/leaflab-backend/api/responses"
	"github.com/leaflabhq/leaflab-backend/api/validators"
	internalbilling "github.com/leaflabhq/leaflab-backend/internal/billing"
	"github.com/leaflabhq/leaflab-backend/pkg/db/models"
	"github.com/leaflabhq/leaflab-backend/pkg/enums"
	pkgerrors "github.com/leaflabhq/leaflab-backend/pkg/errors"
	"github.com/leaflabhq/leaflab-backend/pkg/logger"
	"github.com/leaflabhq/leaflab-backend/pkg/pagination"
)

// BillingAuditService reads the webhook event log and the billing audit trail.
type BillingAuditService interface {
	ListWebhookEvents(ctx context.Context, params internalbilling.ListWebhookEventsQuery) ([]models.WebhookEvent, *pagination.Cursor, error)
	GetWebhookEvent(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error)
	ListBillingEvents(ctx context.Context, params internalbilling.ListBillingEventsQuery) ([]models.BillingEvent, *pagination.Cursor, error)
}

// WebhookReplayer re-runs a stored provider event through the dispatcher.
// Safe to call repeatedly: every handler is idempotent.
type WebhookReplayer interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

type webhookEventListResponse struct {
	Events     []internalbilling.WebhookEventDTO `json:"events"`
	NextCursor string                            `json:"next_cursor,omitempty"`
}

type billingEventListResponse struct {
	Events     []internalbilling.BillingEventDTO `json:"events"`
	NextCursor string                            `json:"next_cursor,omitempty"`
}

type replayRequest struct {
	Reason string `json:"reason" validate:"required,min=4,max=500"`
}

type replayResponse struct {
	Event    *internalbilling.WebhookEventDTO `json:"event"`
	Replayed bool                             `json:"replayed"`
}

// AdminWebhookEvents pages through the append-only webhook event log.
func AdminWebhookEvents(svc BillingAuditService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		cursor, err := parseCursorParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		params := internalbilling.ListWebhookEventsQuery{
			Limit:  limit,
			Cursor: cursor,
		}
		if eventType := validators.SanitizeString(r.URL.Query().Get("event_type"), 120); eventType != "" {
			params.EventType = &eventType
		}

		events, next, err := svc.ListWebhookEvents(ctx, params)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list webhook events"))
			return
		}

		out := webhookEventListResponse{Events: make([]internalbilling.WebhookEventDTO, 0, len(events))}
		for i := range events {
			out.Events = append(out.Events, *internalbilling.WebhookEventFromModel(&events[i]))
		}
		if next != nil {
			out.NextCursor = pagination.EncodeCursor(*next)
		}
		responses.WriteSuccess(w, out)
	}
}

// AdminWebhookEventReplay re-dispatches a stored event. The operator supplies
// a reason that lands in the request log next to the event id.
func AdminWebhookEventReplay(svc BillingAuditService, replayer WebhookReplayer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}
		if replayer == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		rawEventID := strings.TrimSpace(chi.URLParam(r, "eventId"))
		if rawEventID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "event id is required"))
			return
		}
		eventID, err := uuid.Parse(rawEventID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid event id"))
			return
		}

		var payload replayRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		stored, err := svc.GetWebhookEvent(ctx, eventID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var event stripe.Event
		if err := json.Unmarshal(stored.Payload, &event); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode stored payload"))
			return
		}

		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{
				"stripe_event_id": stored.StripeEventID,
				"replay_reason":   payload.Reason,
				"requested_by":    middleware.UserIDFromContext(ctx),
			})
			logg.Info(ctx, "webhook event replay requested")
		}

		if err := replayer.HandleEvent(ctx, &event); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, replayResponse{
			Event:    internalbilling.WebhookEventFromModel(stored),
			Replayed: true,
		})
	}
}

// AdminBillingEvents pages through the invoice/billing audit trail.
func AdminBillingEvents(svc BillingAuditService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		cursor, err := parseCursorParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		params := internalbilling.ListBillingEventsQuery{
			Limit:  limit,
			Cursor: cursor,
		}
		if rawKind := strings.TrimSpace(r.URL.Query().Get("kind")); rawKind != "" {
			kind, parseErr := enums.ParseBillingEventKind(rawKind)
			if parseErr != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid kind"))
				return
			}
			params.Kind = &kind
		}
		if rawUserID := strings.TrimSpace(r.URL.Query().Get("user_id")); rawUserID != "" {
			userID, parseErr := uuid.Parse(rawUserID)
			if parseErr != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid user id"))
				return
			}
			params.UserID = &userID
		}

		events, next, err := svc.ListBillingEvents(ctx, params)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list billing events"))
			return
		}

		out := billingEventListResponse{Events: make([]internalbilling.BillingEventDTO, 0, len(events))}
		for i := range events {
			out.Events = append(out.Events, *internalbilling.BillingEventFromModel(&events[i]))
		}
		if next != nil {
			out.NextCursor = pagination.EncodeCursor(*next)
		}
		responses.WriteSuccess(w, out)
	}
}

func parseCursorParam(r *http.Request) (*pagination.Cursor, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("cursor"))
	if raw == "" {
		return nil, nil
	}
	cursor, err := pagination.ParseCursor(raw)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	return cursor, nil
}
