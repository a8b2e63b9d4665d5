package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/leaflabhq/leaflab-backend/api/middleware"
	internalbilling "github.com/leaflabhq/leaflab-backend/internal/billing"
	"github.com/leaflabhq/leaflab-backend/pkg/db/models"
	"github.com/leaflabhq/leaflab-backend/pkg/enums"
	pkgerrors "github.com/leaflabhq/leaflab-backend/pkg/errors"
	"github.com/leaflabhq/leaflab-backend/pkg/logger"
	"github.com/leaflabhq/leaflab-backend/pkg/pagination"
)

type testBillingAuditService struct {
	listWebhookFn func(ctx context.Context, params internalbilling.ListWebhookEventsQuery) ([]models.WebhookEvent, *pagination.Cursor, error)
	getWebhookFn  func(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error)
	listBillingFn func(ctx context.Context, params internalbilling.ListBillingEventsQuery) ([]models.BillingEvent, *pagination.Cursor, error)
}

func (s *testBillingAuditService) ListWebhookEvents(ctx context.Context, params internalbilling.ListWebhookEventsQuery) ([]models.WebhookEvent, *pagination.Cursor, error) {
	if s.listWebhookFn != nil {
		return s.listWebhookFn(ctx, params)
	}
	return nil, nil, nil
}

func (s *testBillingAuditService) GetWebhookEvent(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	if s.getWebhookFn != nil {
		return s.getWebhookFn(ctx, id)
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "webhook event not found")
}

func (s *testBillingAuditService) ListBillingEvents(ctx context.Context, params internalbilling.ListBillingEventsQuery) ([]models.BillingEvent, *pagination.Cursor, error) {
	if s.listBillingFn != nil {
		return s.listBillingFn(ctx, params)
	}
	return nil, nil, nil
}

type testWebhookReplayer struct {
	handleFn func(ctx context.Context, event *stripe.Event) error
}

func (r *testWebhookReplayer) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if r.handleFn != nil {
		return r.handleFn(ctx, event)
	}
	return nil
}

func storedWebhookEvent() *models.WebhookEvent {
	return &models.WebhookEvent{
		ID:                uuid.New(),
		StripeEventID:     "evt_" + uuid.NewString(),
		EventType:         "invoice.payment_succeeded",
		EventCategory:     "invoice",
		ProviderCreatedAt: time.Now().UTC().Add(-time.Hour),
		Payload:           json.RawMessage(`{"id":"evt_replay","type":"invoice.payment_succeeded","object":"event","data":{"object":{}}}`),
		ReceivedAt:        time.Now().UTC(),
	}
}

func TestAdminWebhookEventsList(t *testing.T) {
	next := pagination.Cursor{CreatedAt: time.Now().UTC(), ID: uuid.New()}
	var captured internalbilling.ListWebhookEventsQuery
	svc := &testBillingAuditService{
		listWebhookFn: func(ctx context.Context, params internalbilling.ListWebhookEventsQuery) ([]models.WebhookEvent, *pagination.Cursor, error) {
			captured = params
			return []models.WebhookEvent{*storedWebhookEvent(), *storedWebhookEvent()}, &next, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/billing/webhook-events?limit=2&event_type=invoice.payment_succeeded", nil)
	resp := httptest.NewRecorder()
	handler := AdminWebhookEvents(svc, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	handler(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
	if captured.Limit != 2 {
		t.Fatalf("expected limit 2 got %d", captured.Limit)
	}
	if captured.EventType == nil || *captured.EventType != "invoice.payment_succeeded" {
		t.Fatalf("expected event_type filter, got %+v", captured.EventType)
	}

	var envelope struct {
		Data struct {
			Events     []map[string]any `json:"events"`
			NextCursor string           `json:"next_cursor"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(envelope.Data.Events) != 2 {
		t.Fatalf("expected 2 events got %d", len(envelope.Data.Events))
	}
	if _, hasPayload := envelope.Data.Events[0]["payload"]; hasPayload {
		t.Fatal("list rows must not expose raw payloads")
	}
	if envelope.Data.NextCursor == "" {
		t.Fatal("expected next cursor")
	}
	parsed, err := pagination.ParseCursor(envelope.Data.NextCursor)
	if err != nil || parsed == nil || parsed.ID != next.ID {
		t.Fatalf("cursor did not round-trip: %v %+v", err, parsed)
	}
}

func TestAdminWebhookEventsInvalidCursor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/billing/webhook-events?cursor=%25%25", nil)
	resp := httptest.NewRecorder()
	handler := AdminWebhookEvents(&testBillingAuditService{}, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	handler(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestAdminWebhookEventsInvalidLimit(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/billing/webhook-events?limit=9999", nil)
	resp := httptest.NewRecorder()
	handler := AdminWebhookEvents(&testBillingAuditService{}, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	handler(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestAdminWebhookEventReplaySuccess(t *testing.T) {
	stored := storedWebhookEvent()
	adminID := uuid.New()
	var replayed *stripe.Event
	svc := &testBillingAuditService{
		getWebhookFn: func(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
			if id != stored.ID {
				t.Fatalf("unexpected event id %s", id)
			}
			return stored, nil
		},
	}
	replayer := &testWebhookReplayer{
		handleFn: func(ctx context.Context, event *stripe.Event) error {
			replayed = event
			return nil
		},
	}

	body := strings.NewReader(`{"reason":"invoice handler bug fixed, re-running"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/billing/webhook-events/"+stored.ID.String()+"/replay", body)
	req = req.WithContext(middleware.WithUserID(req.Context(), adminID.String()))
	req = addRouteParam(req, "eventId", stored.ID.String())
	resp := httptest.NewRecorder()
	handler := AdminWebhookEventReplay(svc, replayer, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	handler(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
	if replayed == nil {
		t.Fatal("expected replayer invoked")
	}
	if replayed.ID != "evt_replay" {
		t.Fatalf("expected stored payload to be dispatched, got %q", replayed.ID)
	}

	var envelope struct {
		Data replayResponse `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !envelope.Data.Replayed {
		t.Fatal("expected replayed flag")
	}
	if envelope.Data.Event == nil || envelope.Data.Event.StripeEventID != stored.StripeEventID {
		t.Fatalf("unexpected event in response: %+v", envelope.Data.Event)
	}
}

func TestAdminWebhookEventReplayMissingReason(t *testing.T) {
	stored := storedWebhookEvent()
	svc := &testBillingAuditService{
		getWebhookFn: func(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
			return stored, nil
		},
	}
	called := false
	replayer := &testWebhookReplayer{
		handleFn: func(ctx context.Context, event *stripe.Event) error {
			called = true
			return nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/billing/webhook-events/"+stored.ID.String()+"/replay", strings.NewReader(`{}`))
	req = addRouteParam(req, "eventId", stored.ID.String())
	resp := httptest.NewRecorder()
	handler := AdminWebhookEventReplay(svc, replayer, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	handler(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if called {
		t.Fatal("replayer must not run without a reason")
	}
}

func TestAdminWebhookEventReplayNotFound(t *testing.T) {
	eventID := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/billing/webhook-events/"+eventID.String()+"/replay", strings.NewReader(`{"reason":"operator requested"}`))
	req = addRouteParam(req, "eventId", eventID.String())
	resp := httptest.NewRecorder()
	handler := AdminWebhookEventReplay(&testBillingAuditService{}, &testWebhookReplayer{}, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	handler(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestAdminWebhookEventReplayInvalidID(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/billing/webhook-events/nope/replay", strings.NewReader(`{"reason":"operator requested"}`))
	req = addRouteParam(req, "eventId", "nope")
	resp := httptest.NewRecorder()
	handler := AdminWebhookEventReplay(&testBillingAuditService{}, &testWebhookReplayer{}, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	handler(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestAdminBillingEventsFilters(t *testing.T) {
	userID := uuid.New()
	var captured internalbilling.ListBillingEventsQuery
	svc := &testBillingAuditService{
		listBillingFn: func(ctx context.Context, params internalbilling.ListBillingEventsQuery) ([]models.BillingEvent, *pagination.Cursor, error) {
			captured = params
			amount := int64(2900)
			return []models.BillingEvent{
				{
					ID:            uuid.New(),
					UserID:        &userID,
					StripeEventID: "evt_" + uuid.NewString(),
					Kind:          enums.BillingEventPaymentFailed,
					AmountCents:   &amount,
					CreatedAt:     time.Now().UTC(),
				},
			}, nil, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/billing/events?kind=payment_failed&user_id="+userID.String(), nil)
	resp := httptest.NewRecorder()
	handler := AdminBillingEvents(svc, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	handler(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
	if captured.Kind == nil || *captured.Kind != enums.BillingEventPaymentFailed {
		t.Fatalf("expected kind filter got %+v", captured.Kind)
	}
	if captured.UserID == nil || *captured.UserID != userID {
		t.Fatalf("expected user filter got %+v", captured.UserID)
	}
}

func TestAdminBillingEventsRejectsUnknownKind(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/billing/events?kind=refund_issued", nil)
	resp := httptest.NewRecorder()
	handler := AdminBillingEvents(&testBillingAuditService{}, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	handler(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func addRouteParam(req *http.Request, key, value string) *http.Request {
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}
