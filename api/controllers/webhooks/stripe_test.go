package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stripe/stripe-go/v84"

	stripewebhook "github.com/leaflabhq/leaflab-backend/internal/webhooks/stripe"
	pkgerrors "github.com/leaflabhq/leaflab-backend/pkg/errors"
	pkgmetrics "github.com/leaflabhq/leaflab-backend/pkg/metrics"
)

func TestStripeWebhook_SuccessAndIdempotent(t *testing.T) {
	payload, header := buildSignedEvent(t)
	service := &fakeStripeWebhookService{}
	guard := newTestGuard(t)
	handler := StripeWebhook(service, &fakeSigningClient{secret: "whsec_test"}, guard, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", header)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if service.recordCalls != 1 || service.handleCalls != 1 {
		t.Fatalf("expected one record+handle, got %d/%d", service.recordCalls, service.handleCalls)
	}

	// Replay the same delivery
	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req2.Header.Set("Stripe-Signature", header)
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 on duplicate, got %d (%s)", rec2.Code, rec2.Body.String())
	}
	if service.recordCalls != 1 || service.handleCalls != 1 {
		t.Fatalf("duplicate must not re-dispatch, got %d/%d", service.recordCalls, service.handleCalls)
	}
}

func TestStripeWebhook_MissingSignatureHeader(t *testing.T) {
	payload, _ := buildSignedEvent(t)
	service := &fakeStripeWebhookService{}
	handler := StripeWebhook(service, &fakeSigningClient{secret: "whsec_test"}, newTestGuard(t), nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing signature, got %d", rec.Code)
	}
	if service.recordCalls != 0 {
		t.Fatalf("service should not be invoked without a signature")
	}
}

func TestStripeWebhook_InvalidSignature(t *testing.T) {
	payload, _ := buildSignedEvent(t)
	service := &fakeStripeWebhookService{}
	handler := StripeWebhook(service, &fakeSigningClient{secret: "whsec_test"}, newTestGuard(t), nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=invalid")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid signature, got %d", rec.Code)
	}
	if service.recordCalls != 0 {
		t.Fatalf("service should not be invoked on invalid signature")
	}
}

func TestStripeWebhook_HandlerFailureReleasesGuard(t *testing.T) {
	payload, header := buildSignedEvent(t)
	service := &fakeStripeWebhookService{
		handleErr: pkgerrors.New(pkgerrors.CodeDependency, "store unavailable"),
	}
	handler := StripeWebhook(service, &fakeSigningClient{secret: "whsec_test"}, newTestGuard(t), nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", header)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 on handler failure, got %d", rec.Code)
	}

	// Stripe redelivers; the guard must have been released.
	service.handleErr = nil
	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req2.Header.Set("Stripe-Signature", header)
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected redelivery to succeed, got %d (%s)", rec2.Code, rec2.Body.String())
	}
	if service.handleCalls != 2 {
		t.Fatalf("expected redelivery to re-dispatch, handle calls %d", service.handleCalls)
	}
}

func TestStripeWebhook_RecordFailureReleasesGuard(t *testing.T) {
	payload, header := buildSignedEvent(t)
	service := &fakeStripeWebhookService{
		recordErr: pkgerrors.New(pkgerrors.CodeDependency, "insert failed"),
	}
	handler := StripeWebhook(service, &fakeSigningClient{secret: "whsec_test"}, newTestGuard(t), nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", header)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 on record failure, got %d", rec.Code)
	}
	if service.handleCalls != 0 {
		t.Fatalf("handler must not run when the audit insert fails")
	}

	service.recordErr = nil
	req2 := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req2.Header.Set("Stripe-Signature", header)
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected redelivery to succeed, got %d (%s)", rec2.Code, rec2.Body.String())
	}
	if service.handleCalls != 1 {
		t.Fatalf("expected redelivery to dispatch, handle calls %d", service.handleCalls)
	}
}

func TestStripeWebhook_CountsProcessedOutcome(t *testing.T) {
	payload, header := buildSignedEvent(t)
	reg := prometheus.NewRegistry()
	metrics := pkgmetrics.NewWebhookMetrics(reg)
	handler := StripeWebhook(&fakeStripeWebhookService{}, &fakeSigningClient{secret: "whsec_test"}, newTestGuard(t), metrics, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", header)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	got := counterValue(mfs, "webhook_events_total", map[string]string{
		"event_type": string(stripe.EventTypeCustomerSubscriptionCreated),
		"outcome":    pkgmetrics.WebhookOutcomeProcessed,
	})
	if got != 1 {
		t.Fatalf("expected processed counter 1, got %f", got)
	}
}

func counterValue(mfs []*dto.MetricFamily, name string, labels map[string]string) float64 {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	metric:
		for _, metric := range mf.GetMetric() {
			for wantName, wantValue := range labels {
				found := false
				for _, label := range metric.GetLabel() {
					if label.GetName() == wantName && label.GetValue() == wantValue {
						found = true
						break
					}
				}
				if !found {
					continue metric
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func newTestGuard(t *testing.T) *stripewebhook.IdempotencyGuard {
	t.Helper()
	guard, err := stripewebhook.NewIdempotencyGuard(newInMemoryStore(), time.Minute, "stripe-webhook")
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}
	return guard
}

func buildSignedEvent(t *testing.T) ([]byte, string) {
	t.Helper()
	subscription := &stripe.Subscription{
		ID:       "sub_" + uuid.NewString(),
		Status:   stripe.SubscriptionStatusActive,
		Customer: &stripe.Customer{ID: "cus_" + uuid.NewString()},
		Metadata: map[string]string{"user_id": uuid.NewString()},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{
				{
					CurrentPeriodStart: 1,
					CurrentPeriodEnd:   2,
					Price:              &stripe.Price{ID: "price_1", UnitAmount: 1500},
				},
			},
		},
	}
	rawSub, err := json.Marshal(subscription)
	if err != nil {
		t.Fatalf("marshal subscription: %v", err)
	}
	event := &stripe.Event{
		ID:         "evt_" + uuid.NewString(),
		Type:       stripe.EventTypeCustomerSubscriptionCreated,
		Object:     "event",
		APIVersion: stripe.APIVersion,
		Data: &stripe.EventData{
			Raw: rawSub,
		},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	header := buildStripeSignatureHeader(payload, "whsec_test", time.Now().Unix())
	return payload, header
}

func buildStripeSignatureHeader(payload []byte, secret string, ts int64) string {
	signedPayload := fmt.Sprintf("%d.%s", ts, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

type fakeStripeWebhookService struct {
	recordCalls int
	handleCalls int
	recordErr   error
	handleErr   error
}

func (f *fakeStripeWebhookService) RecordEvent(ctx context.Context, event *stripe.Event, payload []byte) (bool, error) {
	f.recordCalls++
	if f.recordErr != nil {
		return false, f.recordErr
	}
	return f.recordCalls == 1, nil
}

func (f *fakeStripeWebhookService) HandleEvent(ctx context.Context, event *stripe.Event) error {
	f.handleCalls++
	return f.handleErr
}

type fakeSigningClient struct {
	secret string
}

func (c *fakeSigningClient) SigningSecret() string {
	return c.secret
}

type inMemoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{
		data: make(map[string]string),
	}
}

func (s *inMemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], nil
}

func (s *inMemoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (s *inMemoryStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("ll:idempotency:%s:%s", scope, id)
}

func (s *inMemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}
