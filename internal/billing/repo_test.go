package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/leaflabhq/leaflab-backend/pkg/db/models"
	"github.com/leaflabhq/leaflab-backend/pkg/enums"
)

func setupBillingTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	subscriptions := `
CREATE TABLE IF NOT EXISTS subscriptions (
  id TEXT PRIMARY KEY,
  user_id TEXT,
  stripe_subscription_id TEXT NOT NULL UNIQUE,
  stripe_customer_id TEXT,
  status TEXT NOT NULL DEFAULT 'incomplete',
  price_id TEXT,
  price_amount_cents INTEGER,
  currency TEXT,
  interval TEXT,
  current_period_start DATETIME,
  current_period_end DATETIME,
  cancel_at_period_end INTEGER NOT NULL DEFAULT 0,
  canceled_at DATETIME,
  ended_at DATETIME,
  last_event_at DATETIME,
  metadata TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`
	webhookEvents := `
CREATE TABLE IF NOT EXISTS webhook_events (
  id TEXT PRIMARY KEY,
  stripe_event_id TEXT NOT NULL UNIQUE,
  event_type TEXT NOT NULL,
  event_category TEXT NOT NULL DEFAULT '',
  livemode INTEGER NOT NULL DEFAULT 0,
  provider_created_at DATETIME NOT NULL,
  payload TEXT NOT NULL,
  received_at DATETIME
);`
	billingEvents := `
CREATE TABLE IF NOT EXISTS billing_events (
  id TEXT PRIMARY KEY,
  user_id TEXT,
  subscription_id TEXT,
  stripe_subscription_id TEXT,
  stripe_invoice_id TEXT,
  stripe_event_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  amount_cents INTEGER,
  currency TEXT,
  metadata TEXT,
  created_at DATETIME
);`
	billingPlans := `
CREATE TABLE IF NOT EXISTS billing_plans (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  status TEXT NOT NULL,
  plan TEXT NOT NULL UNIQUE,
  stripe_price_id TEXT UNIQUE,
  test INTEGER NOT NULL DEFAULT 0,
  is_default INTEGER NOT NULL DEFAULT 0,
  trial_days INTEGER NOT NULL DEFAULT 0,
  interval TEXT NOT NULL,
  price_amount NUMERIC NOT NULL,
  currency_code TEXT NOT NULL,
  generation_quota INTEGER NOT NULL,
  features TEXT,
  ui TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(subscriptions).Error)
	require.NoError(t, db.Exec(webhookEvents).Error)
	require.NoError(t, db.Exec(billingEvents).Error)
	require.NoError(t, db.Exec(billingPlans).Error)
	return db
}

func newSubscription(t *testing.T, stripeID string, status enums.SubscriptionStatus) *models.Subscription {
	t.Helper()

	userID := uuid.New()
	sub := &models.Subscription{
		ID:                   uuid.New(),
		UserID:               &userID,
		StripeSubscriptionID: stripeID,
		Status:               status,
		Metadata:             json.RawMessage(`{}`),
	}
	return sub
}

func newWebhookEvent(t *testing.T, db *gorm.DB, stripeEventID, eventType string, receivedAt time.Time) *models.WebhookEvent {
	t.Helper()

	event := &models.WebhookEvent{
		ID:                uuid.New(),
		StripeEventID:     stripeEventID,
		EventType:         eventType,
		ProviderCreatedAt: receivedAt.Add(-time.Second),
		Payload:           json.RawMessage(`{"id":"` + stripeEventID + `"}`),
		ReceivedAt:        receivedAt,
	}
	require.NoError(t, db.Create(event).Error)
	return event
}

func TestRepositoryUpsertSubscription(t *testing.T) {
	db := setupBillingTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	stripeID := "sub_" + uuid.NewString()
	original := newSubscription(t, stripeID, enums.SubscriptionStatusTrialing)
	require.NoError(t, repo.UpsertSubscription(ctx, original))

	found, err := repo.FindSubscriptionByStripeID(ctx, stripeID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, enums.SubscriptionStatusTrialing, found.Status)

	eventAt := time.Now().UTC().Truncate(time.Second)
	replacement := newSubscription(t, stripeID, enums.SubscriptionStatusActive)
	replacement.PriceAmountCents = ptr(int64(1500))
	replacement.LastEventAt = &eventAt
	require.NoError(t, repo.UpsertSubscription(ctx, replacement))

	var count int64
	require.NoError(t, db.Model(&models.Subscription{}).Where("stripe_subscription_id = ?", stripeID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	found, err = repo.FindSubscriptionByStripeID(ctx, stripeID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, original.ID, found.ID, "conflict update must keep the original row")
	assert.Equal(t, enums.SubscriptionStatusActive, found.Status)
	require.NotNil(t, found.PriceAmountCents)
	assert.Equal(t, int64(1500), *found.PriceAmountCents)
	require.NotNil(t, found.LastEventAt)
}

func TestRepositoryFindSubscriptionByStripeID_missing(t *testing.T) {
	db := setupBillingTestDB(t)
	repo := NewRepository(db)

	found, err := repo.FindSubscriptionByStripeID(context.Background(), "sub_"+uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestRepositoryInsertWebhookEvent_deduplicates(t *testing.T) {
	db := setupBillingTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	stripeEventID := "evt_" + uuid.NewString()
	first := &models.WebhookEvent{
		ID:                uuid.New(),
		StripeEventID:     stripeEventID,
		EventType:         "customer.subscription.updated",
		ProviderCreatedAt: time.Now().UTC(),
		Payload:           json.RawMessage(`{"id":"evt"}`),
	}
	inserted, err := repo.InsertWebhookEvent(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)

	duplicate := &models.WebhookEvent{
		ID:                uuid.New(),
		StripeEventID:     stripeEventID,
		EventType:         "customer.subscription.updated",
		ProviderCreatedAt: time.Now().UTC(),
		Payload:           json.RawMessage(`{"id":"evt"}`),
	}
	inserted, err = repo.InsertWebhookEvent(ctx, duplicate)
	require.NoError(t, err)
	assert.False(t, inserted, "redelivery must be a silent no-op")

	var count int64
	require.NoError(t, db.Model(&models.WebhookEvent{}).Where("stripe_event_id = ?", stripeEventID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	stored, err := repo.FindWebhookEventByStripeID(ctx, stripeEventID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, first.ID, stored.ID)
}

func TestRepositoryListWebhookEvents_pagination(t *testing.T) {
	db := setupBillingTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	marker := uuid.NewString()
	eventType := "checkout.session.completed." + marker
	now := time.Now().UTC().Truncate(time.Second)
	newWebhookEvent(t, db, "evt_a_"+marker, eventType, now.Add(-2*time.Hour))
	newWebhookEvent(t, db, "evt_b_"+marker, eventType, now.Add(-time.Hour))
	newWebhookEvent(t, db, "evt_c_"+marker, eventType, now)

	page, cursor, err := repo.ListWebhookEvents(ctx, ListWebhookEventsQuery{EventType: &eventType, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.NotNil(t, cursor)
	assert.Equal(t, "evt_c_"+marker, page[0].StripeEventID)
	assert.Equal(t, "evt_b_"+marker, page[1].StripeEventID)

	rest, next, err := repo.ListWebhookEvents(ctx, ListWebhookEventsQuery{EventType: &eventType, Limit: 2, Cursor: cursor})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Nil(t, next)
	assert.Equal(t, "evt_a_"+marker, rest[0].StripeEventID)
}

func TestRepositoryListBillingEvents_filters(t *testing.T) {
	db := setupBillingTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	userID := uuid.New()
	otherUser := uuid.New()
	now := time.Now().UTC().Truncate(time.Second)
	for i, fixture := range []struct {
		user uuid.UUID
		kind enums.BillingEventKind
	}{
		{user: userID, kind: enums.BillingEventPaymentSucceeded},
		{user: userID, kind: enums.BillingEventPaymentFailed},
		{user: otherUser, kind: enums.BillingEventPaymentSucceeded},
	} {
		user := fixture.user
		event := &models.BillingEvent{
			ID:            uuid.New(),
			UserID:        &user,
			StripeEventID: fmt.Sprintf("evt_%d_%s", i, uuid.NewString()),
			Kind:          fixture.kind,
			CreatedAt:     now.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, db.Create(event).Error)
	}

	events, _, err := repo.ListBillingEvents(ctx, ListBillingEventsQuery{UserID: &userID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 2)

	kind := enums.BillingEventPaymentFailed
	events, _, err = repo.ListBillingEvents(ctx, ListBillingEventsQuery{UserID: &userID, Kind: &kind, Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, enums.BillingEventPaymentFailed, events[0].Kind)
}

func TestRepositoryBillingPlans(t *testing.T) {
	db := setupBillingTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	plans := []*models.BillingPlan{
		{
			ID:              "plan_free",
			Name:            "Free",
			Status:          enums.PlanStatusActive,
			Plan:            enums.PlanFree,
			IsDefault:       true,
			Interval:        enums.BillingIntervalMonth,
			PriceAmount:     decimal.NewFromInt(0),
			CurrencyCode:    "usd",
			GenerationQuota: 1,
		},
		{
			ID:              "plan_basic",
			Name:            "Basic",
			Status:          enums.PlanStatusActive,
			Plan:            enums.PlanBasic,
			StripePriceID:   ptr("price_basic"),
			Interval:        enums.BillingIntervalMonth,
			PriceAmount:     decimal.NewFromInt(15),
			CurrencyCode:    "usd",
			GenerationQuota: 100,
		},
		{
			ID:              "plan_pro",
			Name:            "Pro",
			Status:          enums.PlanStatusHidden,
			Plan:            enums.PlanPro,
			StripePriceID:   ptr("price_pro"),
			Interval:        enums.BillingIntervalMonth,
			PriceAmount:     decimal.NewFromInt(35),
			CurrencyCode:    "usd",
			GenerationQuota: 500,
		},
	}
	for _, plan := range plans {
		require.NoError(t, db.Create(plan).Error)
	}

	status := enums.PlanStatusActive
	active, err := repo.ListBillingPlans(ctx, ListBillingPlansQuery{Status: &status})
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "plan_free", active[0].ID, "catalog is ordered by price")
	assert.Equal(t, "plan_basic", active[1].ID)

	defaultPlan, err := repo.FindDefaultBillingPlan(ctx)
	require.NoError(t, err)
	require.NotNil(t, defaultPlan)
	assert.Equal(t, enums.PlanFree, defaultPlan.Plan)

	pro, err := repo.FindBillingPlanByPlan(ctx, enums.PlanPro)
	require.NoError(t, err)
	require.NotNil(t, pro)
	assert.Equal(t, "plan_pro", pro.ID)
}

func ptr[T any](v T) *T {
	return &v
}
