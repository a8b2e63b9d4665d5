package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/leaflabhq/leaflab-backend/pkg/db/models"
	"github.com/leaflabhq/leaflab-backend/pkg/enums"
	"github.com/leaflabhq/leaflab-backend/pkg/pagination"
)

// Repository handles billing persistence: the subscription mirror, the
// append-only webhook event log, billing events and the plan catalog.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateSubscription(ctx context.Context, subscription *models.Subscription) error
	UpdateSubscription(ctx context.Context, subscription *models.Subscription) error
	UpsertSubscription(ctx context.Context, subscription *models.Subscription) error
	FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)
	ListSubscriptionsForReconciliation(ctx context.Context, limit int, lookback time.Duration) ([]models.Subscription, error)
	InsertWebhookEvent(ctx context.Context, event *models.WebhookEvent) (bool, error)
	FindWebhookEventByStripeID(ctx context.Context, stripeEventID string) (*models.WebhookEvent, error)
	FindWebhookEventByID(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error)
	ListWebhookEvents(ctx context.Context, params ListWebhookEventsQuery) ([]models.WebhookEvent, *pagination.Cursor, error)
	InsertBillingEvent(ctx context.Context, event *models.BillingEvent) error
	ListBillingEvents(ctx context.Context, params ListBillingEventsQuery) ([]models.BillingEvent, *pagination.Cursor, error)
	ListBillingPlans(ctx context.Context, params ListBillingPlansQuery) ([]models.BillingPlan, error)
	FindBillingPlanByPlan(ctx context.Context, plan enums.Plan) (*models.BillingPlan, error)
	FindDefaultBillingPlan(ctx context.Context) (*models.BillingPlan, error)
}

type repository struct {
	db *gorm.DB
}

// ListBillingPlansQuery configures billing plan list queries.
type ListBillingPlansQuery struct {
	Status    *enums.PlanStatus
	IsDefault *bool
}

// ListWebhookEventsQuery configures webhook event log queries.
type ListWebhookEventsQuery struct {
	EventType *string
	Limit     int
	Cursor    *pagination.Cursor
}

// ListBillingEventsQuery configures billing event audit queries.
type ListBillingEventsQuery struct {
	UserID *uuid.UUID
	Kind   *enums.BillingEventKind
	Limit  int
	Cursor *pagination.Cursor
}

// NewRepository returns a billing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Create(subscription).Error
}

func (r *repository) UpdateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Save(subscription).Error
}

// UpsertSubscription inserts the subscription or, when a row already exists
// for the same Stripe subscription, overwrites its mutable columns. Callers
// that must not clobber newer state check last_event_at before calling.
func (r *repository) UpsertSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "stripe_subscription_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"user_id",
				"stripe_customer_id",
				"status",
				"price_id",
				"price_amount_cents",
				"currency",
				"interval",
				"current_period_start",
				"current_period_end",
				"cancel_at_period_end",
				"canceled_at",
				"ended_at",
				"last_event_at",
				"metadata",
				"updated_at",
			}),
		}).
		Create(subscription).Error
}

func (r *repository) FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	if stripeSubscriptionID == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) ListSubscriptionsForReconciliation(ctx context.Context, limit int, lookback time.Duration) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 250
	}
	if lookback <= 0 {
		lookback = 7 * 24 * time.Hour
	}
	cutoff := time.Now().UTC().Add(-lookback)
	statuses := []enums.SubscriptionStatus{
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusTrialing,
		enums.SubscriptionStatusPastDue,
		enums.SubscriptionStatusIncomplete,
		enums.SubscriptionStatusIncompleteExpired,
		enums.SubscriptionStatusUnpaid,
	}
	var subs []models.Subscription
	query := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("stripe_subscription_id <> ''").
		Where("(status IN (?) OR cancel_at_period_end OR current_period_end >= ?)", statuses, cutoff).
		Order("updated_at DESC").
		Limit(limit)
	if err := query.Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// InsertWebhookEvent appends to the event log. Returns false without error
// when the provider event was already recorded, which is the signal for
// redelivery short-circuiting.
func (r *repository) InsertWebhookEvent(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "stripe_event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) FindWebhookEventByStripeID(ctx context.Context, stripeEventID string) (*models.WebhookEvent, error) {
	if stripeEventID == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var event models.WebhookEvent
	if err := r.db.WithContext(ctx).
		Where("stripe_event_id = ?", stripeEventID).
		First(&event).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (r *repository) FindWebhookEventByID(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error) {
	if id == uuid.Nil {
		return nil, gorm.ErrRecordNotFound
	}
	var event models.WebhookEvent
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&event).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (r *repository) ListWebhookEvents(ctx context.Context, params ListWebhookEventsQuery) ([]models.WebhookEvent, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.WebhookEvent{})
	if params.EventType != nil {
		query = query.Where("event_type = ?", *params.EventType)
	}
	if params.Cursor != nil {
		query = query.Where("(received_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var events []models.WebhookEvent
	if err := query.Order("received_at DESC, id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&events).Error; err != nil {
		return nil, nil, err
	}

	if len(events) > limit {
		next := events[limit]
		events = events[:limit]
		return events, &pagination.Cursor{
			CreatedAt: next.ReceivedAt,
			ID:        next.ID,
		}, nil
	}

	return events, nil, nil
}

func (r *repository) InsertBillingEvent(ctx context.Context, event *models.BillingEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) ListBillingEvents(ctx context.Context, params ListBillingEventsQuery) ([]models.BillingEvent, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.BillingEvent{})
	if params.UserID != nil {
		query = query.Where("user_id = ?", *params.UserID)
	}
	if params.Kind != nil {
		query = query.Where("kind = ?", *params.Kind)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var events []models.BillingEvent
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&events).Error; err != nil {
		return nil, nil, err
	}

	if len(events) > limit {
		next := events[limit]
		events = events[:limit]
		return events, &pagination.Cursor{
			CreatedAt: next.CreatedAt,
			ID:        next.ID,
		}, nil
	}

	return events, nil, nil
}

func (r *repository) ListBillingPlans(ctx context.Context, params ListBillingPlansQuery) ([]models.BillingPlan, error) {
	query := r.db.WithContext(ctx).Model(&models.BillingPlan{})
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.IsDefault != nil {
		query = query.Where("is_default = ?", *params.IsDefault)
	}

	var plans []models.BillingPlan
	if err := query.Order("price_amount ASC, name ASC").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (r *repository) FindBillingPlanByPlan(ctx context.Context, plan enums.Plan) (*models.BillingPlan, error) {
	var record models.BillingPlan
	if err := r.db.WithContext(ctx).
		Where("plan = ?", plan).
		First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) FindDefaultBillingPlan(ctx context.Context) (*models.BillingPlan, error) {
	var plan models.BillingPlan
	if err := r.db.WithContext(ctx).
		Where("is_default = true").
		Order("updated_at DESC").
		First(&plan).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}
