package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/leaflabhq/leaflab-backend/pkg/enums"
)

// Subscription persists the local mirror of a Stripe subscription.
type Subscription struct {
	ID                   uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID               *uuid.UUID               `gorm:"column:user_id;type:uuid;index"`
	StripeSubscriptionID string                   `gorm:"column:stripe_subscription_id;not null;unique"`
	StripeCustomerID     *string                  `gorm:"column:stripe_customer_id;index"`
	Status               enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'incomplete'"`
	PriceID              *string                  `gorm:"column:price_id"`
	PriceAmountCents     *int64                   `gorm:"column:price_amount_cents"`
	Currency             *enums.Currency          `gorm:"column:currency;type:currency_enum"`
	Interval             *enums.BillingInterval   `gorm:"column:interval;type:billing_interval"`
	CurrentPeriodStart   *time.Time               `gorm:"column:current_period_start"`
	CurrentPeriodEnd     *time.Time               `gorm:"column:current_period_end"`
	CancelAtPeriodEnd    bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	CanceledAt           *time.Time               `gorm:"column:canceled_at"`
	EndedAt              *time.Time               `gorm:"column:ended_at"`
	// LastEventAt holds the provider timestamp of the last lifecycle event
	// applied to this row. Older events must not overwrite newer state.
	LastEventAt *time.Time      `gorm:"column:last_event_at"`
	Metadata    json.RawMessage `gorm:"column:metadata;type:jsonb"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
