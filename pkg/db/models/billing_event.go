package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/leaflabhq/leaflab-backend/pkg/enums"
)

// BillingEvent records an immutable billing lifecycle event tied to a
// subscription, the audit trail behind invoice and plan activity.
type BillingEvent struct {
	ID                   uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID               *uuid.UUID             `gorm:"column:user_id;type:uuid;index"`
	SubscriptionID       *uuid.UUID             `gorm:"column:subscription_id;type:uuid;index"`
	StripeSubscriptionID *string                `gorm:"column:stripe_subscription_id"`
	StripeInvoiceID      *string                `gorm:"column:stripe_invoice_id"`
	StripeEventID        string                 `gorm:"column:stripe_event_id;not null"`
	Kind                 enums.BillingEventKind `gorm:"column:kind;type:billing_event_kind_enum;not null"`
	AmountCents          *int64                 `gorm:"column:amount_cents"`
	Currency             *enums.Currency        `gorm:"column:currency;type:currency_enum"`
	Metadata             json.RawMessage        `gorm:"column:metadata;type:jsonb"`
	CreatedAt            time.Time              `gorm:"column:created_at;autoCreateTime"`
}
