package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// WebhookEvent is the append-only record of every verified provider event.
// Rows are inserted before any handler runs and are never updated or deleted.
type WebhookEvent struct {
	ID            uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	StripeEventID string    `gorm:"column:stripe_event_id;not null;unique"`
	EventType     string    `gorm:"column:event_type;not null;index"`
	// EventCategory is the type prefix up to the last dot, e.g.
	// "customer.subscription" for customer.subscription.created.
	EventCategory     string          `gorm:"column:event_category;not null;default:''"`
	Livemode          bool            `gorm:"column:livemode;not null;default:false"`
	ProviderCreatedAt time.Time       `gorm:"column:provider_created_at;not null"`
	Payload           json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	ReceivedAt        time.Time       `gorm:"column:received_at;autoCreateTime"`
}
