package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/leaflabhq/leaflab-backend/pkg/enums"
)

// User mirrors the platform identity this service needs for billing, plus the
// entitlement columns this service owns.
type User struct {
	ID               uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email            string     `gorm:"type:text;not null;uniqueIndex"`
	FullName         *string    `gorm:"column:full_name"`
	StripeCustomerID *string    `gorm:"column:stripe_customer_id;uniqueIndex"`
	Plan             enums.Plan `gorm:"column:plan;type:plan_type;not null;default:'free'"`
	GenerationQuota  int        `gorm:"column:generation_quota;not null;default:1"`
	GenerationsUsed  int        `gorm:"column:generations_used;not null;default:0"`
	IsActive         bool       `gorm:"column:is_active;not null;default:true"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
