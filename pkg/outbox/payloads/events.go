package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/leaflabhq/leaflab-backend/pkg/enums"
)

// EntitlementChangedEvent tells downstream systems a user's plan or quota changed.
type EntitlementChangedEvent struct {
	UserID               uuid.UUID   `json:"userId"`
	Plan                 enums.Plan  `json:"plan"`
	PreviousPlan         *enums.Plan `json:"previousPlan,omitempty"`
	GenerationQuota      int         `json:"generationQuota"`
	StripeSubscriptionID *string     `json:"stripeSubscriptionId,omitempty"`
	Source               string      `json:"source,omitempty"`
}

// SubscriptionCanceledEvent is emitted when the provider deletes a subscription.
type SubscriptionCanceledEvent struct {
	SubscriptionID       uuid.UUID  `json:"subscriptionId"`
	UserID               *uuid.UUID `json:"userId,omitempty"`
	StripeSubscriptionID string     `json:"stripeSubscriptionId"`
	CanceledAt           time.Time  `json:"canceledAt"`
	EndedAt              *time.Time `json:"endedAt,omitempty"`
}

// PaymentFailedEvent carries failed invoice details for dunning notices.
type PaymentFailedEvent struct {
	BillingEventID       uuid.UUID      `json:"billingEventId"`
	UserID               *uuid.UUID     `json:"userId,omitempty"`
	StripeInvoiceID      string         `json:"stripeInvoiceId"`
	StripeSubscriptionID *string        `json:"stripeSubscriptionId,omitempty"`
	AmountCents          int64          `json:"amountCents"`
	Currency             enums.Currency `json:"currency,omitempty"`
	FailedAt             time.Time      `json:"failedAt"`
}
