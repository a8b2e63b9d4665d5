package billing

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/leaflabhq/leaflab-backend/pkg/db/models"
	"github.com/leaflabhq/leaflab-backend/pkg/enums"
)

// PlanDTO is the catalog shape served to clients choosing a plan.
type PlanDTO struct {
	ID              string                `json:"id"`
	Name            string                `json:"name"`
	Plan            enums.Plan            `json:"plan"`
	StripePriceID   *string               `json:"stripe_price_id,omitempty"`
	Interval        enums.BillingInterval `json:"interval"`
	PriceAmount     decimal.Decimal       `json:"price_amount"`
	CurrencyCode    string                `json:"currency_code"`
	GenerationQuota int                   `json:"generation_quota"`
	TrialDays       int                   `json:"trial_days"`
	IsDefault       bool                  `json:"is_default"`
	Features        []string              `json:"features"`
	UI              json.RawMessage       `json:"ui,omitempty"`
}

// WebhookEventDTO is the admin-facing event log row. Payloads stay out of
// list responses; replay works off the stored row directly.
type WebhookEventDTO struct {
	ID                uuid.UUID `json:"id"`
	StripeEventID     string    `json:"stripe_event_id"`
	EventType         string    `json:"event_type"`
	EventCategory     string    `json:"event_category"`
	Livemode          bool      `json:"livemode"`
	ProviderCreatedAt time.Time `json:"provider_created_at"`
	ReceivedAt        time.Time `json:"received_at"`
}

// BillingEventDTO is the admin-facing audit trail row.
type BillingEventDTO struct {
	ID                   uuid.UUID              `json:"id"`
	UserID               *uuid.UUID             `json:"user_id,omitempty"`
	SubscriptionID       *uuid.UUID             `json:"subscription_id,omitempty"`
	StripeSubscriptionID *string                `json:"stripe_subscription_id,omitempty"`
	StripeInvoiceID      *string                `json:"stripe_invoice_id,omitempty"`
	StripeEventID        string                 `json:"stripe_event_id"`
	Kind                 enums.BillingEventKind `json:"kind"`
	AmountCents          *int64                 `json:"amount_cents,omitempty"`
	Currency             *enums.Currency        `json:"currency,omitempty"`
	CreatedAt            time.Time              `json:"created_at"`
}

func PlanFromModel(plan *models.BillingPlan) *PlanDTO {
	if plan == nil {
		return nil
	}
	features := append([]string(nil), []string(plan.Features)...)
	if features == nil {
		features = []string{}
	}
	return &PlanDTO{
		ID:              plan.ID,
		Name:            plan.Name,
		Plan:            plan.Plan,
		StripePriceID:   plan.StripePriceID,
		Interval:        plan.Interval,
		PriceAmount:     plan.PriceAmount,
		CurrencyCode:    plan.CurrencyCode,
		GenerationQuota: plan.GenerationQuota,
		TrialDays:       plan.TrialDays,
		IsDefault:       plan.IsDefault,
		Features:        features,
		UI:              plan.UI,
	}
}

func WebhookEventFromModel(event *models.WebhookEvent) *WebhookEventDTO {
	if event == nil {
		return nil
	}
	return &WebhookEventDTO{
		ID:                event.ID,
		StripeEventID:     event.StripeEventID,
		EventType:         event.EventType,
		EventCategory:     event.EventCategory,
		Livemode:          event.Livemode,
		ProviderCreatedAt: event.ProviderCreatedAt,
		ReceivedAt:        event.ReceivedAt,
	}
}

func BillingEventFromModel(event *models.BillingEvent) *BillingEventDTO {
	if event == nil {
		return nil
	}
	return &BillingEventDTO{
		ID:                   event.ID,
		UserID:               event.UserID,
		SubscriptionID:       event.SubscriptionID,
		StripeSubscriptionID: event.StripeSubscriptionID,
		StripeInvoiceID:      event.StripeInvoiceID,
		StripeEventID:        event.StripeEventID,
		Kind:                 event.Kind,
		AmountCents:          event.AmountCents,
		Currency:             event.Currency,
		CreatedAt:            event.CreatedAt,
	}
}
