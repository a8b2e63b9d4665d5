package subscriptions

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/leaflabhq/leaflab-backend/pkg/db/models"
	"github.com/leaflabhq/leaflab-backend/pkg/enums"
	pkgerrors "github.com/leaflabhq/leaflab-backend/pkg/errors"
)

// PlanItem is the price information carried on a subscription's first line
// item: the plan amount, currency and billing cadence the entitlement logic
// keys off.
type PlanItem struct {
	PriceID     string
	AmountCents int64
	Currency    string
	Interval    string
}

// BuildSubscriptionFromStripe maps a Stripe subscription into the canonical
// local model. The caller resolves userID before building; eventAt carries the
// provider timestamp of the event that produced this snapshot.
func BuildSubscriptionFromStripe(stripeSub *stripe.Subscription, userID *uuid.UUID, eventAt *time.Time, extras map[string]string) (*models.Subscription, error) {
	if stripeSub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe subscription is nil")
	}

	metadata, err := mergeMetadata(stripeSub.Metadata, extras)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal metadata")
	}

	item := ItemFromSubscription(stripeSub)
	startTS, endTS := periodFromSubscription(stripeSub)

	sub := &models.Subscription{
		UserID:               userID,
		StripeSubscriptionID: stripeSub.ID,
		StripeCustomerID:     customerIDPtr(stripeSub),
		Status:               MapStripeStatus(stripeSub.Status),
		PriceID:              trimmedPtr(item.PriceID),
		CurrentPeriodStart:   toTimePtr(startTS),
		CurrentPeriodEnd:     toTimePtr(endTS),
		CancelAtPeriodEnd:    stripeSub.CancelAtPeriodEnd,
		CanceledAt:           toTimePtr(stripeSub.CanceledAt),
		EndedAt:              toTimePtr(stripeSub.EndedAt),
		LastEventAt:          eventAt,
		Metadata:             metadata,
	}
	if item.AmountCents > 0 {
		amount := item.AmountCents
		sub.PriceAmountCents = &amount
	}
	if currency, err := enums.ParseCurrency(item.Currency); err == nil {
		sub.Currency = &currency
	}
	if interval, err := enums.ParseBillingInterval(item.Interval); err == nil {
		sub.Interval = &interval
	}
	return sub, nil
}

// ApplySubscriptionUpdate merges an updated provider snapshot onto the stored
// row: status, price item, period bounds, cancel flags and lifecycle
// timestamps. Identity fields (row id, owning user, customer linkage) are kept
// unless the snapshot supplies replacements.
func ApplySubscriptionUpdate(stored *models.Subscription, stripeSub *stripe.Subscription, eventAt *time.Time) error {
	if stored == nil || stripeSub == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "subscription update requires a stored row and a stripe snapshot")
	}

	stored.Status = MapStripeStatus(stripeSub.Status)
	stored.CancelAtPeriodEnd = stripeSub.CancelAtPeriodEnd
	stored.CanceledAt = toTimePtr(stripeSub.CanceledAt)
	stored.EndedAt = toTimePtr(stripeSub.EndedAt)
	if eventAt != nil {
		stored.LastEventAt = eventAt
	}

	if startTS, endTS := periodFromSubscription(stripeSub); startTS != 0 || endTS != 0 {
		stored.CurrentPeriodStart = toTimePtr(startTS)
		stored.CurrentPeriodEnd = toTimePtr(endTS)
	}

	item := ItemFromSubscription(stripeSub)
	if item.PriceID != "" {
		stored.PriceID = trimmedPtr(item.PriceID)
	}
	if item.AmountCents > 0 {
		amount := item.AmountCents
		stored.PriceAmountCents = &amount
	}
	if currency, err := enums.ParseCurrency(item.Currency); err == nil {
		stored.Currency = &currency
	}
	if interval, err := enums.ParseBillingInterval(item.Interval); err == nil {
		stored.Interval = &interval
	}

	if id := customerIDPtr(stripeSub); id != nil {
		stored.StripeCustomerID = id
	}
	if userID, err := UserIDFromMetadata(stripeSub.Metadata); err == nil && userID != nil {
		stored.UserID = userID
	}

	merged, err := MergeStoredMetadata(stored.Metadata, stripeSub.Metadata)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "merge metadata")
	}
	stored.Metadata = merged
	return nil
}

// ItemFromSubscription extracts amount/currency/interval from the first
// subscription line item. Single-item subscriptions are the product's only
// sale shape; additional items are ignored.
func ItemFromSubscription(sub *stripe.Subscription) PlanItem {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return PlanItem{}
	}
	item := sub.Items.Data[0]
	if item == nil || item.Price == nil {
		return PlanItem{}
	}
	out := PlanItem{
		PriceID:     item.Price.ID,
		AmountCents: item.Price.UnitAmount,
		Currency:    string(item.Price.Currency),
	}
	if item.Price.Recurring != nil {
		out.Interval = string(item.Price.Recurring.Interval)
	}
	return out
}

// MapStripeStatus converts the provider status into the local enum,
// defaulting to incomplete for anything unrecognized.
func MapStripeStatus(status stripe.SubscriptionStatus) enums.SubscriptionStatus {
	normalized := strings.ToLower(strings.TrimSpace(string(status)))
	if parsed, err := enums.ParseSubscriptionStatus(normalized); err == nil {
		return parsed
	}
	return enums.SubscriptionStatusIncomplete
}

// IsEntitledStatus reports whether the status grants paid entitlement.
func IsEntitledStatus(status enums.SubscriptionStatus) bool {
	return status == enums.SubscriptionStatusActive || status == enums.SubscriptionStatusTrialing
}

// UserIDFromMetadata extracts the local user reference attached to provider
// metadata at checkout time. A missing key is not an error; callers fall back
// to an email lookup.
func UserIDFromMetadata(metadata map[string]string) (*uuid.UUID, error) {
	if metadata == nil {
		return nil, nil
	}
	raw, ok := metadata["user_id"]
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user_id metadata")
	}
	return &id, nil
}

// EmailFromMetadata returns the email tag attached to provider metadata, if any.
func EmailFromMetadata(metadata map[string]string) string {
	if metadata == nil {
		return ""
	}
	return strings.TrimSpace(metadata["email"])
}

func mergeMetadata(base map[string]string, extras map[string]string) (json.RawMessage, error) {
	if len(base) == 0 && len(extras) == 0 {
		return json.RawMessage("{}"), nil
	}
	merged := make(map[string]string, len(base)+len(extras))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extras {
		if v == "" {
			continue
		}
		merged[k] = v
	}
	data, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// MergeStoredMetadata folds extras into a previously stored metadata document.
func MergeStoredMetadata(stored json.RawMessage, extras map[string]string) (json.RawMessage, error) {
	base := map[string]string{}
	if len(stored) > 0 {
		if err := json.Unmarshal(stored, &base); err != nil {
			// Stored metadata predating the string-map shape is replaced, not
			// corrupted further.
			base = map[string]string{}
		}
	}
	return mergeMetadata(base, extras)
}

func periodFromSubscription(sub *stripe.Subscription) (int64, int64) {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return 0, 0
	}
	item := sub.Items.Data[0]
	if item == nil {
		return 0, 0
	}
	return item.CurrentPeriodStart, item.CurrentPeriodEnd
}

func customerIDPtr(sub *stripe.Subscription) *string {
	if sub == nil || sub.Customer == nil {
		return nil
	}
	return trimmedPtr(sub.Customer.ID)
}

func toTimePtr(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}

func trimmedPtr(value string) *string {
	if s := strings.TrimSpace(value); s != "" {
		return &s
	}
	return nil
}
