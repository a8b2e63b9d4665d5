package enums

import "fmt"

// BillingEventKind maps to the billing_event_kind_enum enum in Postgres.
type BillingEventKind string

const (
	BillingEventPaymentSucceeded     BillingEventKind = "payment_succeeded"
	BillingEventPaymentFailed        BillingEventKind = "payment_failed"
	BillingEventPlanChanged          BillingEventKind = "plan_changed"
	BillingEventSubscriptionCanceled BillingEventKind = "subscription_canceled"
)

var validBillingEventKinds = []BillingEventKind{
	BillingEventPaymentSucceeded,
	BillingEventPaymentFailed,
	BillingEventPlanChanged,
	BillingEventSubscriptionCanceled,
}

// IsValid reports whether the value matches the canonical billing event enum.
func (k BillingEventKind) IsValid() bool {
	for _, candidate := range validBillingEventKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseBillingEventKind converts raw input into BillingEventKind.
func ParseBillingEventKind(value string) (BillingEventKind, error) {
	for _, candidate := range validBillingEventKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing event kind %q", value)
}
