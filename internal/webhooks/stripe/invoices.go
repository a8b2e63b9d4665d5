package stripewebhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/leaflabhq/leaflab-backend/pkg/db/models"
	"github.com/leaflabhq/leaflab-backend/pkg/enums"
	pkgerrors "github.com/leaflabhq/leaflab-backend/pkg/errors"
	"github.com/leaflabhq/leaflab-backend/pkg/outbox"
	"github.com/leaflabhq/leaflab-backend/pkg/outbox/payloads"
)

// handleInvoice appends the audit record for a settled or failed invoice.
// The local subscription enriches the record when present; its absence is
// tolerated. A failed payment additionally moves the subscription to
// past_due and queues the dunning notice. Entitlements are never touched
// from invoice events.
func (s *Service) handleInvoice(ctx context.Context, event *stripe.Event, kind enums.BillingEventKind, eventAt time.Time) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode invoice event")
	}
	if invoice.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "invoice id missing from event")
	}
	ctx = s.logg.WithField(ctx, "stripe_invoice_id", invoice.ID)

	subscriptionID := invoiceSubscriptionID(event)
	if subscriptionID != "" {
		ctx = s.logg.WithField(ctx, "stripe_subscription_id", subscriptionID)
	}

	amount := invoice.AmountPaid
	if kind == enums.BillingEventPaymentFailed {
		amount = invoice.AmountDue
	}

	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)

		var stored *models.Subscription
		if subscriptionID != "" {
			var err error
			stored, err = repo.FindSubscriptionByStripeID(ctx, subscriptionID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
			}
		}

		invoiceID := invoice.ID
		record := &models.BillingEvent{
			ID:              uuid.New(),
			StripeEventID:   event.ID,
			StripeInvoiceID: &invoiceID,
			Kind:            kind,
			AmountCents:     &amount,
			Metadata:        json.RawMessage(`{}`),
		}
		if subscriptionID != "" {
			record.StripeSubscriptionID = &subscriptionID
		}
		if currency, err := enums.ParseCurrency(string(invoice.Currency)); err == nil {
			record.Currency = &currency
		}
		if stored != nil {
			record.UserID = stored.UserID
			record.SubscriptionID = &stored.ID
			if record.Currency == nil {
				record.Currency = stored.Currency
			}
		}
		if err := repo.InsertBillingEvent(ctx, record); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append billing event")
		}

		if kind != enums.BillingEventPaymentFailed {
			return nil
		}

		// A canceled subscription never moves back to past_due; stale
		// events keep their audit row but do not touch the status.
		if stored != nil && !isStaleEvent(stored, eventAt) && stored.Status != enums.SubscriptionStatusCanceled {
			stored.Status = enums.SubscriptionStatusPastDue
			stored.LastEventAt = &eventAt
			if err := repo.UpdateSubscription(ctx, stored); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark subscription past due")
			}
		}

		data := payloads.PaymentFailedEvent{
			BillingEventID:       record.ID,
			UserID:               record.UserID,
			StripeInvoiceID:      invoice.ID,
			StripeSubscriptionID: record.StripeSubscriptionID,
			AmountCents:          amount,
			FailedAt:             eventAt,
		}
		if record.Currency != nil {
			data.Currency = *record.Currency
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregateBillingEvent,
			AggregateID:   record.ID,
			Data:          data,
			OccurredAt:    eventAt,
		})
	})
}

// invoiceSubscriptionID digs the subscription reference out of the raw object
// bag. Newer Stripe API versions nest it under parent.subscription_details.
func invoiceSubscriptionID(event *stripe.Event) string {
	if id := event.GetObjectValue("subscription"); id != "" {
		return id
	}
	return event.GetObjectValue("parent", "subscription_details", "subscription")
}
