package subscriptions

import (
	"context"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/customer"
	"github.com/stripe/stripe-go/v84/subscription"

	pkgstripe "github.com/leaflabhq/leaflab-backend/pkg/stripe"
)

// StripeSubscriptionClient exposes the subset of Stripe operations the
// reconciliation paths need: re-fetching live subscription and customer state.
type StripeSubscriptionClient interface {
	Get(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	GetCustomer(ctx context.Context, id string, params *stripe.CustomerParams) (*stripe.Customer, error)
}

type stripeClientWrapper struct{}

// NewStripeClient wraps the provided Stripe client so services depending on it
// can be tested against a stub.
func NewStripeClient(api *pkgstripe.Client) StripeSubscriptionClient {
	if api == nil {
		return nil
	}
	return &stripeClientWrapper{}
}

func (w *stripeClientWrapper) Get(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	if params == nil {
		params = &stripe.SubscriptionParams{}
	}
	params.Context = ctx
	return subscription.Get(id, params)
}

func (w *stripeClientWrapper) GetCustomer(ctx context.Context, id string, params *stripe.CustomerParams) (*stripe.Customer, error) {
	if params == nil {
		params = &stripe.CustomerParams{}
	}
	params.Context = ctx
	return customer.Get(id, params)
}
