package entitlement

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"github.com/davidgeissler/newsprint/app/models"
	"github.com/davidgeissler/newsprint/internal/pkg/env"
)

// ProviderClient is the slice of the billing provider API the entitlement
// engine consumes. Lookup methods return (nil, nil) when the provider has no
// matching object; errors are reserved for transport/API failures.
type ProviderClient interface {
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	LatestSubscriptionForCustomer(ctx context.Context, customerID string) (*stripe.Subscription, error)
	FindCustomerByEmail(ctx context.Context, email string) (*stripe.Customer, error)
}

type stripeProvider struct {
	api *client.API
}

// NewProviderClientFromEnv builds a Stripe-backed provider client. It returns
// ErrProviderUnavailable when the secret key is not configured; callers
// decide whether that degrades (report) or fails (manual sync).
func NewProviderClientFromEnv() (ProviderClient, error) {
	key := strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", ""))
	if key == "" {
		return nil, ErrProviderUnavailable
	}
	return &stripeProvider{api: client.New(key, nil)}, nil
}

func (p *stripeProvider) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := p.api.Subscriptions.Get(id, params)
	if err != nil {
		if isProviderNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}

func (p *stripeProvider) LatestSubscriptionForCustomer(ctx context.Context, customerID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	it := p.api.Subscriptions.List(params)
	for it.Next() {
		return it.Subscription(), nil
	}
	if err := it.Err(); err != nil && !isProviderNotFound(err) {
		return nil, err
	}
	return nil, nil
}

func (p *stripeProvider) FindCustomerByEmail(ctx context.Context, email string) (*stripe.Customer, error) {
	params := &stripe.CustomerListParams{
		Email: stripe.String(email),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	it := p.api.Customers.List(params)
	for it.Next() {
		return it.Customer(), nil
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}

func isProviderNotFound(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.Code == stripe.ErrorCodeResourceMissing ||
			stripeErr.HTTPStatusCode == http.StatusNotFound
	}
	return false
}

// lookupProviderSubscription is the shared three-step fallback chain used by
// both the manual sync action and the reconciliation report, so the two call
// sites cannot drift: stored subscription id, then the customer's most
// recent subscription, then a customer located by the record's email. A miss
// on every step returns (nil, nil).
func lookupProviderSubscription(ctx context.Context, provider ProviderClient, rec *models.EntitlementRecord) (*stripe.Subscription, error) {
	if id := deref(rec.ProviderSubscriptionID); id != "" {
		sub, err := provider.GetSubscription(ctx, id)
		if err != nil {
			return nil, err
		}
		if sub != nil {
			return sub, nil
		}
	}

	if customerID := deref(rec.ProviderCustomerID); customerID != "" {
		sub, err := provider.LatestSubscriptionForCustomer(ctx, customerID)
		if err != nil {
			return nil, err
		}
		if sub != nil {
			return sub, nil
		}
	}

	if email := NormalizeEmail(deref(rec.UserEmail)); email != "" {
		cust, err := provider.FindCustomerByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
		if cust != nil {
			sub, err := provider.LatestSubscriptionForCustomer(ctx, cust.ID)
			if err != nil {
				return nil, err
			}
			if sub != nil {
				return sub, nil
			}
		}
	}

	return nil, nil
}
