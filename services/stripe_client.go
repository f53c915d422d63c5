package services

import (
	"github.com/stripe/stripe-go/v76"
	billingsession "github.com/stripe/stripe-go/v76/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v76/checkout/session"
	customerpkg "github.com/stripe/stripe-go/v76/customer"
	subscriptionpkg "github.com/stripe/stripe-go/v76/subscription"
)

// StripeAPI is the subset of the Stripe API the billing service calls.
type StripeAPI interface {
	CreateCustomer(params *stripe.CustomerParams) (*stripe.Customer, error)
	CreateCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	CreatePortalSession(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error)
	GetSubscription(id string) (*stripe.Subscription, error)
}

// StripeClient calls the live Stripe API through the SDK's package clients.
type StripeClient struct{}

func NewStripeClient(secretKey string) *StripeClient {
	stripe.Key = secretKey
	return &StripeClient{}
}

func (StripeClient) CreateCustomer(params *stripe.CustomerParams) (*stripe.Customer, error) {
	return customerpkg.New(params)
}

func (StripeClient) CreateCheckoutSession(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return checkoutsession.New(params)
}

func (StripeClient) CreatePortalSession(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error) {
	return billingsession.New(params)
}

func (StripeClient) GetSubscription(id string) (*stripe.Subscription, error) {
	return subscriptionpkg.Get(id, nil)
}
