package subscription

import "time"

type Plan string

const (
	PlanFree       Plan = "free"
	PlanStarter    Plan = "starter"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

func (p Plan) IsPaid() bool {
	return p == PlanStarter || p == PlanPro || p == PlanEnterprise
}

// Stripe subscription statuses mirrored on the user row, plus "none" for
// users who never subscribed.
const (
	StatusNone     = "none"
	StatusActive   = "active"
	StatusPastDue  = "past_due"
	StatusCanceled = "canceled"
)

type PlanSpec struct {
	ID             Plan   `json:"id"`
	Name           string `json:"name"`
	MonthlyCredits int    `json:"monthlyCredits"`
	PriceID        string `json:"-"`
}

type Topup struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Credits int    `json:"credits"`
	PriceID string `json:"-"`
}

// State is the subscription snapshot stored on the user row.
type State struct {
	Plan                 Plan       `json:"plan"`
	Status               string     `json:"status"`
	CurrentPeriodEnd     *time.Time `json:"currentPeriodEnd,omitempty"`
	StripeCustomerID     *string    `json:"-"`
	StripeSubscriptionID *string    `json:"-"`
}

// Update is a partial change to State; nil fields are left untouched.
type Update struct {
	Plan                 *Plan
	Status               *string
	CurrentPeriodEnd     *time.Time
	StripeCustomerID     *string
	StripeSubscriptionID *string
	ClearSubscriptionID  bool
}

type SubscribeRequest struct {
	PlanID Plan `json:"planId" validate:"required,oneof=starter pro enterprise"`
}

type TopupRequest struct {
	TopupID string `json:"topupId" validate:"required"`
}

type CheckoutResponse struct {
	CheckoutURL string `json:"checkoutUrl"`
}

type PortalResponse struct {
	PortalURL string `json:"portalUrl"`
}
