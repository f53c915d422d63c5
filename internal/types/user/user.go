package user

import (
	"time"

	"github.com/google/uuid"

	"snapfuseAPI/internal/types/subscription"
)

type User struct {
	ID                   uuid.UUID         `json:"id"`
	ClerkID              string            `json:"clerkId"`
	Email                string            `json:"email"`
	FirstName            string            `json:"firstName"`
	LastName             string            `json:"lastName"`
	ImageURL             string            `json:"imageUrl,omitempty"`
	Credits              int               `json:"credits"`
	SubscriptionPlan     subscription.Plan `json:"subscriptionPlan"`
	SubscriptionStatus   string            `json:"subscriptionStatus"`
	SubscriptionPeriod   *time.Time        `json:"subscriptionPeriodEnd,omitempty"`
	StripeCustomerID     *string           `json:"-"`
	StripeSubscriptionID *string           `json:"-"`
	CreatedAt            time.Time         `json:"createdAt"`
	UpdatedAt            time.Time         `json:"updatedAt"`
}

func (u *User) FullName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.LastName
	}
}

type CreateUserRequest struct {
	ClerkID   string
	Email     string
	FirstName string
	LastName  string
	ImageURL  string
}

type UpdateProfileRequest struct {
	Email     string
	FirstName string
	LastName  string
	ImageURL  string
}
