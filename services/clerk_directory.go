package services

import (
	"context"

	clerkuser "github.com/clerk/clerk-sdk-go/v2/user"
)

// UserDirectory looks up profile data held by the auth provider.
type UserDirectory interface {
	PrimaryEmail(ctx context.Context, clerkID string) (string, error)
}

// ClerkDirectory reads users from the Clerk Backend API. clerk.SetKey must
// have been called.
type ClerkDirectory struct{}

func (ClerkDirectory) PrimaryEmail(ctx context.Context, clerkID string) (string, error) {
	u, err := clerkuser.Get(ctx, clerkID)
	if err != nil {
		return "", err
	}
	for _, e := range u.EmailAddresses {
		if u.PrimaryEmailAddressID != nil && e.ID == *u.PrimaryEmailAddressID {
			return e.EmailAddress, nil
		}
	}
	if len(u.EmailAddresses) > 0 {
		return u.EmailAddresses[0].EmailAddress, nil
	}
	return "", nil
}
