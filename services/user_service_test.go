package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapfuseAPI/internal/apperror"
	"snapfuseAPI/internal/types/user"
)

func TestUpdateProfileByClerkID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "user_1")

	u, err := env.users.UpdateProfileByClerkID(ctx, "user_1", &user.UpdateProfileRequest{
		Email:     "new@example.com",
		FirstName: "Ada",
		LastName:  "Lovelace",
	})
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", u.Email)
	assert.Equal(t, "Ada Lovelace", u.FullName())
	assert.Equal(t, testSignupCredits, u.Credits, "profile sync leaves the balance alone")

	_, err = env.users.UpdateProfileByClerkID(ctx, "user_missing", &user.UpdateProfileRequest{Email: "x@y.test"})
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestDeleteUnknownUserIsNoop(t *testing.T) {
	env := newTestEnv(t)
	assert.NoError(t, env.users.DeleteUserByClerkID(context.Background(), "user_missing"))
}
