package accounts_test

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-accounts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.registerVerified(t, "maria@example.com", "12345678901")

	err := env.manager.ChangePassword(ctx, principalOf(account), accounts.ChangePasswordInput{
		CurrentPassword:      "Wrong@123",
		Password:             newPassword,
		PasswordConfirmation: newPassword,
	})
	assert.True(t, errors.Is(err, accounts.ErrInvalidCredentials))

	err = env.manager.ChangePassword(ctx, principalOf(account), accounts.ChangePasswordInput{
		CurrentPassword:      testPassword,
		Password:             newPassword,
		PasswordConfirmation: "Nova@Senha8",
	})
	assert.True(t, errors.Is(err, accounts.ErrPasswordsDoNotMatch))

	require.NoError(t, env.manager.ChangePassword(ctx, principalOf(account), accounts.ChangePasswordInput{
		CurrentPassword:      testPassword,
		Password:             newPassword,
		PasswordConfirmation: newPassword,
	}))

	_, err = env.manager.Login(ctx, "maria@example.com", newPassword)
	require.NoError(t, err)
	assert.Contains(t, env.sink.types(), accounts.ActivityEventPasswordChanged)
}

func TestChangePasswordWithoutLocalPassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	res, err := env.manager.LinkExternalIdentity(ctx, googleProfile("sub-1", "maria@example.com"))
	require.NoError(t, err)

	require.NoError(t, env.manager.ChangePassword(ctx, principalOf(res.Account), accounts.ChangePasswordInput{
		Password:             newPassword,
		PasswordConfirmation: newPassword,
	}))

	_, err = env.manager.Login(ctx, "maria@example.com", newPassword)
	require.NoError(t, err)
}

func TestUpdateProfile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.registerVerified(t, "maria@example.com", "12345678901")

	updated, err := env.manager.UpdateProfile(ctx, principalOf(account), accounts.ProfileUpdate{
		FirstName:   strPtr("Mariana"),
		Phone:       strPtr("(21) 99876-5432"),
		AcceptEmail: new(bool),
	})
	require.NoError(t, err)
	assert.Equal(t, "Mariana", updated.FirstName)
	assert.Equal(t, "Silva", updated.LastName)
	assert.Equal(t, "+5521998765432", updated.Phone)
	assert.False(t, updated.AcceptEmail)
	assert.True(t, updated.IsVerified())
	assert.Contains(t, env.sink.types(), accounts.ActivityEventProfileUpdated)
}

func TestUpdateProfileEmailChangeRequiresVerification(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.registerVerified(t, "maria@example.com", "12345678901")

	updated, err := env.manager.UpdateProfile(ctx, principalOf(account), accounts.ProfileUpdate{
		Email: strPtr("Maria.Silva@Example.com"),
	})
	require.NoError(t, err)
	assert.Equal(t, "maria.silva@example.com", updated.Email)
	assert.Equal(t, accounts.StateUnverified, updated.State())

	sent := env.notifier.lastVerification(t)
	assert.Equal(t, "maria.silva@example.com", sent.Email)

	_, err = env.manager.Login(ctx, "maria.silva@example.com", testPassword)
	assert.True(t, errors.Is(err, accounts.ErrEmailNotVerified))
}

func TestUpdateProfileRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.registerVerified(t, "maria@example.com", "12345678901")
	env.registerVerified(t, "joana@example.com", "10987654321")

	_, err := env.manager.UpdateProfile(ctx, principalOf(account), accounts.ProfileUpdate{
		Email: strPtr("joana@example.com"),
	})
	assert.True(t, errors.Is(err, accounts.ErrEmailAlreadyUsed))

	_, err = env.manager.UpdateProfile(ctx, principalOf(account), accounts.ProfileUpdate{
		FirstName: strPtr("M4ria"),
		BirthDate: strPtr("2030-01-01"),
	})
	require.Error(t, err)
	fields := accounts.ValidationFields(err)
	assert.Contains(t, fields, "first_name")
	assert.Contains(t, fields, "birth_date")

	// unchanged email is not a conflict with itself
	_, err = env.manager.UpdateProfile(ctx, principalOf(account), accounts.ProfileUpdate{
		Email: strPtr("maria@example.com"),
	})
	require.NoError(t, err)
}

func TestDeactivate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	maria := env.registerVerified(t, "maria@example.com", "12345678901")
	joana := env.registerVerified(t, "joana@example.com", "10987654321")

	_, err := env.manager.Deactivate(ctx, principalOf(maria), joana.ID)
	assert.True(t, errors.Is(err, accounts.ErrForbidden))

	admin := accounts.Principal{AccountID: maria.ID, Role: accounts.RoleAdministrator}
	deactivated, err := env.manager.Deactivate(ctx, admin, joana.ID)
	require.NoError(t, err)
	assert.Equal(t, accounts.StateDeactivated, deactivated.State())

	_, err = env.manager.Login(ctx, "joana@example.com", testPassword)
	assert.True(t, errors.Is(err, accounts.ErrInactiveAccount))

	_, err = env.manager.Deactivate(ctx, admin, joana.ID)
	assert.True(t, errors.Is(err, accounts.ErrInvalidTransition))

	_, err = env.manager.Deactivate(ctx, admin, uuid.New())
	assert.True(t, errors.Is(err, accounts.ErrAccountNotFound))

	// the freed email can be registered again
	_, err = env.manager.Register(ctx, validRegistration("joana@example.com", "11122233344"))
	require.NoError(t, err)
}

func TestDeactivateSelfRevokesAccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	maria := env.registerVerified(t, "maria@example.com", "12345678901")

	login, err := env.manager.Login(ctx, "maria@example.com", testPassword)
	require.NoError(t, err)

	_, err = env.manager.Deactivate(ctx, principalOf(maria), maria.ID)
	require.NoError(t, err)

	_, err = env.manager.Authenticate(ctx, login.Session.Token)
	assert.True(t, errors.Is(err, accounts.ErrInactiveAccount))
}
