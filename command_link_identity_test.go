package accounts_test

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-accounts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func googleProfile(subject, email string) accounts.ExternalProfile {
	return accounts.ExternalProfile{
		Provider:      "google",
		Subject:       subject,
		Email:         email,
		EmailVerified: true,
		GivenName:     "Maria",
		FamilyName:    "Silva",
		AvatarURL:     "https://lh3.example.com/avatar.png",
	}
}

func TestLinkExternalIdentityCreatesVerifiedAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.manager.LinkExternalIdentity(ctx, googleProfile("sub-1", "Maria@Example.com"))
	require.NoError(t, err)

	assert.True(t, res.IsNew)
	assert.False(t, res.Linked)
	assert.Equal(t, "maria@example.com", res.Account.Email)
	assert.Equal(t, accounts.StateVerified, res.Account.State())
	assert.Equal(t, accounts.RoleStandard, res.Account.Role)
	assert.False(t, res.Account.HasPassword())
	assert.NotEmpty(t, res.Session.Token)
	assert.Contains(t, env.sink.types(), accounts.ActivityEventExternalLogin)

	again, err := env.manager.LinkExternalIdentity(ctx, googleProfile("sub-1", "maria@example.com"))
	require.NoError(t, err)
	assert.False(t, again.IsNew)
	assert.Equal(t, res.Account.ID, again.Account.ID)
}

func TestLinkExternalIdentityTrustedDomainIsAdmin(t *testing.T) {
	env := newTestEnv(t, accounts.WithTrustedDomain("empresa.com.br"))

	res, err := env.manager.LinkExternalIdentity(context.Background(), googleProfile("sub-1", "ana@empresa.com.br"))
	require.NoError(t, err)
	assert.Equal(t, accounts.RoleAdministrator, res.Account.Role)

	other, err := env.manager.LinkExternalIdentity(context.Background(), googleProfile("sub-2", "ana@gmail.com"))
	require.NoError(t, err)
	assert.Equal(t, accounts.RoleStandard, other.Account.Role)
}

func TestLinkExternalIdentitySubjectWinsOverEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	linked, err := env.manager.LinkExternalIdentity(ctx, googleProfile("sub-1", "maria@example.com"))
	require.NoError(t, err)
	holder := env.registerVerified(t, "maria.new@example.com", "12345678901")

	// the provider now reports an address held by someone else
	res, err := env.manager.LinkExternalIdentity(ctx, googleProfile("sub-1", "maria.new@example.com"))
	require.NoError(t, err)
	assert.Equal(t, linked.Account.ID, res.Account.ID)
	assert.Equal(t, "maria@example.com", res.Account.Email)

	untouched, err := env.manager.Me(ctx, principalOf(holder))
	require.NoError(t, err)
	assert.Nil(t, untouched.Provider)
}

func TestLinkExternalIdentityLinksByEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	local := env.register(t, "maria@example.com", "12345678901")
	require.False(t, local.IsVerified())

	res, err := env.manager.LinkExternalIdentity(ctx, googleProfile("sub-1", "maria@example.com"))
	require.NoError(t, err)
	assert.False(t, res.IsNew)
	assert.True(t, res.Linked)
	assert.Equal(t, local.ID, res.Account.ID)
	assert.True(t, res.Account.IsVerified())
	require.NotNil(t, res.Account.Provider)
	assert.Equal(t, "google", *res.Account.Provider)

	// the local password keeps working alongside the provider
	_, err = env.manager.Login(ctx, "maria@example.com", testPassword)
	require.NoError(t, err)
}

func TestLinkExternalIdentityReactivatesDeactivatedAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	account := env.register(t, "maria@example.com", "12345678901")
	_, err := env.manager.Deactivate(ctx, principalOf(account), account.ID)
	require.NoError(t, err)

	res, err := env.manager.LinkExternalIdentity(ctx, googleProfile("sub-1", "maria@example.com"))
	require.NoError(t, err)
	assert.True(t, res.Reactivated)
	assert.Equal(t, account.ID, res.Account.ID)
	assert.Equal(t, accounts.StateVerified, res.Account.State())
	require.NotNil(t, res.Account.DocumentNumber)
	assert.Equal(t, "12345678901", *res.Account.DocumentNumber)
}

func TestLinkExternalIdentityReactivationKeepsRole(t *testing.T) {
	t.Run("administrator stays administrator", func(t *testing.T) {
		env := newTestEnv(t)
		ctx := context.Background()
		caller := env.registerVerified(t, "root@example.com", "10987654321")
		admin := accounts.Principal{AccountID: caller.ID, Role: accounts.RoleAdministrator}

		reg, err := env.manager.RegisterAdministrator(ctx, admin, validRegistration("boss@example.com", "12345678901"))
		require.NoError(t, err)
		boss, err := env.manager.VerifyEmail(ctx, proofFromLink(t, env.notifier.lastVerification(t).Link))
		require.NoError(t, err)
		require.Equal(t, reg.Account.ID, boss.ID)

		_, err = env.manager.Deactivate(ctx, principalOf(boss), boss.ID)
		require.NoError(t, err)

		res, err := env.manager.LinkExternalIdentity(ctx, googleProfile("sub-boss", "boss@example.com"))
		require.NoError(t, err)
		assert.True(t, res.Reactivated)
		assert.Equal(t, boss.ID, res.Account.ID)
		assert.Equal(t, accounts.RoleAdministrator, res.Account.Role)
	})

	t.Run("trusted domain does not promote", func(t *testing.T) {
		env := newTestEnv(t, accounts.WithTrustedDomain("corp.example.com"))
		ctx := context.Background()
		account := env.register(t, "ana@corp.example.com", "12345678901")
		require.Equal(t, accounts.RoleStandard, account.Role)

		_, err := env.manager.Deactivate(ctx, principalOf(account), account.ID)
		require.NoError(t, err)

		res, err := env.manager.LinkExternalIdentity(ctx, googleProfile("sub-ana", "ana@corp.example.com"))
		require.NoError(t, err)
		assert.True(t, res.Reactivated)
		assert.Equal(t, accounts.RoleStandard, res.Account.Role)
	})
}

func TestLinkExternalIdentityReactivatesBySubject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.manager.LinkExternalIdentity(ctx, googleProfile("sub-1", "maria@example.com"))
	require.NoError(t, err)
	_, err = env.manager.Deactivate(ctx, principalOf(res.Account), res.Account.ID)
	require.NoError(t, err)

	again, err := env.manager.LinkExternalIdentity(ctx, googleProfile("sub-1", "maria@example.com"))
	require.NoError(t, err)
	assert.True(t, again.Reactivated)
	assert.True(t, again.Account.Active)
}

func TestLinkExternalIdentityRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.manager.LinkExternalIdentity(ctx, googleProfile("sub-1", "maria@example.com"))
	require.NoError(t, err)

	t.Run("unverified provider email", func(t *testing.T) {
		p := googleProfile("sub-9", "joana@example.com")
		p.EmailVerified = false
		_, err := env.manager.LinkExternalIdentity(ctx, p)
		assert.True(t, errors.Is(err, accounts.ErrExternalEmailUnverified))
	})

	t.Run("other subject of the same provider", func(t *testing.T) {
		_, err := env.manager.LinkExternalIdentity(ctx, googleProfile("sub-2", "maria@example.com"))
		assert.True(t, errors.Is(err, accounts.ErrSubjectAlreadyLinked))
	})

	t.Run("missing name", func(t *testing.T) {
		p := googleProfile("sub-3", "lia@example.com")
		p.GivenName, p.FamilyName = "", ""
		_, err := env.manager.LinkExternalIdentity(ctx, p)
		require.Error(t, err)
		assert.Contains(t, accounts.ValidationFields(err), "name")
	})

	t.Run("name split from full name", func(t *testing.T) {
		p := googleProfile("sub-4", "lia@example.com")
		p.GivenName, p.FamilyName = "", ""
		p.Name = "Lia Maria Souza"
		res, err := env.manager.LinkExternalIdentity(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, "Lia", res.Account.FirstName)
		assert.Equal(t, "Maria Souza", res.Account.LastName)
	})
}
